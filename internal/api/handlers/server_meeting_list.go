package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"promise-service.io/promise/internal/domain"
	apperrors "promise-service.io/promise/internal/pkg/errors"
)

func summariesOrEmpty(items []domain.MeetingSummary) []domain.MeetingSummary {
	if items == nil {
		return []domain.MeetingSummary{}
	}
	return items
}

func renderSummaries(c *gin.Context, items []domain.MeetingSummary) {
	items = summariesOrEmpty(items)
	c.JSON(http.StatusOK, gin.H{"items": items, "total": len(items)})
}

// ListMyHostedMeetings handles GET /users/me/meetings/hosted.
func (s *Server) ListMyHostedMeetings(c *gin.Context) {
	user, err := actor(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	limit, err := queryLimit(c, domain.DefaultSearchLimit, domain.MaxSearchLimit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	items, err := s.meetings.ListByHost(c.Request.Context(), user, limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	renderSummaries(c, items)
}

// ListMyJoinedMeetings handles GET /users/me/meetings/joined.
func (s *Server) ListMyJoinedMeetings(c *gin.Context) {
	user, err := actor(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	limit, err := queryLimit(c, domain.DefaultSearchLimit, domain.MaxSearchLimit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	items, err := s.meetings.ListByParticipant(c.Request.Context(), user, limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	renderSummaries(c, items)
}

func searchFilter(c *gin.Context) (domain.MeetingFilter, error) {
	f := domain.MeetingFilter{
		Keyword:  c.Query("keyword"),
		Location: c.Query("location"),
	}
	var err error
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		if f.Status, err = domain.ParseStatus(raw); err != nil {
			return f, apperrors.Validation(err.Error())
		}
	}
	if f.Order, err = domain.ParseMeetingOrder(c.Query("order")); err != nil {
		return f, apperrors.Validation(err.Error())
	}
	if f.HostID, err = queryUserID(c, "host_id"); err != nil {
		return f, err
	}
	if f.ParticipantID, err = queryUserID(c, "participant_id"); err != nil {
		return f, err
	}
	if f.From, err = queryTime(c, "from", time.Time{}); err != nil {
		return f, err
	}
	if f.To, err = queryTime(c, "to", time.Time{}); err != nil {
		return f, err
	}
	if f.Limit, err = queryLimit(c, domain.DefaultSearchLimit, domain.MaxSearchLimit); err != nil {
		return f, err
	}
	return f, nil
}

// SearchMeetings handles GET /meetings/search.
func (s *Server) SearchMeetings(c *gin.Context) {
	f, err := searchFilter(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	items, err := s.meetings.Search(c.Request.Context(), f)
	if err != nil {
		_ = c.Error(err)
		return
	}
	renderSummaries(c, items)
}

// orderedMeetings serves the fixed-order listings.
func (s *Server) orderedMeetings(order domain.MeetingOrder) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := queryLimit(c, domain.DefaultSearchLimit, domain.MaxSearchLimit)
		if err != nil {
			_ = c.Error(err)
			return
		}
		items, err := s.meetings.Search(c.Request.Context(), domain.MeetingFilter{Order: order, Limit: limit})
		if err != nil {
			_ = c.Error(err)
			return
		}
		renderSummaries(c, items)
	}
}

// ListPopularMeetings handles GET /meetings/popular.
func (s *Server) ListPopularMeetings(c *gin.Context) { s.orderedMeetings(domain.OrderPopular)(c) }

// ListRecentMeetings handles GET /meetings/recent.
func (s *Server) ListRecentMeetings(c *gin.Context) { s.orderedMeetings(domain.OrderRecent)(c) }
