package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"promise-service.io/promise/internal/domain"
	"promise-service.io/promise/internal/meeting"
	apperrors "promise-service.io/promise/internal/pkg/errors"
)

type inviteRequest struct {
	UserIDs []int64 `json:"user_ids" binding:"required,min=1"`
}

type respondRequest struct {
	Response string `json:"response" binding:"required"`
}

type transitionRequest struct {
	Status string `json:"status" binding:"required"`
	Reason string `json:"reason"`
}

// CreateMeeting handles POST /meetings. The caller becomes the host.
func (s *Server) CreateMeeting(c *gin.Context) {
	host, err := actor(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	var in meeting.CreateInput
	if err := bindJSON(c, &in); err != nil {
		_ = c.Error(err)
		return
	}
	in.HostID = host

	res, err := s.meetings.Create(c.Request.Context(), in)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"meeting": res.Value, "notification": res.Notification})
}

// GetMeeting handles GET /meetings/:id.
func (s *Server) GetMeeting(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}
	d, err := s.meetings.Get(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// ListMeetings handles GET /meetings?status=. Status defaults to WAITING.
func (s *Server) ListMeetings(c *gin.Context) {
	status := domain.StatusWaiting
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		st, err := domain.ParseStatus(raw)
		if err != nil {
			_ = c.Error(apperrors.Validation(err.Error()))
			return
		}
		status = st
	}

	items, err := s.meetings.ListByStatus(c.Request.Context(), status)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if items == nil {
		items = []domain.Meeting{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": len(items)})
}

// InviteParticipants handles POST /meetings/:id/participants.
func (s *Server) InviteParticipants(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}
	host, err := actor(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	var req inviteRequest
	if err := bindJSON(c, &req); err != nil {
		_ = c.Error(err)
		return
	}

	res, err := s.meetings.Invite(c.Request.Context(), id, host, req.UserIDs)
	if err != nil {
		_ = c.Error(err)
		return
	}
	invited := res.Value
	if invited == nil {
		invited = []int64{}
	}
	c.JSON(http.StatusOK, gin.H{"invited": invited, "notification": res.Notification})
}

// RespondToInvitation handles PUT /meetings/:id/response.
func (s *Server) RespondToInvitation(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}
	user, err := actor(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	var req respondRequest
	if err := bindJSON(c, &req); err != nil {
		_ = c.Error(err)
		return
	}
	state, err := domain.ParseResponseState(req.Response)
	if err != nil {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeInvalidResponseState, err.Error()))
		return
	}

	res, err := s.meetings.Respond(c.Request.Context(), id, user, state)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"participant": res.Value, "notification": res.Notification})
}

// TransitionMeeting handles PATCH /meetings/:id/status.
func (s *Server) TransitionMeeting(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}
	host, err := actor(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	var req transitionRequest
	if err := bindJSON(c, &req); err != nil {
		_ = c.Error(err)
		return
	}
	status, err := domain.ParseStatus(req.Status)
	if err != nil {
		_ = c.Error(apperrors.Validation(err.Error()))
		return
	}

	res, err := s.meetings.Transition(c.Request.Context(), id, status, host, strings.TrimSpace(req.Reason))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetMeetingHistory handles GET /meetings/:id/history, newest first.
func (s *Server) GetMeetingHistory(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}
	items, err := s.meetings.History(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if items == nil {
		items = []domain.HistoryRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// GetMeetingStatistics handles GET /meetings/statistics.
func (s *Server) GetMeetingStatistics(c *gin.Context) {
	counts, err := s.meetings.Statistics(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, counts)
}
