package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"promise-service.io/promise/internal/api/middleware"
	"promise-service.io/promise/internal/deliverylog"
	"promise-service.io/promise/internal/domain"
	"promise-service.io/promise/internal/meeting"
	"promise-service.io/promise/internal/notification"
	apperrors "promise-service.io/promise/internal/pkg/errors"
	"promise-service.io/promise/internal/pkg/logger"
)

type redispatchRequest struct {
	TraceID      string  `json:"trace_id" binding:"required"`
	Intent       string  `json:"intent" binding:"required"`
	SenderID     int64   `json:"sender_id"`
	RecipientIDs []int64 `json:"recipient_ids"`
	Reason       string  `json:"reason"`
	Response     string  `json:"response"`
}

func attemptsOrEmpty(items []deliverylog.Attempt) []deliverylog.Attempt {
	if items == nil {
		return []deliverylog.Attempt{}
	}
	return items
}

// hostOrOperator loads the meeting and admits its host or a caller holding
// delivery:read.
func (s *Server) hostOrOperator(c *gin.Context, meetingID int64) (meeting.Details, error) {
	d, err := s.meetings.Get(c.Request.Context(), meetingID)
	if err != nil {
		return meeting.Details{}, err
	}
	if err := requireSelfOrPermission(c, d.HostID, middleware.PermissionDeliveryRead); err != nil {
		return meeting.Details{}, err
	}
	return d, nil
}

// redispatchParties resolves the sender and recipients of a redispatch. Only
// operators may speak for someone other than the host, and every party must
// belong to the meeting so nobody borrows another user's relationships.
func redispatchParties(c *gin.Context, d meeting.Details, req redispatchRequest) (int64, []int64, error) {
	members := make(map[int64]bool, len(d.Participants))
	for _, p := range d.Participants {
		members[p.UserID] = true
	}

	sender := d.HostID
	if req.SenderID != 0 && req.SenderID != d.HostID {
		if !middleware.HasPermission(c, middleware.PermissionDeliveryRead) {
			return 0, nil, apperrors.Forbidden("FORBIDDEN", "only operators may redispatch on behalf of another sender").
				WithParams(map[string]any{"required": middleware.PermissionDeliveryRead})
		}
		if !members[req.SenderID] {
			return 0, nil, apperrors.Validation("sender_id is not a participant of the meeting").
				WithParams(map[string]any{"sender_id": req.SenderID})
		}
		sender = req.SenderID
	}

	var outside []int64
	for _, id := range req.RecipientIDs {
		if !members[id] {
			outside = append(outside, id)
		}
	}
	if len(outside) > 0 {
		return 0, nil, apperrors.Validation("recipient_ids must be participants of the meeting").
			WithParams(map[string]any{"recipient_ids": outside})
	}
	return sender, req.RecipientIDs, nil
}

// ListMeetingDeliveries handles GET /meetings/:id/deliveries.
func (s *Server) ListMeetingDeliveries(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}
	if _, err := s.hostOrOperator(c, id); err != nil {
		_ = c.Error(err)
		return
	}

	ctx := c.Request.Context()
	items, err := s.deliveries.FindByMeeting(ctx, id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	rate, err := s.deliveries.MeetingSuccessRate(ctx, id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": attemptsOrEmpty(items), "success_rate": rate})
}

// RedispatchMeeting handles POST /meetings/:id/deliveries/redispatch. The
// dispatch is replayed in the background under the given trace id, so
// recipients that already have an attempt are skipped.
func (s *Server) RedispatchMeeting(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}
	var req redispatchRequest
	if err := bindJSON(c, &req); err != nil {
		_ = c.Error(err)
		return
	}
	intent, err := domain.ParseIntent(strings.ToUpper(strings.TrimSpace(req.Intent)))
	if err != nil {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeUnknownIntent, err.Error()))
		return
	}
	var response domain.ResponseState
	if r := strings.TrimSpace(req.Response); r != "" {
		if response, err = domain.ParseResponseState(strings.ToUpper(r)); err != nil {
			_ = c.Error(apperrors.Validation(err.Error()))
			return
		}
	}
	d, err := s.hostOrOperator(c, id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	sender, recipients, err := redispatchParties(c, d, req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if s.enqueuer == nil {
		_ = c.Error(apperrors.Wrap(apperrors.ErrUnavailable, "REDISPATCH_UNAVAILABLE",
			"background redispatch is not configured", http.StatusServiceUnavailable))
		return
	}

	rr := notification.RedispatchRequest{
		MeetingID:    id,
		SenderID:     sender,
		Intent:       intent,
		TraceID:      strings.TrimSpace(req.TraceID),
		RecipientIDs: recipients,
		Reason:       req.Reason,
		Response:     response,
	}
	if err := s.enqueuer.EnqueueRedispatch(c.Request.Context(), rr); err != nil {
		_ = c.Error(err)
		return
	}
	logger.FromContext(c.Request.Context()).Info("redispatch queued",
		zap.Int64("meeting_id", id),
		zap.String("trace_id", rr.TraceID),
		zap.String("intent", string(intent)),
	)
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "trace_id": rr.TraceID})
}

// ListUserDeliveries handles GET /deliveries/users/:userId.
func (s *Server) ListUserDeliveries(c *gin.Context) {
	userID, err := pathID(c, "userId")
	if err != nil {
		_ = c.Error(err)
		return
	}
	if err := requireSelfOrPermission(c, userID, middleware.PermissionDeliveryRead); err != nil {
		_ = c.Error(err)
		return
	}
	items, err := s.deliveries.FindByUser(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": attemptsOrEmpty(items)})
}

// ListTraceDeliveries handles GET /deliveries/traces/:traceId.
func (s *Server) ListTraceDeliveries(c *gin.Context) {
	items, err := s.deliveries.FindByTrace(c.Request.Context(), c.Param("traceId"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": attemptsOrEmpty(items)})
}

func queryChannel(c *gin.Context) (domain.Channel, error) {
	raw := strings.TrimSpace(c.Query("channel"))
	if raw == "" {
		return "", nil
	}
	ch, err := domain.ParseChannel(strings.ToUpper(raw))
	if err != nil {
		return "", apperrors.Validation(err.Error())
	}
	return ch, nil
}

// GetSuccessRate handles GET /deliveries/success-rate. The window defaults
// to the last seven days.
func (s *Server) GetSuccessRate(c *gin.Context) {
	ch, err := queryChannel(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	to, err := queryTime(c, "to", s.now())
	if err != nil {
		_ = c.Error(err)
		return
	}
	from, err := queryTime(c, "from", to.Add(-defaultRateWindow))
	if err != nil {
		_ = c.Error(err)
		return
	}
	if !from.Before(to) {
		_ = c.Error(apperrors.Validation("from must be before to"))
		return
	}

	rate, err := s.deliveries.SuccessRate(c.Request.Context(), ch, deliverylog.Window{From: from, To: to})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"channel":      ch,
		"from":         from.UTC(),
		"to":           to.UTC(),
		"success_rate": rate,
	})
}

// ListRecentFailures handles GET /deliveries/failures.
func (s *Server) ListRecentFailures(c *gin.Context) {
	ch, err := queryChannel(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	limit, err := queryLimit(c, defaultFailureLimit, maxFailureLimit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	items, err := s.deliveries.RecentFailures(c.Request.Context(), ch, limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": attemptsOrEmpty(items)})
}
