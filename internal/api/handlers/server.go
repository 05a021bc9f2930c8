// Package handlers implements the promise HTTP API on gin. Handlers attach
// failures with c.Error and leave rendering to middleware.ErrorHandler.
package handlers

import (
	"context"
	"time"

	"promise-service.io/promise/internal/deliverylog"
	"promise-service.io/promise/internal/domain"
	"promise-service.io/promise/internal/meeting"
	"promise-service.io/promise/internal/notification"
)

// MeetingService is the lifecycle API. *meeting.Manager implements it.
type MeetingService interface {
	Create(ctx context.Context, in meeting.CreateInput) (meeting.Result[domain.Meeting], error)
	Get(ctx context.Context, meetingID int64) (meeting.Details, error)
	ListByStatus(ctx context.Context, status domain.Status) ([]domain.Meeting, error)
	ListByHost(ctx context.Context, userID int64, limit int) ([]domain.MeetingSummary, error)
	ListByParticipant(ctx context.Context, userID int64, limit int) ([]domain.MeetingSummary, error)
	Search(ctx context.Context, f domain.MeetingFilter) ([]domain.MeetingSummary, error)
	Invite(ctx context.Context, meetingID, actorID int64, userIDs []int64) (meeting.Result[[]int64], error)
	Respond(ctx context.Context, meetingID, userID int64, state domain.ResponseState) (meeting.Result[domain.Participant], error)
	Transition(ctx context.Context, meetingID int64, requested domain.Status, actorID int64, reason string) (meeting.TransitionResult, error)
	History(ctx context.Context, meetingID int64) ([]domain.HistoryRecord, error)
	Statistics(ctx context.Context) (domain.StatusCounts, error)
}

// DeliveryReader is the query side of the delivery log.
type DeliveryReader interface {
	FindByMeeting(ctx context.Context, meetingID int64) ([]deliverylog.Attempt, error)
	FindByUser(ctx context.Context, userID int64) ([]deliverylog.Attempt, error)
	FindByTrace(ctx context.Context, traceID string) ([]deliverylog.Attempt, error)
	SuccessRate(ctx context.Context, channel domain.Channel, w deliverylog.Window) (float64, error)
	MeetingSuccessRate(ctx context.Context, meetingID int64) (float64, error)
	RecentFailures(ctx context.Context, channel domain.Channel, limit int) ([]deliverylog.Attempt, error)
}

type ConsentWriter interface {
	UpsertConsent(ctx context.Context, c domain.Consent) (domain.Consent, error)
}

// RelationshipStore manages the caller's side of the friend graph.
// *repository.ConsentStore implements it.
type RelationshipStore interface {
	RequestRelationship(ctx context.Context, from, to int64) (bool, error)
	ListRelated(ctx context.Context, userID int64) ([]domain.Relationship, error)
}

// HealthCheck is one named readiness check.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server holds the dependencies of every handler.
type Server struct {
	meetings   MeetingService
	deliveries DeliveryReader
	consents   ConsentWriter
	relations  RelationshipStore
	enqueuer   notification.RedispatchEnqueuer
	checks     []HealthCheck
	workers    func() map[string]map[string]int
	now        func() time.Time
}

// ServerDeps holds all dependencies for creating a Server. Enqueuer may be
// nil, in which case redispatch answers 503.
type ServerDeps struct {
	Meetings   MeetingService
	Deliveries DeliveryReader
	Consents   ConsentWriter
	Relations  RelationshipStore
	Enqueuer   notification.RedispatchEnqueuer
	Checks     []HealthCheck
	// WorkerStats reports worker pool occupancy on the readiness endpoint.
	WorkerStats func() map[string]map[string]int
	Now         func() time.Time
}

func NewServer(deps ServerDeps) *Server {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Server{
		meetings:   deps.Meetings,
		deliveries: deps.Deliveries,
		consents:   deps.Consents,
		relations:  deps.Relations,
		enqueuer:   deps.Enqueuer,
		checks:     deps.Checks,
		workers:    deps.WorkerStats,
		now:        now,
	}
}
