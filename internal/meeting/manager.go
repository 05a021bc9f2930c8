package meeting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"promise-service.io/promise/internal/domain"
	"promise-service.io/promise/internal/notification"
	apperrors "promise-service.io/promise/internal/pkg/errors"
	"promise-service.io/promise/internal/pkg/logger"
)

const minAcceptedToConfirm = 2

// Manager validates and applies lifecycle changes.
type Manager struct {
	store    Store
	notifier Notifier
	now      func() time.Time
	tracer   trace.Tracer
}

type Option func(*Manager)

// WithClock replaces time.Now for precondition checks.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(store Store, notifier Notifier, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		notifier: notifier,
		now:      time.Now,
		tracer:   otel.Tracer("promise/meeting"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TransitionResult is a committed status change. Notification is nil for
// transitions that are not announced.
type TransitionResult struct {
	Meeting        domain.Meeting                `json:"meeting"`
	PreviousStatus domain.Status                 `json:"previous_status"`
	Notification   *notification.AggregateResult `json:"notification,omitempty"`
}

// Transition moves a meeting to requested on behalf of actorID. Only the
// host may do so, and the edge must be in domain.AllowedTransitions with
// its preconditions met. A rejected call changes nothing.
func (m *Manager) Transition(ctx context.Context, meetingID int64, requested domain.Status, actorID int64, reason string) (TransitionResult, error) {
	ctx, span := m.tracer.Start(ctx, "meeting.Transition", trace.WithAttributes(
		attribute.Int64("meeting.id", meetingID),
		attribute.String("meeting.requested_status", string(requested)),
	))
	defer span.End()

	current, err := m.load(ctx, meetingID)
	if err != nil {
		return TransitionResult{}, err
	}
	if actorID != current.HostID {
		return TransitionResult{}, apperrors.MeetingUnauthorized(meetingID, actorID)
	}
	if err := m.checkTransition(ctx, current, requested); err != nil {
		return TransitionResult{}, err
	}

	at := m.now().UTC()
	records := []domain.HistoryRecord{
		{
			MeetingID:      meetingID,
			Action:         domain.ActionStatusChanged,
			ActorID:        actorID,
			PreviousStatus: current.Status,
			NewStatus:      requested,
			Reason:         reason,
			Details:        domain.StatusChangeDetails(current.Status, requested, reason),
			CreatedAt:      at,
		},
		{
			MeetingID:      meetingID,
			Action:         domain.ActionFor(requested),
			ActorID:        actorID,
			PreviousStatus: current.Status,
			NewStatus:      requested,
			Reason:         reason,
			Details:        fmt.Sprintf("meeting %s", requested),
			CreatedAt:      at,
		},
	}

	updated, err := m.store.ApplyTransition(ctx, meetingID, current.Version, requested, records)
	if err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			return TransitionResult{}, apperrors.MeetingConflict(meetingID)
		}
		return TransitionResult{}, fmt.Errorf("apply transition of meeting %d: %w", meetingID, err)
	}

	logger.Info("meeting status changed",
		zap.Int64("meeting_id", meetingID),
		zap.Int64("actor_id", actorID),
		zap.String("from", string(current.Status)),
		zap.String("to", string(requested)),
	)

	result := TransitionResult{Meeting: updated, PreviousStatus: current.Status}
	if res, announced := m.announce(ctx, updated, actorID, reason); announced {
		result.Notification = &res
	}
	return result, nil
}

// checkTransition runs the checks in order: same status, table edge, then
// the target's preconditions.
func (m *Manager) checkTransition(ctx context.Context, mt domain.Meeting, to domain.Status) error {
	from := mt.Status
	reject := func(precondition string) error {
		return apperrors.InvalidTransition(string(from), string(to), precondition)
	}

	if from == to {
		return reject("meeting is already " + string(to))
	}
	if !domain.CanTransition(from, to) {
		return reject("transition is not allowed")
	}

	now := m.now()
	switch to {
	case domain.StatusConfirmed:
		accepted, err := m.store.CountAccepted(ctx, mt.ID)
		if err != nil {
			return fmt.Errorf("count accepted participants of meeting %d: %w", mt.ID, err)
		}
		if accepted < minAcceptedToConfirm {
			return reject(fmt.Sprintf("at least %d accepted participants required, have %d", minAcceptedToConfirm, accepted))
		}
		if !mt.ScheduledAt.After(now) {
			return reject("scheduled time must be in the future")
		}
	case domain.StatusCompleted:
		if from != domain.StatusConfirmed {
			return reject("only confirmed meetings can be completed")
		}
		if !mt.ScheduledAt.Before(now) {
			return reject("scheduled time has not passed yet")
		}
	case domain.StatusCancelled:
		if from == domain.StatusCompleted {
			return reject("completed meetings cannot be cancelled")
		}
	}
	return nil
}

// announce notifies participants of confirmations and cancellations.
func (m *Manager) announce(ctx context.Context, mt domain.Meeting, actorID int64, reason string) (notification.AggregateResult, bool) {
	if m.notifier == nil {
		return notification.AggregateResult{}, false
	}
	var res notification.AggregateResult
	switch mt.Status {
	case domain.StatusConfirmed:
		res = m.notifier.OnMeetingConfirmed(ctx, mt, actorID)
	case domain.StatusCancelled:
		res = m.notifier.OnMeetingCancelled(ctx, mt, actorID, reason)
	default:
		return notification.AggregateResult{}, false
	}
	return res, true
}

func (m *Manager) load(ctx context.Context, meetingID int64) (domain.Meeting, error) {
	mt, err := m.store.Get(ctx, meetingID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return domain.Meeting{}, apperrors.MeetingNotFound(meetingID)
	}
	if err != nil {
		return domain.Meeting{}, fmt.Errorf("load meeting %d: %w", meetingID, err)
	}
	return mt, nil
}
