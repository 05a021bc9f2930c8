package meeting

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"promise-service.io/promise/internal/domain"
	"promise-service.io/promise/internal/notification"
	apperrors "promise-service.io/promise/internal/pkg/errors"
	"promise-service.io/promise/internal/pkg/logger"
)

const (
	maxTitleLength  = 100
	maxParticipants = 100
)

type CreateInput struct {
	HostID          int64     `json:"-"`
	Title           string    `json:"title"`
	Location        string    `json:"location"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	MaxParticipants int       `json:"max_participants"`
	InviteeIDs      []int64   `json:"invitee_ids"`
}

func (in CreateInput) validate(now time.Time) error {
	title := strings.TrimSpace(in.Title)
	switch {
	case title == "":
		return apperrors.Validation("title is required")
	case len(title) > maxTitleLength:
		return apperrors.Validation(fmt.Sprintf("title must be at most %d characters", maxTitleLength))
	case in.ScheduledAt.IsZero():
		return apperrors.Validation("scheduled_at is required")
	case !in.ScheduledAt.After(now):
		return apperrors.Validation("scheduled_at must be in the future")
	case in.MaxParticipants < minAcceptedToConfirm || in.MaxParticipants > maxParticipants:
		return apperrors.Validation(fmt.Sprintf("max_participants must be between %d and %d", minAcceptedToConfirm, maxParticipants))
	}
	for _, id := range in.InviteeIDs {
		if id <= 0 {
			return apperrors.Validation("invitee ids must be positive")
		}
	}
	return nil
}

// Result pairs a committed change with its notification summary.
type Result[T any] struct {
	Value        T                             `json:"value"`
	Notification *notification.AggregateResult `json:"notification,omitempty"`
}

// Details is a meeting with its participants.
type Details struct {
	domain.Meeting
	Participants  []domain.Participant `json:"participants"`
	AcceptedCount int                  `json:"accepted_count"`
}

// Create opens a meeting in WAITING hosted by in.HostID and invites
// in.InviteeIDs.
func (m *Manager) Create(ctx context.Context, in CreateInput) (Result[domain.Meeting], error) {
	now := m.now().UTC()
	if err := in.validate(now); err != nil {
		return Result[domain.Meeting]{}, err
	}
	invitees := uniqueOthers(in.InviteeIDs, in.HostID)

	created, err := m.store.Create(ctx, domain.Meeting{
		Title:           strings.TrimSpace(in.Title),
		Location:        strings.TrimSpace(in.Location),
		ScheduledAt:     in.ScheduledAt.UTC(),
		HostID:          in.HostID,
		MaxParticipants: in.MaxParticipants,
		Status:          domain.StatusWaiting,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, invitees, domain.HistoryRecord{
		Action:    domain.ActionCreated,
		ActorID:   in.HostID,
		NewStatus: domain.StatusWaiting,
		Details:   fmt.Sprintf("meeting created with %d invitee(s)", len(invitees)),
		CreatedAt: now,
	})
	if err != nil {
		return Result[domain.Meeting]{}, fmt.Errorf("create meeting: %w", err)
	}
	logger.Info("meeting created",
		zap.Int64("meeting_id", created.ID),
		zap.Int64("host_id", created.HostID),
		zap.Int("invitees", len(invitees)),
	)

	out := Result[domain.Meeting]{Value: created}
	if m.notifier != nil && len(invitees) > 0 {
		res := m.notifier.OnMeetingCreated(ctx, created, created.HostID, invitees)
		out.Notification = &res
	}
	return out, nil
}

// Invite adds participants. Only the host may invite, and only while the
// meeting still accepts changes.
func (m *Manager) Invite(ctx context.Context, meetingID, actorID int64, userIDs []int64) (Result[[]int64], error) {
	mt, err := m.load(ctx, meetingID)
	if err != nil {
		return Result[[]int64]{}, err
	}
	if actorID != mt.HostID {
		return Result[[]int64]{}, apperrors.MeetingUnauthorized(meetingID, actorID)
	}
	if !mt.Status.IsEditable() {
		return Result[[]int64]{}, apperrors.MeetingClosed(meetingID, string(mt.Status))
	}
	ids := uniqueOthers(userIDs, mt.HostID)
	if len(ids) == 0 {
		return Result[[]int64]{}, apperrors.Validation("at least one user other than the host is required")
	}

	added, err := m.store.AddParticipants(ctx, meetingID, mt.Version, ids, domain.HistoryRecord{
		MeetingID: meetingID,
		Action:    domain.ActionInvited,
		ActorID:   actorID,
		Details:   "invited users " + joinIDs(ids),
		CreatedAt: m.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			return Result[[]int64]{}, apperrors.MeetingConflict(meetingID)
		}
		return Result[[]int64]{}, fmt.Errorf("invite to meeting %d: %w", meetingID, err)
	}

	out := Result[[]int64]{Value: added}
	if m.notifier != nil && len(added) > 0 {
		res := m.notifier.OnMeetingCreated(ctx, mt, actorID, added)
		out.Notification = &res
	}
	return out, nil
}

// Respond records userID's answer to an invitation and tells the host.
func (m *Manager) Respond(ctx context.Context, meetingID, userID int64, state domain.ResponseState) (Result[domain.Participant], error) {
	mt, err := m.load(ctx, meetingID)
	if err != nil {
		return Result[domain.Participant]{}, err
	}
	if !mt.Status.IsEditable() {
		return Result[domain.Participant]{}, apperrors.MeetingClosed(meetingID, string(mt.Status))
	}
	if userID == mt.HostID && state != domain.ResponseAccepted {
		return Result[domain.Participant]{}, apperrors.BadRequest(apperrors.CodeInvalidResponseState,
			"the host cannot leave the meeting; cancel it instead")
	}

	p, err := m.store.UpdateResponse(ctx, meetingID, mt.Version, userID, state, domain.HistoryRecord{
		MeetingID: meetingID,
		Action:    domain.ActionResponded,
		ActorID:   userID,
		Details:   fmt.Sprintf("user %d responded %s", userID, state),
		CreatedAt: m.now().UTC(),
	})
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return Result[domain.Participant]{}, apperrors.ParticipantNotFound(meetingID, userID)
	case errors.Is(err, apperrors.ErrLimitReached):
		return Result[domain.Participant]{}, apperrors.MeetingFull(meetingID, mt.MaxParticipants)
	case errors.Is(err, apperrors.ErrConflict):
		return Result[domain.Participant]{}, apperrors.MeetingConflict(meetingID)
	case err != nil:
		return Result[domain.Participant]{}, fmt.Errorf("respond to meeting %d: %w", meetingID, err)
	}

	out := Result[domain.Participant]{Value: p}
	if m.notifier != nil && userID != mt.HostID {
		res := m.notifier.OnInvitationResponded(ctx, mt, userID, state)
		out.Notification = &res
	}
	return out, nil
}

func (m *Manager) Get(ctx context.Context, meetingID int64) (Details, error) {
	mt, err := m.load(ctx, meetingID)
	if err != nil {
		return Details{}, err
	}
	parts, err := m.store.Participants(ctx, meetingID)
	if err != nil {
		return Details{}, fmt.Errorf("list participants of meeting %d: %w", meetingID, err)
	}
	d := Details{Meeting: mt, Participants: parts}
	for _, p := range parts {
		if p.Response == domain.ResponseAccepted {
			d.AcceptedCount++
		}
	}
	return d, nil
}

// History returns the meeting's audit trail, newest first.
func (m *Manager) History(ctx context.Context, meetingID int64) ([]domain.HistoryRecord, error) {
	if _, err := m.load(ctx, meetingID); err != nil {
		return nil, err
	}
	return m.store.History(ctx, meetingID)
}

// ListByStatus returns meetings in status ordered by scheduled time.
func (m *Manager) ListByStatus(ctx context.Context, status domain.Status) ([]domain.Meeting, error) {
	return m.store.ListByStatus(ctx, status)
}

// ListByHost returns the meetings userID hosts, newest first.
func (m *Manager) ListByHost(ctx context.Context, userID int64, limit int) ([]domain.MeetingSummary, error) {
	return m.store.Search(ctx, domain.MeetingFilter{HostID: userID, Order: domain.OrderRecent, Limit: limit})
}

// ListByParticipant returns the meetings userID takes part in, hosted ones
// included, by scheduled time.
func (m *Manager) ListByParticipant(ctx context.Context, userID int64, limit int) ([]domain.MeetingSummary, error) {
	return m.store.Search(ctx, domain.MeetingFilter{ParticipantID: userID, Order: domain.OrderScheduled, Limit: limit})
}

func (m *Manager) Search(ctx context.Context, f domain.MeetingFilter) ([]domain.MeetingSummary, error) {
	f = f.Normalize()
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		return nil, apperrors.Validation("from must be before to")
	}
	return m.store.Search(ctx, f)
}

func (m *Manager) Statistics(ctx context.Context) (domain.StatusCounts, error) {
	return m.store.CountByStatus(ctx)
}

func uniqueOthers(ids []int64, exclude int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id == exclude {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ", ")
}
