// Package meeting owns the meeting lifecycle: creation, invitations,
// responses and status transitions. Every change appends to the meeting's
// history, and confirmations and cancellations are announced through the
// Notifier once the change is committed.
package meeting

import (
	"context"

	"promise-service.io/promise/internal/domain"
	"promise-service.io/promise/internal/notification"
)

// Store persists meetings. Writes that change a meeting take the version
// read by the caller and fail with apperrors.ErrConflict when it moved.
// Missing rows are reported as apperrors.ErrNotFound.
type Store interface {
	Get(ctx context.Context, meetingID int64) (domain.Meeting, error)
	Participants(ctx context.Context, meetingID int64) ([]domain.Participant, error)
	CountAccepted(ctx context.Context, meetingID int64) (int, error)

	// Create inserts the meeting in WAITING with the host ACCEPTED and the
	// invitees INVITED, plus rec.
	Create(ctx context.Context, m domain.Meeting, invitees []int64, rec domain.HistoryRecord) (domain.Meeting, error)
	// AddParticipants invites userIDs, skipping existing participants, and
	// returns the ones that were added.
	AddParticipants(ctx context.Context, meetingID, expectedVersion int64, userIDs []int64, rec domain.HistoryRecord) ([]int64, error)
	// UpdateResponse sets a participant's response. Accepting fails with
	// apperrors.ErrLimitReached when the meeting is at max participants.
	UpdateResponse(ctx context.Context, meetingID, expectedVersion, userID int64, state domain.ResponseState, rec domain.HistoryRecord) (domain.Participant, error)
	// ApplyTransition moves the meeting to status and appends records in one
	// transaction.
	ApplyTransition(ctx context.Context, meetingID, expectedVersion int64, status domain.Status, records []domain.HistoryRecord) (domain.Meeting, error)

	History(ctx context.Context, meetingID int64) ([]domain.HistoryRecord, error)
	ListByStatus(ctx context.Context, status domain.Status) ([]domain.Meeting, error)
	// Search lists meetings matching the filter in the filter's order.
	Search(ctx context.Context, f domain.MeetingFilter) ([]domain.MeetingSummary, error)
	CountByStatus(ctx context.Context) (domain.StatusCounts, error)
}

// Notifier announces committed lifecycle changes. Implementations never
// fail the caller; delivery problems are reported inside the result.
type Notifier interface {
	OnMeetingConfirmed(ctx context.Context, m domain.Meeting, actorID int64) notification.AggregateResult
	OnMeetingCancelled(ctx context.Context, m domain.Meeting, actorID int64, reason string) notification.AggregateResult
	OnMeetingCreated(ctx context.Context, m domain.Meeting, hostID int64, invitees []int64) notification.AggregateResult
	OnInvitationResponded(ctx context.Context, m domain.Meeting, userID int64, state domain.ResponseState) notification.AggregateResult
}
