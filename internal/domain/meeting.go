// Package domain holds the meeting lifecycle model and the notification
// vocabulary shared by the meeting and notification packages.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a meeting.
type Status string

const (
	StatusWaiting   Status = "WAITING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// AllowedTransitions is the lifecycle table. A status missing from the map
// has no outgoing edges.
var AllowedTransitions = map[Status]map[Status]struct{}{
	StatusWaiting:   {StatusConfirmed: {}, StatusCancelled: {}},
	StatusConfirmed: {StatusCompleted: {}, StatusCancelled: {}},
	StatusCompleted: {},
	StatusCancelled: {StatusWaiting: {}},
}

// AllStatuses lists statuses in display order.
var AllStatuses = []Status{StatusWaiting, StatusConfirmed, StatusCompleted, StatusCancelled}

// ParseStatus accepts the canonical upper case names, case-insensitively.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := AllowedTransitions[st]; !ok {
		return "", fmt.Errorf("unknown meeting status %q", s)
	}
	return st, nil
}

// CanTransition reports whether from -> to is an edge of the table.
func CanTransition(from, to Status) bool {
	_, ok := AllowedTransitions[from][to]
	return ok
}

// AllowedTargets returns the reachable statuses from s in display order.
func AllowedTargets(s Status) []Status {
	out := make([]Status, 0, 2)
	for _, to := range AllStatuses {
		if CanTransition(s, to) {
			out = append(out, to)
		}
	}
	return out
}

// IsFinal reports whether s has no outgoing edges.
func (s Status) IsFinal() bool {
	return len(AllowedTransitions[s]) == 0
}

// IsEditable reports whether participants may still join or respond.
func (s Status) IsEditable() bool {
	return s == StatusWaiting || s == StatusConfirmed
}

// ResponseState is a participant's answer to an invitation.
type ResponseState string

const (
	ResponseInvited  ResponseState = "INVITED"
	ResponseAccepted ResponseState = "ACCEPTED"
	ResponseDeclined ResponseState = "DECLINED"
)

// ParseResponseState maps client input to a ResponseState. CONFIRMED is an
// alias of ACCEPTED and REJECTED of DECLINED.
func ParseResponseState(s string) (ResponseState, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INVITED":
		return ResponseInvited, nil
	case "ACCEPTED", "CONFIRMED":
		return ResponseAccepted, nil
	case "DECLINED", "REJECTED":
		return ResponseDeclined, nil
	}
	return "", fmt.Errorf("unknown response state %q", s)
}

type Meeting struct {
	ID              int64     `json:"id"`
	Title           string    `json:"title"`
	Location        string    `json:"location,omitempty"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	HostID          int64     `json:"host_id"`
	MaxParticipants int       `json:"max_participants"`
	Status          Status    `json:"status"`
	Version         int64     `json:"version"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type Participant struct {
	MeetingID int64         `json:"meeting_id"`
	UserID    int64         `json:"user_id"`
	Response  ResponseState `json:"response"`
	InvitedAt time.Time     `json:"invited_at"`
	JoinedAt  *time.Time    `json:"joined_at,omitempty"`
}

// HistoryAction classifies a history record.
type HistoryAction string

const (
	ActionCreated       HistoryAction = "CREATED"
	ActionInvited       HistoryAction = "INVITED"
	ActionResponded     HistoryAction = "RESPONDED"
	ActionStatusChanged HistoryAction = "STATUS_CHANGED"
	ActionConfirmed     HistoryAction = "CONFIRMED"
	ActionCancelled     HistoryAction = "CANCELLED"
	ActionCompleted     HistoryAction = "COMPLETED"
	ActionReopened      HistoryAction = "REOPENED"
)

// ActionFor returns the status specific action recorded next to
// STATUS_CHANGED.
func ActionFor(s Status) HistoryAction {
	switch s {
	case StatusConfirmed:
		return ActionConfirmed
	case StatusCancelled:
		return ActionCancelled
	case StatusCompleted:
		return ActionCompleted
	default:
		return ActionReopened
	}
}

// HistoryRecord is an append-only entry in a meeting's audit trail.
type HistoryRecord struct {
	ID             int64         `json:"id"`
	MeetingID      int64         `json:"meeting_id"`
	Action         HistoryAction `json:"action"`
	ActorID        int64         `json:"actor_id"`
	PreviousStatus Status        `json:"previous_status,omitempty"`
	NewStatus      Status        `json:"new_status,omitempty"`
	Reason         string        `json:"reason,omitempty"`
	Details        string        `json:"details"`
	CreatedAt      time.Time     `json:"created_at"`
}

// StatusChangeDetails renders the human readable details line of a
// STATUS_CHANGED record.
func StatusChangeDetails(from, to Status, reason string) string {
	if reason == "" {
		return fmt.Sprintf("status changed: %s -> %s", from, to)
	}
	return fmt.Sprintf("status changed: %s -> %s (reason: %s)", from, to, reason)
}

// StatusCounts is the per-status meeting count.
type StatusCounts struct {
	Waiting   int64 `json:"waiting"`
	Confirmed int64 `json:"confirmed"`
	Completed int64 `json:"completed"`
	Cancelled int64 `json:"cancelled"`
	Total     int64 `json:"total"`
}

// Add increments the bucket for s and the total.
func (c *StatusCounts) Add(s Status, n int64) {
	switch s {
	case StatusWaiting:
		c.Waiting += n
	case StatusConfirmed:
		c.Confirmed += n
	case StatusCompleted:
		c.Completed += n
	case StatusCancelled:
		c.Cancelled += n
	default:
		return
	}
	c.Total += n
}
