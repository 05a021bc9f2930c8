// Package deliverylog records every notification send attempt. A record is
// keyed by (meeting, user, channel, trace) and is never updated, which makes
// a retried dispatch with the same trace id a no-op for recipients that were
// already tried.
package deliverylog

import (
	"context"
	"encoding/json"
	"time"

	"promise-service.io/promise/internal/domain"
)

// Key identifies one attempt.
type Key struct {
	MeetingID int64          `json:"meeting_id"`
	UserID    int64          `json:"user_id"`
	Channel   domain.Channel `json:"channel"`
	TraceID   string         `json:"trace_id"`
}

// Attempt is one logged send on one channel for one recipient.
type Attempt struct {
	ID int64 `json:"id"`
	Key
	Payload json.RawMessage `json:"payload,omitempty"`
	// HTTPStatus is 0 when no request was made (for example an expired token).
	HTTPStatus int `json:"http_status"`
	// ResultCode is the transport specific code; nil when the response had none.
	ResultCode   *int      `json:"result_code,omitempty"`
	ErrorCode    string    `json:"error_code,omitempty"`
	ErrorPayload string    `json:"error_payload,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// IsSuccess is a 2xx status with an absent or zero result code.
func (a Attempt) IsSuccess() bool {
	if a.HTTPStatus < 200 || a.HTTPStatus > 299 {
		return false
	}
	return a.ResultCode == nil || *a.ResultCode == 0
}

// MarshalJSON adds the derived success flag.
func (a Attempt) MarshalJSON() ([]byte, error) {
	type plain Attempt
	return json.Marshal(struct {
		plain
		Success bool `json:"success"`
	}{plain(a), a.IsSuccess()})
}

// Window is a half open time range [From, To).
type Window struct {
	From time.Time
	To   time.Time
}

// Store persists attempts. Record must be atomic per key: when two callers
// race on one key, exactly one row is written and both get it back.
type Store interface {
	Record(ctx context.Context, a Attempt) (stored Attempt, created bool, err error)
	Find(ctx context.Context, key Key) (Attempt, bool, error)
	FindByMeeting(ctx context.Context, meetingID int64) ([]Attempt, error)
	FindByUser(ctx context.Context, userID int64) ([]Attempt, error)
	FindByTrace(ctx context.Context, traceID string) ([]Attempt, error)
	// SuccessRate is successes/total for channel inside w, 0 when empty.
	// An empty channel covers all channels.
	SuccessRate(ctx context.Context, channel domain.Channel, w Window) (float64, error)
	MeetingSuccessRate(ctx context.Context, meetingID int64) (float64, error)
	RecentFailures(ctx context.Context, channel domain.Channel, limit int) ([]Attempt, error)
	// DeleteBefore drops attempts created before cutoff. Dropped attempts no
	// longer guard their key, so a redispatch of an older trace sends again.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

func rate(success, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(success) / float64(total)
}
