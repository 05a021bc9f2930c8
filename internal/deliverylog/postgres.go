package deliverylog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"promise-service.io/promise/internal/domain"
)

const attemptColumns = `id, meeting_id, user_id, channel, trace_id, payload, http_status,
	result_code, error_code, error_payload, created_at`

const (
	insertAttemptSQL = `
INSERT INTO delivery_attempts
	(meeting_id, user_id, channel, trace_id, payload, http_status, result_code, error_code, error_payload, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (meeting_id, user_id, channel, trace_id) DO NOTHING
RETURNING ` + attemptColumns

	selectAttemptByKeySQL = `
SELECT ` + attemptColumns + `
FROM delivery_attempts
WHERE meeting_id = $1 AND user_id = $2 AND channel = $3 AND trace_id = $4`

	successFilterSQL = `http_status BETWEEN 200 AND 299 AND COALESCE(result_code, 0) = 0`
)

// PostgresStore is the production Store.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

func scanAttempt(row pgx.Row) (Attempt, error) {
	var (
		a       Attempt
		channel string
	)
	err := row.Scan(&a.ID, &a.MeetingID, &a.UserID, &channel, &a.TraceID, &a.Payload, &a.HTTPStatus,
		&a.ResultCode, &a.ErrorCode, &a.ErrorPayload, &a.CreatedAt)
	a.Channel = domain.Channel(channel)
	return a, err
}

// Record inserts a unless its key exists. The race loser reads the winner's
// row back, so concurrent callers never see divergent results.
func (s *PostgresStore) Record(ctx context.Context, a Attempt) (Attempt, bool, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	var payload any
	if len(a.Payload) > 0 {
		payload = []byte(a.Payload)
	}

	stored, err := scanAttempt(s.pool.QueryRow(ctx, insertAttemptSQL,
		a.MeetingID, a.UserID, string(a.Channel), a.TraceID, payload, a.HTTPStatus,
		a.ResultCode, a.ErrorCode, a.ErrorPayload, a.CreatedAt))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Attempt{}, false, fmt.Errorf("insert delivery attempt: %w", err)
	}

	existing, found, err := s.Find(ctx, a.Key)
	if err != nil {
		return Attempt{}, false, err
	}
	if !found {
		return Attempt{}, false, fmt.Errorf("delivery attempt %+v vanished after conflict", a.Key)
	}
	return existing, false, nil
}

func (s *PostgresStore) Find(ctx context.Context, key Key) (Attempt, bool, error) {
	a, err := scanAttempt(s.pool.QueryRow(ctx, selectAttemptByKeySQL,
		key.MeetingID, key.UserID, string(key.Channel), key.TraceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Attempt{}, false, nil
	}
	if err != nil {
		return Attempt{}, false, fmt.Errorf("select delivery attempt: %w", err)
	}
	return a, true, nil
}

func (s *PostgresStore) list(ctx context.Context, where string, limit int, args ...any) ([]Attempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM delivery_attempts WHERE ` + where + ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query delivery attempts: %w", err)
	}
	defer rows.Close()

	out := make([]Attempt, 0)
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery attempt: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) FindByMeeting(ctx context.Context, meetingID int64) ([]Attempt, error) {
	return s.list(ctx, `meeting_id = $1`, 0, meetingID)
}

func (s *PostgresStore) FindByUser(ctx context.Context, userID int64) ([]Attempt, error) {
	return s.list(ctx, `user_id = $1`, 0, userID)
}

func (s *PostgresStore) FindByTrace(ctx context.Context, traceID string) ([]Attempt, error) {
	return s.list(ctx, `trace_id = $1`, 0, traceID)
}

func (s *PostgresStore) countRate(ctx context.Context, where string, args ...any) (float64, error) {
	var total, ok int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE `+successFilterSQL+`) FROM delivery_attempts WHERE `+where,
		args...).Scan(&total, &ok)
	if err != nil {
		return 0, fmt.Errorf("count delivery attempts: %w", err)
	}
	return rate(ok, total), nil
}

func (s *PostgresStore) SuccessRate(ctx context.Context, channel domain.Channel, w Window) (float64, error) {
	return s.countRate(ctx,
		`($1 = '' OR channel = $1) AND created_at >= $2 AND created_at < $3`,
		string(channel), w.From, w.To)
}

func (s *PostgresStore) MeetingSuccessRate(ctx context.Context, meetingID int64) (float64, error) {
	return s.countRate(ctx, `meeting_id = $1`, meetingID)
}

func (s *PostgresStore) RecentFailures(ctx context.Context, channel domain.Channel, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.list(ctx,
		`($1 = '' OR channel = $1) AND NOT (`+successFilterSQL+`)`,
		limit, string(channel))
}

func (s *PostgresStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM delivery_attempts WHERE created_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete delivery attempts: %w", err)
	}
	return tag.RowsAffected(), nil
}
