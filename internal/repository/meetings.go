package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"promise-service.io/promise/internal/domain"
	apperrors "promise-service.io/promise/internal/pkg/errors"
)

const meetingColumns = `id, title, location, scheduled_at, host_id, max_participants, status, version, created_at, updated_at`

const (
	selectMeetingSQL = `SELECT ` + meetingColumns + ` FROM meetings WHERE id = $1`

	insertMeetingSQL = `
INSERT INTO meetings (title, location, scheduled_at, host_id, max_participants, status, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $7)
RETURNING ` + meetingColumns

	// bumpVersionSQL is the optimistic lock every write goes through.
	bumpVersionSQL = `
UPDATE meetings SET version = version + 1, updated_at = COALESCE($3::timestamptz, NOW())
WHERE id = $1 AND version = $2
RETURNING ` + meetingColumns

	updateStatusSQL = `
UPDATE meetings SET status = $3, version = version + 1, updated_at = COALESCE($4::timestamptz, NOW())
WHERE id = $1 AND version = $2
RETURNING ` + meetingColumns

	insertParticipantsSQL = `
INSERT INTO meeting_participants (meeting_id, user_id, response, invited_at, joined_at)
SELECT $1, u, $3, $4, CASE WHEN $3 = 'ACCEPTED' THEN $4::timestamptz END
FROM unnest($2::bigint[]) AS u
ON CONFLICT (meeting_id, user_id) DO NOTHING
RETURNING user_id`

	selectParticipantsSQL = `
SELECT meeting_id, user_id, response, invited_at, joined_at
FROM meeting_participants
WHERE meeting_id = $1
ORDER BY invited_at, user_id`

	selectParticipantForUpdateSQL = `
SELECT meeting_id, user_id, response, invited_at, joined_at
FROM meeting_participants
WHERE meeting_id = $1 AND user_id = $2
FOR UPDATE`

	updateResponseSQL = `
UPDATE meeting_participants
SET response = $3,
	joined_at = CASE WHEN $3 = 'ACCEPTED' THEN COALESCE(joined_at, $4) ELSE NULL END
WHERE meeting_id = $1 AND user_id = $2
RETURNING meeting_id, user_id, response, invited_at, joined_at`

	countAcceptedSQL = `SELECT COUNT(*) FROM meeting_participants WHERE meeting_id = $1 AND response = 'ACCEPTED'`

	insertHistorySQL = `
INSERT INTO meeting_history (meeting_id, action, actor_id, previous_status, new_status, reason, details, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	selectHistorySQL = `
SELECT id, meeting_id, action, actor_id, previous_status, new_status, reason, details, created_at
FROM meeting_history
WHERE meeting_id = $1
ORDER BY created_at DESC, id DESC`

	selectByStatusSQL = `SELECT ` + meetingColumns + ` FROM meetings WHERE status = $1 ORDER BY scheduled_at, id`

	countByStatusSQL = `SELECT status, COUNT(*) FROM meetings GROUP BY status`

	// searchMeetingsSQL takes its ORDER BY from meetingOrderSQL.
	searchMeetingsSQL = `
SELECT ` + meetingColumns + `,
	(SELECT COUNT(*) FROM meeting_participants p WHERE p.meeting_id = m.id) AS participant_count
FROM meetings m
WHERE ($1::bigint = 0 OR m.host_id = $1)
	AND ($2::bigint = 0 OR EXISTS (
		SELECT 1 FROM meeting_participants p WHERE p.meeting_id = m.id AND p.user_id = $2))
	AND ($3::text = '' OR strpos(lower(m.title), lower($3)) > 0)
	AND ($4::text = '' OR strpos(lower(m.location), lower($4)) > 0)
	AND ($5::text = '' OR m.status = $5)
	AND ($6::timestamptz IS NULL OR m.scheduled_at >= $6)
	AND ($7::timestamptz IS NULL OR m.scheduled_at < $7)
ORDER BY `
)

var meetingOrderSQL = map[domain.MeetingOrder]string{
	domain.OrderScheduled: `m.scheduled_at, m.id`,
	domain.OrderRecent:    `m.created_at DESC, m.id DESC`,
	domain.OrderPopular:   `participant_count DESC, m.created_at DESC, m.id DESC`,
}

// MeetingStore is the PostgreSQL meeting.Store. It also serves the
// notification resolver and triggers as their participant and meeting
// source.
type MeetingStore struct {
	pool *pgxpool.Pool
}

func NewMeetingStore(pool *pgxpool.Pool) *MeetingStore {
	return &MeetingStore{pool: pool}
}

func scanMeeting(row pgx.Row) (domain.Meeting, error) {
	var (
		m      domain.Meeting
		status string
	)
	err := row.Scan(&m.ID, &m.Title, &m.Location, &m.ScheduledAt, &m.HostID, &m.MaxParticipants,
		&status, &m.Version, &m.CreatedAt, &m.UpdatedAt)
	m.Status = domain.Status(status)
	return m, err
}

func scanParticipant(row pgx.Row) (domain.Participant, error) {
	var (
		p        domain.Participant
		response string
	)
	err := row.Scan(&p.MeetingID, &p.UserID, &response, &p.InvitedAt, &p.JoinedAt)
	p.Response = domain.ResponseState(response)
	return p, err
}

func (s *MeetingStore) Get(ctx context.Context, meetingID int64) (domain.Meeting, error) {
	m, err := scanMeeting(s.pool.QueryRow(ctx, selectMeetingSQL, meetingID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Meeting{}, apperrors.ErrNotFound
	}
	if err != nil {
		return domain.Meeting{}, fmt.Errorf("select meeting %d: %w", meetingID, err)
	}
	return m, nil
}

func (s *MeetingStore) Participants(ctx context.Context, meetingID int64) ([]domain.Participant, error) {
	rows, err := s.pool.Query(ctx, selectParticipantsSQL, meetingID)
	if err != nil {
		return nil, fmt.Errorf("select participants of meeting %d: %w", meetingID, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Participant, error) {
		return scanParticipant(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan participants of meeting %d: %w", meetingID, err)
	}
	return out, nil
}

func (s *MeetingStore) CountAccepted(ctx context.Context, meetingID int64) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, countAcceptedSQL, meetingID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count accepted participants of meeting %d: %w", meetingID, err)
	}
	return n, nil
}

func (s *MeetingStore) Create(ctx context.Context, m domain.Meeting, invitees []int64, rec domain.HistoryRecord) (domain.Meeting, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Meeting{}, fmt.Errorf("begin create meeting tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	created, err := scanMeeting(tx.QueryRow(ctx, insertMeetingSQL,
		m.Title, m.Location, m.ScheduledAt, m.HostID, m.MaxParticipants, string(domain.StatusWaiting), m.CreatedAt))
	if err != nil {
		return domain.Meeting{}, fmt.Errorf("insert meeting: %w", err)
	}
	if _, err := insertParticipants(ctx, tx, created.ID, []int64{created.HostID}, domain.ResponseAccepted, m.CreatedAt); err != nil {
		return domain.Meeting{}, err
	}
	if len(invitees) > 0 {
		if _, err := insertParticipants(ctx, tx, created.ID, invitees, domain.ResponseInvited, m.CreatedAt); err != nil {
			return domain.Meeting{}, err
		}
	}
	rec.MeetingID = created.ID
	if err := insertHistory(ctx, tx, rec); err != nil {
		return domain.Meeting{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Meeting{}, fmt.Errorf("commit create meeting tx: %w", err)
	}
	return created, nil
}

func (s *MeetingStore) AddParticipants(ctx context.Context, meetingID, expectedVersion int64, userIDs []int64, rec domain.HistoryRecord) ([]int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin invite tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := bumpVersion(ctx, tx, meetingID, expectedVersion, rec); err != nil {
		return nil, err
	}
	inserted, err := insertParticipants(ctx, tx, meetingID, userIDs, domain.ResponseInvited, rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := insertHistory(ctx, tx, rec); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit invite tx: %w", err)
	}

	// RETURNING order is unspecified; report in request order.
	added := make([]int64, 0, len(inserted))
	for _, id := range userIDs {
		if slices.Contains(inserted, id) {
			added = append(added, id)
		}
	}
	return added, nil
}

func (s *MeetingStore) UpdateResponse(ctx context.Context, meetingID, expectedVersion, userID int64, state domain.ResponseState, rec domain.HistoryRecord) (domain.Participant, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Participant{}, fmt.Errorf("begin respond tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	m, err := bumpVersion(ctx, tx, meetingID, expectedVersion, rec)
	if err != nil {
		return domain.Participant{}, err
	}
	current, err := scanParticipant(tx.QueryRow(ctx, selectParticipantForUpdateSQL, meetingID, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Participant{}, apperrors.ErrNotFound
	}
	if err != nil {
		return domain.Participant{}, fmt.Errorf("lock participant %d of meeting %d: %w", userID, meetingID, err)
	}

	if state == domain.ResponseAccepted && current.Response != domain.ResponseAccepted {
		var accepted int
		if err := tx.QueryRow(ctx, countAcceptedSQL, meetingID).Scan(&accepted); err != nil {
			return domain.Participant{}, fmt.Errorf("count accepted participants of meeting %d: %w", meetingID, err)
		}
		if accepted >= m.MaxParticipants {
			return domain.Participant{}, apperrors.ErrLimitReached
		}
	}

	p, err := scanParticipant(tx.QueryRow(ctx, updateResponseSQL, meetingID, userID, string(state), rec.CreatedAt))
	if err != nil {
		return domain.Participant{}, fmt.Errorf("update response of user %d in meeting %d: %w", userID, meetingID, err)
	}
	if err := insertHistory(ctx, tx, rec); err != nil {
		return domain.Participant{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Participant{}, fmt.Errorf("commit respond tx: %w", err)
	}
	return p, nil
}

func (s *MeetingStore) ApplyTransition(ctx context.Context, meetingID, expectedVersion int64, status domain.Status, records []domain.HistoryRecord) (domain.Meeting, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Meeting{}, fmt.Errorf("begin transition tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	at := s.recordTime(records)
	updated, err := scanMeeting(tx.QueryRow(ctx, updateStatusSQL, meetingID, expectedVersion, string(status), at))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Meeting{}, missingOrConflict(ctx, tx, meetingID)
	}
	if err != nil {
		return domain.Meeting{}, fmt.Errorf("update status of meeting %d: %w", meetingID, err)
	}
	for _, rec := range records {
		if err := insertHistory(ctx, tx, rec); err != nil {
			return domain.Meeting{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Meeting{}, fmt.Errorf("commit transition tx: %w", err)
	}
	return updated, nil
}

func (s *MeetingStore) recordTime(records []domain.HistoryRecord) any {
	if len(records) == 0 || records[0].CreatedAt.IsZero() {
		return nil
	}
	return records[0].CreatedAt
}

func (s *MeetingStore) History(ctx context.Context, meetingID int64) ([]domain.HistoryRecord, error) {
	rows, err := s.pool.Query(ctx, selectHistorySQL, meetingID)
	if err != nil {
		return nil, fmt.Errorf("select history of meeting %d: %w", meetingID, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.HistoryRecord, error) {
		var (
			r                      domain.HistoryRecord
			action, previous, next string
		)
		err := row.Scan(&r.ID, &r.MeetingID, &action, &r.ActorID, &previous, &next, &r.Reason, &r.Details, &r.CreatedAt)
		r.Action = domain.HistoryAction(action)
		r.PreviousStatus = domain.Status(previous)
		r.NewStatus = domain.Status(next)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan history of meeting %d: %w", meetingID, err)
	}
	return out, nil
}

func (s *MeetingStore) ListByStatus(ctx context.Context, status domain.Status) ([]domain.Meeting, error) {
	rows, err := s.pool.Query(ctx, selectByStatusSQL, string(status))
	if err != nil {
		return nil, fmt.Errorf("select %s meetings: %w", status, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Meeting, error) {
		return scanMeeting(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s meetings: %w", status, err)
	}
	return out, nil
}

// Search lists meetings matching f, with their participant counts.
func (s *MeetingStore) Search(ctx context.Context, f domain.MeetingFilter) ([]domain.MeetingSummary, error) {
	f = f.Normalize()
	order, ok := meetingOrderSQL[f.Order]
	if !ok {
		return nil, fmt.Errorf("unsupported meeting order %q", f.Order)
	}
	rows, err := s.pool.Query(ctx, searchMeetingsSQL+order+` LIMIT $8`,
		f.HostID, f.ParticipantID, f.Keyword, f.Location, string(f.Status),
		nullableTime(f.From), nullableTime(f.To), f.Limit)
	if err != nil {
		return nil, fmt.Errorf("search meetings: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.MeetingSummary, error) {
		var (
			sm     domain.MeetingSummary
			status string
		)
		err := row.Scan(&sm.ID, &sm.Title, &sm.Location, &sm.ScheduledAt, &sm.HostID, &sm.MaxParticipants,
			&status, &sm.Version, &sm.CreatedAt, &sm.UpdatedAt, &sm.ParticipantCount)
		sm.Status = domain.Status(status)
		return sm, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan meeting search: %w", err)
	}
	return out, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func (s *MeetingStore) CountByStatus(ctx context.Context) (domain.StatusCounts, error) {
	rows, err := s.pool.Query(ctx, countByStatusSQL)
	if err != nil {
		return domain.StatusCounts{}, fmt.Errorf("count meetings by status: %w", err)
	}
	defer rows.Close()

	var counts domain.StatusCounts
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return domain.StatusCounts{}, fmt.Errorf("scan status count: %w", err)
		}
		counts.Add(domain.Status(status), n)
	}
	if err := rows.Err(); err != nil {
		return domain.StatusCounts{}, fmt.Errorf("count meetings by status: %w", err)
	}
	return counts, nil
}

func bumpVersion(ctx context.Context, tx pgx.Tx, meetingID, expectedVersion int64, rec domain.HistoryRecord) (domain.Meeting, error) {
	var at any
	if !rec.CreatedAt.IsZero() {
		at = rec.CreatedAt
	}
	m, err := scanMeeting(tx.QueryRow(ctx, bumpVersionSQL, meetingID, expectedVersion, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Meeting{}, missingOrConflict(ctx, tx, meetingID)
	}
	if err != nil {
		return domain.Meeting{}, fmt.Errorf("bump version of meeting %d: %w", meetingID, err)
	}
	return m, nil
}

// missingOrConflict explains a version-guarded update that matched no row.
func missingOrConflict(ctx context.Context, tx pgx.Tx, meetingID int64) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM meetings WHERE id = $1)`, meetingID).Scan(&exists); err != nil {
		return fmt.Errorf("check meeting %d: %w", meetingID, err)
	}
	if !exists {
		return apperrors.ErrNotFound
	}
	return apperrors.ErrConflict
}

func insertParticipants(ctx context.Context, tx pgx.Tx, meetingID int64, userIDs []int64, state domain.ResponseState, at any) ([]int64, error) {
	rows, err := tx.Query(ctx, insertParticipantsSQL, meetingID, userIDs, string(state), at)
	if err != nil {
		return nil, fmt.Errorf("insert participants of meeting %d: %w", meetingID, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("insert participants of meeting %d: %w", meetingID, err)
	}
	return ids, nil
}

func insertHistory(ctx context.Context, tx pgx.Tx, rec domain.HistoryRecord) error {
	if _, err := tx.Exec(ctx, insertHistorySQL, rec.MeetingID, string(rec.Action), rec.ActorID,
		string(rec.PreviousStatus), string(rec.NewStatus), rec.Reason, rec.Details, rec.CreatedAt); err != nil {
		return fmt.Errorf("append history of meeting %d: %w", rec.MeetingID, err)
	}
	return nil
}
