package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"promise-service.io/promise/internal/domain"
	"promise-service.io/promise/internal/pkg/tokencrypt"
)

// ConsentStore holds consent records and the relationship graph read by the
// notification guard.
type ConsentStore struct {
	pool *pgxpool.Pool
}

func NewConsentStore(pool *pgxpool.Pool) *ConsentStore {
	return &ConsentStore{pool: pool}
}

// Consent returns found=false when the user never recorded consent.
func (s *ConsentStore) Consent(ctx context.Context, userID int64) (domain.Consent, bool, error) {
	c := domain.Consent{UserID: userID}
	err := s.pool.QueryRow(ctx,
		`SELECT talk_message, friends, updated_at FROM user_consents WHERE user_id = $1`, userID,
	).Scan(&c.TalkMessage, &c.Friends, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Consent{}, false, nil
	}
	if err != nil {
		return domain.Consent{}, false, fmt.Errorf("select consent of user %d: %w", userID, err)
	}
	return c, true, nil
}

func (s *ConsentStore) UpsertConsent(ctx context.Context, c domain.Consent) (domain.Consent, error) {
	err := s.pool.QueryRow(ctx, `
INSERT INTO user_consents (user_id, talk_message, friends, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (user_id) DO UPDATE
SET talk_message = EXCLUDED.talk_message, friends = EXCLUDED.friends, updated_at = EXCLUDED.updated_at
RETURNING updated_at`, c.UserID, c.TalkMessage, c.Friends).Scan(&c.UpdatedAt)
	if err != nil {
		return domain.Consent{}, fmt.Errorf("upsert consent of user %d: %w", c.UserID, err)
	}
	return c, nil
}

func normalizeEdge(a, b int64) (int64, int64) {
	if a > b {
		return b, a
	}
	return a, b
}

// Related reports whether a and b share an edge, in either direction.
func (s *ConsentStore) Related(ctx context.Context, a, b int64) (bool, error) {
	if a == b {
		return false, nil
	}
	lo, hi := normalizeEdge(a, b)
	var related bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM relationships WHERE user_a = $1 AND user_b = $2)`, lo, hi,
	).Scan(&related)
	if err != nil {
		return false, fmt.Errorf("check relationship %d-%d: %w", lo, hi, err)
	}
	return related, nil
}

// AddRelationship stores the edge once regardless of argument order.
func (s *ConsentStore) AddRelationship(ctx context.Context, a, b int64) error {
	if a == b {
		return fmt.Errorf("relationship needs two distinct users, got %d twice", a)
	}
	lo, hi := normalizeEdge(a, b)
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO relationships (user_a, user_b) VALUES ($1, $2) ON CONFLICT DO NOTHING`, lo, hi,
	); err != nil {
		return fmt.Errorf("insert relationship %d-%d: %w", lo, hi, err)
	}
	return nil
}

// RequestRelationship records that from asked to connect with to. When to
// already asked for from, both requests are consumed and the edge is stored;
// linked reports that case.
func (s *ConsentStore) RequestRelationship(ctx context.Context, from, to int64) (linked bool, err error) {
	if from == to {
		return false, fmt.Errorf("relationship needs two distinct users, got %d twice", from)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin relationship request tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lo, hi := normalizeEdge(from, to)
	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM relationships WHERE user_a = $1 AND user_b = $2)`, lo, hi,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check relationship %d-%d: %w", lo, hi, err)
	}
	if exists {
		return true, nil
	}

	tag, err := tx.Exec(ctx,
		`DELETE FROM relationship_requests WHERE requester_id = $1 AND target_id = $2`, to, from)
	if err != nil {
		return false, fmt.Errorf("consume relationship request %d->%d: %w", to, from, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := tx.Exec(ctx, `
INSERT INTO relationship_requests (requester_id, target_id) VALUES ($1, $2)
ON CONFLICT DO NOTHING`, from, to); err != nil {
			return false, fmt.Errorf("insert relationship request %d->%d: %w", from, to, err)
		}
	} else {
		if _, err := tx.Exec(ctx,
			`INSERT INTO relationships (user_a, user_b) VALUES ($1, $2) ON CONFLICT DO NOTHING`, lo, hi,
		); err != nil {
			return false, fmt.Errorf("insert relationship %d-%d: %w", lo, hi, err)
		}
		linked = true
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit relationship request %d->%d: %w", from, to, err)
	}
	return linked, nil
}

// ListRelated returns the users sharing an edge with userID, newest first.
func (s *ConsentStore) ListRelated(ctx context.Context, userID int64) ([]domain.Relationship, error) {
	rows, err := s.pool.Query(ctx, `
SELECT CASE WHEN user_a = $1 THEN user_b ELSE user_a END, created_at
FROM relationships
WHERE user_a = $1 OR user_b = $1
ORDER BY created_at DESC, 1`, userID)
	if err != nil {
		return nil, fmt.Errorf("select relationships of user %d: %w", userID, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Relationship, error) {
		r := domain.Relationship{UserID: userID}
		err := row.Scan(&r.RelatedID, &r.CreatedAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan relationships of user %d: %w", userID, err)
	}
	return out, nil
}

// TokenStore keeps channel access tokens sealed at rest.
type TokenStore struct {
	pool   *pgxpool.Pool
	sealer *tokencrypt.Sealer
}

func NewTokenStore(pool *pgxpool.Pool, sealer *tokencrypt.Sealer) *TokenStore {
	return &TokenStore{pool: pool, sealer: sealer}
}

func (s *TokenStore) AccessToken(ctx context.Context, userID int64) (domain.AccessToken, bool, error) {
	var (
		sealed    string
		expiresAt *time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT sealed_token, expires_at FROM channel_access_tokens WHERE user_id = $1`, userID,
	).Scan(&sealed, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AccessToken{}, false, nil
	}
	if err != nil {
		return domain.AccessToken{}, false, fmt.Errorf("select access token of user %d: %w", userID, err)
	}

	token, err := s.sealer.Open(userID, sealed)
	if err != nil {
		return domain.AccessToken{}, false, fmt.Errorf("open access token of user %d: %w", userID, err)
	}
	out := domain.AccessToken{UserID: userID, Token: token}
	if expiresAt != nil {
		out.ExpiresAt = expiresAt.UTC()
	}
	return out, true, nil
}

// PutAccessToken seals and stores token. A zero expiresAt means no expiry.
func (s *TokenStore) PutAccessToken(ctx context.Context, userID int64, token string, expiresAt time.Time) error {
	sealed, err := s.sealer.Seal(userID, token)
	if err != nil {
		return fmt.Errorf("seal access token of user %d: %w", userID, err)
	}
	var expiry *time.Time
	if !expiresAt.IsZero() {
		expiry = &expiresAt
	}
	if _, err := s.pool.Exec(ctx, `
INSERT INTO channel_access_tokens (user_id, sealed_token, expires_at, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (user_id) DO UPDATE
SET sealed_token = EXCLUDED.sealed_token, expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at`,
		userID, sealed, expiry); err != nil {
		return fmt.Errorf("store access token of user %d: %w", userID, err)
	}
	return nil
}

// UserStore resolves display names for message rendering.
type UserStore struct {
	pool *pgxpool.Pool
}

func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

// DisplayName returns "" without error for unknown users; the catalog
// falls back to a generic name.
func (s *UserStore) DisplayName(ctx context.Context, userID int64) (string, error) {
	var name string
	err := s.pool.QueryRow(ctx, `SELECT display_name FROM users WHERE id = $1`, userID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("select display name of user %d: %w", userID, err)
	}
	return name, nil
}

// UpsertUser writes a user with an explicit id. Used by the seed command.
func (s *UserStore) UpsertUser(ctx context.Context, userID int64, displayName string) error {
	if _, err := s.pool.Exec(ctx, `
INSERT INTO users (id, display_name) VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name`, userID, displayName); err != nil {
		return fmt.Errorf("upsert user %d: %w", userID, err)
	}
	// Keep the sequence ahead of explicit ids.
	if _, err := s.pool.Exec(ctx,
		`SELECT setval(pg_get_serial_sequence('users', 'id'), GREATEST((SELECT MAX(id) FROM users), 1))`,
	); err != nil {
		return fmt.Errorf("advance user id sequence: %w", err)
	}
	return nil
}
