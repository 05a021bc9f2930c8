// Package testutil provides PostgreSQL fixtures for store tests.
package testutil

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	nonIdentChars = regexp.MustCompile(`[^a-z0-9_]+`)
	searchPathKV  = regexp.MustCompile(`search_path=\S+`)
)

// DSN returns TEST_DATABASE_URL, falling back to DATABASE_URL.
func DSN() string {
	if dsn := strings.TrimSpace(os.Getenv("TEST_DATABASE_URL")); dsn != "" {
		return dsn
	}
	return strings.TrimSpace(os.Getenv("DATABASE_URL"))
}

// OpenPGXPool returns a pool whose search_path points at a fresh schema that
// is dropped when the test ends. The test is skipped when no DSN is set.
func OpenPGXPool(t *testing.T, prefix string) *pgxpool.Pool {
	t.Helper()

	dsn := DSN()
	if dsn == "" {
		t.Skip("PostgreSQL not configured: set TEST_DATABASE_URL to run store tests")
	}

	ctx := context.Background()
	schema := newSchemaName(prefix)

	admin, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres admin pool: %v", err)
	}
	t.Cleanup(admin.Close)

	if _, err := admin.Exec(ctx, fmt.Sprintf(`CREATE SCHEMA "%s"`, schema)); err != nil {
		t.Fatalf("create test schema %q: %v", schema, err)
	}
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), fmt.Sprintf(`DROP SCHEMA IF EXISTS "%s" CASCADE`, schema))
	})

	schemaDSN, err := dsnWithSearchPath(dsn, schema)
	if err != nil {
		t.Fatalf("build DSN with search_path: %v", err)
	}
	pool, err := pgxpool.New(ctx, schemaDSN)
	if err != nil {
		t.Fatalf("open postgres test pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("ping postgres test pool: %v", err)
	}
	return pool
}

func dsnWithSearchPath(dsn, schema string) (string, error) {
	if strings.Contains(dsn, "://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("parse DSN: %w", err)
		}
		q := u.Query()
		q.Set("search_path", schema)
		u.RawQuery = q.Encode()
		return u.String(), nil
	}
	if searchPathKV.MatchString(dsn) {
		return searchPathKV.ReplaceAllString(dsn, "search_path="+schema), nil
	}
	return dsn + " search_path=" + schema, nil
}

func newSchemaName(prefix string) string {
	base := nonIdentChars.ReplaceAllString(strings.ToLower(prefix), "_")
	base = strings.Trim(base, "_")
	if base == "" {
		base = "test"
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")

	const maxIdent = 63
	if room := maxIdent - len("t__") - len(suffix); len(base) > room {
		base = base[:room]
	}
	return fmt.Sprintf("t_%s_%s", base, suffix)
}
