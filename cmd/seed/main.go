// Package main seeds users, consents, relationships and channel tokens from a
// YAML fixture. Every write is an upsert, so the command can be re-run.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"promise-service.io/promise/internal/api/middleware"
	"promise-service.io/promise/internal/app/modules"
	"promise-service.io/promise/internal/config"
	"promise-service.io/promise/internal/domain"
	"promise-service.io/promise/internal/infrastructure"
	"promise-service.io/promise/internal/pkg/logger"
	"promise-service.io/promise/internal/pkg/tokencrypt"
	"promise-service.io/promise/internal/repository"
)

type fixtureUser struct {
	ID          int64    `yaml:"id"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type fixtureConsent struct {
	UserID      int64 `yaml:"user_id"`
	TalkMessage bool  `yaml:"talk_message"`
	Friends     bool  `yaml:"friends"`
}

type fixtureToken struct {
	UserID    int64     `yaml:"user_id"`
	Token     string    `yaml:"token"`
	ExpiresAt time.Time `yaml:"expires_at"`
}

type fixture struct {
	Users         []fixtureUser    `yaml:"users"`
	Consents      []fixtureConsent `yaml:"consents"`
	Relationships [][2]int64       `yaml:"relationships"`
	Tokens        []fixtureToken   `yaml:"tokens"`
}

func parseFixture(data []byte) (fixture, error) {
	var fx fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return fixture{}, fmt.Errorf("decode fixture: %w", err)
	}
	for _, u := range fx.Users {
		if u.ID <= 0 {
			return fixture{}, fmt.Errorf("user %q: id must be positive", u.Name)
		}
	}
	for _, c := range fx.Consents {
		if c.UserID <= 0 {
			return fixture{}, fmt.Errorf("consent: user_id must be positive, got %d", c.UserID)
		}
	}
	for _, r := range fx.Relationships {
		if r[0] <= 0 || r[1] <= 0 || r[0] == r[1] {
			return fixture{}, fmt.Errorf("relationship %v: needs two distinct positive ids", r)
		}
	}
	for _, t := range fx.Tokens {
		if t.UserID <= 0 || t.Token == "" {
			return fixture{}, fmt.Errorf("token for user %d: user_id and token are required", t.UserID)
		}
	}
	return fx, nil
}

type seedStore interface {
	UpsertUser(ctx context.Context, userID int64, displayName string) error
	UpsertConsent(ctx context.Context, c domain.Consent) (domain.Consent, error)
	AddRelationship(ctx context.Context, a, b int64) error
	PutAccessToken(ctx context.Context, userID int64, token string, expiresAt time.Time) error
}

// repoSeedStore glues the three repository stores into one seedStore.
type repoSeedStore struct {
	*repository.UserStore
	*repository.ConsentStore
	*repository.TokenStore
}

func apply(ctx context.Context, store seedStore, fx fixture) error {
	for _, u := range fx.Users {
		if err := store.UpsertUser(ctx, u.ID, u.Name); err != nil {
			return err
		}
	}
	for _, c := range fx.Consents {
		if _, err := store.UpsertConsent(ctx, domain.Consent{
			UserID:      c.UserID,
			TalkMessage: c.TalkMessage,
			Friends:     c.Friends,
		}); err != nil {
			return err
		}
	}
	for _, r := range fx.Relationships {
		if err := store.AddRelationship(ctx, r[0], r[1]); err != nil {
			return err
		}
	}
	for _, t := range fx.Tokens {
		if err := store.PutAccessToken(ctx, t.UserID, t.Token, t.ExpiresAt); err != nil {
			return err
		}
	}
	return nil
}

// printTokens writes one development JWT per fixture user.
func printTokens(w io.Writer, jwtCfg middleware.JWTConfig, users []fixtureUser) error {
	for _, u := range users {
		token, expiresAt, err := middleware.GenerateToken(jwtCfg, u.ID, u.Name, u.Permissions)
		if err != nil {
			return fmt.Errorf("issue token for user %d: %w", u.ID, err)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", u.ID, u.Name, expiresAt.UTC().Format(time.RFC3339), token)
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "seed error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fixturePath := flag.String("fixture", "seed.yaml", "path to the YAML fixture")
	issueTokens := flag.Bool("issue-tokens", false, "print a development JWT for each fixture user")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	data, err := os.ReadFile(*fixturePath)
	if err != nil {
		return fmt.Errorf("read fixture: %w", err)
	}
	fx, err := parseFixture(data)
	if err != nil {
		return err
	}

	sealer, err := tokencrypt.New(cfg.Security.EncryptionKey)
	if err != nil {
		return fmt.Errorf("init token sealer: %w", err)
	}

	ctx := context.Background()
	db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer db.Close()

	if err := repository.Migrate(ctx, db.Pool); err != nil {
		return err
	}

	store := repoSeedStore{
		UserStore:    repository.NewUserStore(db.Pool),
		ConsentStore: repository.NewConsentStore(db.Pool),
		TokenStore:   repository.NewTokenStore(db.Pool, sealer),
	}
	if err := apply(ctx, store, fx); err != nil {
		return fmt.Errorf("apply fixture: %w", err)
	}
	logger.Info("Seeding completed",
		zap.Int("users", len(fx.Users)),
		zap.Int("consents", len(fx.Consents)),
		zap.Int("relationships", len(fx.Relationships)),
		zap.Int("tokens", len(fx.Tokens)),
	)

	if *issueTokens {
		return printTokens(os.Stdout, modules.JWTConfig(cfg), fx.Users)
	}
	return nil
}
