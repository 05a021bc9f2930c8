package modules

import (
	"context"
	"strings"
	"time"

	"promise-service.io/promise/internal/api/handlers"
	"promise-service.io/promise/internal/api/middleware"
	"promise-service.io/promise/internal/config"
)

const jwtIssuer = "promise"

// JWTConfig builds the verification settings from the security section.
func JWTConfig(cfg *config.Config) middleware.JWTConfig {
	verificationKeys := make([][]byte, 0, len(cfg.Security.JWTVerificationKeys))
	for _, key := range cfg.Security.JWTVerificationKeys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		verificationKeys = append(verificationKeys, []byte(key))
	}
	return middleware.JWTConfig{
		SigningKey:       []byte(cfg.Security.SessionSecret),
		VerificationKeys: verificationKeys,
		Issuer:           jwtIssuer,
		ExpiresIn:        24 * time.Hour,
	}
}

// NewServerDeps builds base server deps then lets each module contribute explicit wiring.
func NewServerDeps(infra *Infrastructure, mods []Module) handlers.ServerDeps {
	var deps handlers.ServerDeps
	if infra != nil {
		deps.Checks = readinessChecks(infra)
		if infra.Pools != nil {
			deps.WorkerStats = infra.Pools.Metrics
		}
	}
	for _, mod := range mods {
		if mod == nil {
			continue
		}
		contributor, ok := mod.(ServerDepsContributor)
		if !ok {
			continue
		}
		contributor.ContributeServerDeps(&deps)
	}
	return deps
}

func readinessChecks(infra *Infrastructure) []handlers.HealthCheck {
	var checks []handlers.HealthCheck
	if infra.Pool != nil {
		checks = append(checks, handlers.HealthCheck{Name: "database", Check: infra.Pool.Ping})
	}
	if infra.Redis != nil {
		checks = append(checks, handlers.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			return infra.Redis.Ping(ctx).Err()
		}})
	}
	return checks
}
