package handlers

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"promise-service.io/promise/internal/api/middleware"
	apperrors "promise-service.io/promise/internal/pkg/errors"
)

const (
	defaultFailureLimit = 50
	maxFailureLimit     = 500
	defaultRateWindow   = 7 * 24 * time.Hour
)

// pathID parses a positive int64 path parameter.
func pathID(c *gin.Context, name string) (int64, error) {
	raw := c.Param(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.Validation(name + " must be a positive integer").
			WithParams(map[string]any{name: raw})
	}
	return id, nil
}

// actor returns the authenticated user id. JWTAuth runs before every
// handler that calls it, so a missing id is a wiring error.
func actor(c *gin.Context) (int64, error) {
	id, ok := middleware.CurrentUserID(c)
	if !ok {
		return 0, apperrors.Unauthorized(apperrors.CodeTokenInvalid, "authentication required")
	}
	return id, nil
}

func bindJSON(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return apperrors.Validation("invalid request body: " + err.Error())
	}
	return nil
}

// queryTime parses an RFC 3339 query value, returning def when absent.
func queryTime(c *gin.Context, name string, def time.Time) (time.Time, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return def, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, apperrors.Validation(name + " must be an RFC 3339 timestamp").
			WithParams(map[string]any{name: raw})
	}
	return t, nil
}

// queryLimit parses ?limit=, returning def when absent and capping at max.
func queryLimit(c *gin.Context, def, max int) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, apperrors.Validation("limit must be a positive integer")
	}
	return min(n, max), nil
}

// queryUserID parses an optional positive user id query value.
func queryUserID(c *gin.Context, name string) (int64, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.Validation(name + " must be a positive integer").
			WithParams(map[string]any{name: raw})
	}
	return id, nil
}
