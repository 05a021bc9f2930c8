package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"promise-service.io/promise/internal/pkg/logger"
)

const readinessTimeout = 2 * time.Second

// GetLiveness handles GET /health/live.
func (s *Server) GetLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetReadiness handles GET /health/ready. Every configured dependency must
// answer within readinessTimeout.
func (s *Server) GetReadiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	checks := make(map[string]string, len(s.checks))
	healthy := true
	for _, hc := range s.checks {
		if err := hc.Check(ctx); err != nil {
			logger.Warn("readiness check failed", zap.String("check", hc.Name), zap.Error(err))
			checks[hc.Name] = "error"
			healthy = false
			continue
		}
		checks[hc.Name] = "ok"
	}

	body := gin.H{"status": "ok", "checks": checks}
	if s.workers != nil {
		body["workers"] = s.workers()
	}
	if !healthy {
		body["status"] = "degraded"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}
