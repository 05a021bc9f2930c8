package handlers

import (
	"github.com/gin-gonic/gin"

	"promise-service.io/promise/internal/api/middleware"
	apperrors "promise-service.io/promise/internal/pkg/errors"
)

// requireSelfOrPermission lets users read their own data and operators with
// permission read anyone's.
func requireSelfOrPermission(c *gin.Context, owner int64, permission string) error {
	id, err := actor(c)
	if err != nil {
		return err
	}
	if id == owner || middleware.HasPermission(c, permission) {
		return nil
	}
	return apperrors.Forbidden("FORBIDDEN", "insufficient permissions").
		WithParams(map[string]any{"required": permission})
}
