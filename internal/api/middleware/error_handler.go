// Package middleware holds the gin middleware of the promise HTTP API.
package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "promise-service.io/promise/internal/pkg/errors"
	"promise-service.io/promise/internal/pkg/logger"
)

// ErrorHandler renders the last error a handler attached with c.Error.
// AppErrors keep their code, status and params; anything else becomes a 500.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		log := logger.FromContext(c.Request.Context())

		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			status := appErr.HTTPStatus
			if status == 0 {
				status = http.StatusInternalServerError
			}
			fields := []zap.Field{
				zap.String("code", appErr.Code),
				zap.Int("status", status),
				zap.String("request_id", GetRequestID(c.Request.Context())),
			}
			if appErr.Err != nil {
				fields = append(fields, zap.Error(appErr.Err))
			}
			if status >= http.StatusInternalServerError {
				log.Error("request failed", fields...)
			} else {
				log.Warn("request rejected", fields...)
			}
			body := gin.H{"code": appErr.Code, "message": appErr.Message}
			if len(appErr.Params) > 0 {
				body["params"] = appErr.Params
			}
			c.JSON(status, body)
			return
		}

		log.Error("unhandled request error",
			zap.Error(err),
			zap.String("request_id", GetRequestID(c.Request.Context())),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    apperrors.CodeInternal,
			"message": "an internal error occurred",
		})
	}
}
