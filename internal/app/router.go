package app

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"promise-service.io/promise/internal/api/handlers"
	"promise-service.io/promise/internal/api/middleware"
	"promise-service.io/promise/internal/config"
	"promise-service.io/promise/internal/pkg/logger"
)

const apiBaseURL = "/api/v1"

// Public routes that do NOT require JWT authentication.
var publicPrefixes = []string{
	"/api/v1/health/",
}

// adminPrefixes are routes that require platform:admin.
var adminPrefixes = []string{
	"/log/level",
}

// defaultDevOrigins apply when no origins are configured.
var defaultDevOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
}

func newRouter(cfg *config.Config, server *handlers.Server, jwtCfg middleware.JWTConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID())
	router.Use(cors.New(buildCORSConfig(cfg)))
	// The validator buffers the response, so ErrorHandler must render
	// inside it.
	router.Use(middleware.MustOpenAPIValidator(apiBaseURL), middleware.ErrorHandler())
	router.Use(jwtSkipPublic(jwtCfg))
	router.Use(rbacAdminRoutes())

	handlers.RegisterHandlers(router, server, apiBaseURL)

	level := gin.WrapH(logger.HTTPHandler())
	router.GET("/log/level", level)
	router.PUT("/log/level", level)
	return router
}

func buildCORSConfig(cfg *config.Config) cors.Config {
	cc := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders:    []string{middleware.RequestIDHeader},
		AllowCredentials: cfg.Server.AllowCredentials,
		MaxAge:           12 * time.Hour,
	}

	if cfg.Server.UnsafeAllowAllOrigins {
		// Browsers reject credentials with a wildcard origin.
		cc.AllowAllOrigins = true
		cc.AllowCredentials = false
		return cc
	}

	origins := make([]string, 0, len(cfg.Server.AllowedOrigins))
	for _, o := range cfg.Server.AllowedOrigins {
		o = strings.TrimSpace(o)
		if o == "" || o == "*" {
			continue
		}
		origins = append(origins, o)
	}
	if len(origins) == 0 {
		origins = append(origins, defaultDevOrigins...)
	}
	cc.AllowOrigins = origins
	return cc
}

// jwtSkipPublic applies JWT auth only on non-public routes.
func jwtSkipPublic(jwtCfg middleware.JWTConfig) gin.HandlerFunc {
	jwtMw := middleware.JWTAuth(jwtCfg)
	return func(c *gin.Context) {
		for _, prefix := range publicPrefixes {
			if strings.HasPrefix(c.Request.URL.Path, prefix) {
				c.Next()
				return
			}
		}
		jwtMw(c)
	}
}

// rbacAdminRoutes enforces platform:admin on admin endpoints.
func rbacAdminRoutes() gin.HandlerFunc {
	adminMw := middleware.RequirePermission(middleware.PermissionAdmin)
	return func(c *gin.Context) {
		for _, prefix := range adminPrefixes {
			if strings.HasPrefix(c.Request.URL.Path, prefix) {
				adminMw(c)
				return
			}
		}
		c.Next()
	}
}
