package handlers

import (
	"github.com/gin-gonic/gin"

	"promise-service.io/promise/internal/api/middleware"
)

// RegisterHandlers mounts every route under baseURL. Authentication is
// applied by the caller; operator-only routes carry their permission here.
func RegisterHandlers(router gin.IRouter, s *Server, baseURL string) {
	api := router.Group(baseURL)

	api.GET("/health/live", s.GetLiveness)
	api.GET("/health/ready", s.GetReadiness)

	api.POST("/meetings", s.CreateMeeting)
	api.GET("/meetings", s.ListMeetings)
	api.GET("/meetings/statistics", s.GetMeetingStatistics)
	api.GET("/meetings/search", s.SearchMeetings)
	api.GET("/meetings/popular", s.ListPopularMeetings)
	api.GET("/meetings/recent", s.ListRecentMeetings)
	api.GET("/meetings/:id", s.GetMeeting)
	api.POST("/meetings/:id/participants", s.InviteParticipants)
	api.PUT("/meetings/:id/response", s.RespondToInvitation)
	api.PATCH("/meetings/:id/status", s.TransitionMeeting)
	api.GET("/meetings/:id/history", s.GetMeetingHistory)
	api.GET("/meetings/:id/deliveries", s.ListMeetingDeliveries)
	api.POST("/meetings/:id/deliveries/redispatch", s.RedispatchMeeting)

	api.GET("/deliveries/users/:userId", s.ListUserDeliveries)
	operator := api.Group("/deliveries", middleware.RequirePermission(middleware.PermissionDeliveryRead))
	operator.GET("/traces/:traceId", s.ListTraceDeliveries)
	operator.GET("/success-rate", s.GetSuccessRate)
	operator.GET("/failures", s.ListRecentFailures)

	api.PUT("/users/me/consent", s.PutMyConsent)
	api.POST("/users/me/relationships", s.RequestMyRelationship)
	api.GET("/users/me/relationships", s.ListMyRelationships)
	api.GET("/users/me/meetings/hosted", s.ListMyHostedMeetings)
	api.GET("/users/me/meetings/joined", s.ListMyJoinedMeetings)
}
