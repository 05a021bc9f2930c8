package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"promise-service.io/promise/internal/domain"
	apperrors "promise-service.io/promise/internal/pkg/errors"
)

type consentRequest struct {
	TalkMessage *bool `json:"talk_message" binding:"required"`
	Friends     *bool `json:"friends" binding:"required"`
}

// PutMyConsent handles PUT /users/me/consent.
func (s *Server) PutMyConsent(c *gin.Context) {
	user, err := actor(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	var req consentRequest
	if err := bindJSON(c, &req); err != nil {
		_ = c.Error(err)
		return
	}

	stored, err := s.consents.UpsertConsent(c.Request.Context(), domain.Consent{
		UserID:      user,
		TalkMessage: *req.TalkMessage,
		Friends:     *req.Friends,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, stored)
}

type relationshipRequest struct {
	UserID int64 `json:"user_id" binding:"required,gt=0"`
}

// RequestMyRelationship handles POST /users/me/relationships. The edge only
// exists once the other user asked for the caller too.
func (s *Server) RequestMyRelationship(c *gin.Context) {
	user, err := actor(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	var req relationshipRequest
	if err := bindJSON(c, &req); err != nil {
		_ = c.Error(err)
		return
	}
	if req.UserID == user {
		_ = c.Error(apperrors.Validation("cannot relate to yourself").
			WithParams(map[string]any{"user_id": req.UserID}))
		return
	}
	if s.relations == nil {
		_ = c.Error(apperrors.Wrap(apperrors.ErrUnavailable, "RELATIONSHIPS_UNAVAILABLE",
			"relationships are not configured", http.StatusServiceUnavailable))
		return
	}

	linked, err := s.relations.RequestRelationship(c.Request.Context(), user, req.UserID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if linked {
		c.JSON(http.StatusCreated, gin.H{"status": "linked", "user_id": req.UserID})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "pending", "user_id": req.UserID})
}

// ListMyRelationships handles GET /users/me/relationships.
func (s *Server) ListMyRelationships(c *gin.Context) {
	user, err := actor(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if s.relations == nil {
		c.JSON(http.StatusOK, gin.H{"items": []domain.Relationship{}})
		return
	}
	items, err := s.relations.ListRelated(c.Request.Context(), user)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if items == nil {
		items = []domain.Relationship{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}
