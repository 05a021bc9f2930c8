package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutMyConsent(t *testing.T) {
	h := newHarness(5)

	code, body := h.do(t, http.MethodPut, "/api/v1/users/me/consent", map[string]any{"talk_message": true, "friends": false})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, int64(5), h.consents.got.UserID)
	assert.True(t, h.consents.got.TalkMessage)
	assert.False(t, h.consents.got.Friends)

	code, _ = h.do(t, http.MethodPut, "/api/v1/users/me/consent", map[string]any{"talk_message": true})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHealth(t *testing.T) {
	h := newHarness(0)

	code, body := h.do(t, http.MethodGet, "/api/v1/health/live", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	code, body = h.do(t, http.MethodGet, "/api/v1/health/ready", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"database": "ok"}, body["checks"])
}

func TestReadinessReportsWorkerPools(t *testing.T) {
	s := NewServer(ServerDeps{WorkerStats: func() map[string]map[string]int {
		return map[string]map[string]int{"general": {"running": 1, "free": 63, "cap": 64}}
	}})
	router := gin.New()
	RegisterHandlers(router, s, "/api/v1")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health/ready", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","checks":{},"workers":{"general":{"running":1,"free":63,"cap":64}}}`, w.Body.String())
}

func TestReadinessDegraded(t *testing.T) {
	s := NewServer(ServerDeps{Checks: []HealthCheck{
		{Name: "redis", Check: func(context.Context) error { return errBoom }},
	}})
	router := gin.New()
	RegisterHandlers(router, s, "/api/v1")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"redis":"error"`)
}

func TestRequestMyRelationship(t *testing.T) {
	h := newHarness(5)

	code, body := h.do(t, http.MethodPost, "/api/v1/users/me/relationships", map[string]any{"user_id": 9})
	require.Equal(t, http.StatusAccepted, code, body)
	assert.Equal(t, "pending", body["status"])

	code, body = h.do(t, http.MethodGet, "/api/v1/users/me/relationships", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["items"])

	h.relations.requests[[2]int64{7, 5}] = true
	code, body = h.do(t, http.MethodPost, "/api/v1/users/me/relationships", map[string]any{"user_id": 7})
	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, "linked", body["status"])

	code, body = h.do(t, http.MethodGet, "/api/v1/users/me/relationships", nil)
	require.Equal(t, http.StatusOK, code)
	items := body["items"].([]any)
	require.Len(t, items, 1)
	assert.EqualValues(t, 7, items[0].(map[string]any)["related_id"])
}

func TestRequestMyRelationship_Rejections(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
	}{
		{"self", map[string]any{"user_id": 5}},
		{"missing user", map[string]any{}},
		{"negative user", map[string]any{"user_id": -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(5)
			code, body := h.do(t, http.MethodPost, "/api/v1/users/me/relationships", tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, "VALIDATION_FAILED", body["code"])
			assert.Empty(t, h.relations.requests)
		})
	}
}
