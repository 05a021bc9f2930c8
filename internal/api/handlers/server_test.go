package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"promise-service.io/promise/internal/api/middleware"
	"promise-service.io/promise/internal/deliverylog"
	"promise-service.io/promise/internal/domain"
	"promise-service.io/promise/internal/meeting"
	"promise-service.io/promise/internal/notification"
	apperrors "promise-service.io/promise/internal/pkg/errors"
	"promise-service.io/promise/internal/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
	_ = logger.Init("error", "json")
}

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeMeetings struct {
	meetings map[int64]domain.Meeting
	err      error

	created    meeting.CreateInput
	invited    []int64
	responded  domain.ResponseState
	transition domain.Status
	reason     string
	actor      int64
	filter     domain.MeetingFilter
}

func newFakeMeetings(ms ...domain.Meeting) *fakeMeetings {
	f := &fakeMeetings{meetings: map[int64]domain.Meeting{}}
	for _, m := range ms {
		f.meetings[m.ID] = m
	}
	return f
}

func (f *fakeMeetings) lookup(id int64) (domain.Meeting, error) {
	if f.err != nil {
		return domain.Meeting{}, f.err
	}
	m, ok := f.meetings[id]
	if !ok {
		return domain.Meeting{}, apperrors.MeetingNotFound(id)
	}
	return m, nil
}

func (f *fakeMeetings) Create(_ context.Context, in meeting.CreateInput) (meeting.Result[domain.Meeting], error) {
	if f.err != nil {
		return meeting.Result[domain.Meeting]{}, f.err
	}
	f.created = in
	m := domain.Meeting{ID: 10, Title: in.Title, HostID: in.HostID, Status: domain.StatusWaiting, Version: 1}
	return meeting.Result[domain.Meeting]{
		Value:        m,
		Notification: &notification.AggregateResult{TraceID: "t-1", Sent: in.InviteeIDs},
	}, nil
}

func (f *fakeMeetings) Get(_ context.Context, id int64) (meeting.Details, error) {
	m, err := f.lookup(id)
	if err != nil {
		return meeting.Details{}, err
	}
	return meeting.Details{
		Meeting: m,
		Participants: []domain.Participant{
			{MeetingID: id, UserID: m.HostID, Response: domain.ResponseAccepted},
			{MeetingID: id, UserID: 2, Response: domain.ResponseInvited},
		},
		AcceptedCount: 1,
	}, nil
}

func (f *fakeMeetings) ListByStatus(_ context.Context, st domain.Status) ([]domain.Meeting, error) {
	var out []domain.Meeting
	for _, m := range f.meetings {
		if m.Status == st {
			out = append(out, m)
		}
	}
	return out, f.err
}

func (f *fakeMeetings) summaries(keep func(domain.Meeting) bool) []domain.MeetingSummary {
	var out []domain.MeetingSummary
	for _, m := range f.meetings {
		if keep(m) {
			out = append(out, domain.MeetingSummary{Meeting: m, ParticipantCount: 2})
		}
	}
	return out
}

func (f *fakeMeetings) ListByHost(_ context.Context, userID int64, limit int) ([]domain.MeetingSummary, error) {
	f.filter = domain.MeetingFilter{HostID: userID, Limit: limit}
	return f.summaries(func(m domain.Meeting) bool { return m.HostID == userID }), f.err
}

// ListByParticipant treats user 2 as a member of every meeting, like Get.
func (f *fakeMeetings) ListByParticipant(_ context.Context, userID int64, limit int) ([]domain.MeetingSummary, error) {
	f.filter = domain.MeetingFilter{ParticipantID: userID, Limit: limit}
	return f.summaries(func(m domain.Meeting) bool { return m.HostID == userID || userID == 2 }), f.err
}

func (f *fakeMeetings) Search(_ context.Context, filter domain.MeetingFilter) ([]domain.MeetingSummary, error) {
	f.filter = filter
	return f.summaries(func(m domain.Meeting) bool { return filter.Matches(m, nil) }), f.err
}

func (f *fakeMeetings) Invite(_ context.Context, id, actorID int64, ids []int64) (meeting.Result[[]int64], error) {
	if _, err := f.lookup(id); err != nil {
		return meeting.Result[[]int64]{}, err
	}
	f.actor, f.invited = actorID, ids
	return meeting.Result[[]int64]{Value: ids}, nil
}

func (f *fakeMeetings) Respond(_ context.Context, id, userID int64, st domain.ResponseState) (meeting.Result[domain.Participant], error) {
	if _, err := f.lookup(id); err != nil {
		return meeting.Result[domain.Participant]{}, err
	}
	f.actor, f.responded = userID, st
	return meeting.Result[domain.Participant]{Value: domain.Participant{MeetingID: id, UserID: userID, Response: st}}, nil
}

func (f *fakeMeetings) Transition(_ context.Context, id int64, to domain.Status, actorID int64, reason string) (meeting.TransitionResult, error) {
	m, err := f.lookup(id)
	if err != nil {
		return meeting.TransitionResult{}, err
	}
	if actorID != m.HostID {
		return meeting.TransitionResult{}, apperrors.MeetingUnauthorized(id, actorID)
	}
	f.actor, f.transition, f.reason = actorID, to, reason
	prev := m.Status
	m.Status = to
	return meeting.TransitionResult{Meeting: m, PreviousStatus: prev}, nil
}

func (f *fakeMeetings) History(_ context.Context, id int64) ([]domain.HistoryRecord, error) {
	if _, err := f.lookup(id); err != nil {
		return nil, err
	}
	return nil, nil
}

func (f *fakeMeetings) Statistics(context.Context) (domain.StatusCounts, error) {
	var c domain.StatusCounts
	for _, m := range f.meetings {
		c.Add(m.Status, 1)
	}
	return c, f.err
}

type fakeConsents struct{ got domain.Consent }

func (f *fakeConsents) UpsertConsent(_ context.Context, c domain.Consent) (domain.Consent, error) {
	f.got = c
	c.UpdatedAt = testNow
	return c, nil
}

type fakeRelations struct {
	requests map[[2]int64]bool
	edges    []domain.Relationship
}

func (f *fakeRelations) RequestRelationship(_ context.Context, from, to int64) (bool, error) {
	if f.requests == nil {
		f.requests = map[[2]int64]bool{}
	}
	if f.requests[[2]int64{to, from}] {
		f.edges = append(f.edges,
			domain.Relationship{UserID: from, RelatedID: to, CreatedAt: testNow},
			domain.Relationship{UserID: to, RelatedID: from, CreatedAt: testNow})
		return true, nil
	}
	f.requests[[2]int64{from, to}] = true
	return false, nil
}

func (f *fakeRelations) ListRelated(_ context.Context, userID int64) ([]domain.Relationship, error) {
	var out []domain.Relationship
	for _, r := range f.edges {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeEnqueuer struct {
	reqs []notification.RedispatchRequest
	err  error
}

func (f *fakeEnqueuer) EnqueueRedispatch(_ context.Context, req notification.RedispatchRequest) error {
	if f.err != nil {
		return f.err
	}
	f.reqs = append(f.reqs, req)
	return nil
}

type harness struct {
	router     *gin.Engine
	meetings   *fakeMeetings
	deliveries *deliverylog.MemoryStore
	consents   *fakeConsents
	relations  *fakeRelations
	enqueuer   *fakeEnqueuer
}

// asUser stands in for JWTAuth.
func asUser(id int64, perms ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if id > 0 {
			c.Set("permissions", perms)
			c.Request = c.Request.WithContext(middleware.SetUserContext(c.Request.Context(), id, ""))
		}
		c.Next()
	}
}

func newHarness(userID int64, perms ...string) *harness {
	h := &harness{
		meetings:   newFakeMeetings(domain.Meeting{ID: 1, Title: "Lunch", HostID: 1, Status: domain.StatusWaiting, Version: 3}),
		deliveries: deliverylog.NewMemoryStore(func() time.Time { return testNow }),
		consents:   &fakeConsents{},
		relations:  &fakeRelations{},
		enqueuer:   &fakeEnqueuer{},
	}
	s := NewServer(ServerDeps{
		Meetings:   h.meetings,
		Deliveries: h.deliveries,
		Consents:   h.consents,
		Relations:  h.relations,
		Enqueuer:   h.enqueuer,
		Checks: []HealthCheck{
			{Name: "database", Check: func(context.Context) error { return nil }},
		},
		Now: func() time.Time { return testNow },
	})
	h.router = gin.New()
	h.router.Use(middleware.RequestID(), middleware.ErrorHandler(), asUser(userID, perms...))
	RegisterHandlers(h.router, s, "/api/v1")
	return h
}

func (h *harness) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w.Code, out
}

func (h *harness) recordAttempt(t *testing.T, meetingID, userID int64, trace string, status int) {
	t.Helper()
	_, _, err := h.deliveries.Record(context.Background(), deliverylog.Attempt{
		Key:        deliverylog.Key{MeetingID: meetingID, UserID: userID, Channel: domain.ChannelTemplate, TraceID: trace},
		HTTPStatus: status,
		CreatedAt:  testNow.Add(-time.Hour),
	})
	require.NoError(t, err)
}

var errBoom = errors.New("boom")
