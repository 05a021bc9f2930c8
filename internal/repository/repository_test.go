package repository_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promise-service.io/promise/internal/domain"
	"promise-service.io/promise/internal/meeting"
	apperrors "promise-service.io/promise/internal/pkg/errors"
	"promise-service.io/promise/internal/pkg/tokencrypt"
	"promise-service.io/promise/internal/repository"
	"promise-service.io/promise/internal/testutil"
)

var now = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func openPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	pool := testutil.OpenPGXPool(t, "repository")
	require.NoError(t, repository.Migrate(context.Background(), pool))
	return pool
}

func createMeeting(t *testing.T, s *repository.MeetingStore, maxParticipants int, invitees ...int64) domain.Meeting {
	t.Helper()
	m, err := s.Create(context.Background(), domain.Meeting{
		Title:           "Team lunch",
		Location:        "Seongsu",
		ScheduledAt:     now.Add(24 * time.Hour),
		HostID:          1,
		MaxParticipants: maxParticipants,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, invitees, domain.HistoryRecord{Action: domain.ActionCreated, ActorID: 1, NewStatus: domain.StatusWaiting, CreatedAt: now})
	require.NoError(t, err)
	return m
}

func TestMeetingStore_CreateAndRead(t *testing.T) {
	s := repository.NewMeetingStore(openPool(t))
	ctx := context.Background()

	m := createMeeting(t, s, 4, 2, 3)
	assert.Equal(t, domain.StatusWaiting, m.Status)
	assert.Equal(t, int64(1), m.Version)

	got, err := s.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.Title, got.Title)
	assert.True(t, m.ScheduledAt.Equal(got.ScheduledAt))

	parts, err := s.Participants(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, parts, 3)
	byUser := map[int64]domain.ResponseState{}
	for _, p := range parts {
		byUser[p.UserID] = p.Response
	}
	assert.Equal(t, domain.ResponseAccepted, byUser[1])
	assert.Equal(t, domain.ResponseInvited, byUser[2])

	n, err := s.CountAccepted(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Get(ctx, m.ID+1000)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestMeetingStore_ApplyTransitionVersionGuard(t *testing.T) {
	s := repository.NewMeetingStore(openPool(t))
	ctx := context.Background()
	m := createMeeting(t, s, 4)

	recs := []domain.HistoryRecord{
		{MeetingID: m.ID, Action: domain.ActionStatusChanged, ActorID: 1, PreviousStatus: domain.StatusWaiting, NewStatus: domain.StatusCancelled, Reason: "rain", CreatedAt: now.Add(time.Minute)},
		{MeetingID: m.ID, Action: domain.ActionCancelled, ActorID: 1, PreviousStatus: domain.StatusWaiting, NewStatus: domain.StatusCancelled, CreatedAt: now.Add(time.Minute)},
	}
	updated, err := s.ApplyTransition(ctx, m.ID, m.Version, domain.StatusCancelled, recs)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, updated.Status)
	assert.Equal(t, int64(2), updated.Version)

	_, err = s.ApplyTransition(ctx, m.ID, m.Version, domain.StatusWaiting, nil)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	_, err = s.ApplyTransition(ctx, m.ID+1000, 1, domain.StatusWaiting, nil)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	history, err := s.History(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, domain.ActionCancelled, history[0].Action)
	assert.Equal(t, "rain", history[1].Reason)
	assert.Equal(t, domain.ActionCreated, history[2].Action)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCounts{Cancelled: 1, Total: 1}, counts)
}

func TestMeetingStore_InviteAndRespond(t *testing.T) {
	s := repository.NewMeetingStore(openPool(t))
	ctx := context.Background()
	m := createMeeting(t, s, 2, 2)

	rec := domain.HistoryRecord{MeetingID: m.ID, Action: domain.ActionInvited, ActorID: 1, CreatedAt: now}
	added, err := s.AddParticipants(ctx, m.ID, 1, []int64{4, 2, 3}, rec)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 3}, added)

	resp := domain.HistoryRecord{MeetingID: m.ID, Action: domain.ActionResponded, ActorID: 2, CreatedAt: now}
	p, err := s.UpdateResponse(ctx, m.ID, 2, 2, domain.ResponseAccepted, resp)
	require.NoError(t, err)
	assert.Equal(t, domain.ResponseAccepted, p.Response)
	assert.NotNil(t, p.JoinedAt)

	_, err = s.UpdateResponse(ctx, m.ID, 3, 3, domain.ResponseAccepted, resp)
	assert.ErrorIs(t, err, apperrors.ErrLimitReached)

	_, err = s.UpdateResponse(ctx, m.ID, 3, 9, domain.ResponseDeclined, resp)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	// Failed writes roll back the version bump.
	got, err := s.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Version)

	_, err = s.UpdateResponse(ctx, m.ID, 1, 4, domain.ResponseDeclined, resp)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestMeetingStore_ManagerConcurrentTransitions(t *testing.T) {
	s := repository.NewMeetingStore(openPool(t))
	m := createMeeting(t, s, 4)
	mgr := meeting.NewManager(s, nil, meeting.WithClock(func() time.Time { return now }))

	const n = 6
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = mgr.Transition(context.Background(), m.ID, domain.StatusCancelled, 1, "")
		}()
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		}
	}
	assert.Equal(t, 1, wins)

	history, err := s.History(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestConsentStore(t *testing.T) {
	s := repository.NewConsentStore(openPool(t))
	ctx := context.Background()

	_, found, err := s.Consent(ctx, 5)
	require.NoError(t, err)
	assert.False(t, found)

	_, err = s.UpsertConsent(ctx, domain.Consent{UserID: 5, TalkMessage: true})
	require.NoError(t, err)
	c, found, err := s.Consent(ctx, 5)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, c.TalkMessage)
	assert.False(t, c.Friends)

	require.NoError(t, s.AddRelationship(ctx, 9, 5))
	require.NoError(t, s.AddRelationship(ctx, 5, 9))
	for _, pair := range [][2]int64{{5, 9}, {9, 5}} {
		related, err := s.Related(ctx, pair[0], pair[1])
		require.NoError(t, err)
		assert.True(t, related)
	}
	related, err := s.Related(ctx, 5, 6)
	require.NoError(t, err)
	assert.False(t, related)

	assert.Error(t, s.AddRelationship(ctx, 3, 3))

	require.NoError(t, s.AddRelationship(ctx, 2, 5))
	rels, err := s.ListRelated(ctx, 5)
	require.NoError(t, err)
	require.Len(t, rels, 2)
	related5 := []int64{rels[0].RelatedID, rels[1].RelatedID}
	assert.ElementsMatch(t, []int64{2, 9}, related5)
	assert.Equal(t, int64(5), rels[0].UserID)

	rels, err = s.ListRelated(ctx, 6)
	require.NoError(t, err)
	assert.Empty(t, rels)
}

func TestConsentStore_RequestRelationship(t *testing.T) {
	s := repository.NewConsentStore(openPool(t))
	ctx := context.Background()

	linked, err := s.RequestRelationship(ctx, 4, 7)
	require.NoError(t, err)
	assert.False(t, linked)
	linked, err = s.RequestRelationship(ctx, 4, 7)
	require.NoError(t, err)
	assert.False(t, linked, "repeating a request does not link")

	related, err := s.Related(ctx, 4, 7)
	require.NoError(t, err)
	assert.False(t, related)

	linked, err = s.RequestRelationship(ctx, 7, 4)
	require.NoError(t, err)
	assert.True(t, linked)
	related, err = s.Related(ctx, 4, 7)
	require.NoError(t, err)
	assert.True(t, related)

	linked, err = s.RequestRelationship(ctx, 4, 7)
	require.NoError(t, err)
	assert.True(t, linked, "an existing edge stays linked")

	_, err = s.RequestRelationship(ctx, 3, 3)
	assert.Error(t, err)
}

func TestMeetingStore_Search(t *testing.T) {
	s := repository.NewMeetingStore(openPool(t))
	ctx := context.Background()

	create := func(title, location string, host int64, at time.Time, invitees ...int64) domain.Meeting {
		m, err := s.Create(ctx, domain.Meeting{
			Title: title, Location: location, ScheduledAt: at, HostID: host,
			MaxParticipants: 10, CreatedAt: at.Add(-48 * time.Hour), UpdatedAt: at,
		}, invitees, domain.HistoryRecord{Action: domain.ActionCreated, ActorID: host, NewStatus: domain.StatusWaiting, CreatedAt: now})
		require.NoError(t, err)
		return m
	}
	lunch := create("Team lunch", "Seongsu", 1, now.Add(24*time.Hour), 2, 3, 4)
	dinner := create("Dinner", "Hongdae", 2, now.Add(72*time.Hour), 3)
	retro := create("Sprint retro", "Seongsu office", 1, now.Add(48*time.Hour))

	ids := func(items []domain.MeetingSummary) []int64 {
		out := make([]int64, len(items))
		for i, it := range items {
			out[i] = it.ID
		}
		return out
	}

	tests := []struct {
		name   string
		filter domain.MeetingFilter
		want   []int64
	}{
		{"by host", domain.MeetingFilter{HostID: 1}, []int64{lunch.ID, retro.ID}},
		{"by participant", domain.MeetingFilter{ParticipantID: 3}, []int64{lunch.ID, dinner.ID}},
		{"host is a participant", domain.MeetingFilter{ParticipantID: 2}, []int64{lunch.ID, dinner.ID}},
		{"keyword ignores case", domain.MeetingFilter{Keyword: "LUNCH"}, []int64{lunch.ID}},
		{"location", domain.MeetingFilter{Location: "seongsu"}, []int64{lunch.ID, retro.ID}},
		{"time window", domain.MeetingFilter{From: now.Add(36 * time.Hour), To: now.Add(72 * time.Hour)}, []int64{retro.ID}},
		{"recent first", domain.MeetingFilter{Order: domain.OrderRecent}, []int64{dinner.ID, retro.ID, lunch.ID}},
		{"popular first", domain.MeetingFilter{Order: domain.OrderPopular, Limit: 2}, []int64{lunch.ID, dinner.ID}},
		{"status", domain.MeetingFilter{Status: domain.StatusCancelled}, []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Search(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}

	top, err := s.Search(ctx, domain.MeetingFilter{Order: domain.OrderPopular, Limit: 1})
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, 4, top[0].ParticipantCount)
}

func TestTokenStore(t *testing.T) {
	pool := openPool(t)
	sealer, err := tokencrypt.New(strings.Repeat("ab", 32))
	require.NoError(t, err)
	s := repository.NewTokenStore(pool, sealer)
	ctx := context.Background()

	_, found, err := s.AccessToken(ctx, 1)
	require.NoError(t, err)
	assert.False(t, found)

	expires := now.Add(time.Hour)
	require.NoError(t, s.PutAccessToken(ctx, 1, "bearer-1", expires))
	tok, found, err := s.AccessToken(ctx, 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "bearer-1", tok.Token)
	assert.True(t, expires.Equal(tok.ExpiresAt))

	var sealed string
	require.NoError(t, pool.QueryRow(ctx, `SELECT sealed_token FROM channel_access_tokens WHERE user_id = 1`).Scan(&sealed))
	assert.NotContains(t, sealed, "bearer-1")

	require.NoError(t, s.PutAccessToken(ctx, 1, "bearer-2", time.Time{}))
	tok, _, err = s.AccessToken(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "bearer-2", tok.Token)
	assert.True(t, tok.ExpiresAt.IsZero())
}

func TestUserStore(t *testing.T) {
	s := repository.NewUserStore(openPool(t))
	ctx := context.Background()

	require.NoError(t, s.UpsertUser(ctx, 3, "Minji"))
	name, err := s.DisplayName(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "Minji", name)

	name, err = s.DisplayName(ctx, 4)
	require.NoError(t, err)
	assert.Empty(t, name)
}
