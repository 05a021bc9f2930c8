package meeting

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promise-service.io/promise/internal/domain"
	apperrors "promise-service.io/promise/internal/pkg/errors"
)

func validInput() CreateInput {
	return CreateInput{
		HostID:          hostID,
		Title:           "  Friday dinner ",
		Location:        "Mapo",
		ScheduledAt:     testNow.Add(72 * time.Hour),
		MaxParticipants: 4,
		InviteeIDs:      []int64{2, 3, 2, hostID},
	}
}

func TestCreate(t *testing.T) {
	mgr, store, notifier, _ := newManagerFixture()

	res, err := mgr.Create(context.Background(), validInput())
	require.NoError(t, err)

	assert.Equal(t, "Friday dinner", res.Value.Title)
	assert.Equal(t, domain.StatusWaiting, res.Value.Status)
	assert.Equal(t, int64(1), res.Value.Version)
	require.NotNil(t, res.Notification)

	require.Equal(t, 1, notifier.count())
	assert.Equal(t, "invited", notifier.calls[0].kind)
	assert.Equal(t, []int64{2, 3}, notifier.calls[0].recipients)

	d, err := mgr.Get(context.Background(), res.Value.ID)
	require.NoError(t, err)
	require.Len(t, d.Participants, 3)
	assert.Equal(t, 1, d.AcceptedCount)

	history, _ := store.History(context.Background(), res.Value.ID)
	require.Len(t, history, 1)
	assert.Equal(t, domain.ActionCreated, history[0].Action)
	assert.Equal(t, "meeting created with 2 invitee(s)", history[0].Details)
}

func TestCreate_WithoutInviteesDoesNotNotify(t *testing.T) {
	mgr, _, notifier, _ := newManagerFixture()
	in := validInput()
	in.InviteeIDs = nil

	res, err := mgr.Create(context.Background(), in)
	require.NoError(t, err)
	assert.Nil(t, res.Notification)
	assert.Zero(t, notifier.count())
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateInput)
	}{
		{"blank title", func(in *CreateInput) { in.Title = "   " }},
		{"long title", func(in *CreateInput) { in.Title = strings.Repeat("a", maxTitleLength+1) }},
		{"missing time", func(in *CreateInput) { in.ScheduledAt = time.Time{} }},
		{"past time", func(in *CreateInput) { in.ScheduledAt = testNow.Add(-time.Minute) }},
		{"too few seats", func(in *CreateInput) { in.MaxParticipants = 1 }},
		{"too many seats", func(in *CreateInput) { in.MaxParticipants = maxParticipants + 1 }},
		{"bad invitee", func(in *CreateInput) { in.InviteeIDs = []int64{2, 0} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr, store, _, _ := newManagerFixture()
			in := validInput()
			tt.mutate(&in)

			_, err := mgr.Create(context.Background(), in)
			assert.True(t, apperrors.HasCode(err, apperrors.CodeValidationFailed), "%v", err)
			assert.Zero(t, store.writes)
		})
	}
}

func TestInvite(t *testing.T) {
	mgr, store, notifier, _ := newManagerFixture()
	store.put(waitingMeeting(1, testNow.Add(time.Hour)), map[int64]domain.ResponseState{
		hostID: domain.ResponseAccepted,
		2:      domain.ResponseInvited,
	})

	res, err := mgr.Invite(context.Background(), 1, hostID, []int64{2, 3, 4, 3})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4}, res.Value)
	require.Equal(t, 1, notifier.count())
	assert.Equal(t, []int64{3, 4}, notifier.calls[0].recipients)

	res, err = mgr.Invite(context.Background(), 1, hostID, []int64{3})
	require.NoError(t, err)
	assert.Empty(t, res.Value)
	assert.Nil(t, res.Notification)
	assert.Equal(t, 1, notifier.count())
}

func TestInvite_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		status domain.Status
		actor  int64
		ids    []int64
		code   string
	}{
		{"non host", domain.StatusWaiting, 2, []int64{3}, apperrors.CodeMeetingUnauthorized},
		{"cancelled meeting", domain.StatusCancelled, hostID, []int64{3}, apperrors.CodeMeetingClosed},
		{"completed meeting", domain.StatusCompleted, hostID, []int64{3}, apperrors.CodeMeetingClosed},
		{"only the host", domain.StatusWaiting, hostID, []int64{hostID}, apperrors.CodeValidationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr, store, notifier, _ := newManagerFixture()
			m := waitingMeeting(1, testNow.Add(time.Hour))
			m.Status = tt.status
			store.put(m, map[int64]domain.ResponseState{hostID: domain.ResponseAccepted})

			_, err := mgr.Invite(context.Background(), 1, tt.actor, tt.ids)
			assert.True(t, apperrors.HasCode(err, tt.code), "%v", err)
			assert.Zero(t, notifier.count())
		})
	}
}

func TestRespond(t *testing.T) {
	mgr, store, notifier, _ := newManagerFixture()
	store.put(waitingMeeting(1, testNow.Add(time.Hour)), map[int64]domain.ResponseState{
		hostID: domain.ResponseAccepted,
		2:      domain.ResponseInvited,
	})

	res, err := mgr.Respond(context.Background(), 1, 2, domain.ResponseAccepted)
	require.NoError(t, err)
	assert.Equal(t, domain.ResponseAccepted, res.Value.Response)
	require.NotNil(t, res.Notification)

	require.Equal(t, 1, notifier.count())
	assert.Equal(t, "responded", notifier.calls[0].kind)
	assert.Equal(t, int64(2), notifier.calls[0].actor)
	assert.Equal(t, []int64{hostID}, notifier.calls[0].recipients)

	n, _ := store.CountAccepted(context.Background(), 1)
	assert.Equal(t, 2, n)
}

func TestRespond_MeetingFull(t *testing.T) {
	mgr, store, notifier, _ := newManagerFixture()
	m := waitingMeeting(1, testNow.Add(time.Hour))
	m.MaxParticipants = 2
	store.put(m, map[int64]domain.ResponseState{
		hostID: domain.ResponseAccepted,
		2:      domain.ResponseAccepted,
		3:      domain.ResponseInvited,
	})

	_, err := mgr.Respond(context.Background(), 1, 3, domain.ResponseAccepted)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeMeetingFull), "%v", err)

	// Declining does not need a seat.
	_, err = mgr.Respond(context.Background(), 1, 3, domain.ResponseDeclined)
	require.NoError(t, err)
	assert.Equal(t, 1, notifier.count())
}

func TestRespond_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		status domain.Status
		user   int64
		state  domain.ResponseState
		code   string
	}{
		{"not invited", domain.StatusWaiting, 9, domain.ResponseAccepted, apperrors.CodeParticipantNotFound},
		{"closed meeting", domain.StatusCancelled, 2, domain.ResponseAccepted, apperrors.CodeMeetingClosed},
		{"host declines", domain.StatusWaiting, hostID, domain.ResponseDeclined, apperrors.CodeInvalidResponseState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr, store, notifier, _ := newManagerFixture()
			m := waitingMeeting(1, testNow.Add(time.Hour))
			m.Status = tt.status
			store.put(m, map[int64]domain.ResponseState{
				hostID: domain.ResponseAccepted,
				2:      domain.ResponseInvited,
			})

			_, err := mgr.Respond(context.Background(), 1, tt.user, tt.state)
			assert.True(t, apperrors.HasCode(err, tt.code), "%v", err)
			assert.Zero(t, notifier.count())
		})
	}
}

func TestRespond_HostAcceptingIsSilent(t *testing.T) {
	mgr, store, notifier, _ := newManagerFixture()
	store.put(waitingMeeting(1, testNow.Add(time.Hour)), map[int64]domain.ResponseState{hostID: domain.ResponseAccepted})

	res, err := mgr.Respond(context.Background(), 1, hostID, domain.ResponseAccepted)
	require.NoError(t, err)
	assert.Nil(t, res.Notification)
	assert.Zero(t, notifier.count())
}

func TestListAndStatistics(t *testing.T) {
	mgr, store, _, _ := newManagerFixture()
	later := waitingMeeting(1, testNow.Add(48*time.Hour))
	sooner := waitingMeeting(2, testNow.Add(24*time.Hour))
	cancelled := waitingMeeting(3, testNow.Add(time.Hour))
	cancelled.Status = domain.StatusCancelled
	store.put(later, nil)
	store.put(sooner, nil)
	store.put(cancelled, nil)

	waiting, err := mgr.ListByStatus(context.Background(), domain.StatusWaiting)
	require.NoError(t, err)
	require.Len(t, waiting, 2)
	assert.Equal(t, int64(2), waiting[0].ID)

	stats, err := mgr.Statistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCounts{Waiting: 2, Cancelled: 1, Total: 3}, stats)
}

func TestHistory_UnknownMeeting(t *testing.T) {
	mgr, _, _, _ := newManagerFixture()

	_, err := mgr.History(context.Background(), 5)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeMeetingNotFound))
}

func TestListByHostAndParticipant(t *testing.T) {
	mgr, store, _, _ := newManagerFixture()
	older := waitingMeeting(1, testNow.Add(48*time.Hour))
	older.CreatedAt = testNow.Add(-2 * time.Hour)
	newer := waitingMeeting(2, testNow.Add(24*time.Hour))
	newer.CreatedAt = testNow.Add(-time.Hour)
	other := waitingMeeting(3, testNow.Add(time.Hour))
	other.HostID = 9
	store.put(older, map[int64]domain.ResponseState{hostID: domain.ResponseAccepted, 5: domain.ResponseInvited})
	store.put(newer, map[int64]domain.ResponseState{hostID: domain.ResponseAccepted})
	store.put(other, map[int64]domain.ResponseState{9: domain.ResponseAccepted, 5: domain.ResponseDeclined})

	hosted, err := mgr.ListByHost(context.Background(), hostID, 0)
	require.NoError(t, err)
	require.Len(t, hosted, 2)
	assert.Equal(t, []int64{2, 1}, []int64{hosted[0].ID, hosted[1].ID})

	joined, err := mgr.ListByParticipant(context.Background(), 5, 0)
	require.NoError(t, err)
	require.Len(t, joined, 2)
	assert.Equal(t, int64(3), joined[0].ID, "earliest scheduled first")
	assert.Equal(t, 2, joined[1].ParticipantCount)

	none, err := mgr.ListByParticipant(context.Background(), 42, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSearch(t *testing.T) {
	mgr, store, _, _ := newManagerFixture()
	dinner := waitingMeeting(1, testNow.Add(24*time.Hour))
	lunch := waitingMeeting(2, testNow.Add(48*time.Hour))
	lunch.Title = "Team lunch"
	store.put(dinner, map[int64]domain.ResponseState{hostID: domain.ResponseAccepted})
	store.put(lunch, map[int64]domain.ResponseState{hostID: domain.ResponseAccepted, 2: domain.ResponseInvited, 3: domain.ResponseInvited})

	hits, err := mgr.Search(context.Background(), domain.MeetingFilter{Keyword: " lunch "})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(2), hits[0].ID)

	popular, err := mgr.Search(context.Background(), domain.MeetingFilter{Order: domain.OrderPopular, Limit: 1})
	require.NoError(t, err)
	require.Len(t, popular, 1)
	assert.Equal(t, 3, popular[0].ParticipantCount)

	_, err = mgr.Search(context.Background(), domain.MeetingFilter{From: testNow, To: testNow})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidationFailed))
}
