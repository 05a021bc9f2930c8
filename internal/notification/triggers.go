package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"promise-service.io/promise/internal/domain"
	"promise-service.io/promise/internal/pkg/logger"
	"promise-service.io/promise/internal/pkg/worker"
)

// MeetingSource loads a meeting for redispatch.
type MeetingSource interface {
	Get(ctx context.Context, meetingID int64) (domain.Meeting, error)
}

// RedispatchRequest replays a dispatch. RecipientIDs nil means resolve from
// the meeting's participants again.
type RedispatchRequest struct {
	MeetingID    int64         `json:"meeting_id"`
	SenderID     int64         `json:"sender_id"`
	Intent       domain.Intent `json:"intent"`
	TraceID      string        `json:"trace_id"`
	RecipientIDs []int64       `json:"recipient_ids,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	// Response is the answer rendered by INVITATION_RESPONDED.
	Response domain.ResponseState `json:"response,omitempty"`
}

// RedispatchEnqueuer schedules a RedispatchRequest in the background.
type RedispatchEnqueuer interface {
	EnqueueRedispatch(ctx context.Context, req RedispatchRequest) error
}

// Detacher runs a task on a service-lifetime pool. *worker.Pools implements it.
type Detacher interface {
	SubmitDetached(poolName string, task worker.Task) error
}

// Triggers turns meeting lifecycle events into dispatches. Notification is
// best effort: failures are logged and folded into the returned result,
// never returned to the lifecycle operation.
type Triggers struct {
	resolver   *Resolver
	dispatcher *Dispatcher
	meetings   MeetingSource
	enqueuer   RedispatchEnqueuer
	detacher   Detacher
	timeout    time.Duration
}

// NewTriggers wires the triggers. timeout bounds each dispatch; enqueuer may
// be nil, in which case timed-out dispatches are only logged.
func NewTriggers(resolver *Resolver, dispatcher *Dispatcher, meetings MeetingSource, enqueuer RedispatchEnqueuer, timeout time.Duration) *Triggers {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Triggers{
		resolver:   resolver,
		dispatcher: dispatcher,
		meetings:   meetings,
		enqueuer:   enqueuer,
		timeout:    timeout,
	}
}

// SetEnqueuer attaches the background queue once it exists. The queue's
// workers depend on Triggers, so it cannot be passed to NewTriggers.
func (t *Triggers) SetEnqueuer(e RedispatchEnqueuer) { t.enqueuer = e }

// SetDetacher moves requeues of timed-out dispatches onto the general pool,
// so the lifecycle call does not wait on the queue insert.
func (t *Triggers) SetDetacher(d Detacher) { t.detacher = d }

// OnMeetingConfirmed notifies the participants that the meeting is on.
func (t *Triggers) OnMeetingConfirmed(ctx context.Context, m domain.Meeting, actorID int64) AggregateResult {
	res, _ := t.run(ctx, event{meeting: m, sender: actorID, intent: domain.IntentMeetingConfirmed}, true)
	return res
}

// OnMeetingCancelled notifies the participants, including the reason.
func (t *Triggers) OnMeetingCancelled(ctx context.Context, m domain.Meeting, actorID int64, reason string) AggregateResult {
	res, _ := t.run(ctx, event{meeting: m, sender: actorID, intent: domain.IntentMeetingCancelled, reason: reason}, true)
	return res
}

// OnMeetingCreated invites the given users.
func (t *Triggers) OnMeetingCreated(ctx context.Context, m domain.Meeting, hostID int64, invitees []int64) AggregateResult {
	if invitees == nil {
		invitees = []int64{}
	}
	res, _ := t.run(ctx, event{
		meeting:    m,
		sender:     hostID,
		intent:     domain.IntentMeetingInvited,
		recipients: invitees,
	}, true)
	return res
}

// OnInvitationResponded tells the host how userID answered.
func (t *Triggers) OnInvitationResponded(ctx context.Context, m domain.Meeting, userID int64, state domain.ResponseState) AggregateResult {
	res, _ := t.run(ctx, event{
		meeting:    m,
		sender:     userID,
		intent:     domain.IntentInvitationResponded,
		recipients: []int64{m.HostID},
		response:   state,
	}, true)
	return res
}

// Redispatch replays a dispatch with its original trace id. Recipients that
// already have a logged attempt are not sent to again. Attempts removed by
// the retention cleanup no longer count, so replaying a trace older than
// notification.retention sends again. Unlike the event
// triggers it returns the dispatch error so a job runner can retry.
func (t *Triggers) Redispatch(ctx context.Context, req RedispatchRequest) (AggregateResult, error) {
	if req.TraceID == "" {
		return AggregateResult{}, errors.New("redispatch needs the original trace id")
	}
	if _, err := domain.ParseIntent(string(req.Intent)); err != nil {
		return AggregateResult{}, err
	}
	m, err := t.meetings.Get(ctx, req.MeetingID)
	if err != nil {
		return AggregateResult{}, fmt.Errorf("load meeting %d: %w", req.MeetingID, err)
	}
	return t.run(ctx, event{
		meeting:    m,
		sender:     req.SenderID,
		intent:     req.Intent,
		recipients: req.RecipientIDs,
		reason:     req.Reason,
		response:   req.Response,
		traceID:    req.TraceID,
	}, false)
}

type event struct {
	meeting    domain.Meeting
	sender     int64
	intent     domain.Intent
	recipients []int64
	reason     string
	response   domain.ResponseState
	traceID    string
}

func (t *Triggers) run(ctx context.Context, ev event, requeue bool) (AggregateResult, error) {
	traceID := ev.traceID
	if traceID == "" {
		traceID = NewTraceID(ev.meeting.ID)
	}
	fields := []zap.Field{
		zap.Int64("meeting_id", ev.meeting.ID),
		zap.String("intent", string(ev.intent)),
		zap.String("trace_id", traceID),
	}

	dctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	candidates, err := t.resolver.Resolve(dctx, ev.meeting.ID, ev.sender, ev.recipients)
	if err != nil {
		logger.Error("failed to resolve notification recipients", append(fields, zap.Error(err))...)
		return AggregateResult{TraceID: traceID, Sent: []int64{}, Failed: []Failure{}}, err
	}

	res, err := t.dispatcher.Dispatch(dctx, DispatchRequest{
		Meeting:    ev.meeting,
		SenderID:   ev.sender,
		Candidates: candidates,
		Intent:     ev.intent,
		TraceID:    traceID,
		Reason:     ev.reason,
		Response:   ev.response,
	})
	fields = append(fields,
		zap.Int("sent", len(res.Sent)),
		zap.Int("failed", len(res.Failed)),
	)
	if err != nil {
		logger.Warn("notification dispatch incomplete", append(fields, zap.Error(err))...)
		if requeue && errors.Is(err, context.DeadlineExceeded) {
			t.requeue(ctx, RedispatchRequest{
				MeetingID:    ev.meeting.ID,
				SenderID:     ev.sender,
				Intent:       ev.intent,
				TraceID:      traceID,
				RecipientIDs: candidates,
				Reason:       ev.reason,
				Response:     ev.response,
			}, fields)
		}
		return res, err
	}

	logger.Info("notification dispatched", append(fields, zap.String("summary", res.Summary()))...)
	return res, nil
}

func (t *Triggers) requeue(ctx context.Context, req RedispatchRequest, fields []zap.Field) {
	if t.enqueuer == nil {
		return
	}
	if t.detacher != nil {
		err := t.detacher.SubmitDetached(worker.PoolGeneral, func(pctx context.Context) {
			t.enqueue(pctx, req, fields)
		})
		if err == nil {
			return
		}
		logger.Warn("detached requeue rejected, enqueuing inline", append(fields, zap.Error(err))...)
	}
	t.enqueue(ctx, req, fields)
}

func (t *Triggers) enqueue(ctx context.Context, req RedispatchRequest, fields []zap.Field) {
	qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := t.enqueuer.EnqueueRedispatch(qctx, req); err != nil {
		logger.Error("failed to enqueue notification redispatch", append(fields, zap.Error(err))...)
		return
	}
	logger.Info("notification redispatch enqueued", fields...)
}
