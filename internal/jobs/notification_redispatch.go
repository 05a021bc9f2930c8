package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"promise-service.io/promise/internal/notification"
	"promise-service.io/promise/internal/pkg/logger"
)

// NotificationRedispatchArgs replays a dispatch under its original trace id.
// Recipients already logged under that trace are skipped by the dispatcher,
// so running the job twice sends nothing new.
type NotificationRedispatchArgs struct {
	notification.RedispatchRequest
}

func (NotificationRedispatchArgs) Kind() string { return "notification_redispatch" }

// InsertOpts collapses duplicate requests for the same trace.
func (NotificationRedispatchArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 3,
		UniqueOpts: river.UniqueOpts{
			ByArgs:   true,
			ByPeriod: time.Hour,
		},
	}
}

// Redispatcher is implemented by notification.Triggers.
type Redispatcher interface {
	Redispatch(ctx context.Context, req notification.RedispatchRequest) (notification.AggregateResult, error)
}

type NotificationRedispatchWorker struct {
	river.WorkerDefaults[NotificationRedispatchArgs]
	triggers Redispatcher
}

func NewNotificationRedispatchWorker(triggers Redispatcher) *NotificationRedispatchWorker {
	return &NotificationRedispatchWorker{triggers: triggers}
}

// Work fails the job only when the dispatch itself could not finish;
// per-recipient delivery failures are final and logged.
func (w *NotificationRedispatchWorker) Work(ctx context.Context, job *river.Job[NotificationRedispatchArgs]) error {
	if w == nil || w.triggers == nil {
		return fmt.Errorf("notification redispatch worker is not initialized")
	}
	req := job.Args.RedispatchRequest
	res, err := w.triggers.Redispatch(ctx, req)
	if err != nil {
		return fmt.Errorf("redispatch %s for meeting %d: %w", req.TraceID, req.MeetingID, err)
	}
	logger.Info("notification redispatch completed",
		zap.Int64("job_id", job.ID),
		zap.Int("attempt", job.Attempt),
		zap.String("trace_id", res.TraceID),
		zap.String("summary", res.Summary()),
	)
	return nil
}

// RiverEnqueuer enqueues redispatch jobs. It implements
// notification.RedispatchEnqueuer.
type RiverEnqueuer struct {
	client *river.Client[pgx.Tx]
}

func NewRiverEnqueuer(client *river.Client[pgx.Tx]) *RiverEnqueuer {
	return &RiverEnqueuer{client: client}
}

func (e *RiverEnqueuer) EnqueueRedispatch(ctx context.Context, req notification.RedispatchRequest) error {
	if e == nil || e.client == nil {
		return fmt.Errorf("river client is not initialized")
	}
	if _, err := e.client.Insert(ctx, NotificationRedispatchArgs{RedispatchRequest: req}, nil); err != nil {
		return fmt.Errorf("enqueue notification_redispatch for trace %s: %w", req.TraceID, err)
	}
	return nil
}
