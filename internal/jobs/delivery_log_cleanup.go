// Package jobs defines River job types for background work: delivery log
// retention and notification redispatch.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"promise-service.io/promise/internal/pkg/logger"
)

// DefaultDeliveryLogRetention is how long delivery attempts are kept.
const DefaultDeliveryLogRetention = 90 * 24 * time.Hour

// DeliveryLogCleanupArgs is a periodic maintenance job that removes delivery
// attempts past retention.
type DeliveryLogCleanupArgs struct{}

// Kind returns the job kind identifier for periodic delivery log cleanup.
func (DeliveryLogCleanupArgs) Kind() string { return "delivery_log_cleanup" }

// InsertOpts ensures at most one cleanup job is enqueued within the same day.
func (DeliveryLogCleanupArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 1,
		UniqueOpts: river.UniqueOpts{
			ByPeriod: 24 * time.Hour,
			ByQueue:  true,
			ByArgs:   true,
		},
	}
}

// Pruner deletes attempts created before cutoff. Implemented by the
// delivery log stores.
type Pruner interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// DeliveryLogCleanupWorker deletes attempts older than the configured
// retention.
type DeliveryLogCleanupWorker struct {
	river.WorkerDefaults[DeliveryLogCleanupArgs]
	log       Pruner
	retention time.Duration
	now       func() time.Time
}

// NewDeliveryLogCleanupWorker creates a cleanup worker. Non-positive
// retention falls back to the 90-day default.
func NewDeliveryLogCleanupWorker(log Pruner, retention time.Duration) *DeliveryLogCleanupWorker {
	if retention <= 0 {
		retention = DefaultDeliveryLogRetention
	}
	return &DeliveryLogCleanupWorker{
		log:       log,
		retention: retention,
		now:       time.Now,
	}
}

// Work removes expired attempts.
func (w *DeliveryLogCleanupWorker) Work(ctx context.Context, _ *river.Job[DeliveryLogCleanupArgs]) error {
	if w == nil || w.log == nil {
		return fmt.Errorf("delivery log cleanup worker is not initialized")
	}

	cutoff := w.now().UTC().Add(-w.retention)
	deleted, err := w.log.DeleteBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("delete delivery attempts before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	logger.Info("delivery log cleanup completed",
		zap.Int64("deleted_rows", deleted),
		zap.String("cutoff", cutoff.Format(time.RFC3339)),
		zap.Duration("retention", w.retention),
	)
	return nil
}

// PeriodicJobs returns the jobs River schedules on its own. Cleanup runs
// daily and once on start.
func PeriodicJobs() []*river.PeriodicJob {
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(24*time.Hour),
			func() (river.JobArgs, *river.InsertOpts) {
				return DeliveryLogCleanupArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}
}
