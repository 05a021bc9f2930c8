package modules

import (
	"context"
	"fmt"
	"strings"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"promise-service.io/promise/internal/api/handlers"
	"promise-service.io/promise/internal/deliverylog"
	"promise-service.io/promise/internal/jobs"
	"promise-service.io/promise/internal/notification"
	"promise-service.io/promise/internal/pkg/logger"
	"promise-service.io/promise/internal/repository"
)

type healthChecker interface {
	Health(ctx context.Context) error
}

// NotificationModule wires the channel adapters, the dispatcher and the
// lifecycle triggers, plus the delivery log and its jobs.
type NotificationModule struct {
	infra    *Infrastructure
	log      deliverylog.Store
	consents *repository.ConsentStore
	adapters []notification.Adapter
	triggers *notification.Triggers
	enqueuer *jobs.RiverEnqueuer
}

// NewNotificationModule builds the notification stack. meetings is the
// store the resolver and redispatch read from.
func NewNotificationModule(infra *Infrastructure, meetings *repository.MeetingStore) (*NotificationModule, error) {
	if infra == nil || infra.Pool == nil || infra.Pools == nil || infra.Config == nil {
		return nil, fmt.Errorf("notification module requires pgx pool, worker pools and config")
	}
	if meetings == nil {
		return nil, fmt.Errorf("notification module requires the meeting store")
	}
	cfg := infra.Config.Notification

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	catalog, err := notification.LoadCatalog(notification.CatalogOptions{
		Path:     cfg.CatalogPath,
		BaseURL:  cfg.PublicBaseURL,
		Location: loc,
	})
	if err != nil {
		return nil, fmt.Errorf("load message catalog: %w", err)
	}

	consents := repository.NewConsentStore(infra.Pool)
	tokens := repository.NewTokenStore(infra.Pool, infra.Sealer)
	deliveries := deliverylog.NewPostgresStore(infra.Pool)

	adapters := []notification.Adapter{
		notification.NewTemplateAdapter(notification.TemplateAdapterConfig{
			BaseURL:    cfg.Template.BaseURL,
			ProfileKey: cfg.Template.ProfileKey,
			Timeout:    cfg.Template.Timeout,
			ExpirySkew: cfg.Template.ExpirySkew,
		}, tokens),
		notification.NewTextAdapter(notification.TextAdapterConfig{
			BaseURL:    cfg.Text.BaseURL,
			APIKey:     cfg.Text.APIKey,
			SenderName: cfg.Text.SenderName,
			Timeout:    cfg.Text.Timeout,
		}, catalog),
	}

	var claimer notification.Claimer
	if infra.Redis != nil {
		claimer = notification.NewRedisClaimer(infra.Redis, cfg.ClaimTTL)
	} else {
		logger.Warn("redis is not configured, delivery claims are process local")
		claimer = notification.NewLocalClaimer(cfg.ClaimTTL)
	}

	dispatcher := notification.NewDispatcher(notification.DispatcherDeps{
		Adapters: adapters,
		Guard:    notification.NewGuard(consents, consents),
		Log:      deliveries,
		Catalog:  catalog,
		Claimer:  claimer,
		Pool:     infra.Pools.Dispatch,
		Users:    repository.NewUserStore(infra.Pool),
	}, notification.DispatcherConfig{
		RetryBackoff:  cfg.RetryBackoff,
		ClaimWait:     cfg.ClaimTTL,
		RecordTimeout: cfg.RecordTimeout,
	})

	triggers := notification.NewTriggers(
		notification.NewResolver(meetings),
		dispatcher,
		meetings,
		nil,
		cfg.DispatchTimeout,
	)
	triggers.SetDetacher(infra.Pools)

	return &NotificationModule{
		infra:    infra,
		log:      deliveries,
		consents: consents,
		adapters: adapters,
		triggers: triggers,
	}, nil
}

func (m *NotificationModule) Name() string { return "notification" }

// Triggers is the meeting.Notifier handed to the meeting module.
func (m *NotificationModule) Triggers() *notification.Triggers { return m.triggers }

func (m *NotificationModule) RegisterWorkers(workers *river.Workers) {
	if workers == nil || m == nil {
		return
	}
	river.AddWorker(workers, jobs.NewDeliveryLogCleanupWorker(m.log, m.infra.Config.Notification.Retention))
	river.AddWorker(workers, jobs.NewNotificationRedispatchWorker(m.triggers))
}

// PeriodicJobs are the module's scheduled jobs.
func (m *NotificationModule) PeriodicJobs() []*river.PeriodicJob {
	return jobs.PeriodicJobs()
}

// AttachQueue routes timed-out and operator redispatches through River.
// Call it once the River client exists.
func (m *NotificationModule) AttachQueue() {
	if m == nil || m.infra.RiverClient == nil {
		return
	}
	m.enqueuer = jobs.NewRiverEnqueuer(m.infra.RiverClient)
	m.triggers.SetEnqueuer(m.enqueuer)
}

func (m *NotificationModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	if deps == nil {
		return
	}
	deps.Deliveries = m.log
	deps.Consents = m.consents
	deps.Relations = m.consents
	for _, a := range m.adapters {
		if hc, ok := a.(healthChecker); ok {
			deps.Checks = append(deps.Checks, handlers.HealthCheck{
				Name:  "channel_" + strings.ToLower(string(a.Name())),
				Check: hc.Health,
			})
		}
	}
	if m.enqueuer != nil {
		deps.Enqueuer = m.enqueuer
	}
}

func (m *NotificationModule) Shutdown(context.Context) error {
	logger.Debug("notification module stopped", zap.String("module", m.Name()))
	return nil
}
