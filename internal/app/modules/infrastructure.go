package modules

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"

	"promise-service.io/promise/internal/config"
	"promise-service.io/promise/internal/infrastructure"
	"promise-service.io/promise/internal/pkg/tokencrypt"
	"promise-service.io/promise/internal/pkg/worker"
)

// Infrastructure holds shared cross-cutting dependencies for all modules.
// It is a provider, not a Module.
type Infrastructure struct {
	Config      *config.Config
	DB          *infrastructure.DatabaseClients
	Pools       *worker.Pools
	Pool        *pgxpool.Pool
	RiverClient *river.Client[pgx.Tx]
	// Redis is nil when no URL is configured.
	Redis  *redis.Client
	Sealer *tokencrypt.Sealer
}

// NewInfrastructure opens the database, Redis and the worker pools.
func NewInfrastructure(ctx context.Context, cfg *config.Config) (*Infrastructure, error) {
	sealer, err := tokencrypt.New(cfg.Security.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("init token sealer: %w", err)
	}

	db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	if cfg.Database.AutoMigrate {
		if err := db.AutoMigrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("auto-migrate: %w", err)
		}
	}

	rdb, err := infrastructure.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	pools, err := worker.NewPools(ctx, worker.PoolConfig{
		GeneralPoolSize:  cfg.Worker.GeneralPoolSize,
		DispatchPoolSize: cfg.Worker.DispatchPoolSize,
	})
	if err != nil {
		if rdb != nil {
			_ = rdb.Close()
		}
		db.Close()
		return nil, fmt.Errorf("init worker pools: %w", err)
	}

	return &Infrastructure{
		Config: cfg,
		DB:     db,
		Pools:  pools,
		Pool:   db.Pool,
		Redis:  rdb,
		Sealer: sealer,
	}, nil
}

// InitRiver initializes River client on top of a prepared worker registry.
func (i *Infrastructure) InitRiver(workers *river.Workers, periodic []*river.PeriodicJob) error {
	if i == nil || i.DB == nil || i.Config == nil {
		return fmt.Errorf("infrastructure is not initialized")
	}
	if err := i.DB.InitRiverClient(workers, periodic, i.Config.River); err != nil {
		return fmt.Errorf("init river: %w", err)
	}
	i.RiverClient = i.DB.RiverClient
	return nil
}

// Close releases infra resources in reverse dependency order.
func (i *Infrastructure) Close() {
	if i == nil {
		return
	}
	if i.Pools != nil {
		i.Pools.Shutdown()
	}
	if i.Redis != nil {
		_ = i.Redis.Close()
	}
	if i.DB != nil {
		i.DB.Close()
	}
}
