// Package worker wraps ants pools. Concurrent work in the service goes through
// these pools instead of bare goroutines so it is bounded and drains on
// shutdown.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"promise-service.io/promise/internal/pkg/logger"
)

// ErrPoolClosed is returned when submitting to a released pool.
var ErrPoolClosed = errors.New("worker pool is closed")

// Task receives the context it was submitted with.
type Task func(ctx context.Context)

// Pool is a named ants pool.
type Pool struct {
	pool *ants.Pool
	name string
}

// Pool names accepted by Pools.SubmitDetached.
const (
	PoolGeneral  = "general"
	PoolDispatch = "dispatch"
)

// Pools groups the service pools. Dispatch runs notification fan-out,
// General runs everything else.
type Pools struct {
	General  *Pool
	Dispatch *Pool

	serviceCtx    context.Context
	serviceCancel context.CancelFunc
}

type PoolConfig struct {
	GeneralPoolSize  int
	DispatchPoolSize int
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		GeneralPoolSize:  64,
		DispatchPoolSize: 32,
	}
}

func newPool(name string, size int, idle time.Duration) (*Pool, error) {
	p, err := ants.NewPool(size,
		ants.WithPanicHandler(func(v any) {
			logger.Error("worker panic recovered",
				zap.String("pool", name),
				zap.Any("panic", v),
				zap.Stack("stack"),
			)
		}),
		ants.WithNonblocking(false),
		ants.WithExpiryDuration(idle),
	)
	if err != nil {
		return nil, err
	}
	return &Pool{pool: p, name: name}, nil
}

// NewPool builds a single pool, mainly for components that own their pool
// in tests.
func NewPool(name string, size int) (*Pool, error) {
	return newPool(name, size, 10*time.Second)
}

func NewPools(ctx context.Context, cfg PoolConfig) (*Pools, error) {
	serviceCtx, serviceCancel := context.WithCancel(ctx)

	general, err := newPool(PoolGeneral, cfg.GeneralPoolSize, 10*time.Second)
	if err != nil {
		serviceCancel()
		return nil, err
	}
	dispatch, err := newPool(PoolDispatch, cfg.DispatchPoolSize, 30*time.Second)
	if err != nil {
		general.pool.Release()
		serviceCancel()
		return nil, err
	}

	return &Pools{
		General:       general,
		Dispatch:      dispatch,
		serviceCtx:    serviceCtx,
		serviceCancel: serviceCancel,
	}, nil
}

// Name returns the pool label used in logs and metrics.
func (p *Pool) Name() string { return p.name }

// Submit queues task. A context that is already done is rejected, and the
// context is checked again once a worker picks the task up.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := p.pool.Submit(func() {
		if ctx.Err() != nil {
			logger.Debug("task skipped: context done",
				zap.String("pool", p.name),
				zap.Error(ctx.Err()),
			)
			return
		}
		task(ctx)
	})
	if errors.Is(err, ants.ErrPoolClosed) {
		return ErrPoolClosed
	}
	return err
}

// Run submits every task and blocks until all submitted tasks returned.
// Tasks that could not be submitted are reported through the returned error;
// the ones already queued still complete (or are skipped once ctx is done)
// before Run returns.
func (p *Pool) Run(ctx context.Context, tasks []Task) error {
	var wg sync.WaitGroup
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			wg.Wait()
			return err
		}
		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			task(ctx)
		})
		if err != nil {
			wg.Done()
			wg.Wait()
			if errors.Is(err, ants.ErrPoolClosed) {
				return ErrPoolClosed
			}
			return err
		}
	}
	wg.Wait()
	return nil
}

// Release shuts the pool down, waiting at most timeout for running tasks.
func (p *Pool) Release(timeout time.Duration) error {
	return p.pool.ReleaseTimeout(timeout)
}

// SubmitDetached runs task on the named pool with the service lifetime
// context instead of a request context.
func (p *Pools) SubmitDetached(poolName string, task Task) error {
	pool := p.General
	if poolName == PoolDispatch {
		pool = p.Dispatch
	}
	return pool.Submit(p.serviceCtx, task)
}

// Shutdown cancels detached work and drains both pools.
func (p *Pools) Shutdown() {
	p.serviceCancel()

	const drainTimeout = 30 * time.Second
	for _, pool := range []*Pool{p.General, p.Dispatch} {
		if err := pool.Release(drainTimeout); err != nil {
			logger.Warn("worker pool shutdown timeout",
				zap.String("pool", pool.name),
				zap.Error(err),
			)
		}
	}
}

// Metrics reports running/free/cap per pool.
func (p *Pools) Metrics() map[string]map[string]int {
	out := make(map[string]map[string]int, 2)
	for _, pool := range []*Pool{p.General, p.Dispatch} {
		out[pool.name] = map[string]int{
			"running": pool.pool.Running(),
			"free":    pool.pool.Free(),
			"cap":     pool.pool.Cap(),
		}
	}
	return out
}
