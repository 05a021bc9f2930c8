// Package app is the composition root: it wires config, infrastructure and
// domain modules into a runnable application.
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/riverqueue/river"

	"promise-service.io/promise/internal/api/handlers"
	"promise-service.io/promise/internal/app/modules"
	"promise-service.io/promise/internal/config"
	"promise-service.io/promise/internal/infrastructure"
	"promise-service.io/promise/internal/pkg/worker"
	"promise-service.io/promise/internal/repository"
)

// Application holds composed application dependencies.
type Application struct {
	Config  *config.Config
	Router  *gin.Engine
	DB      *infrastructure.DatabaseClients
	Pools   *worker.Pools
	Infra   *modules.Infrastructure
	Modules []modules.Module
}

// Bootstrap initializes all dependencies using module-oriented manual DI.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	infra, err := modules.NewInfrastructure(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init infrastructure: %w", err)
	}

	meetings := repository.NewMeetingStore(infra.Pool)
	notificationModule, err := modules.NewNotificationModule(infra, meetings)
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("init notification module: %w", err)
	}
	meetingModule, err := modules.NewMeetingModule(meetings, notificationModule.Triggers())
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("init meeting module: %w", err)
	}
	allModules := []modules.Module{notificationModule, meetingModule}

	workers := river.NewWorkers()
	for _, mod := range allModules {
		mod.RegisterWorkers(workers)
	}
	if err := infra.InitRiver(workers, notificationModule.PeriodicJobs()); err != nil {
		infra.Close()
		return nil, fmt.Errorf("init river workers: %w", err)
	}
	notificationModule.AttachQueue()

	server := handlers.NewServer(modules.NewServerDeps(infra, allModules))

	return &Application{
		Config:  cfg,
		Router:  newRouter(cfg, server, modules.JWTConfig(cfg)),
		DB:      infra.DB,
		Pools:   infra.Pools,
		Infra:   infra,
		Modules: allModules,
	}, nil
}
