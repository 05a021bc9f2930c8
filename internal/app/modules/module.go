// Package modules holds the domain dependency units assembled by the
// composition root.
package modules

import (
	"context"

	"github.com/riverqueue/river"

	"promise-service.io/promise/internal/api/handlers"
)

// Module represents a domain-specific dependency unit in the composition root.
type Module interface {
	// Name returns a stable module identifier for logging.
	Name() string

	// RegisterWorkers registers module workers into a shared River worker registry.
	RegisterWorkers(*river.Workers)

	// Shutdown performs module-local graceful cleanup.
	Shutdown(context.Context) error
}

// ServerDepsContributor is implemented by modules that own HTTP dependencies.
type ServerDepsContributor interface {
	ContributeServerDeps(*handlers.ServerDeps)
}
