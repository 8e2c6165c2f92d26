// Package deps bundles the server's long-lived collaborators and the shared
// readiness flag, so wiring happens in one place and handlers receive one
// injection point.
package deps

import (
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/quantor/quantor/pkg/coordinator"
	"github.com/quantor/quantor/pkg/hub"
	"github.com/quantor/quantor/pkg/jobkind"
	"github.com/quantor/quantor/pkg/server/api"
	"github.com/quantor/quantor/pkg/task"
)

// Deps holds the assembled runtime collaborators.
type Deps struct {
	Coordinator *coordinator.Coordinator
	Store       *task.Store
	Hub         *hub.Hub
	Kinds       *jobkind.Registry
	Logger      *zerolog.Logger

	// Ready is flipped once startup completes and back off during shutdown.
	Ready *atomic.Bool
}

// New bundles the collaborators. The server starts not ready.
func New(coord *coordinator.Coordinator, store *task.Store, h *hub.Hub, kinds *jobkind.Registry, logger *zerolog.Logger) *Deps {
	return &Deps{
		Coordinator: coord,
		Store:       store,
		Hub:         h,
		Kinds:       kinds,
		Logger:      logger,
		Ready:       &atomic.Bool{},
	}
}

// IsReady reports whether the server currently accepts work.
func (d *Deps) IsReady() bool { return d.Ready.Load() }

// SetReady marks the server ready.
func (d *Deps) SetReady() { d.Ready.Store(true) }

// SetNotReady marks the server not ready.
func (d *Deps) SetNotReady() { d.Ready.Store(false) }

// API projects the bundle onto the handler-facing dependency struct.
func (d *Deps) API(cfg api.Config) *api.Deps {
	return &api.Deps{
		Jobs:   d.Coordinator,
		Status: d.Store,
		Hub:    d.Hub,
		Kinds:  d.Kinds,
		Config: cfg,
		Ready:  d.Ready,
	}
}
