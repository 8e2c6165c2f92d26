// Package app assembles and runs the server: job kind registry, status
// store, event hub, process supervisor and coordinator, wired behind the
// HTTP router with readiness handling and graceful shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantor/quantor/pkg/config"
	"github.com/quantor/quantor/pkg/coordinator"
	"github.com/quantor/quantor/pkg/hub"
	"github.com/quantor/quantor/pkg/jobkind"
	"github.com/quantor/quantor/pkg/server/api"
	"github.com/quantor/quantor/pkg/server/deps"
	"github.com/quantor/quantor/pkg/server/httpx"
	"github.com/quantor/quantor/pkg/supervisor"
	"github.com/quantor/quantor/pkg/task"
)

// shutdownGrace bounds how long open connections may linger after the run
// context is cancelled.
const shutdownGrace = 10 * time.Second

// statusFan publishes every status transition to its kind channel and the
// aggregate dashboard channel.
type statusFan struct {
	hub *hub.Hub
}

func (f statusFan) OnStatus(snap task.Snapshot) {
	f.hub.Publish(snap.Kind, snap)
	f.hub.Publish(hub.DashboardChannel, snap)
}

// App is the assembled server runtime.
type App struct {
	cfg  config.Config
	deps *deps.Deps
}

// New assembles the runtime from configuration. The server does not listen
// yet; call Run.
func New(cfg config.Config) (*App, error) {
	kinds, err := jobkind.NewRegistry(cfg.Jobs.Kinds)
	if err != nil {
		return nil, fmt.Errorf("job kinds: %w", err)
	}

	store := task.NewStore(cfg.Jobs.LogCapacity)
	h := hub.NewHub().
		WithReplay(store.LatestByKind).
		WithHeartbeatInterval(cfg.Jobs.HeartbeatInterval)

	fan := statusFan{hub: h}
	sup := supervisor.NewSupervisor(store).WithSink(fan)
	coord := coordinator.NewCoordinator(kinds, store, sup).WithSink(fan)
	if cfg.Jobs.LockFile != "" {
		coord = coord.WithSlotLock(coordinator.NewSlotLock(cfg.Jobs.LockFile))
	}

	logger := log.With().Str("component", "server").Logger()
	return &App{
		cfg:  cfg,
		deps: deps.New(coord, store, h, kinds, &logger),
	}, nil
}

// Deps exposes the assembled collaborators, mainly for tests.
func (a *App) Deps() *deps.Deps { return a.deps }

// Run serves until ctx is cancelled, then shuts down gracefully: readiness
// drops, open connections get a grace period, running workers are killed
// through the cancelled run context and their terminal states recorded.
func (a *App) Run(ctx context.Context) error {
	apiDeps := a.deps.API(api.DefaultConfig())
	apiDeps.BaseContext = ctx
	router := httpx.NewRouter(a.cfg.Server, apiDeps)

	addr := net.JoinHostPort(a.cfg.Server.Addr, strconv.Itoa(a.cfg.Server.Port))
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	a.deps.Hub.Start(ctx)
	a.startReconcile(ctx)

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	a.deps.SetReady()
	a.deps.Logger.Info().
		Str("addr", ln.Addr().String()).
		Int("kinds", len(a.deps.Kinds.Names())).
		Msg("Server listening")

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		// Listener died before shutdown was requested.
		return err
	}

	a.deps.SetNotReady()
	a.deps.Logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.deps.Logger.Warn().Err(err).Msg("Graceful shutdown expired, closing")
		_ = srv.Close()
	}

	// The run context is already cancelled: in-flight workers are being
	// killed; wait for their terminal states to be recorded.
	a.deps.Coordinator.Wait()

	return <-serveErr
}

// startReconcile sweeps for orphaned slot holds on the configured interval.
func (a *App) startReconcile(ctx context.Context) {
	interval := a.cfg.Server.ReconcileInterval
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if a.deps.Coordinator.Reconcile() {
					a.deps.Logger.Warn().Msg("Reconcile recovered an orphaned slot")
				}
			}
		}
	}()
}
