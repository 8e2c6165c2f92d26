package api

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/quantor/quantor/pkg/coordinator"
	"github.com/quantor/quantor/pkg/hub"
	"github.com/quantor/quantor/pkg/jobkind"
	"github.com/quantor/quantor/pkg/task"
)

// Deps holds dependencies for API handlers.
// This pattern enables dependency injection and easier testing.
type Deps struct {
	// Jobs is the admission/lifecycle surface of the coordinator
	Jobs JobService

	// Status reads job state snapshots
	Status StatusReader

	// Hub streams live status events to subscribers
	Hub EventHub

	// Kinds exposes the configured job kind catalog
	Kinds KindCatalog

	// Config holds API-level configuration (identity header, limits)
	Config Config

	// Ready flag for readiness check
	Ready *atomic.Bool

	// BaseContext bounds spawned job runs, which outlive the HTTP request
	// that started them. Cancelling it (server shutdown) kills the worker.
	BaseContext context.Context
}

// Base returns the context job runs are bound to, falling back to
// context.Background().
func (d *Deps) Base() context.Context {
	if d.BaseContext != nil {
		return d.BaseContext
	}
	return context.Background()
}

// JobService is the subset of coordinator methods needed by the API.
// Defined here to avoid circular dependencies and ease mocking.
type JobService interface {
	TryStart(ctx context.Context, kind, owner, jobID string, params map[string]string) (coordinator.Accepted, error)
	Cancel(jobID, requester string) bool
	CurrentInfo() (coordinator.HoldInfo, bool)
	ListActive() []coordinator.JobSummary
	ForceKill(jobID string) bool
}

// StatusReader reads job snapshots without mutating them.
type StatusReader interface {
	Snapshot(id string) (task.Snapshot, bool)
	LatestByKind(kind string) (task.Snapshot, bool)
}

// EventHub attaches and detaches live event subscribers.
type EventHub interface {
	Subscribe(channel, user string) *hub.Subscription
	Unsubscribe(sub *hub.Subscription)
}

// KindCatalog lists and resolves configured job kinds.
type KindCatalog interface {
	Names() []string
	Get(name string) (jobkind.Spec, bool)
}

// Config holds API-level settings.
type Config struct {
	// UserHeader is the trusted header carrying the caller identity,
	// populated by the reverse proxy in front of the server.
	UserHeader string

	// MaxBodyBytes bounds request bodies on mutating endpoints.
	MaxBodyBytes int64
}

// DefaultConfig returns the API defaults.
func DefaultConfig() Config {
	return Config{
		UserHeader:   "X-Quantor-User",
		MaxBodyBytes: 1 << 20,
	}
}

// User extracts the caller identity from the request, falling back to
// "anonymous" when the proxy did not set the identity header.
func (c Config) User(r *http.Request) string {
	name := c.UserHeader
	if name == "" {
		name = DefaultConfig().UserHeader
	}
	if u := r.Header.Get(name); u != "" {
		return u
	}
	return "anonymous"
}
