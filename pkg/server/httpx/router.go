// Package httpx assembles the HTTP routing surface: health probes plus the
// versioned job API. Routing uses the standard library mux with method and
// path-parameter patterns.
package httpx

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/quantor/quantor/pkg/config"
	"github.com/quantor/quantor/pkg/server/api"
	v1 "github.com/quantor/quantor/pkg/server/api/v1"
)

// HealthzHandler is the liveness probe. It always returns 200 OK; a process
// that can serve it is alive, nothing more.
func HealthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// NewRouter builds the server's root handler. Health endpoints are always
// mounted; the job API only when enabled and its dependencies are present.
func NewRouter(cfg config.ServerConfig, deps *api.Deps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", HealthzHandler)
	mux.Handle("GET /readyz", v1.ReadyzHandler(deps.Ready))

	if !cfg.APIEnabled {
		log.Info().
			Str("component", "httpx.router").
			Msg("API disabled - serving health endpoints only")
		return mux
	}

	if deps.Jobs == nil {
		log.Info().
			Str("component", "httpx.router").
			Msg("JobService not provided - skipping job API routes")
		return mux
	}

	log.Info().
		Str("component", "httpx.router").
		Msg("mounting job API routes")

	mux.HandleFunc("POST /api/v1/jobs/{kind}/start", v1.StartJobHandler(deps))
	mux.HandleFunc("POST /api/v1/jobs/{id}/cancel", v1.CancelJobHandler(deps))
	mux.HandleFunc("GET /api/v1/jobs/{id}", v1.GetJobHandler(deps))
	mux.HandleFunc("GET /api/v1/jobs/{kind}/events", v1.EventsHandler(deps))

	mux.HandleFunc("GET /api/v1/admin/jobs", v1.ListActiveJobsHandler(deps))
	mux.HandleFunc("POST /api/v1/admin/jobs/{id}/kill", v1.ForceKillJobHandler(deps))

	return mux
}
