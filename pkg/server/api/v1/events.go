package v1

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/quantor/quantor/pkg/hub"
	"github.com/quantor/quantor/pkg/server/api"
)

// EventsHandler handles GET /api/v1/jobs/{kind}/events
//
// Streams live status updates for a job kind as Server-Sent Events. The
// special kind "dashboard" aggregates every kind. On connect the current
// snapshot (or an explicit idle one) is replayed first; afterwards each
// status change arrives as an `event: status` frame and keep-alives as SSE
// comments. A second connection for the same (kind, user) pair displaces
// the first.
//
// The stream ends when the client disconnects or the server shuts down.
func EventsHandler(deps *api.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind := r.PathValue("kind")
		if kind == "" {
			api.WriteJSONError(w, http.StatusBadRequest, "Bad Request", "KIND_REQUIRED", "job kind is required")
			return
		}
		if kind != hub.DashboardChannel {
			if _, ok := deps.Kinds.Get(kind); !ok {
				api.WriteJSONError(w, http.StatusNotFound, "Not Found", "KIND_NOT_FOUND",
					fmt.Sprintf("unknown job kind: %s", kind))
				return
			}
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			api.WriteJSONError(w, http.StatusInternalServerError, "Internal Server Error", "STREAMING_UNSUPPORTED",
				"response writer does not support streaming")
			return
		}

		user := deps.Config.User(r)
		sub := deps.Hub.Subscribe(kind, user)
		defer deps.Hub.Unsubscribe(sub)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		log.Debug().
			Str("component", "api").
			Str("channel", kind).
			Str("user", user).
			Msg("Event stream opened")

		for {
			select {
			case <-r.Context().Done():
				return
			case ev, open := <-sub.Events():
				if !open {
					// Displaced by a newer connection or server shutdown.
					return
				}
				if err := writeSSE(w, ev); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

// writeSSE encodes one hub event as an SSE frame. Heartbeats become
// comments so they keep intermediaries alive without waking client-side
// event listeners.
func writeSSE(w http.ResponseWriter, ev hub.Event) error {
	if ev.Type == hub.EventHeartbeat {
		_, err := fmt.Fprint(w, ": heartbeat\n\n")
		return err
	}

	payload, err := json.Marshal(ev.Snapshot)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
	return err
}
