package v1

import (
	"net/http"
	"sync/atomic"
)

// ReadyzHandler returns the readiness probe handler. It reports 200 once
// the server flipped the ready flag after startup and 503 before that
// (and again during shutdown).
func ReadyzHandler(ready *atomic.Bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready.Load() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("Ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("Not Ready"))
	}
}
