package v1

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func probeReadyz(handler http.Handler) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestReadyzHandler(t *testing.T) {
	tests := []struct {
		name     string
		ready    bool
		wantCode int
		wantBody string
	}{
		{
			name:     "not ready",
			ready:    false,
			wantCode: http.StatusServiceUnavailable,
			wantBody: "Not Ready",
		},
		{
			name:     "ready",
			ready:    true,
			wantCode: http.StatusOK,
			wantBody: "Ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ready := &atomic.Bool{}
			ready.Store(tt.ready)

			w := probeReadyz(ReadyzHandler(ready))

			require.Equal(t, tt.wantCode, w.Code)
			require.Equal(t, tt.wantBody, w.Body.String())
		})
	}
}

func TestReadyzHandler_FollowsFlagTransitions(t *testing.T) {
	ready := &atomic.Bool{}
	handler := ReadyzHandler(ready)

	require.Equal(t, http.StatusServiceUnavailable, probeReadyz(handler).Code)

	ready.Store(true)
	require.Equal(t, http.StatusOK, probeReadyz(handler).Code)

	ready.Store(false)
	require.Equal(t, http.StatusServiceUnavailable, probeReadyz(handler).Code)
}
