package common

import (
	"net/http"
	"sync/atomic"
)

// HealthServer exposes liveness and readiness endpoints for container
// orchestration. Readiness flips to healthy once the caller's startup
// sequence (migrations, broker connect, cache warmup) has finished.
type HealthServer struct {
	server *http.Server
	ready  *atomic.Bool
}

// NewHealthServer builds a HealthServer bound to addr. ready is shared with
// the caller so it can be flipped to true once startup completes; until then
// /v1/readiness reports 503.
func NewHealthServer(addr string, ready *atomic.Bool) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{ready: ready}

	mux.HandleFunc("/v1/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/v1/readiness", func(w http.ResponseWriter, r *http.Request) {
		if !hs.ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	hs.server = &http.Server{Addr: addr, Handler: mux}
	return hs
}

// Server returns the underlying *http.Server so callers can drive
// ListenAndServe and Shutdown themselves.
func (h *HealthServer) Server() *http.Server { return h.server }
