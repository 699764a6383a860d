// Package ops serves the worker's only HTTP surface: /health and
// /metrics. Submissions never arrive over HTTP — the worker is
// broker-driven — so this server carries no execution routes.
package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/oj-platform/exec-worker/internal/monitor"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Ready   bool   `json:"ready"`
	Version string `json:"version,omitempty"`
}

// Server serves /health and /metrics on its own goroutine, never
// touching the broker consume loop's serialized state.
type Server struct {
	http  *http.Server
	ready atomic.Bool
}

// New builds the ops server. Callers mark Ready(true) once the broker
// consumer, store client, and image pre-pull have all succeeded.
func New(addr string, metrics *monitor.Metrics) *Server {
	s := &Server{}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	if metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	}

	s.http = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Ready flips the readiness flag reported by /health.
func (s *Server) Ready(ready bool) {
	s.ready.Store(ready)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	ready := s.ready.Load()
	status := "starting"
	if ready {
		status = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(HealthResponse{Status: status, Ready: ready}); err != nil {
		log.Error().Err(err).Msg("encoding health response")
	}
}

// Start runs the HTTP server; returns once it stops.
func (s *Server) Start() error {
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
