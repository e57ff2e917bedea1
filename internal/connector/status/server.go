package status

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tanujs22/vg-conn/internal/connector/call"
)

// Server exposes the connector's operational state over HTTP.
type Server struct {
	httpServer *http.Server
	registry   *call.Registry
	startedAt  time.Time
}

// NewServer builds the status server on the given listen address.
func NewServer(addr string, registry *call.Registry) *Server {
	s := &Server{
		registry:  registry,
		startedAt: time.Now(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", s.handleHealth)
	r.Get("/calls", s.handleCalls)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the route table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		slog.Info("[Status] Listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("[Status] Server stopped", "error", err)
		}
	}()
}

// Shutdown stops the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"active_calls":   s.registry.Count(),
	})
}

func (s *Server) handleCalls(w http.ResponseWriter, r *http.Request) {
	calls := s.registry.Snapshot()
	if calls == nil {
		calls = []call.Summary{}
	}
	writeJSON(w, calls)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("[Status] Response write failed", "error", err)
	}
}
