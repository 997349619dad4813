package admin

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/wishmock/wishmock/pkg/config"
	"github.com/wishmock/wishmock/pkg/engine"
	"github.com/wishmock/wishmock/pkg/logging"
	"github.com/wishmock/wishmock/pkg/metrics"
)

// Server is the admin HTTP API.
type Server struct {
	cfg    *config.Config
	engine *engine.Engine
	log    *slog.Logger

	startTime time.Time
	version   string

	httpServer *http.Server
}

// NewServer builds the admin API over an engine.
func NewServer(cfg *config.Config, eng *engine.Engine, log *slog.Logger, version string) *Server {
	if log == nil {
		log = logging.Nop()
	}
	if version == "" {
		version = "dev"
	}
	return &Server{
		cfg:       cfg,
		engine:    eng,
		log:       log,
		startTime: time.Now(),
		version:   version,
	}
}

// Handler returns the routed admin handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return mux
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	// Health probes
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /liveness", s.handleLiveness)
	mux.HandleFunc("GET /readiness", s.handleReadiness)

	// Introspection
	mux.HandleFunc("GET /admin/status", s.handleStatus)
	mux.HandleFunc("GET /admin/services", s.handleListServices)
	mux.HandleFunc("GET /admin/schema/{type}", s.handleSchema)
	mux.HandleFunc("GET /admin/events", s.handleEvents)

	// Mutation
	mux.HandleFunc("POST /admin/reload", s.handleReload)
	mux.HandleFunc("POST /admin/upload/proto", s.handleUploadProto)
	mux.HandleFunc("POST /admin/upload/rule", s.handleUploadRule)

	// Metrics
	mux.HandleFunc("GET /metrics", s.handleMetrics)
}

// Start binds the admin port.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.AdminPort),
		Handler: s.Handler(),
	}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("admin server stopped", "error", err)
		}
	}()
	return nil
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	registry := metrics.DefaultRegistry()
	if registry == nil {
		http.Error(w, "metrics not initialized", http.StatusServiceUnavailable)
		return
	}
	registry.Handler().ServeHTTP(w, r)
}
