// Package service exposes the kernel's observable query surface over
// HTTP: the status snapshot, an aggregate health probe and the
// Prometheus metrics endpoint.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agrisim/simkernel/health"
	"github.com/agrisim/simkernel/metric"
	"github.com/agrisim/simkernel/orchestrator"
)

// Kernel is the slice of the orchestrator the HTTP surface reads from.
// Everything served here is side-effect-free.
type Kernel interface {
	Snapshot() orchestrator.Snapshot
	Health() health.Status
}

// ServerConfig tunes the HTTP status server
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns working server tunables
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":8090",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// StatusServer serves the read-only kernel API
type StatusServer struct {
	kernel  Kernel
	cfg     ServerConfig
	logger  *slog.Logger
	metrics *metric.Registry
	server  *http.Server
}

// NewStatusServer creates the HTTP status server
func NewStatusServer(kernel Kernel, cfg ServerConfig, logger *slog.Logger, metrics *metric.Registry) *StatusServer {
	def := DefaultServerConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &StatusServer{
		kernel:  kernel,
		cfg:     cfg,
		logger:  logger.With("component", "status_server"),
		metrics: metrics,
	}

	mux := http.NewServeMux()
	s.RegisterHandlers(mux)
	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// RegisterHandlers installs the API on a mux. Useful when embedding the
// status API into an existing server.
func (s *StatusServer) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/subsystems", s.handleSubsystems)
	mux.HandleFunc("GET /api/v1/routes", s.handleRoutes)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(
			s.metrics.PrometheusRegistry(),
			promhttp.HandlerOpts{},
		))
	}
}

// Start begins serving in a background goroutine
func (s *StatusServer) Start() {
	go func() {
		s.logger.Info("status server listening", "addr", s.cfg.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("status server failed", "error", err)
		}
	}()
}

// Stop drains in-flight requests up to the configured shutdown timeout
func (s *StatusServer) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.kernel.Snapshot())
}

func (s *StatusServer) handleSubsystems(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.kernel.Snapshot().Subsystems)
}

func (s *StatusServer) handleRoutes(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.kernel.Snapshot().Routes)
}

// handleHealthz maps aggregate health onto probe-friendly status codes:
// 200 while the kernel is Healthy or Warning, 503 otherwise
func (s *StatusServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	status := s.kernel.Health()
	code := http.StatusOK
	if status == health.StatusDegraded || status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]string{"status": status.String()})
}

func (s *StatusServer) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response encode failed", "error", err)
	}
}
