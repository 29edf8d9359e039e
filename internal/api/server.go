// Package api serves quantsim over HTTP: strategy listing, signal
// generation, and backtests and comparisons run as background jobs.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	v1 "github.com/newthinker/quantsim/internal/api/handler/api"
	"github.com/newthinker/quantsim/internal/api/job"
	"github.com/newthinker/quantsim/internal/api/middleware"
	"github.com/newthinker/quantsim/internal/metrics"
)

// finished jobs are kept this long for polling
const jobTTL = time.Hour

// Server represents the HTTP server for quantsim
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	mux        *http.ServeMux
	backtests  *v1.BacktestHandler
}

// Config holds server configuration
type Config struct {
	Host    string
	Port    int
	APIKey  string // empty disables authentication
	MaxJobs int
}

// Dependencies are the services the routes call into.
type Dependencies struct {
	Runner  v1.Runner
	Metrics *metrics.Registry // optional; exposed on /metrics and fed request metrics
}

// NewServer creates a new HTTP server
func NewServer(cfg Config, deps Dependencies, logger *zap.Logger) (*Server, error) {
	if deps.Runner == nil {
		return nil, fmt.Errorf("api server needs a runner")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger:    logger,
		mux:       mux,
		backtests: v1.NewBacktestHandler(job.NewStore(cfg.MaxJobs, jobTTL), deps.Runner, logger),
	}

	s.setupRoutes(cfg, deps)
	if deps.Metrics != nil {
		s.httpServer.Handler = metrics.HTTPMiddleware(deps.Metrics)(mux)
	}
	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(cfg Config, deps Dependencies) {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	if deps.Metrics != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Metrics.Registry, promhttp.HandlerOpts{}))
	}

	signals := v1.NewSignalsHandler(deps.Runner)
	runs := v1.NewRunsHandler(deps.Runner)

	routes := http.NewServeMux()
	routes.HandleFunc("GET /api/v1/strategies", v1.ListStrategies)
	routes.HandleFunc("POST /api/v1/signals", signals.Generate)
	routes.HandleFunc("POST /api/v1/backtest", s.backtests.Create)
	routes.HandleFunc("POST /api/v1/compare", s.backtests.Compare)
	routes.HandleFunc("GET /api/v1/jobs", s.backtests.ListJobs)
	routes.HandleFunc("GET /api/v1/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.backtests.GetStatus(w, r, r.PathValue("id"))
	})
	routes.HandleFunc("GET /api/v1/runs", runs.List)

	s.mux.Handle("/api/v1/", middleware.RequestLog(s.logger)(middleware.APIKeyAuth(cfg.APIKey)(routes)))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, then cancels running jobs and waits
// for them to record their outcome.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	err := s.httpServer.Shutdown(ctx)
	s.backtests.Close()
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
