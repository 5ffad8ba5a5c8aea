// Package server exposes qaflow over HTTP: run lifecycle with live output
// streaming, the test catalog, scenario sets and synchronous spec runs.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/qaflow/qaflow/catalog"
	"github.com/qaflow/qaflow/runs"
	"github.com/qaflow/qaflow/scenario"
	"github.com/qaflow/qaflow/testrun"
	"github.com/qaflow/qaflow/workspace"
	"github.com/rs/zerolog"
)

// Config wires the server to the rest of qaflow.
type Config struct {
	// Address to listen on (default: :8000)
	Address string

	Layout      *workspace.Layout
	Coordinator *runs.Coordinator
	Catalog     *catalog.Catalog
	Scenarios   *scenario.Resolver
	Runner      *testrun.Runner

	// Source of /metrics, defaults to the global Prometheus registry
	Gatherer prometheus.Gatherer

	// Interval of keep-alive comments on idle run streams (default: 15s)
	KeepAlive time.Duration
}

// Server is the qaflow HTTP API.
type Server struct {
	logger     zerolog.Logger
	cfg        Config
	router     chi.Router
	httpServer *http.Server
}

// New builds the server and its routes.
func New(logger zerolog.Logger, cfg Config) *Server {
	if cfg.Address == "" {
		cfg.Address = ":8000"
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 15 * time.Second
	}

	s := &Server{
		logger: logger.With().Str("component", "server").Logger(),
		cfg:    cfg,
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:              cfg.Address,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No write timeout: run streams and spec runs are long-lived
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(withCORS)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/run", s.handleStartRun)
		r.Get("/stream/{runID}", s.handleStream)
		r.Get("/report", s.handleReport)
		r.Get("/artifacts", s.handleArtifacts)
		r.Post("/run-test", s.handleRunTest)

		r.Route("/tests", func(r chi.Router) {
			r.Get("/", s.handleListTests)
			r.Get("/{name}", s.handleGetTest)
			r.Put("/{name}", s.handleSaveTestCode)
			r.Post("/{name}/code", s.handleSaveTestCode)
			r.Get("/{name}/scenarios", s.handleScenarios)
			r.Post("/{name}/run-many", s.handleRunMany)
		})
	})

	r.Get("/outputs/*", s.handleOutputs)
	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.cfg.Address).Msg("Listening")
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for open ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Close drops all open connections.
func (s *Server) Close() error {
	return s.httpServer.Close()
}
