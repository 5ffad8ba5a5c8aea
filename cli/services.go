package cli

// This file contains the wiring of qaflow's components from the loaded
// configuration.

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/qaflow/qaflow/catalog"
	"github.com/qaflow/qaflow/config"
	"github.com/qaflow/qaflow/index"
	"github.com/qaflow/qaflow/launcher"
	"github.com/qaflow/qaflow/runs"
	"github.com/qaflow/qaflow/scenario"
	"github.com/qaflow/qaflow/testrun"
	"github.com/qaflow/qaflow/workspace"
)

type services struct {
	layout      *workspace.Layout
	store       index.Store
	registry    *prometheus.Registry
	coordinator *runs.Coordinator
	catalog     *catalog.Catalog
	scenarios   *scenario.Resolver
	runner      *testrun.Runner
}

func (a *App) newServices(cfg config.Config) (*services, error) {
	layout, err := workspace.New(cfg.Root)
	if err != nil {
		return nil, err
	}
	a.logger.Debug().Str("root", layout.Root()).Msg("Using project root")

	store, err := index.Open(a.logger, cfg.Index, layout)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	l := launcher.New(a.logger, layout.Root())
	pipeline := launcher.PipelineTool(cfg.Pipeline.Command)
	resolver := scenario.NewResolver(a.logger, layout, l, pipeline)

	return &services{
		layout:   layout,
		store:    store,
		registry: reg,
		coordinator: runs.NewCoordinator(a.logger, layout, store, l, pipeline, resolver, runs.Options{
			Timeout:         cfg.Runs.Timeout,
			OrphanTTL:       cfg.Runs.OrphanTTL,
			TranscriptLines: cfg.Runs.TranscriptLines,
			Metrics:         runs.NewMetrics(reg),
		}),
		catalog:   catalog.New(a.logger, layout, store),
		scenarios: resolver,
		runner:    testrun.New(a.logger, layout, store, l, launcher.PlaywrightTool(cfg.Playwright.Command)),
	}, nil
}

// close stops all runs and releases the index.
func (s *services) close(ctx context.Context, a *App) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.coordinator.Shutdown(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Runs did not stop in time")
	}
	if err := s.store.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to close index")
	}
}
