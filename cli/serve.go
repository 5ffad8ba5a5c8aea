package cli

// This file contains the serve command running the HTTP API.

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/qaflow/qaflow/server"
	"github.com/urfave/cli/v2"
)

func (a *App) serve(ctx *cli.Context) error {
	cfg := a.cfg
	if listen := ctx.String("listen"); listen != "" {
		cfg.Listen = listen
	}
	if ctx.IsSet("run-timeout") {
		cfg.Runs.Timeout = ctx.Duration("run-timeout")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	svc, err := a.newServices(cfg)
	if err != nil {
		return err
	}

	srv := server.New(a.logger, server.Config{
		Address:     cfg.Listen,
		Layout:      svc.layout,
		Coordinator: svc.coordinator,
		Catalog:     svc.catalog,
		Scenarios:   svc.scenarios,
		Runner:      svc.runner,
		Gatherer:    svc.registry,
	})

	sigCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err = <-errCh:
		// Listener failed before any shutdown request
	case <-sigCtx.Done():
		a.logger.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			// Run streams stay open for as long as their runs
			a.logger.Warn().Err(err).Msg("Open requests did not finish in time")
			srv.Close()
		}
		cancel()
		err = <-errCh
	}

	svc.close(context.Background(), a)
	return err
}
