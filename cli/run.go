package cli

// This file contains the commands that drive the pipeline and the browser
// test runner from the terminal.

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/qaflow/qaflow/runs"
	"github.com/qaflow/qaflow/workspace"
	"github.com/urfave/cli/v2"
)

func (a *App) run(ctx *cli.Context) error {
	svc, err := a.newServices(a.cfg)
	if err != nil {
		return err
	}
	closeCtx := context.Background()
	defer func() { svc.close(closeCtx, a) }()

	sigCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID, err := svc.coordinator.StartRun(sigCtx, runs.StartRequest{
		ApplicationURL:  ctx.String("url"),
		TestName:        ctx.String("name"),
		TestDescription: ctx.String("description"),
	})
	if err != nil {
		return err
	}
	a.logger.Info().Str("run_id", runID).Msg("Run started")

	run, err := svc.coordinator.Subscribe(runID)
	if err != nil {
		return err
	}
	for {
		ev, err := run.Events.Next(sigCtx)
		if err != nil {
			// Interrupted: kill the run instead of waiting for it
			svc.coordinator.Release(runID, false)
			expired, cancel := context.WithCancel(context.Background())
			cancel()
			closeCtx = expired
			return err
		}
		if ev.Finished() {
			break
		}
		fmt.Fprintln(os.Stdout, ev.Line)
	}
	svc.coordinator.Release(runID, true)

	name := workspace.SanitizeName(ctx.String("name"))
	entry, ok, err := svc.store.Get(name)
	if err != nil || !ok {
		a.logger.Warn().Err(err).Str("test", name).Msg("Run finished, but it is not indexed")
		return nil
	}
	logEvent := a.logger.Info().Str("test", name)
	if entry.LastStatus != nil {
		logEvent = logEvent.Str("status", string(*entry.LastStatus))
	} else {
		logEvent = logEvent.Str("status", "unknown")
	}
	if entry.LastReportFile != nil {
		logEvent = logEvent.Str("report", *entry.LastReportFile)
	}
	logEvent.Msg("Run finished")
	return nil
}

func (a *App) runSpec(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("expected exactly one SPEC argument, got %d", ctx.NArg())
	}

	svc, err := a.newServices(a.cfg)
	if err != nil {
		return err
	}
	defer svc.close(context.Background(), a)

	sigCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := svc.runner.Run(sigCtx, ctx.Args().First(), ctx.Bool("headed"))
	if err != nil {
		return err
	}
	fmt.Fprint(os.Stdout, res.Stdout)
	fmt.Fprint(os.Stderr, res.Stderr)

	a.logger.Info().
		Str("spec", res.Spec).
		Str("status", string(res.Status)).
		Int("exit_code", res.ExitCode).
		Str("report", res.ReportFile).
		Msg("Spec finished")

	if res.ExitCode != 0 {
		return cli.Exit("", res.ExitCode)
	}
	return nil
}

func (a *App) scenarios(ctx *cli.Context) error {
	svc, err := a.newServices(a.cfg)
	if err != nil {
		return err
	}
	defer svc.close(context.Background(), a)

	scenarios, err := svc.scenarios.GetOrCreate(ctx.Context,
		ctx.String("name"),
		ctx.String("url"),
		ctx.String("description"),
	)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(scenarios)
}
