// Package testrun executes one generated browser test synchronously with the
// Playwright runner and records the outcome.
package testrun

import (
	"context"
	"strings"
	"time"

	"al.essio.dev/pkg/shellescape"
	"github.com/qaflow/qaflow/apperr"
	"github.com/qaflow/qaflow/index"
	"github.com/qaflow/qaflow/launcher"
	"github.com/qaflow/qaflow/model"
	"github.com/qaflow/qaflow/report"
	"github.com/qaflow/qaflow/workspace"
	"github.com/rs/zerolog"
)

// Runner runs spec files with the browser test runner.
type Runner struct {
	logger   zerolog.Logger
	layout   *workspace.Layout
	index    index.Store
	launcher *launcher.Launcher
	runner   launcher.Tool
	now      func() time.Time
}

// New returns a runner using tool to locate the browser test runner.
func New(logger zerolog.Logger, layout *workspace.Layout, store index.Store, l *launcher.Launcher, tool launcher.Tool) *Runner {
	return &Runner{
		logger:   logger.With().Str("component", "testrun").Logger(),
		layout:   layout,
		index:    store,
		launcher: l,
		runner:   tool,
		now:      time.Now,
	}
}

// Run executes spec, which may be a path or a bare test name, and waits for
// it to finish. A failing test is a successful call with status failed.
// Report and index failures are logged, never returned.
func (r *Runner) Run(ctx context.Context, spec string, headed bool) (model.SpecRunResult, error) {
	if strings.TrimSpace(spec) == "" {
		return model.SpecRunResult{}, apperr.New(apperr.CodeMissingField, "Missing spec.")
	}

	specPath := r.layout.ResolveSpec(strings.TrimSpace(spec))
	base, err := r.runner.Resolve(r.layout.Root())
	if err != nil {
		return model.SpecRunResult{}, err
	}

	argv := append(base, "test", specPath)
	if headed {
		argv = append(argv, "--headed")
	}
	ran := shellescape.QuoteCommand(argv)

	res, err := r.launcher.Run(ctx, argv, nil, nil, nil)
	if err != nil {
		return model.SpecRunResult{}, apperr.Wrap(apperr.CodeToolUnavailable, err, "failed to run %s", r.runner.Name)
	}

	status := model.StatusFailed
	if res.ExitCode == 0 {
		status = model.StatusPassed
	}
	result := model.SpecRunResult{
		Spec:     specPath,
		Headed:   headed,
		Status:   status,
		Stdout:   strings.ToValidUTF8(res.Stdout, "�"),
		Stderr:   strings.ToValidUTF8(res.Stderr, "�"),
		ExitCode: res.ExitCode,
		Ran:      ran,
	}

	testName := workspace.TestNameFromSpec(specPath)
	logger := r.logger.With().Str("spec", specPath).Str("test", testName).Logger()
	logger.Info().Int("exit_code", res.ExitCode).Str("status", string(status)).Msg("Spec run finished")

	finishedAt := r.now()
	path, err := report.WriteRunReport(r.layout.ReportsDir(), testName, finishedAt, report.RunReport{
		Command:  ran,
		ExitCode: res.ExitCode,
		Status:   status,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to write run report")
	} else {
		result.ReportFile = r.layout.OutputRel(path)
	}

	safe := workspace.SanitizeName(testName)
	if safe == "" {
		return result, nil
	}
	_, err = r.index.Update(safe, func(e *model.IndexEntry) {
		e.RecordRun(finishedAt, status, result.ReportFile)
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to update test index")
	}
	return result, nil
}
