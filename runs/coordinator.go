package runs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"al.essio.dev/pkg/shellescape"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/qaflow/qaflow/apperr"
	"github.com/qaflow/qaflow/index"
	"github.com/qaflow/qaflow/launcher"
	"github.com/qaflow/qaflow/model"
	"github.com/qaflow/qaflow/report"
	"github.com/qaflow/qaflow/scenario"
	"github.com/qaflow/qaflow/workspace"
	"github.com/rs/zerolog"
)

const multiScenarioInstruction = "Generate ONE Playwright spec file with multiple tests: one test per scenario, in the given order. " +
	"Use test.describe('Feature'), test.beforeEach to goto APP_URL (or BASE_URL), " +
	"and test.describe.configure({ mode: 'serial' }) so they run one-by-one."

// StartRequest asks for a full pipeline run.
type StartRequest struct {
	ApplicationURL  string `json:"application_url"`
	TestName        string `json:"test_name"`
	TestDescription string `json:"test_description"`
}

// RunManyRequest asks for one generated spec covering several scenarios.
type RunManyRequest struct {
	ApplicationURL  string           `json:"application_url"`
	TestName        string           `json:"test_name"`
	TestDescription string           `json:"test_description"`
	Scenarios       []model.Scenario `json:"scenarios"`
}

// Options tune the coordinator.
type Options struct {
	// Kill a run's process after this long, 0 for no limit
	Timeout time.Duration
	// Drop finished runs nobody subscribed to after this long
	OrphanTTL time.Duration
	// How often to look for orphaned runs
	SweepInterval time.Duration
	// Output lines kept for the transcript of a run without a report
	TranscriptLines int

	// Defaults to a fresh registry
	Registry *Registry
	// Defaults to metrics registered with a private registry
	Metrics *Metrics
}

// Coordinator starts pipeline runs and hands their event streams to
// subscribers.
type Coordinator struct {
	logger    zerolog.Logger
	layout    *workspace.Layout
	index     index.Store
	launcher  *launcher.Launcher
	pipeline  launcher.Tool
	scenarios *scenario.Resolver
	registry  *Registry
	detector  *report.Detector
	metrics   *Metrics
	opts      Options

	// Parent of every run's context; cancelled to kill all runs
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Guards closing and wg.Add so no run starts once Shutdown waits
	mu      sync.Mutex
	closing bool

	reaperDone chan struct{}
}

// NewCoordinator returns a coordinator and starts its orphan reaper.
func NewCoordinator(
	logger zerolog.Logger,
	layout *workspace.Layout,
	store index.Store,
	l *launcher.Launcher,
	pipeline launcher.Tool,
	scenarios *scenario.Resolver,
	opts Options,
) *Coordinator {
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(prometheus.NewRegistry())
	}
	if opts.OrphanTTL <= 0 {
		opts.OrphanTTL = time.Hour
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	if opts.TranscriptLines <= 0 {
		opts.TranscriptLines = 5000
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		logger:     logger.With().Str("component", "runs").Logger(),
		layout:     layout,
		index:      store,
		launcher:   l,
		pipeline:   pipeline,
		scenarios:  scenarios,
		registry:   opts.Registry,
		detector:   report.NewDetector(logger, layout.StatusFiles()),
		metrics:    opts.Metrics,
		opts:       opts,
		ctx:        ctx,
		cancel:     cancel,
		reaperDone: make(chan struct{}),
	}
	go c.reap()
	return c
}

// Registry returns the registry runs are tracked in.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// StartRun validates req, spawns the pipeline and returns the run id. The
// run continues in the background.
func (c *Coordinator) StartRun(ctx context.Context, req StartRequest) (string, error) {
	appURL := strings.TrimSpace(req.ApplicationURL)
	name := strings.TrimSpace(req.TestName)
	desc := strings.TrimSpace(req.TestDescription)
	if appURL == "" || name == "" || desc == "" {
		return "", apperr.New(apperr.CodeMissingField, "Missing required fields.")
	}

	safe := workspace.SanitizeName(name)
	if safe == "" {
		return "", apperr.New(apperr.CodeInvalidInput, "Invalid test name.")
	}
	return c.launch(ctx, safe, appURL, launcher.PipelineEnv(appURL, safe, desc, false))
}

// RunMany persists exactly the given scenarios for the test and starts a run
// that generates one spec covering all of them, in order.
func (c *Coordinator) RunMany(ctx context.Context, name string, req RunManyRequest) (string, error) {
	appURL := strings.TrimSpace(req.ApplicationURL)
	if appURL == "" {
		return "", apperr.New(apperr.CodeMissingField, "Missing required fields.")
	}
	base := workspace.SanitizeName(strings.TrimSpace(req.TestName))
	if base == "" {
		base = workspace.SanitizeName(name)
	}
	if base == "" {
		return "", apperr.New(apperr.CodeMissingField, "Missing required fields.")
	}
	if len(req.Scenarios) == 0 {
		return "", apperr.New(apperr.CodeInvalidInput, "No scenarios provided.")
	}
	for i, s := range req.Scenarios {
		if strings.TrimSpace(string(s.ID)) == "" {
			return "", apperr.New(apperr.CodeInvalidInput, "Invalid scenario: item %d has no id", i)
		}
	}

	if _, err := c.scenarios.Save(base, req.Scenarios); err != nil {
		return "", err
	}

	directive, err := json.Marshal(struct {
		Note        string           `json:"note"`
		Instruction string           `json:"instruction"`
		Scenarios   []model.Scenario `json:"scenarios"`
	}{
		Note:        "MULTI_SCENARIO",
		Instruction: multiScenarioInstruction,
		Scenarios:   req.Scenarios,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode scenarios: %w", err)
	}

	env := launcher.PipelineEnv(appURL, base, string(directive), false)
	return c.launch(ctx, base, appURL, env)
}

func (c *Coordinator) launch(_ context.Context, testName, appURL string, env launcher.Env) (string, error) {
	// Discover the pipeline before anything else so a missing tool leaves no trace
	argv, err := c.pipeline.Resolve(c.layout.Root())
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return "", apperr.New(apperr.CodeToolUnavailable, "Server is shutting down.")
	}
	c.wg.Add(1)
	c.mu.Unlock()

	if _, err := c.index.Ensure(testName, c.layout.TestCreatedAt(testName, time.Now())); err != nil {
		c.logger.Warn().Err(err).Str("test", testName).Msg("Failed to register test in index")
	}
	if _, err := c.index.Update(testName, func(e *model.IndexEntry) { e.SetAppURL(appURL) }); err != nil {
		c.logger.Warn().Err(err).Str("test", testName).Msg("Failed to record application URL")
	}

	run := c.registry.Create(testName)

	// The run outlives the request that started it
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if c.opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(c.ctx, c.opts.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(c.ctx)
	}

	// Reports and status files already present belong to earlier runs
	before := report.TakeBaseline(append([]string{c.layout.CanonicalReport()}, c.layout.StatusFiles()...)...)
	proc, err := c.launcher.Start(runCtx, argv, env)
	if err != nil {
		cancel()
		c.registry.Remove(run.ID)
		c.wg.Done()
		return "", fmt.Errorf("failed to start pipeline: %w", err)
	}

	c.metrics.started.Inc()
	c.metrics.active.Inc()
	c.logger.Info().
		Str("run_id", run.ID).
		Str("test", testName).
		Str("app_url", appURL).
		Int("pid", proc.Pid()).
		Msg("Run started")

	go c.drive(runCtx, cancel, run, proc, before, shellescape.QuoteCommand(argv))
	return run.ID, nil
}

func (c *Coordinator) drive(ctx context.Context, cancel context.CancelFunc, run *Run, proc *launcher.Process, before report.Baseline, command string) {
	defer c.wg.Done()
	defer cancel()

	tr := newTranscript(c.opts.TranscriptLines)
	code, err := c.multiplex(run, proc, tr)
	if err != nil {
		c.logger.Warn().Err(err).Str("run_id", run.ID).Msg("Error while streaming run output")
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		c.logger.Warn().Str("run_id", run.ID).Dur("timeout", c.opts.Timeout).Msg("Run timed out, process killed")
	}

	c.finalize(run, proc.StartedAt(), before, code, command, tr)
}

// Subscribe attaches to the event stream of a run. Callers must call Release
// when they stop reading.
func (c *Coordinator) Subscribe(runID string) (*Run, error) {
	return c.registry.Attach(runID)
}

// Release ends a subscription. A subscriber that consumed the finished event
// retires the run; one that left early only detaches and the run keeps going.
func (c *Coordinator) Release(runID string, drained bool) {
	if drained {
		c.registry.Remove(runID)
		c.logger.Debug().Str("run_id", runID).Msg("Run stream drained, removed run")
		return
	}
	c.registry.Detach(runID)
	c.logger.Debug().Str("run_id", runID).Msg("Subscriber left before run finished")
}

func (c *Coordinator) reap() {
	defer close(c.reaperDone)
	ticker := time.NewTicker(c.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			for _, id := range c.registry.Sweep(c.opts.OrphanTTL) {
				c.logger.Info().Str("run_id", id).Msg("Removed orphaned run")
			}
		}
	}
}

// Shutdown refuses new runs and waits for in-flight runs to finalize. If ctx
// ends first the remaining processes are killed and still finalized before
// returning.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		c.logger.Warn().Msg("Shutdown deadline reached, killing running pipelines")
		err = ctx.Err()
	}

	c.cancel()
	<-done
	<-c.reaperDone
	return err
}
