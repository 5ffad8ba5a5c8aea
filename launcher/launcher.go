// Package launcher spawns the external pipeline and test runner processes
// with a controlled working directory and environment.
package launcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"al.essio.dev/pkg/shellescape"
	"github.com/rs/zerolog"
)

// Launcher starts child processes rooted at the project directory.
type Launcher struct {
	logger zerolog.Logger
	root   string
}

// New returns a launcher whose children run in root.
func New(logger zerolog.Logger, root string) *Launcher {
	return &Launcher{
		logger: logger.With().Str("component", "launcher").Logger(),
		root:   root,
	}
}

// Process is a running child whose output streams are read by the caller.
type Process struct {
	Stdout io.Reader
	Stderr io.Reader

	cmd       *exec.Cmd
	startedAt time.Time
	waitOnce  sync.Once
	exitCode  int
	waitErr   error
}

// Pid returns the process id of the child.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// StartedAt returns when the child was spawned.
func (p *Process) StartedAt() time.Time {
	return p.startedAt
}

// Wait blocks until the child exits and returns its exit code. Both output
// streams must be drained before calling Wait. A non-zero exit is not an
// error; err is only set when the child could not be waited on.
func (p *Process) Wait() (int, error) {
	p.waitOnce.Do(func() {
		err := p.cmd.Wait()
		p.exitCode = 0
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				p.exitCode = exitErr.ExitCode()
			} else {
				p.exitCode = -1
				p.waitErr = fmt.Errorf("failed to wait for process: %w", err)
			}
		}
	})
	return p.exitCode, p.waitErr
}

// Start spawns argv with env overlaid on the current environment. The child
// is killed when ctx is done.
func (l *Launcher) Start(ctx context.Context, argv []string, env Env) (*Process, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command line")
	}

	cmd := l.command(ctx, argv, env)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	l.logger.Info().
		Str("cmd", shellescape.QuoteCommand(argv)).
		Str("dir", l.root).
		Msg("Starting process")

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", argv[0], err)
	}

	return &Process{
		Stdout:    stdout,
		Stderr:    stderr,
		cmd:       cmd,
		startedAt: time.Now(),
	}, nil
}

// Result is the captured outcome of a completed child.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Run executes argv to completion and captures its output. A non-zero exit
// code is reported in the result, not as an error. When extra writers are
// given the output is teed to them as well.
func (l *Launcher) Run(ctx context.Context, argv []string, env Env, stdout, stderr io.Writer) (Result, error) {
	if len(argv) == 0 {
		return Result{}, errors.New("empty command line")
	}

	cmd := l.command(ctx, argv, env)

	// Capture stdout and stderr, optionally mirroring them
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = teeWriter(&stdoutBuf, stdout)
	cmd.Stderr = teeWriter(&stderrBuf, stderr)

	l.logger.Info().
		Str("cmd", shellescape.QuoteCommand(argv)).
		Str("dir", l.root).
		Msg("Running process")

	err := cmd.Run()
	res := Result{
		Stdout: stdoutBuf.String(),
		Stderr: stderrBuf.String(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			l.logger.Info().
				Int("exit_code", res.ExitCode).
				Str("cmd", argv[0]).
				Msg("Process exited with non-zero code")
			return res, nil
		}
		return res, fmt.Errorf("failed to execute %s: %w", argv[0], err)
	}

	l.logger.Debug().Str("cmd", argv[0]).Msg("Process completed successfully")
	return res, nil
}

func (l *Launcher) command(ctx context.Context, argv []string, env Env) *exec.Cmd {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = l.root
	cmd.Env = env.Apply(os.Environ())
	// Let Wait return once the child is gone even if a grandchild still
	// holds the pipes open.
	cmd.WaitDelay = 5 * time.Second
	setProcessGroup(cmd)
	return cmd
}

func teeWriter(buf *bytes.Buffer, extra io.Writer) io.Writer {
	if extra == nil {
		return buf
	}
	return io.MultiWriter(buf, extra)
}

// Env is a set of variables overlaid on the inherited environment.
type Env map[string]string

// PipelineEnv builds the variables the agent pipeline reads. planOnly
// asks the pipeline to stop after writing test scenarios.
func PipelineEnv(appURL, testName, testDesc string, planOnly bool) Env {
	env := Env{
		"APP_URL":          appURL,
		"TEST_NAME":        testName,
		"TEST_DESC":        testDesc,
		"PYTHONUNBUFFERED": "1",
		"PYTHONIOENCODING": "utf-8",
	}
	if planOnly {
		env["FAST_PLAN_ONLY"] = "1"
	}
	return env
}

// Apply returns base with the variables of e replacing any existing values.
// base is not modified.
func (e Env) Apply(base []string) []string {
	out := make([]string, 0, len(base)+len(e))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := e[key]; ok {
			continue
		}
		out = append(out, kv)
	}

	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+e[k])
	}
	return out
}
