package runs

// This file contains the fan-in of a run's stdout and stderr into its event
// queue.

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/qaflow/qaflow/launcher"
	"github.com/qaflow/qaflow/model"
	"golang.org/x/sync/errgroup"
)

// transcript keeps the most recent output lines of a run.
type transcript struct {
	mu      sync.Mutex
	max     int
	lines   []string
	start   int
	dropped int
}

func newTranscript(max int) *transcript {
	if max <= 0 {
		max = 1
	}
	return &transcript{max: max}
}

func (t *transcript) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.lines) < t.max {
		t.lines = append(t.lines, line)
		return
	}
	t.lines[t.start] = line
	t.start = (t.start + 1) % t.max
	t.dropped++
}

// snapshot returns the kept lines oldest first and the number dropped.
func (t *transcript) snapshot() ([]string, int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, len(t.lines))
	out = append(out, t.lines[t.start:]...)
	out = append(out, t.lines[:t.start]...)
	return out, t.dropped
}

// multiplex drains both output streams of proc into run's queue, then waits
// for the process to exit. Order within one stream is preserved; the two
// streams interleave as lines arrive.
func (c *Coordinator) multiplex(run *Run, proc *launcher.Process, tr *transcript) (int, error) {
	pump := func(r io.Reader, stream string) error {
		br := bufio.NewReader(r)
		for {
			line, err := br.ReadString('\n')
			if line != "" {
				line = strings.ToValidUTF8(strings.TrimRight(line, "\r\n"), "�")
				run.Events.Push(model.LineEvent(line))
				tr.add(line)
				c.metrics.lines.WithLabelValues(stream).Inc()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", stream, err)
			}
		}
	}

	var g errgroup.Group
	g.Go(func() error { return pump(proc.Stdout, "stdout") })
	g.Go(func() error { return pump(proc.Stderr, "stderr") })
	readErr := g.Wait()

	// Only wait once both pipes are drained
	code, err := proc.Wait()
	if err != nil {
		return code, err
	}
	return code, readErr
}
