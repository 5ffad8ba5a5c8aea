// Package runs owns the lifecycle of pipeline runs: spawning the process,
// streaming its output to subscribers, and recording the outcome once it
// exits.
package runs

import (
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/qaflow/qaflow/apperr"
)

// Run is one execution of the pipeline.
type Run struct {
	ID        string
	TestName  string
	CreatedAt time.Time
	Events    *Queue

	// Guarded by the owning registry
	finishedAt  time.Time
	subscribers int

	done chan struct{}
}

// Done is closed once the run has been finalized.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Registry maps run ids to live runs.
type Registry struct {
	mu   sync.Mutex
	runs map[string]*Run
	now  func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		runs: make(map[string]*Run),
		now:  time.Now,
	}
}

// Create registers a new run for testName and returns it.
func (r *Registry) Create(testName string) *Run {
	run := &Run{
		ID:        ulid.Make().String(),
		TestName:  testName,
		CreatedAt: r.now(),
		Events:    NewQueue(),
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	r.runs[run.ID] = run
	r.mu.Unlock()
	return run
}

// Get returns the run with id.
func (r *Registry) Get(id string) (*Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, "Invalid run id")
	}
	return run, nil
}

// Remove forgets the run with id. Removing an unknown id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.runs, id)
	r.mu.Unlock()
}

// MarkFinished records that the run has been finalized.
func (r *Registry) MarkFinished(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok || !run.finishedAt.IsZero() {
		return
	}
	run.finishedAt = r.now()
	close(run.done)
}

// Attach counts a new subscriber of the run and returns it.
func (r *Registry) Attach(id string) (*Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, "Invalid run id")
	}
	run.subscribers++
	return run, nil
}

// Detach undoes Attach. The run stays registered.
func (r *Registry) Detach(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if run, ok := r.runs[id]; ok && run.subscribers > 0 {
		run.subscribers--
	}
}

// Sweep removes runs that finished more than ttl ago and have nobody
// attached, returning their ids in order.
func (r *Registry) Sweep(ttl time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-ttl)
	var removed []string
	for id, run := range r.runs {
		if run.finishedAt.IsZero() || run.subscribers > 0 || run.finishedAt.After(cutoff) {
			continue
		}
		delete(r.runs, id)
		removed = append(removed, id)
	}
	sort.Strings(removed)
	return removed
}

// Len returns the number of registered runs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}
