package runs

import (
	"context"
	"sync"

	"github.com/qaflow/qaflow/model"
)

// Queue is an unbounded FIFO of run events. Any number of goroutines may push;
// consumers block in Next. Nothing is accepted after the finished event.
type Queue struct {
	mu       sync.Mutex
	items    []model.Event
	finished bool

	// Signalled whenever items become available
	notify chan struct{}
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Push appends ev. It returns false, dropping ev, once the finished event has
// been pushed.
func (q *Queue) Push(ev model.Event) bool {
	q.mu.Lock()
	if q.finished {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, ev)
	if ev.Finished() {
		q.finished = true
	}
	q.mu.Unlock()

	q.signal()
	return true
}

// Next removes and returns the oldest event, waiting until one is available
// or ctx is done.
func (q *Queue) Next(ctx context.Context) (model.Event, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items[0] = model.Event{}
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				// Wake the next waiting consumer
				q.signal()
			}
			return ev, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return model.Event{}, ctx.Err()
		case <-q.notify:
		}
	}
}

// Len returns the number of buffered events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
