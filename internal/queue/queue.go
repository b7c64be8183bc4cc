// Package queue implements the unbounded hand-off between the stream worker
// and the dispatcher.
package queue

import (
	"sync"

	"github.com/juju/collections/deque"

	"gerrit-watch/internal/models"
)

// Queue is an unbounded FIFO of events, safe for one producer and one consumer
// running on different goroutines. Consumers never block.
type Queue struct {
	mu    sync.Mutex
	items *deque.Deque
}

// New creates an empty queue
func New() *Queue {
	return &Queue{items: deque.New()}
}

// Push appends an event
func (q *Queue) Push(ev *models.Event) {
	q.mu.Lock()
	q.items.PushBack(ev)
	q.mu.Unlock()
}

// TryPop removes the oldest event. ok is false when nothing is pending.
func (q *Queue) TryPop() (ev *models.Event, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popFront()
}

func (q *Queue) popFront() (*models.Event, bool) {
	item, ok := q.items.PopFront()
	if !ok {
		return nil, false
	}
	return item.(*models.Event), true
}

// Drain removes up to max pending events in FIFO order; max <= 0 drains all.
func (q *Queue) Drain(max int) []*models.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.items.Len()
	if max > 0 && max < n {
		n = max
	}
	if n == 0 {
		return nil
	}
	out := make([]*models.Event, 0, n)
	for len(out) < n {
		ev, _ := q.popFront()
		out = append(out, ev)
	}
	return out
}

// Len returns the number of pending events
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}
