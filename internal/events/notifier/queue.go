package notifier

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO of serialized event payloads with a single
// reader and any number of writers. A stalled reader accumulates memory
// rather than blocking publishers; bounding the queue is a deliberate
// non-feature (see DESIGN.md).
type Queue struct {
	mu     sync.Mutex
	items  []string
	closed bool
	notify chan struct{} // capacity 1, wakes the reader
}

// NewQueue creates an empty open queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Push appends an item and wakes the reader. Returns false if the queue has
// been closed, in which case the item is dropped.
func (q *Queue) Push(item string) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Pop blocks until an item is available, the queue is closed, or ctx is
// cancelled. The second return is false when no more items will ever be
// delivered. Items buffered before Close are still drained.
func (q *Queue) Pop(ctx context.Context) (string, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, true
		}
		if q.closed {
			q.mu.Unlock()
			return "", false
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", false
		case <-q.notify:
		}
	}
}

// Close marks the queue closed and wakes the reader. Safe to call multiple
// times and concurrently with Push/Pop.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Closed reports whether the queue has been closed.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of buffered items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
