package gateway

import "sync"

// Queue is an unbounded FIFO safe for concurrent producers and consumers.
// Push never blocks; Drain and TryPop never wait for a producer.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
	ready chan struct{}
}

// NewQueue creates an empty queue
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{
		ready: make(chan struct{}, 1),
	}
}

// Push appends an item and signals Ready
func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
		// A wakeup is already pending
	}
}

// TryPop removes and returns the oldest item, if any
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return item, true
}

// Drain removes and returns everything currently queued, oldest first.
// It returns nil when the queue is empty.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items
}

// Len returns the number of queued items
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Ready fires after a Push. Wakeups coalesce, so a receiver must drain
// with TryPop until empty rather than assume one item per signal.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}
