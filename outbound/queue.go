package outbound

import "sync"

// InteropQueueSize is the depth of process-boundary queues.
const InteropQueueSize = 128

// BoundedQueue is a FIFO that drops its oldest entry when full.
// It backs channels without flow control, such as the interop file handoff.
type BoundedQueue[T any] struct {
	mu      sync.Mutex
	items   []T
	max     int
	dropped uint64
}

// NewBoundedQueue creates a queue holding at most max items.
func NewBoundedQueue[T any](max int) *BoundedQueue[T] {
	if max <= 0 {
		max = InteropQueueSize
	}
	return &BoundedQueue[T]{max: max}
}

// Push appends v, evicting the oldest item when the queue is full.
// It reports whether an item was dropped.
func (q *BoundedQueue[T]) Push(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := false
	if len(q.items) >= q.max {
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
		q.dropped++
		dropped = true
	}
	q.items = append(q.items, v)
	return dropped
}

// Drain removes and returns all queued items, oldest first.
func (q *BoundedQueue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items
}

// Requeue puts items back at the front, keeping the newest when over capacity.
func (q *BoundedQueue[T]) Requeue(items []T) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	merged := make([]T, 0, len(items)+len(q.items))
	merged = append(merged, items...)
	merged = append(merged, q.items...)
	if over := len(merged) - q.max; over > 0 {
		q.dropped += uint64(over)
		merged = merged[over:]
	}
	q.items = merged
}

// Len returns the number of queued items.
func (q *BoundedQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many items were evicted since creation.
func (q *BoundedQueue[T]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
