package buffer

import (
	"sync"
)

// ring is a thread-safe circular buffer with configurable overflow policies.
type ring[T any] struct {
	mu       sync.RWMutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	stats    *Statistics
	metrics  *bufferMetrics // optional
	opts     *bufferOptions[T]
}

// newRing creates a new ring buffer instance.
// Returns an error if metrics registration fails when requested.
func newRing[T any](capacity int, opts *bufferOptions[T]) (*ring[T], error) {
	if capacity <= 0 {
		capacity = 1 // minimum capacity
	}

	stats := NewStatistics()

	var metrics *bufferMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newBufferMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, err
		}
	}

	return &ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		stats:    stats,
		metrics:  metrics,
		opts:     opts,
	}, nil
}

// Write adds an item to the buffer according to the overflow policy.
func (rb *ring[T]) Write(item T) error {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.size == rb.capacity {
		switch rb.opts.overflowPolicy {
		case DropOldest:
			droppedItem := rb.items[rb.tail]
			rb.tail = (rb.tail + 1) % rb.capacity
			rb.size--

			rb.stats.Overflow()
			rb.stats.Drop()
			if rb.metrics != nil {
				rb.metrics.recordOverflow()
				rb.metrics.recordDrop()
			}

			if rb.opts.dropCallback != nil {
				// Invoke the callback outside the lock to avoid deadlock
				defer rb.opts.dropCallback(droppedItem)
			}

		case DropNewest:
			rb.stats.Overflow()
			rb.stats.Drop()
			if rb.metrics != nil {
				rb.metrics.recordOverflow()
				rb.metrics.recordDrop()
			}

			if rb.opts.dropCallback != nil {
				defer rb.opts.dropCallback(item)
			}
			return nil
		}
	}

	rb.items[rb.head] = item
	rb.head = (rb.head + 1) % rb.capacity
	rb.size++

	rb.stats.Write()
	rb.stats.UpdateSize(int64(rb.size))
	if rb.metrics != nil {
		rb.metrics.recordWrite(rb.size, rb.capacity)
	}

	return nil
}

// Read retrieves and removes the oldest item from the buffer.
func (rb *ring[T]) Read() (T, bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	var zero T

	if rb.size == 0 {
		return zero, false
	}

	item := rb.items[rb.tail]
	rb.items[rb.tail] = zero // clear for GC
	rb.tail = (rb.tail + 1) % rb.capacity
	rb.size--

	rb.stats.Read()
	rb.stats.UpdateSize(int64(rb.size))
	if rb.metrics != nil {
		rb.metrics.recordRead(rb.size, rb.capacity)
	}

	return item, true
}

// Peek retrieves the oldest item without removing it from the buffer.
func (rb *ring[T]) Peek() (T, bool) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var zero T

	if rb.size == 0 {
		return zero, false
	}

	rb.stats.Peek()
	if rb.metrics != nil {
		rb.metrics.recordPeek()
	}

	return rb.items[rb.tail], true
}

// Snapshot returns a copy of the buffered items in oldest-to-newest order.
func (rb *ring[T]) Snapshot() []T {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if rb.size == 0 {
		return nil
	}

	result := make([]T, rb.size)
	for i := 0; i < rb.size; i++ {
		result[i] = rb.items[(rb.tail+i)%rb.capacity]
	}
	return result
}

// Size returns the current number of items in the buffer.
func (rb *ring[T]) Size() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size
}

// Capacity returns the maximum number of items the buffer can hold.
func (rb *ring[T]) Capacity() int {
	return rb.capacity // immutable, no lock needed
}

// IsFull returns true if the buffer is at maximum capacity.
func (rb *ring[T]) IsFull() bool {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size == rb.capacity
}

// IsEmpty returns true if the buffer contains no items.
func (rb *ring[T]) IsEmpty() bool {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size == 0
}

// Clear removes all items from the buffer.
func (rb *ring[T]) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	var zero T

	if rb.opts.dropCallback != nil {
		itemsToDrop := make([]T, rb.size)
		for i := 0; i < rb.size; i++ {
			itemsToDrop[i] = rb.items[(rb.tail+i)%rb.capacity]
		}
		// Invoke callbacks outside the lock to avoid deadlock
		defer func() {
			for _, item := range itemsToDrop {
				rb.opts.dropCallback(item)
			}
		}()
	}

	for i := 0; i < rb.capacity; i++ {
		rb.items[i] = zero
	}

	rb.head = 0
	rb.tail = 0
	rb.size = 0

	rb.stats.UpdateSize(0)
	if rb.metrics != nil {
		rb.metrics.updateSize(0, rb.capacity)
	}
}

// Stats returns buffer statistics.
func (rb *ring[T]) Stats() *Statistics {
	return rb.stats
}
