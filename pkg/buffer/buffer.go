// Package buffer provides a generic, thread-safe bounded ring buffer used for
// the router's recent-event window.
//
// The buffer has a fixed capacity and two overflow policies: DropOldest (FIFO
// eviction, the default) and DropNewest. Statistics are always collected;
// Prometheus metrics can be enabled via the WithMetrics functional option.
package buffer

// Buffer represents a bounded ring buffer parameterized by item type T.
type Buffer[T any] interface {
	// Write adds an item to the buffer. When the buffer is full the overflow
	// policy decides which item is dropped.
	Write(item T) error

	// Read retrieves and removes the oldest item from the buffer.
	// Returns the item and true, or zero value and false if the buffer is empty.
	Read() (T, bool)

	// Peek retrieves the oldest item without removing it.
	Peek() (T, bool)

	// Snapshot returns a copy of the buffered items in oldest-to-newest order
	// without consuming them. Used for late-joining consumers and introspection.
	Snapshot() []T

	// Size returns the current number of items in the buffer.
	Size() int

	// Capacity returns the maximum number of items the buffer can hold.
	Capacity() int

	// IsFull returns true if the buffer is at maximum capacity.
	IsFull() bool

	// IsEmpty returns true if the buffer contains no items.
	IsEmpty() bool

	// Clear removes all items from the buffer.
	Clear()

	// Stats returns buffer statistics (always available for observability).
	Stats() *Statistics
}

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota

	// DropNewest drops new items when the buffer is full.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// DropCallback is called with the item dropped by the overflow policy.
type DropCallback[T any] func(item T)

// NewRing creates a new ring buffer with the specified capacity and options.
// Stats are always collected; metrics are optional via WithMetrics().
// Returns an error if metrics registration fails when metrics are requested.
func NewRing[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	opts := applyOptions(options...)
	return newRing(capacity, opts)
}
