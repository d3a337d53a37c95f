// Package buffer provides a generic, thread-safe bounded FIFO buffer.
//
// Two overflow policies are supported:
//   - Reject: Write fails with ErrFull when the buffer is at capacity.
//     Used by the data-flow message queues, where enqueue on a full queue
//     must fail fast rather than block or silently drop.
//   - DropOldest: the oldest item is evicted to make room. Used for
//     bounded histories such as a subsystem's recent-error ring.
//
// Statistics are always collected; observability is not optional.
package buffer

import (
	"errors"
	"sync"
)

// ErrFull is returned by Write under the Reject policy when at capacity
var ErrFull = errors.New("buffer full")

// OverflowPolicy defines behavior when a Write hits capacity
type OverflowPolicy int

const (
	// Reject fails the write with ErrFull
	Reject OverflowPolicy = iota
	// DropOldest evicts the oldest item to make room
	DropOldest
)

// Stats holds cumulative counters for a buffer
type Stats struct {
	Writes  int64 `json:"writes"`
	Reads   int64 `json:"reads"`
	Dropped int64 `json:"dropped"`
	Rejects int64 `json:"rejects"`
}

// Ring is a fixed-capacity FIFO ring buffer, safe for concurrent use
type Ring[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	policy   OverflowPolicy
	stats    Stats
}

// NewRing creates a ring buffer with the given capacity and policy.
// Capacity below 1 is clamped to 1.
func NewRing[T any](capacity int, policy OverflowPolicy) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		policy:   policy,
	}
}

// Write adds an item according to the overflow policy
func (r *Ring[T]) Write(item T) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == r.capacity {
		switch r.policy {
		case Reject:
			r.stats.Rejects++
			return ErrFull
		case DropOldest:
			r.tail = (r.tail + 1) % r.capacity
			r.size--
			r.stats.Dropped++
		}
	}

	r.items[r.head] = item
	r.head = (r.head + 1) % r.capacity
	r.size++
	r.stats.Writes++
	return nil
}

// Read removes and returns the oldest item.
// Returns the zero value and false when empty.
func (r *Ring[T]) Read() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readLocked()
}

// ReadBatch removes and returns up to max items in FIFO order.
// Used by the coordination loop to drain queues in bounded batches.
func (r *Ring[T]) ReadBatch(max int) []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	if max <= 0 || r.size == 0 {
		return nil
	}
	if max > r.size {
		max = r.size
	}

	out := make([]T, 0, max)
	for i := 0; i < max; i++ {
		item, ok := r.readLocked()
		if !ok {
			break
		}
		out = append(out, item)
	}
	return out
}

// readLocked removes one item; caller must hold r.mu
func (r *Ring[T]) readLocked() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}

	item := r.items[r.tail]
	r.items[r.tail] = zero // release reference
	r.tail = (r.tail + 1) % r.capacity
	r.size--
	r.stats.Reads++
	return item, true
}

// Snapshot returns all buffered items oldest-first without removing them
func (r *Ring[T]) Snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]T, 0, r.size)
	for i := 0; i < r.size; i++ {
		out = append(out, r.items[(r.tail+i)%r.capacity])
	}
	return out
}

// Size returns the current number of buffered items
func (r *Ring[T]) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Capacity returns the fixed capacity
func (r *Ring[T]) Capacity() int {
	return r.capacity
}

// IsFull reports whether the buffer is at capacity
func (r *Ring[T]) IsFull() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size == r.capacity
}

// IsEmpty reports whether the buffer holds no items
func (r *Ring[T]) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size == 0
}

// Clear removes all items
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head, r.tail, r.size = 0, 0, 0
}

// Stats returns a copy of the cumulative counters
func (r *Ring[T]) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
