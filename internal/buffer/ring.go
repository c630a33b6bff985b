package buffer

import (
	"sync"

	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/frame"
)

// DefaultCapacity is used when a ring is created with a non-positive size.
const DefaultCapacity = 5

// Ring is a fixed-capacity FIFO of frames with drop-oldest overflow.
// Push never blocks and never fails: when the ring is full the single
// oldest frame is evicted before the new one is inserted. Pop is
// non-blocking best-effort. Production and consumption rates on live
// video are decoupled and jittery, so dropping stale frames is preferred
// over applying backpressure to the producer.
type Ring struct {
	mu    sync.Mutex
	items []*frame.Frame
	head  int
	size  int
}

// NewRing creates a ring holding at most capacity frames.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{items: make([]*frame.Frame, capacity)}
}

// Push inserts a frame, evicting the oldest one first if the ring is full.
func (r *Ring) Push(f *frame.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == len(r.items) {
		// Evict exactly one oldest element.
		r.items[r.head] = nil
		r.head = (r.head + 1) % len(r.items)
		r.size--
	}
	tail := (r.head + r.size) % len(r.items)
	r.items[tail] = f
	r.size++
}

// Pop removes and returns the oldest frame, or (nil, false) when empty.
func (r *Ring) Pop() (*frame.Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == 0 {
		return nil, false
	}
	f := r.items[r.head]
	r.items[r.head] = nil
	r.head = (r.head + 1) % len(r.items)
	r.size--
	return f, true
}

// Len returns the number of buffered frames.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap returns the fixed capacity.
func (r *Ring) Cap() int {
	return len(r.items)
}

// Drain discards all buffered frames.
func (r *Ring) Drain() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.items {
		r.items[i] = nil
	}
	r.head = 0
	r.size = 0
}
