// Package buffer provides the unbounded FIFO queue used between the socket
// reader and slower consumers (subscription handlers, sinks).
//
// A Growable never blocks the producer: when it reaches growThresholdPct of its
// capacity it doubles. Consumers either block in Receive or poll TryReceive.
package buffer

import "sync"

// growThresholdPct is the fill level (percent) at which the ring doubles.
const growThresholdPct = 70

// Growable is a mutex-protected ring buffer that grows instead of dropping.
type Growable[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ring   []T
	head   int
	tail   int
	count  int
	closed bool

	enqueued int64
	dequeued int64
	resizes  int
}

// Stats is a point-in-time view of a Growable.
type Stats struct {
	Count         int
	Capacity      int
	TotalReceived int64
	TotalSent     int64
	ResizeCount   int
}

// NewGrowable returns a queue with the given initial capacity (minimum 1).
func NewGrowable[T any](initialCapacity int) *Growable[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	g := &Growable[T]{ring: make([]T, initialCapacity)}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Send appends item. It returns false once the queue is closed.
func (g *Growable[T]) Send(item T) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return false
	}

	limit := len(g.ring) * growThresholdPct / 100
	if limit < 1 {
		limit = 1
	}
	if g.count+1 >= limit {
		g.grow()
	}

	g.ring[g.tail] = item
	g.tail = (g.tail + 1) % len(g.ring)
	g.count++
	g.enqueued++

	g.cond.Signal()
	return true
}

// Receive blocks until an item is available. After Close it keeps returning
// queued items and reports false once the queue is empty.
func (g *Growable[T]) Receive() (T, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for g.count == 0 && !g.closed {
		g.cond.Wait()
	}
	if g.count == 0 {
		var zero T
		return zero, false
	}
	return g.pop(), true
}

// TryReceive is the non-blocking form of Receive.
func (g *Growable[T]) TryReceive() (T, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.count == 0 {
		var zero T
		return zero, false
	}
	return g.pop(), true
}

// DrainTo removes up to max items (all of them when max <= 0).
func (g *Growable[T]) DrainTo(max int) []T {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.count == 0 {
		return nil
	}

	n := g.count
	if max > 0 && max < n {
		n = max
	}

	out := make([]T, n)
	for i := range out {
		out[i] = g.pop()
	}
	return out
}

// Close rejects further sends and wakes every blocked receiver.
func (g *Growable[T]) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.closed = true
	g.cond.Broadcast()
}

// Len returns the number of queued items.
func (g *Growable[T]) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}

// Cap returns the current ring size.
func (g *Growable[T]) Cap() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.ring)
}

// Stats returns counters for health reporting.
func (g *Growable[T]) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{
		Count:         g.count,
		Capacity:      len(g.ring),
		TotalReceived: g.enqueued,
		TotalSent:     g.dequeued,
		ResizeCount:   g.resizes,
	}
}

// pop removes the head item. Caller holds mu and has checked count > 0.
func (g *Growable[T]) pop() T {
	item := g.ring[g.head]
	var zero T
	g.ring[g.head] = zero
	g.head = (g.head + 1) % len(g.ring)
	g.count--
	g.dequeued++
	return item
}

// grow doubles the ring, unwrapping it so head starts at 0. Caller holds mu.
func (g *Growable[T]) grow() {
	next := make([]T, len(g.ring)*2)
	if g.count > 0 {
		if g.head < g.tail {
			copy(next, g.ring[g.head:g.tail])
		} else {
			n := copy(next, g.ring[g.head:])
			copy(next[n:], g.ring[:g.tail])
		}
	}
	g.ring = next
	g.head = 0
	g.tail = g.count
	g.resizes++
}
