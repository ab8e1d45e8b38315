// Package queue provides the hand-off queue between buffer producers and the
// single network worker of a client session.
package queue

import (
	"sync"
)

// Item is one queued object plus its estimated size in bytes.
type Item[T any] struct {
	Object T
	Size   uint64
}

// CheckFull reports whether the queue should reject the next push given the
// current number of visible items and their total size.
type CheckFull func(visible int, bytes uint64) bool

// Queue is a FIFO safe for many concurrent producers and one consumer. Push
// never blocks; Pop blocks until an item arrives or the queue is flushing.
// Flushing is permanent.
type Queue[T any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    []Item[T]
	bytes    uint64
	flushing bool

	checkFull CheckFull
}

// WithCheckFull installs a capacity policy. A nil policy admits everything.
func WithCheckFull[T any](fn CheckFull) func(*Queue[T]) {
	return func(q *Queue[T]) { q.checkFull = fn }
}

// WithLimits rejects pushes once maxItems items or maxBytes bytes are queued.
// Zero disables the corresponding limit.
func WithLimits[T any](maxItems int, maxBytes uint64) func(*Queue[T]) {
	return func(q *Queue[T]) {
		if maxItems <= 0 && maxBytes == 0 {
			q.checkFull = nil
			return
		}
		q.checkFull = func(visible int, bytes uint64) bool {
			if maxItems > 0 && visible >= maxItems {
				return true
			}
			return maxBytes > 0 && bytes >= maxBytes
		}
	}
}

// New creates an empty queue.
func New[T any](opts ...func(*Queue[T])) *Queue[T] {
	q := &Queue[T]{}
	q.cond = sync.NewCond(&q.mu)
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Push appends item. It returns false, leaving item with the caller, when the
// queue is flushing or the capacity policy rejects it.
func (q *Queue[T]) Push(item Item[T]) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.flushing {
		return false
	}
	if q.checkFull != nil && q.checkFull(len(q.items), q.bytes) {
		return false
	}
	q.items = append(q.items, item)
	q.bytes += item.Size
	q.cond.Signal()
	return true
}

// Pop removes the oldest item, blocking while the queue is empty. It returns
// false once the queue is flushing, even if items remain; use Drain to
// collect those.
func (q *Queue[T]) Pop() (Item[T], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.flushing {
		q.cond.Wait()
	}
	if q.flushing {
		var zero Item[T]
		return zero, false
	}
	return q.shift(), true
}

// SetFlushing permanently closes the queue and wakes every waiter. It is
// safe to call more than once.
func (q *Queue[T]) SetFlushing() {
	q.mu.Lock()
	q.flushing = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Drain removes and returns every queued item without blocking.
func (q *Queue[T]) Drain() []Item[T] {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	q.bytes = 0
	return items
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Bytes returns the total size of queued items.
func (q *Queue[T]) Bytes() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.bytes
}

// Flushing reports whether SetFlushing has been called.
func (q *Queue[T]) Flushing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.flushing
}

func (q *Queue[T]) shift() Item[T] {
	item := q.items[0]
	var zero Item[T]
	q.items[0] = zero
	q.items = q.items[1:]
	q.bytes -= item.Size
	return item
}
