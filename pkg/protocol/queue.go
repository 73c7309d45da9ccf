package protocol

import (
	"sync"
)

// Queue is a bounded FIFO ring buffer safe for concurrent use.
// A slot is occupied iff its pointer is non-nil; front is the next
// slot to pop and back the next to push, both wrapped by a
// power-of-two mask. Every successful push or pop broadcasts so that
// waiters on either side get another look at the buffer.
type Queue[T any] struct {
	mu      sync.Mutex
	changed *sync.Cond

	slots  []*T
	mask   uint32
	front  uint32
	back   uint32
	count  int
	closed bool
}

// NewQueue creates a queue with the given capacity. The capacity must
// be a nonzero power of two so that index wrapping stays a mask.
func NewQueue[T any](capacity int) (*Queue[T], byte) {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return nil, ErrInvalidArgument
	}

	q := &Queue[T]{
		slots: make([]*T, capacity),
		mask:  uint32(capacity - 1),
	}
	q.changed = sync.NewCond(&q.mu)
	return q, ErrNone
}

// Push appends an item. With wait set it blocks until a slot frees or
// the queue closes. Without wait it fails fast: ErrWouldBlock when the
// lock is contended, ErrQueueFull when no slot is free.
func (q *Queue[T]) Push(item *T, wait bool) byte {
	if item == nil {
		return ErrInvalidArgument
	}

	if wait {
		q.mu.Lock()
	} else if !q.mu.TryLock() {
		return ErrWouldBlock
	}
	defer q.mu.Unlock()

	for {
		if q.closed {
			return ErrQueueClosed
		}
		if q.slots[q.back] == nil {
			break
		}
		if !wait {
			return ErrQueueFull
		}
		q.changed.Wait()
	}

	q.slots[q.back] = item
	q.back = (q.back + 1) & q.mask
	q.count++
	q.changed.Broadcast()
	return ErrNone
}

// Pop removes and returns the oldest item. With wait set it blocks
// until an item arrives or the queue closes. Without wait it fails
// fast: ErrWouldBlock on lock contention, ErrQueueEmpty when nothing
// is buffered. A closed queue still drains buffered items before
// reporting ErrQueueClosed.
func (q *Queue[T]) Pop(wait bool) (*T, byte) {
	if wait {
		q.mu.Lock()
	} else if !q.mu.TryLock() {
		return nil, ErrWouldBlock
	}
	defer q.mu.Unlock()

	for q.slots[q.front] == nil {
		if q.closed {
			return nil, ErrQueueClosed
		}
		if !wait {
			return nil, ErrQueueEmpty
		}
		q.changed.Wait()
	}

	item := q.slots[q.front]
	q.slots[q.front] = nil
	q.front = (q.front + 1) & q.mask
	q.count--
	q.changed.Broadcast()
	return item, ErrNone
}

// Close marks the queue closed and wakes all waiters. Pending items
// remain poppable; further pushes fail with ErrQueueClosed.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.changed.Broadcast()
	q.mu.Unlock()
}

// Len returns the number of buffered items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}
