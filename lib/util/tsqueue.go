package util

import (
	"context"
	"sync"
)

const minQueueCap = 16

// ThreadSafeQueue is a double-ended FIFO guarded by a single mutex.
// Every operation holds the lock for its whole duration, so each call is atomic
// with respect to all others. The zero value is ready to use.
type ThreadSafeQueue[T any] struct {
	mu   sync.Mutex
	buf  []T // ring buffer, len(buf) is the capacity
	head int // index of the front item
	n    int // number of items

	// wait is closed and replaced by the next push, waking all blocked consumers
	wait chan struct{}
}

// NewThreadSafeQueue creates an empty queue
func NewThreadSafeQueue[T any]() *ThreadSafeQueue[T] {
	return &ThreadSafeQueue[T]{}
}

// --------------------------------------------------------------------------
// Producers
// --------------------------------------------------------------------------

// PushBack adds an item to the back of the queue
func (q *ThreadSafeQueue[T]) PushBack(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.grow()
	q.buf[(q.head+q.n)%len(q.buf)] = item
	q.n++
	q.notify()
}

// PushFront adds an item to the front of the queue
func (q *ThreadSafeQueue[T]) PushFront(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.grow()
	q.head = (q.head - 1 + len(q.buf)) % len(q.buf)
	q.buf[q.head] = item
	q.n++
	q.notify()
}

// --------------------------------------------------------------------------
// Consumers
// --------------------------------------------------------------------------

// PopFront removes and returns the front item. ok is false if the queue is empty.
func (q *ThreadSafeQueue[T]) PopFront() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popFront()
}

// PopBack removes and returns the back item. ok is false if the queue is empty.
func (q *ThreadSafeQueue[T]) PopBack() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.n == 0 {
		return item, false
	}
	i := (q.head + q.n - 1) % len(q.buf)
	item = q.buf[i]
	var zero T
	q.buf[i] = zero // release reference for the gc
	q.n--
	return item, true
}

// WaitPopFront blocks until an item is available or ctx is done.
// Returns ctx.Err() if the context ends first.
func (q *ThreadSafeQueue[T]) WaitPopFront(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		if item, ok := q.popFront(); ok {
			q.mu.Unlock()
			return item, nil
		}
		if q.wait == nil {
			q.wait = make(chan struct{})
		}
		wait := q.wait
		q.mu.Unlock()

		select {
		case <-wait:
			// another consumer may win the item, so loop and check again
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Drain atomically removes up to max items from the front (all items if max < 0)
func (q *ThreadSafeQueue[T]) Drain(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := q.n
	if max >= 0 && max < count {
		count = max
	}
	if count == 0 {
		return nil
	}

	out := make([]T, 0, count)
	for i := 0; i < count; i++ {
		item, _ := q.popFront()
		out = append(out, item)
	}
	return out
}

// --------------------------------------------------------------------------
// Inspection
// --------------------------------------------------------------------------

// Front returns the front item without removing it
func (q *ThreadSafeQueue[T]) Front() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.n == 0 {
		return item, false
	}
	return q.buf[q.head], true
}

// Back returns the back item without removing it
func (q *ThreadSafeQueue[T]) Back() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.n == 0 {
		return item, false
	}
	return q.buf[(q.head+q.n-1)%len(q.buf)], true
}

// IsEmpty returns true if the queue holds no items
func (q *ThreadSafeQueue[T]) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n == 0
}

// Len returns the number of items in the queue
func (q *ThreadSafeQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Clear removes all items
func (q *ThreadSafeQueue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.buf = nil
	q.head = 0
	q.n = 0
}

// --------------------------------------------------------------------------
// Helper Methods (caller holds q.mu)
// --------------------------------------------------------------------------

func (q *ThreadSafeQueue[T]) popFront() (item T, ok bool) {
	if q.n == 0 {
		return item, false
	}
	item = q.buf[q.head]
	var zero T
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	return item, true
}

// grow doubles the ring buffer when it is full, unwrapping it so that head is 0
func (q *ThreadSafeQueue[T]) grow() {
	if q.n < len(q.buf) {
		return
	}
	newCap := len(q.buf) * 2
	if newCap < minQueueCap {
		newCap = minQueueCap
	}
	buf := make([]T, newCap)
	for i := 0; i < q.n; i++ {
		buf[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf = buf
	q.head = 0
}

// notify wakes all consumers blocked in WaitPopFront
func (q *ThreadSafeQueue[T]) notify() {
	if q.wait != nil {
		close(q.wait)
		q.wait = nil
	}
}
