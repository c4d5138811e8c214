package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// node represents a single element in the queue
type node[T interface{}] struct {
	value *T
	next  atomic.Pointer[node[T]]
}

// LockFreeMPSC is a lock-free multi-producer single-consumer queue.
// Producers append to a linked list with atomic operations, a helper goroutine
// hands the items over to the consumer through the Recv() channel.
//
// Ordering: pushes that are ordered by happens-before (e.g. two pushes from the same
// goroutine) are delivered in that order. Concurrent pushes are ordered by whichever
// producer completes its CAS first.
type LockFreeMPSC[T interface{}] struct {
	head   atomic.Pointer[node[T]]
	tail   atomic.Pointer[node[T]]
	out    chan *T
	done   chan struct{} // closed by Close, releases the hand-over goroutine
	closed atomic.Bool

	// Condition variable for efficient waiting
	mu   sync.Mutex
	cond *sync.Cond
}

// NewLockFreeMPSC creates a new lock-free multi-producer single-consumer queue
func NewLockFreeMPSC[T interface{}]() *LockFreeMPSC[T] {
	// Create a sentinel node (dummy node at the beginning)
	sentinel := &node[T]{}

	q := &LockFreeMPSC[T]{
		out:  make(chan *T),
		done: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)

	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	go q.consume()

	return q
}

// Push adds an item to the queue.
// Returns true if the item was added, or false if the queue is closed or value is nil.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *LockFreeMPSC[T]) Push(value *T) bool {
	if value == nil || q.closed.Load() {
		return false
	}

	newNode := &node[T]{value: value}
	var backoff uint8 = 0

	for {
		tailNode := q.tail.Load()
		next := tailNode.next.Load()
		if next == nil {
			if tailNode.next.CompareAndSwap(nil, newNode) {
				// CAS may fail if another producer already helped to move the tail
				q.tail.CompareAndSwap(tailNode, newNode)

				// signal under the lock, the consumer checks for items while holding it
				q.mu.Lock()
				q.cond.Signal()
				q.mu.Unlock()
				return true
			}
		} else {
			// help a producer that appended but has not moved the tail yet
			q.tail.CompareAndSwap(tailNode, next)
		}

		// spin with exponential backoff at low contention, then yield
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// consume hands items from the linked list over to the output channel
func (q *LockFreeMPSC[T]) consume() {
	defer close(q.out)

	for {
		for {
			head := q.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}

			value := next.value
			q.head.Store(next)

			select {
			case q.out <- value:
			case <-q.done:
				return
			}

			// help go gc - safe to clear after sending
			next.value = nil
		}

		q.mu.Lock()
		// double-check after acquiring the lock, Push signals while holding it
		for q.head.Load().next.Load() == nil && !q.closed.Load() {
			q.cond.Wait()
		}
		closed := q.closed.Load()
		q.mu.Unlock()

		if closed {
			return
		}
	}
}

// Recv returns a receive-only channel for consuming from the queue.
// The channel is closed once the queue is closed.
func (q *LockFreeMPSC[T]) Recv() <-chan *T {
	return q.out
}

// Close closes the queue, preventing further writes. Items that have not been
// received yet are dropped. Close is idempotent.
func (q *LockFreeMPSC[T]) Close() {
	if q.closed.Swap(true) {
		return
	}
	close(q.done)

	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// IsClosed returns true if the queue is closed.
func (q *LockFreeMPSC[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len returns an approximate count of the number of items in the queue.
// This is O(n) and should only be used for debugging.
func (q *LockFreeMPSC[T]) Len() int {
	count := 0
	current := q.head.Load()
	for {
		next := current.next.Load()
		if next == nil {
			break
		}
		count++
		current = next
	}
	return count
}
