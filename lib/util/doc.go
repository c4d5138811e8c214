// Package util provides the concurrent queues used by kqnet to move data between
// goroutines.
//
// Key Components:
//
//   - ThreadSafeQueue: A generic double-ended FIFO guarded by one mutex. It bridges the
//     I/O loop and the application: the loop pushes received messages, the application
//     drains them with the non-blocking PopFront / Drain or waits with WaitPopFront,
//     which honours context cancellation and deadlines instead of busy-polling.
//
//   - LockFreeMPSC: A lock-free multi-producer single-consumer queue that delivers its
//     items through a channel. The event loop uses it as its task feed: any goroutine
//     may post work, the loop goroutine is the only consumer.
//
// Thread Safety:
//
//	All methods of both queues are safe for concurrent use. LockFreeMPSC must have at
//	most one goroutine receiving from Recv().
package util
