// Package loop implements the single goroutine event loop every kqnet endpoint runs on.
//
// Each endpoint owns exactly one Loop. Every state transition of every connection the
// endpoint owns, and every lifecycle callback, runs as a Task on that loop, so no two
// callbacks of one endpoint ever run concurrently. Blocking socket calls never run on the
// loop: they run on short lived I/O goroutines that Post their completion back.
//
// Tasks are fed through a lib/util.LockFreeMPSC, so posting never blocks and tasks
// posted by one goroutine run in the order they were posted.
//
// Stop guarantees that no task runs after it returns, which is what makes it safe to
// release connection state after stopping an endpoint.
package loop
