package loop

import (
	"context"
	"github.com/ValentinKolb/kqnet/lib/util"
	"github.com/ValentinKolb/kqnet/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
	"sync"
	"sync/atomic"
)

var Logger = logger.GetLogger(common.LoggerTransport)

// Task is a unit of work executed on the loop goroutine
type Task func()

// Loop executes posted tasks one at a time on a single dedicated goroutine.
// All state owned by the loop (connection state machines, the connection set) may only
// be touched from inside a task, which makes per-connection locking unnecessary.
type Loop struct {
	name    string
	tasks   *util.LockFreeMPSC[Task]
	stopCh  chan struct{}
	doneCh  chan struct{}
	started atomic.Bool
	stopped atomic.Bool
	mu      sync.Mutex // orders Start against Stop
}

// New creates a loop. The loop does not run until Start is called, tasks posted
// before that are queued.
func New(name string) *Loop {
	return &Loop{
		name:   name,
		tasks:  util.NewLockFreeMPSC[Task](),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches the loop goroutine. Calling Start more than once has no effect.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped.Load() || l.started.Load() {
		return
	}
	l.started.Store(true)
	go l.run()
}

// Post schedules fn on the loop goroutine. It returns false if the loop is stopped,
// in which case fn will never run.
//
// Thread-safety: safe to call from any goroutine, including the loop itself.
func (l *Loop) Post(fn Task) bool {
	if fn == nil || l.stopped.Load() {
		return false
	}
	return l.tasks.Push(&fn)
}

// Call posts fn and waits for it to finish. It must not be called from the loop
// goroutine. Returns common.ErrStopped if fn could not run.
func (l *Loop) Call(ctx context.Context, fn Task) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return common.ErrStopped
	}

	select {
	case <-done:
		return nil
	case <-l.doneCh:
		// the loop may have finished fn right before exiting
		select {
		case <-done:
			return nil
		default:
			return common.ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop terminates the loop and waits for the loop goroutine to exit. Tasks still queued
// are dropped, and no task runs after Stop returns. Stop is idempotent and must not be
// called from the loop goroutine.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.stopped.Load() {
		l.stopped.Store(true)
		close(l.stopCh)
		l.tasks.Close()
		if !l.started.Load() {
			close(l.doneCh)
		}
	}
	l.mu.Unlock()

	<-l.doneCh
}

// Done is closed once the loop goroutine has exited
func (l *Loop) Done() <-chan struct{} {
	return l.doneCh
}

// IsRunning reports whether the loop was started and not yet stopped
func (l *Loop) IsRunning() bool {
	return l.started.Load() && !l.stopped.Load()
}

// run is the loop goroutine
func (l *Loop) run() {
	defer close(l.doneCh)
	Logger.Debugf("event loop %s started", l.name)

	for {
		select {
		case <-l.stopCh:
			Logger.Debugf("event loop %s stopped", l.name)
			return
		case task, ok := <-l.tasks.Recv():
			if !ok {
				return
			}
			// a stop may race with a ready task, never run tasks after stopping
			if l.stopped.Load() {
				return
			}
			(*task)()
		}
	}
}
