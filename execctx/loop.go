// Package execctx provides the single-threaded cooperative execution
// context each pipeline owns. Every stage callback, subscriber callback
// and backend completion for one pipeline is posted through one Loop's
// task queue, so no locks are required on per-pipeline state: all
// mutation happens on the loop's one goroutine.
package execctx

import "github.com/tracdap/storage-core/futures"

// Loop is a single-goroutine task queue. Multiple pipelines may each run
// on their own Loop in parallel; no object should be shared across Loops.
type Loop struct {
	tasks chan func()
	quit  chan struct{}
}

// NewLoop starts a Loop's worker goroutine and returns it. Callers must
// call Close when the loop is no longer needed.
func NewLoop() *Loop {
	l := &Loop{
		tasks: make(chan func(), 256),
		quit:  make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	for {
		select {
		case fn := <-l.tasks:
			fn()
		case <-l.quit:
			return
		}
	}
}

// Schedule enqueues fn to run on the loop's goroutine. Safe to call from
// any goroutine, including from within a task already running on the
// loop (the task is appended to the end of the queue, preserving FIFO
// order of independently-scheduled work).
func (l *Loop) Schedule(fn func()) {
	select {
	case l.tasks <- fn:
	case <-l.quit:
	}
}

// Close stops the loop. Pending tasks already in the queue are dropped;
// callers that need drain-to-completion semantics should coordinate that
// via their own terminal signal before calling Close.
func (l *Loop) Close() {
	close(l.quit)
}

// Bridge re-schedules a Future's continuation onto l once the future
// resolves, regardless of which goroutine resolved it. This is the
// cross-context hop adapter for handing a future's result back to the
// loop that owns the state the continuation will touch.
func Bridge[T any](l *Loop, f *futures.Future[T], cb func(T, error)) {
	f.Then(func(v T, err error) {
		l.Schedule(func() { cb(v, err) })
	})
}
