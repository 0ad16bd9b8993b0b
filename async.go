package evio

import "sync/atomic"

// Async delivers events across threads: Send may be called from any
// goroutine and wakes the owning loop, which invokes the callback with
// EventAsync. Multiple Sends before the loop observes the watcher coalesce
// into a single delivery.
type Async struct {
	base
	status atomic.Uint32
}

// NewAsync returns an async watcher.
func NewAsync(cb Callback) *Async {
	w := &Async{}
	w.Init(cb)
	return w
}

// Init (re)initializes the watcher. It must not be called while the watcher
// is active.
func (w *Async) Init(cb Callback) {
	w.base.init(cb)
	w.status.Store(0)
}

// Start registers the watcher, installing the loop's wake descriptor on
// first use. Must be called on the loop goroutine.
func (w *Async) Start(l *Loop) {
	if w.active != 0 {
		return
	}

	l.eventfdInit()
	w.status.Store(0)

	listStart(l, w, &l.async, true)
}

// Stop deregisters the watcher. Must be called on the loop goroutine.
func (w *Async) Stop(l *Loop) {
	listStop(l, w, &l.async, true)
}

// Send queues an EventAsync delivery for the watcher and wakes the loop.
// Safe to call from any goroutine for a watcher currently started on l.
func (w *Async) Send(l *Loop) {
	w.status.Store(1)

	if l.asyncPending.Swap(1) == 0 {
		l.eventfdWrite()
	}
}

// Pending reports whether a Send has been issued that the loop has not yet
// collected.
func (w *Async) Pending() bool {
	return w.status.Load() != 0
}
