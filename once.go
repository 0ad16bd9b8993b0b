package evio

// Once waits for either readiness on a descriptor or a timeout, whichever
// comes first, then stops itself. The callback receives EventOnce combined
// with the mask of the source that fired.
type Once struct {
	base
	io Poll
	tm Timer
}

// NewOnce returns a once watcher for fd with the given mask of EventRead
// and EventWrite bits.
func NewOnce(cb Callback, fd int, emask Mask) *Once {
	w := &Once{}
	w.Init(cb, fd, emask)
	return w
}

// Init (re)initializes the watcher. It must not be called while the watcher
// is active.
func (w *Once) Init(cb Callback, fd int, emask Mask) {
	w.base.init(cb)
	w.io.Init(func(l *Loop, emask Mask) {
		w.Stop(l)
		w.cb(l, EventOnce|emask)
	}, fd, emask)
	w.tm.Init(func(l *Loop, emask Mask) {
		w.Stop(l)
		w.cb(l, EventOnce|emask)
	}, 0)
}

// Start arms both the descriptor and the timeout. The once watcher holds a
// single loop reference; the inner watchers' references are cancelled.
func (w *Once) Start(l *Loop, after Time) {
	if w.active != 0 {
		return
	}

	listStart(l, w, &l.once, true)

	w.io.Start(l)
	l.Unref()

	w.tm.Start(l, after)
	l.Unref()
}

// Stop disarms both inner watchers atomically and clears every pending
// event belonging to the trio.
func (w *Once) Stop(l *Loop) {
	l.clearPending(&w.base)
	l.clearPending(&w.io.base)
	l.clearPending(&w.tm.base)

	if w.active == 0 {
		return
	}

	// The ref/unref pairs keep the refcount from touching zero while the
	// sub-watchers stop, before the once watcher releases its own reference.
	l.Ref()
	w.io.Stop(l)

	l.Ref()
	w.tm.Stop(l)

	listStop(l, w, &l.once, true)
}
