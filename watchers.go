package evio

// Idle fires once per iteration, but only on iterations where no other
// event is queued by the time the idle phase runs. Any active idle watcher
// also forces the readiness wait to poll instead of block.
type Idle struct {
	base
}

// NewIdle returns an idle watcher.
func NewIdle(cb Callback) *Idle {
	w := &Idle{}
	w.Init(cb)
	return w
}

// Init (re)initializes the watcher.
func (w *Idle) Init(cb Callback) { w.base.init(cb) }

// Start registers the watcher.
func (w *Idle) Start(l *Loop) { listStart(l, w, &l.idle, true) }

// Stop deregisters the watcher.
func (w *Idle) Stop(l *Loop) { listStop(l, w, &l.idle, true) }

// Prepare fires at the top of every iteration, before descriptor changes
// are flushed and before the loop blocks.
type Prepare struct {
	base
}

// NewPrepare returns a prepare watcher.
func NewPrepare(cb Callback) *Prepare {
	w := &Prepare{}
	w.Init(cb)
	return w
}

// Init (re)initializes the watcher.
func (w *Prepare) Init(cb Callback) { w.base.init(cb) }

// Start registers the watcher.
func (w *Prepare) Start(l *Loop) { listStart(l, w, &l.prepare, true) }

// Stop deregisters the watcher.
func (w *Prepare) Stop(l *Loop) { listStop(l, w, &l.prepare, true) }

// Check fires at the end of every iteration, after all other events of the
// iteration have been delivered.
type Check struct {
	base
}

// NewCheck returns a check watcher.
func NewCheck(cb Callback) *Check {
	w := &Check{}
	w.Init(cb)
	return w
}

// Init (re)initializes the watcher.
func (w *Check) Init(cb Callback) { w.base.init(cb) }

// Start registers the watcher.
func (w *Check) Start(l *Loop) { listStart(l, w, &l.check, true) }

// Stop deregisters the watcher.
func (w *Check) Stop(l *Loop) { listStop(l, w, &l.check, true) }

// Cleanup fires exactly once, from Loop.Close. Cleanup watchers hold no
// loop reference, so they never keep Run alive.
type Cleanup struct {
	base
}

// NewCleanup returns a cleanup watcher.
func NewCleanup(cb Callback) *Cleanup {
	w := &Cleanup{}
	w.Init(cb)
	return w
}

// Init (re)initializes the watcher.
func (w *Cleanup) Init(cb Callback) { w.base.init(cb) }

// Start registers the watcher.
func (w *Cleanup) Start(l *Loop) { listStart(l, w, &l.cleanup, false) }

// Stop deregisters the watcher.
func (w *Cleanup) Stop(l *Loop) { listStop(l, w, &l.cleanup, false) }
