package evio

// fdInval marks a descriptor whose kernel registration has been removed;
// further processing short-circuits until queueFdChange re-arms it.
const fdInval Mask = 0x0080

// fdRecord is the loop's per-descriptor state.
type fdRecord struct {
	list    []*Poll // watchers on this fd
	changes int     // 1-based index in the fdchanges queue
	errors  int     // 1-based index in the fderrors queue
	gen     uint32  // registration generation, embedded in the kernel cookie
	emask   Mask    // mask currently registered with the kernel
	cache   Mask    // previously registered mask
	flags   Mask    // fdInval, plus EventPoll to force re-submission
}

// Poll watches a file descriptor for readiness.
type Poll struct {
	base
	fd    int
	emask Mask
}

// NewPoll returns a poll watcher for fd with the given mask of EventRead and
// EventWrite bits.
func NewPoll(cb Callback, fd int, emask Mask) *Poll {
	w := &Poll{}
	w.Init(cb, fd, emask)
	return w
}

// Init (re)initializes the watcher. It must not be called while the watcher
// is active.
func (w *Poll) Init(cb Callback, fd int, emask Mask) {
	w.base.init(cb)
	w.Set(fd, emask)
}

// Set replaces the watched descriptor and mask. It must not be called while
// the watcher is active; use Change for that.
func (w *Poll) Set(fd int, emask Mask) {
	if fd < 0 {
		abortf(nil, "evio: poll watcher fd %d out of range", fd)
	}
	w.fd = fd
	w.emask = (emask & (EventRead | EventWrite)) | EventPoll
}

// Modify replaces the event mask, preserving the pending force-submit flag.
// It must not be called while the watcher is active.
func (w *Poll) Modify(emask Mask) {
	w.emask = (emask & (EventRead | EventWrite)) | (w.emask & EventPoll)
}

// Fd returns the watched descriptor.
func (w *Poll) Fd() int { return w.fd }

// Events returns the watched event mask.
func (w *Poll) Events() Mask { return w.emask & (EventRead | EventWrite) }

// Start registers the watcher. The kernel registration is deferred and
// coalesced with other changes on the same descriptor until the next loop
// iteration.
func (w *Poll) Start(l *Loop) {
	if w.fd < 0 {
		abortf(l, "evio: poll watcher fd %d out of range", w.fd)
	}
	if w.active != 0 {
		return
	}

	if w.fd >= len(l.fds) {
		grown := make([]fdRecord, w.fd+1)
		copy(grown, l.fds)
		l.fds = grown
	}

	fds := &l.fds[w.fd]
	fds.list = append(fds.list, w)
	w.active = len(fds.list)
	l.Ref()

	l.queueFdChange(w.fd, w.emask&EventPoll)
	w.emask &^= EventPoll
}

// Stop deregisters the watcher and clears any pending event. When it was the
// last watcher on its descriptor, the kernel registration is removed at once;
// otherwise the reduced aggregate is queued and reconciled on the next
// iteration like any other change.
func (w *Poll) Stop(l *Loop) {
	l.clearPending(&w.base)

	if w.active == 0 {
		return
	}

	if w.fd < 0 || w.fd >= len(l.fds) {
		abortf(l, "evio: poll watcher fd %d out of range", w.fd)
	}

	fds := &l.fds[w.fd]
	last := len(fds.list) - 1
	fds.list[w.active-1] = fds.list[last]
	fds.list[w.active-1].active = w.active
	fds.list[last] = nil
	fds.list = fds.list[:last]

	l.Unref()
	w.active = 0

	ret := l.invalidateFd(w.fd)
	if ret < 0 {
		abortf(l, "evio: cannot invalidate fd %d", w.fd)
	}
	if ret > 0 {
		l.queueFdChange(w.fd, 0)
	}
}

// Change atomically retargets the watcher: a new descriptor stops and
// restarts it, an empty mask stops it, and a mask change on the same
// descriptor re-queues the kernel registration even when the per-descriptor
// aggregate is unchanged.
func (w *Poll) Change(l *Loop, fd int, emask Mask) {
	emask &= EventRead | EventWrite

	if fd != w.fd {
		w.Stop(l)
		w.Set(fd, emask)
		if emask != 0 {
			w.Start(l)
		}
		return
	}

	if emask == 0 {
		w.Stop(l)
		w.emask = 0
		return
	}

	if w.active == 0 {
		w.emask = emask | EventPoll
		w.Start(l)
		return
	}

	if w.fd >= len(l.fds) {
		abortf(l, "evio: poll watcher fd %d out of range", w.fd)
	}

	if w.emask != emask {
		w.emask = emask
		l.clearPending(&w.base)
		l.queueFdChange(w.fd, EventPoll)
	}
}

// queueFdChange records that fd's kernel registration must be reconciled on
// the next iteration. Each descriptor appears at most once in the queue.
func (l *Loop) queueFdChange(fd int, flags Mask) {
	fds := &l.fds[fd]

	if fds.changes == 0 {
		l.fdchanges = append(l.fdchanges, fd)
		fds.changes = len(l.fdchanges)
	}

	fds.flags &^= fdInval
	fds.flags |= flags
}

// queueFdEvents queues an I/O event for every watcher on fd whose mask
// overlaps emask.
func (l *Loop) queueFdEvents(fd int, emask Mask) {
	fds := &l.fds[fd]

	for i := len(fds.list) - 1; i >= 0; i-- {
		w := fds.list[i]
		if w.emask&emask != 0 {
			l.queueEvent(&w.base, EventPoll|(w.emask&emask))
		}
	}
}

// queueFdErrors stops every watcher on fd and queues an ERROR event for
// each. Used when the descriptor itself has gone bad.
func (l *Loop) queueFdErrors(fd int) {
	fds := &l.fds[fd]

	for i := len(fds.list) - 1; i >= 0; i-- {
		w := fds.list[i]
		w.Stop(l)
		l.queueEvent(&w.base, EventPoll|EventRead|EventWrite|EventError)
	}
}

// queueFdError marks fd permanently ready: it joins the fderrors queue and
// receives synthetic readiness events each iteration. Used for descriptors
// epoll refuses to watch (EPERM: regular files and the like).
func (l *Loop) queueFdError(fd int) {
	fds := &l.fds[fd]

	if fds.errors == 0 {
		l.fderrors = append(l.fderrors, fd)
		fds.errors = len(l.fderrors)
	}
}

// flushFdChange removes entry idx from the change queue, relocating the
// entry swapped into its place.
func (l *Loop) flushFdChange(idx int) {
	last := len(l.fdchanges) - 1
	if last <= 0 {
		l.fdchanges = l.fdchanges[:0]
		return
	}

	fd := l.fdchanges[last]
	l.fdchanges = l.fdchanges[:last]
	if idx == last {
		return
	}

	l.fds[fd].changes = idx + 1
	l.fdchanges[idx] = fd
}

// flushFdError removes entry idx from the permanently-ready queue.
func (l *Loop) flushFdError(idx int) {
	last := len(l.fderrors) - 1
	if last <= 0 {
		l.fderrors = l.fderrors[:0]
		return
	}

	fd := l.fderrors[last]
	l.fderrors = l.fderrors[:last]
	if idx == last {
		return
	}

	l.fds[fd].errors = idx + 1
	l.fderrors[idx] = fd
}
