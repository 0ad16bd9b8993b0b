package evio

// pendingEvent is a queued (watcher, accumulated mask) pair awaiting
// callback invocation.
type pendingEvent struct {
	w     *base
	emask Mask
}

// queueEvent queues an event for a watcher. A watcher with an event already
// queued has the new mask OR-ed into the existing slot rather than gaining a
// second entry.
func (l *Loop) queueEvent(b *base, emask Mask) {
	if b.pending != 0 {
		p := &l.pending[b.pending&1][(b.pending>>1)-1]
		p.emask |= emask
		return
	}

	q := l.pendingQueue
	l.pending[q] = append(l.pending[q], pendingEvent{w: b, emask: emask})
	b.pending = len(l.pending[q])<<1 | q
}

// queueList queues the same event for every watcher in list, in reverse
// order so that InvokePending's reverse drain observes insertion order.
func queueList[W Watcher](l *Loop, list []W, emask Mask) {
	for i := len(list) - 1; i >= 0; i-- {
		l.queueEvent(list[i].ptr(), emask)
	}
}

// InvokePending invokes all queued callbacks.
//
// The pending queue is double-buffered: the call swaps the active buffer,
// then drains the previous one in reverse insertion order, clearing each
// watcher's pending state before its callback runs so the callback can
// safely re-feed events for itself or any other watcher.
//
// InvokePending is re-entrant. A call from within a callback immediately
// processes newly queued events, depth-first, before the outer call
// continues; deep recursion is the caller's concern.
func (l *Loop) InvokePending() {
	for len(l.pending[l.pendingQueue]) > 0 {
		q := l.pendingQueue
		l.pendingQueue = q ^ 1

		buf := &l.pending[q]
		for len(*buf) > 0 {
			p := (*buf)[len(*buf)-1]
			*buf = (*buf)[:len(*buf)-1]

			p.w.pending = 0
			l.countDispatch()
			p.w.cb(l, p.emask)
		}
	}
}

// ClearPending removes any queued event for the watcher.
func (l *Loop) ClearPending(w Watcher) {
	l.clearPending(w.ptr())
}

func (l *Loop) clearPending(b *base) {
	p := b.pending
	if p == 0 {
		return
	}

	q := p & 1
	i := (p >> 1) - 1

	buf := l.pending[q]
	last := len(buf) - 1
	buf[i] = buf[last]
	buf[i].w.pending = (i+1)<<1 | q
	l.pending[q] = buf[:last]

	b.pending = 0
}

// PendingCount returns the number of events currently queued.
func (l *Loop) PendingCount() int {
	return len(l.pending[0]) + len(l.pending[1])
}
