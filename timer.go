package evio

import "container/heap"

// Timer fires after a relative delay, and optionally at a repeat interval
// thereafter.
type Timer struct {
	base
	repeat Time
}

// NewTimer returns a timer watcher. A zero repeat makes it one-shot.
func NewTimer(cb Callback, repeat Time) *Timer {
	w := &Timer{}
	w.Init(cb, repeat)
	return w
}

// Init (re)initializes the watcher. It must not be called while the watcher
// is active.
func (w *Timer) Init(cb Callback, repeat Time) {
	w.base.init(cb)
	w.repeat = repeat
}

// SetRepeat replaces the repeat interval. An active timer keeps its current
// deadline; the new interval takes effect on the next reschedule (or Again).
func (w *Timer) SetRepeat(repeat Time) { w.repeat = repeat }

// Repeat returns the repeat interval.
func (w *Timer) Repeat() Time { return w.repeat }

// timerNode is a heap entry: the owning watcher plus its absolute deadline
// on the loop's monotonic clock.
type timerNode struct {
	w  *Timer
	at Time
}

// timerHeap is a binary min-heap ordered by deadline. Every sift writes the
// node's 1-based heap index back into the watcher's active field, so Stop
// and Again locate their node in O(1).
type timerHeap []timerNode

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].at < h[j].at }

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].w.active = i + 1
	h[j].w.active = j + 1
}

func (h *timerHeap) Push(x any) {
	node := x.(timerNode)
	*h = append(*h, node)
	node.w.active = len(*h)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old) - 1
	node := old[n]
	old[n] = timerNode{}
	*h = old[:n]
	return node
}

// Start schedules the timer to fire after the given delay. A deadline that
// would overflow the time representation silently refuses to activate the
// watcher.
func (w *Timer) Start(l *Loop, after Time) {
	if w.active != 0 {
		return
	}

	at := l.time + after
	if at < l.time {
		return
	}

	heap.Push(&l.timers, timerNode{w: w, at: at})
	l.Ref()
}

// Stop deactivates the timer and clears any pending event.
func (w *Timer) Stop(l *Loop) {
	l.clearPending(&w.base)

	if w.active == 0 {
		return
	}

	heap.Remove(&l.timers, w.active-1)
	l.Unref()
	w.active = 0
}

// Again restarts the timer from now: an active repeating timer is
// rescheduled to now+repeat, an inactive repeating timer is started, and a
// non-repeating timer is stopped. A reschedule that would overflow stops the
// timer instead.
func (w *Timer) Again(l *Loop) {
	l.clearPending(&w.base)

	if w.active != 0 {
		if w.repeat == 0 || l.time >= maxTime-w.repeat {
			w.Stop(l)
		} else {
			l.timers[w.active-1].at = l.time + w.repeat
			heap.Fix(&l.timers, w.active-1)
		}
		return
	}

	if w.repeat != 0 {
		w.Start(l, w.repeat)
	}
}

// Remaining returns the time until the timer fires, or zero when the timer
// is inactive or already due.
func (w *Timer) Remaining(l *Loop) Time {
	if w.active == 0 {
		return 0
	}

	node := &l.timers[w.active-1]
	if node.at <= l.time {
		return 0
	}
	return node.at - l.time
}

// timerUpdate queues expiry events for every due timer. One-shot timers
// leave the heap but keep their queued event; repeating timers advance by
// their interval, clamped to now+1 so a callback slower than the interval
// cannot starve the rest of the loop.
//
// Expired watchers are collected in deadline order and queued in reverse,
// because the pending queue drains in reverse insertion order: callbacks
// then observe earliest-deadline-first.
func (l *Loop) timerUpdate() {
	for len(l.timers) > 0 && l.timers[0].at <= l.time {
		w := l.timers[0].w

		if w.repeat == 0 || l.timers[0].at >= maxTime-w.repeat {
			heap.Pop(&l.timers)
			l.Unref()
			w.active = 0
		} else {
			l.timers[0].at += w.repeat
			if l.timers[0].at <= l.time {
				l.timers[0].at = l.time + 1
			}
			heap.Fix(&l.timers, 0)
		}

		l.expired = append(l.expired, &w.base)
		l.countTimerFired()
	}

	for n := len(l.expired); n > 0; n-- {
		b := l.expired[n-1]
		l.expired[n-1] = nil
		l.queueEvent(b, EventTimer)
	}
	l.expired = l.expired[:0]
}
