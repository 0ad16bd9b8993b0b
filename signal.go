package evio

import (
	"math/bits"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
)

const (
	// numSig mirrors Linux's NSIG; valid signal numbers are 1..numSig-1.
	numSig = 65
	// sigWords sizes the per-loop active-signal bitmap.
	sigWords = (numSig + 63) / 64
)

// sigslot is the process-wide per-signal registration. At most one loop may
// bind a given signal number at a time; the loop pointer and status are the
// only fields touched off the owning loop's goroutine.
type sigslot struct {
	loop   atomic.Pointer[Loop]
	status atomic.Uint32
	list   []*Signal
	ch     chan os.Signal
	quit   chan struct{}
}

var signalSlots [numSig - 1]sigslot

// Signal watches a POSIX signal. Deliveries are coalesced: any number of
// signals arriving before the loop wakes produce at least one callback.
type Signal struct {
	base
	signum int
}

// NewSignal returns a signal watcher for signum.
func NewSignal(cb Callback, signum int) *Signal {
	w := &Signal{}
	w.Init(cb, signum)
	return w
}

// Init (re)initializes the watcher. It must not be called while the watcher
// is active.
func (w *Signal) Init(cb Callback, signum int) {
	w.base.init(cb)
	w.signum = signum
}

// Signum returns the watched signal number.
func (w *Signal) Signum() int { return w.signum }

// forwardSignals is the delivery path between the Go runtime's signal
// handling and the loop. Its only effects are atomic stores and at most one
// eventfd write per wake window, keeping the contract of an
// async-signal-safe handler.
func forwardSignals(slot *sigslot, ch chan os.Signal, quit chan struct{}) {
	for {
		select {
		case <-quit:
			return
		case <-ch:
			l := slot.loop.Load()
			if l == nil {
				continue
			}
			slot.status.Store(1)
			if l.signalPending.Swap(1) == 0 {
				l.eventfdWrite()
			}
		}
	}
}

func (l *Loop) sigActiveSet(signum int) {
	idx := uint(signum - 1)
	l.sigActive[idx>>6] |= 1 << (idx & 63)
}

func (l *Loop) sigActiveClear(signum int) {
	idx := uint(signum - 1)
	l.sigActive[idx>>6] &^= 1 << (idx & 63)
}

// Start registers the watcher, binding signum to this loop. Binding a signal
// already owned by another loop is a programming error and aborts. The first
// watcher on a signal installs the wake descriptor and takes over the
// process disposition for that signal.
func (w *Signal) Start(l *Loop) {
	if w.signum <= 0 || w.signum >= numSig {
		abortf(l, "evio: signal %d out of range", w.signum)
	}
	if w.active != 0 {
		return
	}

	slot := &signalSlots[w.signum-1]
	if prev := slot.loop.Swap(l); prev != nil && prev != l {
		abortf(l, "evio: signal %d already bound to another loop", w.signum)
	}

	if len(slot.list) == 0 {
		l.eventfdInit()

		slot.ch = make(chan os.Signal, 1)
		slot.quit = make(chan struct{})
		signal.Notify(slot.ch, syscall.Signal(w.signum))
		go forwardSignals(slot, slot.ch, slot.quit)

		l.sigActiveSet(w.signum)
		l.dbg().Int("signum", w.signum).Str("category", "signal").Log("signal bound")
	}

	slot.list = append(slot.list, w)
	w.active = len(slot.list)
	l.Ref()
}

// Stop deregisters the watcher. Stopping the last watcher on the signal
// restores the prior disposition and discards any delivery that has not yet
// been collected.
func (w *Signal) Stop(l *Loop) {
	l.clearPending(&w.base)

	if w.active == 0 {
		return
	}

	slot := &signalSlots[w.signum-1]

	if len(slot.list) == 1 {
		signal.Stop(slot.ch)
	}

	s := slot.list
	last := len(s) - 1
	s[w.active-1] = s[last]
	s[w.active-1].active = w.active
	s[last] = nil
	slot.list = s[:last]

	if len(slot.list) == 0 {
		close(slot.quit)
		slot.ch = nil
		slot.quit = nil

		// Reset the pending status to prevent stale signal delivery.
		slot.status.Store(0)

		l.sigActiveClear(w.signum)
		slot.loop.Store(nil)
	}

	l.Unref()
	w.active = 0
}

// signalQueueEvents delivers a (possibly simulated) occurrence of signum to
// every watcher on it.
func (l *Loop) signalQueueEvents(signum int) {
	slot := &signalSlots[signum-1]
	if slot.loop.Load() != l {
		return
	}

	slot.status.Store(0)

	for i := len(slot.list) - 1; i >= 0; i-- {
		l.queueEvent(&slot.list[i].base, EventSignal)
	}
}

// signalProcessPending collects every signal that fired since the last wake,
// walking the loop's active-signal bitmap and read-and-clearing each slot's
// status.
func (l *Loop) signalProcessPending() {
	if l.signalPending.Swap(0) == 0 {
		return
	}

	for wi := 0; wi < sigWords; wi++ {
		w := l.sigActive[wi]
		for w != 0 {
			b := bits.TrailingZeros64(w)
			w &= w - 1

			idx := wi*64 + b
			if idx >= numSig-1 {
				break
			}

			slot := &signalSlots[idx]
			if slot.loop.Load() != l {
				continue
			}

			if slot.status.Swap(0) != 0 {
				for j := len(slot.list) - 1; j >= 0; j-- {
					l.queueEvent(&slot.list[j].base, EventSignal)
				}
			}
		}
	}
}

// signalCleanupLoop detaches every signal bound to l, restoring dispositions.
// Watchers on those signals are abandoned; the loop is going away.
func (l *Loop) signalCleanupLoop() {
	for i := range signalSlots {
		slot := &signalSlots[i]
		if slot.loop.Load() != l {
			continue
		}

		if slot.ch != nil {
			signal.Stop(slot.ch)
			close(slot.quit)
			slot.ch = nil
			slot.quit = nil
		}

		slot.list = nil
		slot.status.Store(0)

		l.sigActiveClear(i + 1)
		slot.loop.Store(nil)
	}
}
