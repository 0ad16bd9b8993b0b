//go:build linux

package evio

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// The wake descriptor is a kernel counting semaphore (eventfd) registered as
// an internal edge-triggered read watcher. It is installed lazily by the
// first signal or async watcher and is the only mechanism by which other
// threads or signal handlers interrupt the readiness wait.
//
// Senders follow a two-gate protocol: eventPending deduplicates concurrent
// notifications, and eventfdAllow confines the actual write to the window
// around the readiness wait so a wake can never race loop teardown.

// eventfdInit installs the wake descriptor. Called from paths that cannot
// fail, so inability to create the eventfd is fatal.
func (l *Loop) eventfdInit() {
	if l.event.active != 0 {
		return
	}
	if l.event.fd >= 0 {
		abortf(l, "evio: wake descriptor already installed")
	}

	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		abortf(l, "evio: eventfd: %v", err)
	}

	l.event.fd = fd
	l.event.emask = EventPoll | maskET | EventRead

	l.event.Start(l)
	// The wake watcher must not keep the loop alive on its own.
	l.Unref()
}

// eventfdDrain empties the counter. EAGAIN means there was nothing to drain.
func (l *Loop) eventfdDrain(fd int) {
	var buf [8]byte
	for {
		_, err := unix.Read(fd, buf[:])
		if err == nil {
			return
		}
		if err == unix.EINTR {
			continue
		}
		if err != unix.EAGAIN {
			abortf(l, "evio: eventfd read: %v", err)
		}
		return
	}
}

// eventfdNotify signals the counter. EAGAIN means the counter is saturated;
// drain once and retry.
func (l *Loop) eventfdNotify(fd int) {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	for {
		_, err := unix.Write(fd, buf[:])
		if err == nil {
			return
		}
		if err == unix.EINTR {
			continue
		}
		if err != unix.EAGAIN {
			abortf(l, "evio: eventfd write: %v", err)
		}
		l.eventfdDrain(fd)
	}
}

// eventfdWrite is the sender-side wake entry point, safe to call from any
// goroutine (and from the signal forwarding goroutines). The first caller to
// flip eventPending issues at most one write, and only while the loop has
// opened the eventfdAllow window.
func (l *Loop) eventfdWrite() {
	if l.eventPending.Swap(1) != 0 {
		return
	}
	if l.eventfdAllow.Load() == 0 {
		return
	}

	l.countWakeupWrite()
	l.eventfdNotify(l.event.fd)
}

// eventfdCallback is the internal wake watcher's callback: acknowledge the
// wake, then deliver coalesced signal and async events.
func eventfdCallback(l *Loop, emask Mask) {
	if emask&EventRead != 0 {
		l.eventfdDrain(l.event.fd)
	}

	l.eventPending.Store(0)

	l.signalProcessPending()

	if l.asyncPending.Swap(0) != 0 {
		for i := len(l.async) - 1; i >= 0; i-- {
			w := l.async[i]
			if w.status.Swap(0) != 0 {
				l.queueEvent(&w.base, EventAsync)
			}
		}
	}
}
