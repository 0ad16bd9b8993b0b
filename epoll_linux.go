//go:build linux

package evio

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// sigset is the kernel-sized signal mask passed to epoll_pwait. Only the
// first 64 signals exist on Linux.
type sigset uint64

// epollPwait wraps the raw syscall; golang.org/x/sys/unix exposes EpollWait
// only, and the loop needs the signal-mask variant so profiling signals
// cannot perturb the wait.
func epollPwait(epfd int, events []unix.EpollEvent, msec int, sigmask *sigset) (int, error) {
	var p unsafe.Pointer
	if len(events) > 0 {
		p = unsafe.Pointer(&events[0])
	}
	n, _, errno := unix.Syscall6(unix.SYS_EPOLL_PWAIT,
		uintptr(epfd), uintptr(p), uintptr(len(events)),
		uintptr(msec), uintptr(unsafe.Pointer(sigmask)), unsafe.Sizeof(*sigmask))
	if errno != 0 {
		return 0, errno
	}
	return int(n), nil
}

// epollMask converts an internal fd mask to epoll event bits.
func epollMask(emask Mask) uint32 {
	var events uint32
	if emask&EventRead != 0 {
		events |= unix.EPOLLIN
	}
	if emask&EventWrite != 0 {
		events |= unix.EPOLLOUT
	}
	if emask&maskET != 0 {
		events |= unix.EPOLLET
	}
	return events
}

// maskFromEpoll converts received epoll event bits to the internal mask.
// Error and hang-up conditions surface as both readable and writable so the
// watcher's next I/O attempt observes the failure.
func maskFromEpoll(events uint32) Mask {
	var emask Mask
	if events&(unix.EPOLLIN|unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		emask |= EventRead
	}
	if events&(unix.EPOLLOUT|unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		emask |= EventWrite
	}
	return emask
}

// cookie packs the descriptor and its registration generation into the
// kernel's 64-bit user-data slot, split across EpollEvent's Fd and Pad
// fields.
func cookie(ev *unix.EpollEvent, fd int, gen uint32) {
	ev.Fd = int32(fd)
	ev.Pad = int32(gen)
}

// invalidateFd removes fd's kernel registration once its last watcher is
// gone, flushing any queued change or error entry. ENOENT, EPERM, and EBADF
// from the removal are success (never registered, never registrable, or
// already gone with the descriptor). Returns 1 when the descriptor is still
// in use (or already invalidated), 0 on success, -1 on a hard error.
func (l *Loop) invalidateFd(fd int) int {
	fds := &l.fds[fd]

	if len(fds.list) > 0 {
		return 1
	}
	if fds.flags&fdInval != 0 {
		return 1
	}

	if fds.changes != 0 {
		l.flushFdChange(fds.changes - 1)
		fds.changes = 0
	}
	if fds.errors != 0 {
		l.flushFdError(fds.errors - 1)
		fds.errors = 0
	}

	fds.emask = 0
	fds.cache = 0
	fds.flags = fdInval

	if err := unix.EpollCtl(l.fd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		if err != unix.ENOENT && err != unix.EPERM && err != unix.EBADF {
			return -1
		}
	}
	return 0
}

// pollUpdate reconciles every queued descriptor change with the kernel. For
// each descriptor the new aggregate mask over its watchers is computed and
// exactly one of {no-op, ADD, MOD, DEL} is issued; DEL happens earlier, in
// invalidateFd, when the aggregate went empty.
func (l *Loop) pollUpdate() {
	var ev unix.EpollEvent

	for len(l.fdchanges) > 0 {
		fd := l.fdchanges[len(l.fdchanges)-1]
		l.fdchanges = l.fdchanges[:len(l.fdchanges)-1]

		fds := &l.fds[fd]
		emask := fds.emask
		flags := fds.flags

		fds.changes = 0
		fds.emask = 0
		fds.flags = 0

		for i := len(fds.list) - 1; i >= 0; i-- {
			fds.emask |= fds.list[i].emask
		}
		fds.emask &= maskET | EventRead | EventWrite
		fds.cache = emask

		if fds.emask == 0 {
			continue
		}
		if fds.emask == emask && flags&EventPoll == 0 {
			continue
		}

		fds.gen++
		ev.Events = epollMask(fds.emask)
		cookie(&ev, fd, fds.gen)

		op := unix.EPOLL_CTL_ADD
		if emask != 0 {
			op = unix.EPOLL_CTL_MOD
		}

		l.countCtlOp()

		if l.iou != nil {
			l.iou.ctl(l, op, fd, &ev)
			continue
		}

		err := unix.EpollCtl(l.fd, op, fd, &ev)
		if err == nil {
			continue
		}

		switch err {
		case unix.EEXIST:
			// Raced with an earlier registration; flip to MOD.
			l.dbg().Int("fd", fd).Str("category", "poll").Log("epoll ADD raced, retrying as MOD")
			if unix.EpollCtl(l.fd, unix.EPOLL_CTL_MOD, fd, &ev) == nil {
				continue
			}

		case unix.ENOENT:
			l.dbg().Int("fd", fd).Str("category", "poll").Log("epoll MOD raced, retrying as ADD")
			if unix.EpollCtl(l.fd, unix.EPOLL_CTL_ADD, fd, &ev) == nil {
				continue
			}

		case unix.EPERM:
			// Not pollable (regular file); treat as permanently ready.
			l.dbg().Int("fd", fd).Str("category", "poll").Log("fd not pollable, marking always ready")
			l.queueFdError(fd)
			continue
		}

		l.queueFdErrors(fd)
		fds.gen--
	}

	if l.iou != nil {
		l.iou.flush(l)
	}
}

// pollWait blocks in epoll_pwait for at most timeout milliseconds (-1 waits
// indefinitely), then dispatches the received events. Events carrying a
// stale generation are dropped; events exceeding the currently desired mask
// trigger a corrective MOD/DEL before dispatch.
func (l *Loop) pollWait(timeout int) {
	if timeout < -1 {
		abortf(l, "evio: invalid poll timeout %d", timeout)
	}

	// Descriptors marked permanently ready must keep firing, so never block.
	if len(l.fderrors) > 0 {
		timeout = 0
	}

	l.countPollWait()

	var n int
	for {
		var err error
		n, err = epollPwait(l.fd, l.events, timeout, &l.sigmask)
		if err == nil {
			break
		}
		if err == unix.EINTR {
			continue
		}
		abortf(l, "evio: epoll_pwait: %v", err)
	}

	for i := n - 1; i >= 0; i-- {
		ev := &l.events[i]

		fd := int(uint32(ev.Fd))
		if fd >= len(l.fds) {
			abortf(l, "evio: epoll reported unknown fd %d", fd)
		}

		fds := &l.fds[fd]
		if fds.gen != uint32(ev.Pad) {
			// Stale event from a superseded registration.
			continue
		}

		if l.invalidateFd(fd) <= 0 {
			continue
		}

		emask := maskFromEpoll(ev.Events)

		if emask&^fds.emask != 0 {
			// The kernel reported more than is currently wanted, e.g. a
			// stale EPOLLOUT after READ→WRITE→READ transitions. Re-arm with
			// the desired mask and keep going.
			ev.Events = epollMask(fds.emask)
			cookie(ev, fd, fds.gen)

			op := unix.EPOLL_CTL_DEL
			if fds.emask != 0 {
				op = unix.EPOLL_CTL_MOD
			}

			if l.iou == nil || op == unix.EPOLL_CTL_DEL {
				if err := unix.EpollCtl(l.fd, op, fd, ev); err != nil {
					abortf(l, "evio: epoll_ctl(%d): %v", fd, err)
				}
			} else {
				l.iou.ctl(l, op, fd, ev)
			}
		}

		if fds.changes == 0 {
			l.queueFdEvents(fd, emask)
		}
	}

	if l.iou != nil {
		l.iou.flush(l)
	}

	// A full result buffer means there may be more events than capacity;
	// grow it for the next wait.
	if n == len(l.events) && n < maxEvents {
		grown := n * 2
		if grown > maxEvents {
			grown = maxEvents
		}
		l.events = make([]unix.EpollEvent, grown)
	}

	// Synthetic readiness for permanently-ready descriptors.
	for i := len(l.fderrors) - 1; i >= 0; i-- {
		fd := l.fderrors[i]
		fds := &l.fds[fd]
		if fds.emask != 0 && fds.changes == 0 {
			l.queueFdEvents(fd, fds.emask)
		}
	}
}
