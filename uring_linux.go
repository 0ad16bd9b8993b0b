//go:build linux

package evio

import (
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// The io_uring backend batches epoll_ctl operations: pollUpdate and the
// correction path queue IORING_OP_EPOLL_CTL submissions instead of issuing
// one syscall per descriptor, and flush submits the batch with a single
// io_uring_enter. Error dispositions mirror the direct path exactly
// (EEXIST→MOD, ENOENT→ADD, EPERM→permanently ready, else hard error).

const (
	// uringEntries sizes the submission and completion rings. It must stay
	// within the user-data slot encoding below.
	uringEntries = 256

	uringOpEpollCtl = 29 // IORING_OP_EPOLL_CTL

	uringSetupClamp       = 1 << 4  // IORING_SETUP_CLAMP
	uringSetupSubmitAll   = 1 << 7  // IORING_SETUP_SUBMIT_ALL
	uringSetupCoopTaskrun = 1 << 8  // IORING_SETUP_COOP_TASKRUN
	uringSetupNoSQArray   = 1 << 16 // IORING_SETUP_NO_SQARRAY

	uringFeatSingleMmap  = 1 << 0  // IORING_FEAT_SINGLE_MMAP
	uringFeatNoDrop      = 1 << 1  // IORING_FEAT_NODROP
	uringFeatSubmitStabl = 1 << 2  // IORING_FEAT_SUBMIT_STABLE
	uringFeatRsrcTags    = 1 << 10 // IORING_FEAT_RSRC_TAGS

	uringEnterGetEvents = 1 << 0 // IORING_ENTER_GETEVENTS

	uringRegisterProbe = 8 // IORING_REGISTER_PROBE
	uringOpSupported   = 1 << 0

	uringOffSQRing = 0
	uringOffSQEs   = 0x10000000
)

// uringSQOffsets is struct io_sqring_offsets.
type uringSQOffsets struct {
	head        uint32
	tail        uint32
	ringMask    uint32
	ringEntries uint32
	flags       uint32
	dropped     uint32
	array       uint32
	resv1       uint32
	userAddr    uint64
}

// uringCQOffsets is struct io_cqring_offsets.
type uringCQOffsets struct {
	head        uint32
	tail        uint32
	ringMask    uint32
	ringEntries uint32
	overflow    uint32
	cqes        uint32
	flags       uint32
	resv1       uint32
	userAddr    uint64
}

// uringParams is struct io_uring_params.
type uringParams struct {
	sqEntries    uint32
	cqEntries    uint32
	flags        uint32
	sqThreadCPU  uint32
	sqThreadIdle uint32
	features     uint32
	wqFd         uint32
	resv         [3]uint32
	sqOff        uringSQOffsets
	cqOff        uringCQOffsets
}

// uringSQE is struct io_uring_sqe (64 bytes).
type uringSQE struct {
	opcode      uint8
	flags       uint8
	ioprio      uint16
	fd          int32
	off         uint64
	addr        uint64
	len         uint32
	opFlags     uint32
	userData    uint64
	bufIndex    uint16
	personality uint16
	spliceFdIn  int32
	_           [2]uint64
}

// uringCQE is struct io_uring_cqe (16 bytes).
type uringCQE struct {
	userData uint64
	res      int32
	flags    uint32
}

// uringProbeOp is struct io_uring_probe_op.
type uringProbeOp struct {
	op    uint8
	resv  uint8
	flags uint16
	resv2 uint32
}

// uringProbe is struct io_uring_probe with a full ops table.
type uringProbe struct {
	lastOp uint8
	opsLen uint8
	resv   uint16
	resv2  [3]uint32
	ops    [256]uringProbeOp
}

func uringSetup(entries uint32, params *uringParams) (int, error) {
	fd, _, errno := unix.Syscall(unix.SYS_IO_URING_SETUP,
		uintptr(entries), uintptr(unsafe.Pointer(params)), 0)
	if errno != 0 {
		return -1, errno
	}
	return int(fd), nil
}

func uringEnter(fd int, toSubmit, minComplete, flags uint32, sig *sigset) (int, error) {
	var p unsafe.Pointer
	var sz uintptr
	if sig != nil {
		p = unsafe.Pointer(sig)
		sz = unsafe.Sizeof(*sig)
	}
	n, _, errno := unix.Syscall6(unix.SYS_IO_URING_ENTER,
		uintptr(fd), uintptr(toSubmit), uintptr(minComplete),
		uintptr(flags), uintptr(p), sz)
	if errno != 0 {
		return 0, errno
	}
	return int(n), nil
}

func uringRegister(fd int, opcode uint32, arg unsafe.Pointer, nrArgs uint32) error {
	_, _, errno := unix.Syscall6(unix.SYS_IO_URING_REGISTER,
		uintptr(fd), uintptr(opcode), uintptr(arg), uintptr(nrArgs), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// uringProbeState caches the process-wide support probe:
// 0 unknown, 1 supported, 2 unsupported.
var uringProbeState atomic.Int32

// uringSupported reports whether the running kernel supports batched epoll
// control. IORING_REGISTER_PROBE and IORING_OP_EPOLL_CTL shipped in the same
// kernel release, so a failed probe registration means no support either way.
func uringSupported() bool {
	switch uringProbeState.Load() {
	case 1:
		return true
	case 2:
		return false
	}

	supported := uringProbeEpollCtl()
	if supported {
		uringProbeState.Store(1)
	} else {
		uringProbeState.Store(2)
	}
	return supported
}

func uringProbeEpollCtl() bool {
	var params uringParams
	params.flags = uringSetupClamp

	fd, err := uringSetup(2, &params)
	if err != nil {
		return false
	}
	defer unix.Close(fd)

	probe := new(uringProbe)
	if err := uringRegister(fd, uringRegisterProbe, unsafe.Pointer(probe), uint32(len(probe.ops))); err != nil {
		return false
	}

	for i := 0; i < int(probe.opsLen) && i < len(probe.ops); i++ {
		if probe.ops[i].op == uringOpEpollCtl {
			return probe.ops[i].flags&uringOpSupported != 0
		}
	}
	return false
}

// uring is the batched-ctl submission context: the ring descriptor, its two
// mmap'd regions, and a local cache of epoll_event payloads keyed by
// submission slot (IORING_FEAT_SUBMIT_STABLE lets the kernel copy them at
// submit time, but the retry path re-reads them after completion).
type uring struct {
	events [uringEntries]unix.EpollEvent

	sqhead *uint32
	cqhead *uint32
	sqtail *uint32
	cqtail *uint32
	sqmask uint32
	cqmask uint32

	ring   []byte
	sqeMem []byte
	sqes   []uringSQE
	cqes   []uringCQE

	fd    int
	count int
}

func ringU32(mem []byte, off uint32) *uint32 {
	return (*uint32)(unsafe.Pointer(&mem[off]))
}

// newURing creates the submission context, or returns nil when the kernel
// lacks support or setup fails; the loop then falls back to direct epoll_ctl.
func newURing(l *Loop) *uring {
	if !uringSupported() {
		l.dbg().Str("category", "uring").Log("io_uring epoll_ctl unsupported, using direct syscalls")
		return nil
	}

	// NO_SQARRAY is deliberately not requested: the ring-length arithmetic
	// below relies on the indirection array terminating the SQ ring.
	var params uringParams
	params.flags = uringSetupClamp | uringSetupSubmitAll | uringSetupCoopTaskrun

	fd, err := uringSetup(uringEntries, &params)
	if err != nil {
		if err != unix.EINVAL {
			return nil
		}
		// Older kernel rejecting the newer setup flags.
		params = uringParams{flags: uringSetupClamp}
		fd, err = uringSetup(uringEntries, &params)
		if err != nil {
			return nil
		}
	}

	const features = uringFeatSingleMmap | uringFeatNoDrop | uringFeatSubmitStabl | uringFeatRsrcTags
	if params.features&features != features {
		_ = unix.Close(fd)
		return nil
	}

	sqLen := int(params.sqOff.array) + int(params.sqEntries)*4
	cqLen := int(params.cqOff.cqes) + int(params.cqEntries)*int(unsafe.Sizeof(uringCQE{}))
	maxLen := sqLen
	if cqLen > maxLen {
		maxLen = cqLen
	}
	sqeLen := int(params.sqEntries) * int(unsafe.Sizeof(uringSQE{}))

	ring, err := unix.Mmap(fd, uringOffSQRing, maxLen,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		_ = unix.Close(fd)
		return nil
	}

	sqeMem, err := unix.Mmap(fd, uringOffSQEs, sqeLen,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		_ = unix.Munmap(ring)
		_ = unix.Close(fd)
		return nil
	}

	iou := &uring{
		sqhead: ringU32(ring, params.sqOff.head),
		cqhead: ringU32(ring, params.cqOff.head),
		sqtail: ringU32(ring, params.sqOff.tail),
		cqtail: ringU32(ring, params.cqOff.tail),
		sqmask: *ringU32(ring, params.sqOff.ringMask),
		cqmask: *ringU32(ring, params.cqOff.ringMask),
		ring:   ring,
		sqeMem: sqeMem,
		sqes:   unsafe.Slice((*uringSQE)(unsafe.Pointer(&sqeMem[0])), params.sqEntries),
		cqes:   unsafe.Slice((*uringCQE)(unsafe.Pointer(&ring[params.cqOff.cqes])), params.cqEntries),
		fd:     fd,
	}

	if params.sqOff.array != 0 {
		// Identity-map the SQE indirection array once.
		array := unsafe.Slice(ringU32(ring, params.sqOff.array), params.sqEntries)
		for i := range array {
			array[i] = uint32(i)
		}
	}

	return iou
}

// free unmaps the rings and closes the ring descriptor.
func (u *uring) free() {
	_ = unix.Munmap(u.ring)
	_ = unix.Munmap(u.sqeMem)
	_ = unix.Close(u.fd)
	u.fd = -1
}

// ctl queues one epoll_ctl operation. A full submission ring flushes first.
// The user-data slot packs `fd | op<<32 | slot<<34` so completions can be
// matched back to the cached epoll_event.
func (u *uring) ctl(l *Loop, op, fd int, ev *unix.EpollEvent) {
	if op != unix.EPOLL_CTL_ADD && op != unix.EPOLL_CTL_MOD {
		abortf(l, "evio: invalid uring epoll op %d", op)
	}

	mask := u.sqmask
	tail := *u.sqtail
	head := atomic.LoadUint32(u.sqhead)

	if (tail+1)&mask == head&mask {
		u.flush(l)
	}

	slot := tail & mask

	u.events[slot] = *ev

	u.sqes[slot] = uringSQE{
		opcode:   uringOpEpollCtl,
		fd:       int32(l.fd),
		off:      uint64(uint32(fd)),
		addr:     uint64(uintptr(unsafe.Pointer(&u.events[slot]))),
		len:      uint32(op),
		userData: uint64(uint32(fd)) | uint64(op)<<32 | uint64(slot)<<34,
	}

	atomic.StoreUint32(u.sqtail, tail+1)
	u.count++
}

// submitAndWait submits every queued operation and waits for all of their
// completions, with the loop's signal mask applied.
func (u *uring) submitAndWait(l *Loop) {
	n := uint32(u.count)

	for {
		ret, err := uringEnter(u.fd, n, n, uringEnterGetEvents, &l.sigmask)
		if err != nil {
			if err == unix.EINTR || err == unix.EAGAIN {
				continue
			}
			abortf(l, "evio: io_uring_enter: %v", err)
		}
		if uint32(ret) != n {
			abortf(l, "evio: io_uring_enter submitted %d/%d", ret, n)
		}
		break
	}

	u.count = 0
}

// flush submits all pending operations and applies each completion's
// disposition. Retries re-queue through ctl, so the loop runs until the
// batch fully settles.
func (u *uring) flush(l *Loop) {
	for u.count > 0 {
		u.submitAndWait(l)

		head := *u.cqhead
		tail := atomic.LoadUint32(u.cqtail)

		for ; head != tail; head++ {
			cqe := &u.cqes[head&u.cqmask]

			fd := int(uint32(cqe.userData))
			if fd >= len(l.fds) {
				abortf(l, "evio: io_uring completion for unknown fd %d", fd)
			}

			op := int(cqe.userData>>32) & 3
			slot := (cqe.userData >> 34) & (uringEntries - 1)
			ev := &u.events[slot]

			res := cqe.res
			if res == 0 {
				continue
			}

			switch {
			case res == -int32(unix.EEXIST) && op == unix.EPOLL_CTL_ADD:
				u.ctl(l, unix.EPOLL_CTL_MOD, fd, ev)

			case res == -int32(unix.ENOENT) && op == unix.EPOLL_CTL_MOD:
				u.ctl(l, unix.EPOLL_CTL_ADD, fd, ev)

			case res == -int32(unix.EPERM):
				l.queueFdError(fd)

			default:
				l.fds[fd].gen--
				l.queueFdErrors(fd)
			}
		}

		if *u.cqhead != head {
			atomic.StoreUint32(u.cqhead, head)
		}
	}
}
