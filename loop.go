package evio

import (
	"math"
	"runtime"
	"sync/atomic"

	"github.com/joeycumines/logiface"
	"golang.org/x/sys/unix"
)

const (
	// defEvents is the initial capacity of the epoll result buffer.
	defEvents = 64
	// maxEvents bounds the epoll result buffer growth.
	maxEvents = math.MaxInt32 / 12
)

// RunFlag controls a single Run invocation.
type RunFlag uint8

const (
	// RunDefault iterates until the loop has no referenced watchers or a
	// callback breaks out.
	RunDefault RunFlag = 0x0
	// RunNoWait forces a zero readiness-wait timeout and returns after one
	// iteration.
	RunNoWait RunFlag = 0x1
	// RunOnce performs exactly one iteration, blocking in the readiness wait
	// as usual.
	RunOnce RunFlag = 0x2
)

// BreakState controls how Run unwinds.
type BreakState uint8

const (
	// BreakCancel clears a previously requested break.
	BreakCancel BreakState = 0
	// BreakOne exits the innermost Run.
	BreakOne BreakState = 1
	// BreakAll exits all nested Run calls.
	BreakAll BreakState = 2
)

// Loop is an event processor. A Loop is bound to the goroutine that calls
// Run; apart from Async.Send, none of its methods nor any watcher method is
// safe to call from another goroutine.
type Loop struct {
	fd int // epoll instance

	iou *uring // optional batched-ctl backend

	data     any
	refcount int

	time    Time
	clockID int32

	done BreakState

	// event is the internal eventfd watcher; its fd is -1 until the first
	// signal or async watcher starts.
	event Poll

	eventfdAllow  atomic.Int32
	eventPending  atomic.Int32
	asyncPending  atomic.Int32
	signalPending atomic.Int32

	pending      [2][]pendingEvent
	pendingQueue int

	fds       []fdRecord
	fdchanges []int
	fderrors  []int

	timers timerHeap
	// expired is timerUpdate's scratch list of due watchers, reused across
	// iterations.
	expired []*base

	idle    []*Idle
	prepare []*Prepare
	check   []*Check
	cleanup []*Cleanup
	async   []*Async
	once    []*Once

	events []unix.EpollEvent

	sigActive [sigWords]uint64
	sigmask   sigset

	logger  *logiface.Logger[logiface.Event]
	metrics *loopMetrics
}

// New creates an event loop. It fails only when the readiness backend cannot
// be created or an option is invalid.
func New(opts ...Option) (*Loop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	l := &Loop{
		fd:      epfd,
		clockID: cfg.clockID,
		events:  make([]unix.EpollEvent, defEvents),
		logger:  cfg.logger,
	}
	l.event.fd = -1
	l.event.cb = eventfdCallback
	l.sigmask = sigset(1) << (uint(unix.SIGPROF) - 1)

	if cfg.metrics {
		l.metrics = &loopMetrics{}
	}
	if l.clockID < 0 {
		l.clockID = monotonicClockID()
	}
	l.time = clockTime(l.clockID)

	if cfg.uring {
		l.iou = newURing(l)
	}

	return l, nil
}

// Close invokes all active cleanup watchers, detaches the loop's signals,
// and releases the kernel resources (epoll instance, wake descriptor, and
// io_uring rings). The loop must not be used afterwards.
func (l *Loop) Close() {
	l.pending[0] = nil
	l.pending[1] = nil

	if len(l.cleanup) > 0 {
		queueList(l, l.cleanup, EventCleanup)
		l.InvokePending()
	}

	l.signalCleanupLoop()

	if l.iou != nil {
		l.iou.free()
		l.iou = nil
	}

	if l.event.fd >= 0 {
		_ = unix.Close(l.event.fd)
		l.event.fd = -1
	}
	_ = unix.Close(l.fd)
	l.fd = -1
}

// Time returns the loop's cached monotonic time, updated at fixed points of
// each iteration.
func (l *Loop) Time() Time { return l.time }

// UpdateTime refreshes the cached time from the loop's clock.
func (l *Loop) UpdateTime() { l.time = clockTime(l.clockID) }

// SetClockID changes the loop's clock source (a CLOCK_* id).
func (l *Loop) SetClockID(clockID int32) { l.clockID = clockID }

// ClockID returns the loop's clock source.
func (l *Loop) ClockID() int32 { return l.clockID }

// Ref adds a reference; the loop keeps running while references remain.
// Watchers manage their own references, so explicit Ref/Unref pairs are only
// needed to keep a loop alive (or let it exit) independently of watchers.
func (l *Loop) Ref() { l.refcount++ }

// Unref drops a reference.
func (l *Loop) Unref() {
	if l.refcount == 0 {
		abortf(l, "evio: loop refcount underflow")
	}
	l.refcount--
}

// Refcount returns the number of held references.
func (l *Loop) Refcount() int { return l.refcount }

// SetUserdata attaches an arbitrary user value to the loop.
func (l *Loop) SetUserdata(data any) { l.data = data }

// Userdata returns the value set by SetUserdata.
func (l *Loop) Userdata() any { return l.data }

// timeout computes the readiness-wait budget in milliseconds: 0 to poll, -1
// to wait indefinitely, else the ceiling-rounded delay to the next timer.
func (l *Loop) timeout() int {
	if l.refcount == 0 || len(l.idle) > 0 {
		return 0
	}
	if l.eventPending.Load() != 0 {
		return 0
	}
	if len(l.timers) == 0 {
		return -1
	}

	node := &l.timers[0]
	if node.at <= l.time {
		return 0
	}

	diff := node.at - l.time
	ms := diff / timePerMsec
	if ms >= math.MaxInt32 {
		return math.MaxInt32
	}

	t := int(ms)
	if diff%timePerMsec != 0 {
		t++
	}
	return t
}

// Run processes events until the loop breaks or runs out of referenced
// watchers, and returns the remaining reference count (0 after BreakAll).
//
// With RunDefault the loop iterates; RunOnce performs a single iteration;
// RunNoWait additionally skips blocking in the readiness wait. Run may be
// re-entered from a callback: BreakAll propagates through nested Run calls,
// BreakOne unwinds only the innermost.
func (l *Loop) Run(flags RunFlag) int {
	done := l.done
	if done == BreakAll {
		return 0
	}

	// Blocking in epoll_pwait pins the goroutine to its OS thread anyway;
	// locking makes the signal mask application deterministic.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	flags &= RunNoWait | RunOnce
	l.done = BreakCancel
	l.InvokePending()

	for {
		if len(l.prepare) > 0 {
			queueList(l, l.prepare, EventPrepare)
			l.InvokePending()
		}

		if l.done != BreakCancel {
			break
		}

		l.pollUpdate()
		l.UpdateTime()

		l.eventfdAllow.Store(1)
		timeout := 0
		if flags&RunNoWait == 0 {
			timeout = l.timeout()
		}
		l.pollWait(timeout)
		l.eventfdAllow.Store(0)

		if l.eventPending.Load() != 0 {
			l.queueEvent(&l.event.base, EventPoll)
		}

		l.UpdateTime()
		l.timerUpdate()

		if len(l.idle) > 0 && len(l.pending[l.pendingQueue]) == 0 {
			queueList(l, l.idle, EventIdle)
		}

		l.InvokePending()

		if len(l.check) > 0 {
			queueList(l, l.check, EventCheck)
			l.InvokePending()
		}

		l.countIteration()

		if !(l.refcount > 0 && l.done == BreakCancel && flags == RunDefault) {
			break
		}
	}

	if l.done == BreakAll {
		return 0
	}
	if l.done == BreakOne {
		l.done = done
	}
	return l.refcount
}

// Break requests that Run stop iterating. BreakOne exits the innermost Run,
// BreakAll exits all nested Run calls; BreakOne never downgrades a pending
// BreakAll. BreakCancel withdraws the request.
func (l *Loop) Break(state BreakState) {
	state &= BreakOne | BreakAll
	if l.done == BreakAll && state == BreakOne {
		return
	}
	l.done = state
}

// GetBreakState returns the current break state.
func (l *Loop) GetBreakState() BreakState { return l.done }

// FeedEvent queues an event for an active watcher, as if it had been
// produced by the loop itself. Inactive watchers are ignored.
func (l *Loop) FeedEvent(w Watcher, emask Mask) {
	b := w.ptr()
	if b.active != 0 {
		l.queueEvent(b, emask)
	}
}

// FeedFdEvent queues an I/O event for every poll watcher on fd whose mask
// overlaps emask. Descriptors outside the loop's table are ignored.
func (l *Loop) FeedFdEvent(fd int, emask Mask) {
	if fd >= 0 && fd < len(l.fds) {
		l.queueFdEvents(fd, emask)
	}
}

// FeedFdError queues an ERROR event for every poll watcher on fd and stops
// them. Descriptors outside the loop's table are ignored.
func (l *Loop) FeedFdError(fd int) {
	if fd >= 0 && fd < len(l.fds) {
		l.queueFdErrors(fd)
	}
}

// FeedSignal simulates delivery of signum to this loop's signal watchers.
// No POSIX signal is raised; signals bound to other loops are ignored.
func (l *Loop) FeedSignal(signum int) {
	if signum <= 0 || signum >= numSig {
		return
	}
	l.signalQueueEvents(signum)
}

// WalkFunc visits watchers during Loop.Walk.
type WalkFunc func(loop *Loop, w Watcher, emask Mask)

// Walk invokes cb for every active watcher whose category is selected by
// emask, with EventWalk OR-ed into the visited category. The internal wake
// watcher is skipped. Watchers must not be started or stopped from cb.
func (l *Loop) Walk(cb WalkFunc, emask Mask) {
	if emask&EventPoll != 0 {
		for fd := range l.fds {
			for _, w := range l.fds[fd].list {
				if w != &l.event {
					cb(l, w, EventWalk|EventPoll)
				}
			}
		}
	}

	if emask&EventTimer != 0 {
		for i := len(l.timers) - 1; i >= 0; i-- {
			cb(l, l.timers[i].w, EventWalk|EventTimer)
		}
	}

	if emask&EventSignal != 0 {
		for i := numSig - 1; i >= 1; i-- {
			slot := &signalSlots[i-1]
			if slot.loop.Load() != l {
				continue
			}
			for _, w := range slot.list {
				cb(l, w, EventWalk|EventSignal)
			}
		}
	}

	if emask&EventAsync != 0 {
		for i := len(l.async) - 1; i >= 0; i-- {
			cb(l, l.async[i], EventWalk|EventAsync)
		}
	}

	if emask&EventIdle != 0 {
		for i := len(l.idle) - 1; i >= 0; i-- {
			cb(l, l.idle[i], EventWalk|EventIdle)
		}
	}

	if emask&EventPrepare != 0 {
		for i := len(l.prepare) - 1; i >= 0; i-- {
			cb(l, l.prepare[i], EventWalk|EventPrepare)
		}
	}

	if emask&EventCheck != 0 {
		for i := len(l.check) - 1; i >= 0; i-- {
			cb(l, l.check[i], EventWalk|EventCheck)
		}
	}

	if emask&EventCleanup != 0 {
		for i := len(l.cleanup) - 1; i >= 0; i-- {
			cb(l, l.cleanup[i], EventWalk|EventCleanup)
		}
	}

	if emask&EventOnce != 0 {
		for i := len(l.once) - 1; i >= 0; i-- {
			cb(l, l.once[i], EventWalk|EventOnce)
		}
	}
}
