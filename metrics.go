package evio

import "sync/atomic"

// Metrics is a snapshot of loop activity counters, taken by Loop.Metrics.
type Metrics struct {
	// Iterations is the number of completed loop iterations.
	Iterations uint64
	// PollWaits is the number of readiness waits entered.
	PollWaits uint64
	// EventsDispatched is the number of pending-event callbacks invoked.
	EventsDispatched uint64
	// TimersFired is the number of timer expiries queued.
	TimersFired uint64
	// CtlOps is the number of descriptor-control operations submitted,
	// through either backend.
	CtlOps uint64
	// WakeupWrites is the number of eventfd notifications issued by senders.
	WakeupWrites uint64
}

// loopMetrics holds the live counters. All fields except wakeupWrites are
// touched only on the loop goroutine; wakeupWrites is written by arbitrary
// sender threads.
type loopMetrics struct {
	iterations       uint64
	pollWaits        uint64
	eventsDispatched uint64
	timersFired      uint64
	ctlOps           uint64
	wakeupWrites     atomic.Uint64
}

// Metrics returns a snapshot of the loop's counters, or nil when metrics
// were not enabled via WithMetrics.
func (l *Loop) Metrics() *Metrics {
	m := l.metrics
	if m == nil {
		return nil
	}
	return &Metrics{
		Iterations:       m.iterations,
		PollWaits:        m.pollWaits,
		EventsDispatched: m.eventsDispatched,
		TimersFired:      m.timersFired,
		CtlOps:           m.ctlOps,
		WakeupWrites:     m.wakeupWrites.Load(),
	}
}

func (l *Loop) countIteration() {
	if l.metrics != nil {
		l.metrics.iterations++
	}
}

func (l *Loop) countPollWait() {
	if l.metrics != nil {
		l.metrics.pollWaits++
	}
}

func (l *Loop) countDispatch() {
	if l.metrics != nil {
		l.metrics.eventsDispatched++
	}
}

func (l *Loop) countTimerFired() {
	if l.metrics != nil {
		l.metrics.timersFired++
	}
}

func (l *Loop) countCtlOp() {
	if l.metrics != nil {
		l.metrics.ctlOps++
	}
}

func (l *Loop) countWakeupWrite() {
	if l.metrics != nil {
		l.metrics.wakeupWrites.Add(1)
	}
}
