package evio

import (
	"math"
	"time"

	"golang.org/x/sys/unix"
)

// Time is an absolute or relative duration in unsigned 64-bit nanoseconds on
// the loop's monotonic clock.
type Time uint64

const (
	timePerUsec Time = 1000
	timePerMsec Time = 1000 * timePerUsec
	timePerSec  Time = 1000 * timePerMsec

	// maxTime is the largest representable Time; timer arithmetic that would
	// exceed it is rejected.
	maxTime Time = math.MaxUint64
)

// TimeFromSec converts whole seconds to a Time.
func TimeFromSec(s uint64) Time { return Time(s) * timePerSec }

// TimeFromMsec converts whole milliseconds to a Time.
func TimeFromMsec(ms uint64) Time { return Time(ms) * timePerMsec }

// TimeFromUsec converts whole microseconds to a Time.
func TimeFromUsec(us uint64) Time { return Time(us) * timePerUsec }

// TimeFromNsec converts nanoseconds to a Time.
func TimeFromNsec(ns uint64) Time { return Time(ns) }

// TimeFromMin converts whole minutes to a Time.
func TimeFromMin(m uint64) Time { return TimeFromSec(m * 60) }

// TimeFromHour converts whole hours to a Time.
func TimeFromHour(h uint64) Time { return TimeFromMin(h * 60) }

// TimeFromDuration converts a time.Duration to a Time. Negative durations
// convert to zero.
func TimeFromDuration(d time.Duration) Time {
	if d < 0 {
		return 0
	}
	return Time(d)
}

// Sec returns the Time truncated to whole seconds.
func (t Time) Sec() uint64 { return uint64(t / timePerSec) }

// Msec returns the Time truncated to whole milliseconds.
func (t Time) Msec() uint64 { return uint64(t / timePerMsec) }

// Usec returns the Time truncated to whole microseconds.
func (t Time) Usec() uint64 { return uint64(t / timePerUsec) }

// Nsec returns the Time in nanoseconds.
func (t Time) Nsec() uint64 { return uint64(t) }

// Duration converts the Time to a time.Duration, saturating at the maximum
// representable duration.
func (t Time) Duration() time.Duration {
	if t > Time(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(t)
}

// monotonicClockID selects the loop's default clock source: the coarse
// monotonic clock when its resolution is 1ms or better, else the regular
// monotonic clock.
func monotonicClockID() int32 {
	var ts unix.Timespec
	if err := unix.ClockGetres(unix.CLOCK_MONOTONIC_COARSE, &ts); err == nil && ts.Sec == 0 && ts.Nsec <= int64(timePerMsec) {
		return unix.CLOCK_MONOTONIC_COARSE
	}
	return unix.CLOCK_MONOTONIC
}

// clockTime reads the given clock. Failure here means the clock ID is bogus
// or the kernel is unusable; neither is recoverable.
func clockTime(clockID int32) Time {
	var ts unix.Timespec
	if err := unix.ClockGettime(clockID, &ts); err != nil {
		abortf(nil, "evio: clock_gettime(%d): %v", clockID, err)
	}
	return TimeFromSec(uint64(ts.Sec)) + Time(ts.Nsec)
}
