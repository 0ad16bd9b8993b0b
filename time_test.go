package evio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestTime_Conversions(t *testing.T) {
	assert.Equal(t, Time(1_000_000_000), TimeFromSec(1))
	assert.Equal(t, Time(1_000_000), TimeFromMsec(1))
	assert.Equal(t, Time(1_000), TimeFromUsec(1))
	assert.Equal(t, Time(1), TimeFromNsec(1))
	assert.Equal(t, TimeFromSec(60), TimeFromMin(1))
	assert.Equal(t, TimeFromMin(60), TimeFromHour(1))

	assert.Equal(t, uint64(2), TimeFromSec(2).Sec())
	assert.Equal(t, uint64(2000), TimeFromSec(2).Msec())
	assert.Equal(t, uint64(2_000_000), TimeFromSec(2).Usec())
	assert.Equal(t, uint64(2_000_000_000), TimeFromSec(2).Nsec())

	assert.Equal(t, uint64(1), TimeFromNsec(1_999_999_999).Sec(), "conversions truncate")
}

func TestTime_DurationBridge(t *testing.T) {
	assert.Equal(t, TimeFromMsec(1500), TimeFromDuration(1500*time.Millisecond))
	assert.Equal(t, Time(0), TimeFromDuration(-time.Second))
	assert.Equal(t, 2*time.Second, TimeFromSec(2).Duration())
	assert.Equal(t, time.Duration(1<<63-1), maxTime.Duration(), "saturates instead of overflowing")
}

func TestMonotonicClockID_SelectsKnownClock(t *testing.T) {
	id := monotonicClockID()
	assert.Contains(t, []int32{unix.CLOCK_MONOTONIC, unix.CLOCK_MONOTONIC_COARSE}, id)
}

func TestClockTime_Advances(t *testing.T) {
	a := clockTime(unix.CLOCK_MONOTONIC)
	time.Sleep(time.Millisecond)
	b := clockTime(unix.CLOCK_MONOTONIC)
	assert.Greater(t, uint64(b), uint64(a))
}
