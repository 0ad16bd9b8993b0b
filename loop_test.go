package evio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	defer loop.Close()

	assert.Equal(t, 0, loop.Refcount())
	assert.Equal(t, BreakCancel, loop.GetBreakState())
	assert.NotZero(t, loop.Time())
	assert.Nil(t, loop.Metrics())

	before := loop.Time()
	time.Sleep(2 * time.Millisecond)
	loop.UpdateTime()
	assert.GreaterOrEqual(t, uint64(loop.Time()), uint64(before))
}

func TestLoop_Userdata(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	defer loop.Close()

	assert.Nil(t, loop.Userdata())
	loop.SetUserdata("payload")
	assert.Equal(t, "payload", loop.Userdata())
	loop.SetUserdata(nil)
	assert.Nil(t, loop.Userdata())
}

func TestRun_NoWatchers(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	defer loop.Close()

	assert.Equal(t, 0, loop.Run(RunDefault))
}

func TestRun_RefKeepsLoopReported(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	defer loop.Close()

	loop.Ref()
	assert.Equal(t, 1, loop.Run(RunNoWait))
	loop.Unref()
	assert.Equal(t, 0, loop.Refcount())
}

func TestUnref_UnderflowPanics(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	defer loop.Close()

	require.Panics(t, func() { loop.Unref() })
}

func TestBreak_OneDoesNotDowngradeAll(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	defer loop.Close()

	loop.Break(BreakAll)
	loop.Break(BreakOne)
	assert.Equal(t, BreakAll, loop.GetBreakState())

	loop.Break(BreakCancel)
	assert.Equal(t, BreakCancel, loop.GetBreakState())
	loop.Break(BreakOne)
	assert.Equal(t, BreakOne, loop.GetBreakState())
}

func TestBreak_One(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	defer loop.Close()

	var fired int
	w := NewTimer(func(l *Loop, emask Mask) {
		fired++
		l.Break(BreakOne)
	}, TimeFromMsec(1))
	w.Start(loop, 0)

	ret := loop.Run(RunDefault)
	assert.Equal(t, 1, fired)
	assert.Equal(t, 1, ret, "the repeating timer still holds a reference")
	assert.Equal(t, BreakCancel, loop.GetBreakState(), "BreakOne restores the saved state")

	w.Stop(loop)
}

func TestBreak_AllPropagatesThroughNestedRuns(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	defer loop.Close()

	var nestedRet = -1
	entered := false

	idle := NewIdle(func(l *Loop, emask Mask) {
		l.Break(BreakAll)
	})
	prep := NewPrepare(func(l *Loop, emask Mask) {
		if entered {
			return
		}
		entered = true
		idle.Start(l)
		nestedRet = l.Run(RunDefault)
	})
	prep.Start(loop)

	outerRet := loop.Run(RunDefault)

	assert.True(t, entered)
	assert.Equal(t, 0, nestedRet)
	assert.Equal(t, 0, outerRet)
	assert.Equal(t, BreakAll, loop.GetBreakState(), "BreakAll persists across Run returns")

	// A subsequent Run refuses to iterate until the break is cancelled.
	assert.Equal(t, 0, loop.Run(RunNoWait))
	loop.Break(BreakCancel)

	idle.Stop(loop)
	prep.Stop(loop)
	assert.Equal(t, 0, loop.Refcount())
}

func TestRun_OnceIterates(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	defer loop.Close()

	var fired int
	w := NewTimer(func(l *Loop, emask Mask) {
		fired++
		assert.NotZero(t, emask&EventTimer)
	}, 0)
	w.Start(loop, 0)

	ret := loop.Run(RunOnce)
	assert.Equal(t, 1, fired)
	assert.Equal(t, 0, ret, "the one-shot timer released its reference")
	assert.False(t, w.Active())
}

func TestFeedEvent_InactiveWatcherIgnored(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	defer loop.Close()

	var fired int
	w := NewIdle(func(l *Loop, emask Mask) { fired++ })

	loop.FeedEvent(w, EventIdle)
	assert.Equal(t, 0, loop.PendingCount())
	loop.InvokePending()
	assert.Equal(t, 0, fired)
}

func TestFeedEvent_DeliversToActiveWatcher(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	defer loop.Close()

	var got Mask
	w := NewIdle(func(l *Loop, emask Mask) { got = emask })
	w.Start(loop)
	defer w.Stop(loop)

	loop.FeedEvent(w, EventRead|EventWrite)
	assert.Equal(t, 1, loop.PendingCount())
	loop.InvokePending()
	assert.Equal(t, EventRead|EventWrite, got)
	assert.Equal(t, 0, loop.PendingCount())
}

func TestWatcher_Data(t *testing.T) {
	w := NewIdle(func(l *Loop, emask Mask) {})
	assert.Nil(t, w.Data())
	w.SetData(42)
	assert.Equal(t, 42, w.Data())

	// Re-initialization keeps attached data.
	w.Init(func(l *Loop, emask Mask) {})
	assert.Equal(t, 42, w.Data())
}

func TestWalk_VisitsActiveWatchers(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	defer loop.Close()

	idle := NewIdle(func(l *Loop, emask Mask) {})
	idle.Start(loop)
	defer idle.Stop(loop)

	prep := NewPrepare(func(l *Loop, emask Mask) {})
	prep.Start(loop)
	defer prep.Stop(loop)

	tm := NewTimer(func(l *Loop, emask Mask) {}, TimeFromSec(10))
	tm.Start(loop, TimeFromSec(10))
	defer tm.Stop(loop)

	async := NewAsync(func(l *Loop, emask Mask) {})
	async.Start(loop)
	defer async.Stop(loop)

	seen := map[Mask]int{}
	loop.Walk(func(l *Loop, w Watcher, emask Mask) {
		require.NotZero(t, emask&EventWalk)
		seen[emask&^EventWalk]++
	}, EventMask)

	assert.Equal(t, 1, seen[EventIdle])
	assert.Equal(t, 1, seen[EventPrepare])
	assert.Equal(t, 1, seen[EventTimer])
	assert.Equal(t, 1, seen[EventAsync])
	// The internal wake watcher (installed by the async start) is skipped.
	assert.Zero(t, seen[EventPoll])
}

func TestWalk_MaskFilters(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	defer loop.Close()

	idle := NewIdle(func(l *Loop, emask Mask) {})
	idle.Start(loop)
	defer idle.Stop(loop)

	var visits int
	loop.Walk(func(l *Loop, w Watcher, emask Mask) { visits++ }, EventTimer)
	assert.Zero(t, visits)

	loop.Walk(func(l *Loop, w Watcher, emask Mask) { visits++ }, EventIdle)
	assert.Equal(t, 1, visits)
}

func TestClockID_Override(t *testing.T) {
	loop, err := New(WithClock(1)) // CLOCK_MONOTONIC
	require.NoError(t, err)
	defer loop.Close()

	assert.Equal(t, int32(1), loop.ClockID())
	loop.SetClockID(1)
	loop.UpdateTime()
	assert.NotZero(t, loop.Time())
}
