package evio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhases_OrderWithinIteration(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	defer loop.Close()

	var order []string
	record := func(tag string) Callback {
		return func(l *Loop, emask Mask) { order = append(order, tag) }
	}

	check := NewCheck(record("check"))
	check.Start(loop)
	defer check.Stop(loop)

	idle := NewIdle(record("idle"))
	idle.Start(loop)
	defer idle.Stop(loop)

	prep := NewPrepare(record("prepare"))
	prep.Start(loop)
	defer prep.Stop(loop)

	loop.Run(RunNoWait)

	assert.Equal(t, []string{"prepare", "idle", "check"}, order)
}

func TestPhases_ListWatchersFireInInsertionOrder(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	defer loop.Close()

	var order []int
	for i := 1; i <= 3; i++ {
		id := i
		w := NewPrepare(func(l *Loop, emask Mask) { order = append(order, id) })
		w.Start(loop)
		defer w.Stop(loop)
	}

	loop.Run(RunNoWait)
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestIdle_SkippedWhenEventsPending(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	defer loop.Close()

	var idleCalls, timerCalls int

	idle := NewIdle(func(l *Loop, emask Mask) { idleCalls++ })
	idle.Start(loop)
	defer idle.Stop(loop)

	// A due timer queues an event before the idle phase, suppressing it.
	tm := NewTimer(func(l *Loop, emask Mask) { timerCalls++ }, 0)
	tm.Start(loop, 0)

	loop.Run(RunNoWait)

	assert.Equal(t, 1, timerCalls)
	assert.Zero(t, idleCalls, "idle watchers only run on otherwise-empty iterations")

	loop.Run(RunNoWait)
	assert.Equal(t, 1, idleCalls)
}

func TestIdle_ForcesZeroTimeout(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	defer loop.Close()

	idle := NewIdle(func(l *Loop, emask Mask) {})
	idle.Start(loop)
	defer idle.Stop(loop)

	assert.Equal(t, 0, loop.timeout())
}

func TestCleanup_RunsOnCloseOnly(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)

	var calls int
	var got Mask
	w := NewCleanup(func(l *Loop, emask Mask) {
		calls++
		got = emask
	})
	w.Start(loop)

	assert.Equal(t, 0, loop.Refcount(), "cleanup watchers hold no reference")
	assert.Equal(t, 0, loop.Run(RunDefault), "a loop with only cleanup watchers does not iterate")
	assert.Zero(t, calls)

	loop.Close()
	assert.Equal(t, 1, calls)
	assert.Equal(t, EventCleanup, got)
}

func TestCleanup_StopBeforeClose(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)

	w := NewCleanup(func(l *Loop, emask Mask) {
		t.Fatal("stopped cleanup watcher must not fire")
	})
	w.Start(loop)
	w.Stop(loop)
	loop.Close()
}

func TestList_StopKeepsIndicesDense(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	defer loop.Close()

	ws := make([]*Idle, 5)
	for i := range ws {
		ws[i] = NewIdle(func(l *Loop, emask Mask) {})
		ws[i].Start(loop)
	}

	ws[2].Stop(loop)
	ws[0].Stop(loop)

	require.Len(t, loop.idle, 3)
	for i, w := range loop.idle {
		assert.Equal(t, i+1, w.active)
	}

	for _, w := range ws {
		w.Stop(loop)
	}
	assert.Empty(t, loop.idle)
	assert.Equal(t, 0, loop.Refcount())
}

func TestCheck_FiresEveryIteration(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	defer loop.Close()

	var checks int
	check := NewCheck(func(l *Loop, emask Mask) { checks++ })
	check.Start(loop)
	defer check.Stop(loop)

	var fires int
	tm := NewTimer(func(l *Loop, emask Mask) {
		fires++
		if fires >= 3 {
			l.Break(BreakOne)
		}
	}, TimeFromMsec(1))
	tm.Start(loop, 0)
	defer tm.Stop(loop)

	loop.Run(RunDefault)
	assert.Equal(t, 3, checks)
}
