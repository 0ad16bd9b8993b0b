//go:build linux

package evio

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// uringLoop creates a loop with the batched-ctl backend, skipping the test
// on kernels without IORING_OP_EPOLL_CTL support.
func uringLoop(t *testing.T) *Loop {
	t.Helper()
	loop, err := New(WithURing(true))
	require.NoError(t, err)
	if loop.iou == nil {
		loop.Close()
		t.Skip("io_uring epoll_ctl not supported by this kernel")
	}
	t.Cleanup(loop.Close)
	return loop
}

func TestURing_Echo(t *testing.T) {
	loop := uringLoop(t)

	r, wfd := testPipe(t)

	var calls int
	var got Mask
	w := NewPoll(func(l *Loop, emask Mask) {
		calls++
		got = emask
	}, r, EventRead)
	w.Start(loop)
	defer w.Stop(loop)

	_, err := unix.Write(wfd, []byte("x"))
	require.NoError(t, err)

	loop.Run(RunNoWait)

	assert.Equal(t, 1, calls)
	assert.NotZero(t, got&EventRead)
}

func TestURing_MaskChangeRoundTrip(t *testing.T) {
	loop := uringLoop(t)

	r, wfd := testPipe(t)
	_ = wfd

	w := NewPoll(func(l *Loop, emask Mask) {}, r, EventRead)
	w.Start(loop)
	loop.Run(RunNoWait)

	w.Change(loop, r, EventRead|EventWrite)
	loop.Run(RunNoWait)
	assert.Equal(t, EventRead|EventWrite, loop.fds[r].emask)

	w.Change(loop, r, EventRead)
	loop.Run(RunNoWait)
	assert.Equal(t, EventRead, loop.fds[r].emask)

	w.Stop(loop)
	assert.Equal(t, 0, loop.Refcount())
}

func TestURing_EpermFallsBackToAlwaysReady(t *testing.T) {
	loop := uringLoop(t)

	f, err := os.CreateTemp(t.TempDir(), "evio")
	require.NoError(t, err)
	defer f.Close()

	var calls int
	w := NewPoll(func(l *Loop, emask Mask) { calls++ }, int(f.Fd()), EventRead)
	w.Start(loop)
	defer w.Stop(loop)

	loop.Run(RunNoWait)
	assert.Equal(t, 1, calls)
	assert.True(t, w.Active())
}

func TestURing_ManyWatchersFloodSubmissionRing(t *testing.T) {
	loop := uringLoop(t)

	// More registrations than ring entries in a single iteration forces
	// intermediate flushes from ctl.
	const n = 300
	ws := make([]*Poll, 0, n)
	pipes := make([][2]int, 0, n/2)
	for len(ws) < n {
		var fds [2]int
		require.NoError(t, unix.Pipe(fds[:]))
		pipes = append(pipes, fds)
		for _, fd := range fds {
			w := NewPoll(func(l *Loop, emask Mask) {}, fd, EventWrite)
			w.Start(loop)
			ws = append(ws, w)
		}
	}
	t.Cleanup(func() {
		for _, p := range pipes {
			_ = unix.Close(p[0])
			_ = unix.Close(p[1])
		}
	})

	loop.Run(RunNoWait)

	for _, w := range ws {
		w.Stop(loop)
	}
	assert.Equal(t, 0, loop.Refcount())
}

func TestURing_SupportProbeIsCached(t *testing.T) {
	first := uringSupported()
	second := uringSupported()
	assert.Equal(t, first, second)
	assert.NotZero(t, uringProbeState.Load())
}
