package evio

// Mask is a bitset of event kinds. Watcher callbacks receive a union of the
// bits relevant to the delivery, e.g. EventPoll|EventRead|EventError.
type Mask uint16

const (
	// EventNone is the empty event mask.
	EventNone Mask = 0x0000
	// EventRead indicates the file descriptor is ready for reading.
	EventRead Mask = 0x0001
	// EventWrite indicates the file descriptor is ready for writing.
	EventWrite Mask = 0x0002
	// EventPoll marks an event originating from a poll watcher.
	EventPoll Mask = 0x0004
	// EventTimer marks a timer expiry.
	EventTimer Mask = 0x0008
	// EventSignal marks a POSIX signal delivery.
	EventSignal Mask = 0x0020
	// EventAsync marks a cross-thread Async.Send delivery.
	EventAsync Mask = 0x0040
	// EventIdle marks an idle-phase invocation.
	EventIdle Mask = 0x0080
	// EventPrepare marks a prepare-phase invocation.
	EventPrepare Mask = 0x0100
	// EventCheck marks a check-phase invocation.
	EventCheck Mask = 0x0200
	// EventCleanup marks a cleanup invocation during Loop.Close.
	EventCleanup Mask = 0x0400
	// EventOnce marks the delivery of a once watcher.
	EventOnce Mask = 0x0800
	// EventWalk marks a Loop.Walk visitation.
	EventWalk Mask = 0x4000
	// EventError indicates the watched resource failed; the watcher has been
	// stopped before the callback runs.
	EventError Mask = 0x8000
	// EventMask covers every event bit.
	EventMask Mask = 0xFFFF
)

// maskET requests edge-triggered kernel registration. It shares the low-byte
// flag space of per-FD poll masks and is internal: the only edge-triggered
// registration is the loop's wake descriptor.
const maskET Mask = 0x0080

// Callback is invoked for every event delivered to a watcher. It runs on the
// loop goroutine; emask is the accumulated event mask for the delivery.
type Callback func(loop *Loop, emask Mask)

// base carries the state common to every watcher variant.
//
// active is 0 for an inactive watcher, otherwise a 1-based index into the
// owning container (watcher list, per-FD list, or timer heap). pending is 0
// or the encoded position in the pending queue: 1-based slot index shifted
// left by one, low bit selecting the buffer.
type base struct {
	active  int
	pending int
	data    any
	cb      Callback
}

func (b *base) ptr() *base { return b }

// Active reports whether the watcher is registered with a loop.
func (b *base) Active() bool { return b.active != 0 }

// SetData attaches an arbitrary user value to the watcher.
func (b *base) SetData(data any) { b.data = data }

// Data returns the value set by SetData.
func (b *base) Data() any { return b.data }

// init resets the lifecycle fields, preserving any attached user data.
func (b *base) init(cb Callback) {
	b.active = 0
	b.pending = 0
	b.cb = cb
}

// Watcher is implemented by every watcher variant. The interface is satisfied
// by embedding; user code never implements it.
type Watcher interface {
	ptr() *base
}
