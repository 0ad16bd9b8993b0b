// Package evio is a single-host, Linux-only event loop library for
// non-blocking I/O multiplexing, timers, POSIX signals, and cross-thread
// wake-ups.
//
// A client registers watchers (a handle describing what to wait for plus a
// callback), runs the loop, and receives callbacks as events occur. All
// watcher callbacks and all watcher-mutating calls must be performed on the
// goroutine that calls [Loop.Run]; the only thread-safe entry point is
// [Async.Send] (and POSIX signal delivery, which the library forwards
// internally).
//
// # Architecture
//
// The loop multiplexes four event sources:
//
//   - File descriptors, via epoll with deferred-change coalescing: watcher
//     start/change never issues a syscall directly, the per-FD aggregate is
//     recomputed and submitted once per iteration; stopping the last watcher
//     on a descriptor removes its registration at once. An optional io_uring
//     backend ([WithURing]) batches the descriptor-control operations.
//   - Timers, via a binary min-heap of absolute monotonic-clock deadlines.
//   - POSIX signals, coalesced through an atomic per-signal status and the
//     loop's wake descriptor.
//   - Cross-thread wake-ups, via [Async] watchers and a lazily-installed
//     eventfd.
//
// Each iteration runs a fixed phase order: prepare watchers, descriptor
// change flush, readiness wait, timers, idle watchers (only when nothing
// else is queued), check watchers. Queued events are drained by
// [Loop.InvokePending], which is re-entrant and processes depth-first.
//
// # Lifetime and references
//
// Watchers are caller-owned; the loop holds only non-owning references from
// Start until Stop. Every active watcher except [Cleanup] (and the internal
// wake watcher) holds one reference on the loop; [Loop.Run] with the default
// flags returns once the reference count drops to zero or a callback calls
// [Loop.Break].
//
// # Usage
//
//	loop, err := evio.New()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer loop.Close()
//
//	w := evio.NewTimer(func(l *evio.Loop, emask evio.Mask) {
//		fmt.Println("tick")
//	}, evio.TimeFromMsec(100))
//	w.Start(loop, 0)
//
//	loop.Run(evio.RunDefault)
package evio
