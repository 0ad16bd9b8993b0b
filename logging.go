package evio

import (
	"github.com/joeycumines/logiface"
)

// The loop logs only off the hot path: registration retries, permanently
// ready descriptor fallbacks, signal binding, and aborts. A nil logger is
// the default and costs a nil check per site (logiface builders are
// nil-receiver safe).

// log returns the loop's logger, which may be nil.
func (l *Loop) log() *logiface.Logger[logiface.Event] {
	return l.logger
}

// dbg starts a debug-level entry, or returns a no-op builder.
func (l *Loop) dbg() *logiface.Builder[logiface.Event] {
	return l.logger.Debug()
}
