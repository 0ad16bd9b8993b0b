package evio

import "fmt"

// abortf reports an unrecoverable condition: a violated precondition or a
// kernel failure the loop cannot continue past. The message goes to the
// loop's logger (when one is attached) and then the process panics.
// l may be nil for failures that occur before a loop exists.
func abortf(l *Loop, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if l != nil {
		l.log().Err().Str("category", "abort").Log(msg)
	}
	panic(msg)
}
