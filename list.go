package evio

// listStart registers w in list, recording the 1-based slot index in the
// watcher's active field. Starting an already-active watcher is a no-op.
func listStart[W Watcher](l *Loop, w W, list *[]W, ref bool) {
	b := w.ptr()
	if b.active != 0 {
		return
	}

	*list = append(*list, w)
	b.active = len(*list)

	if ref {
		l.Ref()
	}
}

// listStop removes w from list by swapping the last element into its slot,
// keeping active indices dense. Stopping an inactive watcher only clears any
// pending event.
func listStop[W Watcher](l *Loop, w W, list *[]W, ref bool) {
	b := w.ptr()
	l.clearPending(b)

	if b.active == 0 {
		return
	}

	s := *list
	last := len(s) - 1
	s[b.active-1] = s[last]
	s[b.active-1].ptr().active = b.active
	var zero W
	s[last] = zero
	*list = s[:last]

	if ref {
		l.Unref()
	}
	b.active = 0
}
