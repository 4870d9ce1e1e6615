package events

// seenLog is a bounded recency window over processed event ids. It is not a
// perfect duplicate filter over unbounded history: once an id is evicted it
// can be seen again. The cap bounds memory.
type seenLog struct {
	cap   int
	ids   []string
	index map[string]struct{}
}

func newSeenLog(cap int) *seenLog {
	if cap <= 0 {
		cap = 1000
	}
	return &seenLog{
		cap:   cap,
		index: make(map[string]struct{}, cap),
	}
}

func (l *seenLog) Seen(id string) bool {
	_, ok := l.index[id]
	return ok
}

// Add records an id, evicting the oldest entries beyond the cap.
func (l *seenLog) Add(id string) {
	if id == "" || l.Seen(id) {
		return
	}
	l.ids = append(l.ids, id)
	l.index[id] = struct{}{}

	if len(l.ids) > l.cap {
		evicted := l.ids[:len(l.ids)-l.cap]
		for _, old := range evicted {
			delete(l.index, old)
		}
		l.ids = append(l.ids[:0:0], l.ids[len(l.ids)-l.cap:]...)
	}
}

func (l *seenLog) Len() int {
	return len(l.ids)
}

// Snapshot returns the retained ids, oldest first.
func (l *seenLog) Snapshot() []string {
	out := make([]string, len(l.ids))
	copy(out, l.ids)
	return out
}

// Restore replaces the log contents, keeping only the newest cap entries.
func (l *seenLog) Restore(ids []string) {
	l.ids = l.ids[:0]
	clear(l.index)
	for _, id := range ids {
		l.Add(id)
	}
}
