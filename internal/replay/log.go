package replay

import "time"

// MaxLogEntries caps the rolling replay log.
const MaxLogEntries = 120

// LogEntry is one line of the replay log.
type LogEntry struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
}

// Stamp formats the entry time as HH:MM:SS.
func (e LogEntry) Stamp() string {
	return e.At.Format("15:04:05")
}

// Log is an immutable newest-first list. Push shares the tail with the
// receiver; each node carries its own visible length so truncation never
// mutates shared nodes.
type Log struct {
	head *logNode
}

type logNode struct {
	entry LogEntry
	next  *logNode
	size  int
}

// Push returns a new log with e in front, truncated to max entries.
func (l Log) Push(e LogEntry, max int) Log {
	if max <= 0 {
		return Log{}
	}
	size := l.Len() + 1
	if size > max {
		size = max
	}
	return Log{head: &logNode{entry: e, next: l.head, size: size}}
}

// Len returns the number of visible entries.
func (l Log) Len() int {
	if l.head == nil {
		return 0
	}
	return l.head.size
}

// Entries returns the visible entries, newest first.
func (l Log) Entries() []LogEntry {
	out := make([]LogEntry, 0, l.Len())
	n := l.head
	for i := 0; n != nil && i < l.Len(); i++ {
		out = append(out, n.entry)
		n = n.next
	}
	return out
}
