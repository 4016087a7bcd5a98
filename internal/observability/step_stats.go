// Package observability tracks which step records the assembler reads, skips and drops.
package observability

import (
	"sort"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// StepStats tracks step-name frequency across trace reads.
type StepStats struct {
	mu      sync.RWMutex
	clock   clock.PassiveClock
	seen    map[string]*StepCounter
	unknown map[string]*StepCounter
	dropped map[string]*StepCounter
	window  time.Duration
}

// StepCounter holds statistics for one step name.
type StepCounter struct {
	Name      string           `json:"name"`
	Frequency int64            `json:"frequency"`
	LastSeen  time.Time        `json:"lastSeen"`
	Reasons   map[string]int64 `json:"reasons,omitempty"` // reason → count, dropped steps only
}

// Snapshot is a point-in-time copy of the tracked counters.
type Snapshot struct {
	Seen    []StepCounter `json:"seen"`
	Unknown []StepCounter `json:"unknown"`
	Dropped []StepCounter `json:"dropped"`
}

// NewStepStats creates a tracker that forgets names idle for longer than window.
func NewStepStats(window time.Duration) *StepStats {
	return NewStepStatsWithClock(window, clock.RealClock{})
}

// NewStepStatsWithClock is NewStepStats with an injected clock.
func NewStepStatsWithClock(window time.Duration, clk clock.PassiveClock) *StepStats {
	return &StepStats{
		clock:   clk,
		seen:    make(map[string]*StepCounter),
		unknown: make(map[string]*StepCounter),
		dropped: make(map[string]*StepCounter),
		window:  window,
	}
}

// RecordSeen records a successfully read step.
func (s *StepStats) RecordSeen(name string) {
	if s == nil {
		return
	}
	s.record(s.seen, name, "")
}

// RecordUnknown records a step name outside the vocabulary.
func (s *StepStats) RecordUnknown(name string) {
	if s == nil {
		return
	}
	s.record(s.unknown, name, "")
}

// RecordDropped records a step that could not be fetched or parsed.
// reason is a short label such as "fetch" or "malformed".
func (s *StepStats) RecordDropped(name, reason string) {
	if s == nil {
		return
	}
	s.record(s.dropped, name, reason)
}

func (s *StepStats) record(m map[string]*StepCounter, name, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := m[name]
	if !ok {
		c = &StepCounter{Name: name}
		m[name] = c
	}
	c.Frequency++
	c.LastSeen = s.clock.Now()
	if reason != "" {
		if c.Reasons == nil {
			c.Reasons = make(map[string]int64)
		}
		c.Reasons[reason]++
	}
}

// TopSeen returns the n most frequently read step names.
func (s *StepStats) TopSeen(n int) []StepCounter {
	return s.top(func() map[string]*StepCounter { return s.seen }, n)
}

// TopUnknown returns the n most frequent unknown step names.
func (s *StepStats) TopUnknown(n int) []StepCounter {
	return s.top(func() map[string]*StepCounter { return s.unknown }, n)
}

// TopDropped returns the n most frequently dropped step names.
func (s *StepStats) TopDropped(n int) []StepCounter {
	return s.top(func() map[string]*StepCounter { return s.dropped }, n)
}

// Snapshot returns up to n entries of each counter family.
func (s *StepStats) Snapshot(n int) Snapshot {
	return Snapshot{
		Seen:    s.TopSeen(n),
		Unknown: s.TopUnknown(n),
		Dropped: s.TopDropped(n),
	}
}

func (s *StepStats) top(pick func() map[string]*StepCounter, n int) []StepCounter {
	if s == nil {
		return []StepCounter{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := pick()
	if n <= 0 || len(m) == 0 {
		return []StepCounter{}
	}

	out := make([]StepCounter, 0, len(m))
	for _, c := range m {
		cp := *c
		if c.Reasons != nil {
			cp.Reasons = make(map[string]int64, len(c.Reasons))
			for r, v := range c.Reasons {
				cp.Reasons[r] = v
			}
		}
		out = append(out, cp)
	}

	// Ties break on name so output is deterministic.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		return out[i].Name < out[j].Name
	})

	if n > len(out) {
		n = len(out)
	}
	return out[:n]
}

// Prune removes entries not seen within the window.
func (s *StepStats) Prune() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	threshold := s.clock.Now().Add(-s.window)
	for _, m := range []map[string]*StepCounter{s.seen, s.unknown, s.dropped} {
		for name, c := range m {
			if c.LastSeen.Before(threshold) {
				delete(m, name)
			}
		}
	}
}
