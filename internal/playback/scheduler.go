package playback

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Scheduler runs fn once after delay. The returned cancel func prevents a
// pending fn from starting; it is safe to call more than once.
type Scheduler interface {
	Schedule(delay time.Duration, fn func()) (cancel func())
}

// ClockScheduler schedules callbacks on a clock's timers.
type ClockScheduler struct {
	clock clock.Clock
}

// NewClockScheduler creates a scheduler; a nil clock means the real clock.
func NewClockScheduler(clk clock.Clock) *ClockScheduler {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &ClockScheduler{clock: clk}
}

func (s *ClockScheduler) Schedule(delay time.Duration, fn func()) func() {
	t := s.clock.NewTimer(delay)
	stop := make(chan struct{})
	var once sync.Once

	go func() {
		select {
		case <-t.C():
			fn()
		case <-stop:
			t.Stop()
		}
	}()

	return func() {
		once.Do(func() { close(stop) })
	}
}
