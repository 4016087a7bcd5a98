// Package playback steps through replay snapshots, by hand or on a timer.
package playback

import (
	"encoding/json"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/fanoutlab/fanoutlab/internal/replay"
)

// Auto-play interval bounds.
const (
	DefaultInterval = 850 * time.Millisecond
	MinInterval     = 120 * time.Millisecond
)

// ClampInterval applies the default and minimum auto-play interval.
func ClampInterval(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultInterval
	}
	if d < MinInterval {
		return MinInterval
	}
	return d
}

// State is a copy of the controller's visible state.
type State struct {
	Snapshot    replay.Snapshot `json:"snapshot"`
	Cursor      int             `json:"cursor"`
	Len         int             `json:"len"`
	AutoPlaying bool            `json:"autoPlaying"`
	Interval    time.Duration   `json:"intervalNs"`
	Payload     json.RawMessage `json:"payload"`
	Policy      replay.Policy   `json:"policy"`
}

// AtEnd reports whether the cursor is on the last snapshot.
func (s State) AtEnd() bool {
	return s.Cursor >= s.Len-1
}

// Controller owns one snapshot sequence and its cursor. All methods are
// serialized; a scheduled advance that was cancelled or superseded does nothing.
type Controller struct {
	mu        sync.Mutex
	engine    *replay.Engine
	scheduler Scheduler
	clock     clock.PassiveClock
	listener  func(State)

	snaps    []replay.Snapshot
	cursor   int
	payload  json.RawMessage
	policy   replay.Policy
	auto     bool
	interval time.Duration

	cancel     func()
	generation uint64
	closed     bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithEngine sets the replay engine.
func WithEngine(e *replay.Engine) Option {
	return func(c *Controller) { c.engine = e }
}

// WithClock sets the clock used for default payload timestamps.
func WithClock(clk clock.PassiveClock) Option {
	return func(c *Controller) { c.clock = clk }
}

// WithListener registers a callback invoked after every visible change.
// It runs outside the controller lock.
func WithListener(fn func(State)) Option {
	return func(c *Controller) { c.listener = fn }
}

// NewController creates a controller positioned on the first snapshot of
// a replay of payload. A nil payload uses a freshly generated default.
func NewController(scheduler Scheduler, payload json.RawMessage, policy replay.Policy, opts ...Option) *Controller {
	c := &Controller{
		scheduler: scheduler,
		clock:     clock.RealClock{},
		interval:  DefaultInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.engine == nil {
		c.engine = replay.NewEngine(replay.WithClock(c.clock))
	}
	if c.scheduler == nil {
		c.scheduler = NewClockScheduler(nil)
	}
	if len(payload) == 0 {
		payload = replay.DefaultPayload(c.clock.Now())
	}
	c.payload = payload
	c.policy = policy.Normalize()
	c.snaps = c.engine.BuildSnapshots(payload, c.policy)
	return c
}

// StepForward advances the cursor. It returns false at the last snapshot.
func (c *Controller) StepForward() bool {
	c.mu.Lock()
	ok := c.advanceLocked()
	if ok && c.auto {
		if c.atEndLocked() {
			c.stopLocked()
		} else {
			c.rearmLocked()
		}
	}
	st := c.stateLocked()
	c.mu.Unlock()

	if ok {
		c.notify(st)
	}
	return ok
}

// StepBackward moves the cursor back. It returns false at the first snapshot.
func (c *Controller) StepBackward() bool {
	c.mu.Lock()
	if c.cursor == 0 {
		c.mu.Unlock()
		return false
	}
	c.cursor--
	if c.auto {
		c.rearmLocked()
	}
	st := c.stateLocked()
	c.mu.Unlock()

	c.notify(st)
	return true
}

// Reset stops auto-play and rebuilds from the last payload, or from a new
// default payload when keepPayload is false.
func (c *Controller) Reset(keepPayload bool) {
	c.mu.Lock()
	c.stopLocked()
	if !keepPayload {
		c.payload = replay.DefaultPayload(c.clock.Now())
	}
	c.snaps = c.engine.BuildSnapshots(c.payload, c.policy)
	c.cursor = 0
	st := c.stateLocked()
	c.mu.Unlock()

	c.notify(st)
}

// SetAutoPlay starts or stops auto-advance. Any pending advance is cancelled
// first. It returns whether auto-play is running afterwards; enabling at the
// last snapshot does not start it.
func (c *Controller) SetAutoPlay(enabled bool, interval time.Duration) bool {
	c.mu.Lock()
	c.stopLocked()
	c.interval = ClampInterval(interval)
	if enabled && !c.closed && !c.atEndLocked() {
		c.auto = true
		c.scheduleLocked()
	}
	running := c.auto
	st := c.stateLocked()
	c.mu.Unlock()

	c.notify(st)
	return running
}

// Rebuild replaces the sequence with a replay of payload under policy and
// moves to its first snapshot. Auto-play, if on, restarts from there.
// A nil payload reuses the current one.
func (c *Controller) Rebuild(payload json.RawMessage, policy replay.Policy) {
	c.mu.Lock()
	if len(payload) > 0 {
		c.payload = payload
	}
	c.policy = policy.Normalize()
	c.snaps = c.engine.BuildSnapshots(c.payload, c.policy)
	c.cursor = 0
	if c.auto {
		c.rearmLocked()
	}
	st := c.stateLocked()
	c.mu.Unlock()

	c.notify(st)
}

// Current returns the visible state.
func (c *Controller) Current() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Snapshots returns the full sequence.
func (c *Controller) Snapshots() []replay.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]replay.Snapshot, len(c.snaps))
	copy(out, c.snaps)
	return out
}

// Close stops auto-play for good.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	c.closed = true
}

func (c *Controller) tick(generation uint64) {
	c.mu.Lock()
	if generation != c.generation || !c.auto || c.closed {
		c.mu.Unlock()
		return
	}
	c.cancel = nil
	ok := c.advanceLocked()
	if c.atEndLocked() {
		c.auto = false
	} else {
		c.scheduleLocked()
	}
	st := c.stateLocked()
	c.mu.Unlock()

	if ok {
		c.notify(st)
	}
}

func (c *Controller) advanceLocked() bool {
	if c.atEndLocked() {
		return false
	}
	c.cursor++
	return true
}

func (c *Controller) atEndLocked() bool {
	return c.cursor >= len(c.snaps)-1
}

func (c *Controller) scheduleLocked() {
	c.generation++
	gen := c.generation
	c.cancel = c.scheduler.Schedule(c.interval, func() { c.tick(gen) })
}

func (c *Controller) cancelPendingLocked() {
	c.generation++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// rearmLocked restarts the auto-play interval from the current snapshot.
func (c *Controller) rearmLocked() {
	c.cancelPendingLocked()
	c.scheduleLocked()
}

func (c *Controller) stopLocked() {
	c.cancelPendingLocked()
	c.auto = false
}

func (c *Controller) stateLocked() State {
	return State{
		Snapshot:    c.snaps[c.cursor],
		Cursor:      c.cursor,
		Len:         len(c.snaps),
		AutoPlaying: c.auto,
		Interval:    c.interval,
		Payload:     c.payload,
		Policy:      c.policy,
	}
}

func (c *Controller) notify(st State) {
	if c.listener != nil {
		c.listener(st)
	}
}
