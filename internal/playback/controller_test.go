package playback

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/fanoutlab/fanoutlab/internal/replay"
)

// fakeScheduler records scheduled callbacks and fires them on demand.
type fakeScheduler struct {
	mu      sync.Mutex
	pending []*fakeTimer
}

type fakeTimer struct {
	delay     time.Duration
	fn        func()
	cancelled bool
}

func (f *fakeScheduler) Schedule(delay time.Duration, fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{delay: delay, fn: fn}
	f.pending = append(f.pending, t)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		t.cancelled = true
	}
}

// live returns the callbacks that have not been cancelled or fired.
func (f *fakeScheduler) live() []*fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakeTimer
	for _, t := range f.pending {
		if !t.cancelled {
			out = append(out, t)
		}
	}
	return out
}

// fire runs the oldest live callback and reports whether there was one.
func (f *fakeScheduler) fire() bool {
	f.mu.Lock()
	var next *fakeTimer
	for i, t := range f.pending {
		if !t.cancelled {
			next = t
			f.pending = append(f.pending[:i:i], f.pending[i+1:]...)
			break
		}
	}
	f.mu.Unlock()

	if next == nil {
		return false
	}
	next.fn()
	return true
}

var testPayload = json.RawMessage(`{"eventType":"OrderCreated","data":{"orderId":"ORD-1"}}`)

func TestController_StepForwardToEnd(t *testing.T) {
	c := NewController(&fakeScheduler{}, testPayload, replay.Policy{})
	st := c.Current()
	require.Equal(t, 0, st.Cursor)
	require.Equal(t, 6, st.Len)

	for i := 0; i < st.Len-1; i++ {
		require.True(t, c.StepForward())
	}
	require.Equal(t, replay.StateDone, c.Current().Snapshot.State)

	require.False(t, c.StepForward(), "advancing past the end is a no-op")
	require.Equal(t, st.Len-1, c.Current().Cursor)
}

func TestController_StepBackwardClamps(t *testing.T) {
	c := NewController(&fakeScheduler{}, testPayload, replay.Policy{})
	require.False(t, c.StepBackward())
	require.True(t, c.StepForward())
	require.True(t, c.StepBackward())
	require.Equal(t, 0, c.Current().Cursor)
}

func TestController_ResetKeepsOrReplacesPayload(t *testing.T) {
	sched := &fakeScheduler{}
	c := NewController(sched, testPayload, replay.Policy{})
	c.StepForward()
	c.SetAutoPlay(true, time.Second)

	c.Reset(true)
	st := c.Current()
	require.Equal(t, 0, st.Cursor)
	require.False(t, st.AutoPlaying, "reset stops auto-play")
	require.JSONEq(t, string(testPayload), string(st.Payload))
	require.Empty(t, sched.live())

	c.Reset(false)
	require.Equal(t, "OrderCreated", c.Current().Snapshot.Event.EventType)
	require.NotEqual(t, string(testPayload), string(c.Current().Payload))
}

func TestController_AutoPlayRunsToEnd(t *testing.T) {
	sched := &fakeScheduler{}
	var seen []int
	c := NewController(sched, testPayload, replay.Policy{}, WithListener(func(s State) {
		seen = append(seen, s.Cursor)
	}))

	require.True(t, c.SetAutoPlay(true, 50*time.Millisecond))
	live := sched.live()
	require.Len(t, live, 1, "a single outstanding timer")
	require.Equal(t, MinInterval, live[0].delay)

	for sched.fire() {
	}

	st := c.Current()
	require.Equal(t, 5, st.Cursor)
	require.False(t, st.AutoPlaying, "auto-play stops at the last snapshot")
	require.Equal(t, []int{0, 1, 2, 3, 4, 5}, seen)
}

func TestController_DisablingCancelsPendingAdvance(t *testing.T) {
	sched := &fakeScheduler{}
	c := NewController(sched, testPayload, replay.Policy{})

	c.SetAutoPlay(true, 0)
	stale := sched.live()[0]
	require.Equal(t, DefaultInterval, stale.delay)

	require.False(t, c.SetAutoPlay(false, 0))
	require.Empty(t, sched.live())

	// Even if the cancelled callback runs anyway it must not advance.
	stale.fn()
	require.Equal(t, 0, c.Current().Cursor)
}

func TestController_NewIntervalReplacesTimer(t *testing.T) {
	sched := &fakeScheduler{}
	c := NewController(sched, testPayload, replay.Policy{})

	c.SetAutoPlay(true, 500*time.Millisecond)
	first := sched.live()[0]
	c.SetAutoPlay(true, 300*time.Millisecond)

	live := sched.live()
	require.Len(t, live, 1)
	require.Equal(t, 300*time.Millisecond, live[0].delay)

	first.fn()
	require.Equal(t, 0, c.Current().Cursor)
	require.True(t, sched.fire())
	require.Equal(t, 1, c.Current().Cursor)
}

func TestController_EnableAtEndDoesNotStart(t *testing.T) {
	sched := &fakeScheduler{}
	c := NewController(sched, testPayload, replay.Policy{})
	for c.StepForward() {
	}
	require.False(t, c.SetAutoPlay(true, time.Second))
	require.Empty(t, sched.live())
}

func TestController_RebuildRestartsFromFirstSnapshot(t *testing.T) {
	sched := &fakeScheduler{}
	c := NewController(sched, testPayload, replay.Policy{})
	c.SetAutoPlay(true, time.Second)
	sched.fire()
	sched.fire()
	require.Equal(t, 2, c.Current().Cursor)

	c.Rebuild(nil, replay.Policy{ForcedFailureTarget: "inv"})
	st := c.Current()
	require.Equal(t, 0, st.Cursor)
	require.Equal(t, replay.StateIdle, st.Snapshot.State)
	require.True(t, st.AutoPlaying)
	require.Len(t, sched.live(), 1)

	for sched.fire() {
	}
	last := c.Current().Snapshot
	require.Equal(t, replay.StatusDLQ, last.Status(replay.ConsumerInventory))
	require.Equal(t, replay.StatusDone, last.Status(replay.ConsumerPayments))
}

func TestController_CloseStopsScheduling(t *testing.T) {
	sched := &fakeScheduler{}
	c := NewController(sched, testPayload, replay.Policy{})
	c.SetAutoPlay(true, time.Second)
	pending := sched.live()[0]

	c.Close()
	pending.fn()
	require.Equal(t, 0, c.Current().Cursor)
	require.False(t, c.SetAutoPlay(true, time.Second))
}

func TestController_WithFakeClock(t *testing.T) {
	fc := testingclock.NewFakeClock(time.Unix(0, 0))
	c := NewController(NewClockScheduler(fc), testPayload, replay.Policy{}, WithClock(fc))

	require.True(t, c.SetAutoPlay(true, 200*time.Millisecond))

	for want := 1; want <= 5; want++ {
		require.Eventually(t, fc.HasWaiters, time.Second, time.Millisecond)
		fc.Step(200 * time.Millisecond)
		require.Eventually(t, func() bool { return c.Current().Cursor == want }, time.Second, time.Millisecond)
	}
	require.False(t, c.Current().AutoPlaying)
}

func TestController_ConcurrentCallsAreSerialized(t *testing.T) {
	c := NewController(&fakeScheduler{}, testPayload, replay.Policy{})
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(3)
		go func() { defer wg.Done(); c.StepForward() }()
		go func() { defer wg.Done(); c.StepBackward() }()
		go func() { defer wg.Done(); c.Rebuild(nil, replay.Policy{}) }()
	}
	wg.Wait()

	st := c.Current()
	require.GreaterOrEqual(t, st.Cursor, 0)
	require.Less(t, st.Cursor, st.Len)
}

func TestClampInterval(t *testing.T) {
	require.Equal(t, DefaultInterval, ClampInterval(0))
	require.Equal(t, MinInterval, ClampInterval(time.Millisecond))
	require.Equal(t, 2*time.Second, ClampInterval(2*time.Second))
}

func TestController_ManualStepRestartsAutoPlayInterval(t *testing.T) {
	sched := &fakeScheduler{}
	c := NewController(sched, testPayload, replay.Policy{})
	require.True(t, c.SetAutoPlay(true, 500*time.Millisecond))
	first := sched.live()
	require.Len(t, first, 1)

	require.True(t, c.StepForward())
	live := sched.live()
	require.Len(t, live, 1, "a manual step must leave exactly one pending advance")
	require.NotSame(t, first[0], live[0], "the pending advance must be re-armed")
	require.Equal(t, 500*time.Millisecond, live[0].delay)

	// The superseded timer does nothing even if it fires late.
	first[0].fn()
	require.Equal(t, 1, c.Current().Cursor)

	require.True(t, c.StepBackward())
	require.Len(t, sched.live(), 1)
	require.True(t, c.Current().AutoPlaying)

	require.True(t, sched.fire())
	require.Equal(t, 1, c.Current().Cursor)
}
