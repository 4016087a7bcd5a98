package playback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/fanoutlab/fanoutlab/internal/errors"
	"github.com/fanoutlab/fanoutlab/internal/replay"
)

func TestRegistry_CreateGetDelete(t *testing.T) {
	r := NewRegistry(&fakeScheduler{}, nil, nil, 4)

	s := r.Create(testPayload, replay.Policy{})
	require.NotEmpty(t, s.ID)

	got, err := r.Get(s.ID)
	require.NoError(t, err)
	require.Same(t, s, got)

	require.NoError(t, r.Delete(s.ID))
	_, err = r.Get(s.ID)
	require.True(t, errors.IsNotFound(err))
	require.True(t, errors.IsNotFound(r.Delete(s.ID)))
}

func TestRegistry_EvictsLeastRecentlyUsed(t *testing.T) {
	clk := testingclock.NewFakePassiveClock(time.Unix(100, 0))
	sched := &fakeScheduler{}
	r := NewRegistry(sched, nil, clk, 2)

	a := r.Create(testPayload, replay.Policy{})
	clk.SetTime(clk.Now().Add(time.Second))
	b := r.Create(testPayload, replay.Policy{})
	clk.SetTime(clk.Now().Add(time.Second))

	_, err := r.Get(a.ID) // a is now more recent than b
	require.NoError(t, err)
	clk.SetTime(clk.Now().Add(time.Second))

	b.Controller.SetAutoPlay(true, time.Second)
	r.Create(testPayload, replay.Policy{})

	require.Equal(t, 2, r.Len())
	_, err = r.Get(b.ID)
	require.True(t, errors.IsNotFound(err))
	require.False(t, b.Controller.Current().AutoPlaying, "evicted controllers are closed")
}

func TestRegistry_CloseAll(t *testing.T) {
	r := NewRegistry(&fakeScheduler{}, nil, nil, 0)
	r.Create(nil, replay.Policy{})
	r.Create(nil, replay.Policy{})
	r.CloseAll()
	require.Equal(t, 0, r.Len())
}
