package replay

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

var samplePayload = json.RawMessage(`{"eventType":"OrderCreated","eventId":"e-1","data":{"orderId":"ORD-0042"}}`)

func TestBuildSnapshots_Sequence(t *testing.T) {
	clk := testingclock.NewFakePassiveClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	e := NewEngine(WithClock(clk))

	seq := e.BuildSnapshots(samplePayload, Policy{})
	require.Len(t, seq, 6)

	for i, s := range seq {
		require.Equal(t, i, s.Index)
		require.Equal(t, States[i], s.State)
		require.Equal(t, "ORD-0042", s.Event.OrderID)
	}

	require.Empty(t, seq[0].Log)
	for _, c := range Consumers {
		require.Equal(t, StatusPending, seq[0].Status(c))
		require.Equal(t, StatusPending, seq[2].Status(c))
		require.Equal(t, StatusReceived, seq[3].Status(c))
		require.Equal(t, StatusProcessing, seq[4].Status(c))
		require.Equal(t, StatusDone, seq[5].Status(c))
	}

	require.Len(t, seq[1].Log, 1)
	require.Equal(t, "producer published OrderCreated to topic", seq[1].Log[0].Text)
	require.Equal(t, "topic fanout delivers to 3 subscriber queues", seq[2].Log[0].Text)
	require.Equal(t, "queues received the message", seq[3].Log[0].Text)
	require.Equal(t, "workers began processing", seq[4].Log[0].Text)
	require.True(t, strings.HasPrefix(seq[5].Log[0].Text, "workers finished: status update"))

	// Newest first, full history.
	require.Len(t, seq[5].Log, 5)
	require.Equal(t, seq[1].Log[0], seq[5].Log[4])
	require.Equal(t, "12:00:00", seq[5].Log[0].Stamp())
}

func TestBuildSnapshots_ForcedTarget(t *testing.T) {
	seq := BuildSnapshots(samplePayload, Policy{ForcedFailureTarget: "inv"})
	last := seq[len(seq)-1]

	require.Equal(t, StatusDLQ, last.Status(ConsumerInventory))
	require.Equal(t, StatusDone, last.Status(ConsumerPayments))
	require.Equal(t, StatusDone, last.Status(ConsumerShipping))
}

func TestBuildSnapshots_ForcedAll(t *testing.T) {
	seq := BuildSnapshots(nil, Policy{ForcedFailureTarget: "ALL"})
	for _, c := range Consumers {
		require.Equal(t, StatusDLQ, seq[5].Status(c))
	}
	require.Equal(t, "producer published event to topic", seq[1].Log[0].Text)
}

func TestBuildSnapshots_RandomFailures(t *testing.T) {
	draws := NewSequence(0.1, 0.9, 0.2)
	e := NewEngine(WithRandomSource(draws))

	seq := e.BuildSnapshots(samplePayload, Policy{RandomFailureEnabled: true, RandomFailureRate: 0.5})
	last := seq[5]
	require.Equal(t, StatusFailed, last.Status(ConsumerPayments))
	require.Equal(t, StatusDone, last.Status(ConsumerInventory))
	require.Equal(t, StatusFailed, last.Status(ConsumerShipping))
	require.Equal(t, 3, draws.Draws(), "each consumer is resolved exactly once")

	draws = NewSequence(0.1, 0.1, 0.1)
	e = NewEngine(WithRandomSource(draws))
	seq = e.BuildSnapshots(samplePayload, Policy{
		ForcedFailureTarget:      "pay",
		RandomFailureEnabled:     true,
		RandomFailureRate:        0.5,
		RouteRandomFailuresToDLQ: true,
	})
	for _, c := range Consumers {
		require.Equal(t, StatusDLQ, seq[5].Status(c))
	}
	require.Equal(t, 2, draws.Draws(), "forced consumers do not draw")
}

func TestBuildSnapshots_SeededIsReproducible(t *testing.T) {
	policy := Policy{RandomFailureEnabled: true, RandomFailureRate: 0.5, Seed: "cid-123"}
	a := BuildSnapshots(samplePayload, policy)
	b := BuildSnapshots(samplePayload, policy)
	require.Equal(t, a[5].ConsumerStatus, b[5].ConsumerStatus)
}

func TestBuildSnapshots_MalformedPayload(t *testing.T) {
	seq := BuildSnapshots(json.RawMessage(`not json`), Policy{ForcedFailureTarget: "bogus", RandomFailureRate: 7})
	require.Len(t, seq, 6)
	require.Equal(t, Event{}, seq[0].Event)
	for _, c := range Consumers {
		require.Equal(t, StatusDone, seq[5].Status(c))
	}
}

func TestBuildSnapshots_SnapshotsDoNotShareState(t *testing.T) {
	seq := BuildSnapshots(samplePayload, Policy{})
	seq[0].ConsumerStatus[ConsumerPayments] = StatusDLQ
	require.Equal(t, StatusPending, seq[1].Status(ConsumerPayments))
}

func TestPolicyNormalize(t *testing.T) {
	tests := []struct {
		in   Policy
		want Policy
	}{
		{Policy{}, Policy{ForcedFailureTarget: TargetNone}},
		{Policy{ForcedFailureTarget: " Ship "}, Policy{ForcedFailureTarget: "ship"}},
		{Policy{ForcedFailureTarget: "nobody"}, Policy{ForcedFailureTarget: TargetNone}},
		{Policy{RandomFailureRate: -1}, Policy{ForcedFailureTarget: TargetNone}},
		{Policy{RandomFailureRate: 3}, Policy{ForcedFailureTarget: TargetNone, RandomFailureRate: 1}},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, tt.in.Normalize())
	}
}

func TestLog_PushTruncates(t *testing.T) {
	var l Log
	var versions []Log
	for i := 0; i < 5; i++ {
		l = l.Push(LogEntry{Text: string(rune('a' + i))}, 3)
		versions = append(versions, l)
	}

	entries := l.Entries()
	require.Len(t, entries, 3)
	require.Equal(t, "e", entries[0].Text)
	require.Equal(t, "c", entries[2].Text)

	// Earlier versions are unaffected.
	require.Len(t, versions[1].Entries(), 2)
	require.Equal(t, "b", versions[1].Entries()[0].Text)
}

func TestLog_CapAt120(t *testing.T) {
	var l Log
	for i := 0; i < 200; i++ {
		l = l.Push(LogEntry{Text: "x"}, MaxLogEntries)
	}
	require.Equal(t, MaxLogEntries, l.Len())
	require.Len(t, l.Entries(), MaxLogEntries)
}

func TestRenderMermaid(t *testing.T) {
	seq := BuildSnapshots(samplePayload, Policy{ForcedFailureTarget: "ship"})
	out := RenderMermaid(seq[5])
	require.True(t, strings.HasPrefix(out, "flowchart LR\n"))
	require.Contains(t, out, `w_ship["shipping worker: DLQ"]:::dlq`)
	require.Contains(t, out, `w_pay["payments worker: DONE"]:::done`)
	require.Contains(t, out, `topic(("Topic")):::active`)

	idle := RenderMermaid(seq[0])
	require.Contains(t, idle, `producer["Producer"]:::idle`)
}
