package replay

import (
	"encoding/json"
	"fmt"
	"strings"

	"k8s.io/utils/clock"
)

// Engine builds snapshot sequences. It performs no I/O.
type Engine struct {
	clock  clock.PassiveClock
	random RandomSource
	maxLog int
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock sets the clock used to stamp log entries.
func WithClock(clk clock.PassiveClock) EngineOption {
	return func(e *Engine) { e.clock = clk }
}

// WithRandomSource sets the source of failure draws for unseeded policies.
func WithRandomSource(src RandomSource) EngineOption {
	return func(e *Engine) { e.random = src }
}

// WithMaxLog overrides the rolling log cap.
func WithMaxLog(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxLog = n
		}
	}
}

// NewEngine creates a replay engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		clock:  clock.RealClock{},
		random: NewRandomSource(),
		maxLog: MaxLogEntries,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var defaultEngine = NewEngine()

// BuildSnapshots builds a replay with the default engine.
func BuildSnapshots(payload json.RawMessage, policy Policy) []Snapshot {
	return defaultEngine.BuildSnapshots(payload, policy)
}

// BuildSnapshots returns the six snapshots of one replay. It never fails:
// missing payload fields fall back to defaults and the policy is normalized.
func (e *Engine) BuildSnapshots(payload json.RawMessage, policy Policy) []Snapshot {
	policy = policy.Normalize()
	ev := eventOf(payload)

	src := e.random
	if policy.Seed != "" {
		src = SeedFromString(policy.Seed)
	}

	b := &builder{engine: e, event: ev}
	pending := uniform(StatusPending)

	b.add(StateIdle, pending, "")
	b.add(StatePublished, pending, publishedText(ev))
	b.add(StateFanout, pending, fmt.Sprintf("topic fanout delivers to %d subscriber queues", len(Consumers)))
	b.add(StateDelivered, uniform(StatusReceived), "queues received the message")
	b.add(StateProcessing, uniform(StatusProcessing), "workers began processing")

	final := make(map[Consumer]QueueStatus, len(Consumers))
	for _, c := range Consumers {
		final[c] = resolve(c, policy, src)
	}
	b.add(StateDone, final, "workers finished: status update ("+statusLine(final)+")")

	return b.seq
}

// Resolve returns the terminal status of one consumer under policy.
func Resolve(c Consumer, policy Policy, src RandomSource) QueueStatus {
	return resolve(c, policy.Normalize(), src)
}

func resolve(c Consumer, policy Policy, src RandomSource) QueueStatus {
	if policy.ForcedFailureTarget == TargetAll || policy.ForcedFailureTarget == string(c) {
		return StatusDLQ
	}
	if policy.RandomFailureEnabled && src.NextUnit() < policy.RandomFailureRate {
		if policy.RouteRandomFailuresToDLQ {
			return StatusDLQ
		}
		return StatusFailed
	}
	return StatusDone
}

type builder struct {
	engine *Engine
	event  Event
	log    Log
	seq    []Snapshot
}

func (b *builder) add(state FlowState, statuses map[Consumer]QueueStatus, text string) {
	if text != "" {
		b.log = b.log.Push(LogEntry{At: b.engine.clock.Now(), Text: text}, b.engine.maxLog)
	}
	own := make(map[Consumer]QueueStatus, len(statuses))
	for c, st := range statuses {
		own[c] = st
	}
	b.seq = append(b.seq, Snapshot{
		Index:          len(b.seq),
		State:          state,
		ConsumerStatus: own,
		Log:            b.log.Entries(),
		Event:          b.event,
	})
}

func uniform(s QueueStatus) map[Consumer]QueueStatus {
	m := make(map[Consumer]QueueStatus, len(Consumers))
	for _, c := range Consumers {
		m[c] = s
	}
	return m
}

func publishedText(ev Event) string {
	if ev.EventType == "" {
		return "producer published event to topic"
	}
	return "producer published " + ev.EventType + " to topic"
}

func statusLine(statuses map[Consumer]QueueStatus) string {
	parts := make([]string, 0, len(Consumers))
	for _, c := range Consumers {
		parts = append(parts, string(c)+"="+string(statuses[c]))
	}
	return strings.Join(parts, ", ")
}
