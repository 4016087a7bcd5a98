// Package replay synthesizes the fixed sequence of flow snapshots shown when
// an event is replayed through the fanout pipeline.
package replay

import (
	"encoding/json"
	"math"
	"strings"
)

// FlowState is the global state of a replay.
type FlowState string

const (
	StateIdle       FlowState = "IDLE"
	StatePublished  FlowState = "PUBLISHED"
	StateFanout     FlowState = "FANOUT"
	StateDelivered  FlowState = "DELIVERED"
	StateProcessing FlowState = "PROCESSING"
	StateDone       FlowState = "DONE"
	StateFailed     FlowState = "FAILED"
)

// States is the order every replay walks through.
var States = []FlowState{StateIdle, StatePublished, StateFanout, StateDelivered, StateProcessing, StateDone}

// QueueStatus is the per-consumer status.
type QueueStatus string

const (
	StatusPending    QueueStatus = "PENDING"
	StatusReceived   QueueStatus = "RECEIVED"
	StatusProcessing QueueStatus = "PROCESSING"
	StatusDone       QueueStatus = "DONE"
	StatusFailed     QueueStatus = "FAILED"
	StatusDLQ        QueueStatus = "DLQ"
)

// Terminal reports whether s is a resolved status.
func (s QueueStatus) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusDLQ
}

// Describe returns a short human description of the status.
func (s QueueStatus) Describe() string {
	switch s {
	case StatusPending:
		return "waiting for delivery"
	case StatusReceived:
		return "message received"
	case StatusProcessing:
		return "processing"
	case StatusDone:
		return "completed"
	case StatusFailed:
		return "processing failed"
	case StatusDLQ:
		return "in dead-letter queue"
	}
	return string(s)
}

// Consumer identifies one subscriber queue and its worker.
type Consumer string

const (
	ConsumerPayments  Consumer = "pay"
	ConsumerInventory Consumer = "inv"
	ConsumerShipping  Consumer = "ship"
)

// Consumers lists the replay consumers in resolution order.
var Consumers = []Consumer{ConsumerPayments, ConsumerInventory, ConsumerShipping}

// Label returns the display name of the consumer's queue.
func (c Consumer) Label() string {
	switch c {
	case ConsumerPayments:
		return "payments"
	case ConsumerInventory:
		return "inventory"
	case ConsumerShipping:
		return "shipping"
	}
	return string(c)
}

// Failure targets beyond the individual consumer keys.
const (
	TargetNone = "none"
	TargetAll  = "all"
)

// Policy parameterizes failure injection for one build.
type Policy struct {
	ForcedFailureTarget      string  `json:"forcedFailureTarget" yaml:"forced_failure_target"`
	RandomFailureEnabled     bool    `json:"randomFailureEnabled" yaml:"random_failure_enabled"`
	RandomFailureRate        float64 `json:"randomFailureRate" yaml:"random_failure_rate"`
	RouteRandomFailuresToDLQ bool    `json:"routeRandomFailuresToDlq" yaml:"route_random_failures_to_dlq"`

	// Seed makes random draws reproducible when set.
	Seed string `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// Normalize defaults missing or out-of-range fields instead of rejecting them.
func (p Policy) Normalize() Policy {
	target := strings.ToLower(strings.TrimSpace(p.ForcedFailureTarget))
	switch target {
	case TargetAll, string(ConsumerPayments), string(ConsumerInventory), string(ConsumerShipping):
	default:
		target = TargetNone
	}
	p.ForcedFailureTarget = target

	switch {
	case math.IsNaN(p.RandomFailureRate) || p.RandomFailureRate < 0:
		p.RandomFailureRate = 0
	case p.RandomFailureRate > 1:
		p.RandomFailureRate = 1
	}
	return p
}

// Event holds the display fields read from a payload.
type Event struct {
	EventType string `json:"eventType"`
	EventID   string `json:"eventId,omitempty"`
	OrderID   string `json:"orderId,omitempty"`
}

// Snapshot is one frame of a replay.
type Snapshot struct {
	Index          int                      `json:"index"`
	State          FlowState                `json:"state"`
	ConsumerStatus map[Consumer]QueueStatus `json:"consumerStatus"`
	Log            []LogEntry               `json:"log"`
	Event          Event                    `json:"event"`
}

// Status returns the status of one consumer.
func (s Snapshot) Status(c Consumer) QueueStatus {
	return s.ConsumerStatus[c]
}

// eventOf reads display fields from a payload, substituting defaults.
func eventOf(payload json.RawMessage) Event {
	var probe struct {
		EventType string `json:"eventType"`
		EventID   string `json:"eventId"`
		OrderID   string `json:"orderId"`
		Data      struct {
			OrderID string `json:"orderId"`
		} `json:"data"`
	}
	_ = json.Unmarshal(payload, &probe)

	ev := Event{EventType: probe.EventType, EventID: probe.EventID, OrderID: probe.OrderID}
	if ev.OrderID == "" {
		ev.OrderID = probe.Data.OrderID
	}
	return ev
}
