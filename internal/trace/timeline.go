package trace

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/fanoutlab/fanoutlab/internal/steps"
)

// TimelineEntry is one human-readable line of a trace timeline.
type TimelineEntry struct {
	// TimestampMs is unset when the step carried no usable timestamp.
	TimestampMs *int64 `json:"t,omitempty"`
	Text        string `json:"text"`
	Step        string `json:"step"`
}

// noTimestamp is the shared sort key for entries without a timestamp.
const noTimestamp = math.MaxInt64

// Project maps step records to timeline entries sorted by timestamp.
// Unknown steps produce no entry.
func Project(records []StepRecord) []TimelineEntry {
	entries := make([]TimelineEntry, 0, len(records))
	for _, r := range records {
		var body map[string]json.RawMessage
		_ = json.Unmarshal(r.Data, &body)

		text := describe(r.Step, body)
		if text == "" {
			continue
		}
		e := TimelineEntry{Text: text, Step: r.Step.Name}
		if ts, ok := timestampOf(body); ok {
			e.TimestampMs = &ts
		}
		entries = append(entries, e)
	}
	return SortEntries(entries)
}

// SortEntries returns a copy of entries stably sorted by timestamp ascending.
// Entries without a timestamp share one sentinel key and keep their relative order.
func SortEntries(entries []TimelineEntry) []TimelineEntry {
	out := make([]TimelineEntry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool {
		return sortKey(out[i]) < sortKey(out[j])
	})
	return out
}

func sortKey(e TimelineEntry) int64 {
	if e.TimestampMs == nil {
		return noTimestamp
	}
	return *e.TimestampMs
}

// ExtractTimestamp returns the step's timestamp in epoch milliseconds.
// It checks t, then timestamp, then message.t; the first usable value wins.
func ExtractTimestamp(data json.RawMessage) (int64, bool) {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(data, &body); err != nil {
		return 0, false
	}
	return timestampOf(body)
}

func timestampOf(body map[string]json.RawMessage) (int64, bool) {
	if body == nil {
		return 0, false
	}
	if ts, ok := numeric(body["t"]); ok {
		return ts, true
	}
	if ts, ok := numeric(body["timestamp"]); ok {
		return ts, true
	}
	if raw, ok := body["message"]; ok {
		var msg map[string]json.RawMessage
		if err := json.Unmarshal(raw, &msg); err == nil {
			return numeric(msg["t"])
		}
	}
	return 0, false
}

// numeric accepts positive JSON numbers and numeric strings.
func numeric(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		f, err = strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, false
		}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

func describe(step steps.Step, body map[string]json.RawMessage) string {
	switch step.Kind {
	case steps.KindPublished:
		return "producer published " + eventType(body) + " to topic"
	case steps.KindRoutes:
		return "topic fanout delivered to subscriber queues"
	case steps.KindFulfillmentReceived:
		return "fulfillment received the message"
	case steps.KindAnalyticsReceived:
		return "analytics received the message"
	case steps.KindShippingReceived:
		return "shipping received the message"
	case steps.KindFulfillmentProcessed:
		return "fulfillment processed the order and reserved inventory"
	case steps.KindAnalyticsProcessed:
		return "analytics updated metrics"
	case steps.KindShippingProcessed:
		return "shipping processed the order"
	case steps.KindFulfillmentFailed:
		return "fulfillment failed"
	case steps.KindAnalyticsFailed:
		return "analytics failed"
	case steps.KindShippingFailed:
		return "shipping failed"
	case steps.KindFulfillmentReserved:
		return "fulfillment reserved " + step.Product
	case steps.KindAnalyticsUpdated:
		return "analytics updated " + step.Product
	case steps.KindDeadLettered:
		return "message moved to dead-letter queue"
	}
	return ""
}

func eventType(body map[string]json.RawMessage) string {
	var probe struct {
		EventType string `json:"eventType"`
	}
	if raw, ok := body["message"]; ok {
		if err := json.Unmarshal(raw, &probe); err == nil && probe.EventType != "" {
			return probe.EventType
		}
	}
	if raw, ok := body["eventType"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
	}
	return "OrderPlaced"
}
