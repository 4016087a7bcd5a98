package trace

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/fanoutlab/fanoutlab/internal/steps"
)

func record(key, body string) StepRecord {
	return StepRecord{Key: key, Data: json.RawMessage(body), Step: steps.Classify(key)}
}

func TestExtractTimestamp(t *testing.T) {
	tests := []struct {
		body string
		want int64
		ok   bool
	}{
		{`{"t":1000}`, 1000, true},
		{`{"t":"2500"}`, 2500, true},
		{`{"timestamp":3000}`, 3000, true},
		{`{"t":0,"timestamp":4000}`, 4000, true},
		{`{"t":1,"timestamp":2}`, 1, true},
		{`{"message":{"t":5000}}`, 5000, true},
		{`{"timestamp":"2024-01-01T00:00:00Z","message":{"t":6000}}`, 6000, true},
		{`{"message":"text"}`, 0, false},
		{`{"t":-5}`, 0, false},
		{`{}`, 0, false},
		{`[1,2]`, 0, false},
		{`nope`, 0, false},
	}
	for _, tt := range tests {
		got, ok := ExtractTimestamp(json.RawMessage(tt.body))
		if got != tt.want || ok != tt.ok {
			t.Errorf("ExtractTimestamp(%s) = (%d, %v), want (%d, %v)", tt.body, got, ok, tt.want, tt.ok)
		}
	}
}

func TestProject_SortsByTimestamp(t *testing.T) {
	records := []StepRecord{
		record("traces/a/00-published.json", `{"t":300,"message":{"eventType":"OrderShipped"}}`),
		record("traces/a/01-routes.json", `{"fulfillment":true}`),
		record("traces/a/10-fulfillment-received.json", `{"timestamp":100}`),
		record("traces/a/20-fulfillment-processed.json", `{"timestamp":200}`),
		record("traces/a/77-custom.json", `{"t":1}`),
	}

	entries := Project(records)
	var got []string
	for _, e := range entries {
		got = append(got, e.Step)
	}
	want := []string{"10-fulfillment-received", "20-fulfillment-processed", "00-published", "01-routes"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v", got, want)
	}
	if entries[2].Text != "producer published OrderShipped to topic" {
		t.Errorf("unexpected published text %q", entries[2].Text)
	}
	if entries[3].TimestampMs != nil {
		t.Error("routes entry should carry no timestamp")
	}
}

func TestProject_NoTimestampsKeepsInputOrder(t *testing.T) {
	records := []StepRecord{
		record("traces/a/00-published.json", `{}`),
		record("traces/a/01-routes.json", `{}`),
		record("traces/a/10-fulfillment-received.json", `{}`),
		record("traces/a/11-analytics-received.json", `{}`),
	}
	entries := Project(records)
	for i, r := range records {
		if entries[i].Step != r.Step.Name {
			t.Errorf("position %d: got %s, want %s", i, entries[i].Step, r.Step.Name)
		}
	}
}

func TestProject_InterpolatesProduct(t *testing.T) {
	records := []StepRecord{
		record("traces/a/"+steps.ReservedName("SKU-BOOK-1")+".json", `{}`),
		record("traces/a/"+steps.UpdatedName("mug/blue")+".json", `{}`),
	}
	entries := Project(records)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Text != "fulfillment reserved SKU-BOOK-1" {
		t.Errorf("unexpected text %q", entries[0].Text)
	}
	if entries[1].Text != "analytics updated mug/blue" {
		t.Errorf("unexpected text %q", entries[1].Text)
	}
}

func TestProject_MalformedBodyStillDescribed(t *testing.T) {
	entries := Project([]StepRecord{record("traces/a/50-dlq.json", `garbage`)})
	if len(entries) != 1 || entries[0].TimestampMs != nil {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if entries[0].Text != "message moved to dead-letter queue" {
		t.Errorf("unexpected text %q", entries[0].Text)
	}
}
