package trace

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/fanoutlab/fanoutlab/internal/errors"
	"github.com/fanoutlab/fanoutlab/internal/observability"
	"github.com/fanoutlab/fanoutlab/internal/storage"
)

func newTestStore(t *testing.T) (*storage.LocalStorage, *ObjectStepStore) {
	t.Helper()
	local, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	return local, NewObjectStepStore(local)
}

func putRaw(t *testing.T, local storage.ObjectStorage, key, body string) {
	t.Helper()
	if err := local.Put(context.Background(), key, []byte(body), storage.ContentTypeJSON); err != nil {
		t.Fatalf("Put %s failed: %v", key, err)
	}
}

// flakyStore fails fetches for selected keys.
type flakyStore struct {
	*ObjectStepStore
	fail map[string]bool
}

func (f *flakyStore) GetStepPayload(ctx context.Context, key string) ([]byte, error) {
	if f.fail[key] {
		return nil, errors.NewTransient(errors.ErrCategoryStorage, "boom", nil)
	}
	return f.ObjectStepStore.GetStepPayload(ctx, key)
}

func TestGetTrace_NotFoundForEmptyNamespace(t *testing.T) {
	_, store := newTestStore(t)
	a := NewAssembler(store)

	_, err := a.GetTrace(context.Background(), "missing")
	if !errors.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}

	_, err = a.GetTrace(context.Background(), "../etc")
	if !errors.IsNotFound(err) {
		t.Fatalf("expected NotFound for invalid id, got %v", err)
	}
}

func TestGetTrace_SummaryScenario(t *testing.T) {
	local, store := newTestStore(t)
	for _, name := range []string{"00-published", "01-routes", "10-fulfillment-received", "20-fulfillment-processed"} {
		putRaw(t, local, "traces/abc/"+name+".json", `{"t":1}`)
	}

	tr, err := NewAssembler(store).GetTrace(context.Background(), "abc")
	if err != nil {
		t.Fatalf("GetTrace failed: %v", err)
	}

	s := tr.Summary
	if !s.Published || !s.FulfillmentReceived || !s.FulfillmentDone {
		t.Errorf("expected published/fulfillment flags set: %+v", s)
	}
	if s.AnalyticsReceived || s.AnalyticsDone || s.SentToDLQ {
		t.Errorf("expected analytics and dlq flags clear: %+v", s)
	}
	if len(tr.Steps) != 4 {
		t.Fatalf("expected 4 steps, got %d", len(tr.Steps))
	}
	if tr.Steps[0].FileName() != "00-published.json" || tr.Steps[3].FileName() != "20-fulfillment-processed.json" {
		t.Errorf("steps not in lexical order: %v, %v", tr.Steps[0].Key, tr.Steps[3].Key)
	}
}

func TestListSteps_ToleratesPerItemFailures(t *testing.T) {
	local, store := newTestStore(t)
	putRaw(t, local, "traces/x/00-published.json", `{"t":1}`)
	putRaw(t, local, "traces/x/01-routes.json", `not json`)
	putRaw(t, local, "traces/x/10-fulfillment-received.json", `{"t":2}`)
	putRaw(t, local, "traces/x/77-custom.json", `{"note":"kept"}`)

	stats := observability.NewStepStats(0)
	flaky := &flakyStore{ObjectStepStore: store, fail: map[string]bool{"traces/x/10-fulfillment-received.json": true}}
	a := NewAssembler(flaky, WithStats(stats), WithConcurrency(2))

	records, err := a.ListSteps(context.Background(), "x")
	if err != nil {
		t.Fatalf("ListSteps failed: %v", err)
	}

	var names []string
	for _, r := range records {
		names = append(names, r.Step.Name)
	}
	want := []string{"00-published", "77-custom"}
	if len(names) != len(want) || names[0] != want[0] || names[1] != want[1] {
		t.Errorf("steps = %v, want %v", names, want)
	}

	dropped := stats.TopDropped(10)
	if len(dropped) != 2 {
		t.Errorf("expected 2 dropped names, got %+v", dropped)
	}
	if unknown := stats.TopUnknown(10); len(unknown) != 1 || unknown[0].Name != "77-custom" {
		t.Errorf("expected 77-custom to be counted unknown, got %+v", unknown)
	}
}

func TestListSteps_IgnoresNestedAndDuplicateKeys(t *testing.T) {
	local, store := newTestStore(t)
	putRaw(t, local, "traces/d/00-published", `{"legacy":true}`)
	putRaw(t, local, "traces/d/00-published.json", `{"legacy":false}`)
	putRaw(t, local, "traces/d/nested/00-published.json", `{}`)
	putRaw(t, local, "traces/dd/00-published.json", `{}`)

	records, err := NewAssembler(store).ListSteps(context.Background(), "d")
	if err != nil {
		t.Fatalf("ListSteps failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d: %+v", len(records), records)
	}
	if string(records[0].Data) != `{"legacy":false}` {
		t.Errorf("expected the .json key to win, got %s", records[0].Data)
	}
}

func TestGetTrace_AllStepsUnreadable(t *testing.T) {
	local, store := newTestStore(t)
	putRaw(t, local, "traces/bad/00-published.json", `{{{`)

	_, err := NewAssembler(store).GetTrace(context.Background(), "bad")
	if !errors.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestGetPublishedPayload(t *testing.T) {
	local, store := newTestStore(t)
	putRaw(t, local, "traces/abc/00-published.json", `{"t":1000,"message":{"orderId":"X"}}`)
	putRaw(t, local, "traces/raw/00-published.json", `{"t":1000,"orderId":"Y"}`)
	putRaw(t, local, "traces/legacy/00-published", `{"message":{"orderId":"Z"}}`)
	putRaw(t, local, "traces/broken/00-published.json", `{"message":`)

	a := NewAssembler(store)
	ctx := context.Background()

	tests := []struct {
		cid  string
		want string
	}{
		{"abc", `{"orderId":"X"}`},
		{"raw", `{"t":1000,"orderId":"Y"}`},
		{"legacy", `{"orderId":"Z"}`},
	}
	for _, tt := range tests {
		got, err := a.GetPublishedPayload(ctx, tt.cid)
		if err != nil {
			t.Fatalf("GetPublishedPayload(%s) failed: %v", tt.cid, err)
		}
		if !jsonEqual(t, got, []byte(tt.want)) {
			t.Errorf("GetPublishedPayload(%s) = %s, want %s", tt.cid, got, tt.want)
		}
	}

	if _, err := a.GetPublishedPayload(ctx, "nope"); !errors.IsNotFound(err) {
		t.Errorf("expected NotFound, got %v", err)
	}
	if _, err := a.GetPublishedPayload(ctx, "broken"); !errors.IsMalformed(err) {
		t.Errorf("expected Malformed, got %v", err)
	}
	if got := a.ResolvePublishedPayload(ctx, "nope"); got != nil {
		t.Errorf("expected nil payload, got %s", got)
	}
}

func TestSummaries(t *testing.T) {
	local, store := newTestStore(t)
	putRaw(t, local, "traces/a/00-published.json", `{}`)
	putRaw(t, local, "traces/a/50-dlq.json", `{}`)
	putRaw(t, local, "traces/b/00-published.json", `{}`)
	putRaw(t, local, "traces/b/11-analytics-received.json", `{}`)
	putRaw(t, local, "orders/001.json", `{}`)

	a := NewAssembler(store)
	sums, err := a.Summaries(context.Background(), 0)
	if err != nil {
		t.Fatalf("Summaries failed: %v", err)
	}
	if len(sums) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(sums))
	}
	if sums[0].CorrelationID != "a" || !sums[0].SentToDLQ {
		t.Errorf("unexpected first summary: %+v", sums[0])
	}
	if sums[1].CorrelationID != "b" || !sums[1].AnalyticsReceived || sums[1].SentToDLQ {
		t.Errorf("unexpected second summary: %+v", sums[1])
	}

	limited, err := a.Summaries(context.Background(), 1)
	if err != nil {
		t.Fatalf("Summaries failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("expected limit to apply, got %d", len(limited))
	}
}

func TestSummarize_ParsesRouteDecision(t *testing.T) {
	local, store := newTestStore(t)
	putRaw(t, local, "traces/r/01-routes.json", `{"fulfillment":true,"analytics":false,"shipping":true}`)

	tr, err := NewAssembler(store).GetTrace(context.Background(), "r")
	if err != nil {
		t.Fatalf("GetTrace failed: %v", err)
	}
	if tr.Summary.Routes == nil {
		t.Fatal("expected parsed routes")
	}
	if !tr.Summary.Routes.Fulfillment || tr.Summary.Routes.Analytics || !tr.Summary.Routes.Shipping {
		t.Errorf("unexpected routes: %+v", tr.Summary.Routes)
	}
	if !tr.Summary.RoutedToFulfillment || !tr.Summary.RoutedToAnalytics {
		t.Error("routed flags are presence based")
	}
}

func jsonEqual(t *testing.T, a, b []byte) bool {
	t.Helper()
	var va, vb any
	if err := json.Unmarshal(a, &va); err != nil {
		t.Fatalf("invalid JSON %s: %v", a, err)
	}
	if err := json.Unmarshal(b, &vb); err != nil {
		t.Fatalf("invalid JSON %s: %v", b, err)
	}
	ja, _ := json.Marshal(va)
	jb, _ := json.Marshal(vb)
	return string(ja) == string(jb)
}

func TestListSteps_WithoutStats(t *testing.T) {
	local, store := newTestStore(t)
	putRaw(t, local, "traces/abc/00-published.json", `{"t":1,"message":{"eventType":"OrderPlaced"}}`)
	putRaw(t, local, "traces/abc/77-custom.json", `{"t":2}`)
	putRaw(t, local, "traces/abc/10-fulfillment-received.json", `not json`)

	a := NewAssembler(store)
	records, err := a.ListSteps(context.Background(), "abc")
	if err != nil {
		t.Fatalf("ListSteps failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 readable steps, got %d", len(records))
	}

	tr, err := a.GetTrace(context.Background(), "abc")
	if err != nil {
		t.Fatalf("GetTrace failed: %v", err)
	}
	if !tr.Summary.Published {
		t.Error("expected published flag")
	}
}
