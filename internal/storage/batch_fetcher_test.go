package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestBatchFetcher_FetchesAll(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	ctx := context.Background()

	var paths []string
	for i := 0; i < 20; i++ {
		p := fmt.Sprintf("analytics/OrderPlaced/o-%02d.json", i)
		if err := store.Put(ctx, p, []byte(fmt.Sprintf(`{"i":%d}`, i)), ContentTypeJSON); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		paths = append(paths, p)
	}
	paths = append(paths, "analytics/missing.json")

	res, err := NewBatchFetcher(store, 3).Fetch(ctx, paths)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(res.Objects) != 20 {
		t.Errorf("got %d objects, want 20", len(res.Objects))
	}
	if got := string(res.Objects["analytics/OrderPlaced/o-07.json"].Data); got != `{"i":7}` {
		t.Errorf("unexpected body %q", got)
	}
	if !errors.Is(res.Errors["analytics/missing.json"], ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound for missing object, got %v", res.Errors["analytics/missing.json"])
	}
}

func TestBatchFetcher_CancelledContext(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := NewBatchFetcher(store, 1).Fetch(ctx, []string{"a.json", "b.json"})
	if err == nil {
		t.Fatal("expected an error for a cancelled context")
	}
	if len(res.Objects) != 0 || len(res.Errors) != 2 {
		t.Errorf("unexpected result: %d objects, %d errors", len(res.Objects), len(res.Errors))
	}
}
