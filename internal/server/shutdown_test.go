package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"
)

func TestShutdown_ClosesInReverseOrderOnce(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{ShutdownTimeout: time.Second, DrainTimeout: 100 * time.Millisecond})

	var order []string
	sm.RegisterFunc("first", func() error { order = append(order, "first"); return nil })
	sm.RegisterFunc("second", func() error { order = append(order, "second"); return errors.New("boom") })
	sm.RegisterFunc("third", func() error { order = append(order, "third"); return nil })

	err := sm.Shutdown(context.Background(), "test")
	if err == nil {
		t.Fatal("expected the close error to be reported")
	}
	if want := []string{"third", "second", "first"}; !reflect.DeepEqual(order, want) {
		t.Errorf("close order = %v, want %v", order, want)
	}

	if err := sm.Shutdown(context.Background(), "again"); err != nil {
		t.Errorf("second Shutdown should be a no-op, got %v", err)
	}
	if len(order) != 3 {
		t.Errorf("closers ran again: %v", order)
	}

	select {
	case <-sm.ShutdownCh():
	default:
		t.Error("shutdown channel should be closed")
	}
}

func TestShutdownMiddleware_RejectsDuringShutdown(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig())
	h := ShutdownMiddleware(sm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sm.InFlightCount() != 1 {
			t.Errorf("in-flight = %d, want 1", sm.InFlightCount())
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if sm.InFlightCount() != 0 {
		t.Errorf("in-flight after request = %d", sm.InFlightCount())
	}

	if err := sm.Shutdown(context.Background(), "test"); err != nil {
		t.Fatal(err)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status during shutdown = %d, want 503", rec.Code)
	}
}

func TestShutdown_DrainTimeout(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{ShutdownTimeout: time.Second, DrainTimeout: 60 * time.Millisecond})
	if !sm.TrackRequest() {
		t.Fatal("TrackRequest should succeed before shutdown")
	}
	if err := sm.Shutdown(context.Background(), "test"); err == nil {
		t.Error("expected drain timeout error")
	}
	if sm.TrackRequest() {
		t.Error("TrackRequest should fail after shutdown")
	}
}

func TestServe_StopsOnShutdown(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{ShutdownTimeout: time.Second, DrainTimeout: 100 * time.Millisecond})

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})}
	errCh := sm.Serve(srv, lis)

	resp, err := http.Get("http://" + lis.Addr().String() + "/")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}

	if err := sm.Shutdown(context.Background(), "test"); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	select {
	case err, ok := <-errCh:
		if ok {
			t.Errorf("unexpected serve error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not exit after Shutdown")
	}
}
