package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLocalStorage_PutGetDelete(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}

	ctx := context.Background()
	objectPath := "traces/abc/00-published.json"
	content := []byte(`{"t":1000}`)

	if err := storage.Put(ctx, objectPath, content, ContentTypeJSON); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	exists, err := storage.Exists(ctx, objectPath)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("expected object to exist")
	}

	obj, err := storage.Get(ctx, objectPath)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(obj.Data) != string(content) {
		t.Errorf("content mismatch: got %q, want %q", obj.Data, content)
	}
	if obj.ContentType != "application/json" {
		t.Errorf("content type: got %q", obj.ContentType)
	}
	if obj.ETag == "" {
		t.Error("expected a non-empty ETag")
	}

	if err := storage.Delete(ctx, objectPath); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	exists, err = storage.Exists(ctx, objectPath)
	if err != nil {
		t.Fatalf("Exists after delete failed: %v", err)
	}
	if exists {
		t.Error("expected object to not exist after delete")
	}
}

func TestLocalStorage_GetNotFound(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}

	_, err = storage.Get(context.Background(), "nonexistent/object.json")
	if !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestLocalStorage_DeleteIdempotent(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}

	if err := storage.Delete(context.Background(), "nonexistent/object.json"); err != nil {
		t.Errorf("Delete of non-existent object should not error: %v", err)
	}
}

func TestLocalStorage_ConditionalPut(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}

	ctx := context.Background()
	objectPath := "domain/counters.json"

	// Empty etag creates only when absent.
	if err := storage.ConditionalPut(ctx, objectPath, []byte(`{"n":1}`), ""); err != nil {
		t.Fatalf("create-if-absent failed: %v", err)
	}
	if err := storage.ConditionalPut(ctx, objectPath, []byte(`{"n":1}`), ""); !errors.Is(err, ErrPreconditionFailed) {
		t.Errorf("expected ErrPreconditionFailed for second create, got %v", err)
	}

	obj, err := storage.Get(ctx, objectPath)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if err := storage.ConditionalPut(ctx, objectPath, []byte(`{"n":2}`), obj.ETag); err != nil {
		t.Fatalf("ConditionalPut with matching etag failed: %v", err)
	}

	// The old etag is now stale.
	if err := storage.ConditionalPut(ctx, objectPath, []byte(`{"n":3}`), obj.ETag); !errors.Is(err, ErrPreconditionFailed) {
		t.Errorf("expected ErrPreconditionFailed for stale etag, got %v", err)
	}

	obj, err = storage.Get(ctx, objectPath)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(obj.Data) != `{"n":2}` {
		t.Errorf("unexpected content %q", obj.Data)
	}
}

func TestLocalStorage_ListObjects(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}

	ctx := context.Background()
	paths := []string{
		"traces/b/01-routes.json",
		"traces/b/00-published.json",
		"traces/a/00-published.json",
		"orders/001.json",
	}
	for _, p := range paths {
		if err := storage.Put(ctx, p, []byte("{}"), ContentTypeJSON); err != nil {
			t.Fatalf("Put %s failed: %v", p, err)
		}
	}

	tests := []struct {
		prefix string
		want   []string
	}{
		{"traces/b/", []string{"traces/b/00-published.json", "traces/b/01-routes.json"}},
		{"traces/", []string{"traces/a/00-published.json", "traces/b/00-published.json", "traces/b/01-routes.json"}},
		{"ord", []string{"orders/001.json"}},
		{"missing/", nil},
	}

	for _, tt := range tests {
		got, err := storage.ListObjects(ctx, tt.prefix)
		if err != nil {
			t.Fatalf("ListObjects(%q) failed: %v", tt.prefix, err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ListObjects(%q) = %v, want %v", tt.prefix, got, tt.want)
		}
	}
}

func TestLocalStorage_ContextCancellation(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := storage.Put(ctx, "x.json", []byte("{}"), ContentTypeJSON); err == nil {
		t.Error("expected Put to fail with cancelled context")
	}
	if _, err := storage.Get(ctx, "x.json"); err == nil {
		t.Error("expected Get to fail with cancelled context")
	}
	if _, err := storage.ListObjects(ctx, ""); err == nil {
		t.Error("expected ListObjects to fail with cancelled context")
	}
}

func TestLocalStorage_RejectsKeysOutsideBase(t *testing.T) {
	root := t.TempDir()
	storage, err := NewLocalStorage(filepath.Join(root, "store"))
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "secret.txt"), []byte("TOP-SECRET"), 0o600); err != nil {
		t.Fatalf("write secret: %v", err)
	}

	ctx := context.Background()
	keys := []string{"../secret.txt", "traces/../../secret.txt", "/etc/passwd"}
	for _, key := range keys {
		if _, err := storage.Get(ctx, key); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Get(%q): expected ErrInvalidKey, got %v", key, err)
		}
		if err := storage.Put(ctx, key, []byte("x"), ContentTypeJSON); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Put(%q): expected ErrInvalidKey, got %v", key, err)
		}
		if err := storage.Delete(ctx, key); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Delete(%q): expected ErrInvalidKey, got %v", key, err)
		}
		if ok, _ := storage.Exists(ctx, key); ok {
			t.Errorf("Exists(%q) should be false", key)
		}
	}

	if got, err := storage.ListObjects(ctx, "../"); err != nil || len(got) != 0 {
		t.Errorf("ListObjects(../) = %v, %v; want empty", got, err)
	}

	data, err := os.ReadFile(filepath.Join(root, "secret.txt"))
	if err != nil || string(data) != "TOP-SECRET" {
		t.Errorf("secret was modified: %q, %v", data, err)
	}
}
