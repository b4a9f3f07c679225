package kvstore

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPutGetRoundTrip(t *testing.T) {
	store := openTestStore(t)

	if err := store.Put("orders/1", []byte("payload-1")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	v, ok, err := store.Get("orders/1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || string(v) != "payload-1" {
		t.Fatalf("Get = (%q, %v), want (payload-1, true)", v, ok)
	}
}

func TestGetMissingKeyReportsNotFound(t *testing.T) {
	store := openTestStore(t)
	_, ok, err := store.Get("orders/999")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false for missing key")
	}
}

func TestGetMissingBucketReportsNotFound(t *testing.T) {
	store := openTestStore(t)
	_, ok, err := store.Get("never-written/1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false for a topic bucket that was never created")
	}
}

func TestDelRemovesKey(t *testing.T) {
	store := openTestStore(t)
	store.Put("orders/1", []byte("x"))
	if err := store.Del("orders/1"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	_, ok, _ := store.Get("orders/1")
	if ok {
		t.Fatalf("expected key removed after Del")
	}
}

func TestTopicBucketsAreIsolated(t *testing.T) {
	store := openTestStore(t)
	store.Put("orders/1", []byte("orders-payload"))
	store.Put("invoices/1", []byte("invoices-payload"))

	v, _, _ := store.Get("orders/1")
	if string(v) != "orders-payload" {
		t.Fatalf("orders/1 = %q, want orders-payload", v)
	}
	v, _, _ = store.Get("invoices/1")
	if string(v) != "invoices-payload" {
		t.Fatalf("invoices/1 = %q, want invoices-payload", v)
	}
}

func TestRangeIteratesKeysInOrder(t *testing.T) {
	store := openTestStore(t)
	store.Put("orders/1", []byte("a"))
	store.Put("orders/2", []byte("b"))
	store.Put("orders/3", []byte("c"))

	var keys []string
	err := store.Range("orders", func(key string, value []byte) bool {
		keys = append(keys, key)
		return true
	})
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(keys) != 3 {
		t.Fatalf("Range visited %d keys, want 3", len(keys))
	}
}

func TestRangeStopsEarlyWhenFnReturnsFalse(t *testing.T) {
	store := openTestStore(t)
	store.Put("orders/1", []byte("a"))
	store.Put("orders/2", []byte("b"))
	store.Put("orders/3", []byte("c"))

	visited := 0
	store.Range("orders", func(key string, value []byte) bool {
		visited++
		return false
	})
	if visited != 1 {
		t.Fatalf("visited = %d, want 1 (should stop on first false)", visited)
	}
}
