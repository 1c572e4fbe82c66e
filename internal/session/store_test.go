package session

import (
	"testing"
	"time"
)

func TestCreateAndLookup(t *testing.T) {
	store := NewStore(10, time.Minute)

	id := store.Create("rossi")
	if id == "" {
		t.Fatalf("expected non-empty session id")
	}

	family, ok := store.Lookup(id)
	if !ok || family != "rossi" {
		t.Fatalf("expected rossi, got %q (ok=%v)", family, ok)
	}

	if _, ok := store.Lookup("no-such-session"); ok {
		t.Fatalf("unknown id must miss")
	}
}

func TestSessionIDsAreUnique(t *testing.T) {
	store := NewStore(100, time.Minute)
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id := store.Create("rossi")
		if seen[id] {
			t.Fatalf("duplicate session id %q", id)
		}
		seen[id] = true
	}
}

func TestDelete(t *testing.T) {
	store := NewStore(10, time.Minute)

	id := store.Create("rossi")
	store.Delete(id)
	if _, ok := store.Lookup(id); ok {
		t.Fatalf("deleted session must miss")
	}

	// Deleting twice is fine.
	store.Delete(id)
}

func TestExpiry(t *testing.T) {
	store := NewStore(10, 10*time.Millisecond)

	id := store.Create("rossi")
	time.Sleep(20 * time.Millisecond)

	if _, ok := store.Lookup(id); ok {
		t.Fatalf("expired session must miss")
	}
	if store.Size() != 0 {
		t.Fatalf("expired lookup should evict, size=%d", store.Size())
	}
}

func TestLRUEviction(t *testing.T) {
	store := NewStore(2, time.Minute)

	first := store.Create("a")
	second := store.Create("b")
	store.Create("c") // evicts first

	if _, ok := store.Lookup(first); ok {
		t.Fatalf("oldest session should have been evicted")
	}
	if _, ok := store.Lookup(second); !ok {
		t.Fatalf("second session should survive")
	}
	if store.Size() != 2 {
		t.Fatalf("expected size 2, got %d", store.Size())
	}
}

func TestCleanExpired(t *testing.T) {
	store := NewStore(10, 10*time.Millisecond)
	store.Create("a")
	store.Create("b")

	time.Sleep(20 * time.Millisecond)
	if n := store.CleanExpired(); n != 2 {
		t.Fatalf("expected 2 cleaned, got %d", n)
	}
	if store.Size() != 0 {
		t.Fatalf("expected empty store, got %d", store.Size())
	}
}
