package app

import (
	"context"
	"testing"
	"time"
)

func TestSessionStore_CreateAndGet(t *testing.T) {
	store := NewSessionStore(newFake(), time.Minute, nil)

	id, c := store.Create()
	if id == "" || c == nil {
		t.Fatal("Create() returned empty session")
	}
	got, ok := store.Get(id)
	if !ok || got != c {
		t.Error("Get() did not return the created container")
	}
	if _, ok := store.Get("unknown"); ok {
		t.Error("Get(unknown) ok = true")
	}
}

func TestSessionStore_GetOrCreate(t *testing.T) {
	store := NewSessionStore(newFake(), time.Minute, nil)

	id, c, created := store.GetOrCreate("")
	if !created {
		t.Error("GetOrCreate(\"\") created = false, want true")
	}
	id2, c2, created2 := store.GetOrCreate(id)
	if created2 || id2 != id || c2 != c {
		t.Error("GetOrCreate(existing) should return the same session")
	}
	id3, _, created3 := store.GetOrCreate("stale-id")
	if !created3 || id3 == "stale-id" {
		t.Error("GetOrCreate(unknown) should mint a new id")
	}
	if store.Len() != 2 {
		t.Errorf("Len() = %d, want 2", store.Len())
	}
}

// TestSessionStore_Expiry verifies idle sessions are dropped on access and by Prune.
func TestSessionStore_Expiry(t *testing.T) {
	store := NewSessionStore(newFake(), time.Minute, nil)
	now := time.Now()
	store.now = func() time.Time { return now }

	idA, _ := store.Create()
	idB, _ := store.Create()

	now = now.Add(2 * time.Minute)
	if _, ok := store.Get(idA); ok {
		t.Error("Get() returned an expired session")
	}
	if removed := store.Prune(); removed != 1 {
		t.Errorf("Prune() removed %d, want 1", removed)
	}
	if _, ok := store.Get(idB); ok {
		t.Error("session B should have been pruned")
	}
	if store.Len() != 0 {
		t.Errorf("Len() = %d, want 0", store.Len())
	}
}

func TestSessionStore_NoTTL(t *testing.T) {
	store := NewSessionStore(newFake(), 0, nil)
	now := time.Now()
	store.now = func() time.Time { return now }
	id, _ := store.Create()

	now = now.Add(24 * time.Hour)
	if store.Prune() != 0 {
		t.Error("Prune() with ttl 0 should remove nothing")
	}
	if _, ok := store.Get(id); !ok {
		t.Error("session should not expire when ttl is 0")
	}
}

func TestSessionStore_PrunePeriodic_StopsOnCancel(t *testing.T) {
	store := NewSessionStore(newFake(), time.Minute, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- store.PrunePeriodic(ctx, 5*time.Millisecond) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("PrunePeriodic() = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("PrunePeriodic() did not return after cancel")
	}
}
