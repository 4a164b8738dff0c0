package events

import (
	"testing"
	"time"
)

func TestStore_UpsertAndSnapshot(t *testing.T) {
	now := time.Now().UTC()
	s := NewStore(5 * time.Minute)
	s.Upsert(Event{Device: "core1", State: StateAuthenticated, TS: now})

	got := s.Snapshot(now)
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if got[0].State != StateAuthenticated {
		t.Fatalf("expected state authenticated, got %s", got[0].State)
	}
}

func TestStore_UpsertOverwritesSameDevice(t *testing.T) {
	now := time.Now().UTC()
	s := NewStore(5 * time.Minute)
	s.Upsert(Event{Device: "core1", State: StateAuthenticated, TS: now})
	s.Upsert(Event{Device: "core1", State: StateEnabled, TS: now.Add(time.Second)})

	got, ok := s.Get("core1")
	if !ok {
		t.Fatalf("expected core1 to be present")
	}
	if got.State != StateEnabled {
		t.Fatalf("expected overwritten state enabled, got %s", got.State)
	}
}

func TestStore_IgnoresOutOfOrderEvents(t *testing.T) {
	now := time.Now().UTC()
	s := NewStore(0)
	s.Upsert(Event{Device: "core1", State: StateClosed, TS: now})
	s.Upsert(Event{Device: "core1", State: StateEnabled, TS: now.Add(-time.Second)})

	got, _ := s.Get("core1")
	if got.State != StateClosed {
		t.Fatalf("expected closed to survive, got %s", got.State)
	}
}

func TestStore_SnapshotFailuresOnly(t *testing.T) {
	now := time.Now().UTC()
	s := NewStore(5 * time.Minute)
	s.Upsert(Event{Device: "edge2", State: StateError, TS: now, Message: "auth failed"})
	s.Upsert(Event{Device: "core1", State: StateEnabled, TS: now})

	got := s.SnapshotFailures(now)
	if len(got) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(got))
	}
	if got[0].Device != "edge2" {
		t.Fatalf("expected device edge2, got %s", got[0].Device)
	}
}

func TestStore_SnapshotSortedByDevice(t *testing.T) {
	now := time.Now().UTC()
	s := NewStore(0)
	for _, d := range []string{"c", "a", "b"} {
		s.Upsert(Event{Device: d, State: StateClosed, TS: now})
	}
	got := s.Snapshot(now)
	for i, want := range []string{"a", "b", "c"} {
		if got[i].Device != want {
			t.Fatalf("snapshot[%d] = %s, want %s", i, got[i].Device, want)
		}
	}
}

func TestStore_ExpiresStaleEntries(t *testing.T) {
	now := time.Now().UTC()
	s := NewStore(2 * time.Minute)
	s.Upsert(Event{Device: "core1", State: StateAuthenticated, TS: now})

	got := s.Snapshot(now.Add(3 * time.Minute))
	if len(got) != 0 {
		t.Fatalf("expected 0 events after ttl expiry, got %d", len(got))
	}
}
