package events

import (
	"sort"
	"sync"
	"time"
)

// Store keeps the latest event per device. Entries older than the TTL are
// dropped when a snapshot is taken; a TTL of 0 keeps them forever.
type Store struct {
	mu   sync.RWMutex
	ttl  time.Duration
	data map[string]Event
}

func NewStore(ttl time.Duration) *Store {
	return &Store{ttl: ttl, data: make(map[string]Event)}
}

// Upsert records e as the latest event for its device. Older events for
// the same device are ignored.
func (s *Store) Upsert(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.data[e.Device]; ok && e.TS.Before(prev.TS) {
		return
	}
	s.data[e.Device] = e
}

// Get returns the latest event for device.
func (s *Store) Get(device string) (Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[device]
	return e, ok
}

func (s *Store) Snapshot(now time.Time) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(now, false)
}

// SnapshotFailures returns only devices whose latest state is a failure.
func (s *Store) SnapshotFailures(now time.Time) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(now, true)
}

func (s *Store) snapshotLocked(now time.Time, failuresOnly bool) []Event {
	if s.ttl > 0 {
		for device, e := range s.data {
			if now.Sub(e.TS) > s.ttl {
				delete(s.data, device)
			}
		}
	}
	result := make([]Event, 0, len(s.data))
	for _, e := range s.data {
		if failuresOnly && !IsFailureState(e.State) {
			continue
		}
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Device < result[j].Device
	})
	return result
}
