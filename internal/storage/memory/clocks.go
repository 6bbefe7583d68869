package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/openmud/aether/internal/storage"
)

// GetWorldClock implements storage.WorldClockStore.
func (s *Store) GetWorldClock(_ context.Context) (*storage.WorldClock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}
	if s.worldClock == nil {
		return nil, &storage.ErrNotFound{Type: "worldclock", ID: "singleton"}
	}
	return cloneWorldClock(s.worldClock), nil
}

// InitializeWorldClock implements storage.WorldClockStore.
func (s *Store) InitializeWorldClock(_ context.Context, initialTick int64) (*storage.WorldClock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed
	}
	if s.worldClock != nil {
		return nil, &storage.ErrAlreadyExists{Type: "worldclock", ID: "singleton"}
	}
	s.worldClock = &storage.WorldClock{
		CurrentTick:  initialTick,
		LastAdvanced: s.now().UTC(),
		ETag:         uuid.NewString(),
	}
	return cloneWorldClock(s.worldClock), nil
}

// AdvanceWorldClock implements storage.WorldClockStore. The write commits
// only when the expected etag still matches; the tick moves forward by the
// advancement duration and one history entry is appended.
func (s *Store) AdvanceWorldClock(_ context.Context, adv storage.WorldClockAdvance) (*storage.WorldClock, error) {
	if adv.DurationMs <= 0 {
		return nil, &storage.ErrInvalidInput{Field: "durationMs", Message: "must be positive"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed
	}
	if s.worldClock == nil {
		return nil, &storage.ErrNotFound{Type: "worldclock", ID: "singleton"}
	}
	if s.worldClock.ETag != adv.ExpectedETag {
		return nil, &storage.ErrConcurrentAdvancement{
			Type:     "worldclock",
			Expected: adv.ExpectedETag,
			Actual:   s.worldClock.ETag,
		}
	}

	now := s.now().UTC()
	s.worldClock.CurrentTick += adv.DurationMs
	s.worldClock.LastAdvanced = now
	s.worldClock.History = append(s.worldClock.History, storage.ClockAdvancement{
		Timestamp:  now,
		DurationMs: adv.DurationMs,
		Reason:     adv.Reason,
		TickAfter:  s.worldClock.CurrentTick,
	})
	if s.historyLimit > 0 && len(s.worldClock.History) > s.historyLimit {
		trimmed := make([]storage.ClockAdvancement, s.historyLimit)
		copy(trimmed, s.worldClock.History[len(s.worldClock.History)-s.historyLimit:])
		s.worldClock.History = trimmed
	}
	s.worldClock.ETag = uuid.NewString()
	return cloneWorldClock(s.worldClock), nil
}

// GetLocationClock implements storage.LocationClockStore.
func (s *Store) GetLocationClock(_ context.Context, locationID string) (*storage.LocationClock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}
	lc, ok := s.locationClocks[locationID]
	if !ok {
		return nil, &storage.ErrNotFound{Type: "locationclock", ID: locationID}
	}
	return cloneLocationClock(lc), nil
}

// UpsertLocationClock implements storage.LocationClockStore.
func (s *Store) UpsertLocationClock(_ context.Context, lc *storage.LocationClock, expectedETag string) (*storage.LocationClock, error) {
	if lc.LocationID == "" {
		return nil, &storage.ErrInvalidInput{Field: "locationId", Message: "must not be empty"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed
	}

	existing, ok := s.locationClocks[lc.LocationID]
	if expectedETag == "" {
		if ok {
			return nil, &storage.ErrAlreadyExists{Type: "locationclock", ID: lc.LocationID}
		}
	} else {
		if !ok {
			return nil, &storage.ErrNotFound{Type: "locationclock", ID: lc.LocationID}
		}
		if existing.ETag != expectedETag {
			return nil, &storage.ErrConcurrentAdvancement{
				Type:     "locationclock",
				Expected: expectedETag,
				Actual:   existing.ETag,
			}
		}
	}

	stored := cloneLocationClock(lc)
	stored.ETag = uuid.NewString()
	s.locationClocks[lc.LocationID] = stored
	return cloneLocationClock(stored), nil
}

// ListLocationClocks implements storage.LocationClockStore.
func (s *Store) ListLocationClocks(_ context.Context) ([]*storage.LocationClock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}
	out := make([]*storage.LocationClock, 0, len(s.locationClocks))
	for _, lc := range s.locationClocks {
		out = append(out, cloneLocationClock(lc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocationID < out[j].LocationID })
	return out, nil
}
