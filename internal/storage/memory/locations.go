package memory

import (
	"context"
	"sort"

	"github.com/openmud/aether/internal/storage"
)

// PutLocation implements storage.LocationStore.
func (s *Store) PutLocation(_ context.Context, loc *storage.Location) error {
	if loc.ID == "" {
		return &storage.ErrInvalidInput{Field: "id", Message: "must not be empty"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	s.locations[loc.ID] = cloneLocation(loc)
	return nil
}

// GetLocation implements storage.LocationStore.
func (s *Store) GetLocation(_ context.Context, id string) (*storage.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}
	loc, ok := s.locations[id]
	if !ok {
		return nil, &storage.ErrNotFound{Type: "location", ID: id}
	}
	return cloneLocation(loc), nil
}

// ListLocations implements storage.LocationStore.
func (s *Store) ListLocations(_ context.Context) ([]*storage.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}
	out := make([]*storage.Location, 0, len(s.locations))
	for _, loc := range s.locations {
		out = append(out, cloneLocation(loc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeleteLocation implements storage.LocationStore.
func (s *Store) DeleteLocation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	if _, ok := s.locations[id]; !ok {
		return &storage.ErrNotFound{Type: "location", ID: id}
	}
	delete(s.locations, id)
	return nil
}
