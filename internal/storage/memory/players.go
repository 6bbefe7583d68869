package memory

import (
	"context"
	"sort"

	"github.com/openmud/aether/internal/storage"
)

// PutPlayer implements storage.PlayerStore. It keeps the external id and
// location occupancy indexes in step with the write.
func (s *Store) PutPlayer(_ context.Context, p *storage.Player) error {
	if p.ID == "" {
		return &storage.ErrInvalidInput{Field: "id", Message: "must not be empty"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}

	if p.ExternalID != "" {
		if existingID, ok := s.playerByExtID[p.ExternalID]; ok && existingID != p.ID {
			return &storage.ErrExternalIDConflict{ExternalID: p.ExternalID, ExistingPlayerID: existingID}
		}
	}

	if prev, ok := s.players[p.ID]; ok {
		if prev.ExternalID != "" && prev.ExternalID != p.ExternalID {
			delete(s.playerByExtID, prev.ExternalID)
		}
		if prev.CurrentLocationID != p.CurrentLocationID {
			s.removeOccupant(prev.CurrentLocationID, p.ID)
		}
	}

	if p.ExternalID != "" {
		s.playerByExtID[p.ExternalID] = p.ID
	}
	if p.CurrentLocationID != "" {
		set, ok := s.playersByLoc[p.CurrentLocationID]
		if !ok {
			set = make(map[string]struct{})
			s.playersByLoc[p.CurrentLocationID] = set
		}
		set[p.ID] = struct{}{}
	}

	s.players[p.ID] = clonePlayer(p)
	return nil
}

// GetPlayer implements storage.PlayerStore.
func (s *Store) GetPlayer(_ context.Context, id string) (*storage.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}
	p, ok := s.players[id]
	if !ok {
		return nil, &storage.ErrNotFound{Type: "player", ID: id}
	}
	return clonePlayer(p), nil
}

// GetPlayerByExternalID implements storage.PlayerStore.
func (s *Store) GetPlayerByExternalID(_ context.Context, externalID string) (*storage.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}
	id, ok := s.playerByExtID[externalID]
	if !ok {
		return nil, &storage.ErrNotFound{Type: "player", ID: externalID}
	}
	return clonePlayer(s.players[id]), nil
}

// ListPlayersByLocation implements storage.PlayerStore.
func (s *Store) ListPlayersByLocation(_ context.Context, locationID string) ([]*storage.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}
	set := s.playersByLoc[locationID]
	out := make([]*storage.Player, 0, len(set))
	for id := range set {
		if p, ok := s.players[id]; ok {
			out = append(out, clonePlayer(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListPlayers implements storage.PlayerStore.
func (s *Store) ListPlayers(_ context.Context) ([]*storage.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}
	out := make([]*storage.Player, 0, len(s.players))
	for _, p := range s.players {
		out = append(out, clonePlayer(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) removeOccupant(locationID, playerID string) {
	if locationID == "" {
		return
	}
	if set, ok := s.playersByLoc[locationID]; ok {
		delete(set, playerID)
		if len(set) == 0 {
			delete(s.playersByLoc, locationID)
		}
	}
}
