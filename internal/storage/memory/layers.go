package memory

import (
	"context"
	"sort"

	"github.com/openmud/aether/internal/storage"
)

// PutLayer implements storage.LayerStore.
func (s *Store) PutLayer(_ context.Context, layer *storage.DescriptionLayer) error {
	if layer.ID == "" {
		return &storage.ErrInvalidInput{Field: "id", Message: "must not be empty"}
	}
	if layer.ScopeID == "" {
		return &storage.ErrInvalidInput{Field: "scopeId", Message: "must not be empty"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	byID, ok := s.layers[layer.ScopeID]
	if !ok {
		byID = make(map[string]*storage.DescriptionLayer)
		s.layers[layer.ScopeID] = byID
	}
	byID[layer.ID] = cloneLayer(layer)
	return nil
}

// GetLayer implements storage.LayerStore.
func (s *Store) GetLayer(_ context.Context, scopeID, id string) (*storage.DescriptionLayer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}
	if layer, ok := s.layers[scopeID][id]; ok {
		return cloneLayer(layer), nil
	}
	return nil, &storage.ErrNotFound{Type: "layer", ID: scopeID + "/" + id}
}

// ListLayersByScope implements storage.LayerStore.
func (s *Store) ListLayersByScope(_ context.Context, scopeID string) ([]*storage.DescriptionLayer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}
	byID := s.layers[scopeID]
	out := make([]*storage.DescriptionLayer, 0, len(byID))
	for _, layer := range byID {
		out = append(out, cloneLayer(layer))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListLayers implements storage.LayerStore. Pages in stable (scope, id) order
// for batch jobs.
func (s *Store) ListLayers(_ context.Context, limit, offset int) ([]*storage.DescriptionLayer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}

	all := make([]*storage.DescriptionLayer, 0)
	for _, byID := range s.layers {
		for _, layer := range byID {
			all = append(all, layer)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].ScopeID != all[j].ScopeID {
			return all[i].ScopeID < all[j].ScopeID
		}
		return all[i].ID < all[j].ID
	})

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	out := make([]*storage.DescriptionLayer, len(all))
	for i, layer := range all {
		out[i] = cloneLayer(layer)
	}
	return out, nil
}

// UpdateLayerIntegrity implements storage.LayerStore.
func (s *Store) UpdateLayerIntegrity(_ context.Context, scopeID, id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	layer, ok := s.layers[scopeID][id]
	if !ok {
		return &storage.ErrNotFound{Type: "layer", ID: scopeID + "/" + id}
	}
	layer.IntegrityHash = hash
	return nil
}

// DeleteLayer implements storage.LayerStore.
func (s *Store) DeleteLayer(_ context.Context, scopeID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	byID, ok := s.layers[scopeID]
	if !ok {
		return &storage.ErrNotFound{Type: "layer", ID: scopeID + "/" + id}
	}
	if _, ok := byID[id]; !ok {
		return &storage.ErrNotFound{Type: "layer", ID: scopeID + "/" + id}
	}
	delete(byID, id)
	if len(byID) == 0 {
		delete(s.layers, scopeID)
	}
	return nil
}
