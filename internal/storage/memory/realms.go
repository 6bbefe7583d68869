package memory

import (
	"context"
	"sort"

	"github.com/openmud/aether/internal/storage"
)

// PutRealm implements storage.RealmStore.
func (s *Store) PutRealm(_ context.Context, r *storage.Realm) error {
	if r.ID == "" {
		return &storage.ErrInvalidInput{Field: "id", Message: "must not be empty"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	s.realms[r.ID] = cloneRealm(r)
	return nil
}

// GetRealm implements storage.RealmStore.
func (s *Store) GetRealm(_ context.Context, id string) (*storage.Realm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}
	r, ok := s.realms[id]
	if !ok {
		return nil, &storage.ErrNotFound{Type: "realm", ID: id}
	}
	return cloneRealm(r), nil
}

// ListRealms implements storage.RealmStore.
func (s *Store) ListRealms(_ context.Context) ([]*storage.Realm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}
	out := make([]*storage.Realm, 0, len(s.realms))
	for _, r := range s.realms {
		out = append(out, cloneRealm(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
