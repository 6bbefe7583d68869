package memory

import (
	"context"
	"time"

	"github.com/openmud/aether/internal/storage"
)

func debounceMapKey(scopeKey, debounceKey string) string {
	return scopeKey + "|" + debounceKey
}

// GetDebounce implements storage.DebounceStore. Expiry is lazy: a record
// older than its TTL is dropped at read time and reported as absent.
func (s *Store) GetDebounce(_ context.Context, scopeKey, debounceKey string) (*storage.ExitHintDebounceRecord, error) {
	key := debounceMapKey(scopeKey, debounceKey)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed
	}
	rec, ok := s.debounce[key]
	if !ok {
		return nil, &storage.ErrNotFound{Type: "debounce", ID: debounceKey}
	}
	if rec.TTLSeconds > 0 {
		expiry := rec.LastEmitUTC.Add(time.Duration(rec.TTLSeconds) * time.Second)
		if s.now().UTC().After(expiry) {
			delete(s.debounce, key)
			return nil, &storage.ErrNotFound{Type: "debounce", ID: debounceKey}
		}
	}
	return cloneDebounce(rec), nil
}

// PutDebounce implements storage.DebounceStore.
func (s *Store) PutDebounce(_ context.Context, rec *storage.ExitHintDebounceRecord) error {
	if rec.DebounceKey == "" {
		return &storage.ErrInvalidInput{Field: "debounceKey", Message: "must not be empty"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	s.debounce[debounceMapKey(rec.ScopeKey, rec.DebounceKey)] = cloneDebounce(rec)
	return nil
}
