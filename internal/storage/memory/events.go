package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/openmud/aether/internal/storage"
)

// AppendEvent implements storage.EventStore. Re-appending the same
// (scopeKey, id) returns the stored record unchanged; an idempotency key
// already bound to a different event is rejected.
func (s *Store) AppendEvent(_ context.Context, rec *storage.WorldEventRecord) (*storage.WorldEventRecord, bool, error) {
	if rec.ID == "" {
		return nil, false, &storage.ErrInvalidInput{Field: "id", Message: "must not be empty"}
	}
	if rec.ScopeKey == "" {
		return nil, false, &storage.ErrInvalidInput{Field: "scopeKey", Message: "must not be empty"}
	}
	if rec.EventType == "" {
		return nil, false, &storage.ErrInvalidInput{Field: "eventType", Message: "must not be empty"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, errClosed
	}

	if existing, ok := s.events[rec.ScopeKey][rec.ID]; ok {
		return cloneEvent(existing), false, nil
	}

	if rec.IdempotencyKey != "" {
		if ref, ok := s.idempotency[rec.IdempotencyKey]; ok && ref.eventID != rec.ID {
			return nil, false, &storage.ErrDuplicateIdempotencyKey{
				Key:             rec.IdempotencyKey,
				ExistingEventID: ref.eventID,
			}
		}
	}

	stored := cloneEvent(rec)
	if stored.Status == "" {
		stored.Status = storage.EventStatusPending
	}
	if stored.IngestedUTC.IsZero() {
		stored.IngestedUTC = s.now().UTC()
	}
	if stored.Version == 0 {
		stored.Version = 1
	}

	byID, ok := s.events[stored.ScopeKey]
	if !ok {
		byID = make(map[string]*storage.WorldEventRecord)
		s.events[stored.ScopeKey] = byID
	}
	byID[stored.ID] = stored
	if stored.IdempotencyKey != "" {
		s.idempotency[stored.IdempotencyKey] = idemRef{scopeKey: stored.ScopeKey, eventID: stored.ID}
	}
	return cloneEvent(stored), true, nil
}

// GetEvent implements storage.EventStore.
func (s *Store) GetEvent(_ context.Context, scopeKey, id string) (*storage.WorldEventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}
	if rec, ok := s.events[scopeKey][id]; ok {
		return cloneEvent(rec), nil
	}
	return nil, &storage.ErrNotFound{Type: "event", ID: id}
}

// GetEventByIdempotencyKey implements storage.EventStore.
func (s *Store) GetEventByIdempotencyKey(_ context.Context, key string) (*storage.WorldEventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}
	ref, ok := s.idempotency[key]
	if !ok {
		return nil, &storage.ErrNotFound{Type: "event", ID: key}
	}
	return cloneEvent(s.events[ref.scopeKey][ref.eventID]), nil
}

// UpdateEventStatus implements storage.EventStore. Transitions outside the
// status machine are rejected; the store keeps attempt bookkeeping.
func (s *Store) UpdateEventStatus(_ context.Context, scopeKey, id string, upd storage.EventStatusUpdate) (*storage.WorldEventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed
	}
	rec, ok := s.events[scopeKey][id]
	if !ok {
		return nil, &storage.ErrNotFound{Type: "event", ID: id}
	}
	if !storage.ValidStatusTransition(rec.Status, upd.Status) {
		return nil, &storage.ErrInvalidTransition{From: rec.Status, To: upd.Status}
	}

	now := s.now().UTC()
	switch upd.Status {
	case storage.EventStatusProcessed:
		rec.ProcessedUTC = &now
	case storage.EventStatusFailed:
		if rec.Processing == nil {
			rec.Processing = &storage.EventProcessingMetadata{}
		}
		rec.Processing.Attempts++
		rec.Processing.LastError = upd.LastError
		rec.Processing.LastAttemptUTC = now
	}
	rec.Status = upd.Status
	rec.Version++
	return cloneEvent(rec), nil
}

// QueryEventsByScope implements storage.EventStore. Results come back in
// OccurredUTC order, oldest first.
func (s *Store) QueryEventsByScope(_ context.Context, scopeKey string, q storage.EventQuery) ([]*storage.WorldEventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}

	limit := q.Limit
	if limit <= 0 {
		limit = storage.DefaultEventQueryLimit
	}

	var out []*storage.WorldEventRecord
	for _, rec := range s.events[scopeKey] {
		if q.Status != "" && rec.Status != q.Status {
			continue
		}
		if q.From != nil && rec.OccurredUTC.Before(*q.From) {
			continue
		}
		if q.To != nil && !rec.OccurredUTC.Before(*q.To) {
			continue
		}
		out = append(out, cloneEvent(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OccurredUTC.Equal(out[j].OccurredUTC) {
			return out[i].OccurredUTC.Before(out[j].OccurredUTC)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListPendingEvents implements storage.EventStore. Oldest ingested first.
func (s *Store) ListPendingEvents(_ context.Context, scopePrefix string, limit int) ([]*storage.WorldEventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}

	var out []*storage.WorldEventRecord
	for scopeKey, byID := range s.events {
		if scopePrefix != "" && !strings.HasPrefix(scopeKey, scopePrefix) {
			continue
		}
		for _, rec := range byID {
			if rec.Status == storage.EventStatusPending {
				out = append(out, cloneEvent(rec))
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IngestedUTC.Equal(out[j].IngestedUTC) {
			return out[i].IngestedUTC.Before(out[j].IngestedUTC)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RecentEvents implements storage.EventStore. Newest ingested first.
func (s *Store) RecentEvents(_ context.Context, limit int) ([]*storage.WorldEventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}

	var out []*storage.WorldEventRecord
	for _, byID := range s.events {
		for _, rec := range byID {
			out = append(out, cloneEvent(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IngestedUTC.Equal(out[j].IngestedUTC) {
			return out[i].IngestedUTC.After(out[j].IngestedUTC)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PutDeadLetter implements storage.DeadLetterStore.
func (s *Store) PutDeadLetter(_ context.Context, rec *storage.DeadLetterRecord) error {
	if rec.ID == "" {
		return &storage.ErrInvalidInput{Field: "id", Message: "must not be empty"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	s.deadLetters = append(s.deadLetters, cloneDeadLetter(rec))
	return nil
}

// ListDeadLetters implements storage.DeadLetterStore. Newest first.
func (s *Store) ListDeadLetters(_ context.Context, from, to *time.Time, limit int) ([]*storage.DeadLetterRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}

	var out []*storage.DeadLetterRecord
	for _, rec := range s.deadLetters {
		if from != nil && rec.DeadLetteredUTC.Before(*from) {
			continue
		}
		if to != nil && !rec.DeadLetteredUTC.Before(*to) {
			continue
		}
		out = append(out, cloneDeadLetter(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeadLetteredUTC.After(out[j].DeadLetteredUTC) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
