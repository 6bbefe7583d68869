package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/openmud/aether/internal/storage"
)

// eventKey addresses an event inside its partition.
func (s *Store) eventKey(scopeKey, id string) []byte {
	return []byte(s.pfx.event + scopeKey + "|" + id)
}

// queueKey orders pending events by ingest time. The key is deterministic
// from the record so status transitions can remove it without extra lookups.
func (s *Store) queueKey(rec *storage.WorldEventRecord) []byte {
	return []byte(fmt.Sprintf("%s%020d|%s|%s", s.pfx.eventQueue, rec.IngestedUTC.UnixNano(), rec.ScopeKey, rec.ID))
}

func (s *Store) ingestKey(rec *storage.WorldEventRecord) []byte {
	return []byte(fmt.Sprintf("%s%020d|%s|%s", s.pfx.eventIngest, rec.IngestedUTC.UnixNano(), rec.ScopeKey, rec.ID))
}

func eventRef(rec *storage.WorldEventRecord) []byte {
	return []byte(rec.ScopeKey + "|" + rec.ID)
}

func splitEventRef(ref string) (scopeKey, id string, ok bool) {
	i := strings.LastIndex(ref, "|")
	if i < 0 {
		return "", "", false
	}
	return ref[:i], ref[i+1:], true
}

// AppendEvent implements storage.EventStore. The write is a single
// transaction covering the record, the pending queue entry, the ingest-order
// index and the cross-partition idempotency index.
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

	var stored *storage.WorldEventRecord
	created := false
	err := s.db.Update(func(txn *badger.Txn) error {
		// At-least-once delivery: a replay of the same (scope, id) returns
		// the stored record untouched.
		if item, err := txn.Get(s.eventKey(rec.ScopeKey, rec.ID)); err == nil {
			var existing storage.WorldEventRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &existing)
			}); err != nil {
				return err
			}
			stored = &existing
			return nil
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		if rec.IdempotencyKey != "" {
			if item, err := txn.Get([]byte(s.pfx.processed + rec.IdempotencyKey)); err == nil {
				var ref string
				if err := item.Value(func(val []byte) error {
					ref = string(val)
					return nil
				}); err != nil {
					return err
				}
				if _, boundID, ok := splitEventRef(ref); ok && boundID != rec.ID {
					return &storage.ErrDuplicateIdempotencyKey{Key: rec.IdempotencyKey, ExistingEventID: boundID}
				}
			} else if err != badger.ErrKeyNotFound {
				return err
			}
		}

		next := *rec
		if next.Status == "" {
			next.Status = storage.EventStatusPending
		}
		if next.IngestedUTC.IsZero() {
			next.IngestedUTC = timeNow()
		}
		if next.Version == 0 {
			next.Version = 1
		}

		data, err := json.Marshal(&next)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		if err := txn.Set(s.eventKey(next.ScopeKey, next.ID), data); err != nil {
			return err
		}
		if next.Status == storage.EventStatusPending {
			if err := txn.Set(s.queueKey(&next), eventRef(&next)); err != nil {
				return err
			}
		}
		if err := txn.Set(s.ingestKey(&next), eventRef(&next)); err != nil {
			return err
		}
		if next.IdempotencyKey != "" {
			if err := txn.Set([]byte(s.pfx.processed+next.IdempotencyKey), eventRef(&next)); err != nil {
				return err
			}
		}
		stored = &next
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

// GetEvent implements storage.EventStore.
func (s *Store) GetEvent(_ context.Context, scopeKey, id string) (*storage.WorldEventRecord, error) {
	var rec storage.WorldEventRecord

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.eventKey(scopeKey, id))
		if err == badger.ErrKeyNotFound {
			return &storage.ErrNotFound{Type: "event", ID: id}
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetEventByIdempotencyKey implements storage.EventStore.
func (s *Store) GetEventByIdempotencyKey(ctx context.Context, key string) (*storage.WorldEventRecord, error) {
	var ref string

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(s.pfx.processed + key))
		if err == badger.ErrKeyNotFound {
			return &storage.ErrNotFound{Type: "event", ID: key}
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			ref = string(val)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	scopeKey, id, ok := splitEventRef(ref)
	if !ok {
		return nil, &storage.ErrNotFound{Type: "event", ID: key}
	}
	return s.GetEvent(ctx, scopeKey, id)
}

// UpdateEventStatus implements storage.EventStore. The transition is
// validated and the pending queue index is kept in step inside the same
// transaction.
func (s *Store) UpdateEventStatus(_ context.Context, scopeKey, id string, upd storage.EventStatusUpdate) (*storage.WorldEventRecord, error) {
	var updated *storage.WorldEventRecord

	err := s.db.Update(func(txn *badger.Txn) error {
		key := s.eventKey(scopeKey, id)
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return &storage.ErrNotFound{Type: "event", ID: id}
		}
		if err != nil {
			return err
		}

		var rec storage.WorldEventRecord
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return err
		}
		if !storage.ValidStatusTransition(rec.Status, upd.Status) {
			return &storage.ErrInvalidTransition{From: rec.Status, To: upd.Status}
		}

		wasPending := rec.Status == storage.EventStatusPending
		now := timeNow()
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

		data, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}

		if wasPending && rec.Status != storage.EventStatusPending {
			if err := txn.Delete(s.queueKey(&rec)); err != nil && err != badger.ErrKeyNotFound {
				return err
			}
		}
		if !wasPending && rec.Status == storage.EventStatusPending {
			if err := txn.Set(s.queueKey(&rec), eventRef(&rec)); err != nil {
				return err
			}
		}
		updated = &rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// QueryEventsByScope implements storage.EventStore. The partition is scanned
// by prefix and ordered by OccurredUTC.
func (s *Store) QueryEventsByScope(_ context.Context, scopeKey string, q storage.EventQuery) ([]*storage.WorldEventRecord, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = storage.DefaultEventQueryLimit
	}

	var out []*storage.WorldEventRecord
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(s.pfx.event + scopeKey + "|")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec storage.WorldEventRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			if q.Status != "" && rec.Status != q.Status {
				continue
			}
			if q.From != nil && rec.OccurredUTC.Before(*q.From) {
				continue
			}
			if q.To != nil && !rec.OccurredUTC.Before(*q.To) {
				continue
			}
			out = append(out, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
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

// ListPendingEvents implements storage.EventStore. The queue index is already
// ordered by ingest time, so the scan stops as soon as the limit is reached.
func (s *Store) ListPendingEvents(_ context.Context, scopePrefix string, limit int) ([]*storage.WorldEventRecord, error) {
	var out []*storage.WorldEventRecord

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(s.pfx.eventQueue)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var ref string
			if err := it.Item().Value(func(val []byte) error {
				ref = string(val)
				return nil
			}); err != nil {
				return err
			}
			scopeKey, id, ok := splitEventRef(ref)
			if !ok {
				continue
			}
			if scopePrefix != "" && !strings.HasPrefix(scopeKey, scopePrefix) {
				continue
			}

			item, err := txn.Get(s.eventKey(scopeKey, id))
			if err == badger.ErrKeyNotFound {
				continue // index orphan
			}
			if err != nil {
				return err
			}
			var rec storage.WorldEventRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			if rec.Status != storage.EventStatusPending {
				continue
			}
			out = append(out, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecentEvents implements storage.EventStore. The ingest index is walked in
// reverse so the newest records come first.
func (s *Store) RecentEvents(_ context.Context, limit int) ([]*storage.WorldEventRecord, error) {
	var out []*storage.WorldEventRecord

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(s.pfx.eventIngest)
		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var ref string
			if err := it.Item().Value(func(val []byte) error {
				ref = string(val)
				return nil
			}); err != nil {
				return err
			}
			scopeKey, id, ok := splitEventRef(ref)
			if !ok {
				continue
			}

			item, err := txn.Get(s.eventKey(scopeKey, id))
			if err == badger.ErrKeyNotFound {
				continue
			}
			if err != nil {
				return err
			}
			var rec storage.WorldEventRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			out = append(out, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PutDeadLetter implements storage.DeadLetterStore.
func (s *Store) PutDeadLetter(_ context.Context, rec *storage.DeadLetterRecord) error {
	if rec.ID == "" {
		return &storage.ErrInvalidInput{Field: "id", Message: "must not be empty"}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}
	key := []byte(fmt.Sprintf("%s%020d|%s", s.pfx.deadLetter, rec.DeadLetteredUTC.UnixNano(), rec.ID))
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// ListDeadLetters implements storage.DeadLetterStore. Newest first.
func (s *Store) ListDeadLetters(_ context.Context, from, to *time.Time, limit int) ([]*storage.DeadLetterRecord, error) {
	var out []*storage.DeadLetterRecord

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(s.pfx.deadLetter)
		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var rec storage.DeadLetterRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			if from != nil && rec.DeadLetteredUTC.Before(*from) {
				// Keys are time ordered, nothing older can match.
				break
			}
			if to != nil && !rec.DeadLetteredUTC.Before(*to) {
				continue
			}
			out = append(out, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetDebounce implements storage.DebounceStore. Expired entries vanish via
// badger's native TTL.
func (s *Store) GetDebounce(_ context.Context, scopeKey, debounceKey string) (*storage.ExitHintDebounceRecord, error) {
	var rec storage.ExitHintDebounceRecord

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(s.pfx.debounce + scopeKey + "|" + debounceKey))
		if err == badger.ErrKeyNotFound {
			return &storage.ErrNotFound{Type: "debounce", ID: debounceKey}
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// PutDebounce implements storage.DebounceStore.
func (s *Store) PutDebounce(_ context.Context, rec *storage.ExitHintDebounceRecord) error {
	if rec.DebounceKey == "" {
		return &storage.ErrInvalidInput{Field: "debounceKey", Message: "must not be empty"}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal debounce record: %w", err)
	}
	key := []byte(s.pfx.debounce + rec.ScopeKey + "|" + rec.DebounceKey)
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key, data)
		if rec.TTLSeconds > 0 {
			entry = entry.WithTTL(time.Duration(rec.TTLSeconds) * time.Second)
		}
		return txn.SetEntry(entry)
	})
}
