package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/openmud/aether/internal/storage"
)

const worldClockKey = "singleton"

// GetWorldClock implements storage.WorldClockStore.
func (s *Store) GetWorldClock(_ context.Context) (*storage.WorldClock, error) {
	var wc storage.WorldClock

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(s.pfx.worldClock + worldClockKey))
		if err == badger.ErrKeyNotFound {
			return &storage.ErrNotFound{Type: "worldclock", ID: worldClockKey}
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &wc)
		})
	})
	if err != nil {
		return nil, err
	}
	return &wc, nil
}

// InitializeWorldClock implements storage.WorldClockStore.
func (s *Store) InitializeWorldClock(_ context.Context, initialTick int64) (*storage.WorldClock, error) {
	wc := &storage.WorldClock{
		CurrentTick:  initialTick,
		LastAdvanced: timeNow(),
		ETag:         generateETag(),
	}
	data, err := json.Marshal(wc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal world clock: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		key := []byte(s.pfx.worldClock + worldClockKey)
		if _, err := txn.Get(key); err == nil {
			return &storage.ErrAlreadyExists{Type: "worldclock", ID: worldClockKey}
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return nil, err
	}
	return wc, nil
}

// AdvanceWorldClock implements storage.WorldClockStore. The compare-and-swap
// runs inside one badger transaction: the stored etag is read, compared to the
// expected one and the advanced document written only on match.
func (s *Store) AdvanceWorldClock(_ context.Context, adv storage.WorldClockAdvance) (*storage.WorldClock, error) {
	if adv.DurationMs <= 0 {
		return nil, &storage.ErrInvalidInput{Field: "durationMs", Message: "must be positive"}
	}

	var advanced *storage.WorldClock
	err := s.db.Update(func(txn *badger.Txn) error {
		key := []byte(s.pfx.worldClock + worldClockKey)
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return &storage.ErrNotFound{Type: "worldclock", ID: worldClockKey}
		}
		if err != nil {
			return err
		}

		var wc storage.WorldClock
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &wc)
		}); err != nil {
			return err
		}
		if wc.ETag != adv.ExpectedETag {
			return &storage.ErrConcurrentAdvancement{
				Type:     "worldclock",
				Expected: adv.ExpectedETag,
				Actual:   wc.ETag,
			}
		}

		now := timeNow()
		wc.CurrentTick += adv.DurationMs
		wc.LastAdvanced = now
		wc.History = append(wc.History, storage.ClockAdvancement{
			Timestamp:  now,
			DurationMs: adv.DurationMs,
			Reason:     adv.Reason,
			TickAfter:  wc.CurrentTick,
		})
		if s.historyLimit > 0 && len(wc.History) > s.historyLimit {
			wc.History = append([]storage.ClockAdvancement(nil), wc.History[len(wc.History)-s.historyLimit:]...)
		}
		wc.ETag = generateETag()

		data, err := json.Marshal(&wc)
		if err != nil {
			return err
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		advanced = &wc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return advanced, nil
}

// GetLocationClock implements storage.LocationClockStore.
func (s *Store) GetLocationClock(_ context.Context, locationID string) (*storage.LocationClock, error) {
	var lc storage.LocationClock

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(s.pfx.locationClock + locationID))
		if err == badger.ErrKeyNotFound {
			return &storage.ErrNotFound{Type: "locationclock", ID: locationID}
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &lc)
		})
	})
	if err != nil {
		return nil, err
	}
	return &lc, nil
}

// UpsertLocationClock implements storage.LocationClockStore. An empty expected
// etag creates, a non-empty one updates under CAS.
func (s *Store) UpsertLocationClock(_ context.Context, lc *storage.LocationClock, expectedETag string) (*storage.LocationClock, error) {
	if lc.LocationID == "" {
		return nil, &storage.ErrInvalidInput{Field: "locationId", Message: "must not be empty"}
	}

	var stored *storage.LocationClock
	err := s.db.Update(func(txn *badger.Txn) error {
		key := []byte(s.pfx.locationClock + lc.LocationID)
		item, err := txn.Get(key)
		if expectedETag == "" {
			if err == nil {
				return &storage.ErrAlreadyExists{Type: "locationclock", ID: lc.LocationID}
			}
			if err != badger.ErrKeyNotFound {
				return err
			}
		} else {
			if err == badger.ErrKeyNotFound {
				return &storage.ErrNotFound{Type: "locationclock", ID: lc.LocationID}
			}
			if err != nil {
				return err
			}
			var existing storage.LocationClock
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &existing)
			}); err != nil {
				return err
			}
			if existing.ETag != expectedETag {
				return &storage.ErrConcurrentAdvancement{
					Type:     "locationclock",
					Expected: expectedETag,
					Actual:   existing.ETag,
				}
			}
		}

		next := *lc
		next.ETag = generateETag()
		data, err := json.Marshal(&next)
		if err != nil {
			return err
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		stored = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// ListLocationClocks implements storage.LocationClockStore.
func (s *Store) ListLocationClocks(_ context.Context) ([]*storage.LocationClock, error) {
	var out []*storage.LocationClock

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(s.pfx.locationClock)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var lc storage.LocationClock
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &lc)
			}); err != nil {
				return err
			}
			out = append(out, &lc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocationID < out[j].LocationID })
	return out, nil
}
