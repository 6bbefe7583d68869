package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/openmud/aether/internal/storage"
)

// PutLocation implements storage.LocationStore.
func (s *Store) PutLocation(_ context.Context, loc *storage.Location) error {
	if loc.ID == "" {
		return &storage.ErrInvalidInput{Field: "id", Message: "must not be empty"}
	}

	data, err := json.Marshal(loc)
	if err != nil {
		return fmt.Errorf("failed to marshal location: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(s.pfx.location+loc.ID), data)
	})
}

// GetLocation implements storage.LocationStore.
func (s *Store) GetLocation(_ context.Context, id string) (*storage.Location, error) {
	var loc storage.Location

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(s.pfx.location + id))
		if err == badger.ErrKeyNotFound {
			return &storage.ErrNotFound{Type: "location", ID: id}
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &loc)
		})
	})
	if err != nil {
		return nil, err
	}
	return &loc, nil
}

// ListLocations implements storage.LocationStore.
func (s *Store) ListLocations(_ context.Context) ([]*storage.Location, error) {
	var out []*storage.Location

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(s.pfx.location)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var loc storage.Location
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &loc)
			}); err != nil {
				return err
			}
			out = append(out, &loc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeleteLocation implements storage.LocationStore.
func (s *Store) DeleteLocation(_ context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		key := []byte(s.pfx.location + id)
		if _, err := txn.Get(key); err == badger.ErrKeyNotFound {
			return &storage.ErrNotFound{Type: "location", ID: id}
		} else if err != nil {
			return err
		}
		return txn.Delete(key)
	})
}
