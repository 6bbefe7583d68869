package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/openmud/aether/internal/storage"
)

// PutRealm implements storage.RealmStore.
func (s *Store) PutRealm(_ context.Context, r *storage.Realm) error {
	if r.ID == "" {
		return &storage.ErrInvalidInput{Field: "id", Message: "must not be empty"}
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal realm: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(s.pfx.realm+r.ID), data)
	})
}

// GetRealm implements storage.RealmStore.
func (s *Store) GetRealm(_ context.Context, id string) (*storage.Realm, error) {
	var r storage.Realm

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(s.pfx.realm + id))
		if err == badger.ErrKeyNotFound {
			return &storage.ErrNotFound{Type: "realm", ID: id}
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &r)
		})
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRealms implements storage.RealmStore.
func (s *Store) ListRealms(_ context.Context) ([]*storage.Realm, error) {
	var out []*storage.Realm

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(s.pfx.realm)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var r storage.Realm
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				return err
			}
			out = append(out, &r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
