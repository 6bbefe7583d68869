package badger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/openmud/aether/internal/storage"
)

func (s *Store) layerKey(scopeID, id string) []byte {
	return []byte(s.pfx.layer + scopeID + "|" + id)
}

// PutLayer implements storage.LayerStore.
func (s *Store) PutLayer(_ context.Context, layer *storage.DescriptionLayer) error {
	if layer.ID == "" {
		return &storage.ErrInvalidInput{Field: "id", Message: "must not be empty"}
	}
	if layer.ScopeID == "" {
		return &storage.ErrInvalidInput{Field: "scopeId", Message: "must not be empty"}
	}

	data, err := json.Marshal(layer)
	if err != nil {
		return fmt.Errorf("failed to marshal layer: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.layerKey(layer.ScopeID, layer.ID), data)
	})
}

// GetLayer implements storage.LayerStore.
func (s *Store) GetLayer(_ context.Context, scopeID, id string) (*storage.DescriptionLayer, error) {
	var layer storage.DescriptionLayer

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.layerKey(scopeID, id))
		if err == badger.ErrKeyNotFound {
			return &storage.ErrNotFound{Type: "layer", ID: scopeID + "/" + id}
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &layer)
		})
	})
	if err != nil {
		return nil, err
	}
	return &layer, nil
}

// ListLayersByScope implements storage.LayerStore.
func (s *Store) ListLayersByScope(_ context.Context, scopeID string) ([]*storage.DescriptionLayer, error) {
	var out []*storage.DescriptionLayer

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(s.pfx.layer + scopeID + "|")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var layer storage.DescriptionLayer
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &layer)
			}); err != nil {
				return err
			}
			out = append(out, &layer)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListLayers implements storage.LayerStore. Badger iterates in key order, so
// pages are stable across calls as long as no layer is written in between;
// the integrity job tolerates the skew either way.
func (s *Store) ListLayers(_ context.Context, limit, offset int) ([]*storage.DescriptionLayer, error) {
	var out []*storage.DescriptionLayer

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(s.pfx.layer)
		skipped := 0
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if skipped < offset {
				skipped++
				continue
			}
			if limit > 0 && len(out) >= limit {
				break
			}
			var layer storage.DescriptionLayer
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &layer)
			}); err != nil {
				return err
			}
			out = append(out, &layer)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateLayerIntegrity implements storage.LayerStore.
func (s *Store) UpdateLayerIntegrity(_ context.Context, scopeID, id, hash string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		key := s.layerKey(scopeID, id)
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return &storage.ErrNotFound{Type: "layer", ID: scopeID + "/" + id}
		}
		if err != nil {
			return err
		}

		var layer storage.DescriptionLayer
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &layer)
		}); err != nil {
			return err
		}
		layer.IntegrityHash = hash

		data, err := json.Marshal(&layer)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
}

// DeleteLayer implements storage.LayerStore.
func (s *Store) DeleteLayer(_ context.Context, scopeID, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		key := s.layerKey(scopeID, id)
		if _, err := txn.Get(key); err == badger.ErrKeyNotFound {
			return &storage.ErrNotFound{Type: "layer", ID: scopeID + "/" + id}
		} else if err != nil {
			return err
		}
		return txn.Delete(key)
	})
}
