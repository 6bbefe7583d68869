package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/openmud/aether/internal/storage"
)

// PutPlayer implements storage.PlayerStore. The write keeps two secondary
// indexes in step: external id -> player id and location id -> player id.
func (s *Store) PutPlayer(_ context.Context, p *storage.Player) error {
	if p.ID == "" {
		return &storage.ErrInvalidInput{Field: "id", Message: "must not be empty"}
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal player: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		// Uniqueness check for the external id before anything is written.
		if p.ExternalID != "" {
			item, err := txn.Get([]byte(s.pfx.playerExt + p.ExternalID))
			if err == nil {
				var boundID string
				if err := item.Value(func(val []byte) error {
					boundID = string(val)
					return nil
				}); err != nil {
					return err
				}
				if boundID != p.ID {
					return &storage.ErrExternalIDConflict{ExternalID: p.ExternalID, ExistingPlayerID: boundID}
				}
			} else if err != badger.ErrKeyNotFound {
				return err
			}
		}

		// Drop stale index entries from the previous revision.
		if item, err := txn.Get([]byte(s.pfx.player + p.ID)); err == nil {
			var prev storage.Player
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &prev)
			}); err != nil {
				return err
			}
			if prev.ExternalID != "" && prev.ExternalID != p.ExternalID {
				if err := txn.Delete([]byte(s.pfx.playerExt + prev.ExternalID)); err != nil && err != badger.ErrKeyNotFound {
					return err
				}
			}
			if prev.CurrentLocationID != "" && prev.CurrentLocationID != p.CurrentLocationID {
				if err := txn.Delete([]byte(s.pfx.playerLoc + prev.CurrentLocationID + "|" + p.ID)); err != nil && err != badger.ErrKeyNotFound {
					return err
				}
			}
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		if err := txn.Set([]byte(s.pfx.player+p.ID), data); err != nil {
			return err
		}
		if p.ExternalID != "" {
			if err := txn.Set([]byte(s.pfx.playerExt+p.ExternalID), []byte(p.ID)); err != nil {
				return err
			}
		}
		if p.CurrentLocationID != "" {
			if err := txn.Set([]byte(s.pfx.playerLoc+p.CurrentLocationID+"|"+p.ID), []byte(p.ID)); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetPlayer implements storage.PlayerStore.
func (s *Store) GetPlayer(_ context.Context, id string) (*storage.Player, error) {
	var p storage.Player

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(s.pfx.player + id))
		if err == badger.ErrKeyNotFound {
			return &storage.ErrNotFound{Type: "player", ID: id}
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &p)
		})
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPlayerByExternalID implements storage.PlayerStore.
func (s *Store) GetPlayerByExternalID(ctx context.Context, externalID string) (*storage.Player, error) {
	var playerID string

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(s.pfx.playerExt + externalID))
		if err == badger.ErrKeyNotFound {
			return &storage.ErrNotFound{Type: "player", ID: externalID}
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			playerID = string(val)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return s.GetPlayer(ctx, playerID)
}

// ListPlayers implements storage.PlayerStore.
func (s *Store) ListPlayers(_ context.Context) ([]*storage.Player, error) {
	var out []*storage.Player

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(s.pfx.player)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var p storage.Player
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &p)
			}); err != nil {
				return err
			}
			out = append(out, &p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListPlayersByLocation implements storage.PlayerStore.
func (s *Store) ListPlayersByLocation(_ context.Context, locationID string) ([]*storage.Player, error) {
	var out []*storage.Player

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(s.pfx.playerLoc + locationID + "|")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var playerID string
			if err := it.Item().Value(func(val []byte) error {
				playerID = string(val)
				return nil
			}); err != nil {
				return err
			}

			item, err := txn.Get([]byte(s.pfx.player + playerID))
			if err == badger.ErrKeyNotFound {
				continue // index orphan
			}
			if err != nil {
				return err
			}
			var p storage.Player
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &p)
			}); err != nil {
				return err
			}
			out = append(out, &p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
