// Package memory provides an in-process storage implementation. It backs the
// default persistence mode and the test suites; durable deployments use the
// badger implementation instead.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/openmud/aether/internal/storage"
)

var errClosed = errors.New("store is closed")

type idemRef struct {
	scopeKey string
	eventID  string
}

// Store implements storage.Store with plain maps guarded by one RWMutex.
// Values are deep-copied on the way in and out so callers can never alias
// stored state.
type Store struct {
	mu sync.RWMutex

	locations      map[string]*storage.Location
	players        map[string]*storage.Player
	playerByExtID  map[string]string
	playersByLoc   map[string]map[string]struct{}
	realms         map[string]*storage.Realm
	worldClock     *storage.WorldClock
	locationClocks map[string]*storage.LocationClock
	layers         map[string]map[string]*storage.DescriptionLayer
	events         map[string]map[string]*storage.WorldEventRecord
	idempotency    map[string]idemRef
	deadLetters    []*storage.DeadLetterRecord
	debounce       map[string]*storage.ExitHintDebounceRecord

	historyLimit int
	closed       bool
	now          func() time.Time
}

// Options tunes the in-memory store.
type Options struct {
	// ClockHistoryLimit caps the world clock advancement history. Zero keeps
	// everything.
	ClockHistoryLimit int
}

// New creates an empty in-memory store.
func New(opts Options) *Store {
	return &Store{
		locations:      make(map[string]*storage.Location),
		players:        make(map[string]*storage.Player),
		playerByExtID:  make(map[string]string),
		playersByLoc:   make(map[string]map[string]struct{}),
		realms:         make(map[string]*storage.Realm),
		locationClocks: make(map[string]*storage.LocationClock),
		layers:         make(map[string]map[string]*storage.DescriptionLayer),
		events:         make(map[string]map[string]*storage.WorldEventRecord),
		idempotency:    make(map[string]idemRef),
		debounce:       make(map[string]*storage.ExitHintDebounceRecord),
		historyLimit:   opts.ClockHistoryLimit,
		now:            time.Now,
	}
}

// Ping implements storage.Store.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed
	}
	return nil
}

// Close implements storage.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Stats implements storage.Store.
func (s *Store) Stats(_ context.Context) (*storage.StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}

	stats := &storage.StoreStats{
		LocationCount:   int64(len(s.locations)),
		PlayerCount:     int64(len(s.players)),
		RealmCount:      int64(len(s.realms)),
		DeadLetterCount: int64(len(s.deadLetters)),
		LastUpdated:     s.now().UTC(),
	}
	for _, byID := range s.layers {
		stats.LayerCount += int64(len(byID))
	}
	for _, byID := range s.events {
		stats.EventCount += int64(len(byID))
		for _, rec := range byID {
			if rec.Status == storage.EventStatusPending {
				stats.PendingEvents++
			}
		}
	}
	if s.worldClock != nil {
		stats.WorldTick = s.worldClock.CurrentTick
	}
	return stats, nil
}

var _ storage.Store = (*Store)(nil)
