// Package badger provides a BadgerDB-based storage implementation for the
// aether world engine.
package badger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/openmud/aether/internal/storage"
)

// Containers names the key namespaces for each document family. Every name
// must be non-empty; the server fails fast on a blank container in durable
// mode.
type Containers struct {
	Locations      string
	Players        string
	Realms         string
	WorldClock     string
	LocationClocks string
	Layers         string
	Events         string
	Processed      string
	DeadLetters    string
	Debounce       string
}

// DefaultContainers returns the standard container names.
func DefaultContainers() Containers {
	return Containers{
		Locations:      "locations",
		Players:        "players",
		Realms:         "realms",
		WorldClock:     "worldclock",
		LocationClocks: "locationclocks",
		Layers:         "layers",
		Events:         "events",
		Processed:      "processed",
		DeadLetters:    "deadletters",
		Debounce:       "debounce",
	}
}

func (c Containers) validate() error {
	named := map[string]string{
		"locations":      c.Locations,
		"players":        c.Players,
		"realms":         c.Realms,
		"worldclock":     c.WorldClock,
		"locationclocks": c.LocationClocks,
		"layers":         c.Layers,
		"events":         c.Events,
		"processed":      c.Processed,
		"deadletters":    c.DeadLetters,
		"debounce":       c.Debounce,
	}
	for name, v := range named {
		if v == "" {
			return fmt.Errorf("container name %s is empty", name)
		}
	}
	return nil
}

// prefixes are the concrete key namespaces derived from container names.
// Index namespaces use a '.' separator so a data prefix scan never walks
// index entries.
type prefixes struct {
	location      string
	player        string
	playerExt     string
	playerLoc     string
	realm         string
	worldClock    string
	locationClock string
	layer         string
	event         string
	eventQueue    string
	eventIngest   string
	processed     string
	deadLetter    string
	debounce      string
}

func buildPrefixes(c Containers) prefixes {
	return prefixes{
		location:      c.Locations + ":",
		player:        c.Players + ":",
		playerExt:     c.Players + ".ext:",
		playerLoc:     c.Players + ".loc:",
		realm:         c.Realms + ":",
		worldClock:    c.WorldClock + ":",
		locationClock: c.LocationClocks + ":",
		layer:         c.Layers + ":",
		event:         c.Events + ":",
		eventQueue:    c.Events + ".q:",
		eventIngest:   c.Events + ".i:",
		processed:     c.Processed + ":",
		deadLetter:    c.DeadLetters + ":",
		debounce:      c.Debounce + ":",
	}
}

// Store implements storage.Store using BadgerDB.
type Store struct {
	db           *badger.DB
	pfx          prefixes
	historyLimit int

	mu     sync.Mutex
	closed bool
}

// Options holds configuration for the BadgerDB store.
type Options struct {
	DataDir    string
	SyncWrites bool
	Containers Containers
	// ClockHistoryLimit caps the world clock advancement history. Zero keeps
	// everything.
	ClockHistoryLimit int
	Logger            badger.Logger
}

// New creates a new BadgerDB store.
func New(opts *Options) (*Store, error) {
	if opts == nil {
		return nil, fmt.Errorf("options cannot be nil")
	}
	if opts.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	containers := opts.Containers
	if containers == (Containers{}) {
		containers = DefaultContainers()
	}
	if err := containers.validate(); err != nil {
		return nil, err
	}

	dbOpts := badger.DefaultOptions(opts.DataDir)
	dbOpts.SyncWrites = opts.SyncWrites

	// Reduce memory usage for development
	dbOpts.ValueLogFileSize = 64 << 20 // 64MB
	dbOpts.MemTableSize = 16 << 20     // 16MB

	if opts.Logger != nil {
		dbOpts.Logger = opts.Logger
	} else {
		dbOpts.Logger = nil // Disable default logging
	}

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	return &Store{
		db:           db,
		pfx:          buildPrefixes(containers),
		historyLimit: opts.ClockHistoryLimit,
	}, nil
}

// NewWithPath creates a new BadgerDB store with just a path (convenience method).
func NewWithPath(dataDir string) (*Store, error) {
	return New(&Options{DataDir: dataDir})
}

// Ping implements storage.Store.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// Close closes the BadgerDB store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Stats implements storage.Store.
func (s *Store) Stats(ctx context.Context) (*storage.StoreStats, error) {
	stats := &storage.StoreStats{LastUpdated: timeNow()}

	err := s.db.View(func(txn *badger.Txn) error {
		countOpts := badger.DefaultIteratorOptions
		countOpts.PrefetchValues = false
		it := txn.NewIterator(countOpts)
		defer it.Close()

		counts := []struct {
			prefix string
			dest   *int64
		}{
			{s.pfx.location, &stats.LocationCount},
			{s.pfx.player, &stats.PlayerCount},
			{s.pfx.realm, &stats.RealmCount},
			{s.pfx.layer, &stats.LayerCount},
			{s.pfx.event, &stats.EventCount},
			{s.pfx.eventQueue, &stats.PendingEvents},
			{s.pfx.deadLetter, &stats.DeadLetterCount},
		}
		for _, c := range counts {
			prefix := []byte(c.prefix)
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				*c.dest++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if wc, err := s.GetWorldClock(ctx); err == nil {
		stats.WorldTick = wc.CurrentTick
	}

	lsm, vlog := s.db.Size()
	stats.StorageSizeBytes = lsm + vlog
	return stats, nil
}

func timeNow() time.Time {
	return time.Now().UTC()
}

func generateETag() string {
	return uuid.New().String()
}

var _ storage.Store = (*Store)(nil)
