// Package snapshot streams the whole world state as lz4-compressed JSON for
// operator backup and transfer. Import is additive: it never deletes records
// and never moves a clock backwards.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pierrec/lz4/v4"
	"go.uber.org/zap"

	"github.com/openmud/aether/internal/storage"
	"github.com/openmud/aether/internal/telemetry"
)

// FormatVersion guards archive compatibility.
const FormatVersion = 1

// Store is the slice of the persistence surface a snapshot touches.
type Store interface {
	storage.LocationStore
	storage.PlayerStore
	storage.RealmStore
	storage.LayerStore
	storage.WorldClockStore
	storage.LocationClockStore
}

// Archive is the on-the-wire shape, JSON inside an lz4 frame.
type Archive struct {
	Version        int                         `json:"version"`
	ExportedAt     time.Time                   `json:"exportedAt"`
	WorldClock     *storage.WorldClock         `json:"worldClock,omitempty"`
	LocationClocks []*storage.LocationClock    `json:"locationClocks,omitempty"`
	Realms         []*storage.Realm            `json:"realms,omitempty"`
	Locations      []*storage.Location         `json:"locations,omitempty"`
	Layers         []*storage.DescriptionLayer `json:"layers,omitempty"`
	Players        []*storage.Player           `json:"players,omitempty"`
}

// ImportReport counts what an import wrote.
type ImportReport struct {
	Realms         int  `json:"realms"`
	Locations      int  `json:"locations"`
	Layers         int  `json:"layers"`
	Players        int  `json:"players"`
	LocationClocks int  `json:"locationClocks"`
	ClockApplied   bool `json:"clockApplied"`
}

// Service exports and imports world archives.
type Service struct {
	store   Store
	emitter *telemetry.Emitter
	logger  *zap.Logger
	now     func() time.Time
}

// NewService wires a snapshot service.
func NewService(store Store, emitter *telemetry.Emitter, logger *zap.Logger) *Service {
	return &Service{
		store:   store,
		emitter: emitter,
		logger:  logger.Named("snapshot"),
		now:     time.Now,
	}
}

// Export writes the full world as an lz4 frame to w.
func (s *Service) Export(ctx context.Context, w io.Writer) error {
	arc := &Archive{Version: FormatVersion, ExportedAt: s.now().UTC()}

	var err error
	if arc.WorldClock, err = s.store.GetWorldClock(ctx); err != nil {
		var notFound *storage.ErrNotFound
		if !errors.As(err, &notFound) {
			return fmt.Errorf("reading world clock: %w", err)
		}
	}
	if arc.LocationClocks, err = s.store.ListLocationClocks(ctx); err != nil {
		return fmt.Errorf("listing location clocks: %w", err)
	}
	if arc.Realms, err = s.store.ListRealms(ctx); err != nil {
		return fmt.Errorf("listing realms: %w", err)
	}
	if arc.Locations, err = s.store.ListLocations(ctx); err != nil {
		return fmt.Errorf("listing locations: %w", err)
	}
	if arc.Layers, err = s.store.ListLayers(ctx, 0, 0); err != nil {
		return fmt.Errorf("listing layers: %w", err)
	}
	if arc.Players, err = s.store.ListPlayers(ctx); err != nil {
		return fmt.Errorf("listing players: %w", err)
	}

	zw := lz4.NewWriter(w)
	if err := json.NewEncoder(zw).Encode(arc); err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("flushing snapshot stream: %w", err)
	}

	s.emitter.Emit(ctx, telemetry.EventWorldSnapshotExported, map[string]interface{}{
		"locations": len(arc.Locations),
		"realms":    len(arc.Realms),
		"layers":    len(arc.Layers),
		"players":   len(arc.Players),
	})
	s.logger.Info("snapshot exported",
		zap.Int("locations", len(arc.Locations)),
		zap.Int("layers", len(arc.Layers)),
		zap.Int("players", len(arc.Players)))
	return nil
}

// Import reads an lz4 archive from r and writes its contents into the store.
// Existing records with matching ids are overwritten; clocks only ever move
// forward.
func (s *Service) Import(ctx context.Context, r io.Reader) (*ImportReport, error) {
	var arc Archive
	if err := json.NewDecoder(lz4.NewReader(r)).Decode(&arc); err != nil {
		return nil, &storage.ErrInvalidInput{Field: "snapshot", Message: "not a valid archive: " + err.Error()}
	}
	if arc.Version != FormatVersion {
		return nil, &storage.ErrInvalidInput{Field: "version", Message: fmt.Sprintf("unsupported archive version %d", arc.Version)}
	}

	report := &ImportReport{}

	for _, realm := range arc.Realms {
		if err := s.store.PutRealm(ctx, realm); err != nil {
			return report, fmt.Errorf("importing realm %s: %w", realm.ID, err)
		}
		report.Realms++
	}
	for _, loc := range arc.Locations {
		if err := s.store.PutLocation(ctx, loc); err != nil {
			return report, fmt.Errorf("importing location %s: %w", loc.ID, err)
		}
		report.Locations++
	}
	for _, layer := range arc.Layers {
		if err := s.store.PutLayer(ctx, layer); err != nil {
			return report, fmt.Errorf("importing layer %s: %w", layer.ID, err)
		}
		report.Layers++
	}
	for _, p := range arc.Players {
		if err := s.store.PutPlayer(ctx, p); err != nil {
			return report, fmt.Errorf("importing player %s: %w", p.ID, err)
		}
		report.Players++
	}

	if arc.WorldClock != nil {
		applied, err := s.importWorldClock(ctx, arc.WorldClock)
		if err != nil {
			return report, err
		}
		report.ClockApplied = applied
	}
	for _, lc := range arc.LocationClocks {
		if err := s.importLocationClock(ctx, lc); err != nil {
			return report, err
		}
		report.LocationClocks++
	}

	s.emitter.Emit(ctx, telemetry.EventWorldSnapshotImported, map[string]interface{}{
		"locations":    report.Locations,
		"realms":       report.Realms,
		"layers":       report.Layers,
		"players":      report.Players,
		"clockApplied": report.ClockApplied,
	})
	s.logger.Info("snapshot imported",
		zap.Int("locations", report.Locations),
		zap.Int("layers", report.Layers),
		zap.Bool("clockApplied", report.ClockApplied))
	return report, nil
}

// importWorldClock raises the live clock to the archived tick. An equal or
// newer live clock is left alone.
func (s *Service) importWorldClock(ctx context.Context, snap *storage.WorldClock) (bool, error) {
	existing, err := s.store.GetWorldClock(ctx)
	if err != nil {
		var notFound *storage.ErrNotFound
		if !errors.As(err, &notFound) {
			return false, fmt.Errorf("reading world clock: %w", err)
		}
	}

	if existing == nil {
		if _, err := s.store.InitializeWorldClock(ctx, snap.CurrentTick); err != nil {
			return false, fmt.Errorf("initializing world clock: %w", err)
		}
		return true, nil
	}
	if existing.CurrentTick >= snap.CurrentTick {
		s.logger.Warn("live clock ahead of snapshot, leaving it alone",
			zap.Int64("liveTick", existing.CurrentTick),
			zap.Int64("snapshotTick", snap.CurrentTick))
		return false, nil
	}

	_, err = s.store.AdvanceWorldClock(ctx, storage.WorldClockAdvance{
		DurationMs:   snap.CurrentTick - existing.CurrentTick,
		Reason:       "snapshot-import",
		ExpectedETag: existing.ETag,
	})
	if err != nil {
		return false, fmt.Errorf("advancing world clock to snapshot tick: %w", err)
	}
	return true, nil
}

// importLocationClock creates missing anchors and raises existing ones; it
// never lowers an anchor.
func (s *Service) importLocationClock(ctx context.Context, snap *storage.LocationClock) error {
	lc := &storage.LocationClock{
		LocationID:  snap.LocationID,
		ClockAnchor: snap.ClockAnchor,
		LastSynced:  snap.LastSynced,
	}
	_, err := s.store.UpsertLocationClock(ctx, lc, "")
	if err == nil {
		return nil
	}
	var exists *storage.ErrAlreadyExists
	if !errors.As(err, &exists) {
		return fmt.Errorf("importing location clock %s: %w", snap.LocationID, err)
	}

	existing, err := s.store.GetLocationClock(ctx, snap.LocationID)
	if err != nil {
		return fmt.Errorf("re-reading location clock %s: %w", snap.LocationID, err)
	}
	if existing.ClockAnchor >= snap.ClockAnchor {
		return nil
	}
	if _, err := s.store.UpsertLocationClock(ctx, lc, existing.ETag); err != nil {
		return fmt.Errorf("raising location clock %s: %w", snap.LocationID, err)
	}
	return nil
}
