package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openmud/aether/internal/storage"
	"github.com/openmud/aether/internal/storage/memory"
	"github.com/openmud/aether/internal/telemetry"
)

func setupSnapshot(t *testing.T) (*Service, *memory.Store, *telemetry.MemorySink) {
	t.Helper()
	store := memory.New(memory.Options{})
	t.Cleanup(func() { store.Close() })
	sink := telemetry.NewMemorySink()
	emitter := telemetry.NewEmitter(sink, "aether", "memory")
	return NewService(store, emitter, zap.NewNop()), store, sink
}

func seedWorld(t *testing.T, store *memory.Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.PutRealm(ctx, &storage.Realm{ID: "vale", Name: "The Vale", Tier: storage.TierRegional}))
	require.NoError(t, store.PutLocation(ctx, &storage.Location{
		ID:          "loc-1",
		Name:        "Mill Bridge",
		Description: "Water churns under the old mill wheel.",
		RealmID:     "vale",
		Exits:       []storage.Exit{{Direction: "north", ToLocationID: "loc-2"}},
	}))
	require.NoError(t, store.PutLocation(ctx, &storage.Location{
		ID: "loc-2", Name: "Mill Yard", Description: "Sacks of grain lean against the wall.", RealmID: "vale",
	}))
	require.NoError(t, store.PutLayer(ctx, &storage.DescriptionLayer{
		ID: "layer-1", ScopeID: storage.ScopeLocation("loc-1"),
		LayerType: storage.LayerAmbient, Value: "The wheel creaks in its bearings.",
	}))
	require.NoError(t, store.PutPlayer(ctx, &storage.Player{
		ID: "p-1", CurrentLocationID: "loc-1", Guest: true,
		CreatedUTC: time.Now().UTC(), UpdatedUTC: time.Now().UTC(),
	}))

	_, err := store.InitializeWorldClock(ctx, 0)
	require.NoError(t, err)
	wc, err := store.GetWorldClock(ctx)
	require.NoError(t, err)
	_, err = store.AdvanceWorldClock(ctx, storage.WorldClockAdvance{
		DurationMs: 5000, Reason: "manual", ExpectedETag: wc.ETag,
	})
	require.NoError(t, err)

	_, err = store.UpsertLocationClock(ctx, &storage.LocationClock{
		LocationID: "loc-1", ClockAnchor: 3000, LastSynced: time.Now().UTC(),
	}, "")
	require.NoError(t, err)
}

func TestSnapshot_RoundTrip(t *testing.T) {
	svc, store, sink := setupSnapshot(t)
	seedWorld(t, store)
	ctx := context.Background()

	var buf bytes.Buffer
	require.NoError(t, svc.Export(ctx, &buf))
	require.NotZero(t, buf.Len())
	require.Len(t, sink.ByName(telemetry.EventWorldSnapshotExported), 1)

	// The stream opens with the lz4 frame magic, not plain JSON.
	require.Greater(t, buf.Len(), 4)
	assert.Equal(t, []byte{0x04, 0x22, 0x4d, 0x18}, buf.Bytes()[:4])

	// Import into a fresh store.
	target := memory.New(memory.Options{})
	t.Cleanup(func() { target.Close() })
	targetSvc := NewService(target, telemetry.NewEmitter(sink, "aether", "memory"), zap.NewNop())

	report, err := targetSvc.Import(ctx, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Locations)
	assert.Equal(t, 1, report.Realms)
	assert.Equal(t, 1, report.Layers)
	assert.Equal(t, 1, report.Players)
	assert.Equal(t, 1, report.LocationClocks)
	assert.True(t, report.ClockApplied)

	loc, err := target.GetLocation(ctx, "loc-1")
	require.NoError(t, err)
	assert.Equal(t, "Mill Bridge", loc.Name)
	require.Len(t, loc.Exits, 1)

	wc, err := target.GetWorldClock(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), wc.CurrentTick)

	lc, err := target.GetLocationClock(ctx, "loc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3000), lc.ClockAnchor)

	require.Len(t, sink.ByName(telemetry.EventWorldSnapshotImported), 1)
}

func TestSnapshot_ImportNeverLowersClocks(t *testing.T) {
	svc, store, _ := setupSnapshot(t)
	seedWorld(t, store)
	ctx := context.Background()

	var buf bytes.Buffer
	require.NoError(t, svc.Export(ctx, &buf))

	// Move the live world past the snapshot.
	wc, err := store.GetWorldClock(ctx)
	require.NoError(t, err)
	_, err = store.AdvanceWorldClock(ctx, storage.WorldClockAdvance{
		DurationMs: 10000, Reason: "manual", ExpectedETag: wc.ETag,
	})
	require.NoError(t, err)

	lc, err := store.GetLocationClock(ctx, "loc-1")
	require.NoError(t, err)
	_, err = store.UpsertLocationClock(ctx, &storage.LocationClock{
		LocationID: "loc-1", ClockAnchor: 9000, LastSynced: time.Now().UTC(),
	}, lc.ETag)
	require.NoError(t, err)

	report, err := svc.Import(ctx, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.False(t, report.ClockApplied)

	wc, err = store.GetWorldClock(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(15000), wc.CurrentTick)

	lc, err = store.GetLocationClock(ctx, "loc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(9000), lc.ClockAnchor)
}

func TestSnapshot_ImportRejectsGarbage(t *testing.T) {
	svc, _, _ := setupSnapshot(t)

	var invalid *storage.ErrInvalidInput
	_, err := svc.Import(context.Background(), strings.NewReader("not an archive"))
	require.ErrorAs(t, err, &invalid)
}

func TestSnapshot_ImportRejectsUnknownVersion(t *testing.T) {
	svc, store, _ := setupSnapshot(t)
	seedWorld(t, store)
	ctx := context.Background()

	var buf bytes.Buffer
	require.NoError(t, svc.Export(ctx, &buf))

	// Re-encode the archive with a bumped version.
	target := memory.New(memory.Options{})
	t.Cleanup(func() { target.Close() })

	arc := decodeArchive(t, buf.Bytes())
	arc.Version = 99
	raw := encodeArchive(t, arc)

	targetSvc := NewService(target, telemetry.NewEmitter(telemetry.NewMemorySink(), "aether", "memory"), zap.NewNop())
	var invalid *storage.ErrInvalidInput
	_, err := targetSvc.Import(ctx, bytes.NewReader(raw))
	require.ErrorAs(t, err, &invalid)
}

func decodeArchive(t *testing.T, raw []byte) *Archive {
	t.Helper()
	var arc Archive
	require.NoError(t, json.NewDecoder(lz4.NewReader(bytes.NewReader(raw))).Decode(&arc))
	return &arc
}

func encodeArchive(t *testing.T, arc *Archive) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	require.NoError(t, json.NewEncoder(zw).Encode(arc))
	require.NoError(t, zw.Close())
	return buf.Bytes()
}
