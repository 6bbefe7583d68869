package layers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openmud/aether/internal/storage"
	"github.com/openmud/aether/internal/storage/memory"
	"github.com/openmud/aether/internal/telemetry"
)

func setupService(t *testing.T) (*Service, *memory.Store, *telemetry.MemorySink) {
	t.Helper()
	store := memory.New(memory.Options{})
	t.Cleanup(func() { store.Close() })
	sink := telemetry.NewMemorySink()
	emitter := telemetry.NewEmitter(sink, "aether", "memory")
	svc, err := NewService(store, store, store, emitter, zap.NewNop(), 0)
	require.NoError(t, err)
	return svc, store, sink
}

func seedWorld(t *testing.T, store *memory.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.PutRealm(ctx, &storage.Realm{ID: "region", Name: "The Region", Tier: storage.TierRegional}))
	require.NoError(t, store.PutRealm(ctx, &storage.Realm{ID: "zone", Name: "The Zone", Tier: storage.TierLocal, ParentID: "region"}))
	require.NoError(t, store.PutLocation(ctx, &storage.Location{ID: "loc-1", Name: "Glade", RealmID: "zone"}))
}

func TestService_ActiveScopeChain(t *testing.T) {
	svc, store, _ := setupService(t)
	seedWorld(t, store)
	ctx := context.Background()

	// Nothing anywhere: nil, no error.
	got, err := svc.Active(ctx, "loc-1", storage.LayerAmbient, 100)
	require.NoError(t, err)
	assert.Nil(t, got)

	// Realm-chain layer on the parent region.
	_, err = svc.SetForRealm(ctx, "region", SetInput{
		LayerType: storage.LayerAmbient,
		Value:     "A dry wind crosses the region.",
	})
	require.NoError(t, err)

	got, err = svc.Active(ctx, "loc-1", storage.LayerAmbient, 100)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Contains(t, got.Value, "dry wind")

	// Closer zone layer shadows the region one.
	_, err = svc.SetForRealm(ctx, "zone", SetInput{
		LayerType: storage.LayerAmbient,
		Value:     "Mist pools in the zone.",
	})
	require.NoError(t, err)

	got, err = svc.Active(ctx, "loc-1", storage.LayerAmbient, 100)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Contains(t, got.Value, "Mist")

	// Location layer wins over everything.
	_, err = svc.SetForLocation(ctx, "loc-1", SetInput{
		LayerType: storage.LayerAmbient,
		Value:     "Fireflies drift through the glade.",
	})
	require.NoError(t, err)

	got, err = svc.Active(ctx, "loc-1", storage.LayerAmbient, 100)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Contains(t, got.Value, "Fireflies")
}

func TestService_ActiveTickWindowAndTieBreak(t *testing.T) {
	svc, store, _ := setupService(t)
	seedWorld(t, store)
	ctx := context.Background()

	to := int64(200)
	older := &storage.DescriptionLayer{
		ID:                "old",
		ScopeID:           storage.ScopeLocation("loc-1"),
		LayerType:         storage.LayerBase,
		Value:             "older",
		EffectiveFromTick: 0,
		EffectiveToTick:   &to,
		AuthoredAt:        time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	newer := &storage.DescriptionLayer{
		ID:                "new",
		ScopeID:           storage.ScopeLocation("loc-1"),
		LayerType:         storage.LayerBase,
		Value:             "newer",
		EffectiveFromTick: 0,
		EffectiveToTick:   &to,
		AuthoredAt:        time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.PutLayer(ctx, older))
	require.NoError(t, store.PutLayer(ctx, newer))

	// Both valid at tick 100: latest AuthoredAt wins.
	got, err := svc.Active(ctx, "loc-1", storage.LayerBase, 100)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "newer", got.Value)

	// The to tick is exclusive.
	got, err = svc.Active(ctx, "loc-1", storage.LayerBase, 200)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestService_CacheHitAndInvalidation(t *testing.T) {
	svc, store, sink := setupService(t)
	seedWorld(t, store)
	ctx := context.Background()

	_, err := svc.SetForLocation(ctx, "loc-1", SetInput{
		LayerType: storage.LayerAmbient,
		Value:     "first",
	})
	require.NoError(t, err)

	_, err = svc.Active(ctx, "loc-1", storage.LayerAmbient, 50)
	require.NoError(t, err)
	require.Len(t, sink.ByName(telemetry.EventDescriptionCacheMiss), 1)

	_, err = svc.Active(ctx, "loc-1", storage.LayerAmbient, 50)
	require.NoError(t, err)
	require.Len(t, sink.ByName(telemetry.EventDescriptionCacheHit), 1)

	// A write to the scope purges its cached resolutions.
	_, err = svc.SetForLocation(ctx, "loc-1", SetInput{
		LayerType: storage.LayerAmbient,
		Value:     "second",
	})
	require.NoError(t, err)

	got, err := svc.Active(ctx, "loc-1", storage.LayerAmbient, 50)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "second", got.Value)
	assert.Len(t, sink.ByName(telemetry.EventDescriptionCacheMiss), 2)

	// A realm write also invalidates entries that consulted that realm.
	_, err = svc.Active(ctx, "loc-1", storage.LayerBase, 50)
	require.NoError(t, err)
	_, err = svc.SetForRealm(ctx, "zone", SetInput{
		LayerType: storage.LayerBase,
		Value:     "zone base",
	})
	require.NoError(t, err)

	got, err = svc.Active(ctx, "loc-1", storage.LayerBase, 50)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "zone base", got.Value)
}

func TestService_SetValidation(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	var invalid *storage.ErrInvalidInput
	_, err := svc.SetForLocation(ctx, "loc-1", SetInput{LayerType: storage.LayerAmbient})
	require.ErrorAs(t, err, &invalid)

	_, err = svc.SetForLocation(ctx, "loc-1", SetInput{Value: "x"})
	require.ErrorAs(t, err, &invalid)

	to := int64(5)
	_, err = svc.SetForLocation(ctx, "loc-1", SetInput{
		LayerType:         storage.LayerAmbient,
		Value:             "x",
		EffectiveFromTick: 10,
		EffectiveToTick:   &to,
	})
	require.ErrorAs(t, err, &invalid)
}

func TestService_DeleteLayer(t *testing.T) {
	svc, store, _ := setupService(t)
	seedWorld(t, store)
	ctx := context.Background()

	layer, err := svc.SetForLocation(ctx, "loc-1", SetInput{
		LayerType: storage.LayerAmbient,
		Value:     "ephemeral",
	})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteLayer(ctx, layer.ScopeID, layer.ID))
	got, err := svc.Active(ctx, "loc-1", storage.LayerAmbient, 0)
	require.NoError(t, err)
	assert.Nil(t, got)

	var notFound *storage.ErrNotFound
	err = svc.DeleteLayer(ctx, layer.ScopeID, layer.ID)
	require.ErrorAs(t, err, &notFound)
}

func TestService_IntegrityJob(t *testing.T) {
	svc, store, sink := setupService(t)
	seedWorld(t, store)
	ctx := context.Background()

	for _, v := range []string{"alpha", "beta", "gamma"} {
		_, err := svc.SetForLocation(ctx, "loc-1", SetInput{
			LayerType: storage.LayerBase,
			Value:     v,
		})
		require.NoError(t, err)
	}

	// First pass stores every hash.
	report, err := svc.RunIntegrityJob(ctx, IntegrityConfig{BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 3, report.Computed)
	assert.Zero(t, report.Mismatched)

	// Second pass finds everything unchanged.
	report, err = svc.RunIntegrityJob(ctx, IntegrityConfig{BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Unchanged)
	assert.Zero(t, report.Computed)

	// Tamper with one layer's content behind the hash.
	all, err := store.ListLayers(ctx, 0, 0)
	require.NoError(t, err)
	victim := all[0]
	victim.Value = "tampered content"
	require.NoError(t, store.PutLayer(ctx, victim))

	report, err = svc.RunIntegrityJob(ctx, IntegrityConfig{BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Mismatched)
	assert.Equal(t, 2, report.Unchanged)

	mismatches := sink.ByName(telemetry.EventIntegrityMismatch)
	require.Len(t, mismatches, 1)
	assert.Len(t, mismatches[0].Fields["storedHash"], 32)
	assert.Len(t, mismatches[0].Fields["computedHash"], 32)
	assert.Equal(t, len("tampered content"), mismatches[0].Fields["contentLength"])

	// recompute_all repairs the stored hash.
	report, err = svc.RunIntegrityJob(ctx, IntegrityConfig{BatchSize: 2, RecomputeAll: true})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Computed)

	report, err = svc.RunIntegrityJob(ctx, IntegrityConfig{BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Unchanged)
	assert.Zero(t, report.Mismatched)
}
