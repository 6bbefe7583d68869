package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openmud/aether/internal/storage"
	"github.com/openmud/aether/internal/storage/memory"
	"github.com/openmud/aether/internal/telemetry"
)

func setupIndex(t *testing.T) (*Index, *telemetry.MemorySink) {
	t.Helper()
	sink := telemetry.NewMemorySink()
	emitter := telemetry.NewEmitter(sink, "aether", "memory")
	idx, err := New(Config{InMemory: true}, emitter, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx, sink
}

func TestIndex_LocationsByDescriptionToken(t *testing.T) {
	idx, sink := setupIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.IndexLocation(ctx, &storage.Location{
		ID:           "loc-1",
		Name:         "Harbor Gate",
		Description:  "Salt wind whips across the breakwater.",
		ExitsSummary: "Exits: north, east.",
	}))
	require.NoError(t, idx.IndexLocation(ctx, &storage.Location{
		ID:          "loc-2",
		Name:        "Cellar",
		Description: "Dust and old barrels.",
	}))

	res, err := idx.Search(ctx, "breakwater", KindLocation, 10)
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "loc-1", res.Hits[0].ID)
	assert.Equal(t, KindLocation, res.Hits[0].Kind)

	// Name tokens match too.
	res, err = idx.Search(ctx, "harbor", "", 10)
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "loc-1", res.Hits[0].ID)

	events := sink.ByName(telemetry.EventSearchQueryCompleted)
	require.Len(t, events, 2)
	assert.Equal(t, "breakwater", events[0].Fields["query"])
	assert.Equal(t, 1, events[0].Fields["hits"])
}

func TestIndex_KindFilter(t *testing.T) {
	idx, _ := setupIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.IndexLocation(ctx, &storage.Location{
		ID:          "loc-1",
		Name:        "Moor",
		Description: "Fog drifts over the moor.",
	}))
	require.NoError(t, idx.IndexLayer(ctx, &storage.DescriptionLayer{
		ID:        "layer-1",
		ScopeID:   storage.ScopeLocation("loc-1"),
		LayerType: storage.LayerAmbient,
		Value:     "Fog thickens as night falls.",
	}))

	res, err := idx.Search(ctx, "fog", KindLayer, 10)
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, KindLayer, res.Hits[0].Kind)

	res, err = idx.Search(ctx, "fog", "", 10)
	require.NoError(t, err)
	assert.Len(t, res.Hits, 2)

	var invalid *storage.ErrInvalidInput
	_, err = idx.Search(ctx, "fog", "realm", 10)
	require.ErrorAs(t, err, &invalid)
}

func TestIndex_UpdateAndDelete(t *testing.T) {
	idx, _ := setupIndex(t)
	ctx := context.Background()

	loc := &storage.Location{ID: "loc-1", Name: "Shrine", Description: "Candles gutter in the alcove."}
	require.NoError(t, idx.IndexLocation(ctx, loc))

	loc.Description = "The alcove stands dark and bare."
	require.NoError(t, idx.IndexLocation(ctx, loc))

	res, err := idx.Search(ctx, "candles", KindLocation, 10)
	require.NoError(t, err)
	assert.Empty(t, res.Hits)

	res, err = idx.Search(ctx, "bare", KindLocation, 10)
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)

	require.NoError(t, idx.DeleteLocation(ctx, "loc-1"))
	res, err = idx.Search(ctx, "bare", KindLocation, 10)
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
}

func TestIndex_Rebuild(t *testing.T) {
	idx, _ := setupIndex(t)
	ctx := context.Background()

	store := memory.New(memory.Options{})
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.PutLocation(ctx, &storage.Location{
		ID: "loc-1", Name: "Quay", Description: "Gulls wheel over the quay.",
	}))
	require.NoError(t, store.PutLocation(ctx, &storage.Location{
		ID: "loc-2", Name: "Warehouse", Description: "Crates stacked to the rafters.",
	}))
	require.NoError(t, store.PutLayer(ctx, &storage.DescriptionLayer{
		ID: "layer-1", ScopeID: storage.ScopeLocation("loc-1"),
		LayerType: storage.LayerAmbient, Value: "Rope creaks against the bollards.",
	}))

	n, err := idx.Rebuild(ctx, store, store)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	count, err := idx.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)

	res, err := idx.Search(ctx, "bollards", "", 10)
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, KindLayer, res.Hits[0].Kind)
}

func TestIndex_ClosedErrors(t *testing.T) {
	idx, _ := setupIndex(t)
	require.NoError(t, idx.Close())
	require.NoError(t, idx.Close())

	ctx := context.Background()
	assert.ErrorIs(t, idx.IndexLocation(ctx, &storage.Location{ID: "x"}), ErrIndexClosed)
	_, err := idx.Search(ctx, "q", "", 10)
	assert.ErrorIs(t, err, ErrIndexClosed)
}
