package clock

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
	svc := NewService(store, store, emitter, zap.NewNop(), Options{})
	return svc, store, sink
}

func TestReconcileStep(t *testing.T) {
	cfg := DefaultTemporalConfig()

	tests := []struct {
		name string
		lag  int64
		step int64
		mode string
	}{
		{"within epsilon", 200, 0, ModeNone},
		{"exactly epsilon", 250, 0, ModeNone},
		{"small lag steps fully", 400, 400, ModeWait},
		{"wait step capped", 1800, 500, ModeWait},
		{"slow drift", 10000, 2500, ModeSlow},
		{"slow step capped", 50000, 5000, ModeSlow},
		{"just past slow threshold", 2001, 500, ModeSlow},
		{"beyond compress jumps", 90000, 90000, ModeJump},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			step, mode := reconcileStep(tt.lag, cfg)
			assert.Equal(t, tt.step, step)
			assert.Equal(t, tt.mode, mode)
		})
	}

	// Tiny drift product still advances by at least one tick.
	step, mode := reconcileStep(2001, TemporalConfig{
		EpsilonMs:           0,
		SlowThresholdMs:     2000,
		CompressThresholdMs: 60000,
		DriftRate:           0.0001,
		WaitMaxStepMs:       500,
		SlowMaxStepMs:       5000,
	})
	assert.Equal(t, int64(1), step)
	assert.Equal(t, ModeSlow, mode)
}

func TestService_GetAndInitialize(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	wc, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, wc)

	wc, err = svc.Initialize(ctx, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(500), wc.CurrentTick)

	_, err = svc.Initialize(ctx, 0)
	var exists *storage.ErrAlreadyExists
	require.ErrorAs(t, err, &exists)
}

func TestService_AdvanceEmitsTelemetry(t *testing.T) {
	svc, _, sink := setupService(t)
	ctx := context.Background()

	wc, err := svc.Initialize(ctx, 0)
	require.NoError(t, err)

	advanced, err := svc.Advance(ctx, 250, "test", wc.ETag)
	require.NoError(t, err)
	assert.Equal(t, int64(250), advanced.CurrentTick)

	events := sink.ByName(telemetry.EventWorldClockAdvanced)
	require.Len(t, events, 1)
	assert.Equal(t, int64(250), events[0].Fields["tick"])
	assert.Equal(t, "test", events[0].Fields["reason"])

	// Stale etag surfaces the concurrency error untouched.
	_, err = svc.Advance(ctx, 100, "stale", wc.ETag)
	var concurrent *storage.ErrConcurrentAdvancement
	require.ErrorAs(t, err, &concurrent)
}

func TestService_AdvanceWithRetry(t *testing.T) {
	svc, store, _ := setupService(t)
	ctx := context.Background()

	// Lazily initializes on a fresh store.
	wc, err := svc.AdvanceWithRetry(ctx, 100, "scheduled")
	require.NoError(t, err)
	assert.Equal(t, int64(100), wc.CurrentTick)

	// Retries pick up the fresh etag after an interleaved advance.
	current, err := store.GetWorldClock(ctx)
	require.NoError(t, err)
	_, err = store.AdvanceWorldClock(ctx, storage.WorldClockAdvance{
		DurationMs: 50, Reason: "interloper", ExpectedETag: current.ETag,
	})
	require.NoError(t, err)

	wc, err = svc.AdvanceWithRetry(ctx, 100, "scheduled")
	require.NoError(t, err)
	assert.Equal(t, int64(250), wc.CurrentTick)
}

func TestService_TickAt(t *testing.T) {
	svc, store, _ := setupService(t)
	ctx := context.Background()

	got, err := svc.TickAt(ctx, time.Now())
	require.NoError(t, err)
	assert.Nil(t, got)

	wc, err := svc.Initialize(ctx, 0)
	require.NoError(t, err)

	etag := wc.ETag
	for i := 0; i < 3; i++ {
		advanced, err := store.AdvanceWorldClock(ctx, storage.WorldClockAdvance{
			DurationMs: 100, Reason: "tick", ExpectedETag: etag,
		})
		require.NoError(t, err)
		etag = advanced.ETag
		time.Sleep(5 * time.Millisecond)
	}

	final, err := store.GetWorldClock(ctx)
	require.NoError(t, err)
	require.Len(t, final.History, 3)

	// After the last advancement: current tick.
	got, err = svc.TickAt(ctx, time.Now())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(300), *got)

	// Between the first and second advancement: the first entry's tick.
	mid := final.History[0].Timestamp.Add(time.Millisecond)
	got, err = svc.TickAt(ctx, mid)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(100), *got)

	// Before all retained history: unanswerable.
	got, err = svc.TickAt(ctx, final.History[0].Timestamp.Add(-time.Hour))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestService_AnchorLazyInit(t *testing.T) {
	svc, _, sink := setupService(t)
	ctx := context.Background()

	_, err := svc.Initialize(ctx, 1000)
	require.NoError(t, err)

	lc, err := svc.Anchor(ctx, "loc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), lc.ClockAnchor)
	require.Len(t, sink.ByName(telemetry.EventLocationClockInitialized), 1)

	// A second anchor call with no lag is a no-op.
	again, err := svc.Anchor(ctx, "loc-1")
	require.NoError(t, err)
	assert.Equal(t, lc.ETag, again.ETag)
	assert.Empty(t, sink.ByName(telemetry.EventLocationClockSynced))

	_, err = svc.Anchor(ctx, "")
	var invalid *storage.ErrInvalidInput
	require.ErrorAs(t, err, &invalid)
}

func TestService_AnchorReconciles(t *testing.T) {
	svc, store, sink := setupService(t)
	ctx := context.Background()

	wc, err := svc.Initialize(ctx, 0)
	require.NoError(t, err)

	lc, err := svc.Anchor(ctx, "loc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), lc.ClockAnchor)

	// World moves 10s ahead: slow drift closes a quarter of the gap.
	_, err = store.AdvanceWorldClock(ctx, storage.WorldClockAdvance{
		DurationMs: 10000, Reason: "drift", ExpectedETag: wc.ETag,
	})
	require.NoError(t, err)

	lc, err = svc.Anchor(ctx, "loc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2500), lc.ClockAnchor)

	events := sink.ByName(telemetry.EventLocationClockSynced)
	require.Len(t, events, 1)
	assert.Equal(t, ModeSlow, events[0].Fields["mode"])

	// Anchor never exceeds the world tick no matter how often reconciled.
	for i := 0; i < 20; i++ {
		lc, err = svc.Anchor(ctx, "loc-1")
		require.NoError(t, err)
		require.LessOrEqual(t, lc.ClockAnchor, int64(10000))
	}
	assert.Equal(t, int64(10000), lc.ClockAnchor)
}

func TestService_SyncClampsToWorldTick(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.Initialize(ctx, 500)
	require.NoError(t, err)

	// Auto-init via sync, clamped down to the world tick.
	lc, err := svc.Sync(ctx, "loc-1", 900)
	require.NoError(t, err)
	assert.Equal(t, int64(500), lc.ClockAnchor)

	lc, err = svc.Sync(ctx, "loc-1", 300)
	require.NoError(t, err)
	assert.Equal(t, int64(300), lc.ClockAnchor)
}

func TestService_BatchSyncAll(t *testing.T) {
	svc, _, sink := setupService(t)
	ctx := context.Background()

	_, err := svc.Initialize(ctx, 1000)
	require.NoError(t, err)

	for _, id := range []string{"loc-1", "loc-2", "loc-3"} {
		_, err := svc.Anchor(ctx, id)
		require.NoError(t, err)
	}

	count, err := svc.BatchSyncAll(ctx, 800)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	batch := sink.ByName(telemetry.EventLocationClockBatchSynced)
	require.Len(t, batch, 1)
	assert.Equal(t, 3, batch[0].Fields["count"])

	// No anchors are manufactured for unseen locations.
	lc, err := svc.Anchor(ctx, "loc-4")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), lc.ClockAnchor)
}
