package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openmud/aether/internal/clock"
	"github.com/openmud/aether/internal/storage"
	"github.com/openmud/aether/internal/storage/memory"
	"github.com/openmud/aether/internal/telemetry"
)

func setupScheduler(t *testing.T) (*Scheduler, *telemetry.MemorySink) {
	t.Helper()
	sink := telemetry.NewMemorySink()
	emitter := telemetry.NewEmitter(sink, "aether", "memory")
	return New(emitter, zap.NewNop()), sink
}

func TestScheduler_AddValidation(t *testing.T) {
	s, _ := setupScheduler(t)
	noop := func(context.Context) error { return nil }

	var invalid *storage.ErrInvalidInput
	require.ErrorAs(t, s.Add("", time.Second, noop), &invalid)
	require.ErrorAs(t, s.Add("j", 0, noop), &invalid)
	require.ErrorAs(t, s.Add("j", time.Second, nil), &invalid)

	require.NoError(t, s.Add("j", time.Second, noop))
	require.ErrorAs(t, s.Add("j", time.Minute, noop), &invalid)
}

func TestScheduler_RunsJobsAndReportsFailures(t *testing.T) {
	s, sink := setupScheduler(t)

	var ticks atomic.Int64
	require.NoError(t, s.Add("counter", 5*time.Millisecond, func(context.Context) error {
		ticks.Add(1)
		return nil
	}))
	require.NoError(t, s.Add("broken", 5*time.Millisecond, func(context.Context) error {
		return errors.New("boom")
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	<-done

	completed := sink.ByName(telemetry.EventSchedulerJobCompleted)
	require.NotEmpty(t, completed)

	sawFailure := false
	for _, ev := range completed {
		if ev.Fields["job"] == "broken" {
			sawFailure = true
			assert.Equal(t, false, ev.Fields["success"])
			assert.Equal(t, "boom", ev.Fields["error"])
		}
	}
	assert.True(t, sawFailure)
}

func TestScheduler_NeverOverlapsItself(t *testing.T) {
	s, _ := setupScheduler(t)

	var inflight, maxInflight atomic.Int64
	require.NoError(t, s.Add("slow", time.Millisecond, func(context.Context) error {
		cur := inflight.Add(1)
		for {
			prev := maxInflight.Load()
			if cur <= prev || maxInflight.CompareAndSwap(prev, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inflight.Add(-1)
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	assert.Equal(t, int64(1), maxInflight.Load())
}

func TestScheduler_RunJobOnce(t *testing.T) {
	s, sink := setupScheduler(t)

	ran := false
	require.NoError(t, s.Add("manual", time.Hour, func(context.Context) error {
		ran = true
		return nil
	}))

	require.NoError(t, s.RunJobOnce(context.Background(), "manual"))
	assert.True(t, ran)
	assert.Len(t, sink.ByName(telemetry.EventSchedulerJobCompleted), 1)

	var notFound *storage.ErrNotFound
	require.ErrorAs(t, s.RunJobOnce(context.Background(), "missing"), &notFound)
}

func TestClockAdvanceJob(t *testing.T) {
	store := memory.New(memory.Options{})
	t.Cleanup(func() { store.Close() })
	sink := telemetry.NewMemorySink()
	emitter := telemetry.NewEmitter(sink, "aether", "memory")
	clocks := clock.NewService(store, store, emitter, zap.NewNop(), clock.Options{})

	job := ClockAdvanceJob(clocks, store)
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, job(context.Background()))

	wc, err := clocks.Get(context.Background())
	require.NoError(t, err)
	require.NotNil(t, wc)
	assert.Positive(t, wc.CurrentTick)
	require.NotEmpty(t, wc.History)
	assert.Equal(t, "scheduled", wc.History[len(wc.History)-1].Reason)

	before := wc.CurrentTick
	require.NoError(t, job(context.Background()))
	wc, err = clocks.Get(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, wc.CurrentTick, before)
}

func TestClockAdvanceJob_SyncsAnchorsAndAppendsEvent(t *testing.T) {
	store := memory.New(memory.Options{})
	t.Cleanup(func() { store.Close() })
	sink := telemetry.NewMemorySink()
	emitter := telemetry.NewEmitter(sink, "aether", "memory")
	clocks := clock.NewService(store, store, emitter, zap.NewNop(), clock.Options{})
	ctx := context.Background()

	_, err := clocks.Initialize(ctx, 0)
	require.NoError(t, err)
	_, err = clocks.Anchor(ctx, "loc-1")
	require.NoError(t, err)

	job := ClockAdvanceJob(clocks, store)
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, job(ctx))

	wc, err := clocks.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, wc)
	require.Positive(t, wc.CurrentTick)

	// The pre-existing anchor rode along to the new world tick.
	lc, err := store.GetLocationClock(ctx, "loc-1")
	require.NoError(t, err)
	assert.Equal(t, wc.CurrentTick, lc.ClockAnchor)

	// The advancement landed in the durable log under the global scope.
	pending, err := store.ListPendingEvents(ctx, storage.ScopeGlobal, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, telemetry.EventWorldClockAdvanced, pending[0].EventType)
	assert.Equal(t, storage.ActorSystem, pending[0].ActorKind)
	assert.NotEmpty(t, pending[0].CorrelationID)
	assert.EqualValues(t, wc.CurrentTick, pending[0].Payload["tick"])

	assert.NotEmpty(t, sink.ByName(telemetry.EventLocationClockBatchSynced))
}

func TestCostFlushJob(t *testing.T) {
	sink := telemetry.NewMemorySink()
	emitter := telemetry.NewEmitter(sink, "aether", "memory")
	costs := telemetry.NewCostAggregator(emitter, 0)

	costs.Record(context.Background(), "model-a", 10, 20, 300)
	require.NoError(t, CostFlushJob(costs)(context.Background()))

	// The current hour's window is still open; nothing flushed yet.
	assert.Empty(t, sink.ByName(telemetry.EventAICostWindowSummary))

	costs.FlushAll(context.Background())
	assert.Len(t, sink.ByName(telemetry.EventAICostWindowSummary), 1)
}
