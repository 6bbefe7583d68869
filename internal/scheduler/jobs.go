package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openmud/aether/internal/clock"
	"github.com/openmud/aether/internal/layers"
	"github.com/openmud/aether/internal/storage"
	"github.com/openmud/aether/internal/telemetry"
)

// Standard job names.
const (
	JobClockAdvance   = "clock-advance"
	JobLayerIntegrity = "layer-integrity"
	JobCostFlush      = "cost-flush"
)

// ClockAdvanceJob advances the world clock by the wall-clock time elapsed
// since the previous run, drags every existing location clock to the new tick
// and appends the advancement to the world event log. The first run measures
// from job creation so a restart never double-counts downtime.
func ClockAdvanceJob(clocks *clock.Service, events storage.EventStore) JobFunc {
	var mu sync.Mutex
	last := time.Now()
	return func(ctx context.Context) error {
		mu.Lock()
		now := time.Now()
		elapsed := now.Sub(last)
		last = now
		mu.Unlock()

		ms := elapsed.Milliseconds()
		if ms <= 0 {
			return nil
		}

		ctx = telemetry.WithCorrelationID(ctx, uuid.NewString())
		wc, err := clocks.AdvanceWithRetry(ctx, ms, "scheduled")
		if err != nil {
			return err
		}
		if _, err := clocks.BatchSyncAll(ctx, wc.CurrentTick); err != nil {
			return fmt.Errorf("syncing location clocks to tick %d: %w", wc.CurrentTick, err)
		}

		_, _, err = events.AppendEvent(ctx, &storage.WorldEventRecord{
			ID:            uuid.NewString(),
			ScopeKey:      storage.ScopeGlobal,
			EventType:     telemetry.EventWorldClockAdvanced,
			OccurredUTC:   now.UTC(),
			ActorKind:     storage.ActorSystem,
			CorrelationID: telemetry.CorrelationIDFrom(ctx),
			Payload: map[string]interface{}{
				"tick":       wc.CurrentTick,
				"durationMs": ms,
				"reason":     "scheduled",
			},
		})
		if err != nil {
			return fmt.Errorf("appending clock advance event: %w", err)
		}
		return nil
	}
}

// LayerIntegrityJob sweeps stored description layers against their hashes.
func LayerIntegrityJob(layerSvc *layers.Service, cfg layers.IntegrityConfig) JobFunc {
	return func(ctx context.Context) error {
		_, err := layerSvc.RunIntegrityJob(ctx, cfg)
		return err
	}
}

// CostFlushJob emits summaries for closed AI cost windows.
func CostFlushJob(costs *telemetry.CostAggregator) JobFunc {
	return func(ctx context.Context) error {
		costs.FlushExpired(ctx)
		return nil
	}
}
