package telemetry

import (
	"context"
	"sync"
	"time"
)

type costKey struct {
	modelID string
	hour    time.Time
}

type costWindow struct {
	promptTokens     int64
	completionTokens int64
	microUSD         int64
	calls            int64
	thresholdFired   bool
}

// CostAggregator rolls AI spend into hourly buckets per model. Only counts
// and cost estimates are stored; prompt and completion text never enter the
// aggregator.
type CostAggregator struct {
	emitter       *Emitter
	softLimitUSDu int64

	mu      sync.Mutex
	windows map[costKey]*costWindow
	now     func() time.Time
}

// NewCostAggregator builds an aggregator. softLimitMicroUSD of zero disables
// the soft threshold event.
func NewCostAggregator(emitter *Emitter, softLimitMicroUSD int64) *CostAggregator {
	return &CostAggregator{
		emitter:       emitter,
		softLimitUSDu: softLimitMicroUSD,
		windows:       make(map[costKey]*costWindow),
		now:           time.Now,
	}
}

// Record accounts one AI call and emits the per-call estimate.
func (a *CostAggregator) Record(ctx context.Context, modelID string, promptTokens, completionTokens, microUSD int64) {
	hour := a.now().UTC().Truncate(time.Hour)
	key := costKey{modelID: modelID, hour: hour}

	a.mu.Lock()
	w, ok := a.windows[key]
	if !ok {
		w = &costWindow{}
		a.windows[key] = w
	}
	w.promptTokens += promptTokens
	w.completionTokens += completionTokens
	w.microUSD += microUSD
	w.calls++
	crossed := a.softLimitUSDu > 0 && !w.thresholdFired && w.microUSD >= a.softLimitUSDu
	if crossed {
		w.thresholdFired = true
	}
	total := w.microUSD
	a.mu.Unlock()

	a.emitter.Emit(ctx, EventAICostEstimated, map[string]interface{}{
		"modelId":          modelID,
		"promptTokens":     promptTokens,
		"completionTokens": completionTokens,
		"microUsd":         microUSD,
	})
	if crossed {
		a.emitter.Emit(ctx, EventAICostSoftThreshold, map[string]interface{}{
			"modelId":        modelID,
			"windowStart":    hour.Format(time.RFC3339),
			"microUsd":       total,
			"softLimitMicro": a.softLimitUSDu,
		})
	}
}

// FlushExpired emits window summaries for buckets older than the current
// hour and drops them. The scheduler calls this periodically.
func (a *CostAggregator) FlushExpired(ctx context.Context) {
	a.flush(ctx, a.now().UTC().Truncate(time.Hour))
}

// FlushAll emits summaries for every open bucket. Called on shutdown.
func (a *CostAggregator) FlushAll(ctx context.Context) {
	a.flush(ctx, time.Time{})
}

func (a *CostAggregator) flush(ctx context.Context, keepFrom time.Time) {
	type flushed struct {
		key costKey
		w   costWindow
	}

	a.mu.Lock()
	var out []flushed
	for key, w := range a.windows {
		if !keepFrom.IsZero() && !key.hour.Before(keepFrom) {
			continue
		}
		out = append(out, flushed{key: key, w: *w})
		delete(a.windows, key)
	}
	a.mu.Unlock()

	for _, f := range out {
		a.emitter.Emit(ctx, EventAICostWindowSummary, map[string]interface{}{
			"modelId":          f.key.modelID,
			"windowStart":      f.key.hour.Format(time.RFC3339),
			"calls":            f.w.calls,
			"promptTokens":     f.w.promptTokens,
			"completionTokens": f.w.completionTokens,
			"microUsd":         f.w.microUSD,
		})
	}
}
