// Package clock owns world time: the singleton world clock with optimistic
// concurrency, per-location clock anchors and the temporal reconciler that
// drags trailing locations back toward the world tick.
package clock

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openmud/aether/internal/storage"
	"github.com/openmud/aether/internal/telemetry"
)

// DefaultAdvanceRetries bounds how often AdvanceWithRetry re-reads the etag
// after losing a concurrent advancement race.
const DefaultAdvanceRetries = 3

// batchSyncLimit caps inflight location syncs during BatchSyncAll.
const batchSyncLimit = 50

// Service is the clock domain service.
type Service struct {
	world   storage.WorldClockStore
	local   storage.LocationClockStore
	emitter *telemetry.Emitter
	logger  *zap.Logger

	temporal TemporalConfig
	retries  int
	now      func() time.Time
}

// Options configures a clock service.
type Options struct {
	Temporal TemporalConfig
	// AdvanceRetries caps CAS retries in AdvanceWithRetry. Zero means
	// DefaultAdvanceRetries.
	AdvanceRetries int
}

// NewService builds a clock service over the given stores.
func NewService(world storage.WorldClockStore, local storage.LocationClockStore, emitter *telemetry.Emitter, logger *zap.Logger, opts Options) *Service {
	temporal := opts.Temporal
	if temporal == (TemporalConfig{}) {
		temporal = DefaultTemporalConfig()
	}
	retries := opts.AdvanceRetries
	if retries <= 0 {
		retries = DefaultAdvanceRetries
	}
	return &Service{
		world:    world,
		local:    local,
		emitter:  emitter,
		logger:   logger.Named("clock"),
		temporal: temporal,
		retries:  retries,
		now:      time.Now,
	}
}

// Get returns the world clock snapshot, or nil before initialization.
func (s *Service) Get(ctx context.Context) (*storage.WorldClock, error) {
	wc, err := s.world.GetWorldClock(ctx)
	if err != nil {
		var notFound *storage.ErrNotFound
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, err
	}
	return wc, nil
}

// Initialize creates the world clock at the given tick. Fails with
// ErrAlreadyExists when the clock is already initialized.
func (s *Service) Initialize(ctx context.Context, initialTick int64) (*storage.WorldClock, error) {
	wc, err := s.world.InitializeWorldClock(ctx, initialTick)
	if err != nil {
		return nil, err
	}
	s.logger.Info("world clock initialized", zap.Int64("tick", initialTick))
	return wc, nil
}

// Advance moves the world clock forward by durationMs under the expected
// etag. A mismatch surfaces as ErrConcurrentAdvancement for the caller to
// retry with a fresh snapshot.
func (s *Service) Advance(ctx context.Context, durationMs int64, reason, expectedETag string) (*storage.WorldClock, error) {
	wc, err := s.world.AdvanceWorldClock(ctx, storage.WorldClockAdvance{
		DurationMs:   durationMs,
		Reason:       reason,
		ExpectedETag: expectedETag,
	})
	if err != nil {
		return nil, err
	}
	s.emitter.Emit(ctx, telemetry.EventWorldClockAdvanced, map[string]interface{}{
		"tick":       wc.CurrentTick,
		"durationMs": durationMs,
		"reason":     reason,
	})
	return wc, nil
}

// AdvanceWithRetry re-reads the clock and retries the CAS a bounded number of
// times. The world clock is lazily initialized at tick zero when absent, so
// the scheduled advance job works on a fresh deployment.
func (s *Service) AdvanceWithRetry(ctx context.Context, durationMs int64, reason string) (*storage.WorldClock, error) {
	var lastErr error
	for attempt := 0; attempt < s.retries; attempt++ {
		wc, err := s.Get(ctx)
		if err != nil {
			return nil, err
		}
		if wc == nil {
			if wc, err = s.Initialize(ctx, 0); err != nil {
				var exists *storage.ErrAlreadyExists
				if !errors.As(err, &exists) {
					return nil, err
				}
				// Lost the init race; re-read and advance normally.
				continue
			}
		}

		advanced, err := s.Advance(ctx, durationMs, reason, wc.ETag)
		if err == nil {
			return advanced, nil
		}
		var concurrent *storage.ErrConcurrentAdvancement
		if !errors.As(err, &concurrent) {
			return nil, err
		}
		lastErr = err
		s.logger.Debug("clock advance lost CAS race, retrying",
			zap.Int("attempt", attempt+1),
			zap.String("reason", reason))
	}
	return nil, lastErr
}

// TickAt replays the advancement history to answer what the world tick was at
// the given instant. Returns nil before initialization or when ts falls
// outside retained history.
func (s *Service) TickAt(ctx context.Context, ts time.Time) (*int64, error) {
	wc, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	if wc == nil {
		return nil, nil
	}
	if !ts.Before(wc.LastAdvanced) {
		tick := wc.CurrentTick
		return &tick, nil
	}

	var answer *int64
	for i := len(wc.History) - 1; i >= 0; i-- {
		if !wc.History[i].Timestamp.After(ts) {
			tick := wc.History[i].TickAfter
			answer = &tick
			break
		}
	}
	if answer == nil {
		s.logger.Warn("tick-at query precedes retained clock history",
			zap.Time("ts", ts),
			zap.Int("retained", len(wc.History)))
	}
	return answer, nil
}

// Anchor returns the location clock, lazily initializing it to the current
// world tick and reconciling any accumulated lag.
func (s *Service) Anchor(ctx context.Context, locationID string) (*storage.LocationClock, error) {
	if locationID == "" {
		return nil, &storage.ErrInvalidInput{Field: "locationId", Message: "must not be empty"}
	}

	worldTick := int64(0)
	if wc, err := s.Get(ctx); err != nil {
		return nil, err
	} else if wc != nil {
		worldTick = wc.CurrentTick
	}

	lc, err := s.local.GetLocationClock(ctx, locationID)
	if err != nil {
		var notFound *storage.ErrNotFound
		if !errors.As(err, &notFound) {
			return nil, err
		}
		created, err := s.local.UpsertLocationClock(ctx, &storage.LocationClock{
			LocationID:  locationID,
			ClockAnchor: worldTick,
			LastSynced:  s.now().UTC(),
		}, "")
		if err != nil {
			var exists *storage.ErrAlreadyExists
			if !errors.As(err, &exists) {
				return nil, err
			}
			// Lost the init race to a concurrent anchor.
			return s.local.GetLocationClock(ctx, locationID)
		}
		s.emitter.Emit(ctx, telemetry.EventLocationClockInitialized, map[string]interface{}{
			"locationId": locationID,
			"anchor":     worldTick,
		})
		return created, nil
	}

	return s.reconcile(ctx, lc, worldTick)
}

// reconcile closes the gap between the anchor and the world tick per the
// temporal tunables. A lost CAS race returns whatever the winner wrote.
func (s *Service) reconcile(ctx context.Context, lc *storage.LocationClock, worldTick int64) (*storage.LocationClock, error) {
	lag := worldTick - lc.ClockAnchor
	if lag <= 0 {
		return lc, nil
	}

	step, mode := reconcileStep(lag, s.temporal)
	if step == 0 {
		return lc, nil
	}
	if step > lag {
		step = lag
	}

	synced, err := s.local.UpsertLocationClock(ctx, &storage.LocationClock{
		LocationID:  lc.LocationID,
		ClockAnchor: lc.ClockAnchor + step,
		LastSynced:  s.now().UTC(),
	}, lc.ETag)
	if err != nil {
		var concurrent *storage.ErrConcurrentAdvancement
		if errors.As(err, &concurrent) {
			return s.local.GetLocationClock(ctx, lc.LocationID)
		}
		return nil, err
	}

	s.emitter.Emit(ctx, telemetry.EventLocationClockSynced, map[string]interface{}{
		"locationId": lc.LocationID,
		"anchor":     synced.ClockAnchor,
		"lagMs":      lag,
		"stepMs":     step,
		"mode":       mode,
	})
	return synced, nil
}

// Sync sets the location anchor to the given tick, auto-initializing when
// absent. Ticks past the world clock are clamped down with a warning; the
// anchor never runs ahead of world time.
func (s *Service) Sync(ctx context.Context, locationID string, tick int64) (*storage.LocationClock, error) {
	if locationID == "" {
		return nil, &storage.ErrInvalidInput{Field: "locationId", Message: "must not be empty"}
	}

	if wc, err := s.Get(ctx); err != nil {
		return nil, err
	} else if wc != nil && tick > wc.CurrentTick {
		s.logger.Warn("location sync ahead of world clock, clamping",
			zap.String("locationId", locationID),
			zap.Int64("requested", tick),
			zap.Int64("worldTick", wc.CurrentTick))
		tick = wc.CurrentTick
	}

	next := &storage.LocationClock{
		LocationID:  locationID,
		ClockAnchor: tick,
		LastSynced:  s.now().UTC(),
	}

	existing, err := s.local.GetLocationClock(ctx, locationID)
	if err != nil {
		var notFound *storage.ErrNotFound
		if !errors.As(err, &notFound) {
			return nil, err
		}
		synced, err := s.local.UpsertLocationClock(ctx, next, "")
		if err != nil {
			return nil, err
		}
		s.emitter.Emit(ctx, telemetry.EventLocationClockSynced, map[string]interface{}{
			"locationId": locationID,
			"anchor":     tick,
			"mode":       "explicit",
		})
		return synced, nil
	}

	synced, err := s.local.UpsertLocationClock(ctx, next, existing.ETag)
	if err != nil {
		return nil, err
	}
	s.emitter.Emit(ctx, telemetry.EventLocationClockSynced, map[string]interface{}{
		"locationId": locationID,
		"anchor":     tick,
		"mode":       "explicit",
	})
	return synced, nil
}

// BatchSyncAll syncs every existing location clock to the given tick with
// bounded parallelism. It never manufactures anchors for locations without
// one.
func (s *Service) BatchSyncAll(ctx context.Context, tick int64) (int, error) {
	clocks, err := s.local.ListLocationClocks(ctx)
	if err != nil {
		return 0, err
	}

	var synced atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(batchSyncLimit)
	for _, lc := range clocks {
		lc := lc
		g.Go(func() error {
			if _, err := s.Sync(ctx, lc.LocationID, tick); err != nil {
				return err
			}
			synced.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(synced.Load()), err
	}

	count := int(synced.Load())
	s.emitter.Emit(ctx, telemetry.EventLocationClockBatchSynced, map[string]interface{}{
		"count": count,
		"tick":  tick,
	})
	return count, nil
}
