package nav

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openmud/aether/internal/storage"
)

// DefaultDebounceWindow suppresses repeat exit-generation hints from the same
// player at the same origin and direction.
const DefaultDebounceWindow = 60 * time.Second

// Debouncer rate-limits exit-generation hints per (player, origin,
// direction). Storage trouble fails open: a duplicate hint is cheaper than a
// lost one.
type Debouncer struct {
	store  storage.DebounceStore
	window time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewDebouncer builds a debouncer with the given window. window <= 0 uses
// DefaultDebounceWindow.
func NewDebouncer(store storage.DebounceStore, window time.Duration, logger *zap.Logger) *Debouncer {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &Debouncer{
		store:  store,
		window: window,
		logger: logger.Named("nav.debounce"),
		now:    time.Now,
	}
}

// ttlSeconds pads the record lifetime past the window so a record never
// expires while still inside it.
func (d *Debouncer) ttlSeconds() int64 {
	return int64((d.window+time.Second-1)/time.Second) + 60
}

// ShouldEmit reports whether a generation hint for this (player, origin,
// direction) should be emitted now. The second return is true when the hint
// was suppressed by an earlier one inside the window.
func (d *Debouncer) ShouldEmit(ctx context.Context, playerID, originID, dir string) (emit, debounceHit bool) {
	scopeKey := storage.ScopePlayer(playerID)
	debounceKey := fmt.Sprintf("%s:%s:%s", playerID, originID, dir)
	now := d.now().UTC()

	rec, err := d.store.GetDebounce(ctx, scopeKey, debounceKey)
	if err != nil {
		var notFound *storage.ErrNotFound
		if !errors.As(err, &notFound) {
			d.logger.Warn("debounce read failed, failing open",
				zap.String("debounceKey", debounceKey),
				zap.Error(err))
			return true, false
		}
	} else if now.Sub(rec.LastEmitUTC) < d.window {
		return false, true
	}

	if err := d.store.PutDebounce(ctx, &storage.ExitHintDebounceRecord{
		ID:               uuid.NewString(),
		ScopeKey:         scopeKey,
		DebounceKey:      debounceKey,
		PlayerID:         playerID,
		OriginLocationID: originID,
		Direction:        dir,
		LastEmitUTC:      now,
		TTLSeconds:       d.ttlSeconds(),
	}); err != nil {
		d.logger.Warn("debounce write failed, failing open",
			zap.String("debounceKey", debounceKey),
			zap.Error(err))
	}
	return true, false
}
