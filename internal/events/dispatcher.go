package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openmud/aether/internal/storage"
	"github.com/openmud/aether/internal/telemetry"
)

// Dispatcher defaults.
const (
	DefaultMaxAttempts      = 3
	DefaultRetryBackoff     = 5 * time.Second
	DefaultDispatchInterval = time.Second
	DefaultBatchSize        = 100
)

// Handler processes one pending world event. An error marks the envelope
// failed and eventually dead-letters it.
type Handler func(ctx context.Context, rec *storage.WorldEventRecord) error

// Store is the slice of the storage surface the dispatcher needs.
type Store interface {
	storage.EventStore
	storage.DeadLetterStore
}

// Options tunes the dispatcher.
type Options struct {
	MaxAttempts      int
	RetryBackoff     time.Duration
	DispatchInterval time.Duration
	BatchSize        int
}

// Dispatcher polls pending envelopes per registered scope prefix in ingest
// order and drives them through handlers. Retries are in-process: a failed
// envelope that still has attempts left is flipped back to pending after the
// backoff. Envelopes that were failed when the process died stay failed until
// an operator re-queues them.
type Dispatcher struct {
	store   Store
	emitter *telemetry.Emitter
	logger  *zap.Logger
	opts    Options

	mu       sync.Mutex
	handlers map[string]Handler
	prefixes []string
	timers   sync.WaitGroup
}

// NewDispatcher builds a dispatcher over the given store.
func NewDispatcher(store Store, emitter *telemetry.Emitter, logger *zap.Logger, opts Options) *Dispatcher {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}
	if opts.DispatchInterval <= 0 {
		opts.DispatchInterval = DefaultDispatchInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	return &Dispatcher{
		store:    store,
		emitter:  emitter,
		logger:   logger.Named("events.dispatcher"),
		opts:     opts,
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to an event type. Last registration wins.
func (d *Dispatcher) Register(eventType string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = h
}

// Watch adds a scope prefix (e.g. "loc:", "global:") to the polling set.
func (d *Dispatcher) Watch(scopePrefix string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.prefixes {
		if p == scopePrefix {
			return
		}
	}
	d.prefixes = append(d.prefixes, scopePrefix)
}

// Run polls until the context is canceled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.opts.DispatchInterval)
	defer ticker.Stop()

	d.logger.Info("event dispatcher started",
		zap.Duration("interval", d.opts.DispatchInterval),
		zap.Int("maxAttempts", d.opts.MaxAttempts))

	for {
		select {
		case <-ctx.Done():
			d.timers.Wait()
			d.logger.Info("event dispatcher stopped")
			return
		case <-ticker.C:
			if err := d.RunOnce(ctx); err != nil {
				d.logger.Warn("dispatch pass failed", zap.Error(err))
			}
		}
	}
}

// RunOnce performs a single dispatch pass over every watched prefix.
func (d *Dispatcher) RunOnce(ctx context.Context) error {
	d.mu.Lock()
	prefixes := append([]string(nil), d.prefixes...)
	d.mu.Unlock()

	var firstErr error
	for _, prefix := range prefixes {
		pending, err := d.store.ListPendingEvents(ctx, prefix, d.opts.BatchSize)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("listing pending events for %q: %w", prefix, err)
			}
			continue
		}
		for _, rec := range pending {
			if err := ctx.Err(); err != nil {
				return err
			}
			d.process(ctx, rec)
		}
	}
	return firstErr
}

func (d *Dispatcher) process(ctx context.Context, rec *storage.WorldEventRecord) {
	ctx = telemetry.WithCorrelationID(ctx, rec.CorrelationID)
	traceparent := Traceparent(rec.CorrelationID)

	// Another pass may have settled this envelope already.
	current, err := d.store.GetEvent(ctx, rec.ScopeKey, rec.ID)
	if err != nil {
		d.logger.Warn("pending event vanished", zap.String("eventId", rec.ID), zap.Error(err))
		return
	}
	if current.Status != storage.EventStatusPending {
		d.emitter.Emit(ctx, telemetry.EventWorldEventDuplicate, map[string]interface{}{
			"eventId":   rec.ID,
			"scopeKey":  rec.ScopeKey,
			"eventType": rec.EventType,
			"status":    string(current.Status),
		})
		return
	}

	d.mu.Lock()
	handler, ok := d.handlers[current.EventType]
	d.mu.Unlock()
	if !ok {
		d.logger.Debug("no handler for event type, leaving pending",
			zap.String("eventType", current.EventType),
			zap.String("eventId", current.ID))
		return
	}

	if err := handler(ctx, current); err != nil {
		d.handleFailure(ctx, current, err)
		return
	}

	if _, err := d.store.UpdateEventStatus(ctx, current.ScopeKey, current.ID, storage.EventStatusUpdate{
		Status: storage.EventStatusProcessed,
	}); err != nil {
		d.logger.Warn("failed to mark event processed",
			zap.String("eventId", current.ID), zap.Error(err))
		return
	}
	d.emitter.Emit(ctx, telemetry.EventWorldEventProcessed, map[string]interface{}{
		"eventId":     current.ID,
		"scopeKey":    current.ScopeKey,
		"eventType":   current.EventType,
		"traceparent": traceparent,
	})
}

func (d *Dispatcher) handleFailure(ctx context.Context, rec *storage.WorldEventRecord, handlerErr error) {
	failed, err := d.store.UpdateEventStatus(ctx, rec.ScopeKey, rec.ID, storage.EventStatusUpdate{
		Status:    storage.EventStatusFailed,
		LastError: handlerErr.Error(),
	})
	if err != nil {
		d.logger.Warn("failed to mark event failed",
			zap.String("eventId", rec.ID), zap.Error(err))
		return
	}

	attempts := 0
	if failed.Processing != nil {
		attempts = failed.Processing.Attempts
	}

	if attempts < d.opts.MaxAttempts {
		d.logger.Info("event handler failed, scheduling retry",
			zap.String("eventId", rec.ID),
			zap.Int("attempts", attempts),
			zap.Error(handlerErr))
		d.scheduleRetry(ctx, failed)
		return
	}
	d.deadLetter(ctx, failed, handlerErr)
}

// scheduleRetry flips the envelope back to pending after the backoff. The
// timer is in-process; Run waits for outstanding timers on shutdown.
func (d *Dispatcher) scheduleRetry(ctx context.Context, rec *storage.WorldEventRecord) {
	d.timers.Add(1)
	timer := time.AfterFunc(d.opts.RetryBackoff, func() {
		defer d.timers.Done()
		retryCtx := telemetry.WithCorrelationID(context.Background(), rec.CorrelationID)
		if _, err := d.store.UpdateEventStatus(retryCtx, rec.ScopeKey, rec.ID, storage.EventStatusUpdate{
			Status: storage.EventStatusPending,
		}); err != nil {
			d.logger.Warn("failed to re-queue event for retry",
				zap.String("eventId", rec.ID), zap.Error(err))
			return
		}
		d.emitter.Emit(retryCtx, telemetry.EventWorldEventRetried, map[string]interface{}{
			"eventId":   rec.ID,
			"scopeKey":  rec.ScopeKey,
			"eventType": rec.EventType,
		})
	})
	go func() {
		<-ctx.Done()
		if timer.Stop() {
			d.timers.Done()
		}
	}()
}

// deadLetter parks the envelope permanently. The dead-letter write itself is
// log-and-swallow; losing the record must not wedge the queue.
func (d *Dispatcher) deadLetter(ctx context.Context, rec *storage.WorldEventRecord, handlerErr error) {
	if _, err := d.store.UpdateEventStatus(ctx, rec.ScopeKey, rec.ID, storage.EventStatusUpdate{
		Status:    storage.EventStatusDeadLettered,
		LastError: handlerErr.Error(),
	}); err != nil {
		d.logger.Warn("failed to mark event dead-lettered",
			zap.String("eventId", rec.ID), zap.Error(err))
		return
	}

	dl := &storage.DeadLetterRecord{
		ID:              uuid.NewString(),
		OriginalEventID: rec.ID,
		ScopeKey:        rec.ScopeKey,
		EventType:       rec.EventType,
		Reason:          fmt.Sprintf("max attempts exceeded: %v", handlerErr),
		CorrelationID:   rec.CorrelationID,
		DeadLetteredUTC: time.Now().UTC(),
		Payload:         Redact(rec.Payload),
	}
	if err := d.store.PutDeadLetter(ctx, dl); err != nil {
		d.logger.Error("failed to persist dead letter",
			zap.String("eventId", rec.ID), zap.Error(err))
	}

	d.emitter.Emit(ctx, telemetry.EventWorldEventDeadLettered, map[string]interface{}{
		"eventId":   rec.ID,
		"scopeKey":  rec.ScopeKey,
		"eventType": rec.EventType,
		"reason":    dl.Reason,
	})
	d.logger.Warn("event dead-lettered",
		zap.String("eventId", rec.ID),
		zap.String("eventType", rec.EventType),
		zap.Error(handlerErr))
}
