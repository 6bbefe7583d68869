// Package telemetry emits structured engine events to pluggable sinks. Every
// event carries the request correlation id and latency; event names come from
// a closed registry so a typo can never mint a new name in dashboards.
//
// Raw prompt or completion text is never emitted. Token counts and
// micro-dollar cost estimates are allowed.
package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is one emitted telemetry record.
type Event struct {
	Name            string                 `json:"name"`
	Timestamp       time.Time              `json:"timestamp"`
	CorrelationID   string                 `json:"correlationId"`
	PlayerGUID      string                 `json:"playerGuid,omitempty"`
	Service         string                 `json:"service"`
	LatencyMs       float64                `json:"latencyMs"`
	PersistenceMode string                 `json:"persistenceMode,omitempty"`
	Fields          map[string]interface{} `json:"fields,omitempty"`
}

// Sink receives emitted events. Implementations never return errors and never
// panic; telemetry failure must not disturb the operation being observed.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

type ctxKey int

const (
	ctxKeyCorrelationID ctxKey = iota
	ctxKeyPlayerGUID
	ctxKeyStart
)

// WithCorrelationID stores the request correlation id on the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyCorrelationID, id)
}

// CorrelationIDFrom returns the correlation id on the context, or empty.
func CorrelationIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyCorrelationID).(string); ok {
		return v
	}
	return ""
}

// EnsureCorrelationID returns the context's correlation id, minting and
// attaching a new UUID when absent.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if id := CorrelationIDFrom(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return WithCorrelationID(ctx, id), id
}

// WithPlayerGUID stores the acting player's guid on the context.
func WithPlayerGUID(ctx context.Context, guid string) context.Context {
	return context.WithValue(ctx, ctxKeyPlayerGUID, guid)
}

// PlayerGUIDFrom returns the player guid on the context, or empty.
func PlayerGUIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyPlayerGUID).(string); ok {
		return v
	}
	return ""
}

// WithStart records when handling began; emitted events derive their latency
// from it.
func WithStart(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ctxKeyStart, t)
}

func startFrom(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(ctxKeyStart).(time.Time)
	return t, ok
}

// Emitter stamps service metadata onto events, enforces the name registry and
// forwards to a sink.
type Emitter struct {
	sink            Sink
	service         string
	persistenceMode string
	now             func() time.Time
}

// NewEmitter builds an emitter for the given service name and persistence
// mode. A nil sink discards everything.
func NewEmitter(sink Sink, service, persistenceMode string) *Emitter {
	if sink == nil {
		sink = NoopSink{}
	}
	return &Emitter{sink: sink, service: service, persistenceMode: persistenceMode, now: time.Now}
}

// Emit sends one event. Unknown names are replaced by EventTelemetryNameInvalid
// carrying the attempted name, so the registry stays closed. Correlation id,
// player guid and latency come from the context.
func (e *Emitter) Emit(ctx context.Context, name string, fields map[string]interface{}) {
	if e == nil {
		return
	}
	if !KnownEventName(name) {
		fields = map[string]interface{}{"attemptedName": name}
		name = EventTelemetryNameInvalid
	}

	ev := Event{
		Name:            name,
		Timestamp:       e.now().UTC(),
		CorrelationID:   CorrelationIDFrom(ctx),
		PlayerGUID:      PlayerGUIDFrom(ctx),
		Service:         e.service,
		PersistenceMode: e.persistenceMode,
		Fields:          fields,
	}
	if start, ok := startFrom(ctx); ok {
		ev.LatencyMs = float64(e.now().Sub(start)) / float64(time.Millisecond)
	}
	e.sink.Emit(ctx, ev)
}

// Observe times fn, emits name with an outcome field and re-raises fn's
// error. It is the wrapper for workers and jobs that live outside the HTTP
// envelope.
func (e *Emitter) Observe(ctx context.Context, name string, fields map[string]interface{}, fn func(context.Context) error) error {
	start := time.Now()
	ctx = WithStart(ctx, start)
	err := fn(ctx)

	out := make(map[string]interface{}, len(fields)+2)
	for k, v := range fields {
		out[k] = v
	}
	if err != nil {
		out["outcome"] = "error"
		out["error"] = err.Error()
	} else {
		out["outcome"] = "success"
	}
	e.Emit(ctx, name, out)
	return err
}

// NoopSink discards every event.
type NoopSink struct{}

// Emit implements Sink.
func (NoopSink) Emit(context.Context, Event) {}

// MultiSink fans out to several sinks in order.
type MultiSink []Sink

// Emit implements Sink.
func (m MultiSink) Emit(ctx context.Context, ev Event) {
	for _, s := range m {
		s.Emit(ctx, ev)
	}
}
