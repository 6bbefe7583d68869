package telemetry

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// ZapSink writes events to the service log.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink builds a sink over the given logger.
func NewZapSink(logger *zap.Logger) *ZapSink {
	return &ZapSink{logger: logger.Named("telemetry")}
}

// Emit implements Sink.
func (s *ZapSink) Emit(_ context.Context, ev Event) {
	fields := []zap.Field{
		zap.String("event", ev.Name),
		zap.String("correlationId", ev.CorrelationID),
		zap.String("service", ev.Service),
		zap.Float64("latencyMs", ev.LatencyMs),
	}
	if ev.PlayerGUID != "" {
		fields = append(fields, zap.String("playerGuid", ev.PlayerGUID))
	}
	if ev.PersistenceMode != "" {
		fields = append(fields, zap.String("persistenceMode", ev.PersistenceMode))
	}
	if len(ev.Fields) > 0 {
		fields = append(fields, zap.Any("fields", ev.Fields))
	}
	s.logger.Info("telemetry", fields...)
}

// MemorySink buffers events for inspection in tests.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink builds an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Emit implements Sink.
func (s *MemorySink) Emit(_ context.Context, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

// Events returns a copy of everything emitted so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// ByName returns emitted events with the given name, oldest first.
func (s *MemorySink) ByName(name string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// Reset drops everything recorded so far.
func (s *MemorySink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}
