package expansion

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"lukechampine.com/blake3"

	"github.com/openmud/aether/internal/storage"
	"github.com/openmud/aether/internal/telemetry"
	"github.com/openmud/aether/internal/world"
)

// DefaultMaxBudget caps how many locations one generation request may grow.
const DefaultMaxBudget = 20

// Request asks for new world around an anchor location.
type Request struct {
	// AnchorLocationID must be a UUID when set; empty falls back to the
	// configured starter location.
	AnchorLocationID string
	Mode             world.GenerationMode
	Budget           int
	RealmHints       []string
	// IdempotencyKey deduplicates retried requests. Empty derives one from
	// the request contents.
	IdempotencyKey string
}

// Result reports what was enqueued. EnqueuedCount is zero when an earlier
// envelope with the same idempotency key already covers the request.
type Result struct {
	EnqueuedCount    int           `json:"enqueuedCount"`
	EventID          string        `json:"eventId"`
	AnchorLocationID string        `json:"anchorLocationId"`
	IdempotencyKey   string        `json:"idempotencyKey"`
	Terrain          world.Terrain `json:"terrain"`
	Budget           int           `json:"budget"`
	Clamped          bool          `json:"clamped"`
	Duplicate        bool          `json:"duplicate"`
	MaxBudget        int           `json:"maxBudget"`
}

// Orchestrator validates generation requests and enqueues them as durable
// envelopes for the generation worker.
type Orchestrator struct {
	locations storage.LocationStore
	realms    storage.RealmStore
	events    storage.EventStore
	emitter   *telemetry.Emitter
	logger    *zap.Logger

	maxBudget         int
	starterLocationID string
	now               func() time.Time
}

// NewOrchestrator wires an orchestrator. maxBudget <= 0 uses DefaultMaxBudget.
func NewOrchestrator(locations storage.LocationStore, realms storage.RealmStore, events storage.EventStore, emitter *telemetry.Emitter, logger *zap.Logger, maxBudget int, starterLocationID string) *Orchestrator {
	if maxBudget <= 0 {
		maxBudget = DefaultMaxBudget
	}
	return &Orchestrator{
		locations:         locations,
		realms:            realms,
		events:            events,
		emitter:           emitter,
		logger:            logger.Named("expansion"),
		maxBudget:         maxBudget,
		starterLocationID: starterLocationID,
		now:               time.Now,
	}
}

// RequestGeneration validates, deduplicates and enqueues one request.
func (o *Orchestrator) RequestGeneration(ctx context.Context, req Request) (*Result, error) {
	anchorID := req.AnchorLocationID
	if anchorID != "" {
		if _, err := uuid.Parse(anchorID); err != nil {
			return nil, &storage.ErrInvalidInput{Field: "anchorLocationId", Message: "must be a UUID"}
		}
	} else {
		anchorID = o.starterLocationID
	}
	if anchorID == "" {
		return nil, &storage.ErrInvalidInput{Field: "anchorLocationId", Message: "no anchor and no starter configured"}
	}

	anchor, err := o.locations.GetLocation(ctx, anchorID)
	if err != nil {
		return nil, err
	}

	budget := req.Budget
	clamped := false
	if budget < 1 {
		budget = 1
		clamped = req.Budget != 0
	}
	if budget > o.maxBudget {
		budget = o.maxBudget
		clamped = true
	}

	var realm *storage.Realm
	if anchor.RealmID != "" {
		if r, err := o.realms.GetRealm(ctx, anchor.RealmID); err == nil {
			realm = r
		}
	}
	terrain := world.ResolveTerrain(req.Mode, anchor, realm)

	key := req.IdempotencyKey
	if key == "" {
		key = deriveIdempotencyKey(anchorID, req.Mode, budget, req.RealmHints)
	}

	existing, err := o.events.GetEventByIdempotencyKey(ctx, key)
	if err != nil {
		var notFound *storage.ErrNotFound
		if !errors.As(err, &notFound) {
			return nil, err
		}
	} else if existing.Status != storage.EventStatusDeadLettered {
		return &Result{
			EnqueuedCount:    0,
			EventID:          existing.ID,
			AnchorLocationID: anchorID,
			IdempotencyKey:   key,
			Terrain:          terrain,
			Budget:           budget,
			Clamped:          clamped,
			Duplicate:        true,
			MaxBudget:        o.maxBudget,
		}, nil
	} else {
		// The earlier envelope died permanently; re-enqueue under a
		// derived key so the index keeps pointing at the dead letter.
		key = fmt.Sprintf("%s:r-%s", key, uuid.NewString()[:8])
		o.logger.Info("re-enqueueing generation past a dead letter",
			zap.String("anchorId", anchorID),
			zap.String("deadEventId", existing.ID))
	}

	rec := &storage.WorldEventRecord{
		ID:             uuid.NewString(),
		ScopeKey:       storage.ScopeLocation(anchorID),
		EventType:      telemetry.EventWorldAreaGenRequested,
		OccurredUTC:    o.now().UTC(),
		ActorKind:      actorFrom(ctx),
		ActorID:        telemetry.PlayerGUIDFrom(ctx),
		CorrelationID:  telemetry.CorrelationIDFrom(ctx),
		IdempotencyKey: key,
		Payload: map[string]interface{}{
			"anchorLocationId": anchorID,
			"terrain":          string(terrain),
			"budget":           budget,
			"realmHints":       req.RealmHints,
		},
	}
	stored, _, err := o.events.AppendEvent(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("enqueueing generation request: %w", err)
	}

	o.emitter.Emit(ctx, telemetry.EventWorldAreaGenRequested, map[string]interface{}{
		"anchorLocationId": anchorID,
		"terrain":          string(terrain),
		"budget":           budget,
		"clamped":          clamped,
	})

	return &Result{
		EnqueuedCount:    1,
		EventID:          stored.ID,
		AnchorLocationID: anchorID,
		IdempotencyKey:   key,
		Terrain:          terrain,
		Budget:           budget,
		Clamped:          clamped,
		MaxBudget:        o.maxBudget,
	}, nil
}

func actorFrom(ctx context.Context) storage.ActorKind {
	if telemetry.PlayerGUIDFrom(ctx) != "" {
		return storage.ActorPlayer
	}
	return storage.ActorSystem
}

func deriveIdempotencyKey(anchorID string, mode world.GenerationMode, budget int, realmHints []string) string {
	hints := append([]string(nil), realmHints...)
	sort.Strings(hints)
	material := fmt.Sprintf("%s|%s|%d|%s", anchorID, mode, budget, strings.Join(hints, ","))
	sum := blake3.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])
}
