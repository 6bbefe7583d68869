package expansion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/openmud/aether/internal/layers"
	"github.com/openmud/aether/internal/storage"
	"github.com/openmud/aether/internal/telemetry"
	"github.com/openmud/aether/internal/world"
)

// Worker consumes World.Area.GenerationRequested envelopes and materializes
// the proposed area. Errors propagate to the dispatcher, which retries and
// eventually dead-letters the envelope.
type Worker struct {
	graph     *world.Graph
	layers    *layers.Service
	realms    storage.RealmStore
	locations storage.LocationStore
	generator DescriptionGenerator
	costs     *telemetry.CostAggregator
	emitter   *telemetry.Emitter
	logger    *zap.Logger
}

// NewWorker wires a generation worker. A nil generator gets the deterministic
// template default; a nil cost aggregator skips usage accounting.
func NewWorker(graph *world.Graph, layerSvc *layers.Service, realms storage.RealmStore, locations storage.LocationStore, generator DescriptionGenerator, costs *telemetry.CostAggregator, emitter *telemetry.Emitter, logger *zap.Logger) *Worker {
	if generator == nil {
		generator = NewTemplateGenerator()
	}
	return &Worker{
		graph:     graph,
		layers:    layerSvc,
		realms:    realms,
		locations: locations,
		generator: generator,
		costs:     costs,
		emitter:   emitter,
		logger:    logger.Named("expansion.worker"),
	}
}

// Handle is the dispatcher handler for generation envelopes.
func (w *Worker) Handle(ctx context.Context, rec *storage.WorldEventRecord) error {
	anchorID := payloadString(rec.Payload, "anchorLocationId")
	if anchorID == "" {
		anchorID = strings.TrimPrefix(rec.ScopeKey, storage.ScopeLocationPrefix)
	}
	if anchorID == "" {
		return &storage.ErrInvalidInput{Field: "anchorLocationId", Message: "missing from envelope"}
	}

	anchor, err := w.locations.GetLocation(ctx, anchorID)
	if err != nil {
		return fmt.Errorf("loading anchor %s: %w", anchorID, err)
	}

	terrain := world.Terrain(payloadString(rec.Payload, "terrain"))
	budget := payloadInt(rec.Payload, "budget")
	if budget < 1 {
		budget = 1
	}
	hints := payloadStrings(rec.Payload, "realmHints")

	realmID, err := w.ensureRealms(ctx, anchor, hints)
	if err != nil {
		return err
	}

	area, err := w.generator.Generate(ctx, GenerationPrompt{
		Anchor:     anchor,
		Terrain:    terrain,
		Budget:     budget,
		RealmHints: hints,
		Guidance:   world.GuidanceFor(terrain),
	})
	if err != nil {
		return fmt.Errorf("generating area at %s: %w", anchorID, err)
	}
	if w.costs != nil && area.Usage.ModelID != "" {
		w.costs.Record(ctx, area.Usage.ModelID, area.Usage.PromptTokens, area.Usage.CompletionTokens, area.Usage.MicroUSD)
	}
	proposals := area.Locations
	if len(proposals) > budget {
		proposals = proposals[:budget]
	}

	ids := make([]string, len(proposals))
	specs := make([]world.ExitSpec, 0, len(proposals))
	for i, proposal := range proposals {
		if err := ctx.Err(); err != nil {
			return err
		}

		res, err := w.graph.Upsert(ctx, world.UpsertInput{
			Name:        proposal.Name,
			Description: proposal.Description,
			RealmID:     realmID,
		})
		if err != nil {
			return fmt.Errorf("creating generated location %q: %w", proposal.Name, err)
		}
		ids[i] = res.ID

		fromID := anchor.ID
		if proposal.AttachTo >= 0 && proposal.AttachTo < i {
			fromID = ids[proposal.AttachTo]
		}
		specs = append(specs, world.ExitSpec{
			FromID:     fromID,
			Direction:  proposal.Direction,
			ToID:       res.ID,
			Reciprocal: true,
		})

		w.emitter.Emit(ctx, telemetry.EventWorldLocationGenerated, map[string]interface{}{
			"locationId": res.ID,
			"anchorId":   anchor.ID,
			"terrain":    string(terrain),
		})
	}

	applied, err := w.graph.ApplyExits(ctx, specs)
	if err != nil {
		return fmt.Errorf("wiring generated exits: %w", err)
	}

	for i, proposal := range proposals {
		if proposal.BaseLayer == "" {
			continue
		}
		if _, err := w.layers.SetForLocation(ctx, ids[i], layers.SetInput{
			LayerType: storage.LayerBase,
			Value:     proposal.BaseLayer,
		}); err != nil {
			return fmt.Errorf("writing base layer for %s: %w", ids[i], err)
		}
	}

	w.logger.Info("area generated",
		zap.String("anchorId", anchor.ID),
		zap.String("terrain", string(terrain)),
		zap.Int("locations", len(proposals)),
		zap.Int("exitsCreated", applied.ExitsCreated),
		zap.Int("reciprocal", applied.ReciprocalApplied))
	return nil
}

// ensureRealms creates realm records for unseen hints and picks the realm the
// generated locations belong to: the first hint wins, else the anchor's.
func (w *Worker) ensureRealms(ctx context.Context, anchor *storage.Location, hints []string) (string, error) {
	realmID := anchor.RealmID
	for i, hint := range hints {
		if hint == "" {
			continue
		}
		if _, err := w.realms.GetRealm(ctx, hint); err != nil {
			var notFound *storage.ErrNotFound
			if !errors.As(err, &notFound) {
				return "", err
			}
			if err := w.realms.PutRealm(ctx, &storage.Realm{
				ID:       hint,
				Name:     hint,
				Tier:     storage.TierLocal,
				ParentID: anchor.RealmID,
			}); err != nil {
				return "", fmt.Errorf("creating realm %q: %w", hint, err)
			}
		}
		if i == 0 {
			realmID = hint
		}
	}
	return realmID, nil
}

func payloadString(payload map[string]interface{}, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

// payloadInt tolerates both in-memory ints and JSON-decoded float64s.
func payloadInt(payload map[string]interface{}, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func payloadStrings(payload map[string]interface{}, key string) []string {
	switch v := payload[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
