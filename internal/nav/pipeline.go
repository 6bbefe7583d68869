package nav

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"lukechampine.com/blake3"

	"github.com/openmud/aether/internal/clock"
	"github.com/openmud/aether/internal/direction"
	"github.com/openmud/aether/internal/storage"
	"github.com/openmud/aether/internal/telemetry"
	"github.com/openmud/aether/internal/world"
)

// MoveOutcome classifies an attempted move.
type MoveOutcome string

const (
	// OutcomeMoved means the player traversed a hard exit.
	OutcomeMoved MoveOutcome = "moved"
	// OutcomeAmbiguous means the raw input needs clarification.
	OutcomeAmbiguous MoveOutcome = "ambiguous"
	// OutcomeInvalidDirection means the raw input matched no direction.
	OutcomeInvalidDirection MoveOutcome = "invalid-direction"
	// OutcomeBlocked means the direction is permanently forbidden here.
	OutcomeBlocked MoveOutcome = "blocked"
	// OutcomeGenerate means there is no hard exit yet; the caller receives a
	// generation hint instead of a destination.
	OutcomeGenerate MoveOutcome = "generate"
)

// GenerationHint tells the caller where new world could be grown.
type GenerationHint struct {
	OriginLocationID string `json:"originLocationId"`
	Direction        string `json:"direction"`
}

// MoveResult is the outcome of one pipeline run. Location is set only for
// OutcomeMoved; Hint only for OutcomeGenerate.
type MoveResult struct {
	Outcome       MoveOutcome
	Canonical     string
	Clarification string
	BlockedReason string
	Location      *storage.Location
	Hint          *GenerationHint
}

// MoveInput is raw player intent. FromID may be empty: the player's current
// location wins, then the configured starter location.
type MoveInput struct {
	FromID       string
	RawDirection string
	PlayerGUID   string
}

// Pipeline executes moves end to end: normalization, availability, graph
// traversal, state updates and the durable Location.Move event.
type Pipeline struct {
	graph     *world.Graph
	players   storage.PlayerStore
	clocks    *clock.Service
	events    storage.EventStore
	headings  HeadingStore
	debouncer *Debouncer
	emitter   *telemetry.Emitter
	logger    *zap.Logger

	starterLocationID string
	now               func() time.Time
}

// NewPipeline wires a move pipeline.
func NewPipeline(graph *world.Graph, players storage.PlayerStore, clocks *clock.Service, events storage.EventStore, headings HeadingStore, debouncer *Debouncer, emitter *telemetry.Emitter, logger *zap.Logger, starterLocationID string) *Pipeline {
	return &Pipeline{
		graph:             graph,
		players:           players,
		clocks:            clocks,
		events:            events,
		headings:          headings,
		debouncer:         debouncer,
		emitter:           emitter,
		logger:            logger.Named("nav.pipeline"),
		starterLocationID: starterLocationID,
		now:               time.Now,
	}
}

// subjectHash is a short blake3 digest of player and origin, used in hint
// telemetry instead of raw identifiers.
func subjectHash(playerID, originID string) string {
	sum := blake3.Sum256([]byte(playerID + "|" + originID))
	return hex.EncodeToString(sum[:8])
}

// Move runs the pipeline. Expected outcomes (ambiguous input, blocked exits,
// generation hints) come back in the result; only infrastructure failures
// return an error.
func (p *Pipeline) Move(ctx context.Context, in MoveInput) (*MoveResult, error) {
	heading := direction.Direction("")
	if in.PlayerGUID != "" {
		if h, err := p.headings.Get(ctx, in.PlayerGUID); err != nil {
			p.logger.Warn("heading lookup failed", zap.Error(err))
		} else {
			heading = h
		}
	}

	norm := direction.Normalize(in.RawDirection, heading)
	switch norm.Status {
	case direction.StatusAmbiguous:
		p.emitter.Emit(ctx, telemetry.EventNavInputAmbiguous, map[string]interface{}{
			"rawInput":      in.RawDirection,
			"clarification": norm.Clarification,
		})
		return &MoveResult{Outcome: OutcomeAmbiguous, Clarification: norm.Clarification}, nil
	case direction.StatusUnknown:
		p.emitter.Emit(ctx, telemetry.EventLocationMove, map[string]interface{}{
			"status":   400,
			"reason":   "invalid-direction",
			"rawInput": in.RawDirection,
		})
		return &MoveResult{Outcome: OutcomeInvalidDirection, Clarification: norm.Clarification}, nil
	}
	canonical := string(norm.Canonical)
	p.emitter.Emit(ctx, telemetry.EventNavInputParsed, map[string]interface{}{
		"rawInput":  in.RawDirection,
		"canonical": canonical,
	})

	fromID, err := p.resolveOrigin(ctx, in)
	if err != nil {
		return nil, err
	}

	from, err := p.graph.Get(ctx, fromID)
	if err != nil {
		return nil, err
	}

	info, known := world.DetermineAvailability(canonical, from.Exits, from.ExitMeta)
	if known && info.Availability == world.AvailabilityForbidden {
		p.emitter.Emit(ctx, telemetry.EventNavMoveBlocked, map[string]interface{}{
			"from":      fromID,
			"direction": canonical,
			"reason":    info.Reason,
		})
		return &MoveResult{
			Outcome:       OutcomeBlocked,
			Canonical:     canonical,
			BlockedReason: info.Reason,
		}, nil
	}
	if !known || info.Availability == world.AvailabilityPending {
		return p.generateHint(ctx, in, fromID, canonical), nil
	}

	to, err := p.graph.Move(ctx, fromID, canonical)
	if err != nil {
		return nil, fmt.Errorf("move %s from %s: %w", canonical, fromID, err)
	}

	if err := p.commitMove(ctx, in, from, to, canonical); err != nil {
		return nil, err
	}

	p.emitter.Emit(ctx, telemetry.EventNavMoveSuccess, map[string]interface{}{
		"from":      from.ID,
		"to":        to.ID,
		"direction": canonical,
	})
	p.emitter.Emit(ctx, telemetry.EventLocationMove, map[string]interface{}{
		"status":    200,
		"from":      from.ID,
		"to":        to.ID,
		"direction": canonical,
		"rawInput":  in.RawDirection,
	})

	return &MoveResult{Outcome: OutcomeMoved, Canonical: canonical, Location: to}, nil
}

// resolveOrigin picks the location the move starts from.
func (p *Pipeline) resolveOrigin(ctx context.Context, in MoveInput) (string, error) {
	if in.FromID != "" {
		return in.FromID, nil
	}
	if in.PlayerGUID != "" {
		player, err := p.players.GetPlayer(ctx, in.PlayerGUID)
		if err == nil && player.CurrentLocationID != "" {
			return player.CurrentLocationID, nil
		}
	}
	if p.starterLocationID != "" {
		return p.starterLocationID, nil
	}
	return "", &storage.ErrInvalidInput{Field: "from", Message: "no origin location and no starter configured"}
}

// generateHint emits a debounced exit-generation hint and returns the
// generate outcome.
func (p *Pipeline) generateHint(ctx context.Context, in MoveInput, fromID, canonical string) *MoveResult {
	playerID := in.PlayerGUID
	if playerID == "" {
		playerID = "anonymous"
	}

	emit, debounceHit := p.debouncer.ShouldEmit(ctx, playerID, fromID, canonical)
	if emit {
		p.emitter.Emit(ctx, telemetry.EventNavExitGenRequested, map[string]interface{}{
			"originLocationId": fromID,
			"direction":        canonical,
			"subjectHash":      subjectHash(playerID, fromID),
		})
	} else if debounceHit {
		p.logger.Debug("exit generation hint debounced",
			zap.String("from", fromID),
			zap.String("direction", canonical))
	}

	return &MoveResult{
		Outcome:   OutcomeGenerate,
		Canonical: canonical,
		Hint:      &GenerationHint{OriginLocationID: fromID, Direction: canonical},
	}
}

// commitMove applies the side effects of a successful traversal: heading,
// player position, destination clock anchor and the durable event. Heading
// failure is tolerable; everything else fails the move.
func (p *Pipeline) commitMove(ctx context.Context, in MoveInput, from, to *storage.Location, canonical string) error {
	if in.PlayerGUID != "" {
		if err := p.headings.Set(ctx, in.PlayerGUID, direction.Direction(canonical)); err != nil {
			p.logger.Warn("heading update failed", zap.Error(err))
		}

		player, err := p.players.GetPlayer(ctx, in.PlayerGUID)
		if err == nil {
			player.CurrentLocationID = to.ID
			player.UpdatedUTC = p.now().UTC()
			if err := p.players.PutPlayer(ctx, player); err != nil {
				return fmt.Errorf("updating player location: %w", err)
			}
		}
	}

	if _, err := p.clocks.Anchor(ctx, to.ID); err != nil {
		return fmt.Errorf("anchoring destination clock: %w", err)
	}

	actorKind := storage.ActorSystem
	if in.PlayerGUID != "" {
		actorKind = storage.ActorPlayer
	}
	_, _, err := p.events.AppendEvent(ctx, &storage.WorldEventRecord{
		ID:            uuid.NewString(),
		ScopeKey:      storage.ScopeLocation(from.ID),
		EventType:     telemetry.EventLocationMove,
		OccurredUTC:   p.now().UTC(),
		ActorKind:     actorKind,
		ActorID:       in.PlayerGUID,
		CorrelationID: telemetry.CorrelationIDFrom(ctx),
		Payload: map[string]interface{}{
			"from":      from.ID,
			"to":        to.ID,
			"direction": canonical,
			"rawInput":  in.RawDirection,
		},
	})
	if err != nil {
		return fmt.Errorf("appending move event: %w", err)
	}
	return nil
}
