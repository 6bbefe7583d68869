package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openmud/aether/internal/nav"
	"github.com/openmud/aether/internal/storage"
	"github.com/openmud/aether/internal/telemetry"
	"github.com/openmud/aether/internal/world"
)

// lookLayerTypes is the resolution order for the look view.
var lookLayerTypes = []storage.LayerType{
	storage.LayerBase,
	storage.LayerAmbient,
	storage.LayerDynamic,
	storage.LayerWeather,
	storage.LayerLighting,
}

// ping answers a liveness probe, echoing ?msg when given.
func (s *Server) ping(c *gin.Context) {
	start := time.Now()
	reply := "pong"
	if msg := c.Query("msg"); msg != "" {
		reply = "pong: " + msg
	}

	s.emitter.Emit(c.Request.Context(), telemetry.EventPingInvoked, map[string]interface{}{
		"hasMessage": c.Query("msg") != "",
	})

	respondOK(c, gin.H{
		"reply":     reply,
		"latencyMs": time.Since(start).Milliseconds(),
	})
}

func (s *Server) health(c *gin.Context) {
	start := time.Now()
	respondOK(c, gin.H{
		"status":    "ok",
		"service":   s.cfg.World.ServiceName,
		"latencyMs": time.Since(start).Milliseconds(),
	})
}

// bootstrapPlayer creates a guest player, or returns the existing one when
// the x-player-guid header names a known player. A supplied but unknown guid
// is honored so retries are idempotent.
func (s *Server) bootstrapPlayer(c *gin.Context) {
	ctx := c.Request.Context()
	guid := c.GetHeader("x-player-guid")

	s.emitter.Emit(ctx, telemetry.EventOnboardingGuestStarted, map[string]interface{}{
		"hasGuid": guid != "",
	})

	if guid != "" {
		if _, err := uuid.Parse(guid); err != nil {
			respondError(c, http.StatusBadRequest, "InvalidInput", "x-player-guid must be a UUID", nil)
			return
		}

		player, err := s.players.GetPlayer(ctx, guid)
		if err == nil {
			s.emitter.Emit(ctx, telemetry.EventOnboardingGuestCompleted, map[string]interface{}{
				"created": false,
			})
			c.Header("x-player-guid", player.ID)
			respondOK(c, gin.H{"playerGuid": player.ID, "player": player, "created": false})
			return
		}
		var notFound *storage.ErrNotFound
		if !errors.As(err, &notFound) {
			s.respondDomainError(c, err)
			return
		}
	}

	id := guid
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	player := &storage.Player{
		ID:                id,
		Guest:             true,
		CurrentLocationID: s.cfg.World.StarterLocationID,
		CreatedUTC:        now,
		UpdatedUTC:        now,
	}
	if err := s.players.PutPlayer(ctx, player); err != nil {
		s.respondDomainError(c, err)
		return
	}

	s.emitter.Emit(ctx, telemetry.EventOnboardingGuestCreated, map[string]interface{}{
		"startLocationId": player.CurrentLocationID,
	})
	s.emitter.Emit(ctx, telemetry.EventOnboardingGuestCompleted, map[string]interface{}{
		"created": true,
	})

	c.Header("x-player-guid", player.ID)
	respondOK(c, gin.H{"playerGuid": player.ID, "player": player, "created": true})
}

func (s *Server) getPlayer(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		id = c.GetHeader("x-player-guid")
	}
	if id == "" {
		respondError(c, http.StatusBadRequest, "InvalidInput", "player id is required", nil)
		return
	}

	player, err := s.players.GetPlayer(c.Request.Context(), id)
	if err != nil {
		s.respondDomainError(c, err)
		return
	}

	s.emitter.Emit(c.Request.Context(), telemetry.EventPlayerGet, map[string]interface{}{
		"guest": player.Guest,
	})
	respondOK(c, gin.H{"player": player})
}

type linkPlayerRequest struct {
	PlayerGUID string `json:"playerGuid" binding:"required"`
	ExternalID string `json:"externalId" binding:"required"`
}

// linkPlayer binds an external account id to a player. Re-linking the same
// pair is idempotent; an external id held by another player conflicts.
func (s *Server) linkPlayer(c *gin.Context) {
	var req linkPlayerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "InvalidInput", "playerGuid and externalId are required", nil)
		return
	}
	ctx := c.Request.Context()
	externalID := strings.ToLower(strings.TrimSpace(req.ExternalID))
	if externalID == "" {
		respondError(c, http.StatusBadRequest, "InvalidInput", "externalId must not be blank", nil)
		return
	}

	player, err := s.players.GetPlayer(ctx, req.PlayerGUID)
	if err != nil {
		s.respondDomainError(c, err)
		return
	}

	if player.ExternalID == externalID {
		respondOK(c, gin.H{"player": player, "linked": false})
		return
	}
	if player.ExternalID != "" {
		respondError(c, http.StatusConflict, "Conflict", "player is already linked to a different external id", nil)
		return
	}

	player.ExternalID = externalID
	player.Guest = false
	player.UpdatedUTC = time.Now().UTC()
	if err := s.players.PutPlayer(ctx, player); err != nil {
		s.respondDomainError(c, err)
		return
	}

	s.emitter.Emit(ctx, telemetry.EventPlayerLinked, nil)
	respondOK(c, gin.H{"player": player, "linked": true})
}

// movePlayer runs the movement pipeline. A traversal is 200; everything the
// player can fix comes back as 400 with a code naming what to fix.
func (s *Server) movePlayer(c *gin.Context) {
	dir := c.Query("dir")
	if dir == "" {
		respondError(c, http.StatusBadRequest, "InvalidInput", "dir is required", nil)
		return
	}

	start := time.Now()
	result, err := s.pipeline.Move(c.Request.Context(), nav.MoveInput{
		FromID:       c.Query("from"),
		RawDirection: dir,
		PlayerGUID:   c.GetHeader("x-player-guid"),
	})
	if err != nil {
		s.respondDomainError(c, err)
		return
	}

	if s.metrics != nil {
		s.metrics.RecordMove(string(result.Outcome), time.Since(start).Seconds())
	}

	switch result.Outcome {
	case nav.OutcomeMoved:
		respondOK(c, gin.H{
			"outcome":   result.Outcome,
			"direction": result.Canonical,
			"location":  result.Location,
		})
	case nav.OutcomeAmbiguous:
		if s.metrics != nil {
			s.metrics.AmbiguousInputs.Inc()
		}
		respondError(c, http.StatusBadRequest, "Ambiguous", "direction needs clarification", map[string]interface{}{
			"clarification": result.Clarification,
		})
	case nav.OutcomeInvalidDirection:
		respondError(c, http.StatusBadRequest, "InvalidDirection", "unknown direction", map[string]interface{}{
			"rawInput": dir,
		})
	case nav.OutcomeBlocked:
		respondError(c, http.StatusBadRequest, "Blocked", "the way is blocked", map[string]interface{}{
			"direction": result.Canonical,
			"reason":    result.BlockedReason,
		})
	case nav.OutcomeGenerate:
		if s.metrics != nil {
			s.metrics.GenerationHints.Inc()
		}
		respondError(c, http.StatusBadRequest, "Generate", "no exit there yet", map[string]interface{}{
			"direction":      result.Canonical,
			"generationHint": result.Hint,
		})
	default:
		respondError(c, http.StatusInternalServerError, "Internal", "unexpected move outcome", nil)
	}
}

func (s *Server) getLocation(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		respondError(c, http.StatusBadRequest, "InvalidInput", "location id is required", nil)
		return
	}

	loc, err := s.graph.Get(c.Request.Context(), id)
	if err != nil {
		s.respondDomainError(c, err)
		return
	}

	s.emitter.Emit(c.Request.Context(), telemetry.EventLocationGet, map[string]interface{}{
		"locationId": loc.ID,
	})
	respondOK(c, gin.H{"location": loc})
}

// lookLocation returns the location, its resolved exits and every layer
// active at the current world tick.
func (s *Server) lookLocation(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		respondError(c, http.StatusBadRequest, "InvalidInput", "location id is required", nil)
		return
	}
	ctx := c.Request.Context()

	loc, err := s.graph.Get(ctx, id)
	if err != nil {
		s.respondDomainError(c, err)
		return
	}

	exits, warnings := world.BuildExitInfos(loc.Exits, loc.ExitMeta)
	for _, w := range warnings {
		s.logger.Warn("exit metadata conflicts with hard exit",
			zap.String("locationId", loc.ID),
			zap.String("direction", w.Direction))
		s.emitter.Emit(ctx, telemetry.EventDataIntegrityWarning, map[string]interface{}{
			"locationId": loc.ID,
			"direction":  w.Direction,
			"listedAs":   string(w.ListedAs),
		})
	}

	var tick int64
	if wc, err := s.clocks.Get(ctx); err != nil {
		s.respondDomainError(c, err)
		return
	} else if wc != nil {
		tick = wc.CurrentTick
	}

	active := make([]*storage.DescriptionLayer, 0, len(lookLayerTypes))
	for _, lt := range lookLayerTypes {
		layer, err := s.layers.Active(ctx, loc.ID, lt, tick)
		if err != nil {
			s.respondDomainError(c, err)
			return
		}
		if layer != nil {
			active = append(active, layer)
		}
	}

	s.emitter.Emit(ctx, telemetry.EventNavLookIssued, map[string]interface{}{
		"locationId": loc.ID,
		"tick":       tick,
	})

	respondOK(c, gin.H{
		"location": loc,
		"exits":    exits,
		"layers":   active,
		"tick":     tick,
	})
}

type occupantView struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Guest bool   `json:"guest"`
}

// locationOccupants lists players currently at the location.
func (s *Server) locationOccupants(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		respondError(c, http.StatusBadRequest, "InvalidInput", "location id is required", nil)
		return
	}
	ctx := c.Request.Context()

	if _, err := s.graph.Get(ctx, id); err != nil {
		s.respondDomainError(c, err)
		return
	}

	players, err := s.players.ListPlayersByLocation(ctx, id)
	if err != nil {
		s.respondDomainError(c, err)
		return
	}

	occupants := make([]occupantView, 0, len(players))
	for _, p := range players {
		occupants = append(occupants, occupantView{ID: p.ID, Name: p.Name, Guest: p.Guest})
	}

	respondOK(c, gin.H{
		"locationId": id,
		"occupants":  occupants,
		"count":      len(occupants),
	})
}
