package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/openmud/aether/internal/expansion"
	"github.com/openmud/aether/internal/storage"
	"github.com/openmud/aether/internal/world"
)

type generateAreaRequest struct {
	AnchorLocationID string   `json:"anchorLocationId"`
	Mode             string   `json:"mode"`
	Budget           int      `json:"budget"`
	RealmHints       []string `json:"realmHints"`
	IdempotencyKey   string   `json:"idempotencyKey"`
}

// generateArea enqueues a bounded area generation request around an anchor.
func (s *Server) generateArea(c *gin.Context) {
	var req generateAreaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "InvalidInput", "malformed request body", nil)
		return
	}

	result, err := s.expansion.RequestGeneration(c.Request.Context(), expansion.Request{
		AnchorLocationID: req.AnchorLocationID,
		Mode:             world.GenerationMode(req.Mode),
		Budget:           req.Budget,
		RealmHints:       req.RealmHints,
		IdempotencyKey:   req.IdempotencyKey,
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordGenerationRequest("rejected")
		}
		s.respondDomainError(c, err)
		return
	}

	if s.metrics != nil {
		outcome := "accepted"
		if result.Duplicate {
			outcome = "duplicate"
		}
		s.metrics.RecordGenerationRequest(outcome)
	}
	respondOK(c, result)
}

type linkRoomsRequest struct {
	OriginID    string `json:"originId" binding:"required"`
	DestID      string `json:"destId" binding:"required"`
	Dir         string `json:"dir" binding:"required"`
	Reciprocal  bool   `json:"reciprocal"`
	Description string `json:"description"`
}

// linkRooms creates a hard exit between two existing locations. An existing
// exit to a different destination conflicts.
func (s *Server) linkRooms(c *gin.Context) {
	var req linkRoomsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "InvalidInput", "originId, destId and dir are required", nil)
		return
	}
	ctx := c.Request.Context()

	if req.Reciprocal {
		forward, reverse, err := s.graph.EnsureExitBidirectional(ctx, req.OriginID, req.Dir, req.DestID, req.Description, "")
		if err != nil {
			s.respondDomainError(c, err)
			return
		}
		respondOK(c, gin.H{"forwardCreated": forward, "reverseCreated": reverse})
		return
	}

	created, err := s.graph.EnsureExit(ctx, req.OriginID, req.Dir, req.DestID, req.Description, "")
	if err != nil {
		s.respondDomainError(c, err)
		return
	}
	respondOK(c, gin.H{"forwardCreated": created, "reverseCreated": false})
}

func (s *Server) getClock(c *gin.Context) {
	wc, err := s.clocks.Get(c.Request.Context())
	if err != nil {
		s.respondDomainError(c, err)
		return
	}
	if wc == nil {
		respondError(c, http.StatusNotFound, "NotFound", "world clock not initialized", nil)
		return
	}
	respondOK(c, gin.H{"clock": wc})
}

type advanceClockRequest struct {
	DurationMs int64  `json:"durationMs"`
	Reason     string `json:"reason"`
}

// advanceClock is the operator advance. CAS races are retried internally; a
// request that still loses surfaces the conflict.
func (s *Server) advanceClock(c *gin.Context) {
	var req advanceClockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "InvalidInput", "malformed request body", nil)
		return
	}
	if req.DurationMs <= 0 {
		respondError(c, http.StatusBadRequest, "InvalidInput", "durationMs must be positive", nil)
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "manual"
	}

	wc, err := s.clocks.AdvanceWithRetry(c.Request.Context(), req.DurationMs, reason)
	if err != nil {
		s.respondDomainError(c, err)
		return
	}

	if s.metrics != nil {
		s.metrics.RecordClockAdvance(reason, wc.CurrentTick)
	}
	respondOK(c, gin.H{"clock": wc})
}

var validEventStatuses = map[storage.EventStatus]bool{
	storage.EventStatusPending:      true,
	storage.EventStatusProcessed:    true,
	storage.EventStatusFailed:       true,
	storage.EventStatusDeadLettered: true,
}

// queryEvents reads one partition of the event log, ordered by occurrence.
func (s *Server) queryEvents(c *gin.Context) {
	scope := c.Query("scope")
	if scope == "" {
		respondError(c, http.StatusBadRequest, "InvalidInput", "scope is required", nil)
		return
	}

	q := storage.EventQuery{Limit: s.cfg.Events.QueryLimit}

	if status := c.Query("status"); status != "" {
		es := storage.EventStatus(status)
		if !validEventStatuses[es] {
			respondError(c, http.StatusBadRequest, "InvalidInput", "unknown event status", map[string]interface{}{
				"status": status,
			})
			return
		}
		q.Status = es
	}

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			respondError(c, http.StatusBadRequest, "InvalidInput", "limit must be a positive integer", nil)
			return
		}
		q.Limit = limit
	}

	for _, bound := range []struct {
		name string
		dst  **time.Time
	}{
		{"from", &q.From},
		{"to", &q.To},
	} {
		raw := c.Query(bound.name)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "InvalidInput", bound.name+" must be RFC3339", nil)
			return
		}
		*bound.dst = &ts
	}

	events, err := s.events.QueryEventsByScope(c.Request.Context(), scope, q)
	if err != nil {
		s.respondDomainError(c, err)
		return
	}

	respondOK(c, gin.H{"events": events, "count": len(events)})
}

// recentEvents returns the newest ingested events across all partitions.
func (s *Server) recentEvents(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondError(c, http.StatusBadRequest, "InvalidInput", "limit must be a positive integer", nil)
			return
		}
		limit = parsed
	}

	events, err := s.events.RecentEvents(c.Request.Context(), limit)
	if err != nil {
		s.respondDomainError(c, err)
		return
	}

	respondOK(c, gin.H{"events": events, "count": len(events)})
}

// streamEvents upgrades to a websocket fed by the telemetry stream hub.
func (s *Server) streamEvents(c *gin.Context) {
	if s.stream == nil {
		respondError(c, http.StatusServiceUnavailable, "Unavailable", "event stream is disabled", nil)
		return
	}
	s.stream.ServeHTTP(c.Writer, c.Request)
}

// adminSearch queries the full text index over locations and layers.
func (s *Server) adminSearch(c *gin.Context) {
	if s.search == nil {
		respondError(c, http.StatusServiceUnavailable, "Unavailable", "search is disabled", nil)
		return
	}

	q := c.Query("q")
	if q == "" {
		respondError(c, http.StatusBadRequest, "InvalidInput", "q is required", nil)
		return
	}
	kind := c.Query("kind")

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondError(c, http.StatusBadRequest, "InvalidInput", "limit must be a positive integer", nil)
			return
		}
		limit = parsed
	}

	start := time.Now()
	results, err := s.search.Search(c.Request.Context(), q, kind, limit)

	metricKind := kind
	if metricKind == "" {
		metricKind = "all"
	}
	if s.metrics != nil {
		s.metrics.RecordSearchQuery(metricKind, err == nil, time.Since(start).Seconds())
	}
	if err != nil {
		s.respondDomainError(c, err)
		return
	}

	respondOK(c, results)
}

// snapshotExport streams an lz4 compressed archive of the whole world.
func (s *Server) snapshotExport(c *gin.Context) {
	c.Header("Content-Type", "application/octet-stream")
	c.Header("Content-Disposition", `attachment; filename="aether-snapshot.lz4"`)

	if err := s.snapshots.Export(c.Request.Context(), c.Writer); err != nil {
		// Headers may already be on the wire; the client sees a truncated
		// stream either way.
		s.logger.Error("snapshot export failed", zap.Error(err))
		if !c.Writer.Written() {
			s.respondDomainError(c, err)
		}
	}
}

// snapshotImport ingests an archive produced by snapshotExport.
func (s *Server) snapshotImport(c *gin.Context) {
	report, err := s.snapshots.Import(c.Request.Context(), c.Request.Body)
	if err != nil {
		s.respondDomainError(c, err)
		return
	}
	respondOK(c, report)
}
