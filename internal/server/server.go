// Package server exposes the aether world engine over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/openmud/aether/internal/clock"
	"github.com/openmud/aether/internal/config"
	"github.com/openmud/aether/internal/expansion"
	"github.com/openmud/aether/internal/layers"
	"github.com/openmud/aether/internal/metrics"
	"github.com/openmud/aether/internal/nav"
	"github.com/openmud/aether/internal/search"
	"github.com/openmud/aether/internal/snapshot"
	"github.com/openmud/aether/internal/storage"
	"github.com/openmud/aether/internal/telemetry"
	"github.com/openmud/aether/internal/world"
)

// Server is the aether HTTP server.
type Server struct {
	cfg     *config.Config
	logger  *zap.Logger
	router  *gin.Engine
	server  *http.Server
	metrics *metrics.Metrics

	players   storage.PlayerStore
	events    storage.EventStore
	graph     *world.Graph
	clocks    *clock.Service
	layers    *layers.Service
	pipeline  *nav.Pipeline
	expansion *expansion.Orchestrator
	snapshots *snapshot.Service
	search    *search.Index
	stream    *telemetry.StreamHub
	emitter   *telemetry.Emitter
}

// Deps carries the domain services the handlers dispatch to. Search and
// Stream may be nil when those features are disabled.
type Deps struct {
	Players   storage.PlayerStore
	Events    storage.EventStore
	Graph     *world.Graph
	Clocks    *clock.Service
	Layers    *layers.Service
	Pipeline  *nav.Pipeline
	Expansion *expansion.Orchestrator
	Snapshots *snapshot.Service
	Search    *search.Index
	Stream    *telemetry.StreamHub
	Emitter   *telemetry.Emitter
}

// New creates the HTTP server with routes and middleware configured.
func New(cfg *config.Config, deps Deps, logger *zap.Logger) *Server {
	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	emitter := deps.Emitter
	if emitter == nil {
		emitter = telemetry.NewEmitter(telemetry.NoopSink{}, cfg.World.ServiceName, cfg.Storage.Mode)
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger.Named("server"),
		router:    gin.New(),
		metrics:   metrics.Default(),
		players:   deps.Players,
		events:    deps.Events,
		graph:     deps.Graph,
		clocks:    deps.Clocks,
		layers:    deps.Layers,
		pipeline:  deps.Pipeline,
		expansion: deps.Expansion,
		snapshots: deps.Snapshots,
		search:    deps.Search,
		stream:    deps.Stream,
		emitter:   emitter,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.securityHeadersMiddleware())
	s.router.Use(s.correlationMiddleware())
	s.router.Use(s.loggingMiddleware())
	s.router.Use(s.corsMiddleware())

	s.router.Use(s.rateLimitMiddleware(RateLimitConfig{
		Enabled:           s.cfg.Server.RateLimitRPS > 0,
		RequestsPerSecond: s.cfg.Server.RateLimitRPS,
		BurstSize:         s.cfg.Server.RateLimitRPS * 2,
	}))

	s.router.Use(s.authMiddleware(AuthConfig{
		Enabled: s.cfg.Server.APIKey != "",
		APIKeys: []string{s.cfg.Server.APIKey},
		SkipPaths: []string{
			"/api/ping",
			"/api/backend/health",
			"/metrics",
		},
	}))

	s.router.Use(s.timeoutMiddleware())
}

func (s *Server) setupRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api")
	{
		api.GET("/ping", s.ping)
		api.GET("/backend/health", s.health)

		player := api.Group("/player")
		{
			player.GET("/bootstrap", s.bootstrapPlayer)
			player.GET("/get", s.getPlayer)
			player.POST("/link", s.linkPlayer)
			player.POST("/move", s.movePlayer)
			player.GET("/move", s.movePlayer)
		}

		location := api.Group("/location")
		{
			location.GET("", s.getLocation)
			location.GET("/look", s.lookLocation)
			location.GET("/occupants", s.locationOccupants)
		}

		worldGroup := api.Group("/world")
		{
			worldGroup.POST("/generate-area", s.generateArea)
			worldGroup.POST("/link-rooms", s.linkRooms)
			worldGroup.GET("/clock", s.getClock)
			worldGroup.POST("/clock/advance", s.advanceClock)
		}

		events := api.Group("/events")
		{
			events.GET("", s.queryEvents)
			events.GET("/recent", s.recentEvents)
			events.GET("/stream", s.streamEvents)
		}

		admin := api.Group("/admin")
		{
			admin.GET("/search", s.adminSearch)
			admin.GET("/snapshot/export", s.snapshotExport)
			admin.POST("/snapshot/import", s.snapshotImport)
		}
	}
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Server.HTTPPort)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Router returns the Gin router (for testing).
func (s *Server) Router() *gin.Engine {
	return s.router
}
