// Package main provides the entry point for the aether world engine daemon.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/openmud/aether/internal/clock"
	"github.com/openmud/aether/internal/config"
	"github.com/openmud/aether/internal/events"
	"github.com/openmud/aether/internal/expansion"
	"github.com/openmud/aether/internal/layers"
	"github.com/openmud/aether/internal/nav"
	"github.com/openmud/aether/internal/scheduler"
	"github.com/openmud/aether/internal/search"
	"github.com/openmud/aether/internal/server"
	"github.com/openmud/aether/internal/snapshot"
	"github.com/openmud/aether/internal/storage"
	"github.com/openmud/aether/internal/storage/badger"
	"github.com/openmud/aether/internal/storage/memory"
	"github.com/openmud/aether/internal/telemetry"
	"github.com/openmud/aether/internal/world"
)

// Build-time variables (set via ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const (
	layerCacheSize    = 1024
	costFlushInterval = time.Minute
	starterName       = "The Crossroads"
	starterDesc       = "Dusty roads meet at a weathered signpost. The world grows outward from here."
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	logger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting aether",
		zap.String("version", Version),
		zap.String("commit", Commit),
		zap.String("build_time", BuildTime),
		zap.String("storage_mode", cfg.Storage.Mode),
	)

	// Initialize storage
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		logger.Info("closing storage")
		if err := store.Close(); err != nil {
			logger.Error("failed to close storage", zap.Error(err))
		}
	}()

	// Telemetry: structured events fan out to the log and, for connected
	// admin clients, the websocket stream.
	stream := telemetry.NewStreamHub(logger, cfg.Telemetry.StreamBuffer)
	defer stream.Close()
	sink := telemetry.MultiSink{telemetry.NewZapSink(logger), stream}
	emitter := telemetry.NewEmitter(sink, cfg.World.ServiceName, cfg.Storage.Mode)
	costs := telemetry.NewCostAggregator(emitter, cfg.Telemetry.CostSoftLimitMicroUSD)

	// Domain services
	graph := world.NewGraph(store, emitter, logger)
	clocks := clock.NewService(store, store, emitter, logger, clock.Options{
		Temporal:       temporalConfig(cfg),
		AdvanceRetries: cfg.Clock.AdvanceRetries,
	})
	layerSvc, err := layers.NewService(store, store, store, emitter, logger, layerCacheSize)
	if err != nil {
		return fmt.Errorf("failed to initialize layer service: %w", err)
	}

	headings, err := headingStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize heading store: %w", err)
	}
	debouncer := nav.NewDebouncer(store, cfg.Nav.ExitHintDebounce, logger)
	pipeline := nav.NewPipeline(graph, store, clocks, store, headings, debouncer,
		emitter, logger, cfg.World.StarterLocationID)

	orchestrator := expansion.NewOrchestrator(store, store, store, emitter, logger,
		cfg.Expansion.MaxBudget, cfg.World.StarterLocationID)
	snapshots := snapshot.NewService(store, emitter, logger)

	if err := ensureStarterLocation(graph, cfg.World.StarterLocationID); err != nil {
		return fmt.Errorf("failed to seed starter location: %w", err)
	}

	backgroundCtx, cancelBackground := context.WithCancel(context.Background())
	defer cancelBackground()

	// Admin search index, rebuilt from storage on every boot.
	var index *search.Index
	if cfg.Search.Enabled {
		index, err = search.New(search.Config{Path: cfg.Search.Path, InMemory: cfg.Search.InMemory}, emitter, logger)
		if err != nil {
			return fmt.Errorf("failed to open search index: %w", err)
		}
		defer func() {
			if err := index.Close(); err != nil {
				logger.Error("failed to close search index", zap.Error(err))
			}
		}()

		docs, err := index.Rebuild(backgroundCtx, store, store)
		if err != nil {
			return fmt.Errorf("failed to rebuild search index: %w", err)
		}
		logger.Info("search index rebuilt", zap.Int("documents", docs))
	}

	// Event dispatcher drives durable envelopes: area generation plus the
	// search index refresh for whatever that generation produced.
	dispatcher := events.NewDispatcher(store, emitter, logger, events.Options{
		MaxAttempts:      cfg.Events.MaxAttempts,
		RetryBackoff:     cfg.Events.RetryBackoff,
		DispatchInterval: cfg.Events.DispatchInterval,
	})
	worker := expansion.NewWorker(graph, layerSvc, store, store, nil, costs, emitter, logger)
	dispatcher.Register(telemetry.EventWorldAreaGenRequested, generationHandler(worker, index, graph, logger))
	dispatcher.Watch(storage.ScopeLocationPrefix)
	dispatcher.Watch(storage.ScopeGlobal)
	go dispatcher.Run(backgroundCtx)

	// Background jobs
	sched := scheduler.New(emitter, logger)
	jobs := []struct {
		name     string
		interval time.Duration
		fn       scheduler.JobFunc
	}{
		{scheduler.JobClockAdvance, cfg.Clock.AdvanceInterval, scheduler.ClockAdvanceJob(clocks, store)},
		{scheduler.JobLayerIntegrity, cfg.Integrity.Interval, scheduler.LayerIntegrityJob(layerSvc, layers.IntegrityConfig{
			BatchSize:    cfg.Integrity.BatchSize,
			RecomputeAll: cfg.Integrity.RecomputeAll,
		})},
		{scheduler.JobCostFlush, costFlushInterval, scheduler.CostFlushJob(costs)},
	}
	for _, j := range jobs {
		if err := sched.Add(j.name, j.interval, j.fn); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", j.name, err)
		}
	}
	go sched.Run(backgroundCtx)

	// Initialize HTTP server
	srv := server.New(cfg, server.Deps{
		Players:   store,
		Events:    store,
		Graph:     graph,
		Clocks:    clocks,
		Layers:    layerSvc,
		Pipeline:  pipeline,
		Expansion: orchestrator,
		Snapshots: snapshots,
		Search:    index,
		Stream:    stream,
		Emitter:   emitter,
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	}

	// Graceful shutdown: stop accepting requests, then stop the background
	// loops and flush open cost windows.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGracePeriod)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	cancelBackground()
	costs.FlushAll(ctx)

	logger.Info("server stopped gracefully")
	return nil
}

func initLogger(cfg *config.Config) (*zap.Logger, error) {
	var level zapcore.Level
	switch cfg.Log.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Log.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Log.Output != "" && cfg.Log.Output != "stdout" {
		zapCfg.OutputPaths = []string{cfg.Log.Output}
	}

	return zapCfg.Build()
}

func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Mode {
	case "memory":
		return memory.New(memory.Options{ClockHistoryLimit: cfg.Clock.HistoryLimit}), nil
	case "badger":
		return badger.New(&badger.Options{
			DataDir:           cfg.Storage.DataDir,
			SyncWrites:        cfg.Storage.SyncWrites,
			Containers:        badgerContainers(cfg),
			ClockHistoryLimit: cfg.Clock.HistoryLimit,
		})
	default:
		return nil, fmt.Errorf("unknown storage mode: %s", cfg.Storage.Mode)
	}
}

// badgerContainers maps the configured container names onto the badger key
// prefixes, keeping defaults for the families config does not name.
func badgerContainers(cfg *config.Config) badger.Containers {
	containers := badger.DefaultContainers()
	cc := cfg.Storage.Containers
	if cc.Events != "" {
		containers.Events = cc.Events
	}
	if cc.Layers != "" {
		containers.Layers = cc.Layers
	}
	if cc.WorldClock != "" {
		containers.WorldClock = cc.WorldClock
	}
	if cc.LocationClocks != "" {
		containers.LocationClocks = cc.LocationClocks
	}
	if cc.DeadLetters != "" {
		containers.DeadLetters = cc.DeadLetters
	}
	if cc.Debounce != "" {
		containers.Debounce = cc.Debounce
	}
	if cc.Processed != "" {
		containers.Processed = cc.Processed
	}
	return containers
}

func temporalConfig(cfg *config.Config) clock.TemporalConfig {
	return clock.TemporalConfig{
		EpsilonMs:           cfg.Temporal.EpsilonMs,
		SlowThresholdMs:     cfg.Temporal.SlowThresholdMs,
		CompressThresholdMs: cfg.Temporal.CompressThresholdMs,
		DriftRate:           cfg.Temporal.DriftRate,
		WaitMaxStepMs:       cfg.Temporal.WaitMaxStepMs,
		SlowMaxStepMs:       cfg.Temporal.SlowMaxStepMs,
	}
}

func headingStore(cfg *config.Config) (nav.HeadingStore, error) {
	switch cfg.Nav.HeadingStore {
	case "memory":
		return nav.NewMemoryHeadingStore(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr: cfg.Nav.RedisAddr,
			DB:   cfg.Nav.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis unreachable at %s: %w", cfg.Nav.RedisAddr, err)
		}
		return nav.NewRedisHeadingStore(client), nil
	default:
		return nil, fmt.Errorf("unknown heading store: %s", cfg.Nav.HeadingStore)
	}
}

// ensureStarterLocation seeds the configured starter location on first boot
// so bootstrap and movement have somewhere to land.
func ensureStarterLocation(graph *world.Graph, starterID string) error {
	if starterID == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := graph.Get(ctx, starterID)
	if err == nil {
		return nil
	}
	var notFound *storage.ErrNotFound
	if !errors.As(err, &notFound) {
		return err
	}

	_, err = graph.Upsert(ctx, world.UpsertInput{
		ID:          starterID,
		Name:        starterName,
		Description: starterDesc,
	})
	return err
}

// generationHandler runs the expansion worker, then folds whatever the pass
// produced into the search index. Index failures only log: the world state is
// already durable and the index rebuilds on restart.
func generationHandler(worker *expansion.Worker, index *search.Index, graph *world.Graph, logger *zap.Logger) events.Handler {
	return func(ctx context.Context, rec *storage.WorldEventRecord) error {
		if err := worker.Handle(ctx, rec); err != nil {
			return err
		}
		if index == nil {
			return nil
		}

		locations, err := graph.ListAll(ctx)
		if err != nil {
			logger.Warn("failed to list locations for indexing", zap.Error(err))
			return nil
		}
		for _, loc := range locations {
			if err := index.IndexLocation(ctx, loc); err != nil {
				logger.Warn("failed to index generated location",
					zap.String("locationId", loc.ID), zap.Error(err))
			}
		}
		return nil
	}
}
