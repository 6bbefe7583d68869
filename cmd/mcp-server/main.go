// Command mcp-server exposes the aether world engine over the Model Context
// Protocol so agent clients can explore and grow the world.
//
// Usage:
//
//	mcp-server [flags]
//
// Flags:
//
//	-data-dir string
//	      Data directory for badger storage (default: in-memory)
//	-starter string
//	      Starter location id for bootstrap and movement fallback
//	-help
//	      Show help
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/openmud/aether/internal/clock"
	"github.com/openmud/aether/internal/events"
	"github.com/openmud/aether/internal/expansion"
	"github.com/openmud/aether/internal/layers"
	"github.com/openmud/aether/internal/nav"
	"github.com/openmud/aether/internal/storage"
	"github.com/openmud/aether/internal/storage/badger"
	"github.com/openmud/aether/internal/storage/memory"
	"github.com/openmud/aether/internal/telemetry"
	"github.com/openmud/aether/internal/world"
	"github.com/openmud/aether/pkg/mcp"
)

const maxGenerationBudget = 20

var (
	dataDir   = flag.String("data-dir", "", "Data directory for badger storage (default: in-memory)")
	starterID = flag.String("starter", "", "Starter location id")
	help      = flag.Bool("help", false, "Show help")
)

func main() {
	flag.Parse()

	if *help {
		printUsage()
		os.Exit(0)
	}

	// Stdout carries the MCP transport; logs go to stderr.
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	var store storage.Store
	if *dataDir == "" {
		store = memory.New(memory.Options{})
	} else {
		store, err = badger.New(&badger.Options{DataDir: *dataDir})
		if err != nil {
			log.Fatalf("Failed to open storage: %v", err)
		}
	}
	defer func() { _ = store.Close() }()

	persistence := "memory"
	if *dataDir != "" {
		persistence = "badger"
	}
	emitter := telemetry.NewEmitter(telemetry.NewZapSink(logger), "aether-mcp", persistence)

	graph := world.NewGraph(store, emitter, logger)
	clocks := clock.NewService(store, store, emitter, logger, clock.Options{})
	layerSvc, err := layers.NewService(store, store, store, emitter, logger, 256)
	if err != nil {
		log.Fatalf("Failed to initialize layer service: %v", err)
	}
	pipeline := nav.NewPipeline(graph, store, clocks, store, nav.NewMemoryHeadingStore(),
		nav.NewDebouncer(store, time.Minute, logger), emitter, logger, *starterID)
	orchestrator := expansion.NewOrchestrator(store, store, store, emitter, logger,
		maxGenerationBudget, *starterID)

	// Materialize generation requests in-process so the generate_area tool
	// produces visible locations without a separate daemon.
	dispatcher := events.NewDispatcher(store, emitter, logger, events.Options{})
	costs := telemetry.NewCostAggregator(emitter, 0)
	defer costs.FlushAll(context.Background())
	worker := expansion.NewWorker(graph, layerSvc, store, store, nil, costs, emitter, logger)
	dispatcher.Register(telemetry.EventWorldAreaGenRequested, worker.Handle)
	dispatcher.Watch(storage.ScopeLocationPrefix)
	dispatcher.Watch(storage.ScopeGlobal)

	server, err := mcp.NewServer(&mcp.Options{
		Logger:    logger,
		Players:   store,
		Realms:    store,
		Events:    store,
		Graph:     graph,
		Clocks:    clocks,
		Layers:    layerSvc,
		Pipeline:  pipeline,
		Expansion: orchestrator,
	})
	if err != nil {
		log.Fatalf("Failed to create MCP server: %v", err)
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	go dispatcher.Run(ctx)

	// Run the server
	if err := server.Run(ctx); err != nil {
		if ctx.Err() == nil {
			log.Fatalf("MCP server error: %v", err)
		}
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Aether MCP Server

A Model Context Protocol server over the aether world engine.

Usage:
  mcp-server [flags]

Flags:
`)
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Example:
  # Ephemeral in-memory world
  mcp-server

  # Persistent world on disk
  mcp-server -data-dir /path/to/data

  # For use with an MCP client, add to its config:
  {
    "mcpServers": {
      "aether": {
        "command": "/path/to/mcp-server",
        "args": ["-data-dir", "/path/to/data"]
      }
    }
  }
`)
}
