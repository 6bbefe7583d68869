// Package mcp exposes the aether world engine over the Model Context
// Protocol so agent clients can look around, move, and grow the world
// through tools.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/openmud/aether/internal/clock"
	"github.com/openmud/aether/internal/expansion"
	"github.com/openmud/aether/internal/layers"
	"github.com/openmud/aether/internal/nav"
	"github.com/openmud/aether/internal/storage"
	"github.com/openmud/aether/internal/world"
)

// Server wraps the MCP server with the aether domain services.
type Server struct {
	server *mcp.Server
	logger *zap.Logger

	players   storage.PlayerStore
	realms    storage.RealmStore
	events    storage.EventStore
	graph     *world.Graph
	clocks    *clock.Service
	layers    *layers.Service
	pipeline  *nav.Pipeline
	expansion *expansion.Orchestrator
}

// Options configures the MCP server. All services are required except
// Logger.
type Options struct {
	Logger    *zap.Logger
	Players   storage.PlayerStore
	Realms    storage.RealmStore
	Events    storage.EventStore
	Graph     *world.Graph
	Clocks    *clock.Service
	Layers    *layers.Service
	Pipeline  *nav.Pipeline
	Expansion *expansion.Orchestrator
}

// NewServer creates a new MCP server over the given world services.
func NewServer(opts *Options) (*Server, error) {
	if opts == nil {
		return nil, fmt.Errorf("options cannot be nil")
	}
	if opts.Graph == nil || opts.Clocks == nil || opts.Layers == nil ||
		opts.Pipeline == nil || opts.Expansion == nil ||
		opts.Players == nil || opts.Realms == nil || opts.Events == nil {
		return nil, fmt.Errorf("all world services are required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	impl := &mcp.Implementation{
		Name:    "aether",
		Version: "1.0.0",
	}

	s := &Server{
		server:    mcp.NewServer(impl, nil),
		logger:    logger.Named("mcp"),
		players:   opts.Players,
		realms:    opts.Realms,
		events:    opts.Events,
		graph:     opts.Graph,
		clocks:    opts.Clocks,
		layers:    opts.Layers,
		pipeline:  opts.Pipeline,
		expansion: opts.Expansion,
	}

	s.registerTools()
	s.registerResources()
	s.registerPrompts()

	return s, nil
}

// Run starts the MCP server using stdio transport.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server for testing.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}
