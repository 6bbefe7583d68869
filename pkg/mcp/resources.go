package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// registerResources registers all aether resources with the MCP server.
func (s *Server) registerResources() {
	s.server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: "aether://world/status",
		Name:        "World Status",
		Description: "Current world tick and entity counts",
		MIMEType:    "application/json",
	}, s.handleWorldStatusResource)

	s.server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: "aether://location/{id}",
		Name:        "Location",
		Description: "Get a specific location by id",
		MIMEType:    "application/json",
	}, s.handleLocationResource)

	s.server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: "aether://realms",
		Name:        "Realms",
		Description: "List the realm containment hierarchy",
		MIMEType:    "application/json",
	}, s.handleRealmsResource)
}

func (s *Server) handleWorldStatusResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	status, err := s.worldStatus(ctx)
	if err != nil {
		return nil, err
	}
	return jsonResource(req.Params.URI, status)
}

func (s *Server) handleLocationResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	id := extractURIParam(req.Params.URI, "id")
	if id == "" {
		return nil, fmt.Errorf("location id is required")
	}

	loc, err := s.graph.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get location: %w", err)
	}
	return jsonResource(req.Params.URI, loc)
}

func (s *Server) handleRealmsResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	realms, err := s.realms.ListRealms(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list realms: %w", err)
	}
	return jsonResource(req.Params.URI, realms)
}

func jsonResource(uri string, v interface{}) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      uri,
				MIMEType: "application/json",
				Text:     string(data),
			},
		},
	}, nil
}

// extractURIParam extracts a parameter value from a URI.
// For URI like "aether://location/loc-1", extractURIParam(uri, "id") returns "loc-1".
func extractURIParam(uri, param string) string {
	switch param {
	case "id":
		// URI: aether://location/{id}
		if len(uri) > len("aether://location/") {
			return uri[len("aether://location/"):]
		}
	}
	return ""
}
