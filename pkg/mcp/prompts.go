package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// registerPrompts registers all aether prompts with the MCP server.
func (s *Server) registerPrompts() {
	s.server.AddPrompt(&mcp.Prompt{
		Name:        "narrate_location",
		Description: "Build a narration prompt for a location from its description, active layers and exits",
		Arguments: []*mcp.PromptArgument{
			{
				Name:        "location_id",
				Description: "The location to narrate",
				Required:    true,
			},
			{
				Name:        "style",
				Description: "Optional narration style, e.g. 'terse' or 'gothic'",
				Required:    false,
			},
		},
	}, s.handleNarratePrompt)

	s.server.AddPrompt(&mcp.Prompt{
		Name:        "plan_expansion",
		Description: "Build a planning prompt for growing the world around an anchor location",
		Arguments: []*mcp.PromptArgument{
			{
				Name:        "anchor_id",
				Description: "The anchor location to grow around",
				Required:    true,
			},
			{
				Name:        "theme",
				Description: "Optional theme for the new area",
				Required:    false,
			},
		},
	}, s.handleExpansionPrompt)
}

func (s *Server) handleNarratePrompt(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	locationID := req.Params.Arguments["location_id"]
	if locationID == "" {
		return nil, fmt.Errorf("location_id is required")
	}
	style := req.Params.Arguments["style"]

	_, look, err := s.handleLook(ctx, nil, LookInput{LocationID: locationID})
	if err != nil {
		return nil, err
	}

	var parts []string
	parts = append(parts, "# "+look.Name)
	parts = append(parts, look.Description)
	for _, lv := range look.Layers {
		parts = append(parts, fmt.Sprintf("[%s] %s", lv.Type, lv.Value))
	}
	for _, e := range look.Exits {
		line := fmt.Sprintf("- %s (%s)", e.Direction, e.Availability)
		if e.Reason != "" {
			line += ": " + e.Reason
		}
		parts = append(parts, line)
	}

	instruction := "Narrate this place to a player in the second person, weaving the layers into the scene and hinting at the exits without listing them."
	if style != "" {
		instruction += " Style: " + style + "."
	}

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Narration prompt for %q", look.Name),
		Messages: []*mcp.PromptMessage{
			{
				Role: "user",
				Content: &mcp.TextContent{Text: fmt.Sprintf(
					"%s\n\n%s", strings.Join(parts, "\n"), instruction,
				)},
			},
		},
	}, nil
}

func (s *Server) handleExpansionPrompt(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	anchorID := req.Params.Arguments["anchor_id"]
	if anchorID == "" {
		return nil, fmt.Errorf("anchor_id is required")
	}
	theme := req.Params.Arguments["theme"]

	loc, err := s.graph.Get(ctx, anchorID)
	if err != nil {
		return nil, fmt.Errorf("failed to get anchor: %w", err)
	}

	text := fmt.Sprintf(
		"The world ends at %q: %s\nExits today: %s\n\nDecide how the world should grow from here, then call generate_area with an anchorLocationId of %s, a mode, a budget and realm hints.",
		loc.Name, loc.Description, loc.ExitsSummary, loc.ID,
	)
	if theme != "" {
		text += " Theme the new area around: " + theme + "."
	}

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Expansion planning prompt for %q", loc.Name),
		Messages: []*mcp.PromptMessage{
			{
				Role:    "user",
				Content: &mcp.TextContent{Text: text},
			},
		},
	}, nil
}
