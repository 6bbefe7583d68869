package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/openmud/aether/internal/expansion"
	"github.com/openmud/aether/internal/nav"
	"github.com/openmud/aether/internal/storage"
	"github.com/openmud/aether/internal/world"
)

// lookLayerTypes is the resolution order for the look tool.
var lookLayerTypes = []storage.LayerType{
	storage.LayerBase,
	storage.LayerAmbient,
	storage.LayerDynamic,
	storage.LayerWeather,
	storage.LayerLighting,
}

// registerTools registers all aether tools with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "look",
		Description: "Describe a location: its name, description, exits and every description layer active at the current world tick.",
	}, s.handleLook)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "move",
		Description: "Move through the world. Accepts canonical directions (north, up, in, ...), aliases (n, ne) and relative directions (left, back) when a recent heading is known. Where no exit exists yet, returns a generation hint instead of a destination.",
	}, s.handleMove)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "generate_area",
		Description: "Request bounded world generation around an anchor location. The request is enqueued durably and materialized by a background worker; retries with the same contents dedupe onto the same request.",
	}, s.handleGenerateArea)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "world_status",
		Description: "Report world engine status: the current world tick, and location, realm, player and pending event counts.",
	}, s.handleWorldStatus)
}

// LookInput defines the input schema for the look tool.
type LookInput struct {
	LocationID string `json:"locationId" jsonschema:"The id of the location to describe"`
}

// ExitView is one resolved exit direction.
type ExitView struct {
	Direction    string `json:"direction"`
	Availability string `json:"availability"`
	ToLocationID string `json:"toLocationId,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// LayerView is one active description layer.
type LayerView struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// LookOutput defines the output for the look tool.
type LookOutput struct {
	LocationID  string      `json:"locationId"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Tick        int64       `json:"tick"`
	Exits       []ExitView  `json:"exits"`
	Layers      []LayerView `json:"layers,omitempty"`
}

func (s *Server) handleLook(ctx context.Context, req *mcp.CallToolRequest, input LookInput) (*mcp.CallToolResult, LookOutput, error) {
	if input.LocationID == "" {
		return nil, LookOutput{}, fmt.Errorf("locationId is required")
	}

	loc, err := s.graph.Get(ctx, input.LocationID)
	if err != nil {
		return nil, LookOutput{}, fmt.Errorf("look failed: %w", err)
	}

	var tick int64
	if wc, err := s.clocks.Get(ctx); err != nil {
		return nil, LookOutput{}, fmt.Errorf("reading world clock: %w", err)
	} else if wc != nil {
		tick = wc.CurrentTick
	}

	infos, _ := world.BuildExitInfos(loc.Exits, loc.ExitMeta)
	exits := make([]ExitView, 0, len(infos))
	for _, info := range infos {
		exits = append(exits, ExitView{
			Direction:    info.Direction,
			Availability: string(info.Availability),
			ToLocationID: info.ToLocationID,
			Reason:       info.Reason,
		})
	}

	var layerViews []LayerView
	for _, lt := range lookLayerTypes {
		layer, err := s.layers.Active(ctx, loc.ID, lt, tick)
		if err != nil {
			return nil, LookOutput{}, fmt.Errorf("resolving %s layer: %w", lt, err)
		}
		if layer != nil {
			layerViews = append(layerViews, LayerView{Type: string(lt), Value: layer.Value})
		}
	}

	output := LookOutput{
		LocationID:  loc.ID,
		Name:        loc.Name,
		Description: loc.Description,
		Tick:        tick,
		Exits:       exits,
		Layers:      layerViews,
	}

	var b strings.Builder
	b.WriteString(loc.Name + "\n" + loc.Description)
	for _, lv := range layerViews {
		b.WriteString("\n" + lv.Value)
	}
	if loc.ExitsSummary != "" {
		b.WriteString("\n" + loc.ExitsSummary)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: b.String()},
		},
	}, output, nil
}

// MoveInput defines the input schema for the move tool.
type MoveInput struct {
	From       string `json:"from,omitempty" jsonschema:"The origin location id; defaults to the player's current location, then the starter location"`
	Direction  string `json:"direction" jsonschema:"The direction to move: canonical, alias or relative"`
	PlayerGUID string `json:"playerGuid,omitempty" jsonschema:"The moving player's guid; updates position and heading when set"`
}

// MoveOutput defines the output for the move tool.
type MoveOutput struct {
	Outcome       string `json:"outcome"`
	Direction     string `json:"direction,omitempty"`
	LocationID    string `json:"locationId,omitempty"`
	LocationName  string `json:"locationName,omitempty"`
	Clarification string `json:"clarification,omitempty"`
	BlockedReason string `json:"blockedReason,omitempty"`
	HintOriginID  string `json:"hintOriginId,omitempty"`
	HintDirection string `json:"hintDirection,omitempty"`
}

func (s *Server) handleMove(ctx context.Context, req *mcp.CallToolRequest, input MoveInput) (*mcp.CallToolResult, MoveOutput, error) {
	if input.Direction == "" {
		return nil, MoveOutput{}, fmt.Errorf("direction is required")
	}

	result, err := s.pipeline.Move(ctx, nav.MoveInput{
		FromID:       input.From,
		RawDirection: input.Direction,
		PlayerGUID:   input.PlayerGUID,
	})
	if err != nil {
		return nil, MoveOutput{}, fmt.Errorf("move failed: %w", err)
	}

	output := MoveOutput{
		Outcome:       string(result.Outcome),
		Direction:     result.Canonical,
		Clarification: result.Clarification,
		BlockedReason: result.BlockedReason,
	}

	var text string
	switch result.Outcome {
	case nav.OutcomeMoved:
		output.LocationID = result.Location.ID
		output.LocationName = result.Location.Name
		text = fmt.Sprintf("You go %s and arrive at %s.", result.Canonical, result.Location.Name)
	case nav.OutcomeAmbiguous, nav.OutcomeInvalidDirection:
		text = result.Clarification
	case nav.OutcomeBlocked:
		text = fmt.Sprintf("The way %s is blocked: %s.", result.Canonical, result.BlockedReason)
	case nav.OutcomeGenerate:
		output.HintOriginID = result.Hint.OriginLocationID
		output.HintDirection = result.Hint.Direction
		text = fmt.Sprintf("Nothing lies %s yet. Use generate_area to grow the world there.", result.Canonical)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}, output, nil
}

// GenerateAreaInput defines the input schema for the generate_area tool.
type GenerateAreaInput struct {
	AnchorLocationID string   `json:"anchorLocationId,omitempty" jsonschema:"The anchor location to grow around; defaults to the starter location"`
	Mode             string   `json:"mode,omitempty" jsonschema:"Terrain mode: urban, wilderness or auto (default auto)"`
	Budget           int      `json:"budget,omitempty" jsonschema:"How many locations to generate; clamped to the configured maximum"`
	RealmHints       []string `json:"realmHints,omitempty" jsonschema:"Realm ids to place generated locations under; missing realms are created"`
}

// GenerateAreaOutput defines the output for the generate_area tool.
type GenerateAreaOutput struct {
	EventID          string `json:"eventId"`
	AnchorLocationID string `json:"anchorLocationId"`
	IdempotencyKey   string `json:"idempotencyKey"`
	Terrain          string `json:"terrain"`
	Budget           int    `json:"budget"`
	MaxBudget        int    `json:"maxBudget"`
	Clamped          bool   `json:"clamped"`
	Duplicate        bool   `json:"duplicate"`
}

func (s *Server) handleGenerateArea(ctx context.Context, req *mcp.CallToolRequest, input GenerateAreaInput) (*mcp.CallToolResult, GenerateAreaOutput, error) {
	result, err := s.expansion.RequestGeneration(ctx, expansion.Request{
		AnchorLocationID: input.AnchorLocationID,
		Mode:             world.GenerationMode(input.Mode),
		Budget:           input.Budget,
		RealmHints:       input.RealmHints,
	})
	if err != nil {
		return nil, GenerateAreaOutput{}, fmt.Errorf("generation request failed: %w", err)
	}

	output := GenerateAreaOutput{
		EventID:          result.EventID,
		AnchorLocationID: result.AnchorLocationID,
		IdempotencyKey:   result.IdempotencyKey,
		Terrain:          string(result.Terrain),
		Budget:           result.Budget,
		MaxBudget:        result.MaxBudget,
		Clamped:          result.Clamped,
		Duplicate:        result.Duplicate,
	}

	text := fmt.Sprintf("Enqueued %s generation of %d locations (event %s).", result.Terrain, result.Budget, result.EventID)
	if result.Duplicate {
		text = fmt.Sprintf("An identical request is already enqueued (event %s).", result.EventID)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}, output, nil
}

// WorldStatusInput defines the input schema for the world_status tool.
type WorldStatusInput struct{}

// WorldStatusOutput defines the output for the world_status tool.
type WorldStatusOutput struct {
	Initialized   bool  `json:"initialized"`
	Tick          int64 `json:"tick"`
	Locations     int   `json:"locations"`
	Realms        int   `json:"realms"`
	Players       int   `json:"players"`
	PendingEvents int   `json:"pendingEvents"`
}

func (s *Server) handleWorldStatus(ctx context.Context, req *mcp.CallToolRequest, input WorldStatusInput) (*mcp.CallToolResult, WorldStatusOutput, error) {
	output, err := s.worldStatus(ctx)
	if err != nil {
		return nil, WorldStatusOutput{}, err
	}

	text := fmt.Sprintf("World at tick %d: %d locations in %d realms, %d players, %d pending events.",
		output.Tick, output.Locations, output.Realms, output.Players, output.PendingEvents)
	if !output.Initialized {
		text = fmt.Sprintf("World clock not initialized: %d locations in %d realms, %d players, %d pending events.",
			output.Locations, output.Realms, output.Players, output.PendingEvents)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}, output, nil
}

// worldStatus gathers the status snapshot shared by the world_status tool
// and the status resource.
func (s *Server) worldStatus(ctx context.Context) (WorldStatusOutput, error) {
	var output WorldStatusOutput

	wc, err := s.clocks.Get(ctx)
	if err != nil {
		return output, fmt.Errorf("reading world clock: %w", err)
	}
	if wc != nil {
		output.Initialized = true
		output.Tick = wc.CurrentTick
	}

	locations, err := s.graph.ListAll(ctx)
	if err != nil {
		return output, fmt.Errorf("listing locations: %w", err)
	}
	output.Locations = len(locations)

	realms, err := s.realms.ListRealms(ctx)
	if err != nil {
		return output, fmt.Errorf("listing realms: %w", err)
	}
	output.Realms = len(realms)

	players, err := s.players.ListPlayers(ctx)
	if err != nil {
		return output, fmt.Errorf("listing players: %w", err)
	}
	output.Players = len(players)

	pending, err := s.events.ListPendingEvents(ctx, "", 0)
	if err != nil {
		return output, fmt.Errorf("listing pending events: %w", err)
	}
	output.PendingEvents = len(pending)

	return output, nil
}
