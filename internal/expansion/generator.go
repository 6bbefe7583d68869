// Package expansion grows the world: the orchestrator validates and enqueues
// bounded generation requests as durable events, and the worker turns those
// envelopes into locations, exits and base description layers.
package expansion

import (
	"context"
	"fmt"

	"lukechampine.com/blake3"

	"github.com/openmud/aether/internal/direction"
	"github.com/openmud/aether/internal/storage"
	"github.com/openmud/aether/internal/world"
)

// GenerationPrompt is everything a generator needs to sketch an area.
type GenerationPrompt struct {
	Anchor     *storage.Location
	Terrain    world.Terrain
	Budget     int
	RealmHints []string
	Guidance   world.TerrainGuidance
}

// GeneratedLocation is one proposed location. AttachTo indexes an earlier
// location in the same area; -1 attaches to the anchor.
type GeneratedLocation struct {
	Name        string
	Description string
	BaseLayer   string
	AttachTo    int
	Direction   string
}

// GenerationUsage is the cost accounting for one generator call. Token counts
// are estimates; text never travels with the usage record.
type GenerationUsage struct {
	ModelID          string
	PromptTokens     int64
	CompletionTokens int64
	MicroUSD         int64
}

// GeneratedArea is a generator's proposal, at most Budget locations.
type GeneratedArea struct {
	Locations []GeneratedLocation
	Usage     GenerationUsage
}

// DescriptionGenerator produces area proposals. The default implementation is
// a deterministic template; AI-backed generators plug in from outside.
type DescriptionGenerator interface {
	Generate(ctx context.Context, prompt GenerationPrompt) (*GeneratedArea, error)
}

// TemplateModelID identifies the deterministic template generator in cost
// accounting. Template generations cost nothing but still flow through the
// aggregator.
const TemplateModelID = "template/deterministic-v1"

// TemplateGenerator derives names and descriptions from terrain templates and
// a hash of the anchor id, so repeated runs for the same anchor produce the
// same area.
type TemplateGenerator struct{}

// NewTemplateGenerator returns the deterministic default generator.
func NewTemplateGenerator() *TemplateGenerator {
	return &TemplateGenerator{}
}

var terrainTemplates = map[world.Terrain]struct {
	names        []string
	descriptions []string
	layers       []string
}{
	world.TerrainUrban: {
		names: []string{
			"Cobbled Lane", "Market Corner", "Narrow Alley", "Merchant Row",
			"Old Courtyard", "Lamplit Street", "Tiled Arcade", "Quiet Close",
		},
		descriptions: []string{
			"Worn cobbles run between leaning facades, their windows shuttered against the noise.",
			"Stalls crowd the corner, awnings sagging under the weight of the day's trade.",
			"The alley squeezes between high brick walls streaked with old soot.",
			"Shopfronts line the row, each door painted a different fading color.",
		},
		layers: []string{
			"Somewhere nearby a cart rattles over stone.",
			"The smell of bread and coal smoke hangs in the air.",
		},
	},
	world.TerrainWilderness: {
		names: []string{
			"Fern Hollow", "Windswept Rise", "Birch Stand", "Mossy Ravine",
			"Heather Slope", "Shallow Ford", "Granite Outcrop", "Tangled Thicket",
		},
		descriptions: []string{
			"Ferns crowd the hollow, beaded with moisture that never quite dries.",
			"The rise opens to a long view of grey hills under a moving sky.",
			"Pale birch trunks stand in loose ranks, leaves ticking in the wind.",
			"A thin stream threads the ravine floor far below the mossy lip.",
		},
		layers: []string{
			"Birdsong drifts from somewhere upslope.",
			"The wind carries the smell of wet earth and crushed leaves.",
		},
	},
}

// Generate implements DescriptionGenerator.
func (g *TemplateGenerator) Generate(_ context.Context, prompt GenerationPrompt) (*GeneratedArea, error) {
	if prompt.Budget < 1 {
		return nil, &storage.ErrInvalidInput{Field: "budget", Message: "must be positive"}
	}

	tpl, ok := terrainTemplates[prompt.Terrain]
	if !ok {
		tpl = terrainTemplates[world.TerrainWilderness]
	}

	anchorID := ""
	if prompt.Anchor != nil {
		anchorID = prompt.Anchor.ID
	}
	seed := blake3.Sum256([]byte(anchorID + "|" + string(prompt.Terrain)))
	dirs := prompt.Guidance.DefaultDirections
	if len(dirs) == 0 {
		dirs = world.GuidanceFor(prompt.Terrain).DefaultDirections
	}

	area := &GeneratedArea{Locations: make([]GeneratedLocation, 0, prompt.Budget)}
	var prevDir direction.Direction
	var emitted int64
	for i := 0; i < prompt.Budget; i++ {
		offset := int(seed[i%len(seed)])
		name := tpl.names[(offset+i)%len(tpl.names)]
		desc := tpl.descriptions[(offset+i)%len(tpl.descriptions)]
		layer := tpl.layers[(offset+i)%len(tpl.layers)]

		// The first ring attaches to the anchor, one per guidance
		// direction; overflow chains off the previous location, never
		// doubling straight back over the reciprocal exit.
		attachTo := -1
		dir := dirs[i%len(dirs)]
		if i >= len(dirs) {
			attachTo = i - 1
			reverse, _ := direction.Opposite(prevDir)
			for k := 0; k < len(dirs); k++ {
				candidate := dirs[(i+k)%len(dirs)]
				if candidate != reverse {
					dir = candidate
					break
				}
			}
		}
		prevDir = dir

		area.Locations = append(area.Locations, GeneratedLocation{
			Name:        fmt.Sprintf("%s %d", name, i+1),
			Description: desc,
			BaseLayer:   layer,
			AttachTo:    attachTo,
			Direction:   string(dir),
		})
		emitted += int64(len(name) + len(desc) + len(layer))
	}
	area.Usage = GenerationUsage{
		ModelID: TemplateModelID,
		// Rough four-characters-per-token estimate, zero spend.
		CompletionTokens: emitted / 4,
	}
	return area, nil
}
