package world

import (
	"github.com/openmud/aether/internal/direction"
	"github.com/openmud/aether/internal/storage"
)

// Terrain selects a generation flavor for new areas.
type Terrain string

const (
	TerrainUrban      Terrain = "urban"
	TerrainWilderness Terrain = "wilderness"
)

// GenerationMode is the caller-facing terrain selector.
type GenerationMode string

const (
	ModeUrban      GenerationMode = "urban"
	ModeWilderness GenerationMode = "wilderness"
	ModeAuto       GenerationMode = "auto"
)

// TerrainGuidance hints the area generator and description workers toward a
// coherent layout. Guidance shapes output; it never constrains it.
type TerrainGuidance struct {
	TypicalExitCount  int
	ExitPattern       string
	Hint              string
	DefaultDirections []direction.Direction
}

var terrainGuidance = map[Terrain]TerrainGuidance{
	TerrainUrban: {
		TypicalExitCount: 3,
		ExitPattern:      "grid",
		Hint:             "streets and alleys meeting at corners, doorways leading in",
		DefaultDirections: []direction.Direction{
			direction.North, direction.South, direction.East, direction.West, direction.In,
		},
	},
	TerrainWilderness: {
		TypicalExitCount: 2,
		ExitPattern:      "meander",
		Hint:             "winding trails and natural breaks in the landscape",
		DefaultDirections: []direction.Direction{
			direction.North, direction.Northeast, direction.East, direction.Southwest, direction.Up,
		},
	},
}

// GuidanceFor returns the guidance entry for a terrain, falling back to
// wilderness for anything unrecognized.
func GuidanceFor(t Terrain) TerrainGuidance {
	if g, ok := terrainGuidance[t]; ok {
		return g
	}
	return terrainGuidance[TerrainWilderness]
}

// urbanExitThreshold is the hard-exit density at which an anchor's
// neighborhood reads as built-up.
const urbanExitThreshold = 3

// ResolveTerrain maps a generation mode to a terrain. Auto mode consults the
// anchor: dense exits or a realm named like a settlement lean urban, sparse
// connectivity leans wilderness.
func ResolveTerrain(mode GenerationMode, anchor *storage.Location, realm *storage.Realm) Terrain {
	switch mode {
	case ModeUrban:
		return TerrainUrban
	case ModeWilderness:
		return TerrainWilderness
	}

	if anchor != nil && len(anchor.Exits) >= urbanExitThreshold {
		return TerrainUrban
	}
	if realm != nil && realm.Tier == storage.TierLocal {
		return TerrainUrban
	}
	return TerrainWilderness
}
