package world

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openmud/aether/internal/storage"
)

func TestBuildExitsSummary(t *testing.T) {
	tests := []struct {
		name  string
		exits []storage.Exit
		want  string
	}{
		{
			name: "canonical ordering",
			exits: []storage.Exit{
				{Direction: "up", ToLocationID: "a"},
				{Direction: "east", ToLocationID: "b"},
				{Direction: "north", ToLocationID: "c"},
			},
			want: "Exits: north, east, up.",
		},
		{
			name:  "single exit",
			exits: []storage.Exit{{Direction: "in", ToLocationID: "a"}},
			want:  "Exits: in.",
		},
		{
			name:  "no exits",
			exits: nil,
			want:  "No exits available.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildExitsSummary(tt.exits))
		})
	}
}

func TestDetermineAvailability(t *testing.T) {
	exits := []storage.Exit{{Direction: "north", ToLocationID: "loc-2"}}
	meta := &storage.ExitMetadata{
		Pending:   map[string]string{"east": "rumors of a path", "north": "stale"},
		Forbidden: map[string]string{"west": "sheer cliff"},
	}

	t.Run("hard wins over metadata", func(t *testing.T) {
		info, ok := DetermineAvailability("north", exits, meta)
		assert.True(t, ok)
		assert.Equal(t, AvailabilityHard, info.Availability)
		assert.Equal(t, "loc-2", info.ToLocationID)
	})

	t.Run("forbidden", func(t *testing.T) {
		info, ok := DetermineAvailability("west", exits, meta)
		assert.True(t, ok)
		assert.Equal(t, AvailabilityForbidden, info.Availability)
		assert.Equal(t, "sheer cliff", info.Reason)
	})

	t.Run("pending", func(t *testing.T) {
		info, ok := DetermineAvailability("east", exits, meta)
		assert.True(t, ok)
		assert.Equal(t, AvailabilityPending, info.Availability)
	})

	t.Run("absent", func(t *testing.T) {
		_, ok := DetermineAvailability("down", exits, meta)
		assert.False(t, ok)
	})

	t.Run("forbidden beats pending", func(t *testing.T) {
		both := &storage.ExitMetadata{
			Pending:   map[string]string{"south": "maybe"},
			Forbidden: map[string]string{"south": "never"},
		}
		info, ok := DetermineAvailability("south", nil, both)
		assert.True(t, ok)
		assert.Equal(t, AvailabilityForbidden, info.Availability)
	})

	t.Run("nil metadata", func(t *testing.T) {
		info, ok := DetermineAvailability("north", exits, nil)
		assert.True(t, ok)
		assert.Equal(t, AvailabilityHard, info.Availability)
	})
}

func TestBuildExitInfos(t *testing.T) {
	exits := []storage.Exit{
		{Direction: "south", ToLocationID: "loc-3"},
		{Direction: "north", ToLocationID: "loc-2"},
	}
	meta := &storage.ExitMetadata{
		Pending:   map[string]string{"up": "scaffolding", "north": "stale entry"},
		Forbidden: map[string]string{"west": "collapsed"},
	}

	infos, warnings := BuildExitInfos(exits, meta)

	dirs := make([]string, len(infos))
	for i, info := range infos {
		dirs[i] = info.Direction
	}
	assert.Equal(t, []string{"north", "south", "west", "up"}, dirs)

	assert.Equal(t, AvailabilityHard, infos[0].Availability)
	assert.Equal(t, AvailabilityForbidden, infos[2].Availability)
	assert.Equal(t, AvailabilityPending, infos[3].Availability)

	// north is both hard and pending: hard wins, warning raised.
	if assert.Len(t, warnings, 1) {
		assert.Equal(t, "north", warnings[0].Direction)
		assert.Equal(t, AvailabilityPending, warnings[0].ListedAs)
	}
}

func TestResolveTerrain(t *testing.T) {
	denseAnchor := &storage.Location{Exits: []storage.Exit{
		{Direction: "north"}, {Direction: "south"}, {Direction: "east"},
	}}
	sparseAnchor := &storage.Location{Exits: []storage.Exit{{Direction: "north"}}}

	assert.Equal(t, TerrainUrban, ResolveTerrain(ModeUrban, sparseAnchor, nil))
	assert.Equal(t, TerrainWilderness, ResolveTerrain(ModeWilderness, denseAnchor, nil))
	assert.Equal(t, TerrainUrban, ResolveTerrain(ModeAuto, denseAnchor, nil))
	assert.Equal(t, TerrainWilderness, ResolveTerrain(ModeAuto, sparseAnchor, nil))
	assert.Equal(t, TerrainUrban, ResolveTerrain(ModeAuto, sparseAnchor, &storage.Realm{Tier: storage.TierLocal}))
	assert.Equal(t, TerrainWilderness, ResolveTerrain(ModeAuto, nil, nil))
}

func TestGuidanceFor(t *testing.T) {
	urban := GuidanceFor(TerrainUrban)
	assert.Equal(t, "grid", urban.ExitPattern)
	assert.NotEmpty(t, urban.DefaultDirections)

	// Unknown terrain falls back to wilderness.
	fallback := GuidanceFor(Terrain("swamp"))
	assert.Equal(t, "meander", fallback.ExitPattern)
}
