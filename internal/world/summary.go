// Package world implements the location graph, exit availability rules and
// terrain guidance of the aether engine.
package world

import (
	"sort"
	"strings"

	"github.com/openmud/aether/internal/direction"
	"github.com/openmud/aether/internal/storage"
)

// NoExitsSummary is the cached summary for a location without exits.
const NoExitsSummary = "No exits available."

// SortExits orders exits canonically in place: north, south, east, west,
// northeast, northwest, southeast, southwest, up, down, in, out.
func SortExits(exits []storage.Exit) {
	sort.SliceStable(exits, func(i, j int) bool {
		return direction.Rank(direction.Direction(exits[i].Direction)) <
			direction.Rank(direction.Direction(exits[j].Direction))
	})
}

// BuildExitsSummary renders the canonical one-line exit summary, directions
// only: "Exits: north, east." Locations without exits get NoExitsSummary.
// The summary is regenerated on every exit mutation and stored on the
// location so reads never recompute it.
func BuildExitsSummary(exits []storage.Exit) string {
	if len(exits) == 0 {
		return NoExitsSummary
	}
	sorted := make([]storage.Exit, len(exits))
	copy(sorted, exits)
	SortExits(sorted)

	names := make([]string, len(sorted))
	for i, e := range sorted {
		names[i] = e.Direction
	}
	return "Exits: " + strings.Join(names, ", ") + "."
}
