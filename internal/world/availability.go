package world

import (
	"sort"

	"github.com/openmud/aether/internal/direction"
	"github.com/openmud/aether/internal/storage"
)

// Availability classifies how an exit direction may be used.
type Availability string

const (
	// AvailabilityHard marks a traversable exit with a destination.
	AvailabilityHard Availability = "hard"
	// AvailabilityPending marks a direction that is spoken of but not yet
	// built; moving that way should trigger generation.
	AvailabilityPending Availability = "pending"
	// AvailabilityForbidden marks a direction that is permanently closed.
	AvailabilityForbidden Availability = "forbidden"
)

// ExitInfo is the resolved view of one direction at a location.
type ExitInfo struct {
	Direction    string       `json:"direction"`
	Availability Availability `json:"availability"`
	ToLocationID string       `json:"toLocationId,omitempty"`
	Reason       string       `json:"reason,omitempty"`
}

// IntegrityWarning flags a direction that is both a hard exit and listed in
// exit metadata. The hard exit wins; the metadata entry is stale.
type IntegrityWarning struct {
	Direction string
	ListedAs  Availability
}

// DetermineAvailability resolves a single direction against a location's
// exits and metadata. Precedence: hard > forbidden > pending. The boolean is
// false when the direction is absent everywhere.
func DetermineAvailability(dir string, exits []storage.Exit, meta *storage.ExitMetadata) (ExitInfo, bool) {
	for _, e := range exits {
		if e.Direction == dir {
			return ExitInfo{Direction: dir, Availability: AvailabilityHard, ToLocationID: e.ToLocationID}, true
		}
	}
	if meta != nil {
		if reason, ok := meta.Forbidden[dir]; ok {
			return ExitInfo{Direction: dir, Availability: AvailabilityForbidden, Reason: reason}, true
		}
		if reason, ok := meta.Pending[dir]; ok {
			return ExitInfo{Direction: dir, Availability: AvailabilityPending, Reason: reason}, true
		}
	}
	return ExitInfo{}, false
}

// BuildExitInfos resolves every direction known to the location: the union of
// hard exits, pending metadata and forbidden metadata, canonically ordered.
// Directions that appear both as a hard exit and in metadata resolve hard and
// come back as warnings for the caller to report; the conflict is never
// fatal.
func BuildExitInfos(exits []storage.Exit, meta *storage.ExitMetadata) ([]ExitInfo, []IntegrityWarning) {
	seen := make(map[string]bool, len(exits))
	infos := make([]ExitInfo, 0, len(exits))
	var warnings []IntegrityWarning

	for _, e := range exits {
		seen[e.Direction] = true
		infos = append(infos, ExitInfo{
			Direction:    e.Direction,
			Availability: AvailabilityHard,
			ToLocationID: e.ToLocationID,
		})
		if meta == nil {
			continue
		}
		if _, ok := meta.Forbidden[e.Direction]; ok {
			warnings = append(warnings, IntegrityWarning{Direction: e.Direction, ListedAs: AvailabilityForbidden})
		}
		if _, ok := meta.Pending[e.Direction]; ok {
			warnings = append(warnings, IntegrityWarning{Direction: e.Direction, ListedAs: AvailabilityPending})
		}
	}

	if meta != nil {
		for dir, reason := range meta.Forbidden {
			if seen[dir] {
				continue
			}
			seen[dir] = true
			infos = append(infos, ExitInfo{Direction: dir, Availability: AvailabilityForbidden, Reason: reason})
		}
		for dir, reason := range meta.Pending {
			if seen[dir] {
				continue
			}
			seen[dir] = true
			infos = append(infos, ExitInfo{Direction: dir, Availability: AvailabilityPending, Reason: reason})
		}
	}

	sort.SliceStable(infos, func(i, j int) bool {
		return direction.Rank(direction.Direction(infos[i].Direction)) <
			direction.Rank(direction.Direction(infos[j].Direction))
	})
	sort.SliceStable(warnings, func(i, j int) bool {
		return direction.Rank(direction.Direction(warnings[i].Direction)) <
			direction.Rank(direction.Direction(warnings[j].Direction))
	})
	return infos, warnings
}
