package world

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openmud/aether/internal/direction"
	"github.com/openmud/aether/internal/storage"
	"github.com/openmud/aether/internal/telemetry"
)

// ErrNoExit is returned by Move when the origin has no hard exit in the
// requested direction.
type ErrNoExit struct {
	FromID    string
	Direction string
}

func (e *ErrNoExit) Error() string {
	return "no exit " + e.Direction + " from location " + e.FromID
}

// ErrExitTargetMissing is returned by Move when a hard exit points at a
// location that no longer exists. This is graph corruption, not user error.
type ErrExitTargetMissing struct {
	FromID    string
	Direction string
	ToID      string
}

func (e *ErrExitTargetMissing) Error() string {
	return "exit " + e.Direction + " from " + e.FromID + " points at missing location " + e.ToID
}

// ErrExitConflict is returned when an exit already exists in the requested
// direction but leads somewhere else.
type ErrExitConflict struct {
	FromID       string
	Direction    string
	ExistingToID string
}

func (e *ErrExitConflict) Error() string {
	return "exit " + e.Direction + " from " + e.FromID + " already leads to " + e.ExistingToID
}

// Graph maintains the location graph: nodes, directed exits and the cached
// exit summaries. Mutations are serialized; reads go straight to the store.
type Graph struct {
	store   storage.LocationStore
	emitter *telemetry.Emitter
	logger  *zap.Logger

	mu sync.Mutex
}

// NewGraph builds a graph service over the given location store.
func NewGraph(store storage.LocationStore, emitter *telemetry.Emitter, logger *zap.Logger) *Graph {
	return &Graph{
		store:   store,
		emitter: emitter,
		logger:  logger.Named("world.graph"),
	}
}

// UpsertInput is a full-document location write. Nil Exits or ExitMeta leave
// the stored values untouched on update.
type UpsertInput struct {
	ID          string
	Name        string
	Description string
	Exits       []storage.Exit
	ExitMeta    *storage.ExitMetadata
	RealmID     string
}

// UpsertResult reports what an upsert did.
type UpsertResult struct {
	ID       string `json:"id"`
	Created  bool   `json:"created"`
	Revision int64  `json:"updatedRevision"`
}

// ExitSpec is one edge in a batch exit application.
type ExitSpec struct {
	FromID      string `json:"fromId"`
	Direction   string `json:"direction"`
	ToID        string `json:"toId"`
	Description string `json:"description,omitempty"`
	Kind        string `json:"kind,omitempty"`
	Reciprocal  bool   `json:"reciprocal,omitempty"`
}

// ApplyResult aggregates a batch exit application. Failed edges are logged
// and counted; they never abort the rest of the batch.
type ApplyResult struct {
	ExitsCreated      int `json:"exitsCreated"`
	ExitsSkipped      int `json:"exitsSkipped"`
	ReciprocalApplied int `json:"reciprocalApplied"`
	Failed            int `json:"failed"`
}

// Get returns a location with exits in canonical order.
func (g *Graph) Get(ctx context.Context, id string) (*storage.Location, error) {
	loc, err := g.store.GetLocation(ctx, id)
	if err != nil {
		return nil, err
	}
	SortExits(loc.Exits)
	return loc, nil
}

// Upsert creates or updates a location. The version increments only when the
// name or description actually changed; exit mutations never touch it.
func (g *Graph) Upsert(ctx context.Context, in UpsertInput) (*UpsertResult, error) {
	if in.Name == "" {
		return nil, &storage.ErrInvalidInput{Field: "name", Message: "must not be empty"}
	}
	for _, e := range in.Exits {
		if !direction.IsCanonical(e.Direction) {
			return nil, &storage.ErrInvalidInput{Field: "exits", Message: "unknown direction " + e.Direction}
		}
		if e.ToLocationID == in.ID && in.ID != "" {
			return nil, &storage.ErrInvalidInput{Field: "exits", Message: "self-loop on " + e.Direction}
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().UTC()
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}

	existing, err := g.store.GetLocation(ctx, id)
	var notFound *storage.ErrNotFound
	switch {
	case err == nil:
		changed := existing.Name != in.Name || existing.Description != in.Description
		existing.Name = in.Name
		existing.Description = in.Description
		if in.RealmID != "" {
			existing.RealmID = in.RealmID
		}
		if in.Exits != nil {
			existing.Exits = in.Exits
			SortExits(existing.Exits)
			existing.ExitsSummary = BuildExitsSummary(existing.Exits)
		}
		if in.ExitMeta != nil {
			existing.ExitMeta = in.ExitMeta
		}
		if changed {
			existing.Version++
		}
		existing.UpdatedUTC = now
		if err := g.store.PutLocation(ctx, existing); err != nil {
			return nil, fmt.Errorf("update location: %w", err)
		}
		g.emitUpsert(ctx, existing, false)
		return &UpsertResult{ID: id, Created: false, Revision: existing.Version}, nil

	case errors.As(err, &notFound):
		loc := &storage.Location{
			ID:          id,
			Name:        in.Name,
			Description: in.Description,
			Version:     1,
			Exits:       in.Exits,
			ExitMeta:    in.ExitMeta,
			RealmID:     in.RealmID,
			CreatedUTC:  now,
			UpdatedUTC:  now,
		}
		SortExits(loc.Exits)
		loc.ExitsSummary = BuildExitsSummary(loc.Exits)
		if err := g.store.PutLocation(ctx, loc); err != nil {
			return nil, fmt.Errorf("create location: %w", err)
		}
		g.emitUpsert(ctx, loc, true)
		return &UpsertResult{ID: id, Created: true, Revision: 1}, nil

	default:
		return nil, fmt.Errorf("get location: %w", err)
	}
}

// Move resolves one hop from a location. The error distinguishes a missing
// origin, a missing exit and a dangling exit target.
func (g *Graph) Move(ctx context.Context, fromID, dir string) (*storage.Location, error) {
	from, err := g.store.GetLocation(ctx, fromID)
	if err != nil {
		return nil, err
	}

	var exit *storage.Exit
	for i := range from.Exits {
		if from.Exits[i].Direction == dir {
			exit = &from.Exits[i]
			break
		}
	}
	if exit == nil {
		return nil, &ErrNoExit{FromID: fromID, Direction: dir}
	}

	to, err := g.store.GetLocation(ctx, exit.ToLocationID)
	if err != nil {
		var notFound *storage.ErrNotFound
		if errors.As(err, &notFound) {
			return nil, &ErrExitTargetMissing{FromID: fromID, Direction: dir, ToID: exit.ToLocationID}
		}
		return nil, err
	}
	SortExits(to.Exits)
	return to, nil
}

// EnsureExit idempotently adds a directed exit. An existing exit to the same
// destination is a no-op, except that an empty stored description is
// backfilled. An existing exit elsewhere is a conflict.
func (g *Graph) EnsureExit(ctx context.Context, fromID, dir, toID, description, kind string) (bool, error) {
	if !direction.IsCanonical(dir) {
		return false, &storage.ErrInvalidInput{Field: "direction", Message: "unknown direction " + dir}
	}
	if fromID == toID {
		return false, &storage.ErrInvalidInput{Field: "toId", Message: "self-loop"}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ensureExitLocked(ctx, fromID, dir, toID, description, kind)
}

func (g *Graph) ensureExitLocked(ctx context.Context, fromID, dir, toID, description, kind string) (bool, error) {
	from, err := g.store.GetLocation(ctx, fromID)
	if err != nil {
		return false, err
	}
	if _, err := g.store.GetLocation(ctx, toID); err != nil {
		return false, err
	}

	for i := range from.Exits {
		if from.Exits[i].Direction != dir {
			continue
		}
		if from.Exits[i].ToLocationID != toID {
			return false, &ErrExitConflict{FromID: fromID, Direction: dir, ExistingToID: from.Exits[i].ToLocationID}
		}
		if from.Exits[i].Description == "" && description != "" {
			from.Exits[i].Description = description
			from.UpdatedUTC = time.Now().UTC()
			if err := g.store.PutLocation(ctx, from); err != nil {
				return false, fmt.Errorf("backfill exit description: %w", err)
			}
		}
		return false, nil
	}

	from.Exits = append(from.Exits, storage.Exit{
		Direction:    dir,
		ToLocationID: toID,
		Description:  description,
		Kind:         kind,
	})
	SortExits(from.Exits)
	from.ExitsSummary = BuildExitsSummary(from.Exits)
	from.UpdatedUTC = time.Now().UTC()
	if err := g.store.PutLocation(ctx, from); err != nil {
		return false, fmt.Errorf("add exit: %w", err)
	}

	g.emitter.Emit(ctx, telemetry.EventWorldExitCreated, map[string]interface{}{
		"from":      fromID,
		"to":        toID,
		"direction": dir,
	})
	return true, nil
}

// EnsureExitBidirectional adds the forward exit and, when the direction has a
// canonical opposite, the reciprocal exit back.
func (g *Graph) EnsureExitBidirectional(ctx context.Context, fromID, dir, toID, description, kind string) (forward, reverse bool, err error) {
	if !direction.IsCanonical(dir) {
		return false, false, &storage.ErrInvalidInput{Field: "direction", Message: "unknown direction " + dir}
	}
	if fromID == toID {
		return false, false, &storage.ErrInvalidInput{Field: "toId", Message: "self-loop"}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	forward, err = g.ensureExitLocked(ctx, fromID, dir, toID, description, kind)
	if err != nil {
		return false, false, err
	}

	opp, ok := direction.Opposite(direction.Direction(dir))
	if !ok {
		return forward, false, nil
	}
	reverse, err = g.ensureExitLocked(ctx, toID, string(opp), fromID, description, kind)
	if err != nil {
		return forward, false, fmt.Errorf("reciprocal exit: %w", err)
	}
	return forward, reverse, nil
}

// RemoveExit deletes the hard exit in the given direction if present.
func (g *Graph) RemoveExit(ctx context.Context, fromID, dir string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	from, err := g.store.GetLocation(ctx, fromID)
	if err != nil {
		return false, err
	}

	kept := from.Exits[:0]
	removed := false
	for _, e := range from.Exits {
		if e.Direction == dir {
			removed = true
			continue
		}
		kept = append(kept, e)
	}
	if !removed {
		return false, nil
	}

	from.Exits = kept
	from.ExitsSummary = BuildExitsSummary(from.Exits)
	from.UpdatedUTC = time.Now().UTC()
	if err := g.store.PutLocation(ctx, from); err != nil {
		return false, fmt.Errorf("remove exit: %w", err)
	}

	g.emitter.Emit(ctx, telemetry.EventWorldExitRemoved, map[string]interface{}{
		"from":      fromID,
		"direction": dir,
	})
	return true, nil
}

// ApplyExits applies a batch of edges. Every edge is attempted; failures are
// counted and logged rather than aborting the batch.
func (g *Graph) ApplyExits(ctx context.Context, specs []ExitSpec) (*ApplyResult, error) {
	res := &ApplyResult{}
	for _, spec := range specs {
		if spec.Reciprocal {
			fwd, rev, err := g.EnsureExitBidirectional(ctx, spec.FromID, spec.Direction, spec.ToID, spec.Description, spec.Kind)
			if err != nil {
				res.Failed++
				g.logger.Warn("apply exits: edge failed",
					zap.String("from", spec.FromID),
					zap.String("direction", spec.Direction),
					zap.Error(err))
				continue
			}
			if fwd {
				res.ExitsCreated++
			} else {
				res.ExitsSkipped++
			}
			if rev {
				res.ReciprocalApplied++
			}
			continue
		}

		created, err := g.EnsureExit(ctx, spec.FromID, spec.Direction, spec.ToID, spec.Description, spec.Kind)
		if err != nil {
			res.Failed++
			g.logger.Warn("apply exits: edge failed",
				zap.String("from", spec.FromID),
				zap.String("direction", spec.Direction),
				zap.Error(err))
			continue
		}
		if created {
			res.ExitsCreated++
		} else {
			res.ExitsSkipped++
		}
	}
	return res, nil
}

// ListAll returns every location ordered by name then id.
func (g *Graph) ListAll(ctx context.Context) ([]*storage.Location, error) {
	locs, err := g.store.ListLocations(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(locs, func(i, j int) bool {
		if locs[i].Name != locs[j].Name {
			return locs[i].Name < locs[j].Name
		}
		return locs[i].ID < locs[j].ID
	})
	for _, loc := range locs {
		SortExits(loc.Exits)
	}
	return locs, nil
}

// Delete removes a location. Inbound exits from other locations are left in
// place and surface as dangling targets on traversal.
func (g *Graph) Delete(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.store.DeleteLocation(ctx, id)
}

func (g *Graph) emitUpsert(ctx context.Context, loc *storage.Location, created bool) {
	g.emitter.Emit(ctx, telemetry.EventWorldLocationUpsert, map[string]interface{}{
		"locationId": loc.ID,
		"created":    created,
		"revision":   loc.Version,
	})
}
