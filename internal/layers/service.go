// Package layers resolves the description layer a viewer should see for a
// location at a given tick. Location-scoped layers win over realm-scoped
// ones; within a scope the freshest authored layer valid at the tick wins.
package layers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/openmud/aether/internal/storage"
	"github.com/openmud/aether/internal/telemetry"
)

// DefaultCacheSize bounds the active-layer LRU cache.
const DefaultCacheSize = 1024

// maxRealmDepth guards against a parent cycle in misconfigured realm data.
const maxRealmDepth = 16

// Service resolves, writes and audits description layers.
type Service struct {
	layers    storage.LayerStore
	locations storage.LocationStore
	realms    storage.RealmStore
	emitter   *telemetry.Emitter
	logger    *zap.Logger

	mu         sync.Mutex
	cache      *lru.Cache[string, *storage.DescriptionLayer]
	scopeIndex map[string]map[string]struct{}

	now func() time.Time
}

// NewService builds a layer service. cacheSize <= 0 uses DefaultCacheSize.
func NewService(layers storage.LayerStore, locations storage.LocationStore, realms storage.RealmStore, emitter *telemetry.Emitter, logger *zap.Logger, cacheSize int) (*Service, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, *storage.DescriptionLayer](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to build layer cache: %w", err)
	}
	return &Service{
		layers:     layers,
		locations:  locations,
		realms:     realms,
		emitter:    emitter,
		logger:     logger.Named("layers"),
		cache:      cache,
		scopeIndex: make(map[string]map[string]struct{}),
		now:        time.Now,
	}, nil
}

func cacheKey(locationID string, layerType storage.LayerType, tick int64) string {
	return fmt.Sprintf("%s|%s|%d", locationID, layerType, tick)
}

// Active returns the layer of the given type visible at the location and
// tick, or nil when no scope in the chain has one.
func (s *Service) Active(ctx context.Context, locationID string, layerType storage.LayerType, tick int64) (*storage.DescriptionLayer, error) {
	key := cacheKey(locationID, layerType, tick)

	s.mu.Lock()
	cached, ok := s.cache.Get(key)
	s.mu.Unlock()
	if ok {
		s.emitter.Emit(ctx, telemetry.EventDescriptionCacheHit, map[string]interface{}{
			"locationId": locationID,
			"layerType":  string(layerType),
			"tick":       tick,
		})
		return cached, nil
	}
	s.emitter.Emit(ctx, telemetry.EventDescriptionCacheMiss, map[string]interface{}{
		"locationId": locationID,
		"layerType":  string(layerType),
		"tick":       tick,
	})

	layer, scopes, err := s.resolve(ctx, locationID, layerType, tick)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache.Add(key, layer)
	for _, scope := range scopes {
		idx, ok := s.scopeIndex[scope]
		if !ok {
			idx = make(map[string]struct{})
			s.scopeIndex[scope] = idx
		}
		idx[key] = struct{}{}
	}
	s.mu.Unlock()
	return layer, nil
}

// resolve walks location scope first, then the realm chain outward, then the
// global scope. It returns every scope consulted so the cache entry can be
// invalidated by any of them.
func (s *Service) resolve(ctx context.Context, locationID string, layerType storage.LayerType, tick int64) (*storage.DescriptionLayer, []string, error) {
	scopes := []string{storage.ScopeLocation(locationID)}

	layer, err := s.bestInScope(ctx, scopes[0], layerType, tick)
	if err != nil {
		return nil, nil, err
	}
	if layer != nil {
		return layer, scopes, nil
	}

	realmID := ""
	loc, err := s.locations.GetLocation(ctx, locationID)
	if err != nil {
		var notFound *storage.ErrNotFound
		if !errors.As(err, &notFound) {
			return nil, nil, err
		}
	} else {
		realmID = loc.RealmID
	}

	for depth := 0; realmID != "" && depth < maxRealmDepth; depth++ {
		scope := storage.ScopeRealm(realmID)
		scopes = append(scopes, scope)
		layer, err := s.bestInScope(ctx, scope, layerType, tick)
		if err != nil {
			return nil, nil, err
		}
		if layer != nil {
			return layer, scopes, nil
		}

		realm, err := s.realms.GetRealm(ctx, realmID)
		if err != nil {
			var notFound *storage.ErrNotFound
			if errors.As(err, &notFound) {
				break
			}
			return nil, nil, err
		}
		realmID = realm.ParentID
	}

	scopes = append(scopes, storage.ScopeGlobal)
	layer, err = s.bestInScope(ctx, storage.ScopeGlobal, layerType, tick)
	if err != nil {
		return nil, nil, err
	}
	return layer, scopes, nil
}

// bestInScope picks the latest-authored layer of the type valid at the tick.
func (s *Service) bestInScope(ctx context.Context, scopeID string, layerType storage.LayerType, tick int64) (*storage.DescriptionLayer, error) {
	candidates, err := s.layers.ListLayersByScope(ctx, scopeID)
	if err != nil {
		return nil, err
	}

	var best *storage.DescriptionLayer
	for _, layer := range candidates {
		if layer.LayerType != layerType || !layer.ActiveAt(tick) {
			continue
		}
		if best == nil || layer.AuthoredAt.After(best.AuthoredAt) {
			best = layer
		}
	}
	return best, nil
}

// invalidateScope drops every cached resolution that consulted the scope.
func (s *Service) invalidateScope(scopeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.scopeIndex[scopeID] {
		s.cache.Remove(key)
	}
	delete(s.scopeIndex, scopeID)
}

// SetInput describes a new layer. EffectiveToTick nil means open-ended.
type SetInput struct {
	LayerType         storage.LayerType
	Value             string
	EffectiveFromTick int64
	EffectiveToTick   *int64
	Metadata          map[string]string
}

// SetForLocation appends a location-scoped layer. Layers are append-only;
// superseding means authoring a newer one.
func (s *Service) SetForLocation(ctx context.Context, locationID string, in SetInput) (*storage.DescriptionLayer, error) {
	return s.set(ctx, storage.ScopeLocation(locationID), in)
}

// SetForRealm appends a realm-scoped layer.
func (s *Service) SetForRealm(ctx context.Context, realmID string, in SetInput) (*storage.DescriptionLayer, error) {
	return s.set(ctx, storage.ScopeRealm(realmID), in)
}

func (s *Service) set(ctx context.Context, scopeID string, in SetInput) (*storage.DescriptionLayer, error) {
	if in.Value == "" {
		return nil, &storage.ErrInvalidInput{Field: "value", Message: "must not be empty"}
	}
	if in.LayerType == "" {
		return nil, &storage.ErrInvalidInput{Field: "layerType", Message: "must not be empty"}
	}
	if in.EffectiveToTick != nil && *in.EffectiveToTick <= in.EffectiveFromTick {
		return nil, &storage.ErrInvalidInput{Field: "effectiveToTick", Message: "must be after effectiveFromTick"}
	}

	layer := &storage.DescriptionLayer{
		ID:                uuid.NewString(),
		ScopeID:           scopeID,
		LayerType:         in.LayerType,
		Value:             in.Value,
		EffectiveFromTick: in.EffectiveFromTick,
		EffectiveToTick:   in.EffectiveToTick,
		AuthoredAt:        s.now().UTC(),
		Metadata:          in.Metadata,
	}
	if err := s.layers.PutLayer(ctx, layer); err != nil {
		return nil, err
	}
	s.invalidateScope(scopeID)

	s.emitter.Emit(ctx, telemetry.EventWorldLayerAdded, map[string]interface{}{
		"layerId":   layer.ID,
		"scopeId":   scopeID,
		"layerType": string(in.LayerType),
	})
	return layer, nil
}

// DeleteLayer removes a layer by scope and id. Admin surface.
func (s *Service) DeleteLayer(ctx context.Context, scopeID, id string) error {
	if err := s.layers.DeleteLayer(ctx, scopeID, id); err != nil {
		return err
	}
	s.invalidateScope(scopeID)
	return nil
}
