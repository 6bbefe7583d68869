// Package search maintains a Bleve full-text index over locations and
// description layers for the admin search surface. The index is advisory: it
// is rebuilt from storage on demand and never treated as a source of truth.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"go.uber.org/zap"

	"github.com/openmud/aether/internal/storage"
	"github.com/openmud/aether/internal/telemetry"
)

// Document kinds.
const (
	KindLocation = "location"
	KindLayer    = "layer"
)

// ErrIndexClosed is returned after Close.
var ErrIndexClosed = errors.New("search index is closed")

// DefaultLimit bounds a query that does not name its own limit.
const DefaultLimit = 10

// document is the indexed shape for both kinds.
type document struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Hit is one search result.
type Hit struct {
	ID         string              `json:"id"`
	Kind       string              `json:"kind"`
	Score      float64             `json:"score"`
	Highlights map[string][]string `json:"highlights,omitempty"`
}

// Results is a scored result page.
type Results struct {
	Total uint64 `json:"total"`
	Hits  []*Hit `json:"hits"`
}

// Config selects index placement.
type Config struct {
	// Path is the on-disk index directory; empty or InMemory uses a
	// memory-only index.
	Path     string
	InMemory bool
}

// Index is the Bleve-backed admin search index.
type Index struct {
	emitter *telemetry.Emitter
	logger  *zap.Logger

	mu     sync.RWMutex
	index  bleve.Index
	closed bool
}

// New opens or creates the index.
func New(cfg Config, emitter *telemetry.Emitter, logger *zap.Logger) (*Index, error) {
	indexMapping := buildIndexMapping()

	var idx bleve.Index
	var err error
	if cfg.InMemory || cfg.Path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		idx, err = bleve.Open(cfg.Path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(cfg.Path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("opening search index: %w", err)
	}

	return &Index{
		emitter: emitter,
		logger:  logger.Named("search"),
		index:   idx,
	}, nil
}

func buildIndexMapping() *mapping.IndexMappingImpl {
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name

	keywordFieldMapping := bleve.NewKeywordFieldMapping()

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("name", textFieldMapping)
	docMapping.AddFieldMappingsAt("content", textFieldMapping)
	docMapping.AddFieldMappingsAt("kind", keywordFieldMapping)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = standard.Name
	return indexMapping
}

// IndexLocation adds or refreshes one location document.
func (idx *Index) IndexLocation(ctx context.Context, loc *storage.Location) error {
	if loc == nil || loc.ID == "" {
		return &storage.ErrInvalidInput{Field: "location", Message: "must have an id"}
	}
	return idx.put(ctx, locationDocID(loc.ID), &document{
		Kind:    KindLocation,
		Name:    loc.Name,
		Content: strings.TrimSpace(loc.Description + "\n" + loc.ExitsSummary),
	})
}

// IndexLayer adds or refreshes one description-layer document.
func (idx *Index) IndexLayer(ctx context.Context, layer *storage.DescriptionLayer) error {
	if layer == nil || layer.ID == "" {
		return &storage.ErrInvalidInput{Field: "layer", Message: "must have an id"}
	}
	return idx.put(ctx, layerDocID(layer.ScopeID, layer.ID), &document{
		Kind:    KindLayer,
		Name:    string(layer.LayerType),
		Content: layer.Value,
	})
}

// DeleteLocation removes a location document. Missing documents are a no-op.
func (idx *Index) DeleteLocation(_ context.Context, locationID string) error {
	return idx.delete(locationDocID(locationID))
}

// DeleteLayer removes a layer document.
func (idx *Index) DeleteLayer(_ context.Context, scopeID, layerID string) error {
	return idx.delete(layerDocID(scopeID, layerID))
}

// Rebuild drops nothing but re-indexes every location and layer in storage in
// one batch. Used at startup when the index is memory-only.
func (idx *Index) Rebuild(ctx context.Context, locations storage.LocationStore, layers storage.LayerStore) (int, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return 0, ErrIndexClosed
	}

	batch := idx.index.NewBatch()
	count := 0

	locs, err := locations.ListLocations(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing locations for reindex: %w", err)
	}
	for _, loc := range locs {
		if err := batch.Index(locationDocID(loc.ID), &document{
			ID:      locationDocID(loc.ID),
			Kind:    KindLocation,
			Name:    loc.Name,
			Content: strings.TrimSpace(loc.Description + "\n" + loc.ExitsSummary),
		}); err != nil {
			return 0, err
		}
		count++
	}

	all, err := layers.ListLayers(ctx, 0, 0)
	if err != nil {
		return 0, fmt.Errorf("listing layers for reindex: %w", err)
	}
	for _, layer := range all {
		if err := batch.Index(layerDocID(layer.ScopeID, layer.ID), &document{
			ID:      layerDocID(layer.ScopeID, layer.ID),
			Kind:    KindLayer,
			Name:    string(layer.LayerType),
			Content: layer.Value,
		}); err != nil {
			return 0, err
		}
		count++
	}

	if err := idx.index.Batch(batch); err != nil {
		return 0, err
	}
	idx.logger.Info("search index rebuilt", zap.Int("documents", count))
	return count, nil
}

// Search runs a match query over names and content, optionally filtered to one
// kind. An empty query matches everything in the kind.
func (idx *Index) Search(ctx context.Context, queryStr, kind string, limit int) (*Results, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.closed {
		return nil, ErrIndexClosed
	}
	if kind != "" && kind != KindLocation && kind != KindLayer {
		return nil, &storage.ErrInvalidInput{Field: "kind", Message: "must be location or layer"}
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	start := time.Now()
	req := bleve.NewSearchRequestOptions(idx.buildQuery(queryStr, kind), limit, 0, false)
	req.Highlight = bleve.NewHighlight()
	req.Highlight.AddField("content")

	res, err := idx.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search query failed: %w", err)
	}

	out := &Results{Total: res.Total, Hits: make([]*Hit, len(res.Hits))}
	for i, hit := range res.Hits {
		kind, id := splitDocID(hit.ID)
		out.Hits[i] = &Hit{
			ID:         id,
			Kind:       kind,
			Score:      hit.Score,
			Highlights: hit.Fragments,
		}
	}

	idx.emitter.Emit(ctx, telemetry.EventSearchQueryCompleted, map[string]interface{}{
		"query":  queryStr,
		"kind":   kind,
		"hits":   len(out.Hits),
		"total":  out.Total,
		"tookMs": time.Since(start).Milliseconds(),
	})
	return out, nil
}

func (idx *Index) buildQuery(queryStr, kind string) query.Query {
	queries := make([]query.Query, 0, 2)

	if queryStr != "" {
		name := bleve.NewMatchQuery(queryStr)
		name.SetField("name")
		content := bleve.NewMatchQuery(queryStr)
		content.SetField("content")
		queries = append(queries, bleve.NewDisjunctionQuery(name, content))
	}
	if kind != "" {
		kq := bleve.NewTermQuery(kind)
		kq.SetField("kind")
		queries = append(queries, kq)
	}

	switch len(queries) {
	case 0:
		return bleve.NewMatchAllQuery()
	case 1:
		return queries[0]
	default:
		return bleve.NewConjunctionQuery(queries...)
	}
}

// DocCount returns the number of indexed documents.
func (idx *Index) DocCount() (uint64, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.closed {
		return 0, ErrIndexClosed
	}
	return idx.index.DocCount()
}

// Close releases the index.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return nil
	}
	idx.closed = true
	return idx.index.Close()
}

func (idx *Index) put(ctx context.Context, docID string, doc *document) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return ErrIndexClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	doc.ID = docID
	return idx.index.Index(docID, doc)
}

func (idx *Index) delete(docID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return ErrIndexClosed
	}
	return idx.index.Delete(docID)
}

func locationDocID(id string) string { return KindLocation + ":" + id }

func layerDocID(scopeID, id string) string { return KindLayer + ":" + scopeID + "|" + id }

func splitDocID(docID string) (kind, id string) {
	kind, id, ok := strings.Cut(docID, ":")
	if !ok {
		return "", docID
	}
	return kind, id
}
