package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openmud/aether/internal/clock"
	"github.com/openmud/aether/internal/config"
	"github.com/openmud/aether/internal/expansion"
	"github.com/openmud/aether/internal/layers"
	"github.com/openmud/aether/internal/nav"
	"github.com/openmud/aether/internal/search"
	"github.com/openmud/aether/internal/snapshot"
	"github.com/openmud/aether/internal/storage"
	"github.com/openmud/aether/internal/storage/memory"
	"github.com/openmud/aether/internal/telemetry"
	"github.com/openmud/aether/internal/world"
)

// testEnv wires a full server over the in-memory store.
type testEnv struct {
	server *Server
	store  *memory.Store
	sink   *telemetry.MemorySink
	graph  *world.Graph
	clocks *clock.Service

	anchorID string
	eastID   string
}

func testConfig(starterID string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			HTTPPort:       8080,
			RequestTimeout: 5 * time.Second,
			CORSOrigins:    []string{"*"},
		},
		Log:     config.LogConfig{Level: "error", Format: "console"},
		Storage: config.StorageConfig{Mode: "memory"},
		World:   config.WorldConfig{StarterLocationID: starterID, ServiceName: "aether"},
		Events:  config.EventsConfig{QueryLimit: 100},
		Search:  config.SearchConfig{Enabled: true, InMemory: true},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, nil)
}

func newTestEnvWith(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	store := memory.New(memory.Options{})
	t.Cleanup(func() { store.Close() })

	sink := telemetry.NewMemorySink()
	emitter := telemetry.NewEmitter(sink, "aether", "memory")

	graph := world.NewGraph(store, emitter, logger)
	clocks := clock.NewService(store, store, emitter, logger, clock.Options{})
	layerSvc, err := layers.NewService(store, store, store, emitter, logger, 16)
	require.NoError(t, err)

	anchorID := uuid.NewString()
	eastID := uuid.NewString()

	require.NoError(t, store.PutRealm(ctx, &storage.Realm{
		ID: "vale", Name: "The Vale", Tier: storage.TierRegional,
	}))
	_, err = graph.Upsert(ctx, world.UpsertInput{
		ID:          anchorID,
		Name:        "Trailhead",
		Description: "A worn path splits at a mossy marker stone.",
		RealmID:     "vale",
		Exits:       []storage.Exit{{Direction: "east", ToLocationID: eastID}},
		ExitMeta: &storage.ExitMetadata{
			Forbidden: map[string]string{"down": "solid bedrock"},
			Pending:   map[string]string{"north": "a gap in the briars"},
		},
	})
	require.NoError(t, err)
	_, err = graph.Upsert(ctx, world.UpsertInput{
		ID:          eastID,
		Name:        "Fern Hollow",
		Description: "Ferns crowd a shallow bowl of earth.",
		RealmID:     "vale",
		Exits:       []storage.Exit{{Direction: "west", ToLocationID: anchorID}},
	})
	require.NoError(t, err)

	pipeline := nav.NewPipeline(graph, store, clocks, store, nav.NewMemoryHeadingStore(),
		nav.NewDebouncer(store, time.Minute, logger), emitter, logger, anchorID)
	orchestrator := expansion.NewOrchestrator(store, store, store, emitter, logger, 5, anchorID)
	snapshots := snapshot.NewService(store, emitter, logger)

	idx, err := search.New(search.Config{InMemory: true}, emitter, logger)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	_, err = idx.Rebuild(ctx, store, store)
	require.NoError(t, err)

	cfg := testConfig(anchorID)
	if mutate != nil {
		mutate(cfg)
	}
	srv := New(cfg, Deps{
		Players:   store,
		Events:    store,
		Graph:     graph,
		Clocks:    clocks,
		Layers:    layerSvc,
		Pipeline:  pipeline,
		Expansion: orchestrator,
		Snapshots: snapshots,
		Search:    idx,
		Emitter:   emitter,
	}, logger)

	return &testEnv{
		server:   srv,
		store:    store,
		sink:     sink,
		graph:    graph,
		clocks:   clocks,
		anchorID: anchorID,
		eastID:   eastID,
	}
}

// response mirrors the wire envelope for assertions.
type response struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data"`
	Error   *struct {
		Code    string                 `json:"code"`
		Message string                 `json:"message"`
		Details map[string]interface{} `json:"details"`
	} `json:"error"`
	CorrelationID string `json:"correlationId"`
}

func (e *testEnv) do(t *testing.T, method, target string, body io.Reader, headers map[string]string) (*httptest.ResponseRecorder, *response) {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)

	var resp response
	if strings.Contains(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), "body: %s", rec.Body.String())
	}
	return rec, &resp
}

func (e *testEnv) get(t *testing.T, target string, headers map[string]string) (*httptest.ResponseRecorder, *response) {
	t.Helper()
	return e.do(t, http.MethodGet, target, nil, headers)
}
