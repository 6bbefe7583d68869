package server

import (
	"bytes"
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmud/aether/internal/storage"
	"github.com/openmud/aether/internal/telemetry"
	"github.com/openmud/aether/internal/world"
)

func TestGenerateArea(t *testing.T) {
	env := newTestEnv(t)

	body := []byte(`{"anchorLocationId":"` + env.anchorID + `","mode":"urban","budget":3}`)
	rec, resp := env.do(t, http.MethodPost, "/api/world/generate-area", bytes.NewReader(body), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), resp.Data["budget"])
	assert.Equal(t, float64(5), resp.Data["maxBudget"])
	assert.NotEmpty(t, resp.Data["eventId"])
	assert.Equal(t, env.anchorID, resp.Data["anchorLocationId"])
	assert.NotEmpty(t, resp.Data["idempotencyKey"])
	assert.False(t, resp.Data["duplicate"].(bool))

	// A retry with the same contents dedupes onto the same envelope and
	// reports the same idempotency key.
	key := resp.Data["idempotencyKey"]
	rec, resp = env.do(t, http.MethodPost, "/api/world/generate-area", bytes.NewReader(body), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Data["duplicate"].(bool))
	assert.Equal(t, key, resp.Data["idempotencyKey"])
	assert.Equal(t, env.anchorID, resp.Data["anchorLocationId"])
}

func TestGenerateArea_BudgetClamped(t *testing.T) {
	env := newTestEnv(t)

	body := []byte(`{"anchorLocationId":"` + env.anchorID + `","budget":50}`)
	rec, resp := env.do(t, http.MethodPost, "/api/world/generate-area", bytes.NewReader(body), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(5), resp.Data["budget"])
	assert.True(t, resp.Data["clamped"].(bool))
}

func TestGenerateArea_Errors(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodPost, "/api/world/generate-area",
		bytes.NewReader([]byte(`{"anchorLocationId":"not-a-uuid"}`)), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "InvalidInput", resp.Error.Code)

	rec, resp = env.do(t, http.MethodPost, "/api/world/generate-area",
		bytes.NewReader([]byte(`{"anchorLocationId":"`+uuid.NewString()+`"}`)), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NotFound", resp.Error.Code)
}

func TestLinkRooms(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	thirdID := uuid.NewString()
	_, err := env.graph.Upsert(ctx, worldUpsert(thirdID, "Stone Steps"))
	require.NoError(t, err)

	body := []byte(`{"originId":"` + env.eastID + `","destId":"` + thirdID + `","dir":"north","reciprocal":true}`)
	rec, resp := env.do(t, http.MethodPost, "/api/world/link-rooms", bytes.NewReader(body), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Data["forwardCreated"].(bool))
	assert.True(t, resp.Data["reverseCreated"].(bool))

	// Applying the identical link again is a no-op.
	rec, resp = env.do(t, http.MethodPost, "/api/world/link-rooms", bytes.NewReader(body), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, resp.Data["forwardCreated"].(bool))

	loc, err := env.graph.Get(ctx, env.eastID)
	require.NoError(t, err)
	dirs := make([]string, 0, len(loc.Exits))
	for _, e := range loc.Exits {
		dirs = append(dirs, e.Direction)
	}
	assert.Contains(t, dirs, "north")
}

func TestLinkRooms_Conflict(t *testing.T) {
	env := newTestEnv(t)

	// The anchor already has an east exit to a different location.
	otherID := uuid.NewString()
	_, err := env.graph.Upsert(context.Background(), worldUpsert(otherID, "Cellar"))
	require.NoError(t, err)

	body := []byte(`{"originId":"` + env.anchorID + `","destId":"` + otherID + `","dir":"east"}`)
	rec, resp := env.do(t, http.MethodPost, "/api/world/link-rooms", bytes.NewReader(body), nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Conflict", resp.Error.Code)
	assert.Equal(t, env.eastID, resp.Error.Details["existingToId"])
}

func TestClockRoutes(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.get(t, "/api/world/clock", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NotFound", resp.Error.Code)

	// The operator advance lazily initializes at tick zero.
	rec, resp = env.do(t, http.MethodPost, "/api/world/clock/advance",
		bytes.NewReader([]byte(`{"durationMs":60000,"reason":"catchup"}`)), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	clockData := resp.Data["clock"].(map[string]interface{})
	assert.Equal(t, float64(60000), clockData["currentTick"])

	rec, resp = env.get(t, "/api/world/clock", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	clockData = resp.Data["clock"].(map[string]interface{})
	assert.Equal(t, float64(60000), clockData["currentTick"])
	assert.NotEmpty(t, clockData["etag"])

	rec, resp = env.do(t, http.MethodPost, "/api/world/clock/advance",
		bytes.NewReader([]byte(`{"durationMs":0}`)), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "InvalidInput", resp.Error.Code)

	assert.NotEmpty(t, env.sink.ByName(telemetry.EventWorldClockAdvanced))
}

func TestQueryEvents(t *testing.T) {
	env := newTestEnv(t)

	// A successful move appends one event to the origin partition.
	rec, _ := env.get(t, "/api/player/move?from="+env.anchorID+"&dir=east", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	scope := storage.ScopeLocation(env.anchorID)
	rec, resp := env.get(t, "/api/events?scope="+scope, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), resp.Data["count"])
	events := resp.Data["events"].([]interface{})
	ev := events[0].(map[string]interface{})
	assert.Equal(t, telemetry.EventLocationMove, ev["eventType"])

	rec, resp = env.get(t, "/api/events?scope="+scope+"&status=processed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), resp.Data["count"])

	rec, resp = env.get(t, "/api/events?scope="+scope+"&status=bogus", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "InvalidInput", resp.Error.Code)

	rec, resp = env.get(t, "/api/events?scope="+scope+"&from=yesterday", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, resp = env.get(t, "/api/events", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecentEvents(t *testing.T) {
	env := newTestEnv(t)

	for _, dir := range []string{"east", "west"} {
		from := env.anchorID
		if dir == "west" {
			from = env.eastID
		}
		rec, _ := env.get(t, "/api/player/move?from="+from+"&dir="+dir, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec, resp := env.get(t, "/api/events/recent?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), resp.Data["count"])

	rec, _ = env.get(t, "/api/events/recent?limit=-1", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminSearch(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.get(t, "/api/admin/search?q=ferns", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	hits := resp.Data["hits"].([]interface{})
	require.NotEmpty(t, hits)
	hit := hits[0].(map[string]interface{})
	assert.Equal(t, env.eastID, hit["id"])
	assert.Equal(t, "location", hit["kind"])

	rec, resp = env.get(t, "/api/admin/search?q=ferns&kind=bogus", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "InvalidInput", resp.Error.Code)

	rec, resp = env.get(t, "/api/admin/search", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSnapshotRoutes(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodGet, "/api/admin/snapshot/export", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	raw := rec.Body.Bytes()
	require.Greater(t, len(raw), 4)
	assert.Equal(t, []byte{0x04, 0x22, 0x4d, 0x18}, raw[:4])

	rec, resp := env.do(t, http.MethodPost, "/api/admin/snapshot/import", bytes.NewReader(raw), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), resp.Data["locations"])
	assert.Equal(t, float64(1), resp.Data["realms"])

	rec, resp = env.do(t, http.MethodPost, "/api/admin/snapshot/import",
		bytes.NewReader([]byte("garbage")), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "InvalidInput", resp.Error.Code)
}

func TestStreamEvents_Disabled(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.get(t, "/api/events/stream", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "Unavailable", resp.Error.Code)
}

func worldUpsert(id, name string) world.UpsertInput {
	return world.UpsertInput{ID: id, Name: name, Description: name + "."}
}
