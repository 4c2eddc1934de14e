package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semsmon/semsmon/internal/api"
	"github.com/semsmon/semsmon/internal/history"
	"github.com/semsmon/semsmon/internal/insights"
	"github.com/semsmon/semsmon/internal/models"
)

type fakeBackfiller struct {
	plantID string
	days    int
	result  models.BackfillResult
}

func (f *fakeBackfiller) Backfill(ctx context.Context, plantID string, days int, start time.Time) models.BackfillResult {
	f.plantID = plantID
	f.days = days
	return f.result
}

func newTestServer(t *testing.T) (*api.Server, *history.SQLiteStore, *fakeBackfiller) {
	t.Helper()
	store, err := history.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	bf := &fakeBackfiller{result: models.BackfillResult{Completed: 2, Days: 3, Errors: []string{"2025-03-13: boom"}}}
	srv := api.NewServer(store, insights.New(store), bf, nil, nil, "8080")
	return srv, store, bf
}

func doRequest(t *testing.T, srv *api.Server, method, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	var body map[string]any
	if w.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

func TestForecastEndpoint(t *testing.T) {
	srv, store, _ := newTestServer(t)

	ts := time.Now().UTC().Add(-24 * time.Hour)
	_, err := store.InsertGenerationBatch(context.Background(), []models.EnergySample{
		{PlantID: "plant-1", Timestamp: ts, KWh: 1.5},
	})
	require.NoError(t, err)

	w, body := doRequest(t, srv, "GET", "/api/forecast?plant_id=plant-1&hours=2")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["ok"])

	forecast, ok := body["forecast"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "plant-1", forecast["plant_id"])
	assert.Equal(t, float64(2), forecast["hours"])
	items, ok := forecast["items"].([]any)
	require.True(t, ok)
	assert.Len(t, items, 2)
	assert.Equal(t, false, forecast["weather_used"])
}

func TestForecastRequiresPlantID(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w, body := doRequest(t, srv, "GET", "/api/forecast")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, false, body["ok"])
	assert.Contains(t, body["error"], "plant_id")
}

func TestForecastRejectsBadHours(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w, body := doRequest(t, srv, "GET", "/api/forecast?plant_id=plant-1&hours=abc")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, false, body["ok"])
}

func TestRecommendationsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w, body := doRequest(t, srv, "GET", "/api/recommendations?plant_id=plant-1")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["ok"])

	recs, ok := body["recommendations"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "plant-1", recs["plant_id"])
	// An empty store still yields the default recommendation.
	items, ok := recs["recommendations"].([]any)
	require.True(t, ok)
	assert.NotEmpty(t, items)
}

func TestBackfillEndpoint(t *testing.T) {
	srv, _, bf := newTestServer(t)

	w, body := doRequest(t, srv, "POST", "/api/backfill?plant_id=plant-1&days=3")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "plant-1", bf.plantID)
	assert.Equal(t, 3, bf.days)

	result, ok := body["backfill"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(2), result["completed"])
	assert.Equal(t, float64(3), result["days"])
}

func TestBackfillRequiresPost(t *testing.T) {
	srv, _, bf := newTestServer(t)

	w, body := doRequest(t, srv, "GET", "/api/backfill?plant_id=plant-1")

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, false, body["ok"])
	assert.Empty(t, bf.plantID)
}

func TestDailyHistoryEndpoint(t *testing.T) {
	srv, store, _ := newTestServer(t)

	day := time.Now().UTC().Add(-24 * time.Hour)
	_, err := store.InsertConsumptionBatch(context.Background(), []models.EnergySample{
		{PlantID: "plant-1", Timestamp: day, KWh: 4.2},
	})
	require.NoError(t, err)

	w, body := doRequest(t, srv, "GET", "/api/history/daily?plant_id=plant-1&series=consumption")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["ok"])
	days, ok := body["days"].([]any)
	require.True(t, ok)
	require.Len(t, days, 1)
	row := days[0].(map[string]any)
	assert.Equal(t, day.Format("2006-01-02"), row["day"])
	assert.InDelta(t, 4.2, row["kwh"].(float64), 1e-9)
}

func TestDailyHistoryRejectsUnknownSeries(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w, body := doRequest(t, srv, "GET", "/api/history/daily?plant_id=plant-1&series=battery")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, false, body["ok"])
}

func TestExportEndpoint(t *testing.T) {
	srv, store, _ := newTestServer(t)

	_, err := store.InsertGenerationBatch(context.Background(), []models.EnergySample{
		{PlantID: "plant-1", Timestamp: time.Now().UTC().Add(-24 * time.Hour), KWh: 2.0},
	})
	require.NoError(t, err)

	w, _ := doRequest(t, srv, "GET", "/api/history/export?plant_id=plant-1")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "history-plant-1.xlsx")
	assert.NotEmpty(t, w.Body.Bytes())
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w, body := doRequest(t, srv, "GET", "/healthz")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "ok", body["status"])
}
