package history

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semsmon/semsmon/internal/models"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// dayAgo returns a UTC timestamp n days back at the given hour.
func dayAgo(n, hour int) time.Time {
	return time.Now().UTC().AddDate(0, 0, -n).Truncate(24 * time.Hour).Add(time.Duration(hour) * time.Hour)
}

func TestInsertEnergyBatch(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rows := []models.EnergySample{
		{PlantID: "plant-1", Timestamp: dayAgo(1, 6), KWh: 1.5},
		{PlantID: "plant-1", Timestamp: dayAgo(1, 7), KWh: 2.0},
	}

	n, err := store.InsertGenerationBatch(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = store.InsertConsumptionBatch(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "empty batch is a no-op")
}

func TestGetHourlyProfile(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rows := []models.EnergySample{
		{PlantID: "plant-1", Timestamp: dayAgo(1, 6), KWh: 1.0},
		{PlantID: "plant-1", Timestamp: dayAgo(2, 6), KWh: 3.0},
		{PlantID: "plant-1", Timestamp: dayAgo(1, 12), KWh: 2.5},
		// outside the lookback window
		{PlantID: "plant-1", Timestamp: dayAgo(100, 9), KWh: 9.0},
		// different plant
		{PlantID: "plant-2", Timestamp: dayAgo(1, 6), KWh: 7.0},
	}
	_, err := store.InsertGenerationBatch(ctx, rows)
	require.NoError(t, err)

	profile, err := store.GetHourlyProfile(ctx, SeriesGeneration, "plant-1", 14)
	require.NoError(t, err)

	assert.InDelta(t, 2.0, profile[6], 1e-9)
	assert.InDelta(t, 2.5, profile[12], 1e-9)
	_, present := profile[9]
	assert.False(t, present, "hour outside window must be absent")
	_, present = profile[18]
	assert.False(t, present, "hour with no rows must be absent, not zero")
	assert.Len(t, profile, 2)
}

func TestGetDailyTotals(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	var rows []models.EnergySample
	for d := 1; d <= 70; d++ {
		rows = append(rows, models.EnergySample{
			PlantID:   "plant-1",
			Timestamp: dayAgo(d, 10),
			KWh:       1.0,
		})
	}
	// second row on the most recent day to verify summing
	rows = append(rows, models.EnergySample{PlantID: "plant-1", Timestamp: dayAgo(1, 20), KWh: 0.5})
	_, err := store.InsertConsumptionBatch(ctx, rows)
	require.NoError(t, err)

	totals, err := store.GetDailyTotals(ctx, SeriesConsumption, "plant-1", 120)
	require.NoError(t, err)

	require.Len(t, totals, 60, "daily totals are capped at 60 rows")
	assert.InDelta(t, 1.5, totals[0].KWh, 1e-9)
	for i := 1; i < len(totals); i++ {
		assert.True(t, totals[i].Day.Before(totals[i-1].Day), "totals must be sorted most-recent-first")
	}
}

func TestInsertBatteryAndGridSamples(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	err := store.InsertBatterySample(ctx, models.BatterySample{
		PlantID:   "plant-1",
		Timestamp: dayAgo(0, 14),
		SOC:       sql.NullFloat64{Float64: 87, Valid: true},
	})
	require.NoError(t, err)

	err = store.InsertBatterySample(ctx, models.BatterySample{
		PlantID:   "plant-1",
		Timestamp: dayAgo(0, 14),
		PowerKW:   sql.NullFloat64{Float64: -1.2, Valid: true},
	})
	require.NoError(t, err)

	err = store.InsertGridSample(ctx, models.GridSample{
		PlantID:   "plant-1",
		Timestamp: dayAgo(0, 14),
		PowerKW:   2.4,
		ImportKW:  2.4,
	})
	require.NoError(t, err)

	var count int
	err = store.db.QueryRow("SELECT COUNT(*) FROM battery_history WHERE plant_id = 'plant-1'").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestUnknownSeriesRejected(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.GetHourlyProfile(ctx, Series("users; DROP TABLE users"), "plant-1", 14)
	assert.Error(t, err)

	_, err = store.insertEnergyBatch(ctx, Series("nope"), []models.EnergySample{{PlantID: "p", Timestamp: dayAgo(1, 1), KWh: 1}})
	assert.Error(t, err)
}

func TestDuplicateRowsPermitted(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	row := models.EnergySample{PlantID: "plant-1", Timestamp: dayAgo(1, 6), KWh: 1.0}
	_, err := store.InsertGenerationBatch(ctx, []models.EnergySample{row, row})
	require.NoError(t, err)

	// No dedup on (plant_id, timestamp): both rows contribute to aggregates.
	profile, err := store.GetHourlyProfile(ctx, SeriesGeneration, "plant-1", 7)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, profile[6], 1e-9)

	totals, err := store.GetDailyTotals(ctx, SeriesGeneration, "plant-1", 7)
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.InDelta(t, 2.0, totals[0].KWh, 1e-9)
}
