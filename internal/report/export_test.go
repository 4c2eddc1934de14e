package report

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/semsmon/semsmon/internal/history"
	"github.com/semsmon/semsmon/internal/models"
)

func TestBuildDailyHistoryXLSX(t *testing.T) {
	store, err := history.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	day := time.Now().UTC().Add(-24 * time.Hour).Truncate(time.Hour)
	_, err = store.InsertGenerationBatch(ctx, []models.EnergySample{
		{PlantID: "plant-1", Timestamp: day, KWh: 2.5},
		{PlantID: "plant-1", Timestamp: day.Add(time.Hour), KWh: 1.5},
	})
	require.NoError(t, err)
	_, err = store.InsertConsumptionBatch(ctx, []models.EnergySample{
		{PlantID: "plant-1", Timestamp: day, KWh: 0.8},
	})
	require.NoError(t, err)

	data, err := BuildDailyHistoryXLSX(ctx, store, "plant-1", 30)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	assert.ElementsMatch(t, []string{"generation", "consumption"}, f.GetSheetList())

	genDay, err := f.GetCellValue("generation", "A3")
	require.NoError(t, err)
	assert.Equal(t, day.Format("2006-01-02"), genDay)

	genKWh, err := f.GetCellValue("generation", "B3")
	require.NoError(t, err)
	assert.Equal(t, "4", genKWh)

	consKWh, err := f.GetCellValue("consumption", "B3")
	require.NoError(t, err)
	assert.Equal(t, "0.8", consKWh)
}

func TestBuildDailyHistoryXLSXEmpty(t *testing.T) {
	store, err := history.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	data, err := BuildDailyHistoryXLSX(context.Background(), store, "plant-1", 30)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}
