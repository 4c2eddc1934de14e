// Package report renders history data into downloadable spreadsheets.
package report

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/semsmon/semsmon/internal/history"
	"github.com/semsmon/semsmon/internal/models"
)

// BuildDailyHistoryXLSX writes one sheet per series with a day/kWh table
// covering the given lookback window, newest day first.
func BuildDailyHistoryXLSX(ctx context.Context, store history.Store, plantID string, lookbackDays int) ([]byte, error) {
	f := excelize.NewFile()

	sheets := []struct {
		name   string
		series history.Series
	}{
		{"generation", history.SeriesGeneration},
		{"consumption", history.SeriesConsumption},
	}

	for i, sh := range sheets {
		if i == 0 {
			f.SetSheetName("Sheet1", sh.name)
		} else {
			if _, err := f.NewSheet(sh.name); err != nil {
				return nil, fmt.Errorf("new sheet %s: %w", sh.name, err)
			}
		}

		totals, err := store.GetDailyTotals(ctx, sh.series, plantID, lookbackDays)
		if err != nil {
			return nil, fmt.Errorf("daily totals %s: %w", sh.name, err)
		}
		writeDailySheet(f, sh.name, plantID, totals)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeDailySheet(f *excelize.File, sheet, plantID string, totals []models.DailyTotal) {
	_ = f.SetCellValue(sheet, "A1", "Plant")
	_ = f.SetCellValue(sheet, "B1", plantID)
	_ = f.SetCellValue(sheet, "A2", "Day")
	_ = f.SetCellValue(sheet, "B2", "Energy (kWh)")
	for i, t := range totals {
		row := i + 3
		_ = f.SetCellValue(sheet, fmt.Sprintf("A%d", row), t.Day.Format("2006-01-02"))
		_ = f.SetCellValue(sheet, fmt.Sprintf("B%d", row), t.KWh)
	}
}
