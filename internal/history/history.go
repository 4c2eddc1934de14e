// Package history persists normalized energy samples and answers the
// aggregation queries the forecast and recommendation engines are built on.
// Two backends implement the same Store interface: an embedded SQLite file
// and a Postgres server. The backend is chosen once at startup and callers
// never learn which one is active.
package history

import (
	"context"
	"fmt"
	"log"

	"github.com/semsmon/semsmon/internal/models"
)

// Series names one of the two integrated-energy tables.
type Series string

const (
	SeriesGeneration  Series = "generation_history"
	SeriesConsumption Series = "consumption_history"
)

func (s Series) valid() bool {
	return s == SeriesGeneration || s == SeriesConsumption
}

// Store is the persistence boundary for plant telemetry history. All tables
// are append-only: duplicate (plant_id, timestamp) rows are permitted, and
// repeated ingestion of overlapping ranges will inflate aggregates.
type Store interface {
	InsertGenerationBatch(ctx context.Context, rows []models.EnergySample) (int, error)
	InsertConsumptionBatch(ctx context.Context, rows []models.EnergySample) (int, error)
	InsertBatterySample(ctx context.Context, s models.BatterySample) error
	InsertGridSample(ctx context.Context, s models.GridSample) error

	// GetHourlyProfile averages kwh by hour-of-day over the lookback window.
	// Hours with no contributing rows are absent from the map.
	GetHourlyProfile(ctx context.Context, series Series, plantID string, lookbackDays int) (map[int]float64, error)

	// GetDailyTotals sums kwh per calendar day, most recent first, capped at
	// 60 rows.
	GetDailyTotals(ctx context.Context, series Series, plantID string, lookbackDays int) ([]models.DailyTotal, error)

	Close() error
}

// Config selects and configures the backend. A non-empty DatabaseURL picks
// Postgres; otherwise the embedded SQLite file at Path is used.
type Config struct {
	DatabaseURL string
	Path        string
}

// Open connects the configured backend and applies pending migrations. The
// decision is made exactly once here; nothing downstream re-checks it.
func Open(cfg Config) (Store, error) {
	if cfg.DatabaseURL != "" {
		log.Println("history: using postgres backend")
		return OpenPostgres(cfg.DatabaseURL)
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("history: no database configured")
	}
	log.Printf("history: using sqlite backend at %s", cfg.Path)
	return OpenSQLite(cfg.Path)
}

const dailyTotalsCap = 60
