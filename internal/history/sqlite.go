package history

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/semsmon/semsmon/internal/models"
)

// SQLite timestamps are stored as UTC strings so the built-in date functions
// (STRFTIME, DATE) can bucket them directly.
const sqliteTimeLayout = "2006-01-02 15:04:05"

// SQLiteStore is the embedded single-file backend. Writes are serialized
// behind a mutex since SQLite allows only one writer at a time.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenSQLite opens (or creates) the database file and migrates the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) insertEnergyBatch(ctx context.Context, table Series, rows []models.EnergySample) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if !table.valid() {
		return 0, fmt.Errorf("unknown series %q", table)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (plant_id, timestamp, kwh) VALUES (?, ?, ?)", table))
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.PlantID, r.Timestamp.UTC().Format(sqliteTimeLayout), r.KWh); err != nil {
			tx.Rollback()
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (s *SQLiteStore) InsertGenerationBatch(ctx context.Context, rows []models.EnergySample) (int, error) {
	return s.insertEnergyBatch(ctx, SeriesGeneration, rows)
}

func (s *SQLiteStore) InsertConsumptionBatch(ctx context.Context, rows []models.EnergySample) (int, error) {
	return s.insertEnergyBatch(ctx, SeriesConsumption, rows)
}

func (s *SQLiteStore) InsertBatterySample(ctx context.Context, b models.BatterySample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO battery_history (plant_id, timestamp, soc, power_kw)
		VALUES (?, ?, ?, ?)
	`, b.PlantID, b.Timestamp.UTC().Format(sqliteTimeLayout), b.SOC, b.PowerKW)
	return err
}

func (s *SQLiteStore) InsertGridSample(ctx context.Context, g models.GridSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO grid_history (plant_id, timestamp, power_kw, import_kw, export_kw)
		VALUES (?, ?, ?, ?, ?)
	`, g.PlantID, g.Timestamp.UTC().Format(sqliteTimeLayout), g.PowerKW, g.ImportKW, g.ExportKW)
	return err
}

func (s *SQLiteStore) GetHourlyProfile(ctx context.Context, series Series, plantID string, lookbackDays int) (map[int]float64, error) {
	if !series.valid() {
		return nil, fmt.Errorf("unknown series %q", series)
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT CAST(STRFTIME('%%H', timestamp) AS INTEGER) AS hour, AVG(kwh) AS kwh
		FROM %s
		WHERE plant_id = ? AND timestamp >= DATETIME('now', '-' || ? || ' days')
		GROUP BY hour
		ORDER BY hour
	`, series), plantID, lookbackDays)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	profile := make(map[int]float64)
	for rows.Next() {
		var hour int
		var kwh float64
		if err := rows.Scan(&hour, &kwh); err != nil {
			return nil, err
		}
		profile[hour] = kwh
	}
	return profile, rows.Err()
}

func (s *SQLiteStore) GetDailyTotals(ctx context.Context, series Series, plantID string, lookbackDays int) ([]models.DailyTotal, error) {
	if !series.valid() {
		return nil, fmt.Errorf("unknown series %q", series)
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT DATE(timestamp) AS day, SUM(kwh) AS kwh
		FROM %s
		WHERE plant_id = ? AND timestamp >= DATETIME('now', '-' || ? || ' days')
		GROUP BY day
		ORDER BY day DESC
		LIMIT %d
	`, series, dailyTotalsCap), plantID, lookbackDays)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var totals []models.DailyTotal
	for rows.Next() {
		var day string
		var kwh float64
		if err := rows.Scan(&day, &kwh); err != nil {
			return nil, err
		}
		d, err := time.ParseInLocation("2006-01-02", day, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parse day %q: %w", day, err)
		}
		totals = append(totals, models.DailyTotal{Day: d, KWh: kwh})
	}
	return totals, rows.Err()
}
