package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/semsmon/semsmon/internal/models"
)

// PostgresStore is the networked backend. Concurrency is left to the
// driver's connection pool.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects via the pgx stdlib driver and migrates the schema.
func OpenPostgres(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) insertEnergyBatch(ctx context.Context, table Series, rows []models.EnergySample) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if !table.valid() {
		return 0, fmt.Errorf("unknown series %q", table)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (plant_id, timestamp, kwh) VALUES ($1, $2, $3)", table))
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.PlantID, r.Timestamp.UTC(), r.KWh); err != nil {
			tx.Rollback()
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (s *PostgresStore) InsertGenerationBatch(ctx context.Context, rows []models.EnergySample) (int, error) {
	return s.insertEnergyBatch(ctx, SeriesGeneration, rows)
}

func (s *PostgresStore) InsertConsumptionBatch(ctx context.Context, rows []models.EnergySample) (int, error) {
	return s.insertEnergyBatch(ctx, SeriesConsumption, rows)
}

func (s *PostgresStore) InsertBatterySample(ctx context.Context, b models.BatterySample) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO battery_history (plant_id, timestamp, soc, power_kw)
		VALUES ($1, $2, $3, $4)
	`, b.PlantID, b.Timestamp.UTC(), b.SOC, b.PowerKW)
	return err
}

func (s *PostgresStore) InsertGridSample(ctx context.Context, g models.GridSample) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO grid_history (plant_id, timestamp, power_kw, import_kw, export_kw)
		VALUES ($1, $2, $3, $4, $5)
	`, g.PlantID, g.Timestamp.UTC(), g.PowerKW, g.ImportKW, g.ExportKW)
	return err
}

func (s *PostgresStore) GetHourlyProfile(ctx context.Context, series Series, plantID string, lookbackDays int) (map[int]float64, error) {
	if !series.valid() {
		return nil, fmt.Errorf("unknown series %q", series)
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT EXTRACT(HOUR FROM timestamp AT TIME ZONE 'UTC')::int AS hour, AVG(kwh) AS kwh
		FROM %s
		WHERE plant_id = $1 AND timestamp >= now() - make_interval(days => $2)
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

func (s *PostgresStore) GetDailyTotals(ctx context.Context, series Series, plantID string, lookbackDays int) ([]models.DailyTotal, error) {
	if !series.valid() {
		return nil, fmt.Errorf("unknown series %q", series)
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT (DATE_TRUNC('day', timestamp AT TIME ZONE 'UTC'))::date AS day, SUM(kwh) AS kwh
		FROM %s
		WHERE plant_id = $1 AND timestamp >= now() - make_interval(days => $2)
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
		var day time.Time
		var kwh float64
		if err := rows.Scan(&day, &kwh); err != nil {
			return nil, err
		}
		totals = append(totals, models.DailyTotal{Day: day, KWh: kwh})
	}
	return totals, rows.Err()
}

var postgresMigrations = []migration{
	{
		Version:     1,
		Description: "Initial history schema",
		SQL: `
CREATE TABLE IF NOT EXISTS generation_history (
    id BIGSERIAL PRIMARY KEY,
    plant_id TEXT NOT NULL,
    timestamp TIMESTAMPTZ NOT NULL,
    kwh DOUBLE PRECISION NOT NULL,
    created_at TIMESTAMPTZ DEFAULT now()
);

CREATE TABLE IF NOT EXISTS consumption_history (
    id BIGSERIAL PRIMARY KEY,
    plant_id TEXT NOT NULL,
    timestamp TIMESTAMPTZ NOT NULL,
    kwh DOUBLE PRECISION NOT NULL,
    created_at TIMESTAMPTZ DEFAULT now()
);

CREATE TABLE IF NOT EXISTS battery_history (
    id BIGSERIAL PRIMARY KEY,
    plant_id TEXT NOT NULL,
    timestamp TIMESTAMPTZ NOT NULL,
    soc DOUBLE PRECISION,
    power_kw DOUBLE PRECISION,
    created_at TIMESTAMPTZ DEFAULT now()
);

CREATE TABLE IF NOT EXISTS grid_history (
    id BIGSERIAL PRIMARY KEY,
    plant_id TEXT NOT NULL,
    timestamp TIMESTAMPTZ NOT NULL,
    power_kw DOUBLE PRECISION NOT NULL,
    import_kw DOUBLE PRECISION NOT NULL,
    export_kw DOUBLE PRECISION NOT NULL,
    created_at TIMESTAMPTZ DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_generation_plant_time ON generation_history(plant_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_consumption_plant_time ON consumption_history(plant_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_battery_plant_time ON battery_history(plant_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_grid_plant_time ON grid_history(plant_id, timestamp);
`,
	},
}

func (s *PostgresStore) migrate() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at TIMESTAMPTZ
		)
	`); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}
	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return err
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, m := range postgresMigrations {
		if applied[m.Version] {
			continue
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES ($1, $2, $3)",
			m.Version, m.Description, time.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
