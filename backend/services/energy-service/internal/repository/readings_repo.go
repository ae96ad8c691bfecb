package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"energymon/backend/libs/db"
	"energymon/backend/services/energy-service/internal/models"
)

const readingColumns = "ts, voltage, current, power, energy_kwh, frequency, pf"

var schemaStatements = map[db.Dialect][]string{
	db.DialectSQLite: {
		`CREATE TABLE IF NOT EXISTS readings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			voltage REAL,
			current REAL,
			power REAL,
			energy_kwh REAL,
			frequency REAL,
			pf REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_ts ON readings(ts)`,
	},
	db.DialectPostgres: {
		`CREATE TABLE IF NOT EXISTS readings (
			id BIGSERIAL PRIMARY KEY,
			ts TEXT NOT NULL,
			voltage DOUBLE PRECISION,
			current DOUBLE PRECISION,
			power DOUBLE PRECISION,
			energy_kwh DOUBLE PRECISION,
			frequency DOUBLE PRECISION,
			pf DOUBLE PRECISION
		)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_ts ON readings(ts)`,
	},
}

// ReadingsRepository is the append-only readings table. Every method acquires its own
// connection from the handle and releases it before returning.
type ReadingsRepository struct {
	handle *db.Handle
}

// NewReadingsRepository returns repository.
func NewReadingsRepository(handle *db.Handle) *ReadingsRepository {
	return &ReadingsRepository{handle: handle}
}

// EnsureSchema creates the readings table and its timestamp index if they are missing.
func (r *ReadingsRepository) EnsureSchema(ctx context.Context) error {
	stmts, ok := schemaStatements[r.handle.Dialect()]
	if !ok {
		return fmt.Errorf("repository: no schema for dialect %s", r.handle.Dialect())
	}

	conn, err := r.handle.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	for _, stmt := range stmts {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("repository: ensure schema: %w", err)
		}
	}
	return nil
}

// Insert appends one reading and returns its surrogate id.
func (r *ReadingsRepository) Insert(ctx context.Context, reading models.Reading) (int64, error) {
	query := r.handle.Rebind(`
		INSERT INTO readings (` + readingColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)

	conn, err := r.handle.Conn(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	m := reading.Measurements
	var id int64
	err = conn.QueryRowContext(ctx, query,
		reading.StoredTimestamp(),
		nullable(m.Voltage),
		nullable(m.Current),
		nullable(m.Power),
		nullable(m.EnergyKWh),
		nullable(m.Frequency),
		nullable(m.PowerFactor),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("repository: insert reading: %w", err)
	}
	return id, nil
}

// Recent returns up to limit records, newest first. Callers reverse the slice for display.
func (r *ReadingsRepository) Recent(ctx context.Context, limit int) ([]models.Record, error) {
	query := r.handle.Rebind(`
		SELECT id, ` + readingColumns + `
		FROM readings
		ORDER BY ts DESC, id DESC
		LIMIT ?
	`)

	conn, err := r.handle.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: query recent: %w", err)
	}
	defer rows.Close()

	records := make([]models.Record, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: scan recent: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: iterate recent: %w", err)
	}
	return records, nil
}

// Latest returns the most recent record by timestamp, or nil when the table is empty.
func (r *ReadingsRepository) Latest(ctx context.Context) (*models.Record, error) {
	query := `
		SELECT id, ` + readingColumns + `
		FROM readings
		ORDER BY ts DESC, id DESC
		LIMIT 1
	`

	conn, err := r.handle.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rec, err := scanRecord(conn.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository: query latest: %w", err)
	}
	return &rec, nil
}

// Monthly returns one bucket per UTC day of the given month, ascending. Each bucket is the
// row holding the day's earliest timestamp; rows sharing that exact timestamp resolve to the
// lowest id so the numeric fields always belong to the reported timestamp.
func (r *ReadingsRepository) Monthly(ctx context.Context, year int, month time.Month) ([]models.DayBucket, error) {
	from := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	query := r.handle.Rebind(`
		SELECT b.day, r.id, r.ts, r.voltage, r.current, r.power, r.energy_kwh, r.frequency, r.pf
		FROM (
			SELECT substr(ts, 1, 10) AS day, MIN(ts) AS min_ts
			FROM readings
			WHERE ts >= ? AND ts < ?
			GROUP BY substr(ts, 1, 10)
		) AS b
		JOIN readings AS r
			ON r.id = (SELECT MIN(id) FROM readings WHERE ts = b.min_ts)
		ORDER BY b.day ASC
	`)

	conn, err := r.handle.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, query, from.Format("2006-01-02"), to.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("repository: query monthly: %w", err)
	}
	defer rows.Close()

	var buckets []models.DayBucket
	for rows.Next() {
		var (
			bucket models.DayBucket
			vals   nullMeasurements
		)
		if err := rows.Scan(append([]any{&bucket.Day, &bucket.ID, &bucket.TS}, vals.dest()...)...); err != nil {
			return nil, fmt.Errorf("repository: scan monthly: %w", err)
		}
		bucket.Measurements = vals.measurements()
		buckets = append(buckets, bucket)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: iterate monthly: %w", err)
	}
	return buckets, nil
}

// Count returns the number of stored readings.
func (r *ReadingsRepository) Count(ctx context.Context) (int64, error) {
	conn, err := r.handle.Conn(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	var n int64
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM readings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("repository: count readings: %w", err)
	}
	return n, nil
}

// Ping reports whether the underlying database is reachable.
func (r *ReadingsRepository) Ping(ctx context.Context) error {
	return r.handle.Ping(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (models.Record, error) {
	var (
		rec  models.Record
		vals nullMeasurements
	)
	if err := row.Scan(append([]any{&rec.ID, &rec.TS}, vals.dest()...)...); err != nil {
		return models.Record{}, err
	}
	rec.Measurements = vals.measurements()
	return rec, nil
}

type nullMeasurements struct {
	voltage, current, power, energy, frequency, pf sql.NullFloat64
}

func (n *nullMeasurements) dest() []any {
	return []any{&n.voltage, &n.current, &n.power, &n.energy, &n.frequency, &n.pf}
}

func (n *nullMeasurements) measurements() models.Measurements {
	return models.Measurements{
		Voltage:     fromNull(n.voltage),
		Current:     fromNull(n.current),
		Power:       fromNull(n.power),
		EnergyKWh:   fromNull(n.energy),
		Frequency:   fromNull(n.frequency),
		PowerFactor: fromNull(n.pf),
	}
}

func fromNull(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
