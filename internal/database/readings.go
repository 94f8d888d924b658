package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/smukkama/heating-monitor/internal/telemetry"
)

const insertReadingQuery = `
	INSERT INTO sensor_readings (timestamp, temperature, humidity, power_draw, sensor_id, location)
	VALUES ($1, $2, $3, $4, $5, $6)
`

// InsertReading inserts a single sensor reading
func (db *DB) InsertReading(ctx context.Context, r *telemetry.Reading) error {
	_, err := db.ExecContext(ctx, insertReadingQuery,
		r.Timestamp,
		r.Temperature,
		r.Humidity,
		r.PowerDraw,
		r.SensorID,
		r.Location,
	)
	if err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}
	return nil
}

// InsertReadings inserts all readings in one transaction. Either all rows are stored or none.
func (db *DB) InsertReadings(ctx context.Context, readings []telemetry.Reading) (int, error) {
	if len(readings) == 0 {
		return 0, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertReadingQuery)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range readings {
		r := &readings[i]
		if _, err := stmt.ExecContext(ctx, r.Timestamp, r.Temperature, r.Humidity, r.PowerDraw, r.SensorID, r.Location); err != nil {
			return 0, fmt.Errorf("failed to insert reading %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit readings: %w", err)
	}
	return len(readings), nil
}

// LatestReading returns the most recent reading, or nil when the table is empty
func (db *DB) LatestReading(ctx context.Context) (*telemetry.Reading, error) {
	query := `SELECT ` + readingColumns + ` FROM sensor_readings ORDER BY timestamp DESC LIMIT 1`

	r, err := scanReading(db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest reading: %w", err)
	}
	return &r, nil
}

// ReadingsBetween returns readings with start <= timestamp <= end, oldest first
func (db *DB) ReadingsBetween(ctx context.Context, start, end time.Time) ([]telemetry.Reading, error) {
	query := `
		SELECT ` + readingColumns + `
		FROM sensor_readings
		WHERE timestamp >= $1 AND timestamp <= $2
		ORDER BY timestamp ASC
	`

	rows, err := db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	readings, err := scanReadings(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan readings: %w", err)
	}
	return readings, nil
}

// CountReadings returns the number of stored readings
func (db *DB) CountReadings(ctx context.Context) (int64, error) {
	var n int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sensor_readings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count readings: %w", err)
	}
	return n, nil
}

// DeleteReadingsBefore removes readings older than cutoff
func (db *DB) DeleteReadingsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM sensor_readings WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete readings: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
