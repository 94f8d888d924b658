package database

import (
	"database/sql"

	"github.com/smukkama/heating-monitor/internal/telemetry"
)

// readingColumns is the select list matching scanReading
const readingColumns = `timestamp, temperature, humidity, power_draw, sensor_id, location`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReading(row rowScanner) (telemetry.Reading, error) {
	var r telemetry.Reading
	err := row.Scan(
		&r.Timestamp,
		&r.Temperature,
		&r.Humidity,
		&r.PowerDraw,
		&r.SensorID,
		&r.Location,
	)
	return r, err
}

func scanReadings(rows *sql.Rows) ([]telemetry.Reading, error) {
	defer rows.Close()

	readings := []telemetry.Reading{}
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}
