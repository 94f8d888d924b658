package aggregation

import (
	"context"
	"fmt"
	"time"

	"github.com/smukkama/heating-monitor/internal/database"
	"github.com/smukkama/heating-monitor/internal/telemetry"
)

// HourlyAggregator groups readings by clock hour and computes window averages
type HourlyAggregator struct {
	db       *database.DB
	location *time.Location
}

// NewHourlyAggregator creates a new hourly aggregator for the given time zone
func NewHourlyAggregator(db *database.DB, loc *time.Location) *HourlyAggregator {
	return &HourlyAggregator{db: db, location: loc}
}

// Rollup averages all readings since the given instant per local clock hour, oldest hour first
func (h *HourlyAggregator) Rollup(ctx context.Context, since time.Time) ([]telemetry.HourlyPoint, error) {
	query := `
		SELECT
			date_trunc('hour', timestamp AT TIME ZONE $2) AS local_hour,
			AVG(temperature) AS avg_temp,
			AVG(humidity) AS avg_humidity,
			AVG(power_draw) AS avg_power,
			COUNT(*) AS sample_count
		FROM
			sensor_readings
		WHERE
			timestamp >= $1
		GROUP BY
			local_hour
		ORDER BY
			local_hour ASC
	`

	rows, err := h.db.QueryContext(ctx, query, since, h.location.String())
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate hourly data: %w", err)
	}
	defer rows.Close()

	points := []telemetry.HourlyPoint{}
	for rows.Next() {
		var (
			localHour                  time.Time
			temperature, humidity, pow float64
			count                      int
		)
		if err := rows.Scan(&localHour, &temperature, &humidity, &pow, &count); err != nil {
			return nil, fmt.Errorf("failed to scan hourly row: %w", err)
		}
		points = append(points, hourlyPoint(localHour, h.location, temperature, humidity, pow, count))
	}
	return points, rows.Err()
}

// hourlyPoint builds a rounded point. localHour carries the wall clock of loc without a zone.
func hourlyPoint(localHour time.Time, loc *time.Location, temperature, humidity, power float64, count int) telemetry.HourlyPoint {
	start := time.Date(localHour.Year(), localHour.Month(), localHour.Day(), localHour.Hour(), 0, 0, 0, loc)
	return telemetry.HourlyPoint{
		Hour:        start.Format("15:04"),
		Timestamp:   start,
		Temperature: Round(temperature, 1),
		Humidity:    Round(humidity, 0),
		PowerDraw:   Round(power, 0),
		SampleCount: count,
	}
}

// Averages computes the rounded averages of all readings since the given instant.
// An empty window yields zeros.
func (h *HourlyAggregator) Averages(ctx context.Context, since time.Time) (*telemetry.Averages, error) {
	query := `
		SELECT
			COALESCE(AVG(temperature), 0),
			COALESCE(AVG(humidity), 0),
			COALESCE(AVG(power_draw), 0),
			COUNT(*)
		FROM
			sensor_readings
		WHERE
			timestamp >= $1
	`

	var temperature, humidity, power float64
	var count int
	if err := h.db.QueryRowContext(ctx, query, since).Scan(&temperature, &humidity, &power, &count); err != nil {
		return nil, fmt.Errorf("failed to compute averages: %w", err)
	}
	return averages(temperature, humidity, power, count), nil
}

// averages rounds raw means; kWh over 24h is the mean power extrapolated to a full day
func averages(temperature, humidity, power float64, count int) *telemetry.Averages {
	if count == 0 {
		return &telemetry.Averages{}
	}
	return &telemetry.Averages{
		TemperatureAvg: Round(temperature, 1),
		HumidityAvg:    Round(humidity, 0),
		PowerAvg:       Round(power, 0),
		Kwh24h:         Round(power*24/1000, 2),
		Count:          count,
	}
}
