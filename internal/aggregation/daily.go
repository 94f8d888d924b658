package aggregation

import (
	"context"
	"fmt"
	"time"

	"github.com/smukkama/heating-monitor/internal/telemetry"
)

// ReadingStore is the subset of the database used for daily consumption and retention
type ReadingStore interface {
	ReadingsBetween(ctx context.Context, start, end time.Time) ([]telemetry.Reading, error)
	DeleteReadingsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// DailyAggregator computes per-day consumption and purges old readings
type DailyAggregator struct {
	store    ReadingStore
	location *time.Location
	now      func() time.Time
}

// NewDailyAggregator creates a new daily aggregator. Calendar days are taken in loc.
func NewDailyAggregator(store ReadingStore, loc *time.Location) *DailyAggregator {
	return &DailyAggregator{store: store, location: loc, now: time.Now}
}

// Location returns the time zone that defines a calendar day
func (d *DailyAggregator) Location() *time.Location {
	return d.location
}

// DailyKwh returns the energy consumed on the calendar day containing day
func (d *DailyAggregator) DailyKwh(ctx context.Context, day time.Time) (float64, error) {
	start, end := DayBounds(day, d.location)

	readings, err := d.store.ReadingsBetween(ctx, start, end)
	if err != nil {
		return 0, fmt.Errorf("failed to load readings for %s: %w", start.Format("2006-01-02"), err)
	}
	return IntegrateKwh(readings, MaxIntegrationGap), nil
}

// Purge deletes readings older than the retention period
func (d *DailyAggregator) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := d.now().Add(-retention)
	n, err := d.store.DeleteReadingsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge readings before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return n, nil
}

// CalculateNextRunTime calculates when the daily job should next run.
// timeOfDay is "HH:MM" in the aggregator's time zone.
func (d *DailyAggregator) CalculateNextRunTime(timeOfDay string) (time.Time, error) {
	now := d.now().In(d.location)

	var hour, minute int
	if _, err := fmt.Sscanf(timeOfDay, "%d:%d", &hour, &minute); err != nil {
		return time.Time{}, fmt.Errorf("invalid time format: %s (expected HH:MM)", timeOfDay)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return time.Time{}, fmt.Errorf("invalid time of day: %s", timeOfDay)
	}

	todayRun := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, d.location)
	if now.Before(todayRun) {
		return todayRun, nil
	}
	return todayRun.AddDate(0, 0, 1), nil
}
