package aggregation

import (
	"math"
	"time"

	"github.com/smukkama/heating-monitor/internal/telemetry"
)

// MaxIntegrationGap is the longest interval between two readings that is still integrated.
// Longer gaps mean the sensor was offline and contribute no energy.
const MaxIntegrationGap = 30 * time.Minute

// IntegrateKwh integrates power draw over time with the trapezoidal rule.
// Readings must be ordered by timestamp.
func IntegrateKwh(readings []telemetry.Reading, maxGap time.Duration) float64 {
	var wattSeconds float64
	for i := 1; i < len(readings); i++ {
		prev, cur := readings[i-1], readings[i]
		dt := cur.Timestamp.Sub(prev.Timestamp)
		if dt <= 0 || dt > maxGap {
			continue
		}
		wattSeconds += (prev.PowerDraw + cur.PowerDraw) / 2 * dt.Seconds()
	}
	return wattSeconds / 3.6e6
}

// StartOfDay returns midnight of t's calendar day in loc
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// DayBounds returns the first and last instant of the calendar day containing t
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	start := StartOfDay(t, loc)
	return start, start.AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// Round rounds v to the given number of decimals
func Round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
