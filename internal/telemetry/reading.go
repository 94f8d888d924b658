package telemetry

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultSensorID = "sensor_001"
	DefaultLocation = "Standard"
)

// Reading is one sample reported by the sensor device
type Reading struct {
	Timestamp   time.Time `json:"timestamp"`
	Temperature float64   `json:"temperature"` // °C
	Humidity    float64   `json:"humidity"`    // %
	PowerDraw   float64   `json:"power_draw"`  // W
	SensorID    string    `json:"sensor_id,omitempty"`
	Location    string    `json:"location,omitempty"`
}

// ApplyDefaults fills the optional fields
func (r *Reading) ApplyDefaults(now time.Time) {
	if r.Timestamp.IsZero() {
		r.Timestamp = now
	}
	if r.SensorID == "" {
		r.SensorID = DefaultSensorID
	}
	if r.Location == "" {
		r.Location = DefaultLocation
	}
}

// Validate checks the physical ranges accepted by the store
func (r *Reading) Validate() error {
	var problems []string
	if r.Temperature < -50 || r.Temperature > 100 {
		problems = append(problems, "temperature must be between -50 and 100 °C")
	}
	if r.Humidity < 0 || r.Humidity > 100 {
		problems = append(problems, "humidity must be between 0 and 100 %")
	}
	if r.PowerDraw < 0 {
		problems = append(problems, "power_draw must not be negative")
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// ValidationError lists every rejected field of a reading
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid reading: %s", strings.Join(e.Problems, "; "))
}

// Averages summarises a window of readings
type Averages struct {
	TemperatureAvg float64 `json:"temperature_avg"`
	HumidityAvg    float64 `json:"humidity_avg"`
	PowerAvg       float64 `json:"power_avg"`
	Kwh24h         float64 `json:"kwh_24h"`
	Count          int     `json:"count"`
}

// HourlyPoint is the average of all readings inside one clock hour
type HourlyPoint struct {
	Hour        string    `json:"hour"` // "15:00" in the configured time zone
	Timestamp   time.Time `json:"timestamp"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	PowerDraw   float64   `json:"power_draw"`
	SampleCount int       `json:"sample_count"`
}

// Stats is the dashboard overview
type Stats struct {
	Latest      *Reading  `json:"latest"`
	Averages24h *Averages `json:"averages_24h"`
	Total       int64     `json:"total_readings"`
}
