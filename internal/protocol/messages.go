package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/smukkama/heating-monitor/internal/telemetry"
)

// Response is the JSON envelope of every API response
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Count   *int        `json:"count,omitempty"`
	Errors  []string    `json:"errors,omitempty"`
}

// StateRequest is the body of PUT /api/plug/desired and POST /api/plug/reported
type StateRequest struct {
	State string `json:"state"`
}

// ModeRequest is the body of PUT /api/plug/mode. Omitted numbers keep their stored value.
type ModeRequest struct {
	Mode                 string   `json:"mode"`
	TemperatureThreshold *float64 `json:"temperature_threshold,omitempty"`
	Hysteresis           *float64 `json:"hysteresis,omitempty"`
}

// CreateReadingRequest is the body of POST /api/sensors
type CreateReadingRequest struct {
	Timestamp   string   `json:"timestamp,omitempty"`
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	PowerDraw   *float64 `json:"power_draw"`
	SensorID    string   `json:"sensor_id,omitempty"`
	Location    string   `json:"location,omitempty"`
}

// BulkReadingsRequest is the body of POST /api/sensors/bulk
type BulkReadingsRequest struct {
	Readings []CreateReadingRequest `json:"readings"`
}

// ToReading converts the request to a reading. Missing measurements and a malformed
// timestamp are rejected; ranges are checked by telemetry.Reading.Validate.
func (r *CreateReadingRequest) ToReading() (telemetry.Reading, error) {
	var missing []string
	if r.Temperature == nil {
		missing = append(missing, "temperature")
	}
	if r.Humidity == nil {
		missing = append(missing, "humidity")
	}
	if r.PowerDraw == nil {
		missing = append(missing, "power_draw")
	}
	if len(missing) > 0 {
		return telemetry.Reading{}, fmt.Errorf("missing required fields: %v", missing)
	}

	reading := telemetry.Reading{
		Temperature: *r.Temperature,
		Humidity:    *r.Humidity,
		PowerDraw:   *r.PowerDraw,
		SensorID:    r.SensorID,
		Location:    r.Location,
	}
	if r.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, r.Timestamp)
		if err != nil {
			return telemetry.Reading{}, fmt.Errorf("invalid timestamp format (must be RFC3339): %w", err)
		}
		reading.Timestamp = ts
	}
	return reading, nil
}

// DecodeRequest decodes a JSON request body
func DecodeRequest(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}
