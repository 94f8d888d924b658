package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/smukkama/heating-monitor/internal/telemetry"
)

// ReadingMessage is the internal message format for sensor readings on Kafka
type ReadingMessage struct {
	SensorID   string            `json:"sensor_id"`
	ReceivedAt time.Time         `json:"received_at"`
	Reading    telemetry.Reading `json:"reading"`
}

// NewReadingMessage wraps an accepted reading for publishing
func NewReadingMessage(r telemetry.Reading, receivedAt time.Time) *ReadingMessage {
	return &ReadingMessage{
		SensorID:   r.SensorID,
		ReceivedAt: receivedAt,
		Reading:    r,
	}
}

// AlarmNotification is the message format for alarm notifications
type AlarmNotification struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"` // CONSUMPTION_EXCEEDED
	Day          string    `json:"day"`
	CurrentKwh   float64   `json:"current_kwh"`
	ThresholdKwh float64   `json:"threshold_kwh"`
	TriggeredAt  time.Time `json:"triggered_at"`
}

const (
	AlarmTypeConsumptionExceeded = "CONSUMPTION_EXCEEDED"
)

// NewConsumptionNotification creates a notification with a fresh id
func NewConsumptionNotification(day string, currentKwh, thresholdKwh float64, triggeredAt time.Time) *AlarmNotification {
	return &AlarmNotification{
		ID:           uuid.NewString(),
		Type:         AlarmTypeConsumptionExceeded,
		Day:          day,
		CurrentKwh:   currentKwh,
		ThresholdKwh: thresholdKwh,
		TriggeredAt:  triggeredAt,
	}
}

// OverKwh is the amount above the threshold
func (n *AlarmNotification) OverKwh() float64 {
	return n.CurrentKwh - n.ThresholdKwh
}

// EncodeReadingMessage encodes a ReadingMessage to JSON
func EncodeReadingMessage(msg *ReadingMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeReadingMessage decodes JSON to ReadingMessage
func DecodeReadingMessage(data []byte) (*ReadingMessage, error) {
	var msg ReadingMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// EncodeAlarmNotification encodes an AlarmNotification to JSON
func EncodeAlarmNotification(alarm *AlarmNotification) ([]byte, error) {
	return json.Marshal(alarm)
}

// DecodeAlarmNotification decodes JSON to AlarmNotification
func DecodeAlarmNotification(data []byte) (*AlarmNotification, error) {
	var alarm AlarmNotification
	if err := json.Unmarshal(data, &alarm); err != nil {
		return nil, err
	}
	return &alarm, nil
}
