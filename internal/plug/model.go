package plug

import (
	"time"
)

// Mode decides who sets the desired state of the plug
type Mode string

const (
	ModeManual Mode = "manual"
	ModeAuto   Mode = "auto"
)

// State is a switch position of the plug
type State string

const (
	StateOn      State = "on"
	StateOff     State = "off"
	StateUnknown State = "unknown"
)

const (
	// RecordID is the fixed key of the single control record
	RecordID = "shelly_plug_main"

	DefaultThreshold  = 20.0
	DefaultHysteresis = 0.5

	MinThreshold  = 5.0
	MaxThreshold  = 30.0
	MinHysteresis = 0.0
	MaxHysteresis = 5.0
)

// Record is the persisted control state of the heating plug
type Record struct {
	ID                   string     `json:"id" bson:"_id"`
	Mode                 Mode       `json:"mode" bson:"mode"`
	TemperatureThreshold float64    `json:"temperature_threshold" bson:"temperature_threshold"`
	Hysteresis           float64    `json:"hysteresis" bson:"hysteresis"`
	DesiredState         State      `json:"desired_state" bson:"desired_state"`
	ReportedState        State      `json:"reported_state" bson:"reported_state"`
	LastFetched          *time.Time `json:"last_fetched" bson:"last_fetched,omitempty"`
	LastChanged          time.Time  `json:"last_changed" bson:"last_changed"`
	LastReported         *time.Time `json:"last_reported" bson:"last_reported,omitempty"`
	CreatedAt            time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at" bson:"updated_at"`
}

// DefaultRecord returns the record created on first access
func DefaultRecord(now time.Time) *Record {
	return &Record{
		ID:                   RecordID,
		Mode:                 ModeManual,
		TemperatureThreshold: DefaultThreshold,
		Hysteresis:           DefaultHysteresis,
		DesiredState:         StateOff,
		ReportedState:        StateUnknown,
		LastChanged:          now,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// InSync reports whether the device confirmed the desired state
func (r *Record) InSync() bool {
	return r.DesiredState == r.ReportedState
}

// DeviceCommand is what the device receives when it polls
type DeviceCommand struct {
	DesiredState State     `json:"desired_state"`
	LastChanged  time.Time `json:"last_changed"`
	Mode         Mode      `json:"mode"`
}

// ModeUpdate changes the control mode. Nil numbers are left unchanged.
type ModeUpdate struct {
	Mode       Mode
	Threshold  *float64
	Hysteresis *float64
}
