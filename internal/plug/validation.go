package plug

import (
	"errors"
	"fmt"
	"math"
)

// ValidationError reports an out-of-domain input. Nothing is written when it is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsValidationError reports whether err carries a ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ErrAutoModeActive is returned by SetDesired when manual overrides are rejected in auto mode
var ErrAutoModeActive = errors.New("plug is in auto mode; desired state is controlled by the temperature policy")

func validateDesired(state State) error {
	switch state {
	case StateOn, StateOff:
		return nil
	}
	return &ValidationError{Field: "state", Message: `must be "on" or "off"`}
}

func validateReported(state State) error {
	switch state {
	case StateOn, StateOff, StateUnknown:
		return nil
	}
	return &ValidationError{Field: "state", Message: `must be "on", "off" or "unknown"`}
}

func validateModeUpdate(u ModeUpdate) error {
	if u.Mode != ModeManual && u.Mode != ModeAuto {
		return &ValidationError{Field: "mode", Message: `must be "manual" or "auto"`}
	}
	if u.Threshold != nil && !inRange(*u.Threshold, MinThreshold, MaxThreshold) {
		return &ValidationError{
			Field:   "temperature_threshold",
			Message: fmt.Sprintf("must be between %.0f and %.0f °C", MinThreshold, MaxThreshold),
		}
	}
	if u.Hysteresis != nil && !inRange(*u.Hysteresis, MinHysteresis, MaxHysteresis) {
		return &ValidationError{
			Field:   "hysteresis",
			Message: fmt.Sprintf("must be between %.0f and %.0f °C", MinHysteresis, MaxHysteresis),
		}
	}
	return nil
}

func inRange(v, min, max float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	return v >= min && v <= max
}
