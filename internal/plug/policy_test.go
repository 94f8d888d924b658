package plug

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecide_Scenarios(t *testing.T) {
	tests := []struct {
		name        string
		current     State
		temperature float64
		want        State
		changed     bool
	}{
		{"cold room switches on", StateOff, 19.0, StateOn, true},
		{"cold room stays on", StateOn, 19.0, StateOn, false},
		{"above band switches off", StateOn, 20.6, StateOff, true},
		{"exactly threshold plus hysteresis switches off", StateOn, 20.5, StateOff, true},
		{"inside band keeps on", StateOn, 20.3, StateOn, false},
		{"inside band keeps off", StateOff, 20.3, StateOff, false},
		{"exactly threshold keeps state", StateOff, 20.0, StateOff, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := Decide(20, 0.5, tt.current, tt.temperature)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.changed, changed)
		})
	}
}

func TestDecide_Properties(t *testing.T) {
	priors := []State{StateOn, StateOff}
	for threshold := MinThreshold; threshold <= MaxThreshold; threshold += 2.5 {
		for hysteresis := MinHysteresis; hysteresis <= MaxHysteresis; hysteresis += 0.5 {
			for _, prior := range priors {
				got, _ := Decide(threshold, hysteresis, prior, threshold-0.01)
				assert.Equal(t, StateOn, got, "below threshold T=%v H=%v", threshold, hysteresis)

				got, _ = Decide(threshold, hysteresis, prior, threshold+hysteresis)
				assert.Equal(t, StateOff, got, "at T+H T=%v H=%v", threshold, hysteresis)

				got, _ = Decide(threshold, hysteresis, prior, threshold+hysteresis+3)
				assert.Equal(t, StateOff, got, "above T+H T=%v H=%v", threshold, hysteresis)

				if hysteresis > 0 {
					got, changed := Decide(threshold, hysteresis, prior, threshold+hysteresis/2)
					assert.Equal(t, prior, got, "dead band T=%v H=%v", threshold, hysteresis)
					assert.False(t, changed)
				}
			}
		}
	}
}

func TestDecide_NegativeHysteresisUsesDefault(t *testing.T) {
	got, changed := Decide(20, -1, StateOn, 20.3)
	assert.Equal(t, StateOn, got)
	assert.False(t, changed)

	got, _ = Decide(20, -1, StateOn, 20.5)
	assert.Equal(t, StateOff, got)
}
