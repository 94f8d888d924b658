package plug

// EffectiveHysteresis returns the dead-band width used by the auto policy
func EffectiveHysteresis(h float64) float64 {
	if h < 0 {
		return DefaultHysteresis
	}
	return h
}

// Decide evaluates the auto-mode policy for one temperature reading.
//
// Below the threshold the plug is switched on. At or above threshold+hysteresis it is
// switched off. Inside [threshold, threshold+hysteresis) the current state is kept so the
// plug does not oscillate around the threshold. The second return value reports whether
// the target differs from current.
func Decide(threshold, hysteresis float64, current State, temperature float64) (State, bool) {
	target := current
	switch {
	case temperature < threshold:
		target = StateOn
	case temperature >= threshold+EffectiveHysteresis(hysteresis):
		target = StateOff
	}
	return target, target != current
}
