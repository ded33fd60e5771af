package synth

// envelope is a linear attack, hold, release gain shape over a fixed span.
// Times are seconds from the voice start.
type envelope struct {
	level    float64
	attack   float64
	duration float64
	release  float64
}

// shapeEnvelope lays out the ramps for a voice lasting duration seconds.
// Attack and release are fractions of the duration, each at least minRamp
// long. When the two ramps do not fit they shrink proportionally so the
// schedule stays monotonic.
func shapeEnvelope(duration, level float64, p Params) envelope {
	attack := max(duration*p.AttackFraction, p.MinRamp)
	release := max(duration*p.ReleaseFraction, p.MinRamp)
	if sum := attack + release; sum > duration && sum > 0 {
		scale := duration / sum
		attack *= scale
		release *= scale
	}
	return envelope{level: level, attack: attack, duration: duration, release: release}
}

// gain returns the envelope level t seconds after the voice started.
func (e envelope) gain(t float64) float64 {
	switch {
	case t < 0 || t >= e.duration:
		return 0
	case t < e.attack:
		return e.level * t / e.attack
	case t < e.duration-e.release:
		return e.level
	default:
		return e.level * (e.duration - t) / e.release
	}
}
