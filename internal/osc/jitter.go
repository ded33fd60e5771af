package osc

import "math"

// Jitter is a repeatable pseudo-random sequence seeded from an event id, so
// the same event always detunes the same way.
type Jitter struct {
	seed float64
}

// NewJitter seeds from the sum of the character codes of id.
func NewJitter(id string) *Jitter {
	var seed float64
	for _, r := range id {
		seed += float64(r)
	}
	return &Jitter{seed: seed}
}

// Next returns the next value in [0, 1).
func (j *Jitter) Next() float64 {
	x := math.Sin(j.seed) * 10000
	j.seed++
	return x - math.Floor(x)
}

// Cents returns the next pitch offset in cents for a detune amount in 0..1.
// Full detune spreads voices up to 50 cents either way.
func (j *Jitter) Cents(detune float64) float64 {
	return (j.Next() - 0.5) * 2 * detune * 50
}

// CentsRatio converts a cent offset to a frequency ratio.
func CentsRatio(cents float64) float64 {
	return math.Pow(2, cents/1200)
}

// SemitoneRatio converts a semitone offset to a frequency ratio.
func SemitoneRatio(semitones int) float64 {
	return math.Pow(2, float64(semitones)/12)
}
