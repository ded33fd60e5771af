// Package osc provides the phase-accumulator waveforms used by synth voices
// and the deterministic pitch-jitter generator.
package osc

import (
	"math"

	"github.com/cbegin/soundscape-go/internal/timeline"
)

// Oscillator produces one periodic waveform at a fixed frequency. All shapes
// start at zero phase and rise, matching the common audio-platform shapes.
type Oscillator struct {
	shape  timeline.WaveShape
	freqHz float64
	phase  float64 // [0, 1)
}

// New returns an oscillator for shape at freqHz. Unknown shapes play as sine.
func New(shape timeline.WaveShape, freqHz float64) Oscillator {
	if !shape.Valid() {
		shape = timeline.WaveSine
	}
	return Oscillator{shape: shape, freqHz: freqHz}
}

// Frequency returns the oscillator frequency in Hz.
func (o *Oscillator) Frequency() float64 { return o.freqHz }

// Sample returns the value at the current phase in [-1, 1] and advances by
// one sample at sampleRate.
func (o *Oscillator) Sample(sampleRate float64) float64 {
	if sampleRate <= 0 {
		return 0
	}
	v := Shape(o.shape, o.phase)

	o.phase += o.freqHz / sampleRate
	o.phase -= math.Floor(o.phase)
	return v
}

// Reset zeros the phase.
func (o *Oscillator) Reset() { o.phase = 0 }

// Shape evaluates shape at phase p in [0, 1).
func Shape(shape timeline.WaveShape, p float64) float64 {
	switch shape {
	case timeline.WaveSquare:
		if p < 0.5 {
			return 1
		}
		return -1
	case timeline.WaveSawtooth:
		x := p + 0.5
		return 2*(x-math.Floor(x)) - 1
	case timeline.WaveTriangle:
		switch {
		case p < 0.25:
			return 4 * p
		case p < 0.75:
			return 2 - 4*p
		default:
			return 4*p - 4
		}
	default:
		return math.Sin(2 * math.Pi * p)
	}
}
