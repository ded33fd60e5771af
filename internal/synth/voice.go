package synth

import (
	"github.com/cbegin/soundscape-go/internal/osc"
	"github.com/cbegin/soundscape-go/internal/samples"
)

// voice is one rendering event: a chord's oscillators or one sample player,
// sharing an envelope and a dry/wet split.
type voice struct {
	id    string
	start int64 // engine frame of the first sample
	stop  int64 // first frame after the audible span
	reap  int64 // frame at which the mixer drops the voice

	env  envelope
	oscs []osc.Oscillator

	buf  *samples.Buffer
	pos  float64 // position in buffer frames
	step float64 // buffer frames per engine frame

	dry, wet float32
	send     bool
	released bool
}

// count is how many sources the voice holds.
func (v *voice) count() int {
	if v.buf != nil {
		return 1
	}
	return len(v.oscs)
}

// next renders the voice at engine frame f and advances it.
func (v *voice) next(f int64, sampleRate float64) (float32, float32) {
	if f < v.start || f >= v.stop {
		return 0, 0
	}
	g := float32(v.env.gain(float64(f-v.start) / sampleRate))

	if v.buf != nil {
		l := v.buf.At(0, v.pos) * g
		r := v.buf.At(1, v.pos) * g
		v.pos += v.step
		return l, r
	}
	var s float64
	for i := range v.oscs {
		s += v.oscs[i].Sample(sampleRate)
	}
	m := float32(s) * g
	return m, m
}
