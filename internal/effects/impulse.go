package effects

import (
	"math"
	"math/rand/v2"
)

// Room describes a synthetic reverb impulse: decaying stereo noise.
type Room struct {
	Seconds  float64
	Channels int
	Decay    float64 // exponent of the (1 - t/len) envelope
}

// DefaultRoom is a two second stereo tail with a 2.5 decay exponent.
var DefaultRoom = Room{Seconds: 2, Channels: 2, Decay: 2.5}

// Impulse renders r at sampleRate. Each sample is uniform noise in (-1, 1)
// shaped by (1 - i/len)^Decay. rng supplies the noise; nil uses the global
// source.
func (r Room) Impulse(sampleRate int, rng *rand.Rand) [][]float32 {
	length := int(float64(sampleRate) * r.Seconds)
	if length <= 0 || r.Channels <= 0 {
		return nil
	}
	next := rand.Float64
	if rng != nil {
		next = rng.Float64
	}
	ir := make([][]float32, r.Channels)
	for ch := range ir {
		ir[ch] = make([]float32, length)
	}
	for i := 0; i < length; i++ {
		env := math.Pow(1-float64(i)/float64(length), r.Decay)
		for ch := range ir {
			ir[ch][i] = float32((next()*2 - 1) * env)
		}
	}
	return ir
}
