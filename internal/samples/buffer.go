// Package samples holds decoded audio clips and the registry that names them.
package samples

import "math"

// Buffer is decoded audio: one slice of samples per channel, all the same
// length.
type Buffer struct {
	SampleRate int
	Channels   [][]float32
}

// Frames returns the number of samples per channel.
func (b *Buffer) Frames() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the length in seconds.
func (b *Buffer) Duration() float64 {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// At returns channel ch at fractional frame pos using linear interpolation.
// Mono buffers answer for every channel. Positions outside the buffer are
// silent.
func (b *Buffer) At(ch int, pos float64) float32 {
	n := b.Frames()
	if n == 0 || pos < 0 || pos > float64(n-1) {
		return 0
	}
	data := b.Channels[min(ch, len(b.Channels)-1)]
	i := int(pos)
	frac := float32(pos - math.Floor(pos))
	if i >= n-1 {
		return data[n-1]
	}
	return data[i] + (data[i+1]-data[i])*frac
}
