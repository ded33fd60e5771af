// Package audio connects pull-based sample sources to the output device.
package audio

import (
	"encoding/binary"
	"math"
	"sync"
)

// bytesPerFrame is one interleaved stereo float32 frame.
const bytesPerFrame = 8

// SampleSource fills dst with interleaved stereo float32 samples.
type SampleSource interface {
	Process(dst []float32)
}

// StreamReader adapts a SampleSource to the little-endian float32 byte stream
// the device player pulls from. It never reports EOF; the mixer outputs
// silence when nothing is scheduled.
type StreamReader struct {
	mu     sync.Mutex
	source SampleSource
	buf    []float32
}

func NewStreamReader(source SampleSource) *StreamReader {
	return &StreamReader{source: source}
}

func (r *StreamReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	frames := len(p) / bytesPerFrame
	if frames == 0 {
		return 0, nil
	}
	need := frames * 2
	if cap(r.buf) < need {
		r.buf = make([]float32, need)
	}
	r.buf = r.buf[:need]
	r.source.Process(r.buf)
	EncodeFloat32LE(p, r.buf)
	return frames * bytesPerFrame, nil
}

func (r *StreamReader) Close() error { return nil }

// EncodeFloat32LE writes samples into dst, four bytes each. dst must hold
// at least 4*len(samples) bytes.
func EncodeFloat32LE(dst []byte, samples []float32) {
	for i, s := range samples {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(s))
	}
}
