package effects

import (
	"math"

	"github.com/maddyblue/go-dsp/fft"
)

const (
	defaultBlockSize = 1024

	// Loudness calibration for impulse normalization, as audio platforms
	// apply it to convolver kernels.
	gainCalibration           = 0.00125
	gainCalibrationSampleRate = 44100
	minPower                  = 0.000125
)

// Convolver is a stereo FFT convolution reverb. It uses uniformly partitioned
// overlap-save convolution, so output lags input by one block. Its output is
// fully wet.
type Convolver struct {
	block int
	parts int
	scale float64

	kernels [2][][]complex128 // per channel, per partition spectrum
	fdl     [2][][]complex128 // past input spectra, ring indexed by fdlPos
	fdlPos  int

	in     [2][]float64 // previous block followed by the block being filled
	out    [2][]float32 // output for the block being filled
	pos    int
	idle   int // consecutive silent input blocks
	silent bool
	acc    []complex128
	frame  []complex128
}

// ConvolverOption configures a Convolver.
type ConvolverOption func(*convolverConfig)

type convolverConfig struct {
	blockSize int
	normalize bool
}

// WithBlockSize sets the partition size. It is rounded up to a power of two.
func WithBlockSize(n int) ConvolverOption {
	return func(c *convolverConfig) { c.blockSize = n }
}

// WithoutNormalization uses the impulse response as given instead of scaling
// it to a calibrated loudness.
func WithoutNormalization() ConvolverOption {
	return func(c *convolverConfig) { c.normalize = false }
}

// NewConvolver builds a convolver for impulse response ir recorded at
// sampleRate. A single-channel response is used for both sides.
func NewConvolver(ir [][]float32, sampleRate int, opts ...ConvolverOption) *Convolver {
	cfg := convolverConfig{blockSize: defaultBlockSize, normalize: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	block := nextPow2(max(cfg.blockSize, 1))

	var chans [2][]float32
	switch len(ir) {
	case 0:
	case 1:
		chans[0], chans[1] = ir[0], ir[0]
	default:
		chans[0], chans[1] = ir[0], ir[1]
	}
	length := max(len(chans[0]), len(chans[1]), 1)
	parts := (length + block - 1) / block

	scale := 1.0
	if cfg.normalize {
		scale = NormalizationScale(ir, sampleRate)
	}

	c := &Convolver{
		block: block,
		parts: parts,
		scale: scale,
		acc:   make([]complex128, 2*block),
		frame: make([]complex128, 2*block),
	}
	for ch := range 2 {
		c.kernels[ch] = make([][]complex128, parts)
		c.fdl[ch] = make([][]complex128, parts)
		for p := range parts {
			seg := make([]complex128, 2*block)
			for i := 0; i < block; i++ {
				n := p*block + i
				if n < len(chans[ch]) {
					seg[i] = complex(float64(chans[ch][n])*scale, 0)
				}
			}
			c.kernels[ch][p] = fft.FFT(seg)
			c.fdl[ch][p] = make([]complex128, 2*block)
		}
		c.in[ch] = make([]float64, 2*block)
		c.out[ch] = make([]float32, block)
	}
	c.idle = parts + 2
	c.silent = true
	return c
}

// NormalizationScale returns the gain that brings ir to the calibrated
// loudness used by platform convolvers, based on its RMS power.
func NormalizationScale(ir [][]float32, sampleRate int) float64 {
	var sum float64
	var n int
	for _, ch := range ir {
		for _, v := range ch {
			sum += float64(v) * float64(v)
		}
		n += len(ch)
	}
	if n == 0 || sampleRate <= 0 {
		return 1
	}
	power := math.Sqrt(sum / float64(n))
	if math.IsNaN(power) || math.IsInf(power, 0) || power < minPower {
		power = minPower
	}
	return gainCalibration / power * gainCalibrationSampleRate / float64(sampleRate)
}

// Latency returns the delay in samples between input and output.
func (c *Convolver) Latency() int { return c.block }

// Process feeds one stereo sample and returns one wet stereo sample.
func (c *Convolver) Process(l, r float32) (float32, float32) {
	ol, or := c.out[0][c.pos], c.out[1][c.pos]
	c.in[0][c.block+c.pos] = float64(l)
	c.in[1][c.block+c.pos] = float64(r)
	if l != 0 || r != 0 {
		c.silent = false
	}
	c.pos++
	if c.pos == c.block {
		c.flush()
		c.pos = 0
	}
	return ol, or
}

// Idle reports whether the reverb has no tail left to play.
func (c *Convolver) Idle() bool { return c.drained() && c.silent }

// drained reports whether every stored spectrum came from silent input.
func (c *Convolver) drained() bool { return c.idle > c.parts+1 }

// Reset silences the tail and clears all history.
func (c *Convolver) Reset() {
	for ch := range 2 {
		clear(c.in[ch])
		clear(c.out[ch])
		for p := range c.fdl[ch] {
			clear(c.fdl[ch][p])
		}
	}
	c.pos = 0
	c.fdlPos = 0
	c.idle = c.parts + 2
	c.silent = true
}

func (c *Convolver) flush() {
	if c.silent {
		c.idle++
	} else {
		c.idle = 0
	}
	if c.drained() {
		for ch := range 2 {
			clear(c.out[ch])
			clear(c.in[ch])
		}
		c.silent = true
		return
	}

	for ch := range 2 {
		for i, v := range c.in[ch] {
			c.frame[i] = complex(v, 0)
		}
		c.fdl[ch][c.fdlPos] = fft.FFT(c.frame)

		clear(c.acc)
		for k := 0; k < c.parts; k++ {
			x := c.fdl[ch][(c.fdlPos-k+c.parts)%c.parts]
			h := c.kernels[ch][k]
			for i := range c.acc {
				c.acc[i] += x[i] * h[i]
			}
		}
		y := fft.IFFT(c.acc)
		for i := 0; i < c.block; i++ {
			c.out[ch][i] = float32(real(y[c.block+i]))
		}
		copy(c.in[ch][:c.block], c.in[ch][c.block:])
		clear(c.in[ch][c.block:])
	}
	c.fdlPos = (c.fdlPos + 1) % c.parts
	c.silent = true
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
