// Package synth renders timeline events into a stereo mix: chord oscillators
// and sample players shaped by an envelope, with a shared convolution reverb
// on the send bus.
package synth

import (
	"errors"
	"math"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"

	"github.com/cbegin/soundscape-go/internal/audio"
	"github.com/cbegin/soundscape-go/internal/effects"
	"github.com/cbegin/soundscape-go/internal/osc"
	"github.com/cbegin/soundscape-go/internal/samples"
	"github.com/cbegin/soundscape-go/internal/timeline"
)

// ErrDeviceUnavailable is returned when the output device cannot be opened.
// The engine stays usable and retries on the next render.
var ErrDeviceUnavailable = errors.New("audio device unavailable")

// Lookup resolves a sample source id to its decoded buffer.
type Lookup func(id string) (*samples.Buffer, bool)

// Device is an open output stream.
type Device interface {
	Close() error
}

// Opener opens an output stream that pulls from src.
type Opener func(sampleRate int, src audio.SampleSource) (Device, error)

// Params controls rendering.
type Params struct {
	SampleRate      int
	Volume          float64 // envelope peak per event
	AttackFraction  float64 // of the event duration
	ReleaseFraction float64 // of the event duration
	MinRamp         float64 // seconds
	ReapDelay       float64 // seconds past the end before a voice is dropped
	DryDuck         float64 // dry gain is 1 - reverb*DryDuck
	Room            effects.Room
}

// DefaultParams returns the standard mix settings.
func DefaultParams() Params {
	return Params{
		SampleRate:      48000,
		Volume:          0.25,
		AttackFraction:  0.1,
		ReleaseFraction: 0.4,
		MinRamp:         0.005,
		ReapDelay:       0.1,
		DryDuck:         0.5,
		Room:            effects.DefaultRoom,
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithOpener replaces the device opener.
func WithOpener(open Opener) Option {
	return func(e *Engine) { e.opener = open }
}

// WithoutDevice makes an offline engine that is only driven by Process.
func WithoutDevice() Option {
	return func(e *Engine) { e.offline = true }
}

// WithRand sets the noise source for reverb impulses.
func WithRand(rng *rand.Rand) Option {
	return func(e *Engine) { e.rng = rng }
}

// WithConvolverOptions passes options to every reverb the engine builds.
func WithConvolverOptions(opts ...effects.ConvolverOption) Option {
	return func(e *Engine) { e.convOpts = opts }
}

// Engine mixes scheduled voices. Process is called from the device goroutine
// while Render and StopAll are called from the editor goroutine.
type Engine struct {
	params     Params
	sampleRate float64

	mu      sync.Mutex // guards everything below up to devMu
	voices  []*voice
	frame   int64
	send    *effects.Chain
	sendGen int
	rng     *rand.Rand

	devMu    sync.Mutex // guards dev and gen
	dev      Device
	gen      int
	opener   Opener
	offline  bool
	convOpts []effects.ConvolverOption
}

// New returns an engine. The device is not opened until the first Render.
func New(params Params, opts ...Option) *Engine {
	if params.SampleRate <= 0 {
		params.SampleRate = DefaultParams().SampleRate
	}
	e := &Engine{
		params:     params,
		sampleRate: float64(params.SampleRate),
		sendGen:    -1,
		opener: func(sampleRate int, src audio.SampleSource) (Device, error) {
			return audio.NewPlayer(sampleRate, src)
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SampleRate returns the engine rate in Hz.
func (e *Engine) SampleRate() int { return e.params.SampleRate }

// Render schedules ev to start now and last ev.Duration seconds. Sample
// events whose source is missing render nothing and return nil.
func (e *Engine) Render(ev timeline.Event, lookup Lookup) error {
	gen, err := e.ensureDevice()
	if err != nil {
		return err
	}

	rate := ev.PlaybackRate()
	v := &voice{id: ev.ID}

	switch ev.Kind {
	case timeline.KindSynth:
		root, ok := ev.Synth.Root.Frequency()
		if !ok {
			return fault.Wrap(timeline.ErrInvalidEvent, fmsg.With("unknown note "+string(ev.Synth.Root)), ftag.With(ftag.InvalidArgument))
		}
		intervals, ok := ev.Synth.Chord.Intervals()
		if !ok {
			return fault.Wrap(timeline.ErrInvalidEvent, fmsg.With("unknown chord "+string(ev.Synth.Chord)), ftag.With(ftag.InvalidArgument))
		}
		jitter := osc.NewJitter(ev.ID)
		for _, iv := range intervals {
			freq := root * osc.SemitoneRatio(iv)
			if ev.Synth.Detune > 0 {
				freq *= osc.CentsRatio(jitter.Cents(ev.Synth.Detune))
			}
			v.oscs = append(v.oscs, osc.New(ev.Synth.Wave, freq*rate))
		}
	case timeline.KindSample:
		if lookup == nil {
			return nil
		}
		buf, ok := lookup(ev.Sample.SourceID)
		if !ok || buf.Frames() == 0 {
			return nil
		}
		v.buf = buf
		v.step = rate * float64(buf.SampleRate) / e.sampleRate
	default:
		return fault.Wrap(timeline.ErrInvalidEvent, fmsg.With("unknown kind"), ftag.With(ftag.InvalidArgument))
	}

	v.env = shapeEnvelope(ev.Duration, e.params.Volume, e.params)
	if ev.Reverb > 0 {
		v.send = true
		v.dry = float32(1 - ev.Reverb*e.params.DryDuck)
		v.wet = float32(ev.Reverb)
	} else {
		v.dry = 1
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if v.send {
		e.ensureSend(gen)
	}
	v.start = e.frame
	v.stop = v.start + e.frames(ev.Duration)
	v.reap = v.start + e.frames(ev.Duration+e.params.ReapDelay)
	e.voices = append(e.voices, v)
	return nil
}

// Process mixes the next len(dst)/2 interleaved stereo frames into dst and
// advances the engine clock.
func (e *Engine) Process(dst []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := 0; i+1 < len(dst); i += 2 {
		var l, r, wl, wr float32
		for _, v := range e.voices {
			if v.released {
				continue
			}
			sl, sr := v.next(e.frame, e.sampleRate)
			if v.send {
				l += sl * v.dry
				r += sr * v.dry
				wl += sl * v.wet
				wr += sr * v.wet
				continue
			}
			l += sl
			r += sr
		}
		if e.send != nil && (wl != 0 || wr != 0 || !e.send.Idle()) {
			ol, or := e.send.Process(wl, wr)
			l += ol
			r += or
		}
		dst[i], dst[i+1] = l, r
		e.frame++
	}
	e.reapLocked()
}

// StopAll cuts every voice and the reverb tail. It returns how many voices
// were released.
func (e *Engine) StopAll() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, v := range e.voices {
		if !v.released {
			v.released = true
			n++
		}
	}
	e.voices = e.voices[:0]
	if e.send != nil {
		e.send.Reset()
	}
	return n
}

// ActiveVoices returns the number of oscillators and sample players that
// have not been cleaned up yet.
func (e *Engine) ActiveVoices() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, v := range e.voices {
		if !v.released {
			n += v.count()
		}
	}
	return n
}

// Now returns the engine clock in seconds.
func (e *Engine) Now() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return float64(e.frame) / e.sampleRate
}

// Generation counts device opens. It starts at 0 and goes up each time a new
// device replaces a closed one.
func (e *Engine) Generation() int {
	e.devMu.Lock()
	defer e.devMu.Unlock()
	return e.gen
}

// Open opens the output device now rather than on the first Render. It is a
// no-op for offline engines and when a device is already open. A failure
// wraps ErrDeviceUnavailable and a later call may retry.
func (e *Engine) Open() error {
	_, err := e.ensureDevice()
	return err
}

// CloseDevice releases the output device. The next Render opens a new one.
func (e *Engine) CloseDevice() error {
	e.devMu.Lock()
	defer e.devMu.Unlock()
	if e.dev == nil {
		return nil
	}
	err := e.dev.Close()
	e.dev = nil
	if err != nil {
		return fault.Wrap(err, fmsg.With("close audio device"))
	}
	return nil
}

// ensureDevice opens the device if needed and returns its generation. The
// engine lock must not be held: opening starts the device pulling Process.
func (e *Engine) ensureDevice() (int, error) {
	e.devMu.Lock()
	defer e.devMu.Unlock()
	if e.offline || e.dev != nil {
		return e.gen, nil
	}
	dev, err := e.opener(e.params.SampleRate, e)
	if err != nil {
		return 0, fault.Wrap(errors.Join(ErrDeviceUnavailable, err),
			fmsg.WithDesc("open audio device", "Audio output is not available. Check your sound device and try again."),
			ftag.With(ftag.Internal))
	}
	e.dev = dev
	e.gen++
	return e.gen, nil
}

// ensureSend builds the reverb on first use and again whenever the device
// has been replaced.
func (e *Engine) ensureSend(gen int) {
	if e.send != nil && e.sendGen == gen {
		return
	}
	ir := e.params.Room.Impulse(e.params.SampleRate, e.rng)
	conv := effects.NewConvolver(ir, e.params.SampleRate, e.convOpts...)
	e.send = effects.NewChain(conv)
	e.sendGen = gen
}

func (e *Engine) reapLocked() {
	e.voices = slices.DeleteFunc(e.voices, func(v *voice) bool {
		return v.released || e.frame >= v.reap
	})
}

func (e *Engine) frames(seconds float64) int64 {
	return int64(math.Round(seconds * e.sampleRate))
}
