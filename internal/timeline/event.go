package timeline

import (
	"math"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
)

// Kind discriminates the payload carried by an Event.
type Kind uint8

const (
	KindSynth Kind = iota
	KindSample
)

func (k Kind) String() string {
	switch k {
	case KindSynth:
		return "synth"
	case KindSample:
		return "sample"
	default:
		return "unknown"
	}
}

// ResizeBehavior selects what a duration change does to the sound.
type ResizeBehavior string

const (
	// ResizeTrim changes the audible span only.
	ResizeTrim ResizeBehavior = "Trim"
	// ResizeStretch rescales playback rate so the original content fills the new span.
	ResizeStretch ResizeBehavior = "Stretch"
)

// WaveShape is the oscillator shape used by synth events.
type WaveShape string

const (
	WaveSine     WaveShape = "sine"
	WaveSquare   WaveShape = "square"
	WaveSawtooth WaveShape = "sawtooth"
	WaveTriangle WaveShape = "triangle"
)

// WaveShapes lists the supported shapes in display order.
var WaveShapes = []WaveShape{WaveSine, WaveSquare, WaveSawtooth, WaveTriangle}

func (w WaveShape) Valid() bool {
	switch w {
	case WaveSine, WaveSquare, WaveSawtooth, WaveTriangle:
		return true
	}
	return false
}

// SynthParams is the payload of a KindSynth event.
type SynthParams struct {
	Root   Note
	Chord  ChordKind
	Wave   WaveShape
	Detune float64 // 0..1 pitch instability
}

// SampleParams is the payload of a KindSample event. SourceID is a weak
// reference into the sound registry and may dangle.
type SampleParams struct {
	SourceID string
}

// Event is one placed sound on the timeline. Only the payload matching Kind is
// meaningful. Events hold no pointers, so assignment copies them completely.
type Event struct {
	ID               string
	Kind             Kind
	Lane             int
	Start            float64 // seconds
	Duration         float64 // seconds, current span
	OriginalDuration float64 // seconds, span at creation
	Reverb           float64 // 0..1
	Resize           ResizeBehavior

	Synth  SynthParams
	Sample SampleParams
}

// NewSynthEvent returns a synth event whose original duration equals duration.
func NewSynthEvent(id string, lane int, start, duration float64, p SynthParams) Event {
	return Event{
		ID:               id,
		Kind:             KindSynth,
		Lane:             lane,
		Start:            start,
		Duration:         duration,
		OriginalDuration: duration,
		Resize:           ResizeTrim,
		Synth:            p,
	}
}

// NewSampleEvent returns a sample event whose original duration equals duration.
func NewSampleEvent(id string, lane int, start, duration float64, sourceID string) Event {
	return Event{
		ID:               id,
		Kind:             KindSample,
		Lane:             lane,
		Start:            start,
		Duration:         duration,
		OriginalDuration: duration,
		Resize:           ResizeTrim,
		Sample:           SampleParams{SourceID: sourceID},
	}
}

// End returns Start+Duration.
func (e Event) End() float64 {
	return e.Start + e.Duration
}

// PlaybackRate is 1 unless the event is stretched away from its original span,
// in which case shrinking the span speeds playback up proportionally.
func (e Event) PlaybackRate() float64 {
	if e.Resize == ResizeStretch && e.Duration != e.OriginalDuration && e.Duration > 0 {
		return e.OriginalDuration / e.Duration
	}
	return 1
}

// Bounds are the timeline limits every stored event must respect.
type Bounds struct {
	Duration float64 // seconds
	Lanes    int
	Quantum  float64 // seconds
}

// epsilon absorbs float drift from repeated quantum arithmetic.
const epsilon = 1e-9

// Validate reports whether e satisfies the timeline invariants for b.
func (e Event) Validate(b Bounds) error {
	fail := func(desc string) error {
		return fault.Wrap(ErrInvalidEvent,
			fmsg.WithDesc("event "+e.ID+": "+desc, "This sound has invalid settings."),
			ftag.With(ftag.InvalidArgument))
	}
	switch {
	case e.ID == "":
		return fail("missing id")
	case e.Lane < 0 || e.Lane >= b.Lanes:
		return fail("lane out of range")
	case e.Start < 0 || math.IsNaN(e.Start):
		return fail("negative start")
	case !(e.Duration > 0) || !(e.OriginalDuration > 0):
		return fail("non-positive duration")
	case b.Quantum > 0 && e.Duration < b.Quantum-epsilon:
		return fail("duration below one grid step")
	case e.End() > b.Duration+epsilon:
		return fail("extends past the end of the timeline")
	case !(e.Reverb >= 0 && e.Reverb <= 1):
		return fail("reverb outside 0..1")
	case e.Resize != ResizeTrim && e.Resize != ResizeStretch:
		return fail("unknown resize behavior")
	}
	switch e.Kind {
	case KindSynth:
		if _, ok := e.Synth.Root.Frequency(); !ok {
			return fail("unknown note")
		}
		if _, ok := e.Synth.Chord.Intervals(); !ok {
			return fail("unknown chord")
		}
		if !e.Synth.Wave.Valid() {
			return fail("unknown waveform")
		}
		if !(e.Synth.Detune >= 0 && e.Synth.Detune <= 1) {
			return fail("detune outside 0..1")
		}
	case KindSample:
		if e.Sample.SourceID == "" {
			return fail("missing sample reference")
		}
	default:
		return fail("unknown kind")
	}
	return nil
}
