package timeline

import (
	"encoding/json"
	"errors"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
)

// Wire names for Kind. "custom" is what saved compositions call samples.
const (
	soundTypeSynth  = "synth"
	soundTypeSample = "custom"
)

// record is the persisted shape of one event. Optional fields are pointers so
// that absent keys can be told apart from zero values.
type record struct {
	SoundType        string          `json:"soundType"`
	ID               string          `json:"id"`
	TrackIndex       int             `json:"trackIndex"`
	StartTime        float64         `json:"startTime"`
	Duration         float64         `json:"duration"`
	OriginalDuration *float64        `json:"originalDuration,omitempty"`
	Reverb           *float64        `json:"reverb,omitempty"`
	ResizeMode       *ResizeBehavior `json:"resizeMode,omitempty"`

	Note      *Note      `json:"note,omitempty"`
	Chord     *ChordKind `json:"chord,omitempty"`
	Waveform  *WaveShape `json:"waveform,omitempty"`
	DaniMeleg *float64   `json:"daniMeleg,omitempty"`

	CustomSoundID *string `json:"customSoundId,omitempty"`
}

func toRecord(e Event) record {
	r := record{
		ID:               e.ID,
		TrackIndex:       e.Lane,
		StartTime:        e.Start,
		Duration:         e.Duration,
		OriginalDuration: ptr(e.OriginalDuration),
		Reverb:           ptr(e.Reverb),
		ResizeMode:       ptr(e.Resize),
	}
	switch e.Kind {
	case KindSynth:
		r.SoundType = soundTypeSynth
		r.Note = ptr(e.Synth.Root)
		r.Chord = ptr(e.Synth.Chord)
		r.Waveform = ptr(e.Synth.Wave)
		r.DaniMeleg = ptr(e.Synth.Detune)
	case KindSample:
		r.SoundType = soundTypeSample
		r.CustomSoundID = ptr(e.Sample.SourceID)
	}
	return r
}

func (r record) event() (Event, error) {
	e := Event{
		ID:               r.ID,
		Lane:             r.TrackIndex,
		Start:            r.StartTime,
		Duration:         r.Duration,
		OriginalDuration: deref(r.OriginalDuration, r.Duration),
		Reverb:           deref(r.Reverb, 0),
		Resize:           deref(r.ResizeMode, ResizeTrim),
	}
	if e.Resize == "" {
		e.Resize = ResizeTrim
	}
	switch r.SoundType {
	case soundTypeSynth:
		e.Kind = KindSynth
		e.Synth = SynthParams{
			Root:   deref(r.Note, ""),
			Chord:  deref(r.Chord, ""),
			Wave:   deref(r.Waveform, WaveSine),
			Detune: deref(r.DaniMeleg, 0),
		}
	case soundTypeSample:
		e.Kind = KindSample
		e.Sample = SampleParams{SourceID: deref(r.CustomSoundID, "")}
	default:
		return Event{}, fault.Wrap(ErrMalformed,
			fmsg.With("event "+r.ID+": unknown soundType "+r.SoundType),
			ftag.With(ftag.InvalidArgument))
	}
	return e, nil
}

// Serialize encodes tl as a JSON array of plain event objects in timeline order.
func Serialize(tl Timeline) ([]byte, error) {
	recs := make([]record, 0, tl.Len())
	for _, e := range tl.events {
		recs = append(recs, toRecord(e))
	}
	data, err := json.Marshal(recs)
	if err != nil {
		return nil, fault.Wrap(err, fmsg.With("encode timeline"))
	}
	return data, nil
}

// Deserialize decodes data produced by Serialize (or by older saves that lack
// optional fields) and validates it against b. It either returns a complete,
// valid timeline or an error; nothing is partially applied.
func Deserialize(data []byte, b Bounds) (Timeline, error) {
	var recs []record
	if err := json.Unmarshal(data, &recs); err != nil {
		return Timeline{}, fault.Wrap(ErrMalformed,
			fmsg.WithDesc(err.Error(), "The saved composition could not be read."),
			ftag.With(ftag.InvalidArgument))
	}
	events := make([]Event, 0, len(recs))
	for _, r := range recs {
		e, err := r.event()
		if err != nil {
			return Timeline{}, err
		}
		events = append(events, e)
	}
	tl := Timeline{events: events}
	if err := tl.Validate(b); err != nil {
		return Timeline{}, fault.Wrap(errors.Join(ErrMalformed, err), fmsg.WithDesc("validate timeline", "The saved composition contains invalid sounds."))
	}
	return tl, nil
}

func ptr[T any](v T) *T { return &v }

func deref[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}
