// Package soundscape is a multi-lane sound timeline: place chords and samples
// on a quantized grid, edit with undo and redo, and play the result through a
// small synth with a shared reverb.
package soundscape

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"path/filepath"
	"slices"
	"time"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/google/uuid"

	"github.com/cbegin/soundscape-go/internal/config"
	"github.com/cbegin/soundscape-go/internal/grid"
	"github.com/cbegin/soundscape-go/internal/history"
	"github.com/cbegin/soundscape-go/internal/samples"
	"github.com/cbegin/soundscape-go/internal/store"
	"github.com/cbegin/soundscape-go/internal/synth"
	"github.com/cbegin/soundscape-go/internal/timeline"
	"github.com/cbegin/soundscape-go/internal/transport"
)

var (
	// ErrUnknownEvent is returned when an id does not name an event in the
	// current timeline.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrNoSource is returned when the palette names a sample that is not
	// registered.
	ErrNoSource = errors.New("no sound source")
)

// AuditionID is the id given to previewed sounds.
const AuditionID = "audition"

// Palette is the sound that the next placement or audition uses.
type Palette struct {
	Kind     timeline.Kind
	Root     timeline.Note
	Chord    timeline.ChordKind
	Wave     timeline.WaveShape
	SampleID string
}

func DefaultPalette() Palette {
	return Palette{Kind: timeline.KindSynth, Root: "C", Chord: timeline.ChordMajor, Wave: timeline.WaveSine}
}

type Option func(*Session)

func WithLogger(log *slog.Logger) Option {
	return func(s *Session) { s.log = log }
}

func WithStore(st store.Store) Option {
	return func(s *Session) { s.store = st }
}

func WithEngine(e *synth.Engine) Option {
	return func(s *Session) { s.engine = e }
}

func WithRegistry(r *samples.Registry) Option {
	return func(s *Session) { s.sounds = r }
}

// WithIDGenerator replaces the random event id source.
func WithIDGenerator(next func() string) Option {
	return func(s *Session) { s.newID = next }
}

// WithRand sets the source used by GenerateSong.
func WithRand(rng *rand.Rand) Option {
	return func(s *Session) { s.rng = rng }
}

// WithTransportEvents installs a callback for playback lifecycle events.
func WithTransportEvents(fn func(transport.EventKind)) Option {
	return func(s *Session) { s.onEvent = fn }
}

// Session owns the editing state of one composition: its history, the
// transport that plays it, and the engine it plays through. All methods must
// be called from one goroutine.
type Session struct {
	cfg     config.Config
	layout  grid.Layout
	bounds  timeline.Bounds
	log     *slog.Logger
	hist    *history.History
	tr      *transport.Transport
	engine  *synth.Engine
	sounds  *samples.Registry
	store   store.Store
	palette Palette
	gesture *grid.Gesture
	rend    *engineRenderer
	newID   func() string
	rng     *rand.Rand
	onEvent func(transport.EventKind)
}

// New returns a session with an empty timeline. Without options it plays
// through the default audio device and saves under cfg.StoreDir.
func New(cfg config.Config, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Session{
		cfg:     cfg,
		layout:  cfg.Layout(),
		bounds:  cfg.Bounds(),
		hist:    history.New(timeline.New()),
		palette: DefaultPalette(),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.sounds == nil {
		s.sounds = samples.NewRegistry()
	}
	if s.store == nil {
		s.store = store.NewFileStore(cfg.StoreDir)
	}
	if s.engine == nil {
		params := synth.DefaultParams()
		params.SampleRate = cfg.SampleRate
		params.Volume = cfg.Volume
		s.engine = synth.New(params)
	}

	s.rend = &engineRenderer{engine: s.engine, lookup: s.sounds.Lookup, log: s.log}
	s.tr = transport.New(s.rend, transport.Options{
		Duration:     cfg.TimelineSeconds,
		SafetyMargin: cfg.SafetyMargin,
		OnEvent:      s.transportEvent,
	})
	return s, nil
}

func (s *Session) Config() config.Config { return s.cfg }

func (s *Session) Layout() grid.Layout { return s.layout }

func (s *Session) Current() timeline.Timeline { return s.hist.Current() }

func (s *Session) CanUndo() bool { return s.hist.CanUndo() }

func (s *Session) CanRedo() bool { return s.hist.CanRedo() }

func (s *Session) Palette() Palette { return s.palette }

func (s *Session) SetPalette(p Palette) { s.palette = p }

// Sounds lists the registered samples in registration order.
func (s *Session) Sounds() []samples.Sound { return s.sounds.List() }

func (s *Session) commit(tl timeline.Timeline, op string) {
	s.hist.Commit(tl)
	s.log.Debug("commit", "op", op, "events", tl.Len(), "history", s.hist.Len())
}

// candidate builds an unplaced event from the palette.
func (s *Session) candidate() (timeline.Event, error) {
	p := s.palette
	if p.Kind == timeline.KindSample {
		buf, ok := s.sounds.Lookup(p.SampleID)
		if !ok {
			return timeline.Event{}, fault.Wrap(ErrNoSource,
				fmsg.WithDesc("sample "+p.SampleID+" not registered", "Select or import a sound first."),
				ftag.With(ftag.NotFound))
		}
		dur := max(min(buf.Duration(), s.cfg.DefaultDuration), s.bounds.Quantum)
		return timeline.NewSampleEvent(s.newID(), 0, 0, dur, p.SampleID), nil
	}
	return timeline.NewSynthEvent(s.newID(), 0, 0, s.cfg.DefaultDuration, timeline.SynthParams{
		Root: p.Root, Chord: p.Chord, Wave: p.Wave,
	}), nil
}

// Place adds the palette sound at lane, snapped down to the grid cell holding
// t. It reports false without error when the sound would not fit.
func (s *Session) Place(lane int, t float64) (timeline.Event, bool, error) {
	cand, err := s.candidate()
	if err != nil {
		return timeline.Event{}, false, err
	}
	ev, ok := s.layout.Place(lane, t, cand)
	if !ok {
		return timeline.Event{}, false, nil
	}
	if err := ev.Validate(s.bounds); err != nil {
		return timeline.Event{}, false, err
	}
	s.commit(s.hist.Current().With(ev), "place")
	return ev, true, nil
}

// PlaceAt places the palette sound at pointer position (x, y).
func (s *Session) PlaceAt(x, y float64) (timeline.Event, bool, error) {
	lane, t := s.layout.PointerToCell(x, y)
	return s.Place(lane, t)
}

// HitTest returns the event and zone under (x, y).
func (s *Session) HitTest(x, y float64) (timeline.Event, grid.Zone, bool) {
	return s.layout.HitTest(s.hist.Current(), x, y)
}

func (s *Session) Remove(id string) error {
	cur := s.hist.Current()
	if _, ok := cur.Find(id); !ok {
		return unknownEvent(id)
	}
	s.commit(cur.Without(id), "remove")
	return nil
}

// Update replaces the event with ev.ID by ev. Its kind and original duration
// are kept from the stored event.
func (s *Session) Update(ev timeline.Event) error {
	cur := s.hist.Current()
	old, ok := cur.Find(ev.ID)
	if !ok {
		return unknownEvent(ev.ID)
	}
	ev.Kind = old.Kind
	ev.OriginalDuration = old.OriginalDuration
	if err := ev.Validate(s.bounds); err != nil {
		return err
	}
	next, _ := cur.Replace(ev)
	s.commit(next, "update")
	return nil
}

// Clear stops playback and empties the timeline. Clearing an empty timeline
// commits nothing.
func (s *Session) Clear() bool {
	s.Stop()
	if s.hist.Current().Empty() {
		return false
	}
	s.commit(timeline.New(), "clear")
	return true
}

// BeginMove starts dragging the event id from pointer (x, y).
func (s *Session) BeginMove(id string, x, y float64) error {
	ev, ok := s.hist.Current().Find(id)
	if !ok {
		return unknownEvent(id)
	}
	s.gesture = s.layout.BeginMove(ev, x, y)
	return nil
}

// BeginResize starts dragging one edge of the event id from pointer (x, y).
func (s *Session) BeginResize(id string, edge grid.Edge, x, y float64) error {
	ev, ok := s.hist.Current().Find(id)
	if !ok {
		return unknownEvent(id)
	}
	s.gesture = s.layout.BeginResize(ev, edge, x, y)
	return nil
}

// Gesture returns the drag in progress, or nil. Its Preview is the feedback
// to draw; the timeline does not change until EndGesture.
func (s *Session) Gesture() *grid.Gesture { return s.gesture }

// DragTo records pointer movement for the drag in progress.
func (s *Session) DragTo(x, y float64) {
	if s.gesture != nil {
		s.gesture.Update(x, y)
	}
}

// EndGesture finishes the drag at (x, y) and commits its result. It reports
// false when no drag was active, the pointer never left the click threshold,
// or nothing changed.
func (s *Session) EndGesture(x, y float64) (timeline.Event, bool) {
	g := s.gesture
	s.gesture = nil
	if g == nil {
		return timeline.Event{}, false
	}
	ev, ok := g.End(x, y)
	if !ok {
		return g.Event(), false
	}
	next, ok := s.hist.Current().Replace(ev)
	if !ok {
		return g.Event(), false
	}
	op := "move"
	if g.Kind() == grid.GestureResize {
		op = "resize"
	}
	s.commit(next, op)
	return ev, true
}

// CancelGesture drops the drag in progress without committing.
func (s *Session) CancelGesture() { s.gesture = nil }

func (s *Session) Undo() bool {
	if !s.hist.CanUndo() {
		return false
	}
	s.Stop()
	s.hist.Undo()
	s.log.Debug("undo", "index", s.hist.Index())
	return true
}

func (s *Session) Redo() bool {
	if !s.hist.CanRedo() {
		return false
	}
	s.Stop()
	s.hist.Redo()
	s.log.Debug("redo", "index", s.hist.Index())
	return true
}

// Save writes the current timeline to the store.
func (s *Session) Save(ctx context.Context) error {
	data, err := timeline.Serialize(s.hist.Current())
	if err != nil {
		return err
	}
	if err := s.store.Put(ctx, s.cfg.StoreKey, data); err != nil {
		return fault.Wrap(err, fmsg.WithDesc("save composition", "Could not save the composition."))
	}
	s.log.Debug("saved", "key", s.cfg.StoreKey, "events", s.hist.Current().Len())
	return nil
}

// Load stops playback and commits the saved timeline. A malformed save leaves
// the timeline untouched.
func (s *Session) Load(ctx context.Context) error {
	s.Stop()
	tl, err := s.read(ctx)
	if err != nil {
		return err
	}
	s.commit(tl, "load")
	s.warnMissing()
	return nil
}

// Restore replaces the whole history with the saved timeline, for use at
// startup. Having nothing saved is not an error.
func (s *Session) Restore(ctx context.Context) error {
	tl, err := s.read(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	s.Stop()
	s.hist.Reset(tl)
	s.log.Debug("restored", "events", tl.Len())
	s.warnMissing()
	return nil
}

func (s *Session) read(ctx context.Context) (timeline.Timeline, error) {
	data, err := s.store.Get(ctx, s.cfg.StoreKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return timeline.Timeline{}, fault.Wrap(err, fmsg.WithDesc("load composition", "No saved composition found."))
		}
		return timeline.Timeline{}, fault.Wrap(err, fmsg.WithDesc("load composition", "Could not load the composition."))
	}
	tl, err := timeline.Deserialize(data, s.bounds)
	if err != nil {
		return timeline.Timeline{}, fault.Wrap(err, fmsg.WithDesc("load composition", "The saved composition is damaged."))
	}
	return tl, nil
}

// MissingSources returns the sample ids the current timeline references that
// are not registered, sorted.
func (s *Session) MissingSources() []string {
	var out []string
	for _, ev := range s.hist.Current().Events() {
		if ev.Kind != timeline.KindSample {
			continue
		}
		if _, ok := s.sounds.Lookup(ev.Sample.SourceID); !ok {
			out = append(out, ev.Sample.SourceID)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func (s *Session) warnMissing() {
	if missing := s.MissingSources(); len(missing) > 0 {
		s.log.Warn("composition references sounds that are not loaded", "ids", missing)
	}
}

var (
	songKeys   = []timeline.Note{"C", "F", "G", "A", "D"}
	songSteps  = []int{0, 7, 9, 5}
	songChords = []timeline.ChordKind{timeline.ChordMajor, timeline.ChordMajor, timeline.ChordMinor, timeline.ChordMajor}
)

const (
	songLane   = 1
	songChord  = 2.0
	songReverb = 0.2
)

// GenerateSong stops playback and replaces the timeline with a I-V-vi-IV
// progression in a random key.
func (s *Session) GenerateSong() timeline.Timeline {
	s.Stop()
	var key timeline.Note
	if s.rng != nil {
		key = songKeys[s.rng.IntN(len(songKeys))]
	} else {
		key = songKeys[rand.IntN(len(songKeys))]
	}
	lane := min(songLane, s.cfg.Lanes-1)
	evs := make([]timeline.Event, 0, len(songSteps))
	for i, step := range songSteps {
		ev := timeline.NewSynthEvent(s.newID(), lane, float64(i)*songChord, songChord, timeline.SynthParams{
			Root: key.Transpose(step), Chord: songChords[i], Wave: timeline.WaveSine,
		})
		ev.Reverb = songReverb
		evs = append(evs, ev)
	}
	tl := timeline.New(evs...)
	s.commit(tl, "generate")
	return tl
}

// Audition stops playback and plays the palette sound right away. Synths last
// the default duration and samples play in full, both without reverb.
func (s *Session) Audition() error {
	s.Stop()
	p := s.palette
	var ev timeline.Event
	if p.Kind == timeline.KindSample {
		buf, ok := s.sounds.Lookup(p.SampleID)
		if !ok {
			return fault.Wrap(ErrNoSource,
				fmsg.WithDesc("sample "+p.SampleID+" not registered", "Select or import a sound first."),
				ftag.With(ftag.NotFound))
		}
		ev = timeline.NewSampleEvent(AuditionID, 0, 0, buf.Duration(), p.SampleID)
	} else {
		ev = timeline.NewSynthEvent(AuditionID, 0, 0, s.cfg.DefaultDuration, timeline.SynthParams{
			Root: p.Root, Chord: p.Chord, Wave: p.Wave,
		})
	}
	s.log.Debug("audition", "kind", ev.Kind)
	if err := s.engine.Render(ev, s.sounds.Lookup); err != nil {
		s.log.Warn("audition failed", "error", err)
		return err
	}
	return nil
}

// ImportSample decodes the audio file at path, registers it under a new id
// and selects it in the palette.
func (s *Session) ImportSample(path string) (samples.Sound, error) {
	buf, err := samples.DecodeFile(path, samples.Limits{
		MaxBytes:    s.cfg.MaxSampleBytes,
		MaxDuration: s.cfg.MaxSampleSeconds,
	})
	if err != nil {
		return samples.Sound{}, err
	}
	return s.RegisterSample(s.newID(), filepath.Base(path), buf)
}

// RegisterSample adds an already decoded sound and selects it in the palette.
func (s *Session) RegisterSample(id, name string, buf *samples.Buffer) (samples.Sound, error) {
	snd := samples.Sound{ID: id, Name: name, Buffer: buf}
	if err := s.sounds.Register(snd); err != nil {
		return samples.Sound{}, err
	}
	s.palette.SampleID = id
	s.log.Debug("sample registered", "id", id, "name", name, "seconds", buf.Duration())
	return snd, nil
}

// Lookup resolves a registered sample id to its buffer.
func (s *Session) Lookup(id string) (*samples.Buffer, bool) { return s.sounds.Lookup(id) }

// Render plays the current timeline offline at sampleRate and returns
// interleaved stereo samples, mixed at the configured volume.
func (s *Session) Render(sampleRate int, opts ...synth.Option) ([]float32, error) {
	s.warnMissing()
	params := synth.DefaultParams()
	params.SampleRate = sampleRate
	params.Volume = s.cfg.Volume
	return RenderTimeline(s.hist.Current(), s.sounds.Lookup, params, opts...)
}

// Play starts playback of the current timeline at clock time now (seconds).
// It reports false when there is nothing to play or playback is already
// running. The output device is opened first, so an unavailable device is
// returned here and playback does not start.
func (s *Session) Play(now float64) (bool, error) {
	tl := s.hist.Current()
	if tl.Empty() || s.tr.Playing() {
		return false, nil
	}
	if err := s.engine.Open(); err != nil {
		s.log.Warn("play failed", "error", err)
		return false, err
	}
	return s.tr.Play(tl, now), nil
}

// Tick advances playback to clock time now. When an event fails to render,
// playback stops and the error is returned.
func (s *Session) Tick(now float64) (bool, error) {
	playing := s.tr.Tick(now)
	if err := s.rend.take(); err != nil {
		s.Stop()
		return false, err
	}
	return playing, nil
}

func (s *Session) Stop() { s.tr.Stop() }

func (s *Session) Playing() bool { return s.tr.Playing() }

func (s *Session) Playhead() float64 { return s.tr.Playhead() }

// Run ticks playback every interval until it stops or ctx is done. A render
// failure during the run is returned in preference to the context error.
func (s *Session) Run(ctx context.Context, interval time.Duration, clock func() float64) error {
	err := s.tr.Run(ctx, interval, clock)
	if rerr := s.rend.take(); rerr != nil {
		return rerr
	}
	return err
}

// Close stops playback and releases the audio device.
func (s *Session) Close() error {
	s.Stop()
	return s.engine.CloseDevice()
}

func (s *Session) transportEvent(kind transport.EventKind) {
	s.log.Debug("transport", "event", kind.String())
	if s.onEvent != nil {
		s.onEvent(kind)
	}
}

func unknownEvent(id string) error {
	return fault.Wrap(ErrUnknownEvent,
		fmsg.WithDesc("event "+id+" not found", "That sound is no longer on the timeline."),
		ftag.With(ftag.NotFound))
}
