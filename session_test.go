package soundscape

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"
	"testing"
	"time"

	"github.com/cbegin/soundscape-go/internal/audio"
	"github.com/cbegin/soundscape-go/internal/config"
	"github.com/cbegin/soundscape-go/internal/grid"
	"github.com/cbegin/soundscape-go/internal/samples"
	"github.com/cbegin/soundscape-go/internal/store"
	"github.com/cbegin/soundscape-go/internal/synth"
	"github.com/cbegin/soundscape-go/internal/timeline"
	"github.com/cbegin/soundscape-go/internal/transport"
)

const testRate = 1000

func testConfig() config.Config {
	return config.Config{
		TimelineSeconds:  30,
		Lanes:            4,
		PixelsPerSecond:  100,
		Subdivisions:     4,
		DefaultDuration:  2,
		LaneHeight:       64,
		DragThreshold:    3,
		SafetyMargin:     10 * time.Second,
		SampleRate:       testRate,
		Volume:           0.25,
		MaxSampleBytes:   5 << 20,
		MaxSampleSeconds: 60,
		StoreKey:         "composition",
	}
}

type testRig struct {
	s      *Session
	engine *synth.Engine
	store  *store.MemStore
	events []transport.EventKind
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	params := synth.DefaultParams()
	params.SampleRate = testRate
	r := &testRig{
		engine: synth.New(params, synth.WithoutDevice(), synth.WithRand(rand.New(rand.NewPCG(1, 2)))),
		store:  store.NewMemStore(),
	}
	n := 0
	s, err := New(testConfig(),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithEngine(r.engine),
		WithStore(r.store),
		WithRand(rand.New(rand.NewPCG(7, 7))),
		WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("ev-%d", n)
		}),
		WithTransportEvents(func(k transport.EventKind) { r.events = append(r.events, k) }),
	)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	r.s = s
	return r
}

func buffer(seconds float64) *samples.Buffer {
	n := int(seconds * testRate)
	return &samples.Buffer{SampleRate: testRate, Channels: [][]float32{make([]float32, n), make([]float32, n)}}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Lanes = 0
	if _, err := New(cfg, WithStore(store.NewMemStore())); err == nil {
		t.Fatalf("expected invalid config error")
	}
}

func TestWorkedExample(t *testing.T) {
	r := newRig(t)
	ev, ok, err := r.s.PlaceAt(230, 10)
	if err != nil || !ok {
		t.Fatalf("place: ok=%v err=%v", ok, err)
	}
	if ev.Lane != 0 || ev.Start != 2.25 || ev.Duration != 2 {
		t.Fatalf("placed lane=%d start=%v dur=%v, want 0, 2.25, 2", ev.Lane, ev.Start, ev.Duration)
	}

	endX := ev.End() * 100
	if err := r.s.BeginResize(ev.ID, grid.EdgeTrailing, endX, 10); err != nil {
		t.Fatal(err)
	}
	r.s.DragTo(endX+30, 10)
	if cur, _ := r.s.Current().Find(ev.ID); cur.Duration != 2 {
		t.Fatalf("dragging must not touch the timeline, duration=%v", cur.Duration)
	}
	got, ok := r.s.EndGesture(endX+60, 10)
	if !ok || got.Duration != 2.5 || got.Start != 2.25 {
		t.Fatalf("resize: ok=%v start=%v dur=%v, want 2.25, 2.5", ok, got.Start, got.Duration)
	}
	if !r.s.Undo() {
		t.Fatalf("undo after resize")
	}
	if cur, _ := r.s.Current().Find(ev.ID); cur.Duration != 2 {
		t.Fatalf("undo should restore duration 2, got %v", cur.Duration)
	}
}

func TestPlaceRejections(t *testing.T) {
	tests := []struct {
		name string
		lane int
		at   float64
	}{
		{"overhangs the end", 0, 28.5},
		{"lane below grid", -1, 1},
		{"lane above grid", 4, 1},
		{"negative time", 0, -0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t)
			_, ok, err := r.s.Place(tt.lane, tt.at)
			if err != nil || ok {
				t.Fatalf("ok=%v err=%v, want silent rejection", ok, err)
			}
			if r.s.CanUndo() {
				t.Fatalf("a rejected placement must not commit")
			}
		})
	}
}

func TestPlaceAtExactFit(t *testing.T) {
	r := newRig(t)
	ev, ok, err := r.s.Place(3, 28)
	if err != nil || !ok || ev.End() != 30 {
		t.Fatalf("ok=%v err=%v end=%v", ok, err, ev.End())
	}
}

func TestPlaceSample(t *testing.T) {
	tests := []struct {
		name    string
		seconds float64
		want    float64
	}{
		{"shorter than default", 0.5, 0.5},
		{"longer than default", 10, 2},
		{"shorter than a grid step", 0.1, 0.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t)
			if _, err := r.s.RegisterSample("snd", "clip.wav", buffer(tt.seconds)); err != nil {
				t.Fatal(err)
			}
			r.s.SetPalette(Palette{Kind: timeline.KindSample, SampleID: "snd"})
			ev, ok, err := r.s.Place(1, 1.1)
			if err != nil || !ok {
				t.Fatalf("ok=%v err=%v", ok, err)
			}
			if ev.Duration != tt.want || ev.OriginalDuration != tt.want || ev.Start != 1 {
				t.Fatalf("start=%v dur=%v orig=%v", ev.Start, ev.Duration, ev.OriginalDuration)
			}
		})
	}
}

func TestPlaceUnregisteredSample(t *testing.T) {
	r := newRig(t)
	r.s.SetPalette(Palette{Kind: timeline.KindSample, SampleID: "nope"})
	if _, _, err := r.s.Place(0, 0); !errors.Is(err, ErrNoSource) {
		t.Fatalf("err = %v, want ErrNoSource", err)
	}
	if err := r.s.Audition(); !errors.Is(err, ErrNoSource) {
		t.Fatalf("audition err = %v, want ErrNoSource", err)
	}
}

func TestRegisterSampleSelectsIt(t *testing.T) {
	r := newRig(t)
	if _, err := r.s.RegisterSample("a", "a.wav", buffer(1)); err != nil {
		t.Fatal(err)
	}
	if r.s.Palette().SampleID != "a" {
		t.Fatalf("palette sample = %q", r.s.Palette().SampleID)
	}
	if _, err := r.s.RegisterSample("a", "again.wav", buffer(1)); !errors.Is(err, samples.ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
	if got := len(r.s.Sounds()); got != 1 {
		t.Fatalf("sounds = %d", got)
	}
}

func TestUndoRedoAndPrune(t *testing.T) {
	r := newRig(t)
	r.s.Place(0, 0)
	r.s.Place(1, 4)
	after2 := r.s.Current()

	r.s.Undo()
	if r.s.Current().Len() != 1 {
		t.Fatalf("undo should remove the second placement")
	}
	r.s.Redo()
	if !r.s.Current().Equal(after2) {
		t.Fatalf("redo should restore the exact snapshot")
	}

	r.s.Undo()
	r.s.Place(2, 8)
	if r.s.CanRedo() {
		t.Fatalf("a new commit prunes redo")
	}
	if r.s.Redo() {
		t.Fatalf("redo at the end is a no-op")
	}
	r.s.Undo()
	r.s.Undo()
	if r.s.Undo() {
		t.Fatalf("undo at the start is a no-op")
	}
	if !r.s.Current().Empty() {
		t.Fatalf("initial snapshot should be empty")
	}
}

func TestRemoveAndUpdate(t *testing.T) {
	r := newRig(t)
	ev, _, _ := r.s.Place(0, 0)

	if err := r.s.Remove("missing"); !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("remove missing: %v", err)
	}

	edit := ev
	edit.Reverb = 0.5
	edit.Synth.Detune = 0.3
	edit.OriginalDuration = 99
	if err := r.s.Update(edit); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := r.s.Current().Find(ev.ID)
	if got.Reverb != 0.5 || got.Synth.Detune != 0.3 || got.OriginalDuration != 2 {
		t.Fatalf("updated %+v", got)
	}

	bad := got
	bad.Start = 29
	if err := r.s.Update(bad); !errors.Is(err, timeline.ErrInvalidEvent) {
		t.Fatalf("overhanging update: %v", err)
	}
	ghost := got
	ghost.ID = "ghost"
	if err := r.s.Update(ghost); !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("unknown update: %v", err)
	}

	if err := r.s.Remove(ev.ID); err != nil {
		t.Fatal(err)
	}
	if !r.s.Current().Empty() {
		t.Fatalf("remove should empty the timeline")
	}
}

func TestClickIsNotADrag(t *testing.T) {
	r := newRig(t)
	ev, _, _ := r.s.Place(0, 1)
	before := r.s.Current()

	if err := r.s.BeginMove(ev.ID, 150, 10); err != nil {
		t.Fatal(err)
	}
	if _, ok := r.s.EndGesture(152, 11); ok {
		t.Fatalf("movement inside the threshold must not commit")
	}
	if !r.s.Current().Equal(before) || r.s.Gesture() != nil {
		t.Fatalf("click changed state")
	}
	if _, ok := r.s.EndGesture(0, 0); ok {
		t.Fatalf("ending with no gesture is a no-op")
	}
	if err := r.s.BeginMove("missing", 0, 0); !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("begin on missing: %v", err)
	}
}

func TestMoveGesture(t *testing.T) {
	r := newRig(t)
	ev, _, _ := r.s.Place(0, 1)
	r.s.BeginMove(ev.ID, 150, 10)
	got, ok := r.s.EndGesture(150+140, 10+70)
	if !ok {
		t.Fatalf("move should commit")
	}
	if got.Lane != 1 || got.Start != 2.5 {
		t.Fatalf("moved to lane=%d start=%v, want 1, 2.5", got.Lane, got.Start)
	}
}

func TestClear(t *testing.T) {
	r := newRig(t)
	if r.s.Clear() {
		t.Fatalf("clearing an empty timeline commits nothing")
	}
	r.s.Place(0, 0)
	r.s.Play(0)
	if !r.s.Clear() || !r.s.Current().Empty() || r.s.Playing() {
		t.Fatalf("clear should stop and empty")
	}
	r.s.Undo()
	if r.s.Current().Len() != 1 {
		t.Fatalf("clear is undoable")
	}
}

func TestSaveLoadRestore(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)

	if err := r.s.Load(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("load with nothing saved: %v", err)
	}
	if err := r.s.Restore(ctx); err != nil {
		t.Fatalf("restore with nothing saved: %v", err)
	}

	r.s.Place(0, 0)
	r.s.Place(2, 3)
	saved := r.s.Current()
	if err := r.s.Save(ctx); err != nil {
		t.Fatalf("save: %v", err)
	}

	r.s.Clear()
	if err := r.s.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if !r.s.Current().Equal(saved) {
		t.Fatalf("load should restore the saved events")
	}
	if !r.s.CanUndo() {
		t.Fatalf("load commits, so it is undoable")
	}

	fresh := newRig(t)
	fresh.s.store = r.store
	fresh.s.Place(3, 0)
	if err := fresh.s.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !fresh.s.Current().Equal(saved) || fresh.s.CanUndo() {
		t.Fatalf("restore should reset history to the saved timeline")
	}
}

func TestLoadMalformedKeepsTimeline(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)
	r.s.Place(0, 0)
	before := r.s.Current()
	_ = r.store.Put(ctx, "composition", []byte(`[{"soundType":"synth","id":"x","trackIndex":9}]`))
	if err := r.s.Load(ctx); !errors.Is(err, timeline.ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
	if !r.s.Current().Equal(before) {
		t.Fatalf("a failed load must not change the timeline")
	}
}

func TestMissingSources(t *testing.T) {
	r := newRig(t)
	r.s.RegisterSample("here", "here.wav", buffer(1))
	tl := timeline.New(
		timeline.NewSampleEvent("a", 0, 0, 1, "gone-2"),
		timeline.NewSampleEvent("b", 1, 0, 1, "here"),
		timeline.NewSampleEvent("c", 2, 0, 1, "gone-1"),
		timeline.NewSampleEvent("d", 3, 0, 1, "gone-2"),
	)
	data, _ := timeline.Serialize(tl)
	_ = r.store.Put(context.Background(), "composition", data)
	if err := r.s.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := r.s.MissingSources(); !slices.Equal(got, []string{"gone-1", "gone-2"}) {
		t.Fatalf("missing = %v", got)
	}
}

func TestPlayTickStop(t *testing.T) {
	r := newRig(t)
	if ok, err := r.s.Play(0); ok || err != nil {
		t.Fatalf("playing an empty timeline is a no-op, got %v, %v", ok, err)
	}
	r.s.Place(0, 0)
	r.s.Place(1, 1)

	if ok, err := r.s.Play(10); !ok || err != nil {
		t.Fatalf("play should start, got %v, %v", ok, err)
	}
	if ok, err := r.s.Play(10); ok || err != nil {
		t.Fatalf("play while playing is a no-op, got %v, %v", ok, err)
	}
	if playing, err := r.s.Tick(10.5); !playing || err != nil {
		t.Fatalf("tick: %v, %v", playing, err)
	}
	if got := r.engine.ActiveVoices(); got != 3 {
		t.Fatalf("after first event, voices = %d, want 3", got)
	}
	r.s.Tick(11)
	if got := r.engine.ActiveVoices(); got != 6 {
		t.Fatalf("after second event, voices = %d, want 6", got)
	}
	if r.s.Playhead() != 1 {
		t.Fatalf("playhead = %v", r.s.Playhead())
	}

	r.s.Stop()
	if r.engine.ActiveVoices() != 0 || r.s.Playhead() != 0 || r.s.Playing() {
		t.Fatalf("stop should silence and rewind")
	}
	want := []transport.EventKind{transport.EventStarted, transport.EventStopped}
	if !slices.Equal(r.events, want) {
		t.Fatalf("events = %v, want %v", r.events, want)
	}
}

func TestUndoStopsPlayback(t *testing.T) {
	r := newRig(t)
	r.s.Place(0, 0)
	r.s.Play(0)
	r.s.Tick(0)
	r.s.Undo()
	if r.s.Playing() || r.engine.ActiveVoices() != 0 {
		t.Fatalf("undo should stop playback")
	}
}

func TestGenerateSong(t *testing.T) {
	r := newRig(t)
	r.s.Place(0, 0)
	tl := r.s.GenerateSong()
	if tl.Len() != 4 || !r.s.Current().Equal(tl) {
		t.Fatalf("song should replace the timeline with 4 chords")
	}
	root := tl.At(0).Synth.Root
	if root.Index() < 0 {
		t.Fatalf("bad key %q", root)
	}
	steps := []int{0, 7, 9, 5}
	chords := []timeline.ChordKind{timeline.ChordMajor, timeline.ChordMajor, timeline.ChordMinor, timeline.ChordMajor}
	for i, ev := range tl.Events() {
		if ev.Lane != 1 || ev.Start != float64(i)*2 || ev.Duration != 2 || ev.Reverb != 0.2 {
			t.Fatalf("chord %d: lane=%d start=%v dur=%v reverb=%v", i, ev.Lane, ev.Start, ev.Duration, ev.Reverb)
		}
		if ev.Synth.Root != root.Transpose(steps[i]) || ev.Synth.Chord != chords[i] || ev.Synth.Wave != timeline.WaveSine {
			t.Fatalf("chord %d = %s %s", i, ev.Synth.Root, ev.Synth.Chord)
		}
	}
	if err := tl.Validate(testConfig().Bounds()); err != nil {
		t.Fatalf("song invalid: %v", err)
	}
	r.s.Undo()
	if r.s.Current().Len() != 1 {
		t.Fatalf("generate is a single undoable commit")
	}
}

func TestAudition(t *testing.T) {
	r := newRig(t)
	r.s.SetPalette(Palette{Kind: timeline.KindSynth, Root: "A", Chord: timeline.ChordMinor7th, Wave: timeline.WaveSquare})
	if err := r.s.Audition(); err != nil {
		t.Fatal(err)
	}
	if got := r.engine.ActiveVoices(); got != 4 {
		t.Fatalf("voices = %d, want 4", got)
	}
	if !r.s.Current().Empty() || r.s.CanUndo() {
		t.Fatalf("audition must not touch the timeline")
	}

	r.s.RegisterSample("clip", "clip.wav", buffer(5))
	r.s.SetPalette(Palette{Kind: timeline.KindSample, SampleID: "clip"})
	if err := r.s.Audition(); err != nil {
		t.Fatal(err)
	}
	if got := r.engine.ActiveVoices(); got != 1 {
		t.Fatalf("audition should stop the previous preview, voices = %d", got)
	}
}

type nullDevice struct{}

func (nullDevice) Close() error { return nil }

// flakyOpener fails while down is set.
type flakyOpener struct {
	down  bool
	opens int
}

func (o *flakyOpener) open(int, audio.SampleSource) (synth.Device, error) {
	if o.down {
		return nil, errors.New("no output")
	}
	o.opens++
	return nullDevice{}, nil
}

func newLiveRig(t *testing.T, op *flakyOpener) *testRig {
	t.Helper()
	params := synth.DefaultParams()
	params.SampleRate = testRate
	r := &testRig{
		engine: synth.New(params, synth.WithOpener(op.open), synth.WithRand(rand.New(rand.NewPCG(1, 2)))),
		store:  store.NewMemStore(),
	}
	s, err := New(testConfig(),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithEngine(r.engine),
		WithStore(r.store),
		WithTransportEvents(func(k transport.EventKind) { r.events = append(r.events, k) }),
	)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	r.s = s
	return r
}

func TestPlayReportsUnavailableDevice(t *testing.T) {
	op := &flakyOpener{down: true}
	r := newLiveRig(t, op)
	r.s.Place(0, 0)

	ok, err := r.s.Play(0)
	if ok || !errors.Is(err, synth.ErrDeviceUnavailable) {
		t.Fatalf("play = %v, %v, want false and ErrDeviceUnavailable", ok, err)
	}
	if r.s.Playing() || len(r.events) != 0 {
		t.Fatalf("playback must not start without a device")
	}

	op.down = false
	if ok, err := r.s.Play(0); !ok || err != nil {
		t.Fatalf("retry play = %v, %v", ok, err)
	}
	if playing, err := r.s.Tick(0.5); !playing || err != nil {
		t.Fatalf("tick = %v, %v", playing, err)
	}
	if op.opens != 1 || r.engine.ActiveVoices() != 3 {
		t.Fatalf("opens=%d voices=%d, want 1/3", op.opens, r.engine.ActiveVoices())
	}
}

func TestTickStopsWhenDeviceIsLost(t *testing.T) {
	op := &flakyOpener{}
	r := newLiveRig(t, op)
	r.s.Place(0, 0)
	r.s.Place(1, 1)
	if ok, err := r.s.Play(0); !ok || err != nil {
		t.Fatalf("play = %v, %v", ok, err)
	}
	if _, err := r.s.Tick(0); err != nil {
		t.Fatalf("first tick: %v", err)
	}

	if err := r.engine.CloseDevice(); err != nil {
		t.Fatal(err)
	}
	op.down = true
	playing, err := r.s.Tick(1)
	if playing || !errors.Is(err, synth.ErrDeviceUnavailable) {
		t.Fatalf("tick = %v, %v, want false and ErrDeviceUnavailable", playing, err)
	}
	if r.s.Playing() || r.s.Playhead() != 0 {
		t.Fatalf("a failed render should stop playback")
	}
	if playing, err := r.s.Tick(2); playing || err != nil {
		t.Fatalf("the error is reported once, got %v, %v", playing, err)
	}
}

func TestRenderUsesConfiguredVolume(t *testing.T) {
	peak := func(volume float64) float64 {
		cfg := testConfig()
		cfg.Volume = volume
		s, err := New(cfg,
			WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
			WithStore(store.NewMemStore()),
		)
		if err != nil {
			t.Fatal(err)
		}
		if _, ok, err := s.Place(0, 0); !ok || err != nil {
			t.Fatalf("place: %v, %v", ok, err)
		}
		out, err := s.Render(testRate)
		if err != nil {
			t.Fatal(err)
		}
		var p float64
		for _, v := range out {
			p = max(p, math.Abs(float64(v)))
		}
		return p
	}
	quiet, loud := peak(0.25), peak(1)
	if quiet == 0 {
		t.Fatalf("render is silent")
	}
	if ratio := loud / quiet; math.Abs(ratio-4) > 1e-3 {
		t.Fatalf("peak ratio = %v, want 4", ratio)
	}
}
