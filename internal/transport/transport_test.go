package transport

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/cbegin/soundscape-go/internal/timeline"
)

type fakeRenderer struct {
	rendered []string
	stops    int
	onRender func(timeline.Event)
}

func (f *fakeRenderer) Render(ev timeline.Event) {
	f.rendered = append(f.rendered, ev.ID)
	if f.onRender != nil {
		f.onRender(ev)
	}
}

func (f *fakeRenderer) StopAll() { f.stops++ }

func ev(id string, start float64) timeline.Event {
	return timeline.NewSynthEvent(id, 0, start, 1, timeline.SynthParams{
		Root: "C", Chord: timeline.ChordMajor, Wave: timeline.WaveSine,
	})
}

func track() timeline.Timeline {
	return timeline.New(ev("b", 1.0), ev("a", 0), ev("c", 2.5))
}

func TestEventsFireOnceWhenReached(t *testing.T) {
	r := &fakeRenderer{}
	tr := New(r, Options{Duration: 30})
	if !tr.Play(track(), 100) {
		t.Fatalf("play should start")
	}

	steps := []struct {
		now  float64
		want []string
	}{
		{100.0, []string{"a"}},
		{100.5, []string{"a"}},
		{101.0, []string{"a", "b"}},
		{101.2, []string{"a", "b"}},
		{103.0, []string{"a", "b", "c"}},
		{110.0, []string{"a", "b", "c"}},
	}
	for _, s := range steps {
		tr.Tick(s.now)
		if !slices.Equal(r.rendered, s.want) {
			t.Fatalf("at %v rendered %v, want %v", s.now, r.rendered, s.want)
		}
	}
	if got := tr.Playhead(); got != 10 {
		t.Fatalf("playhead = %v, want 10", got)
	}
	if !tr.Fired("c") {
		t.Fatalf("c should be marked fired")
	}
}

func TestLateTickFiresInTimelineOrder(t *testing.T) {
	r := &fakeRenderer{}
	tr := New(r, Options{Duration: 30})
	tr.Play(track(), 0)
	tr.Tick(5)
	if want := []string{"b", "a", "c"}; !slices.Equal(r.rendered, want) {
		t.Fatalf("rendered %v, want %v", r.rendered, want)
	}
}

func TestStopResets(t *testing.T) {
	r := &fakeRenderer{}
	var kinds []EventKind
	tr := New(r, Options{Duration: 30, OnEvent: func(k EventKind) { kinds = append(kinds, k) }})
	tr.Play(track(), 0)
	tr.Tick(1.5)
	stopsBefore := r.stops

	tr.Stop()
	if tr.State() != Stopped || tr.Playhead() != 0 {
		t.Fatalf("state=%v playhead=%v after stop", tr.State(), tr.Playhead())
	}
	if tr.Fired("a") {
		t.Fatalf("fired set should be cleared")
	}
	if r.stops != stopsBefore+1 {
		t.Fatalf("stop should silence the renderer")
	}

	tr.Stop()
	if want := []EventKind{EventStarted, EventStopped}; !slices.Equal(kinds, want) {
		t.Fatalf("events %v, want %v", kinds, want)
	}

	// A fresh run replays from the beginning.
	r.rendered = nil
	tr.Play(track(), 50)
	tr.Tick(50)
	if !slices.Equal(r.rendered, []string{"a"}) {
		t.Fatalf("replay rendered %v", r.rendered)
	}
}

func TestAutoStopAfterSafetyMargin(t *testing.T) {
	r := &fakeRenderer{}
	var kinds []EventKind
	var heads []float64
	tr := New(r, Options{
		Duration:     30,
		SafetyMargin: 10 * time.Second,
		OnEvent:      func(k EventKind) { kinds = append(kinds, k) },
		OnPlayhead:   func(s float64) { heads = append(heads, s) },
	})
	tr.Play(track(), 0)

	if !tr.Tick(40) {
		t.Fatalf("exactly at the limit playback continues")
	}
	if tr.Tick(40.01) {
		t.Fatalf("past the limit playback should stop")
	}
	if tr.Playing() || tr.Playhead() != 0 {
		t.Fatalf("auto-stop should rewind")
	}
	if kinds[len(kinds)-1] != EventPlaybackEnded {
		t.Fatalf("last event = %v, want %v", kinds[len(kinds)-1], EventPlaybackEnded)
	}
	if heads[len(heads)-1] != 0 {
		t.Fatalf("playhead callback should end at 0, got %v", heads)
	}
}

func TestStopFromInsideRender(t *testing.T) {
	r := &fakeRenderer{}
	tr := New(r, Options{Duration: 30})
	r.onRender = func(e timeline.Event) {
		if e.ID == "a" {
			tr.Stop()
		}
	}
	tr.Play(timeline.New(ev("a", 0), ev("b", 0)), 0)
	if tr.Tick(1) {
		t.Fatalf("tick should report stopped")
	}
	if !slices.Equal(r.rendered, []string{"a"}) {
		t.Fatalf("rendered %v, want only a", r.rendered)
	}
	if tr.Fired("a") {
		t.Fatalf("stop inside render must clear the fired set")
	}
}

func TestPlayNoOps(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*Transport)
		tl    timeline.Timeline
	}{
		{name: "empty timeline", tl: timeline.New()},
		{name: "already playing", tl: track(), setup: func(tr *Transport) { tr.Play(track(), 0) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRenderer{}
			tr := New(r, Options{Duration: 30})
			if tt.setup != nil {
				tt.setup(tr)
			}
			stops := r.stops
			if tr.Play(tt.tl, 5) {
				t.Fatalf("play should be a no-op")
			}
			if r.stops != stops {
				t.Fatalf("a no-op play must not touch the renderer")
			}
		})
	}
}

func TestTickWhileStopped(t *testing.T) {
	r := &fakeRenderer{}
	tr := New(r, Options{Duration: 30})
	if tr.Tick(3) {
		t.Fatalf("tick while stopped should report false")
	}
	if len(r.rendered) != 0 {
		t.Fatalf("nothing should render while stopped")
	}
}

func TestRunStopsOnContextDone(t *testing.T) {
	r := &fakeRenderer{}
	tr := New(r, Options{Duration: 30})
	tr.Play(track(), 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := tr.Run(ctx, time.Hour, func() float64 { return 0 })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if tr.Playing() {
		t.Fatalf("run should stop the transport when ctx is done")
	}
}

func TestRunReturnsWhenPlaybackEnds(t *testing.T) {
	r := &fakeRenderer{}
	tr := New(r, Options{Duration: 1, SafetyMargin: time.Second})
	tr.Play(track(), 0)

	now := 0.0
	clock := func() float64 {
		now += 1
		return now
	}
	if err := tr.Run(context.Background(), time.Millisecond, clock); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !slices.Equal(r.rendered, []string{"b", "a"}) {
		t.Fatalf("rendered %v", r.rendered)
	}
}
