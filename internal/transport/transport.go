// Package transport walks a timeline against a clock and fires each event
// once when the playhead reaches it.
package transport

import (
	"context"
	"time"

	"github.com/cbegin/soundscape-go/internal/timeline"
)

// Renderer is the sound output the transport drives.
type Renderer interface {
	Render(ev timeline.Event)
	StopAll()
}

// State is the transport mode.
type State uint8

const (
	Stopped State = iota
	Playing
)

func (s State) String() string {
	if s == Playing {
		return "playing"
	}
	return "stopped"
}

// EventKind identifies transport lifecycle events.
type EventKind int

const (
	EventStarted EventKind = iota
	EventStopped
	// EventPlaybackEnded fires when playback runs past the end of the
	// timeline and its safety margin and stops on its own.
	EventPlaybackEnded
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventStopped:
		return "stopped"
	case EventPlaybackEnded:
		return "playback-ended"
	}
	return "unknown"
}

type Options struct {
	Duration     float64       // timeline length in seconds
	SafetyMargin time.Duration // extra run time before auto-stop, 0 means 10s
	OnPlayhead   func(seconds float64)
	OnEvent      func(EventKind)
}

const defaultSafetyMargin = 10 * time.Second

// Transport is not safe for concurrent use; drive it from one goroutine.
type Transport struct {
	renderer Renderer
	opts     Options
	limit    float64

	state    State
	tl       timeline.Timeline
	started  float64
	playhead float64
	fired    map[string]struct{}
	epoch    uint64 // bumped on every stop so a tick can tell it was interrupted
}

func New(renderer Renderer, opts Options) *Transport {
	if opts.SafetyMargin <= 0 {
		opts.SafetyMargin = defaultSafetyMargin
	}
	return &Transport{
		renderer: renderer,
		opts:     opts,
		limit:    opts.Duration + opts.SafetyMargin.Seconds(),
		fired:    make(map[string]struct{}),
	}
}

// Play starts playing tl with the playhead at zero at clock time now. It does
// nothing and reports false if tl is empty or playback is already running.
func (t *Transport) Play(tl timeline.Timeline, now float64) bool {
	if tl.Empty() || t.state == Playing {
		return false
	}
	t.renderer.StopAll()
	t.tl = tl
	t.started = now
	t.playhead = 0
	clear(t.fired)
	t.state = Playing
	t.emit(EventStarted)
	return true
}

// Tick advances to clock time now. Every unfired event whose start has been
// reached is rendered in timeline order. It reports whether the transport is
// still playing afterwards.
func (t *Transport) Tick(now float64) bool {
	if t.state != Playing {
		return false
	}
	elapsed := now - t.started
	if elapsed > t.limit {
		t.halt()
		t.emit(EventPlaybackEnded)
		return false
	}
	t.playhead = elapsed
	if t.opts.OnPlayhead != nil {
		t.opts.OnPlayhead(elapsed)
	}

	epoch := t.epoch
	for i := 0; i < t.tl.Len(); i++ {
		ev := t.tl.At(i)
		if _, done := t.fired[ev.ID]; done || elapsed < ev.Start {
			continue
		}
		t.fired[ev.ID] = struct{}{}
		t.renderer.Render(ev)
		if t.epoch != epoch {
			// Stopped from inside a render.
			return false
		}
	}
	return true
}

// Stop silences output and rewinds. Calling it while stopped is harmless.
func (t *Transport) Stop() {
	wasPlaying := t.state == Playing
	t.halt()
	if wasPlaying {
		t.emit(EventStopped)
	}
}

// Run ticks every interval using clock until playback stops or ctx is done.
// A done context stops playback.
func (t *Transport) Run(ctx context.Context, interval time.Duration, clock func() float64) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for t.state == Playing {
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-ticker.C:
			t.Tick(clock())
		}
	}
	return nil
}

func (t *Transport) State() State { return t.state }

func (t *Transport) Playing() bool { return t.state == Playing }

// Playhead returns seconds since playback started, or 0 when stopped.
func (t *Transport) Playhead() float64 { return t.playhead }

// Fired reports whether the event with id has been rendered in this run.
func (t *Transport) Fired(id string) bool {
	_, ok := t.fired[id]
	return ok
}

func (t *Transport) halt() {
	t.renderer.StopAll()
	t.state = Stopped
	t.playhead = 0
	clear(t.fired)
	t.epoch++
	if t.opts.OnPlayhead != nil {
		t.opts.OnPlayhead(0)
	}
}

func (t *Transport) emit(kind EventKind) {
	if t.opts.OnEvent != nil {
		t.opts.OnEvent(kind)
	}
}
