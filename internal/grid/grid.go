// Package grid converts pointer geometry into quantized timeline positions and
// computes the outcome of move and resize gestures.
package grid

import (
	"math"

	"github.com/cbegin/soundscape-go/internal/timeline"
)

// Edge selects which side of an event a resize drags.
type Edge uint8

const (
	EdgeTrailing Edge = iota
	EdgeLeading
)

func (e Edge) String() string {
	if e == EdgeLeading {
		return "leading"
	}
	return "trailing"
}

// defaultHandleWidth is the width in pixels of the grab zone at each end of
// an event.
const defaultHandleWidth = 8

// snapEpsilon keeps values that are already on the grid from flooring one
// step down because of float error.
const snapEpsilon = 1e-9

// Layout is the pixel geometry of the editing surface.
type Layout struct {
	Duration        float64 // seconds
	Lanes           int
	PixelsPerSecond float64
	Subdivisions    int     // grid steps per second
	LaneHeight      float64 // pixels
	DragThreshold   float64 // pixels
	HandleWidth     float64 // pixels, 0 means 8
}

// Quantum returns the grid step in seconds.
func (l Layout) Quantum() float64 { return 1 / float64(l.Subdivisions) }

func (l Layout) floorSnap(t float64) float64 {
	q := l.Quantum()
	return math.Floor(t/q+snapEpsilon) * q
}

func (l Layout) roundSnap(t float64) float64 {
	q := l.Quantum()
	return math.Round(t/q) * q
}

// PointerToCell returns the lane under y and the grid time at or before x.
func (l Layout) PointerToCell(x, y float64) (lane int, t float64) {
	lane = int(math.Floor(y / l.LaneHeight))
	return lane, l.floorSnap(x / l.PixelsPerSecond)
}

// Place positions candidate at lane and the grid cell containing t. It reports
// false when the cell is off the grid or the candidate would run past the end.
func (l Layout) Place(lane int, t float64, candidate timeline.Event) (timeline.Event, bool) {
	if lane < 0 || lane >= l.Lanes || t < 0 {
		return timeline.Event{}, false
	}
	start := l.floorSnap(t)
	if start+candidate.Duration > l.Duration+snapEpsilon {
		return timeline.Event{}, false
	}
	candidate.Lane = lane
	candidate.Start = start
	return candidate, true
}

// Move returns where ev lands after the pointer moved by (dx, dy) pixels.
// The lane is clamped to the grid and the start is pulled back so the event
// always fits. The duration never changes.
func (l Layout) Move(ev timeline.Event, dx, dy float64) (lane int, start float64) {
	lane = int(math.Round((float64(ev.Lane)*l.LaneHeight + dy) / l.LaneHeight))
	lane = max(0, min(l.Lanes-1, lane))

	start = l.roundSnap((ev.Start*l.PixelsPerSecond + dx) / l.PixelsPerSecond)
	start = max(0, start)
	if start+ev.Duration > l.Duration {
		start = l.Duration - ev.Duration
	}
	return lane, start
}

// Resize returns ev's span after dragging edge by dx pixels. A leading-edge
// drag keeps the end fixed. The span never drops below one grid step and
// never passes the end of the timeline.
func (l Layout) Resize(ev timeline.Event, edge Edge, dx float64) (start, duration float64) {
	q := l.Quantum()
	delta := l.roundSnap(dx / l.PixelsPerSecond)
	end := ev.Start + ev.Duration

	start, duration = ev.Start, ev.Duration
	if edge == EdgeLeading {
		start = max(0, ev.Start+delta)
		duration = end - start
	} else {
		duration += delta
	}

	if start+duration > l.Duration {
		duration = l.Duration - start
	}
	if duration < q {
		duration = q
		if edge == EdgeLeading {
			start = end - duration
		}
	}
	return start, duration
}

// Zone is the part of an event under the pointer.
type Zone uint8

const (
	ZoneBody Zone = iota
	ZoneLeading
	ZoneTrailing
)

// HitTest finds the last event in tl drawn under (x, y), so the topmost wins
// where events overlap. Pointers within the handle width of either end land
// on that edge.
func (l Layout) HitTest(tl timeline.Timeline, x, y float64) (timeline.Event, Zone, bool) {
	lane := int(math.Floor(y / l.LaneHeight))
	handle := l.HandleWidth
	if handle <= 0 {
		handle = defaultHandleWidth
	}
	for i := tl.Len() - 1; i >= 0; i-- {
		ev := tl.At(i)
		if ev.Lane != lane {
			continue
		}
		left := ev.Start * l.PixelsPerSecond
		right := ev.End() * l.PixelsPerSecond
		if x < left || x >= right {
			continue
		}
		// Events too narrow for two handles only get the trailing one.
		switch {
		case x >= right-handle:
			return ev, ZoneTrailing, true
		case x < left+handle && right-left > 2*handle:
			return ev, ZoneLeading, true
		}
		return ev, ZoneBody, true
	}
	return timeline.Event{}, ZoneBody, false
}
