package grid

import (
	"math"

	"github.com/cbegin/soundscape-go/internal/timeline"
)

// GestureKind tells a move from a resize.
type GestureKind uint8

const (
	GestureMove GestureKind = iota
	GestureResize
)

// Gesture is an in-progress drag. It captures the pointer origin and the
// event as it was when the drag began. Update only tracks the pointer; the
// timeline is untouched until End.
type Gesture struct {
	layout Layout
	kind   GestureKind
	edge   Edge
	orig   timeline.Event

	x0, y0 float64
	dx, dy float64
	moved  bool
}

// BeginMove starts dragging ev from pointer (x, y).
func (l Layout) BeginMove(ev timeline.Event, x, y float64) *Gesture {
	return &Gesture{layout: l, kind: GestureMove, orig: ev, x0: x, y0: y}
}

// BeginResize starts dragging edge of ev from pointer (x, y).
func (l Layout) BeginResize(ev timeline.Event, edge Edge, x, y float64) *Gesture {
	return &Gesture{layout: l, kind: GestureResize, edge: edge, orig: ev, x0: x, y0: y}
}

func (g *Gesture) Kind() GestureKind { return g.kind }

func (g *Gesture) Edge() Edge { return g.edge }

// Event returns the event as captured when the gesture began.
func (g *Gesture) Event() timeline.Event { return g.orig }

// Update records the pointer at (x, y).
func (g *Gesture) Update(x, y float64) {
	g.dx, g.dy = x-g.x0, y-g.y0
	if math.Abs(g.dx) > g.layout.DragThreshold || math.Abs(g.dy) > g.layout.DragThreshold {
		g.moved = true
	}
}

// Offset returns the pointer displacement since the gesture began, for
// drawing drag feedback.
func (g *Gesture) Offset() (dx, dy float64) { return g.dx, g.dy }

// Moved reports whether the pointer has left the click threshold.
func (g *Gesture) Moved() bool { return g.moved }

// Preview returns the event as it would be committed if the pointer were
// released now.
func (g *Gesture) Preview() timeline.Event {
	ev := g.orig
	switch g.kind {
	case GestureMove:
		ev.Lane, ev.Start = g.layout.Move(g.orig, g.dx, g.dy)
	case GestureResize:
		ev.Start, ev.Duration = g.layout.Resize(g.orig, g.edge, g.dx)
	}
	return ev
}

// End finishes the gesture at (x, y). It reports false when the pointer never
// got past the drag threshold or the result has the same geometry as before,
// in which case nothing should be committed.
func (g *Gesture) End(x, y float64) (timeline.Event, bool) {
	g.Update(x, y)
	if !g.moved {
		return g.orig, false
	}
	ev := g.Preview()
	if ev.Lane == g.orig.Lane && ev.Start == g.orig.Start && ev.Duration == g.orig.Duration {
		return g.orig, false
	}
	return ev, true
}
