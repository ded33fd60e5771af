package timeline

import (
	"errors"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
)

var (
	// ErrInvalidEvent is returned when an event violates a timeline invariant.
	ErrInvalidEvent = errors.New("invalid event")
	// ErrMalformed is returned when persisted data cannot be decoded.
	ErrMalformed = errors.New("malformed timeline data")
)

// Timeline is an immutable ordered set of events. The zero value is empty.
// Order does not affect when events play, only the firing order of events
// that share a start time.
type Timeline struct {
	events []Event
}

// New returns a timeline holding a copy of events.
func New(events ...Event) Timeline {
	if len(events) == 0 {
		return Timeline{}
	}
	cp := make([]Event, len(events))
	copy(cp, events)
	return Timeline{events: cp}
}

// Len returns the number of events.
func (t Timeline) Len() int { return len(t.events) }

// Empty reports whether the timeline has no events.
func (t Timeline) Empty() bool { return len(t.events) == 0 }

// At returns the i-th event.
func (t Timeline) At(i int) Event { return t.events[i] }

// Events returns a copy of the events in order.
func (t Timeline) Events() []Event {
	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}

// Find returns the event with the given id.
func (t Timeline) Find(id string) (Event, bool) {
	for _, e := range t.events {
		if e.ID == id {
			return e, true
		}
	}
	return Event{}, false
}

// With returns a new timeline with ev appended.
func (t Timeline) With(ev Event) Timeline {
	out := make([]Event, len(t.events), len(t.events)+1)
	copy(out, t.events)
	return Timeline{events: append(out, ev)}
}

// Without returns a new timeline lacking the event with the given id.
func (t Timeline) Without(id string) Timeline {
	out := make([]Event, 0, len(t.events))
	for _, e := range t.events {
		if e.ID != id {
			out = append(out, e)
		}
	}
	return Timeline{events: out}
}

// Replace returns a new timeline where the event sharing ev's id is swapped for
// ev, keeping its position. The second result is false if no event matched.
func (t Timeline) Replace(ev Event) (Timeline, bool) {
	out := make([]Event, len(t.events))
	copy(out, t.events)
	for i := range out {
		if out[i].ID == ev.ID {
			out[i] = ev
			return Timeline{events: out}, true
		}
	}
	return t, false
}

// End returns the latest event end time, or 0 for an empty timeline.
func (t Timeline) End() float64 {
	var end float64
	for _, e := range t.events {
		if e.End() > end {
			end = e.End()
		}
	}
	return end
}

// Equal reports whether both timelines hold the same events in the same order.
func (t Timeline) Equal(o Timeline) bool {
	if len(t.events) != len(o.events) {
		return false
	}
	for i := range t.events {
		if t.events[i] != o.events[i] {
			return false
		}
	}
	return true
}

// Validate checks every event against b and that ids are unique.
func (t Timeline) Validate(b Bounds) error {
	seen := make(map[string]struct{}, len(t.events))
	for _, e := range t.events {
		if err := e.Validate(b); err != nil {
			return err
		}
		if _, dup := seen[e.ID]; dup {
			return fault.Wrap(ErrInvalidEvent, fmsg.With("duplicate id "+e.ID), ftag.With(ftag.InvalidArgument))
		}
		seen[e.ID] = struct{}{}
	}
	return nil
}
