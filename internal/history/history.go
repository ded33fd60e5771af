// Package history keeps the linear undo/redo sequence of timeline snapshots.
package history

import "github.com/cbegin/soundscape-go/internal/timeline"

// History is an ordered list of snapshots with a cursor. The snapshot at the
// cursor is the current timeline. It is not safe for concurrent use.
type History struct {
	snaps []timeline.Timeline
	index int
}

// New returns a history holding only initial.
func New(initial timeline.Timeline) *History {
	return &History{snaps: []timeline.Timeline{initial}}
}

// Commit discards any redo branch and appends tl as the new current snapshot.
func (h *History) Commit(tl timeline.Timeline) {
	h.snaps = append(h.snaps[:h.index+1:h.index+1], tl)
	h.index++
}

// Undo steps the cursor back. It reports false at the oldest snapshot.
func (h *History) Undo() bool {
	if !h.CanUndo() {
		return false
	}
	h.index--
	return true
}

// Redo steps the cursor forward. It reports false at the newest snapshot.
func (h *History) Redo() bool {
	if !h.CanRedo() {
		return false
	}
	h.index++
	return true
}

// Current returns the snapshot at the cursor.
func (h *History) Current() timeline.Timeline { return h.snaps[h.index] }

func (h *History) CanUndo() bool { return h.index > 0 }

func (h *History) CanRedo() bool { return h.index < len(h.snaps)-1 }

// Len returns the number of snapshots kept.
func (h *History) Len() int { return len(h.snaps) }

// Index returns the cursor position.
func (h *History) Index() int { return h.index }

// Reset drops every snapshot and starts over from tl.
func (h *History) Reset(tl timeline.Timeline) {
	h.snaps = []timeline.Timeline{tl}
	h.index = 0
}
