package samples

import (
	"errors"
	"sync"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
)

// ErrDuplicate is returned when registering an id that is already taken.
var ErrDuplicate = errors.New("sound already registered")

// Sound is a named decoded clip.
type Sound struct {
	ID     string
	Name   string
	Buffer *Buffer
}

// Registry maps source ids to decoded clips. Entries are never removed or
// replaced, so a Buffer returned by Lookup stays valid. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]Sound
	order []string
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Sound)}
}

// Register adds s. It fails with ErrDuplicate if s.ID is taken.
func (r *Registry) Register(s Sound) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[s.ID]; ok {
		return fault.Wrap(ErrDuplicate,
			fmsg.WithDesc("register "+s.ID, "A sound with this id already exists."),
			ftag.With(ftag.AlreadyExists))
	}
	r.byID[s.ID] = s
	r.order = append(r.order, s.ID)
	return nil
}

// Lookup returns the buffer registered under id.
func (r *Registry) Lookup(id string) (*Buffer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return s.Buffer, true
}

// Sound returns the full entry registered under id.
func (r *Registry) Sound(id string) (Sound, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	return s, ok
}

// List returns every sound in registration order.
func (r *Registry) List() []Sound {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Sound, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Len returns the number of registered sounds.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
