// Package effects holds the stereo processors applied to the shared send bus.
package effects

// Effector processes one stereo sample at a time.
type Effector interface {
	Process(l, r float32) (float32, float32)
	Reset()
}

// Chain applies a sequence of effects in order. The zero value passes audio
// through unchanged.
type Chain struct {
	effects []Effector
}

func NewChain(effects ...Effector) *Chain {
	return &Chain{effects: effects}
}

func (c *Chain) Process(l, r float32) (float32, float32) {
	for _, e := range c.effects {
		l, r = e.Process(l, r)
	}
	return l, r
}

// Reset clears the state of every effect, cutting off any tails.
func (c *Chain) Reset() {
	for _, e := range c.effects {
		e.Reset()
	}
}

// Len returns the number of effects in the chain.
func (c *Chain) Len() int { return len(c.effects) }

// Idle reports whether every effect that can ring out has gone quiet.
// Effects without tail tracking are assumed to be quiet.
func (c *Chain) Idle() bool {
	for _, e := range c.effects {
		if t, ok := e.(interface{ Idle() bool }); ok && !t.Idle() {
			return false
		}
	}
	return true
}
