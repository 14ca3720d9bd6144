package chain

import (
	"github.com/Floozutter/stowjar/internal/keystate"
)

// SinkPolicy controls the synthetic edge that routes a sink back to the empty state.
type SinkPolicy struct {
	Duration int64
	Weight   int64
}

// DefaultSinkPolicy adds one occurrence at duration 0.
var DefaultSinkPolicy = SinkPolicy{Duration: 0, Weight: 1}

// Validate checks the policy can produce a legal edge.
func (p SinkPolicy) Validate() error {
	if p.Weight < 1 {
		return ErrSinkWeight
	}
	if p.Duration < 0 {
		return ErrSinkDuration
	}
	return nil
}

// Unsink adds an edge from every non-empty sink to the empty state and returns
// the states it routed. An empty-state sink cannot be routed without a
// self-loop and is left as is.
func (c *Counter) Unsink(p SinkPolicy) []keystate.State {
	var routed []keystate.State
	empty := keystate.Empty()
	for _, s := range c.Sinks() {
		if s == empty {
			continue
		}
		c.AddCount(s, empty, p.Duration, p.Weight)
		routed = append(routed, s)
	}
	return routed
}

// Finalize eliminates sinks on a copy of c and normalizes every source's
// tallies into a probability distribution over (destination, duration).
// An empty counter yields a chain holding only the empty state. A policy
// that cannot close the chain is rejected before c is read.
func Finalize(c *Counter, p SinkPolicy) (*Chain, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	work := c.Clone()
	work.Unsink(p)

	out := map[keystate.State][]Transition{}
	for _, s := range work.States() {
		total := work.Total(s)
		if total == 0 {
			out[s] = nil
			continue
		}
		var ts []Transition
		for dst, hist := range work.changes[s] {
			for dur, n := range hist {
				ts = append(ts, Transition{
					To:          dst,
					Duration:    dur,
					Probability: float64(n) / float64(total),
				})
			}
		}
		out[s] = ts
	}
	if len(out) == 0 {
		out[keystate.Empty()] = nil
	}
	return newChain(out), nil
}
