package chain

import (
	"fmt"
	"math"
	"sort"

	"github.com/Floozutter/stowjar/internal/keystate"
)

// Tolerance bounds the error allowed when outgoing probabilities are summed.
const Tolerance = 1e-9

// Transition is one weighted move out of a state.
type Transition struct {
	To          keystate.State
	Duration    int64
	Probability float64
}

// Chain is a finalized, read-only Markov chain.
type Chain struct {
	states []keystate.State
	out    map[keystate.State][]Transition
}

// Assemble builds a chain from decoded distributions and validates it.
func Assemble(dists map[keystate.State][]Transition) (*Chain, error) {
	c := newChain(dists)
	if err := c.Validate(Tolerance); err != nil {
		return nil, err
	}
	return c, nil
}

func newChain(dists map[keystate.State][]Transition) *Chain {
	c := &Chain{out: make(map[keystate.State][]Transition, len(dists))}
	for s, ts := range dists {
		sorted := append([]Transition(nil), ts...)
		sort.Slice(sorted, func(i, j int) bool {
			if cmp := keystate.Compare(sorted[i].To, sorted[j].To); cmp != 0 {
				return cmp < 0
			}
			return sorted[i].Duration < sorted[j].Duration
		})
		c.out[s] = sorted
		c.states = append(c.states, s)
	}
	keystate.Sort(c.states)
	return c
}

// States returns every state in keystate.Compare order.
func (c *Chain) States() []keystate.State {
	return append([]keystate.State(nil), c.states...)
}

// Len returns the number of states.
func (c *Chain) Len() int {
	return len(c.states)
}

// Has reports whether s is a state of the chain.
func (c *Chain) Has(s keystate.State) bool {
	_, ok := c.out[s]
	return ok
}

// Transitions returns the outgoing distribution of s, sorted by destination then duration.
func (c *Chain) Transitions(s keystate.State) []Transition {
	return append([]Transition(nil), c.out[s]...)
}

// TransitionCount returns the number of (state, destination, duration) entries.
func (c *Chain) TransitionCount() int {
	n := 0
	for _, ts := range c.out {
		n += len(ts)
	}
	return n
}

// Sinks returns states without outgoing transitions.
func (c *Chain) Sinks() []keystate.State {
	var out []keystate.State
	for _, s := range c.states {
		if len(c.out[s]) == 0 {
			out = append(out, s)
		}
	}
	return out
}

// Reachable returns every state reachable from start, start included, in BFS order.
func (c *Chain) Reachable(start keystate.State) []keystate.State {
	if !c.Has(start) {
		return nil
	}
	visited := map[keystate.State]struct{}{start: {}}
	order := []keystate.State{start}
	for i := 0; i < len(order); i++ {
		for _, t := range c.out[order[i]] {
			if _, ok := visited[t.To]; ok {
				continue
			}
			visited[t.To] = struct{}{}
			order = append(order, t.To)
		}
	}
	return order
}

// Validate checks every distribution is well formed and the chain is closed.
// A single empty state with no transitions is the valid chain of an empty log.
func (c *Chain) Validate(tol float64) error {
	for _, s := range c.states {
		ts := c.out[s]
		if len(ts) == 0 {
			if len(c.states) == 1 && s.IsEmpty() {
				continue
			}
			return fmt.Errorf("%s: %w", s, ErrOpenChain)
		}
		type pair struct {
			to  keystate.State
			dur int64
		}
		seen := map[pair]struct{}{}
		sum := 0.0
		for _, t := range ts {
			switch {
			case t.To == s:
				return fmt.Errorf("%s: %w", s, ErrSelfLoop)
			case t.Duration < 0:
				return fmt.Errorf("%s -> %s: %w", s, t.To, ErrNegativeDuration)
			case !(t.Probability > 0 && t.Probability <= 1):
				return fmt.Errorf("%s -> %s: %w: %v", s, t.To, ErrBadProbability, t.Probability)
			case !c.Has(t.To):
				return fmt.Errorf("%s -> %s: %w", s, t.To, ErrOpenChain)
			}
			key := pair{to: t.To, dur: t.Duration}
			if _, ok := seen[key]; ok {
				return fmt.Errorf("%s -> %s @%d: %w", s, t.To, t.Duration, ErrDuplicateTransition)
			}
			seen[key] = struct{}{}
			sum += t.Probability
		}
		if math.Abs(sum-1) > tol {
			return fmt.Errorf("%s: %w (%v)", s, ErrProbabilitySum, sum)
		}
	}
	return nil
}
