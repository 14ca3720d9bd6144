// Package chainio serializes finalized chains.
package chainio

import (
	"errors"
	"fmt"

	"github.com/Floozutter/stowjar/internal/chain"
	"github.com/Floozutter/stowjar/internal/keystate"
)

// Version is the document layout written by this package.
const Version = 1

// ErrVersion indicates a document written with an unsupported layout.
var ErrVersion = errors.New("unsupported chain document version")

// Document is the on-disk form of a chain.
type Document struct {
	Version int          `json:"version" yaml:"version" toml:"version"`
	States  []StateEntry `json:"states" yaml:"states" toml:"states"`
}

// StateEntry lists the outgoing distribution of one held-key set.
type StateEntry struct {
	Held        []string          `json:"held" yaml:"held" toml:"held"`
	Transitions []TransitionEntry `json:"transitions" yaml:"transitions" toml:"transitions"`
}

// TransitionEntry is one (destination, duration, probability) triple.
type TransitionEntry struct {
	To          []string `json:"to" yaml:"to" toml:"to"`
	Duration    int64    `json:"duration" yaml:"duration" toml:"duration"`
	Probability float64  `json:"probability" yaml:"probability" toml:"probability"`
}

// FromChain converts a chain into its document form.
func FromChain(c *chain.Chain) Document {
	doc := Document{Version: Version, States: make([]StateEntry, 0, c.Len())}
	for _, s := range c.States() {
		ts := c.Transitions(s)
		entry := StateEntry{
			Held:        heldList(s),
			Transitions: make([]TransitionEntry, 0, len(ts)),
		}
		for _, t := range ts {
			entry.Transitions = append(entry.Transitions, TransitionEntry{
				To:          heldList(t.To),
				Duration:    t.Duration,
				Probability: t.Probability,
			})
		}
		doc.States = append(doc.States, entry)
	}
	return doc
}

// Chain rebuilds and validates the chain described by the document.
func (d Document) Chain() (*chain.Chain, error) {
	if d.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, d.Version)
	}
	dists := make(map[keystate.State][]chain.Transition, len(d.States))
	for _, entry := range d.States {
		s := keystate.Of(entry.Held...)
		if _, dup := dists[s]; dup {
			return nil, fmt.Errorf("state %s listed twice", s)
		}
		ts := make([]chain.Transition, 0, len(entry.Transitions))
		for _, t := range entry.Transitions {
			ts = append(ts, chain.Transition{
				To:          keystate.Of(t.To...),
				Duration:    t.Duration,
				Probability: t.Probability,
			})
		}
		dists[s] = ts
	}
	return chain.Assemble(dists)
}

// heldList never returns nil so the empty state encodes as [] rather than null.
func heldList(s keystate.State) []string {
	keys := s.Keys()
	if keys == nil {
		return []string{}
	}
	return keys
}
