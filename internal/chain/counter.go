// Package chain builds duration-annotated Markov chains over key states.
package chain

import (
	"sort"

	"github.com/Floozutter/stowjar/internal/keylog"
	"github.com/Floozutter/stowjar/internal/keystate"
)

// Histogram maps a duration in log ticks to how often it was observed.
type Histogram map[int64]int64

// Edge is one (source, destination, duration) tally.
type Edge struct {
	From     keystate.State
	To       keystate.State
	Duration int64
	Count    int64
}

// StreamStats summarizes a single Process call.
type StreamStats struct {
	Events      int
	Transitions int
	Skipped     int
}

// Counter is the unnormalized chain: source -> destination -> duration -> count.
// A Counter is not safe for concurrent use.
type Counter struct {
	changes map[keystate.State]map[keystate.State]Histogram
}

// NewCounter returns an empty Counter.
func NewCounter() *Counter {
	return &Counter{changes: map[keystate.State]map[keystate.State]Histogram{}}
}

// Add records one occurrence of src -> dst at duration. Self-loops are ignored.
func (c *Counter) Add(src, dst keystate.State, duration int64) {
	c.AddCount(src, dst, duration, 1)
}

// AddCount records n occurrences of src -> dst at duration.
// Self-loops and non-positive n are ignored.
func (c *Counter) AddCount(src, dst keystate.State, duration, n int64) {
	if src == dst || n <= 0 {
		return
	}
	c.histogram(src, dst)[duration] += n
}

// histogram returns the duration histogram for src -> dst, creating each level as needed.
func (c *Counter) histogram(src, dst keystate.State) Histogram {
	dests, ok := c.changes[src]
	if !ok {
		dests = map[keystate.State]Histogram{}
		c.changes[src] = dests
	}
	hist, ok := dests[dst]
	if !ok {
		hist = Histogram{}
		dests[dst] = hist
	}
	return hist
}

// Process adds the state changes implied by one timestamp-ordered stream.
// Each stream starts from the empty state. Events that leave the state
// unchanged are skipped and do not advance the clock.
func (c *Counter) Process(events []keylog.Event) StreamStats {
	stats := StreamStats{Events: len(events)}
	current := keystate.Empty()
	var last int64
	seen := false
	for _, e := range events {
		next := current.Change(e.Key, e.Push)
		if next == current {
			stats.Skipped++
			continue
		}
		var duration int64
		if seen {
			duration = e.Timestamp - last
		}
		c.Add(current, next, duration)
		stats.Transitions++
		current = next
		last = e.Timestamp
		seen = true
	}
	return stats
}

// Merge adds every tally of other into c.
func (c *Counter) Merge(other *Counter) {
	for src, dests := range other.changes {
		for dst, hist := range dests {
			for dur, n := range hist {
				c.AddCount(src, dst, dur, n)
			}
		}
	}
}

// Clone returns a deep copy.
func (c *Counter) Clone() *Counter {
	out := NewCounter()
	out.Merge(c)
	return out
}

// Count returns the tally for src -> dst at duration.
func (c *Counter) Count(src, dst keystate.State, duration int64) int64 {
	return c.changes[src][dst][duration]
}

// Histogram returns a copy of the duration histogram for src -> dst.
func (c *Counter) Histogram(src, dst keystate.State) Histogram {
	out := Histogram{}
	for dur, n := range c.changes[src][dst] {
		out[dur] = n
	}
	return out
}

// Total sums every outgoing tally of src.
func (c *Counter) Total(src keystate.State) int64 {
	var total int64
	for _, hist := range c.changes[src] {
		for _, n := range hist {
			total += n
		}
	}
	return total
}

// Len returns the number of distinct (source, destination, duration) tallies.
func (c *Counter) Len() int {
	n := 0
	for _, dests := range c.changes {
		for _, hist := range dests {
			n += len(hist)
		}
	}
	return n
}

// Edges returns every tally sorted by source, destination, then duration.
func (c *Counter) Edges() []Edge {
	edges := make([]Edge, 0, c.Len())
	for src, dests := range c.changes {
		for dst, hist := range dests {
			for dur, n := range hist {
				edges = append(edges, Edge{From: src, To: dst, Duration: dur, Count: n})
			}
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		return edgeLess(edges[i], edges[j])
	})
	return edges
}

// States returns every state appearing as a source or destination.
func (c *Counter) States() []keystate.State {
	set := map[keystate.State]struct{}{}
	for src, dests := range c.changes {
		set[src] = struct{}{}
		for dst := range dests {
			set[dst] = struct{}{}
		}
	}
	return sortedStates(set)
}

// Sinks returns states that were entered but never left.
func (c *Counter) Sinks() []keystate.State {
	set := map[keystate.State]struct{}{}
	for _, dests := range c.changes {
		for dst := range dests {
			if _, ok := c.changes[dst]; !ok {
				set[dst] = struct{}{}
			}
		}
	}
	return sortedStates(set)
}

// Equal reports whether both counters hold identical tallies.
func (c *Counter) Equal(other *Counter) bool {
	if c.Len() != other.Len() {
		return false
	}
	for src, dests := range c.changes {
		for dst, hist := range dests {
			for dur, n := range hist {
				if other.Count(src, dst, dur) != n {
					return false
				}
			}
		}
	}
	return true
}

func edgeLess(a, b Edge) bool {
	if c := keystate.Compare(a.From, b.From); c != 0 {
		return c < 0
	}
	if c := keystate.Compare(a.To, b.To); c != 0 {
		return c < 0
	}
	return a.Duration < b.Duration
}

func sortedStates(set map[keystate.State]struct{}) []keystate.State {
	out := make([]keystate.State, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	keystate.Sort(out)
	return out
}
