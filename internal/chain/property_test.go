package chain

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Floozutter/stowjar/internal/keylog"
	"github.com/Floozutter/stowjar/internal/keystate"
)

var propertyKeys = []string{"A", "B", "C"}

// eventsFromOps decodes each op into a key, a push flag and a clock gap so
// generated streams stay timestamp-ordered.
func eventsFromOps(ops []int) []keylog.Event {
	events := make([]keylog.Event, 0, len(ops))
	var ts int64
	for _, op := range ops {
		kind := op % 6
		ts += int64(op / 6)
		events = append(events, keylog.Event{
			Timestamp: ts,
			Key:       propertyKeys[kind%3],
			Push:      kind < 3,
		})
	}
	return events
}

func opsGen() gopter.Gen {
	return gen.SliceOf(gen.IntRange(0, 59))
}

func TestProcess_PropertyDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("same stream gives identical tallies", prop.ForAll(
		func(ops []int) bool {
			events := eventsFromOps(ops)
			first := NewCounter()
			first.Process(events)
			second := NewCounter()
			second.Process(events)
			return first.Equal(second) && second.Equal(first)
		},
		opsGen(),
	))

	properties.TestingRun(t)
}

func TestProcess_PropertyNoSelfLoops(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("no edge has equal source and destination", prop.ForAll(
		func(ops []int) bool {
			c := NewCounter()
			stats := c.Process(eventsFromOps(ops))
			if stats.Transitions+stats.Skipped != stats.Events {
				return false
			}
			for _, e := range c.Edges() {
				if e.From == e.To || e.Duration < 0 || e.Count <= 0 {
					return false
				}
			}
			return true
		},
		opsGen(),
	))

	properties.TestingRun(t)
}

func TestMerge_PropertyCommutative(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("merging streams in either order gives equal counts", prop.ForAll(
		func(left, right []int) bool {
			a := NewCounter()
			a.Process(eventsFromOps(left))
			b := NewCounter()
			b.Process(eventsFromOps(right))

			ab := NewCounter()
			ab.Merge(a)
			ab.Merge(b)
			ba := NewCounter()
			ba.Merge(b)
			ba.Merge(a)

			shared := NewCounter()
			shared.Process(eventsFromOps(right))
			shared.Process(eventsFromOps(left))
			return ab.Equal(ba) && ab.Equal(shared)
		},
		opsGen(),
		opsGen(),
	))

	properties.TestingRun(t)
}

func TestFinalize_PropertyClosedAndNormalized(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("finalized chains are closed and sum to one", prop.ForAll(
		func(ops []int, weight int, duration int) bool {
			c := NewCounter()
			c.Process(eventsFromOps(ops))
			ch, err := Finalize(c, SinkPolicy{Duration: int64(duration), Weight: int64(weight)})
			if err != nil {
				return false
			}
			if err := ch.Validate(Tolerance); err != nil {
				return false
			}
			for _, s := range ch.Reachable(keystate.Empty()) {
				ts := ch.Transitions(s)
				if len(ts) == 0 {
					return ch.Len() == 1
				}
				sum := 0.0
				for _, tr := range ts {
					if tr.Probability <= 0 {
						return false
					}
					sum += tr.Probability
				}
				if math.Abs(sum-1) > Tolerance {
					return false
				}
			}
			return true
		},
		opsGen(),
		gen.IntRange(1, 5),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}
