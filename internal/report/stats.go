// Package report renders text summaries of finalized chains and recorded runs.
package report

import (
	"math"
	"os"
	"sort"
	"strings"

	"golang.org/x/term"

	"github.com/Floozutter/stowjar/internal/chain"
	"github.com/Floozutter/stowjar/internal/keystate"
)

const (
	sparkChars          = " .:-=+*#%@"
	defaultBuckets      = 16
	terminalWidthBackup = 80
)

// Sparkline renders a single-line ASCII sparkline for the values.
func Sparkline(values []float64) string {
	if len(values) == 0 {
		return ""
	}
	minVal := values[0]
	maxVal := values[0]
	for _, v := range values[1:] {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	if math.Abs(maxVal-minVal) < 1e-9 {
		return strings.Repeat(string(sparkChars[len(sparkChars)/2]), len(values))
	}
	var b strings.Builder
	for _, v := range values {
		pos := (v - minVal) / (maxVal - minVal)
		idx := int(math.Round(pos * float64(len(sparkChars)-1)))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sparkChars) {
			idx = len(sparkChars) - 1
		}
		b.WriteByte(sparkChars[idx])
	}
	return b.String()
}

// MeanDwell returns the expected time spent in s before it changes.
func MeanDwell(c *chain.Chain, s keystate.State) float64 {
	var mean float64
	for _, t := range c.Transitions(s) {
		mean += t.Probability * float64(t.Duration)
	}
	return mean
}

// DwellHistogram spreads the outgoing probability mass of s over equal-width
// duration buckets spanning [0, longest duration].
func DwellHistogram(c *chain.Chain, s keystate.State, buckets int) []float64 {
	ts := c.Transitions(s)
	if len(ts) == 0 {
		return nil
	}
	if buckets <= 0 {
		buckets = defaultBuckets
	}
	var longest int64
	for _, t := range ts {
		if t.Duration > longest {
			longest = t.Duration
		}
	}
	out := make([]float64, buckets)
	for _, t := range ts {
		idx := 0
		if longest > 0 {
			idx = int(float64(t.Duration) / float64(longest) * float64(buckets-1))
		}
		out[idx] += t.Probability
	}
	return out
}

// OutDegree counts the distinct destinations of s.
func OutDegree(c *chain.Chain, s keystate.State) int {
	seen := map[keystate.State]struct{}{}
	for _, t := range c.Transitions(s) {
		seen[t.To] = struct{}{}
	}
	return len(seen)
}

// MostLikelyNext returns the destination of s with the highest total probability.
func MostLikelyNext(c *chain.Chain, s keystate.State) (keystate.State, float64, bool) {
	mass := map[keystate.State]float64{}
	for _, t := range c.Transitions(s) {
		mass[t.To] += t.Probability
	}
	if len(mass) == 0 {
		return keystate.State{}, 0, false
	}
	dests := make([]keystate.State, 0, len(mass))
	for d := range mass {
		dests = append(dests, d)
	}
	keystate.Sort(dests)
	best := dests[0]
	for _, d := range dests[1:] {
		if mass[d] > mass[best] {
			best = d
		}
	}
	return best, mass[best], true
}

// TopStatesByDegree returns the top N states by out-degree.
func TopStatesByDegree(c *chain.Chain, n int) []keystate.State {
	if n <= 0 || c.Len() == 0 {
		return nil
	}
	type item struct {
		state  keystate.State
		degree int
	}
	items := make([]item, 0, c.Len())
	for _, s := range c.States() {
		items = append(items, item{state: s, degree: OutDegree(c, s)})
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].degree == items[j].degree {
			return keystate.Compare(items[i].state, items[j].state) < 0
		}
		return items[i].degree > items[j].degree
	})
	if n > len(items) {
		n = len(items)
	}
	out := make([]keystate.State, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, items[i].state)
	}
	return out
}

// TerminalWidth reports the width of stdout, falling back to 80 columns.
func TerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return terminalWidthBackup
	}
	return width
}
