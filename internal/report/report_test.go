package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/Floozutter/stowjar/internal/chain"
	"github.com/Floozutter/stowjar/internal/keylog"
	"github.com/Floozutter/stowjar/internal/keystate"
	"github.com/Floozutter/stowjar/internal/model"
)

func sampleChain() *chain.Chain {
	c := chain.NewCounter()
	c.Process([]keylog.Event{
		{Timestamp: 10, Key: "A", Push: true},
		{Timestamp: 15, Key: "B", Push: true},
		{Timestamp: 20, Key: "A", Push: false},
		{Timestamp: 28, Key: "B", Push: false},
	})
	c.Process([]keylog.Event{
		{Timestamp: 3, Key: "A", Push: true},
		{Timestamp: 8, Key: "A", Push: false},
	})
	ch, err := chain.Finalize(c, chain.DefaultSinkPolicy)
	if err != nil {
		panic(err)
	}
	return ch
}

func TestSparkline(t *testing.T) {
	if got := Sparkline([]float64{0, 0, 0, 1}); got != "   @" {
		t.Fatalf("unexpected sparkline: %q", got)
	}
	if got := Sparkline([]float64{2, 2}); got != "++" {
		t.Fatalf("unexpected flat sparkline: %q", got)
	}
	if got := Sparkline(nil); got != "" {
		t.Fatalf("expected empty sparkline, got %q", got)
	}
}

func TestMeanDwell(t *testing.T) {
	c := sampleChain()
	if got := MeanDwell(c, keystate.Of("A")); got != 5 {
		t.Fatalf("expected mean dwell 5, got %v", got)
	}
	if got := MeanDwell(c, keystate.Of("B")); got != 8 {
		t.Fatalf("expected mean dwell 8, got %v", got)
	}
	if got := MeanDwell(c, keystate.Of("Z")); got != 0 {
		t.Fatalf("expected zero for unknown state, got %v", got)
	}
}

func TestDwellHistogram(t *testing.T) {
	c := sampleChain()
	hist := DwellHistogram(c, keystate.Of("A"), 4)
	want := []float64{0, 0, 0, 1}
	if len(hist) != len(want) {
		t.Fatalf("expected %d buckets, got %d", len(want), len(hist))
	}
	for i := range want {
		if hist[i] != want[i] {
			t.Fatalf("bucket %d: expected %v, got %v", i, want[i], hist[i])
		}
	}
	hist = DwellHistogram(c, keystate.Empty(), 4)
	if hist[0] != 1 {
		t.Fatalf("expected all mass in first bucket, got %v", hist)
	}
	if got := DwellHistogram(c, keystate.Of("Z"), 4); got != nil {
		t.Fatalf("expected nil histogram, got %v", got)
	}
}

func TestTopStatesByDegree(t *testing.T) {
	c := sampleChain()
	top := TopStatesByDegree(c, 2)
	if len(top) != 2 {
		t.Fatalf("expected 2 states, got %d", len(top))
	}
	if top[0] != keystate.Of("A") || top[1] != keystate.Empty() {
		t.Fatalf("unexpected order: %v", top)
	}
	if got := TopStatesByDegree(c, 0); got != nil {
		t.Fatalf("expected nil for n=0, got %v", got)
	}
}

func TestMostLikelyNext(t *testing.T) {
	c := sampleChain()
	next, p, ok := MostLikelyNext(c, keystate.Of("A"))
	if !ok || next != keystate.Empty() || p != 0.5 {
		t.Fatalf("unexpected next: %v %v %v", next, p, ok)
	}
	if _, _, ok := MostLikelyNext(c, keystate.Of("Z")); ok {
		t.Fatalf("expected no next state for unknown state")
	}
}

func TestRenderSummary(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderSummary(&buf, sampleChain()); err != nil {
		t.Fatalf("RenderSummary failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"States: 4", "Transitions: 5", "Sinks: 0", "Reachable from empty: 4", "Max out-degree: 2"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestRenderStateTable(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderStateTable(&buf, sampleChain(), 10); err != nil {
		t.Fatalf("RenderStateTable failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 6 {
		t.Fatalf("expected title, header and 4 rows, got %d lines:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[2], "{A} ") {
		t.Fatalf("expected {A} first, got %q", lines[2])
	}
	if !strings.Contains(lines[2], "50.00%") {
		t.Fatalf("expected next probability in %q", lines[2])
	}
}

func TestRenderDwell(t *testing.T) {
	var buf bytes.Buffer
	c := sampleChain()
	states := []keystate.State{keystate.Of("A"), keystate.Of("A", "B")}
	if err := RenderDwell(&buf, c, states, 20); err != nil {
		t.Fatalf("RenderDwell failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if !strings.HasPrefix(lines[1], "{A}   | ") {
		t.Fatalf("unexpected label padding: %q", lines[1])
	}
	if !strings.HasSuffix(lines[1], "@") {
		t.Fatalf("expected mass at the longest duration: %q", lines[1])
	}
}

func TestRenderRuns(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderRuns(&buf, nil); err != nil {
		t.Fatalf("RenderRuns failed: %v", err)
	}
	if !strings.Contains(buf.String(), "No runs found.") {
		t.Fatalf("expected empty message, got %q", buf.String())
	}
	buf.Reset()
	runs := []model.RunSummary{{
		ID:         "0190b1c2-aaaa",
		FinishedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Streams:    2,
		Events:     40,
		States:     9,
		SinkWeight: 1,
		ChainPath:  "chain.json",
	}}
	if err := RenderRuns(&buf, runs); err != nil {
		t.Fatalf("RenderRuns failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "0190b1c2-aaaa") || !strings.Contains(out, "1x@0") || !strings.Contains(out, "chain.json") {
		t.Fatalf("unexpected runs output:\n%s", out)
	}
}

func TestRenderStreams(t *testing.T) {
	var buf bytes.Buffer
	streams := []model.StreamSummary{{Path: "a.log", Digest: strings.Repeat("ab", 32), Events: 3, Transitions: 2, Skipped: 1}}
	if err := RenderStreams(&buf, streams); err != nil {
		t.Fatalf("RenderStreams failed: %v", err)
	}
	if !strings.Contains(buf.String(), strings.Repeat("ab", 8)+"\n") {
		t.Fatalf("expected shortened digest:\n%s", buf.String())
	}
}
