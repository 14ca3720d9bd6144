package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/Floozutter/stowjar/internal/chain"
	"github.com/Floozutter/stowjar/internal/keystate"
	"github.com/Floozutter/stowjar/internal/model"
)

const (
	maxStateLabel = 32
	minSparkWidth = 8
)

// RenderSummary prints the shape of a chain.
func RenderSummary(w io.Writer, c *chain.Chain) error {
	if _, err := fmt.Fprintln(w, "Summary"); err != nil {
		return err
	}
	var dwellSum float64
	var moving int
	maxDegree := 0
	for _, s := range c.States() {
		if len(c.Transitions(s)) > 0 {
			dwellSum += MeanDwell(c, s)
			moving++
		}
		if d := OutDegree(c, s); d > maxDegree {
			maxDegree = d
		}
	}
	avgDwell := 0.0
	if moving > 0 {
		avgDwell = dwellSum / float64(moving)
	}
	lines := []string{
		fmt.Sprintf("States: %d", c.Len()),
		fmt.Sprintf("Transitions: %d", c.TransitionCount()),
		fmt.Sprintf("Sinks: %d", len(c.Sinks())),
		fmt.Sprintf("Reachable from empty: %d", len(c.Reachable(keystate.Empty()))),
		fmt.Sprintf("Max out-degree: %d", maxDegree),
		fmt.Sprintf("Avg mean dwell: %.2f", avgDwell),
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, "")
	return err
}

// RenderStateTable prints the top most-connected states.
func RenderStateTable(w io.Writer, c *chain.Chain, top int) error {
	states := TopStatesByDegree(c, top)
	if len(states) == 0 {
		_, err := fmt.Fprintln(w, "No states found.")
		return err
	}
	if _, err := fmt.Fprintln(w, "States by Out-Degree"); err != nil {
		return err
	}
	headers := []string{"State", "Out", "Mean Dwell", "Next", "P(Next)"}
	rows := make([][]string, 0, len(states))
	for _, s := range states {
		next, p, ok := MostLikelyNext(c, s)
		nextLabel, pLabel := "-", "-"
		if ok {
			nextLabel = truncateCell(next.String(), maxStateLabel)
			pLabel = fmt.Sprintf("%.2f%%", p*100)
		}
		rows = append(rows, []string{
			truncateCell(s.String(), maxStateLabel),
			strconv.Itoa(OutDegree(c, s)),
			fmt.Sprintf("%.2f", MeanDwell(c, s)),
			nextLabel,
			pLabel,
		})
	}
	rightAlign := map[int]bool{1: true, 2: true, 4: true}
	for _, line := range formatTable(headers, rows, rightAlign) {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, "")
	return err
}

// RenderDwell prints a dwell-time sparkline per state sized to totalWidth.
// A non-positive totalWidth uses the terminal width.
func RenderDwell(w io.Writer, c *chain.Chain, states []keystate.State, totalWidth int) error {
	if len(states) == 0 {
		return nil
	}
	if totalWidth <= 0 {
		totalWidth = TerminalWidth()
	}
	labelWidth := 0
	labels := make([]string, len(states))
	for i, s := range states {
		labels[i] = truncateCell(s.String(), maxStateLabel)
		if lw := runewidth.StringWidth(labels[i]); lw > labelWidth {
			labelWidth = lw
		}
	}
	sparkWidth := totalWidth - labelWidth - 3
	if sparkWidth < minSparkWidth {
		sparkWidth = minSparkWidth
	}
	if _, err := fmt.Fprintln(w, "Dwell Time"); err != nil {
		return err
	}
	for i, s := range states {
		hist := DwellHistogram(c, s, sparkWidth)
		line := runewidth.FillRight(labels[i], labelWidth) + " | " + Sparkline(hist)
		if len(hist) == 0 {
			line = runewidth.FillRight(labels[i], labelWidth) + " | (absorbing)"
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, "")
	return err
}

// RenderRuns prints recorded build runs.
func RenderRuns(w io.Writer, runs []model.RunSummary) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No runs found.")
		return err
	}
	headers := []string{"Run", "Finished", "Streams", "Events", "States", "Sink", "Chain"}
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.ID,
			r.FinishedAt.Local().Format(time.DateTime),
			strconv.Itoa(r.Streams),
			strconv.Itoa(r.Events),
			strconv.Itoa(r.States),
			fmt.Sprintf("%dx@%d", r.SinkWeight, r.SinkDuration),
			r.ChainPath,
		})
	}
	rightAlign := map[int]bool{2: true, 3: true, 4: true}
	for _, line := range formatTable(headers, rows, rightAlign) {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// RenderStreams prints the keylog files that fed a run.
func RenderStreams(w io.Writer, streams []model.StreamSummary) error {
	if len(streams) == 0 {
		_, err := fmt.Fprintln(w, "No streams recorded.")
		return err
	}
	headers := []string{"Path", "Events", "Transitions", "Skipped", "Digest"}
	rows := make([][]string, 0, len(streams))
	for _, s := range streams {
		digest := s.Digest
		if len(digest) > 16 {
			digest = digest[:16]
		}
		rows = append(rows, []string{
			s.Path,
			strconv.Itoa(s.Events),
			strconv.Itoa(s.Transitions),
			strconv.Itoa(s.Skipped),
			digest,
		})
	}
	rightAlign := map[int]bool{1: true, 2: true, 3: true}
	for _, line := range formatTable(headers, rows, rightAlign) {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
