// Package inspect provides the Bubble Tea chain browser.
package inspect

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Floozutter/stowjar/internal/chain"
	"github.com/Floozutter/stowjar/internal/keystate"
	"github.com/Floozutter/stowjar/internal/report"
)

const (
	tabSummary = iota
	tabStates
	tabTransitions
)

const (
	dwellStates   = 10
	minStateWidth = 8
	maxStateWidth = 32
)

var (
	activeNavStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F0F0F0")).
			Bold(true).
			Padding(0, 1).
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#C89A3A"))
	inactiveNavStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#B0B0B0")).
				Padding(0, 1).
				Border(lipgloss.RoundedBorder(), true).
				BorderForeground(lipgloss.Color("#4A4A4A"))
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	cardStyle   = lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#4A4A4A"))
	cardTitleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	cardValueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0")).Bold(true)
	tableMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#B8B8B8"))
)

// Model implements the Bubble Tea chain browser.
type Model struct {
	path  string
	chain *chain.Chain

	tabs      []string
	activeTab int
	summary   viewport.Model

	statesTable table.Model
	transTable  table.Model
	visible     []keystate.State

	selected    keystate.State
	hasSelected bool
	transitions []chain.Transition

	filterMode  bool
	filterInput textinput.Model
	filter      string
	errMsg      string

	width  int
	height int
}

// NewModel constructs a browser for the chain loaded from path.
func NewModel(path string, c *chain.Chain) *Model {
	m := &Model{
		path:  path,
		chain: c,
		tabs:  []string{"Summary", "States", "Transitions"},
	}
	m.summary = viewport.New(0, 0)
	m.filterInput = textinput.New()
	m.filterInput.Prompt = "Filter keys: "
	m.filterInput.Placeholder = "shift a"
	m.filterInput.CharLimit = 0
	m.filterInput.Cursor.SetMode(cursor.CursorBlink)
	m.statesTable = newTable(stateColumns(minStateWidth))
	m.transTable = newTable(transitionColumns(minStateWidth))
	m.applyFilter("")
	if c.Has(keystate.Empty()) {
		m.selectState(keystate.Empty())
	}
	m.renderSummary()
	return m
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateLayout()
		m.renderSummary()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		if m.filterMode {
			return m.updateFilter(msg)
		}
		switch msg.String() {
		case "q":
			return m, tea.Quit
		case "left", "h":
			m.moveTab(-1)
			return m, tea.ClearScreen
		case "right", "l", "tab":
			m.moveTab(1)
			return m, tea.ClearScreen
		case "/":
			return m.startFilter()
		case "enter":
			m.errMsg = ""
			switch m.activeTab {
			case tabStates:
				if s, ok := m.cursorState(); ok {
					m.selectState(s)
					m.setTab(tabTransitions)
				}
			case tabTransitions:
				m.followTransition()
			}
			return m, nil
		case "esc", "backspace":
			if m.activeTab == tabTransitions {
				m.setTab(tabStates)
			}
			return m, nil
		case "g", "home":
			m.gotoEdge(true)
			return m, nil
		case "G", "end":
			m.gotoEdge(false)
			return m, nil
		default:
			var cmd tea.Cmd
			switch m.activeTab {
			case tabStates:
				m.statesTable, cmd = m.statesTable.Update(msg)
			case tabTransitions:
				m.transTable, cmd = m.transTable.Update(msg)
			default:
				m.summary, cmd = m.summary.Update(msg)
			}
			return m, cmd
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}
	headerHeight, bodyHeight, footerHeight := m.layoutHeights()
	header := fitLines(m.renderHeader(), m.width, headerHeight)
	body := fitLines(m.renderBody(bodyHeight), m.width, bodyHeight)
	footer := fitLines(m.renderFooter(), m.width, footerHeight)
	return strings.Join([]string{header, body, footer}, "\n")
}

// Selected returns the state whose transitions are shown.
func (m *Model) Selected() (keystate.State, bool) {
	return m.selected, m.hasSelected
}

// Visible returns the states listed after filtering.
func (m *Model) Visible() []keystate.State {
	return append([]keystate.State(nil), m.visible...)
}

// ActiveTab returns the index of the shown tab.
func (m *Model) ActiveTab() int {
	return m.activeTab
}

func (m *Model) layoutHeights() (headerHeight, bodyHeight, footerHeight int) {
	tabsHeight := lipgloss.Height(activeNavStyle.Render("X"))
	if tabsHeight < 1 {
		tabsHeight = 1
	}
	headerHeight = tabsHeight + 1
	footerHeight = 1
	if m.filterMode || m.errMsg != "" {
		footerHeight++
	}
	bodyHeight = m.height - headerHeight - footerHeight
	if bodyHeight < 1 {
		bodyHeight = 1
	}
	return headerHeight, bodyHeight, footerHeight
}

func (m *Model) updateLayout() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	_, bodyHeight, _ := m.layoutHeights()
	m.summary.Width = m.width
	m.summary.Height = bodyHeight
	m.statesTable.SetWidth(m.width)
	fitTableHeight(&m.statesTable, bodyHeight)
	m.transTable.SetWidth(m.width)
	// One body line is used by the transitions title.
	fitTableHeight(&m.transTable, bodyHeight-1)
	promptWidth := lipgloss.Width(m.filterInput.Prompt)
	m.filterInput.Width = maxInt(10, m.width-promptWidth-2)
}

func (m *Model) moveTab(delta int) {
	count := len(m.tabs)
	if count == 0 {
		return
	}
	next := m.activeTab + delta
	if next < 0 {
		next = count - 1
	}
	if next >= count {
		next = 0
	}
	m.setTab(next)
}

func (m *Model) setTab(tab int) {
	m.activeTab = tab
	m.statesTable.Blur()
	m.transTable.Blur()
	switch tab {
	case tabStates:
		m.statesTable.Focus()
	case tabTransitions:
		m.transTable.Focus()
	}
}

func (m *Model) gotoEdge(top bool) {
	switch m.activeTab {
	case tabStates:
		if top {
			m.statesTable.GotoTop()
		} else {
			m.statesTable.GotoBottom()
		}
	case tabTransitions:
		if top {
			m.transTable.GotoTop()
		} else {
			m.transTable.GotoBottom()
		}
	default:
		if top {
			m.summary.GotoTop()
		} else {
			m.summary.GotoBottom()
		}
	}
}

func (m *Model) cursorState() (keystate.State, bool) {
	idx := m.statesTable.Cursor()
	if idx < 0 || idx >= len(m.visible) {
		return keystate.State{}, false
	}
	return m.visible[idx], true
}

func (m *Model) selectState(s keystate.State) {
	m.selected = s
	m.hasSelected = true
	m.transitions = m.chain.Transitions(s)
	width := stateColumnWidth(destinations(m.transitions))
	m.transTable.SetRows(nil)
	m.transTable.SetColumns(transitionColumns(width))
	m.transTable.SetRows(transitionRows(m.transitions))
	m.transTable.GotoTop()
}

// followTransition walks to the destination under the cursor.
func (m *Model) followTransition() {
	idx := m.transTable.Cursor()
	if idx < 0 || idx >= len(m.transitions) {
		return
	}
	to := m.transitions[idx].To
	if !m.chain.Has(to) {
		m.errMsg = fmt.Sprintf("state %s is not in the chain", to)
		return
	}
	m.selectState(to)
}

func (m *Model) startFilter() (tea.Model, tea.Cmd) {
	m.filterMode = true
	m.filterInput.SetValue(m.filter)
	m.setTab(tabStates)
	m.updateLayout()
	return m, m.filterInput.Focus()
}

func (m *Model) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.filterMode = false
		m.filterInput.Blur()
		m.filterInput.SetValue(m.filter)
		m.applyFilter(m.filter)
		m.updateLayout()
		return m, nil
	case tea.KeyEnter:
		m.filterMode = false
		m.filterInput.Blur()
		m.filter = strings.TrimSpace(m.filterInput.Value())
		m.applyFilter(m.filter)
		m.updateLayout()
		return m, nil
	}
	var cmd tea.Cmd
	m.filterInput, cmd = m.filterInput.Update(msg)
	m.applyFilter(strings.TrimSpace(m.filterInput.Value()))
	return m, cmd
}

func (m *Model) applyFilter(filter string) {
	terms := filterTerms(filter)
	m.visible = m.visible[:0]
	for _, s := range m.chain.States() {
		if matchesFilter(s, terms) {
			m.visible = append(m.visible, s)
		}
	}
	m.statesTable.SetRows(nil)
	m.statesTable.SetColumns(stateColumns(stateColumnWidth(m.visible)))
	m.statesTable.SetRows(stateRows(m.chain, m.visible))
	m.statesTable.GotoTop()
}

func filterTerms(filter string) []string {
	fields := strings.FieldsFunc(strings.ToLower(filter), func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	return fields
}

// matchesFilter reports whether every term is a substring of some held key.
func matchesFilter(s keystate.State, terms []string) bool {
	if len(terms) == 0 {
		return true
	}
	keys := s.Keys()
	for _, term := range terms {
		found := false
		for _, k := range keys {
			if strings.Contains(strings.ToLower(k), term) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (m *Model) renderSummary() {
	width := m.width
	if width <= 0 {
		width = 80
	}
	m.summary.SetContent(renderOverview(m.path, m.chain, width))
}

func renderOverview(path string, c *chain.Chain, width int) string {
	if c.Len() == 0 {
		return "Chain has no states."
	}
	var dwellSum float64
	var moving int
	maxDegree := 0
	for _, s := range c.States() {
		if len(c.Transitions(s)) > 0 {
			dwellSum += report.MeanDwell(c, s)
			moving++
		}
		maxDegree = maxInt(maxDegree, report.OutDegree(c, s))
	}
	avgDwell := 0.0
	if moving > 0 {
		avgDwell = dwellSum / float64(moving)
	}
	cards := []string{
		metricCard("States", strconv.Itoa(c.Len())),
		metricCard("Transitions", strconv.Itoa(c.TransitionCount())),
		metricCard("Reachable", strconv.Itoa(len(c.Reachable(keystate.Empty())))),
		metricCard("Max Out", strconv.Itoa(maxDegree)),
		metricCard("Avg Dwell", fmt.Sprintf("%.1f", avgDwell)),
	}
	var summary string
	if width < 80 {
		summary = strings.Join(cards, "\n")
	} else {
		row1 := lipgloss.JoinHorizontal(lipgloss.Top, cards[0], cards[1], cards[2])
		row2 := lipgloss.JoinHorizontal(lipgloss.Top, cards[3], cards[4])
		summary = lipgloss.JoinVertical(lipgloss.Left, row1, row2)
	}
	var buf bytes.Buffer
	top := report.TopStatesByDegree(c, dwellStates)
	if err := report.RenderDwell(&buf, c, top, width); err != nil {
		return fmt.Sprintf("Failed to render dwell times: %v", err)
	}
	title := headerStyle.Render(truncateLine("File: "+path, width))
	return strings.TrimRight(title+"\n"+summary+"\n\n"+buf.String(), "\n")
}

func metricCard(label, value string) string {
	content := fmt.Sprintf("%s\n%s", cardTitleStyle.Render(label), cardValueStyle.Render(value))
	return cardStyle.Render(content)
}

func (m *Model) renderTabs() string {
	parts := make([]string, 0, len(m.tabs))
	for i, tab := range m.tabs {
		if i == m.activeTab {
			parts = append(parts, activeNavStyle.Render(tab))
		} else {
			parts = append(parts, inactiveNavStyle.Render(tab))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (m *Model) renderHeader() string {
	tabs := padLines(m.renderTabs(), m.width)
	filter := m.filter
	if filter == "" {
		filter = "none"
	}
	selected := "none"
	if m.hasSelected {
		selected = m.selected.String()
	}
	status := fmt.Sprintf("States: %d/%d  filter=%s  selected=%s", len(m.visible), m.chain.Len(), filter, selected)
	return tabs + "\n" + headerStyle.Render(truncateLine(status, m.width))
}

func (m *Model) renderHelp() string {
	help := "Nav: left/right  Scroll: up/down/pgup/pgdn  Filter: /  Quit: q"
	switch m.activeTab {
	case tabStates:
		help = "Nav: left/right  Move: up/down  Open: enter  Filter: /  Quit: q"
	case tabTransitions:
		help = "Nav: left/right  Move: up/down  Follow: enter  Back: esc  Quit: q"
	}
	return headerStyle.Render(help)
}

func (m *Model) renderFooter() string {
	if m.filterMode {
		return m.filterInput.View() + "\n" + headerStyle.Render("enter: apply  esc: cancel")
	}
	if m.errMsg != "" {
		return m.renderHelp() + "\n" + errorStyle.Render(m.errMsg)
	}
	return m.renderHelp()
}

func (m *Model) renderBody(height int) string {
	switch m.activeTab {
	case tabStates:
		if len(m.visible) == 0 {
			return fitLines("No states match the filter.", m.width, height)
		}
		return fitLines(tableMutedStyle.Render(m.statesTable.View()), m.width, height)
	case tabTransitions:
		if !m.hasSelected {
			return fitLines("No state selected. Pick one on the States tab.", m.width, height)
		}
		title := cardValueStyle.Render(truncateLine("From "+m.selected.String(), m.width))
		if len(m.transitions) == 0 {
			return fitLines(title+"\nAbsorbing state: no outgoing transitions.", m.width, height)
		}
		return fitLines(title+"\n"+tableMutedStyle.Render(m.transTable.View()), m.width, height)
	}
	return fitLines(m.summary.View(), m.width, height)
}

func newTable(columns []table.Column) table.Model {
	t := table.New(
		table.WithColumns(columns),
		table.WithHeight(1),
	)
	t.SetStyles(tableStyles())
	return t
}

func stateColumns(stateWidth int) []table.Column {
	return []table.Column{
		{Title: "State", Width: stateWidth},
		{Title: "Out", Width: 5},
		{Title: "Mean Dwell", Width: 11},
		{Title: "Next", Width: stateWidth},
		{Title: "P(Next)", Width: 8},
	}
}

func transitionColumns(stateWidth int) []table.Column {
	return []table.Column{
		{Title: "To", Width: stateWidth},
		{Title: "Duration", Width: 10},
		{Title: "Probability", Width: 12},
		{Title: "Cumulative", Width: 11},
	}
}

func stateRows(c *chain.Chain, states []keystate.State) []table.Row {
	rows := make([]table.Row, 0, len(states))
	for _, s := range states {
		nextLabel, pLabel := "-", "-"
		if next, p, ok := report.MostLikelyNext(c, s); ok {
			nextLabel = next.String()
			pLabel = fmt.Sprintf("%.2f%%", p*100)
		}
		rows = append(rows, table.Row{
			s.String(),
			strconv.Itoa(report.OutDegree(c, s)),
			fmt.Sprintf("%.2f", report.MeanDwell(c, s)),
			nextLabel,
			pLabel,
		})
	}
	return rows
}

func transitionRows(ts []chain.Transition) []table.Row {
	rows := make([]table.Row, 0, len(ts))
	var cumulative float64
	for _, t := range ts {
		cumulative += t.Probability
		rows = append(rows, table.Row{
			t.To.String(),
			strconv.FormatInt(t.Duration, 10),
			fmt.Sprintf("%.4f", t.Probability),
			fmt.Sprintf("%.4f", cumulative),
		})
	}
	return rows
}

func destinations(ts []chain.Transition) []keystate.State {
	out := make([]keystate.State, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.To)
	}
	return out
}

func stateColumnWidth(states []keystate.State) int {
	width := minStateWidth
	for _, s := range states {
		width = maxInt(width, lipgloss.Width(s.String()))
	}
	return minInt(width, maxStateWidth)
}

func tableStyles() table.Styles {
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		Border(lipgloss.NormalBorder(), false, false, true, false).
		BorderForeground(lipgloss.Color("#4A4A4A")).
		Foreground(lipgloss.Color("#C0C0C0")).
		Bold(true).
		Padding(0, 1).
		PaddingLeft(0)
	styles.Cell = styles.Cell.
		Padding(0, 1).
		PaddingLeft(0)
	styles.Selected = styles.Cell.
		Foreground(lipgloss.Color("#F0F0F0")).
		Bold(true)
	return styles
}

// fitTableHeight sizes t so its rendered view fills bodyHeight lines.
func fitTableHeight(t *table.Model, bodyHeight int) {
	target := maxInt(1, bodyHeight)
	t.SetHeight(target)
	viewHeight := lipgloss.Height(t.View())
	if viewHeight == target {
		return
	}
	t.SetHeight(maxInt(1, t.Height()+target-viewHeight))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func padLines(s string, width int) string {
	if width <= 0 || s == "" {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = padLine(line, width)
	}
	return strings.Join(lines, "\n")
}

func padLine(line string, width int) string {
	lineWidth := lipgloss.Width(line)
	if lineWidth < width {
		return line + strings.Repeat(" ", width-lineWidth)
	}
	return line
}

func fitLines(s string, width, height int) string {
	if width <= 0 || height <= 0 {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = padLine(line, width)
	}
	if len(lines) > height {
		lines = lines[:height]
	}
	for len(lines) < height {
		lines = append(lines, strings.Repeat(" ", width))
	}
	return strings.Join(lines, "\n")
}

func truncateLine(s string, width int) string {
	if width <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	if width <= 3 {
		return string(runes[:width])
	}
	return string(runes[:width-3]) + "..."
}
