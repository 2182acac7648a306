// Package tui provides a Bubble Tea TUI for browsing session summaries.
package tui

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fakeyudi/proctor/internal/incident"
	"github.com/fakeyudi/proctor/internal/journal"
	"github.com/fakeyudi/proctor/internal/summary"
)

// ── Styles ────────────

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 2)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("245")).
				Background(lipgloss.Color("235")).
				Padding(0, 1)

	tabSepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("238")).
			Background(lipgloss.Color("235"))

	sectionHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("33")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	timeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("178"))

	// Badges by severity of the incident type.
	kindLifecycleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	kindBehaviourStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	kindSevereStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)

	failedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	sentStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("245")).
			Padding(0, 1)

	selectedRowStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("15")).
				Background(lipgloss.Color("237"))
)

// ── Tab definitions ─────────────────

type tabID int

const (
	tabSummary tabID = iota
	tabIncidents
	tabFailures
	tabTimeline
	tabCount
)

var tabNames = [tabCount]string{"Summary", "Incidents", "Failures", "Timeline"}

// ── Model ────────────────────

// Model is the root Bubble Tea model for the TUI.
type Model struct {
	summary   *summary.Summary
	filename  string
	incidents []journal.Entry
	activeTab tabID
	viewports [tabCount]viewport.Model
	width     int
	height    int
	ready     bool
	sortAsc   bool
	// Incidents tab: cursor position and expanded set
	cursor   int
	expanded map[int]bool
}

// New creates a TUI model for s read from filename.
func New(s *summary.Summary, filename string) Model {
	return Model{
		summary:   s,
		filename:  filepath.Base(filename),
		incidents: s.Incidents(),
		expanded:  make(map[int]bool),
	}
}

// ── Bubble Tea interface ───────────────

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab", "l", "right":
			m.activeTab = (m.activeTab + 1) % tabCount
		case "shift+tab", "h", "left":
			m.activeTab = (m.activeTab - 1 + tabCount) % tabCount
		case "1", "2", "3", "4":
			m.activeTab = tabID(msg.String()[0] - '1')
		case "s":
			if m.activeTab == tabTimeline {
				m.sortAsc = !m.sortAsc
				m.rebuild(tabTimeline)
				m.viewports[tabTimeline].GotoTop()
			}
		case "up", "k":
			if m.activeTab == tabIncidents && m.cursor > 0 {
				m.cursor--
				m.rebuild(tabIncidents)
				return m, nil
			}
		case "down", "j":
			if m.activeTab == tabIncidents && m.cursor < len(m.incidents)-1 {
				m.cursor++
				m.rebuild(tabIncidents)
				return m, nil
			}
		case "enter", " ":
			if m.activeTab == tabIncidents && len(m.incidents) > 0 {
				if m.expanded[m.cursor] {
					delete(m.expanded, m.cursor)
				} else {
					m.expanded[m.cursor] = true
				}
				m.rebuild(tabIncidents)
				return m, nil
			}
		}
		var cmd tea.Cmd
		m.viewports[m.activeTab], cmd = m.viewports[m.activeTab].Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.initViewports()
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	if !m.ready {
		return "Loading…"
	}

	title := titleStyle.Width(m.width).Render("  proctor  " + m.filename)

	var tabParts []string
	for i := tabID(0); i < tabCount; i++ {
		label := fmt.Sprintf(" %d %s ", i+1, tabNames[i])
		if i == m.activeTab {
			tabParts = append(tabParts, activeTabStyle.Render(label))
		} else {
			tabParts = append(tabParts, inactiveTabStyle.Render(label))
		}
		if i < tabCount-1 {
			tabParts = append(tabParts, tabSepStyle.Render("│"))
		}
	}
	tabRow := lipgloss.NewStyle().
		Background(lipgloss.Color("235")).
		Width(m.width).
		Render(lipgloss.JoinHorizontal(lipgloss.Top, tabParts...))

	content := m.viewports[m.activeTab].View()

	hint := "  ←/→ tab  ↑/↓ scroll  1-4 jump  q quit"
	switch m.activeTab {
	case tabTimeline:
		dir := "newest first"
		if m.sortAsc {
			dir = "oldest first"
		}
		hint += "  s sort (" + dir + ")"
	case tabIncidents:
		hint += "  enter expand/collapse"
	}
	pct := fmt.Sprintf("%3.0f%%", m.viewports[m.activeTab].ScrollPercent()*100)
	pad := m.width - lipgloss.Width(hint) - len(pct) - 2
	if pad < 1 {
		pad = 1
	}
	statusBar := statusBarStyle.Width(m.width).Render(hint + strings.Repeat(" ", pad) + pct)

	return lipgloss.JoinVertical(lipgloss.Left, title, tabRow, content, statusBar)
}

// ── Viewport management ───────────────────────────────────────────────────────

func (m *Model) initViewports() {
	// title(1) + tabRow(1) + statusBar(1) = 3 fixed rows
	vpHeight := m.height - 3
	if vpHeight < 1 {
		vpHeight = 1
	}
	for i := tabID(0); i < tabCount; i++ {
		vp := viewport.New(m.width, vpHeight)
		vp.SetContent(m.renderTab(i))
		m.viewports[i] = vp
	}
}

func (m *Model) rebuild(t tabID) {
	m.viewports[t].SetContent(m.renderTab(t))
}

// ── Tab renderers ─────────────────────────────────────────────────────────────

func (m *Model) renderTab(t tabID) string {
	switch t {
	case tabSummary:
		return m.renderSummary()
	case tabIncidents:
		return m.renderIncidents()
	case tabFailures:
		return m.renderFailures()
	case tabTimeline:
		return m.renderTimeline()
	}
	return ""
}

func heading(s string) string {
	return "\n" + sectionHeader.Render("  "+s) + "\n\n"
}

func badge(t incident.Type) string {
	label := fmt.Sprintf("  %-22s", string(t))
	switch {
	case t.Lifecycle():
		return kindLifecycleStyle.Render(label)
	case t.HighSeverity():
		return kindSevereStyle.Render(label)
	}
	return kindBehaviourStyle.Render(label)
}

func outcome(e journal.Entry) string {
	if e.Outcome == journal.Failed {
		return failedStyle.Render("✗")
	}
	return sentStyle.Render("✓")
}

func (m *Model) renderSummary() string {
	s := m.summary.Session
	var sb strings.Builder
	sb.WriteString(heading("Session"))

	row := func(label, value string) {
		sb.WriteString(labelStyle.Render(fmt.Sprintf("  %-14s", label)) + "  " + value + "\n")
	}
	row("Student:", s.StudentID)
	row("Exam:", s.ExamID)
	row("Started:", s.StartTime.Format("2006-01-02 15:04:05 MST"))
	row("Stopped:", s.StopTime.Format("2006-01-02 15:04:05 MST"))
	row("Duration:", s.Duration)
	if s.CollectorURL != "" {
		row("Collector:", s.CollectorURL)
	}

	sb.WriteString(heading("Counts"))
	if len(m.summary.Counts) == 0 {
		sb.WriteString(dimStyle.Render("  (none)") + "\n")
		return sb.String()
	}
	for _, t := range incident.Types() {
		tally, ok := m.summary.Counts[t]
		if !ok {
			continue
		}
		line := fmt.Sprintf("%d sent", tally.Sent)
		if tally.Failed > 0 {
			line += "  " + failedStyle.Render(fmt.Sprintf("%d failed", tally.Failed))
		}
		sb.WriteString(badge(t) + "  " + line + "\n")
	}
	return sb.String()
}

func (m *Model) renderIncidents() string {
	var sb strings.Builder
	sb.WriteString(heading(fmt.Sprintf("Incidents (%d)", len(m.incidents))))
	if len(m.incidents) == 0 {
		sb.WriteString(dimStyle.Render("  (none)") + "\n")
		return sb.String()
	}
	for i, e := range m.incidents {
		toggle := dimStyle.Render("  ▶ ")
		if m.expanded[i] {
			toggle = dimStyle.Render("  ▼ ")
		}
		row := toggle + outcome(e) + " " + timeStyle.Render(e.OccurredAt.Format("15:04:05")) + badge(e.Type)
		if i == m.cursor {
			row = selectedRowStyle.Width(m.width - 2).Render(row)
		}
		sb.WriteString(row + "\n")
		if m.expanded[i] {
			sb.WriteString(indent(e.Details, "      ") + "\n")
			if e.URL != "" {
				sb.WriteString(dimStyle.Render("      "+e.URL) + "\n")
			}
			if e.Screenshot {
				sb.WriteString(dimStyle.Render("      (screenshot attached)") + "\n")
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m *Model) renderFailures() string {
	failures := m.summary.Failures()
	var sb strings.Builder
	sb.WriteString(heading(fmt.Sprintf("Failed Reports (%d)", len(failures))))
	if len(failures) == 0 {
		sb.WriteString(dimStyle.Render("  (every report reached the collector)") + "\n")
		return sb.String()
	}
	for _, e := range failures {
		ts := timeStyle.Render(e.OccurredAt.Format("15:04:05"))
		sb.WriteString("  " + ts + badge(e.Type) + "  " + failedStyle.Render(e.Error) + "\n\n")
	}
	return sb.String()
}

func (m *Model) renderTimeline() string {
	var sb strings.Builder
	dir := "newest first"
	if m.sortAsc {
		dir = "oldest first"
	}
	sb.WriteString(heading(fmt.Sprintf("Timeline (%s)", dir)))

	events := make([]journal.Entry, len(m.summary.Entries))
	copy(events, m.summary.Entries)
	if m.sortAsc {
		sort.SliceStable(events, func(i, j int) bool { return events[i].OccurredAt.Before(events[j].OccurredAt) })
	} else {
		sort.SliceStable(events, func(i, j int) bool { return events[i].OccurredAt.After(events[j].OccurredAt) })
	}

	if len(events) == 0 {
		sb.WriteString(dimStyle.Render("  (nothing happened in this session)") + "\n")
		return sb.String()
	}
	for _, e := range events {
		ts := timeStyle.Render(e.OccurredAt.Format("15:04:05"))
		sb.WriteString("  " + outcome(e) + " " + ts + badge(e.Type) + "  " + firstLine(e.Details) + "\n\n")
	}
	return sb.String()
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " …"
	}
	return s
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = prefix + l
		}
	}
	return strings.Join(lines, "\n")
}

// Run starts the TUI for s.
func Run(s *summary.Summary, filename string) error {
	p := tea.NewProgram(New(s, filename), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
