// Package ui renders the watch dashboard for a running examcrawl server.
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/go-scripts/examcrawl/internal/history"
	"github.com/go-scripts/examcrawl/internal/types"
)

// Component is a resizable dashboard panel
type Component interface {
	Init() tea.Cmd
	Update(tea.Msg) (Component, tea.Cmd)
	View() string
	SetSize(width, height int)
}

var (
	borderStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63"))

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			PaddingLeft(1)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("110"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
)

// HistoryPanel lists the recent runs recorded by the server
type HistoryPanel struct {
	style  lipgloss.Style
	width  int
	height int
	list   *HistoryList
}

// NewHistoryPanel creates an empty history panel
func NewHistoryPanel() *HistoryPanel {
	return &HistoryPanel{
		style: borderStyle.BorderForeground(lipgloss.Color("99")),
		list:  NewHistoryList(),
	}
}

func (h *HistoryPanel) Init() tea.Cmd { return nil }

func (h *HistoryPanel) Update(msg tea.Msg) (Component, tea.Cmd) {
	return h, h.list.Update(msg)
}

func (h *HistoryPanel) View() string {
	return h.style.Width(h.width).Height(h.height).Render(h.list.View())
}

// SetSize resizes the list to fit inside the panel border
func (h *HistoryPanel) SetSize(width, height int) {
	h.width = width
	h.height = height
	h.list.SetSize(max(width-4, 0), max(height-4, 0))
}

// ResultsPanel shows the runs that finished while the dashboard was open
type ResultsPanel struct {
	style  lipgloss.Style
	title  string
	width  int
	height int
	table  *OutcomeTable
}

// NewResultsPanel creates an empty results panel
func NewResultsPanel() *ResultsPanel {
	return &ResultsPanel{
		title: "Finished Runs",
		style: borderStyle.BorderForeground(lipgloss.Color("35")),
		table: NewOutcomeTable(),
	}
}

func (r *ResultsPanel) Init() tea.Cmd { return nil }

func (r *ResultsPanel) Update(msg tea.Msg) (Component, tea.Cmd) {
	return r, r.table.Update(msg)
}

func (r *ResultsPanel) View() string {
	return r.style.Width(r.width).Height(r.height).Render(titleStyle.Render(r.title) + "\n" + r.table.View())
}

func (r *ResultsPanel) SetSize(width, height int) {
	r.width = width
	r.height = height
	r.table.SetSize(max(width-4, 0), max(height-5, 0))
}

// ConsolePanel shows the log console
type ConsolePanel struct {
	width   int
	height  int
	console *Console
}

// NewConsolePanel creates a panel around an empty console
func NewConsolePanel() *ConsolePanel {
	return &ConsolePanel{console: NewConsole()}
}

func (c *ConsolePanel) Init() tea.Cmd { return nil }

func (c *ConsolePanel) Update(msg tea.Msg) (Component, tea.Cmd) {
	return c, c.console.Update(msg)
}

func (c *ConsolePanel) View() string {
	return c.console.View()
}

func (c *ConsolePanel) SetSize(width, height int) {
	c.width = width
	c.height = height
	c.console.SetSize(width, height)
}

// Layout arranges status and history on top, finished runs and the log
// below.
type Layout struct {
	history *HistoryPanel
	results *ResultsPanel
	console *ConsolePanel
	status  *StatusPanel
	width   int
	height  int
}

func NewLayout() *Layout {
	return &Layout{
		history: NewHistoryPanel(),
		results: NewResultsPanel(),
		console: NewConsolePanel(),
		status:  NewStatusPanel(),
	}
}

func (l *Layout) SetSize(width, height int) {
	l.width = width
	l.height = height

	halfWidth := width / 2
	topHeight := height * 2 / 5
	resultsHeight := height / 5

	l.status.SetSize(halfWidth, topHeight)
	l.history.SetSize(width-halfWidth, topHeight)
	l.results.SetSize(width, resultsHeight)
	l.console.SetSize(width, height-topHeight-resultsHeight)
}

func (l *Layout) Init() tea.Cmd {
	return tea.Batch(
		l.history.Init(),
		l.results.Init(),
		l.console.Init(),
	)
}

func (l *Layout) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.WindowSizeMsg); ok {
		l.SetSize(msg.Width, msg.Height)
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	_, cmd = l.history.Update(msg)
	cmds = append(cmds, cmd)
	_, cmd = l.results.Update(msg)
	cmds = append(cmds, cmd)
	_, cmd = l.console.Update(msg)
	cmds = append(cmds, cmd)
	cmds = append(cmds, l.status.Update(msg))

	return l, tea.Batch(cmds...)
}

func (l *Layout) View() string {
	top := lipgloss.JoinHorizontal(
		lipgloss.Top,
		l.status.View(),
		l.history.View(),
	)
	return lipgloss.JoinVertical(
		lipgloss.Left,
		top,
		l.results.View(),
		l.console.View(),
	)
}

// ApplyEvent routes a hub event to the panels
func (l *Layout) ApplyEvent(ev types.Event) {
	switch ev.Type {
	case types.EventProgress:
		if ev.Progress != nil {
			l.status.SetProgress(*ev.Progress, ev.Description)
		}
		return
	case types.EventComplete:
		o := Outcome{ExamID: l.status.Stats().ExamID, FilePath: ev.FilePath}
		if ev.Count != nil {
			o.Records = *ev.Count
		}
		l.results.table.AddOutcome(o)
	case types.EventError:
		l.results.table.AddOutcome(Outcome{ExamID: l.status.Stats().ExamID, Error: ev.Message})
	}
	l.console.console.AddEntry(LevelFor(ev.Type), ev.Message)
}

// SetStatus applies a status poll result
func (l *Layout) SetStatus(running bool, examID string) {
	l.status.SetRunning(running, examID)
}

// SetDisconnected marks the server unreachable
func (l *Layout) SetDisconnected() {
	l.status.SetDisconnected()
}

// SetHistory replaces the recent runs list
func (l *Layout) SetHistory(entries []history.Entry) {
	l.history.list.SetEntries(entries)
}

// AddInfo writes a local notice to the console
func (l *Layout) AddInfo(msg string) {
	l.console.console.AddEntry(LevelInfo, msg)
}

// AddError writes a local error to the console
func (l *Layout) AddError(msg string) {
	l.console.console.AddEntry(LevelError, msg)
}

// Status returns the status panel state
func (l *Layout) Status() RunStats {
	return l.status.Stats()
}

// Console returns the log console
func (l *Layout) Console() *Console {
	return l.console.console
}

// Outcomes returns the finished runs seen so far
func (l *Layout) Outcomes() []Outcome {
	return l.results.table.Outcomes()
}

// HistoryLen reports the number of listed runs
func (l *Layout) HistoryLen() int {
	return l.history.list.Len()
}
