package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Outcome is one finished run observed over the event stream
type Outcome struct {
	ExamID   string
	Records  int
	FilePath string
	Error    string
}

// OutcomeTable lists the runs that finished while watching
type OutcomeTable struct {
	viewport    viewport.Model
	outcomes    []Outcome
	width       int
	height      int
	headerStyle lipgloss.Style
	cellStyle   lipgloss.Style
	style       lipgloss.Style
}

func NewOutcomeTable() *OutcomeTable {
	t := &OutcomeTable{
		headerStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")),
		cellStyle: lipgloss.NewStyle().
			PaddingLeft(1).
			PaddingRight(1),
		style: lipgloss.NewStyle(),
	}
	t.viewport = viewport.New(0, 0)
	return t
}

func (t *OutcomeTable) SetSize(width, height int) {
	t.width = width
	t.height = height
	t.viewport.Width = max(width-4, 0)
	t.viewport.Height = max(height-4, 0)
}

func (t *OutcomeTable) Update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	t.viewport, cmd = t.viewport.Update(msg)
	return cmd
}

func (t *OutcomeTable) View() string {
	if len(t.outcomes) == 0 {
		return t.style.Render(infoStyle.Render("No finished runs yet"))
	}

	fileWidth := max(min(48, t.width/2), 12)
	header := t.headerStyle.Render(fmt.Sprintf("%-10s %8s  %-*s", "Exam", "Records", fileWidth, "File / Error"))

	rows := make([]string, 0, len(t.outcomes))
	for _, o := range t.outcomes {
		detail := o.FilePath
		if o.Error != "" {
			detail = o.Error
		}
		row := t.cellStyle.Render(fmt.Sprintf("%-10s %8d  %-*s",
			truncate(o.ExamID, 10), o.Records, fileWidth, truncate(detail, fileWidth)))
		if o.Error != "" {
			row = errorStyle.Render(row)
		}
		rows = append(rows, row)
	}
	t.viewport.SetContent(header + "\n" + strings.Join(rows, "\n"))

	summary := fmt.Sprintf("\nRuns: %d | Saved: %d | Failed: %d",
		len(t.outcomes), len(t.outcomes)-t.failed(), t.failed())
	return t.style.Width(t.width).Render(t.viewport.View() + "\n" + infoStyle.Render(summary))
}

// AddOutcome appends a finished run
func (t *OutcomeTable) AddOutcome(o Outcome) {
	t.outcomes = append(t.outcomes, o)
	if t.viewport.AtBottom() {
		t.viewport.GotoBottom()
	}
}

// Outcomes returns the recorded runs
func (t *OutcomeTable) Outcomes() []Outcome {
	return t.outcomes
}

func truncate(s string, w int) string {
	if len(s) <= w || w < 4 {
		return s
	}
	return s[:w-3] + "..."
}

func (t *OutcomeTable) failed() int {
	n := 0
	for _, o := range t.outcomes {
		if o.Error != "" {
			n++
		}
	}
	return n
}
