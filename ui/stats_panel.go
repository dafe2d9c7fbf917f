package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// RunStats is what the status panel knows about the current run
type RunStats struct {
	Connected   bool
	Running     bool
	ExamID      string
	Progress    float64
	Description string
	StartTime   time.Time
	LastUpdate  time.Time
}

// StatusPanel displays the server state and a progress bar
type StatusPanel struct {
	stats      RunStats
	bar        progress.Model
	width      int
	height     int
	style      lipgloss.Style
	labelStyle lipgloss.Style
	valueStyle lipgloss.Style
	now        func() time.Time
}

func NewStatusPanel() *StatusPanel {
	return &StatusPanel{
		bar: progress.New(progress.WithDefaultGradient()),
		style: borderStyle.
			BorderForeground(lipgloss.Color("99")),
		labelStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Bold(true),
		valueStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")),
		now: time.Now,
	}
}

func (s *StatusPanel) SetSize(width, height int) {
	s.width = width
	s.height = height
	s.bar.Width = max(width-8, 10)
}

func (s *StatusPanel) Update(msg tea.Msg) tea.Cmd {
	return nil
}

// Stats returns a copy of the panel state
func (s *StatusPanel) Stats() RunStats {
	return s.stats
}

// SetRunning records the server's status response
func (s *StatusPanel) SetRunning(running bool, examID string) {
	s.stats.Connected = true
	if running && !s.stats.Running {
		s.stats.StartTime = s.now()
		s.stats.Progress = 0
		s.stats.Description = ""
	}
	s.stats.Running = running
	if examID != "" {
		s.stats.ExamID = examID
	}
}

// SetDisconnected marks the server unreachable
func (s *StatusPanel) SetDisconnected() {
	s.stats.Connected = false
}

// SetProgress records a progress event
func (s *StatusPanel) SetProgress(fraction float64, desc string) {
	s.stats.Progress = min(max(fraction, 0), 1)
	s.stats.Description = desc
	s.stats.LastUpdate = s.now()
}

func (s *StatusPanel) View() string {
	state := "idle"
	switch {
	case !s.stats.Connected:
		state = "disconnected"
	case s.stats.Running:
		state = "running"
	}

	exam := s.stats.ExamID
	if exam == "" {
		exam = "-"
	}

	rows := []struct {
		label string
		value string
	}{
		{"Server", state},
		{"Exam", exam},
		{"Step", s.stats.Description},
		{"Elapsed", s.elapsed()},
	}

	var content strings.Builder
	content.WriteString(titleStyle.Render("Crawl Status") + "\n\n")
	for _, r := range rows {
		fmt.Fprintf(&content, "%s %s\n",
			s.labelStyle.Render(fmt.Sprintf("%-8s", r.label+":")),
			s.valueStyle.Render(r.value),
		)
	}
	content.WriteString("\n" + s.bar.ViewAs(s.stats.Progress))

	return s.style.Width(s.width).Height(s.height).Render(content.String())
}

func (s *StatusPanel) elapsed() string {
	if s.stats.StartTime.IsZero() {
		return "00:00:00"
	}
	end := s.now()
	if !s.stats.Running && !s.stats.LastUpdate.IsZero() {
		end = s.stats.LastUpdate
	}
	d := end.Sub(s.stats.StartTime)
	return fmt.Sprintf("%02d:%02d:%02d",
		int(d.Hours()),
		int(d.Minutes())%60,
		int(d.Seconds())%60,
	)
}
