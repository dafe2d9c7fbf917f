package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/go-scripts/examcrawl/internal/types"
)

// LogLevel represents the severity of a console line
type LogLevel int

const (
	LevelLog LogLevel = iota
	LevelInfo
	LevelError
)

// LevelFor maps a hub event type onto a console level
func LevelFor(t types.EventType) LogLevel {
	switch t {
	case types.EventError:
		return LevelError
	case types.EventInfo, types.EventComplete:
		return LevelInfo
	default:
		return LevelLog
	}
}

// LogEntry is one console line
type LogEntry struct {
	timestamp time.Time
	level     LogLevel
	message   string
}

// Console shows run log lines with a level filter
type Console struct {
	viewport  viewport.Model
	entries   []LogEntry
	width     int
	height    int
	style     lipgloss.Style
	showLevel LogLevel
	now       func() time.Time
}

var (
	errorLogStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	noticeLogStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	plainLogStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("110"))

	timestampStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242")).
			Italic(true)
)

// NewConsole creates an empty console
func NewConsole() *Console {
	c := &Console{
		style:     borderStyle.BorderForeground(lipgloss.Color("196")),
		showLevel: LevelLog,
		now:       time.Now,
	}
	c.viewport = viewport.New(0, 0)
	return c
}

func (c *Console) SetSize(width, height int) {
	c.width = width
	c.height = height
	c.viewport.Width = max(width-4, 0)
	c.viewport.Height = max(height-4, 0)
	c.updateContent()
}

// AddEntry appends a line
func (c *Console) AddEntry(level LogLevel, msg string) {
	c.entries = append(c.entries, LogEntry{
		timestamp: c.now(),
		level:     level,
		message:   msg,
	})
	c.updateContent()
}

// Len reports the number of stored lines
func (c *Console) Len() int {
	return len(c.entries)
}

// Visible returns the messages that pass the current filter
func (c *Console) Visible() []string {
	var out []string
	for _, e := range c.entries {
		if e.level >= c.showLevel {
			out = append(out, e.message)
		}
	}
	return out
}

func (c *Console) Update(msg tea.Msg) tea.Cmd {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "pgup":
			c.viewport.HalfViewUp()
		case "pgdown":
			c.viewport.HalfViewDown()
		case "1":
			c.setFilter(LevelLog)
		case "2":
			c.setFilter(LevelInfo)
		case "3":
			c.setFilter(LevelError)
		}
	}

	var cmd tea.Cmd
	c.viewport, cmd = c.viewport.Update(msg)
	return cmd
}

func (c *Console) setFilter(level LogLevel) {
	c.showLevel = level
	c.updateContent()
}

func (c *Console) View() string {
	filter := fmt.Sprintf("\nFilter: %s (1:Log 2:Info 3:Error)", levelString(c.showLevel))
	counts := fmt.Sprintf("Lines: %d | Errors: %d",
		len(c.entries),
		c.countByLevel(LevelError),
	)

	return c.style.Width(c.width).Render(
		titleStyle.Render("Run Log") + "\n" +
			c.viewport.View() +
			infoStyle.Render(filter) + "\n" +
			infoStyle.Render(counts),
	)
}

func (c *Console) updateContent() {
	var sb strings.Builder
	for _, e := range c.entries {
		if e.level < c.showLevel {
			continue
		}
		var style lipgloss.Style
		switch e.level {
		case LevelError:
			style = errorLogStyle
		case LevelInfo:
			style = noticeLogStyle
		default:
			style = plainLogStyle
		}
		fmt.Fprintf(&sb, "%s [%s] %s\n",
			timestampStyle.Render(e.timestamp.Format("15:04:05")),
			style.Render(levelString(e.level)),
			e.message,
		)
	}

	atBottom := c.viewport.AtBottom()
	c.viewport.SetContent(sb.String())
	if atBottom {
		c.viewport.GotoBottom()
	}
}

func levelString(level LogLevel) string {
	switch level {
	case LevelError:
		return "ERROR"
	case LevelInfo:
		return "INFO"
	default:
		return "LOG"
	}
}

func (c *Console) countByLevel(level LogLevel) int {
	n := 0
	for _, e := range c.entries {
		if e.level == level {
			n++
		}
	}
	return n
}
