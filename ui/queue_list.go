package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/go-scripts/examcrawl/internal/history"
)

// HistoryItem is a finished run in the history list
type HistoryItem struct {
	entry history.Entry
}

func (i HistoryItem) FilterValue() string { return i.entry.ExamID }

func (i HistoryItem) Title() string {
	return fmt.Sprintf("Exam %s (%s)", i.entry.ExamID, i.entry.Status)
}

func (i HistoryItem) Description() string {
	when := i.entry.FinishedAt.Local().Format("01-02 15:04")
	if i.entry.FilePath != "" {
		return fmt.Sprintf("%s | %d records | %s", when, i.entry.Count, i.entry.FilePath)
	}
	if i.entry.Error != "" {
		return fmt.Sprintf("%s | %s", when, i.entry.Error)
	}
	return fmt.Sprintf("%s | %d records", when, i.entry.Count)
}

// HistoryList shows recent runs from the server
type HistoryList struct {
	list   list.Model
	width  int
	height int
}

func NewHistoryList() *HistoryList {
	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.Foreground(lipgloss.Color("170"))
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.Foreground(lipgloss.Color("244"))

	l := list.New([]list.Item{}, delegate, 0, 0)
	l.Title = "Recent Runs"
	l.Styles.Title = l.Styles.Title.Foreground(lipgloss.Color("240"))
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)

	return &HistoryList{list: l}
}

func (h *HistoryList) SetSize(width, height int) {
	h.width = width
	h.height = height
	h.list.SetSize(width, height)
}

func (h *HistoryList) Update(msg tea.Msg) tea.Cmd {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "up", "k":
			h.list.CursorUp()
			return nil
		case "down", "j":
			h.list.CursorDown()
			return nil
		}
	}
	var cmd tea.Cmd
	h.list, cmd = h.list.Update(msg)
	return cmd
}

func (h *HistoryList) View() string {
	return h.list.View()
}

// SetEntries replaces the list contents, newest first
func (h *HistoryList) SetEntries(entries []history.Entry) {
	items := make([]list.Item, 0, len(entries))
	for _, e := range entries {
		items = append(items, HistoryItem{entry: e})
	}
	h.list.SetItems(items)
	h.list.Title = fmt.Sprintf("Recent Runs (%d)", len(entries))
}

// Len reports the number of listed runs
func (h *HistoryList) Len() int {
	return len(h.list.Items())
}
