package main

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/go-scripts/examcrawl/internal/history"
	"github.com/go-scripts/examcrawl/internal/task"
	"github.com/go-scripts/examcrawl/internal/types"
	"github.com/go-scripts/examcrawl/ui"
)

const (
	statusEvery  = 2 * time.Second
	historyLimit = 20
)

// Message types
type (
	eventMsg    types.Event
	streamEnded struct{ err error }
	statusMsg   struct {
		status task.Status
		err    error
	}
	historyMsg struct {
		entries []history.Entry
		err     error
	}
	noticeMsg  string
	failureMsg struct{ err error }
	tickMsg    time.Time
)

// watchModel is the dashboard over a running server
type watchModel struct {
	client *Client
	events <-chan streamMsg
	layout *ui.Layout
	ready  bool
	ended  bool
}

func newWatchModel(client *Client, events <-chan streamMsg) watchModel {
	return watchModel{
		client: client,
		events: events,
		layout: ui.NewLayout(),
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(
		m.layout.Init(),
		waitForEvent(m.events),
		pollStatus(m.client),
		fetchHistory(m.client),
		tick(),
	)
}

func waitForEvent(events <-chan streamMsg) tea.Cmd {
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-events
		if !ok {
			return streamEnded{}
		}
		if msg.Err != nil {
			return streamEnded{err: msg.Err}
		}
		return eventMsg(msg.Event)
	}
}

func pollStatus(c *Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), statusEvery)
		defer cancel()
		st, err := c.Status(ctx)
		return statusMsg{status: st, err: err}
	}
}

func fetchHistory(c *Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), statusEvery)
		defer cancel()
		entries, err := c.History(ctx, historyLimit)
		return historyMsg{entries: entries, err: err}
	}
}

func stopRun(c *Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), statusEvery)
		defer cancel()
		msg, err := c.Stop(ctx)
		if err != nil {
			return failureMsg{err: err}
		}
		return noticeMsg(msg)
	}
}

func tick() tea.Cmd {
	return tea.Tick(statusEvery, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "s":
			cmds = append(cmds, stopRun(m.client))
		case "r":
			cmds = append(cmds, fetchHistory(m.client))
		}

	case eventMsg:
		ev := types.Event(msg)
		m.layout.ApplyEvent(ev)
		if ev.Type == types.EventComplete {
			m.layout.AddInfo("Download: " + m.client.DownloadURL(ev.FilePath))
		}
		if ev.Type == types.EventComplete || ev.Type == types.EventError {
			cmds = append(cmds, fetchHistory(m.client))
		}
		cmds = append(cmds, waitForEvent(m.events))

	case streamEnded:
		m.ended = true
		if msg.err != nil {
			m.layout.AddError(fmt.Sprintf("Event stream closed: %v", msg.err))
		} else {
			m.layout.AddError("Event stream closed")
		}

	case statusMsg:
		if msg.err != nil {
			m.layout.SetDisconnected()
			break
		}
		examID := ""
		if msg.status.CurrentExamID != nil {
			examID = *msg.status.CurrentExamID
		}
		m.layout.SetStatus(msg.status.IsRunning, examID)

	case historyMsg:
		if msg.err != nil {
			m.layout.AddError(fmt.Sprintf("Failed to load history: %v", msg.err))
			break
		}
		m.layout.SetHistory(msg.entries)

	case noticeMsg:
		m.layout.AddInfo(string(msg))

	case failureMsg:
		m.layout.AddError(msg.err.Error())

	case tickMsg:
		cmds = append(cmds, pollStatus(m.client), tick())
	}

	layoutModel, cmd := m.layout.Update(msg)
	if l, ok := layoutModel.(*ui.Layout); ok {
		m.layout = l
	}
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m watchModel) View() string {
	if !m.ready {
		return "Connecting...\n"
	}
	return m.layout.View() + "\n s: stop run  r: refresh history  1/2/3: log filter  q: quit"
}
