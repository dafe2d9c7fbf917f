package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/charmbracelet/log"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/go-scripts/examcrawl/internal/app"
	"github.com/go-scripts/examcrawl/internal/duration"
	"github.com/go-scripts/examcrawl/internal/history"
	"github.com/go-scripts/examcrawl/internal/task"
	"github.com/go-scripts/examcrawl/internal/types"
)

type RunCmd struct {
	ExamID string `name:"exam-id" required:"" help:"Numeric exam ID"`
	Format string `help:"Export format" default:"csv" enum:"csv,xlsx,json,xml"`
	Quiet  bool   `help:"Hide log lines, show only the spinner and summary"`
}

func (c *RunCmd) Run(ctx context.Context, g *Globals) error {
	cfg, err := g.config()
	if err != nil {
		return err
	}
	// hub events already reach the terminal through the spinner
	if !g.Debug && cfg.LogLevel < log.WarnLevel {
		cfg.LogLevel = log.WarnLevel
	}

	a, err := app.New(ctx, cfg, cfg.NewLogger())
	if err != nil {
		return err
	}
	defer a.Close()

	ind := newIndicator(os.Stderr, c.Quiet)
	id := a.Hub.Attach(ind)
	defer a.Hub.Detach(id)

	run, err := a.Orchestrator.Start(c.ExamID, c.Format)
	if err != nil {
		return err
	}
	ind.start(fmt.Sprintf("exam %s", run.ExamID))

	select {
	case <-run.Done():
	case <-ctx.Done():
		a.Orchestrator.Stop()
		waitCtx, cancel := context.WithTimeout(context.Background(), duration.ServerShutdown)
		defer cancel()
		if err := a.Orchestrator.Wait(waitCtx); err != nil {
			ind.stop()
			return fmt.Errorf("run did not stop in time: %w", err)
		}
	}
	ind.stop()

	out := run.Outcome()
	renderOutcome(stdout, run, out)
	if out.Status != history.StatusComplete {
		if out.Err != nil {
			return out.Err
		}
		return fmt.Errorf("run ended with status %s", out.Status)
	}
	return nil
}

// indicator shows hub events on a terminal spinner
type indicator struct {
	mu      sync.Mutex
	w       io.Writer
	quiet   bool
	spin    *spinner.Spinner
	label   string
	percent int
}

func newIndicator(w io.Writer, quiet bool) *indicator {
	return &indicator{
		w:     w,
		quiet: quiet,
		spin:  spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w)),
	}
}

func (i *indicator) start(label string) {
	i.mu.Lock()
	i.label = label
	i.setSuffix("starting")
	i.mu.Unlock()
	i.spin.Start()
}

func (i *indicator) stop() {
	i.spin.Stop()
}

func (i *indicator) setSuffix(desc string) {
	i.spin.Lock()
	i.spin.Suffix = fmt.Sprintf(" [%3d%%] %s: %s", i.percent, i.label, desc)
	i.spin.Unlock()
}

func (i *indicator) Send(ev types.Event) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	switch ev.Type {
	case types.EventProgress:
		if ev.Progress != nil {
			i.percent = int(*ev.Progress * 100)
		}
		i.setSuffix(ev.Description)
	default:
		if i.quiet && ev.Type == types.EventLog {
			return nil
		}
		i.spin.Lock()
		fmt.Fprintf(i.w, "\r\033[K%s\n", ev.Message)
		i.spin.Unlock()
	}
	return nil
}

func renderOutcome(w io.Writer, run *task.Run, out task.Outcome) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Run", "Exam", "Format", "Status", "Records", "File"})
	file := out.FilePath
	if file == "" && out.Err != nil {
		file = out.Err.Error()
	}
	t.AppendRow(table.Row{run.ID, run.ExamID, run.Format, out.Status, out.Count, file})
	t.SetStyle(table.StyleRounded)
	t.Render()
}
