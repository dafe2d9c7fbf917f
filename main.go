// Command examcrawl collects exam submissions from the FastCampus admin
// console and exports them as csv, xlsx, json or xml.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/go-scripts/examcrawl/internal/app"
	"github.com/go-scripts/examcrawl/internal/config"
	"github.com/go-scripts/examcrawl/internal/history"
	"github.com/go-scripts/examcrawl/internal/task"
)

// Globals are flags shared by every command
type Globals struct {
	Config string `help:"Path to a YAML file with site and wait overrides" type:"existingfile"`
	Server string `help:"Base URL of a running examcrawl server" default:"http://localhost:8000" env:"EXAMCRAWL_SERVER"`
	Debug  bool   `help:"Enable debug logging"`
}

var (
	stdout     io.Writer = os.Stdout
	loadConfig           = config.Load
)

// CLI is the command tree
type CLI struct {
	Globals

	Serve   ServeCmd   `cmd:"" help:"Run the HTTP and WebSocket server"`
	Run     RunCmd     `cmd:"" help:"Crawl one exam in this process and exit"`
	Start   StartCmd   `cmd:"" help:"Ask a running server to crawl an exam"`
	Stop    StopCmd    `cmd:"" help:"Stop the server's active crawl"`
	Status  StatusCmd  `cmd:"" help:"Show whether the server is crawling"`
	History HistoryCmd `cmd:"" help:"List recent runs recorded by the server"`
	Watch   WatchCmd   `cmd:"" help:"Open a live dashboard for a running server"`
}

// config loads the environment and applies flag overrides
func (g *Globals) config() (*config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if g.Config != "" && g.Config != cfg.ConfigFile {
		if err := cfg.ApplyFile(g.Config); err != nil {
			return nil, err
		}
	}
	if g.Debug {
		cfg.LogLevel = log.DebugLevel
	}
	return cfg, nil
}

type ServeCmd struct {
	Port      int    `help:"Listen port (overrides PORT)"`
	Origins   string `help:"Comma-separated allowed CORS origins (overrides CORS_ORIGINS)"`
	OutputDir string `help:"Directory for export files (overrides EXAMCRAWL_OUTPUT_DIR)" type:"path"`
}

func (c *ServeCmd) Run(ctx context.Context, g *Globals) error {
	cfg, err := g.config()
	if err != nil {
		return err
	}
	if c.Port > 0 {
		cfg.Port = c.Port
	}
	if c.Origins != "" {
		cfg.Origins = config.ParseOrigins(c.Origins)
	}
	if c.OutputDir != "" {
		cfg.OutputDir = c.OutputDir
	}

	logger := cfg.NewLogger()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Serve(ctx)
}

type StartCmd struct {
	ExamID string `name:"exam-id" required:"" help:"Numeric exam ID"`
	Format string `help:"Export format" default:"csv" enum:"csv,xlsx,json,xml"`
}

func (c *StartCmd) Run(ctx context.Context, g *Globals) error {
	res, err := NewClient(g.Server).Start(ctx, c.ExamID, c.Format)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s exam=%s run=%s\n", res.Message, res.ExamID, res.RunID)
	return nil
}

type StopCmd struct{}

func (c *StopCmd) Run(ctx context.Context, g *Globals) error {
	msg, err := NewClient(g.Server).Stop(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, msg)
	return nil
}

type StatusCmd struct{}

func (c *StatusCmd) Run(ctx context.Context, g *Globals) error {
	st, err := NewClient(g.Server).Status(ctx)
	if err != nil {
		return err
	}
	renderStatus(stdout, st)
	return nil
}

type HistoryCmd struct {
	Limit int `help:"Number of runs to list" default:"20"`
}

func (c *HistoryCmd) Run(ctx context.Context, g *Globals) error {
	entries, err := NewClient(g.Server).History(ctx, c.Limit)
	if err != nil {
		return err
	}
	renderHistory(stdout, entries)
	return nil
}

type WatchCmd struct{}

func (c *WatchCmd) Run(ctx context.Context, g *Globals) error {
	client := NewClient(g.Server)
	events, err := client.Stream(ctx)
	if err != nil {
		return err
	}

	p := tea.NewProgram(newWatchModel(client, events), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("dashboard failed: %w", err)
	}
	return nil
}

func renderStatus(w io.Writer, st task.Status) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Running", "Exam"})
	exam := "-"
	if st.CurrentExamID != nil {
		exam = *st.CurrentExamID
	}
	t.AppendRow(table.Row{st.IsRunning, exam})
	t.SetStyle(table.StyleRounded)
	t.Render()
}

func renderHistory(w io.Writer, entries []history.Entry) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Finished", "Exam", "Format", "Status", "Records", "File / Error"})
	for _, e := range entries {
		detail := e.FilePath
		if detail == "" {
			detail = e.Error
		}
		t.AppendRow(table.Row{
			e.FinishedAt.Local().Format("2006-01-02 15:04:05"),
			e.ExamID,
			e.Format,
			e.Status,
			e.Count,
			detail,
		})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("examcrawl"),
		kong.Description("Collect exam submissions from the FastCampus admin console."),
		kong.UsageOnError(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kctx.BindTo(ctx, (*context.Context)(nil))
	err := kctx.Run(&cli.Globals)
	if err != nil {
		log.Error("command failed", "err", err)
		stop()
		os.Exit(1)
	}
}
