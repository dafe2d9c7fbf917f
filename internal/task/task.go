// Package task runs extractions in the background, one at a time.
package task

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/go-scripts/examcrawl/internal/crawler"
	"github.com/go-scripts/examcrawl/internal/duration"
	"github.com/go-scripts/examcrawl/internal/history"
	"github.com/go-scripts/examcrawl/internal/metrics"
	"github.com/go-scripts/examcrawl/internal/progress"
	"github.com/go-scripts/examcrawl/internal/types"
	"github.com/go-scripts/examcrawl/pkg/crawl"
)

var tracer = otel.Tracer("examcrawl/internal/task")

var (
	// ErrConflict is returned by Start while another run is active
	ErrConflict = errors.New("another crawl is already running")

	// ErrInvalidExamID is returned by Start for ids that are not all digits
	ErrInvalidExamID = errors.New("exam id must be numeric")
)

// Session is a browser session that can sign in and be driven as a page
type Session interface {
	crawl.Page
	Login(ctx context.Context) error
	Close()
}

// Exporter writes collected records to a file
type Exporter interface {
	WriteRecords(records []types.Record, examID string, format types.Format) (string, bool)
}

// Configuration wires an Orchestrator
type Configuration struct {
	Crawler    crawler.Configuration
	NewSession func() Session
	Exporter   Exporter
	Hub        *progress.Hub
	History    *history.Store
	Metrics    *metrics.Metrics
	Logger     *log.Logger
}

// Status is the externally visible state
type Status struct {
	IsRunning     bool    `json:"is_running"`
	CurrentExamID *string `json:"current_exam_id"`
}

// Orchestrator holds the single active run slot
type Orchestrator struct {
	config Configuration
	logger *log.Logger
	now    func() time.Time

	mu     sync.Mutex
	active *Run
	wg     sync.WaitGroup
}

// New creates an Orchestrator. History and Metrics are optional.
func New(config Configuration) *Orchestrator {
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}
	if config.Hub == nil {
		config.Hub = progress.New(nil)
	}
	return &Orchestrator{
		config: config,
		logger: logger.WithPrefix("task"),
		now:    time.Now,
	}
}

// ValidExamID reports whether id is a non-empty string of ASCII digits
func ValidExamID(id string) bool {
	if id == "" {
		return false
	}
	for _, c := range id {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Start begins a run for examID in the background and returns at once.
// A run that has been stopped but is still tearing down does not block a
// new start.
func (o *Orchestrator) Start(examID, format string) (*Run, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.active != nil && o.active.Running() {
		return nil, ErrConflict
	}
	if !ValidExamID(examID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidExamID, examID)
	}
	f, err := types.ParseFormat(format)
	if err != nil {
		return nil, err
	}

	run := newRun(uuid.NewString(), examID, f, o.config.Hub, o.config.NewSession(), o.now)
	o.active = run
	o.wg.Add(1)
	if o.config.Metrics != nil {
		o.config.Metrics.RunStarted()
	}
	o.logger.Info("run started", "run_id", run.ID, "exam_id", examID, "format", f)

	go o.execute(run)
	return run, nil
}

// Stop clears the running flag of the active run and closes its browser
// without waiting for the extraction loop. It reports false when idle.
func (o *Orchestrator) Stop() bool {
	o.mu.Lock()
	run := o.active
	o.mu.Unlock()

	if run == nil || !run.Running() {
		return false
	}

	run.stopped.Store(true)
	run.running.Store(false)
	run.session.Close()
	o.config.Hub.Info("Stop requested. Browser session closed.")
	o.logger.Info("run stopped", "run_id", run.ID, "exam_id", run.ExamID)
	return true
}

// Status reports whether a run is in progress and its exam id
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.active == nil || !o.active.Running() {
		return Status{}
	}
	id := o.active.ExamID
	return Status{IsRunning: true, CurrentExamID: &id}
}

// Active returns the run in the slot, if any
func (o *Orchestrator) Active() *Run {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// Wait blocks until every started run has been torn down or ctx ends
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// execute is the body of a run's goroutine
func (o *Orchestrator) execute(run *Run) {
	ctx, span := tracer.Start(context.Background(), "task:Run")
	span.SetAttributes(
		attribute.String("run.id", run.ID),
		attribute.String("exam.id", run.ExamID),
		attribute.String("run.format", string(run.Format)),
	)

	var out Outcome
	defer func() {
		o.finish(run, out)
		if out.Err != nil {
			span.RecordError(out.Err)
			span.SetStatus(codes.Error, string(out.Status))
		}
		span.SetAttributes(attribute.Int("run.count", out.Count))
		span.End()
	}()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			out = Outcome{Status: history.StatusFailed, Err: types.NewFault(types.KindInternal, err)}
			o.logger.Error("run panicked", "run_id", run.ID, "panic", r, "stack", string(debug.Stack()))
			o.config.Hub.Error(fmt.Sprintf("Error: %v", err),
				fmt.Sprintf("Error: %v\nKind: %s\nStack trace:\n%s", err, types.KindInternal, debug.Stack()))
		}
	}()

	out = o.pipeline(ctx, run)
}

func (o *Orchestrator) pipeline(ctx context.Context, run *Run) Outcome {
	hub := o.config.Hub

	run.Log("Logging in...")
	run.Progress(0.1, "Logging in...")

	if err := run.session.Login(ctx); err != nil {
		kind := types.KindOf(err)
		if !errors.As(err, new(*types.Fault)) {
			err = types.NewFault(kind, err)
		}
		hub.Error(fmt.Sprintf("Error: %v", err), fmt.Sprintf("Error: %v\nKind: %s", err, kind))
		return Outcome{Status: o.failedStatus(run), Err: err}
	}
	if run.stopped.Load() {
		run.Log("Stop requested during login. Skipping data collection.")
		return Outcome{Status: history.StatusStopped}
	}

	run.Log("Login succeeded. Starting data collection...")
	run.Progress(0.2, "Login succeeded. Starting data collection...")

	result := crawler.New(o.config.Crawler, run.session, run).Extract(ctx, run.ExamID, run.Running)
	if o.config.Metrics != nil {
		for _, f := range result.Recovered {
			o.config.Metrics.ItemFault(f.Kind.String())
		}
		if result.Aborted != nil {
			o.config.Metrics.ItemFault(result.Aborted.Kind.String())
		}
	}

	count := len(result.Records)
	run.Progress(0.9, fmt.Sprintf("%d records collected. Writing file...", count))

	out := Outcome{Count: count}
	switch {
	case count == 0:
		run.Log(fmt.Sprintf("No data collected (exam ID: %s).", run.ExamID))
		hub.Error(fmt.Sprintf("Data collection failed (exam ID: %s)", run.ExamID), "")
		out.Status = history.StatusEmpty
	default:
		start := time.Now()
		path, ok := o.config.Exporter.WriteRecords(result.Records, run.ExamID, run.Format)
		if o.config.Metrics != nil {
			o.config.Metrics.ExportDone(string(run.Format), time.Since(start))
		}
		if !ok {
			run.Log(fmt.Sprintf("Data collected but file generation failed (format: %s).", run.Format))
			hub.Error(fmt.Sprintf("File generation failed (format: %s)", run.Format), "")
			out.Status = history.StatusExportFailed
			out.Err = types.NewFault(types.KindExport, fmt.Errorf("export to %s failed", run.Format))
			break
		}
		run.Log(fmt.Sprintf("Crawl complete! %d records saved to '%s'.", count, path))
		hub.Complete(fmt.Sprintf("Crawl complete! %d records collected", count), path, count)
		out.Status = history.StatusComplete
		out.FilePath = path
	}
	if run.stopped.Load() {
		out.Status = history.StatusStopped
	}

	run.Progress(1.0, "Done")
	return out
}

func (o *Orchestrator) failedStatus(run *Run) history.Status {
	if run.stopped.Load() {
		return history.StatusStopped
	}
	return history.StatusFailed
}

// finish tears the run down on every exit path
func (o *Orchestrator) finish(run *Run, out Outcome) {
	defer o.wg.Done()

	run.running.Store(false)
	run.session.Close()

	o.mu.Lock()
	if o.active == run {
		o.active = nil
	}
	o.mu.Unlock()

	run.setOutcome(out)
	run.Log("Cleanup complete. Task finished.")

	elapsed := o.now().Sub(run.StartedAt)
	if o.config.Metrics != nil {
		o.config.Metrics.RunFinished(string(out.Status), out.Count, elapsed)
	}
	if o.config.History != nil {
		entry := history.Entry{
			RunID:      run.ID,
			ExamID:     run.ExamID,
			Format:     string(run.Format),
			Status:     out.Status,
			Count:      out.Count,
			FilePath:   out.FilePath,
			StartedAt:  run.StartedAt,
			FinishedAt: o.now(),
		}
		if out.Err != nil {
			entry.Error = out.Err.Error()
		}
		ctx, cancel := context.WithTimeout(context.Background(), duration.HistoryWrite)
		if err := o.config.History.Add(ctx, entry); err != nil {
			o.logger.Warn("failed to record run history", "run_id", run.ID, "err", err)
		}
		cancel()
	}

	o.logger.Info("run finished", "run_id", run.ID, "status", out.Status, "count", out.Count, "elapsed", elapsed.Round(time.Second))
	close(run.done)
}
