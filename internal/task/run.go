package task

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-scripts/examcrawl/internal/history"
	"github.com/go-scripts/examcrawl/internal/progress"
	"github.com/go-scripts/examcrawl/internal/types"
)

// Outcome is the terminal state of a finished run
type Outcome struct {
	Status   history.Status
	Count    int
	FilePath string
	Err      error
}

// Run is one extraction attempt. It implements the crawler's Reporter so
// every log line is both kept on the run and broadcast.
type Run struct {
	ID        string
	ExamID    string
	Format    types.Format
	StartedAt time.Time

	hub     *progress.Hub
	now     func() time.Time
	session Session

	running atomic.Bool
	stopped atomic.Bool

	mu      sync.Mutex
	lines   []string
	outcome Outcome
	done    chan struct{}
}

func newRun(id, examID string, format types.Format, hub *progress.Hub, session Session, now func() time.Time) *Run {
	r := &Run{
		ID:        id,
		ExamID:    examID,
		Format:    format,
		StartedAt: now(),
		hub:       hub,
		now:       now,
		session:   session,
		done:      make(chan struct{}),
	}
	r.running.Store(true)
	return r
}

// Log keeps a timestamped copy of msg and broadcasts it
func (r *Run) Log(msg string) {
	r.mu.Lock()
	r.lines = append(r.lines, fmt.Sprintf("[%s] %s", r.now().Format(time.DateTime), msg))
	r.mu.Unlock()
	r.hub.Log(msg)
}

// Progress broadcasts a progress value
func (r *Run) Progress(fraction float64, desc string) {
	r.hub.Progress(fraction, desc)
}

// Lines returns the run's log so far
func (r *Run) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

// Running reports whether the run has neither finished nor been stopped
func (r *Run) Running() bool {
	return r.running.Load()
}

// Done is closed once the run has been torn down
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Outcome returns the terminal state. It is only meaningful after Done.
func (r *Run) Outcome() Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcome
}

func (r *Run) setOutcome(o Outcome) {
	r.mu.Lock()
	r.outcome = o
	r.mu.Unlock()
}
