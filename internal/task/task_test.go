package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-scripts/examcrawl/internal/crawler"
	"github.com/go-scripts/examcrawl/internal/history"
	"github.com/go-scripts/examcrawl/internal/metrics"
	"github.com/go-scripts/examcrawl/internal/progress"
	"github.com/go-scripts/examcrawl/internal/types"
	"github.com/go-scripts/examcrawl/internal/writer"
	"github.com/go-scripts/examcrawl/pkg/common"
	"github.com/go-scripts/examcrawl/pkg/crawl"
)

var site = common.DefaultSite()

// fakeSession serves items submissions without a browser
type fakeSession struct {
	items        int
	nextFailFrom int
	loginErr     error
	loginPanic   bool
	block        chan struct{}
	// launching holds Login without regard to Close, like a browser starting up
	launching chan struct{}
	entered   chan struct{}

	mu         sync.Mutex
	closed     bool
	closeCount int
	navigates  int
	cursor     int
}

func newFakeSession(items int) *fakeSession {
	return &fakeSession{items: items, nextFailFrom: -1}
}

func (s *fakeSession) Login(ctx context.Context) error {
	if s.loginPanic {
		panic("driver exploded")
	}
	if s.launching != nil {
		close(s.entered)
		<-s.launching
	}
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.loginErr
}

func (s *fakeSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCount++
	if s.closed {
		return
	}
	s.closed = true
	if s.block != nil {
		close(s.block)
	}
}

func (s *fakeSession) closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}

func (s *fakeSession) Navigate(context.Context, string, time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navigates++
	if s.closed {
		return crawl.ErrNoSession
	}
	return nil
}

func (s *fakeSession) Text(_ context.Context, xpath string, _ time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", crawl.ErrNoSession
	}
	switch xpath {
	case site.Pagination:
		if s.items == 0 {
			return "", nil
		}
		return fmt.Sprintf("1/%d", s.items), nil
	case site.StudentName:
		if s.cursor >= s.items {
			return "", crawl.ErrTimeout
		}
		return fmt.Sprintf("student %d", s.cursor+1), nil
	}
	return "", errors.New("unknown element")
}

func (s *fakeSession) OuterHTML(context.Context, string, time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", crawl.ErrNoSession
	}
	return fmt.Sprintf("<p>https://blog.example.com/%d</p>", s.cursor+1), nil
}

func (s *fakeSession) Click(_ context.Context, xpath string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return crawl.ErrNoSession
	}
	switch xpath {
	case site.CloseOverlay:
		return crawl.ErrTimeout
	case site.NextButton:
		if s.nextFailFrom >= 0 && s.cursor >= s.nextFailFrom {
			return errors.New("next button missing")
		}
		s.cursor++
	}
	return nil
}

func (s *fakeSession) Pause(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

type fakeExporter struct {
	ok    bool
	calls int
}

func (e *fakeExporter) WriteRecords(records []types.Record, examID string, format types.Format) (string, bool) {
	e.calls++
	if !e.ok {
		return "", false
	}
	return fmt.Sprintf("exam_data_%s.%s", examID, format.Ext()), true
}

// events collects everything broadcast on the hub
type events struct {
	mu   sync.Mutex
	list []types.Event
}

func (e *events) Send(ev types.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.list = append(e.list, ev)
	return nil
}

func (e *events) all() []types.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]types.Event(nil), e.list...)
}

func (e *events) ofType(t types.EventType) []types.Event {
	var out []types.Event
	for _, ev := range e.all() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	orchestrator *Orchestrator
	events       *events
	history      *history.Store
	sessions     int
}

func setup(t *testing.T, session func() Session, exporter Exporter) *harness {
	t.Helper()

	store, err := history.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := &harness{events: &events{}, history: store}
	hub := progress.New(nil)
	hub.Attach(h.events)

	h.orchestrator = New(Configuration{
		Crawler: crawler.Configuration{
			Site:        site,
			PrimaryWait: time.Millisecond,
			OverlayWait: time.Millisecond,
			StepPause:   time.Millisecond,
			PagePause:   time.Millisecond,
		},
		NewSession: func() Session {
			h.sessions++
			return session()
		},
		Exporter: exporter,
		Hub:      hub,
		History:  store,
		Metrics:  metrics.New(),
		Logger:   log.New(io.Discard),
	})
	return h
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.orchestrator.Wait(ctx))
}

func (h *harness) lastEntry(t *testing.T) history.Entry {
	t.Helper()
	entries, err := h.history.Latest(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	return entries[0]
}

func TestValidExamID(t *testing.T) {
	for _, id := range []string{"1", "0042", "1234567890"} {
		assert.True(t, ValidExamID(id), id)
	}
	for _, id := range []string{"", "12a", "-1", "1.5", " 12", "１２", "abc"} {
		assert.False(t, ValidExamID(id), id)
	}
}

func TestStartRejectsInvalidInput(t *testing.T) {
	h := setup(t, func() Session { return newFakeSession(1) }, &fakeExporter{ok: true})

	for _, id := range []string{"", "12a", "exam-7", "１２"} {
		_, err := h.orchestrator.Start(id, "csv")
		assert.ErrorIs(t, err, ErrInvalidExamID, id)
	}
	_, err := h.orchestrator.Start("12", "pdf")
	assert.ErrorIs(t, err, types.ErrInvalidFormat)

	assert.Zero(t, h.sessions)
	assert.Equal(t, Status{}, h.orchestrator.Status())
	assert.Empty(t, h.events.all())
}

func TestStartConflictAndStop(t *testing.T) {
	session := newFakeSession(5)
	session.block = make(chan struct{})
	h := setup(t, func() Session { return session }, &fakeExporter{ok: true})

	run, err := h.orchestrator.Start("101", "json")
	require.NoError(t, err)
	assert.Equal(t, types.FormatJSON, run.Format)
	assert.NotEmpty(t, run.ID)

	status := h.orchestrator.Status()
	assert.True(t, status.IsRunning)
	require.NotNil(t, status.CurrentExamID)
	assert.Equal(t, "101", *status.CurrentExamID)

	_, err = h.orchestrator.Start("202", "csv")
	assert.ErrorIs(t, err, ErrConflict)
	_, err = h.orchestrator.Start("not-a-number", "csv")
	assert.ErrorIs(t, err, ErrConflict, "conflict is reported before validation")
	assert.Equal(t, 1, h.sessions)

	assert.True(t, h.orchestrator.Stop())
	assert.False(t, h.orchestrator.Status().IsRunning)
	assert.GreaterOrEqual(t, session.closes(), 1)

	h.wait(t)
	<-run.Done()
	assert.Nil(t, h.orchestrator.Active())
	assert.Equal(t, history.StatusStopped, run.Outcome().Status)
	assert.Equal(t, history.StatusStopped, h.lastEntry(t).Status)

	infos := h.events.ofType(types.EventInfo)
	require.Len(t, infos, 1)
	assert.Contains(t, infos[0].Message, "Stop requested")
}

func TestStopWhileLoginLaunches(t *testing.T) {
	session := newFakeSession(5)
	session.launching = make(chan struct{})
	session.entered = make(chan struct{})
	exporter := &fakeExporter{ok: true}
	h := setup(t, func() Session { return session }, exporter)

	run, err := h.orchestrator.Start("303", "csv")
	require.NoError(t, err)
	<-session.entered

	assert.True(t, h.orchestrator.Stop())
	assert.False(t, h.orchestrator.Status().IsRunning)

	// login completes after the stop landed
	close(session.launching)
	h.wait(t)
	<-run.Done()

	assert.Equal(t, history.StatusStopped, run.Outcome().Status)
	assert.NoError(t, run.Outcome().Err)
	assert.Equal(t, history.StatusStopped, h.lastEntry(t).Status)
	assert.False(t, h.orchestrator.Status().IsRunning)

	session.mu.Lock()
	navigates := session.navigates
	session.mu.Unlock()
	assert.Zero(t, navigates)
	assert.Zero(t, exporter.calls)
	assert.GreaterOrEqual(t, session.closes(), 2)
	assert.Empty(t, h.events.ofType(types.EventComplete))
}

func TestStopIdle(t *testing.T) {
	h := setup(t, func() Session { return newFakeSession(1) }, &fakeExporter{ok: true})

	assert.False(t, h.orchestrator.Stop())
	assert.Empty(t, h.events.all())
	assert.Equal(t, Status{}, h.orchestrator.Status())
}

func TestPipelineComplete(t *testing.T) {
	session := newFakeSession(3)
	w, err := writer.New(t.TempDir(), log.New(io.Discard))
	require.NoError(t, err)
	h := setup(t, func() Session { return session }, w)

	run, err := h.orchestrator.Start("555", "")
	require.NoError(t, err)
	h.wait(t)

	completes := h.events.ofType(types.EventComplete)
	require.Len(t, completes, 1)
	require.NotNil(t, completes[0].Count)
	assert.Equal(t, 3, *completes[0].Count)
	assert.FileExists(t, completes[0].FilePath)
	assert.Empty(t, h.events.ofType(types.EventError))

	all := h.events.all()
	assert.Equal(t, types.Event{Type: types.EventLog, Message: "Logging in..."}, all[0])
	assert.Equal(t, "Cleanup complete. Task finished.", all[len(all)-1].Message)

	var fractions []float64
	for _, ev := range h.events.ofType(types.EventProgress) {
		fractions = append(fractions, *ev.Progress)
	}
	assert.Equal(t, 0.1, fractions[0])
	assert.Equal(t, 0.2, fractions[1])
	assert.Equal(t, 1.0, fractions[len(fractions)-1])
	for i := 1; i < len(fractions); i++ {
		assert.GreaterOrEqual(t, fractions[i], fractions[i-1], "progress never goes backwards")
	}

	out := run.Outcome()
	assert.Equal(t, history.StatusComplete, out.Status)
	assert.Equal(t, 3, out.Count)
	assert.NoError(t, out.Err)

	entry := h.lastEntry(t)
	assert.Equal(t, run.ID, entry.RunID)
	assert.Equal(t, "csv", entry.Format)
	assert.Equal(t, completes[0].FilePath, entry.FilePath)

	stamp := regexp.MustCompile(`^\[\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\] `)
	lines := run.Lines()
	require.NotEmpty(t, lines)
	for _, l := range lines {
		assert.Regexp(t, stamp, l)
	}
	assert.GreaterOrEqual(t, session.closes(), 1)
	assert.False(t, h.orchestrator.Status().IsRunning)
}

func TestPipelineNavigationAbortStillExports(t *testing.T) {
	session := newFakeSession(10)
	session.nextFailFrom = 2
	exporter := &fakeExporter{ok: true}
	h := setup(t, func() Session { return session }, exporter)

	_, err := h.orchestrator.Start("7", "xml")
	require.NoError(t, err)
	h.wait(t)

	assert.Equal(t, 1, exporter.calls)
	completes := h.events.ofType(types.EventComplete)
	require.Len(t, completes, 1)
	assert.Equal(t, 3, *completes[0].Count)
	assert.Equal(t, "exam_data_7.xml", completes[0].FilePath)
}

func TestPipelineLoginFailure(t *testing.T) {
	session := newFakeSession(3)
	session.loginErr = types.NewFault(types.KindAuthentication, crawl.ErrLoginTimeout)
	exporter := &fakeExporter{ok: true}
	h := setup(t, func() Session { return session }, exporter)

	run, err := h.orchestrator.Start("8", "csv")
	require.NoError(t, err)
	h.wait(t)

	errs := h.events.ofType(types.EventError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "login did not complete")
	assert.Contains(t, errs[0].Details, "Kind: authentication")
	assert.Zero(t, exporter.calls)

	out := run.Outcome()
	assert.Equal(t, history.StatusFailed, out.Status)
	assert.Equal(t, types.KindAuthentication, types.KindOf(out.Err))
	assert.Contains(t, h.lastEntry(t).Error, "login did not complete")
}

func TestPipelineMissingCredentials(t *testing.T) {
	h := setup(t, func() Session {
		return crawl.NewSession(crawl.Configuration{Site: site}, log.New(io.Discard))
	}, &fakeExporter{ok: true})

	run, err := h.orchestrator.Start("9", "csv")
	require.NoError(t, err)
	h.wait(t)

	errs := h.events.ofType(types.EventError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "FASTCAMPUS_EMAIL")
	assert.Equal(t, types.KindConfiguration, types.KindOf(run.Outcome().Err))
}

func TestPipelineNoData(t *testing.T) {
	exporter := &fakeExporter{ok: true}
	h := setup(t, func() Session { return newFakeSession(0) }, exporter)

	run, err := h.orchestrator.Start("10", "csv")
	require.NoError(t, err)
	h.wait(t)

	errs := h.events.ofType(types.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "Data collection failed (exam ID: 10)", errs[0].Message)
	assert.Zero(t, exporter.calls)
	assert.Equal(t, history.StatusEmpty, run.Outcome().Status)
}

func TestPipelineExportFailure(t *testing.T) {
	h := setup(t, func() Session { return newFakeSession(2) }, &fakeExporter{ok: false})

	run, err := h.orchestrator.Start("11", "xlsx")
	require.NoError(t, err)
	h.wait(t)

	errs := h.events.ofType(types.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "File generation failed (format: xlsx)", errs[0].Message)
	assert.Empty(t, h.events.ofType(types.EventComplete))

	out := run.Outcome()
	assert.Equal(t, history.StatusExportFailed, out.Status)
	assert.Equal(t, 2, out.Count)
	assert.Equal(t, types.KindExport, types.KindOf(out.Err))
}

func TestPipelinePanicIsRecovered(t *testing.T) {
	session := newFakeSession(1)
	session.loginPanic = true
	h := setup(t, func() Session { return session }, &fakeExporter{ok: true})

	run, err := h.orchestrator.Start("12", "csv")
	require.NoError(t, err)
	h.wait(t)

	errs := h.events.ofType(types.EventError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "driver exploded")
	assert.Contains(t, errs[0].Details, "Stack trace")
	assert.Equal(t, types.KindInternal, types.KindOf(run.Outcome().Err))
	assert.Equal(t, 1, session.closes())
	assert.Nil(t, h.orchestrator.Active())

	// the slot is free again
	session.loginPanic = false
	_, err = h.orchestrator.Start("13", "csv")
	require.NoError(t, err)
	h.wait(t)
}

func TestWaitHonoursContext(t *testing.T) {
	session := newFakeSession(1)
	session.block = make(chan struct{})
	h := setup(t, func() Session { return session }, &fakeExporter{ok: true})

	_, err := h.orchestrator.Start("14", "csv")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.orchestrator.Wait(ctx), context.DeadlineExceeded)

	h.orchestrator.Stop()
	h.wait(t)
}

func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}
