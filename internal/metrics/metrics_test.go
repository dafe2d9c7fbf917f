package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunLifecycle(t *testing.T) {
	m := New()

	m.RunStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runActive))

	m.ItemFault("extraction_item")
	m.ItemFault("extraction_item")
	m.RunFinished("complete", 12, 90*time.Second)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.runActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("complete")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.recordsTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.itemFaults.WithLabelValues("extraction_item")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.runDuration))
}

func TestOverlappingRunsStayActive(t *testing.T) {
	m := New()

	// a stopped run still tearing down while the next one starts
	m.RunStarted()
	m.RunStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.runActive))

	m.RunFinished("stopped", 0, time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runActive))

	m.RunFinished("complete", 4, time.Minute)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.runActive))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.RegisterObservers(func() int { return 3 })
	m.RunStarted()
	m.RunFinished("failed", 0, time.Second)
	m.ExportDone("csv", 10*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	assert.True(t, strings.Contains(text, `examcrawl_runs_total{status="failed"} 1`))
	assert.True(t, strings.Contains(text, "examcrawl_observers 3"))
	assert.True(t, strings.Contains(text, "examcrawl_run_active 0"))
	assert.True(t, strings.Contains(text, `examcrawl_export_duration_seconds_count{format="csv"} 1`))
	assert.True(t, strings.Contains(text, "go_goroutines"))
}
