// Package metrics exposes run counters for Prometheus scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "examcrawl"

// Metrics holds the collectors of one process. Each instance owns its
// registry so tests can create as many as they need.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal      *prometheus.CounterVec
	recordsTotal   prometheus.Counter
	itemFaults     *prometheus.CounterVec
	runDuration    prometheus.Histogram
	runActive      prometheus.Gauge
	exportDuration *prometheus.HistogramVec
}

// New creates and registers every collector, including the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Finished runs by outcome",
			},
			[]string{"status"},
		),
		recordsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Records extracted across all runs",
		}),
		itemFaults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "item_faults_total",
				Help:      "Recovered faults during extraction by kind",
			},
			[]string{"kind"},
		),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of finished runs",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		}),
		runActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_active",
			Help:      "Runs started and not yet torn down",
		}),
		exportDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "export_duration_seconds",
				Help:      "Time spent writing export files by format",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"format"},
		),
	}

	m.registry.MustRegister(
		m.runsTotal,
		m.recordsTotal,
		m.itemFaults,
		m.runDuration,
		m.runActive,
		m.exportDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RegisterObservers exposes the live observer count
func (m *Metrics) RegisterObservers(count func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "observers",
			Help:      "Attached real-time observers",
		},
		func() float64 { return float64(count()) },
	))
}

// RunStarted marks a run as active
func (m *Metrics) RunStarted() {
	m.runActive.Inc()
}

// RunFinished records the outcome of a run
func (m *Metrics) RunFinished(status string, records int, elapsed time.Duration) {
	m.runActive.Dec()
	m.runsTotal.WithLabelValues(status).Inc()
	m.recordsTotal.Add(float64(records))
	m.runDuration.Observe(elapsed.Seconds())
}

// ItemFault counts a recovered extraction fault
func (m *Metrics) ItemFault(kind string) {
	m.itemFaults.WithLabelValues(kind).Inc()
}

// ExportDone records the time spent writing one export file
func (m *Metrics) ExportDone(format string, elapsed time.Duration) {
	m.exportDuration.WithLabelValues(format).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
