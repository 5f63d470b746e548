// Package metrics exposes render and HTTP counters in Prometheus format.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"slidecast/internal/pkg/errors"
	"slidecast/internal/worker/processor"
)

const namespace = "slidecast"

// Outcome labels for slidecast_render_jobs_total.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeCanceled  = "canceled"
	OutcomeRejected  = "rejected"
)

// Metrics owns a private registry so tests and multiple servers in one
// process do not collide on the default one.
type Metrics struct {
	registry *prometheus.Registry

	jobs         *prometheus.CounterVec
	failures     *prometheus.CounterVec
	duration     prometheus.Histogram
	stage        *prometheus.HistogramVec
	active       prometheus.Gauge
	outputBytes  prometheus.Histogram
	httpRequests *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "render_jobs_total",
			Help:      "Render jobs by outcome.",
		}, []string{"outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "render_failures_total",
			Help:      "Failed render jobs by error code.",
		}, []string{"code"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Time from receipt to close of a render job.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300, 600},
		}),
		stage: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each render stage.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 3, 10),
		}, []string{"stage"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "render_active_jobs",
			Help:      "Render jobs between receipt and close.",
		}),
		outputBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_output_bytes",
			Help:      "Size of successfully rendered videos.",
			Buckets:   prometheus.ExponentialBuckets(256<<10, 4, 8),
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route pattern and status.",
		}, []string{"method", "route", "status"}),
	}

	m.registry.MustRegister(
		m.jobs, m.failures, m.duration, m.stage, m.active, m.outputBytes, m.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry for GET /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry is exposed for tests and for callers adding their own collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Observe implements processor.Observer.
func (m *Metrics) Observe(_ context.Context, ev processor.Event) {
	if ev.Previous != "" {
		m.stage.WithLabelValues(string(ev.Previous)).Observe(ev.Elapsed.Seconds())
	}

	switch ev.State {
	case processor.StateReceived:
		m.active.Inc()
	case processor.StateClosed:
		m.active.Dec()
		m.duration.Observe(ev.Since.Seconds())
		switch {
		case !ev.Failed():
			m.jobs.WithLabelValues(OutcomeSucceeded).Inc()
			m.outputBytes.Observe(float64(ev.OutputBytes))
		case errors.IsCode(ev.Err, errors.CodeCanceled):
			m.jobs.WithLabelValues(OutcomeCanceled).Inc()
		default:
			m.jobs.WithLabelValues(OutcomeFailed).Inc()
			m.failures.WithLabelValues(string(errors.GetCode(ev.Err))).Inc()
		}
	}
}

// Rejected counts a request turned away before a job started, such as a
// Busy error from the job pool.
func (m *Metrics) Rejected() {
	m.jobs.WithLabelValues(OutcomeRejected).Inc()
}

// HTTPRequest counts one served request. route is the matched pattern, not
// the raw path, to keep label cardinality bounded.
func (m *Metrics) HTTPRequest(method, route string, status int) {
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
