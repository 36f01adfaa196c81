// Package metrics exposes Prometheus collectors for the extraction pipeline,
// the HTTP API and the job subsystem.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/maltedev/tablegen/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const Namespace = "tablegen"

type Metrics struct {
	// Pipeline
	URLsTotal       *prometheus.CounterVec
	URLDuration     *prometheus.HistogramVec
	RowsTotal       prometheus.Counter
	BatchSize       prometheus.Histogram
	PanicsRecovered prometheus.Counter

	// HTTP
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Jobs
	JobsTotal       *prometheus.CounterVec
	OutboxPublished prometheus.Counter
	OutboxFailed    prometheus.Counter

	gatherer prometheus.Gatherer
}

// New registers all collectors with reg. A nil reg gets a private registry so
// tests can build several instances.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	m := &Metrics{gatherer: reg}
	m.initPipelineMetrics(factory)
	m.initHTTPMetrics(factory)
	m.initJobMetrics(factory)
	return m
}

func (m *Metrics) initPipelineMetrics(factory promauto.Factory) {
	m.URLsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "pipeline",
			Name:      "urls_total",
			Help:      "URLs processed by page kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	m.URLDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "pipeline",
			Name:      "url_duration_seconds",
			Help:      "Time spent fetching and extracting one URL",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"kind"},
	)

	m.RowsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "pipeline",
			Name:      "rows_total",
			Help:      "Rows produced, including error rows",
		},
	)

	m.BatchSize = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "pipeline",
			Name:      "batch_size",
			Help:      "Number of URLs per batch",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
		},
	)

	m.PanicsRecovered = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "pipeline",
			Name:      "panics_recovered_total",
			Help:      "Extractions that panicked and were turned into error rows",
		},
	)
}

func (m *Metrics) initHTTPMetrics(factory promauto.Factory) {
	m.RequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	m.RequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
}

func (m *Metrics) initJobMetrics(factory promauto.Factory) {
	m.JobsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "jobs",
			Name:      "finished_total",
			Help:      "Jobs finished by final status",
		},
		[]string{"status"},
	)

	m.OutboxPublished = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "outbox",
			Name:      "published_total",
			Help:      "Outbox events relayed to the stream",
		},
	)

	m.OutboxFailed = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "outbox",
			Name:      "failed_total",
			Help:      "Outbox events that failed to relay",
		},
	)
}

// ObserveURL records the outcome of one pipeline run.
func (m *Metrics) ObserveURL(kind models.PageKind, err error, elapsed time.Duration, rows int) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	k := string(kind)
	if k == "" {
		k = "unknown"
	}
	m.URLsTotal.WithLabelValues(k, outcome).Inc()
	m.URLDuration.WithLabelValues(k).Observe(elapsed.Seconds())
	m.RowsTotal.Add(float64(rows))
}

func (m *Metrics) ObserveBatch(size int) {
	m.BatchSize.Observe(float64(size))
}

func (m *Metrics) ObservePanic() {
	m.PanicsRecovered.Inc()
}

func (m *Metrics) ObserveJob(status models.JobStatus) {
	m.JobsTotal.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) ObserveRelay(err error) {
	if err != nil {
		m.OutboxFailed.Inc()
		return
	}
	m.OutboxPublished.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency labelled by the matched chi
// route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
