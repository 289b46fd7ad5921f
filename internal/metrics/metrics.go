// Package metrics holds the Prometheus collectors for assessments and the
// HTTP API. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "assay"

// Metrics owns a private registry and the collectors registered on it
type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	assessments        *prometheus.CounterVec
	assessmentDuration *prometheus.HistogramVec
	assessmentScore    prometheus.Histogram
	cacheLookups       *prometheus.CounterVec
	synthesized        prometheus.Counter
	jobs               *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	requestTotal       *prometheus.CounterVec
	rateLimited        prometheus.Counter
}

// New registers every collector on a fresh registry
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		assessments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assessments_total",
			Help:      "Assessments by verdict and source",
		}, []string{"verdict", "source"}),
		assessmentDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "assessment_duration_seconds",
			Help:      "Time spent in the grading engine",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"source"}),
		assessmentScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "assessment_percent",
			Help:      "Distribution of assessment scores",
			Buckets:   []float64{.25, .55, .75, .92, 1},
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_cache_lookups_total",
			Help:      "Report cache lookups by result",
		}, []string{"result"}),
		synthesized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesized_rules_total",
			Help:      "Rules produced by the synthesizer",
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Queued assessment jobs by status",
		}, []string{"status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		}),
	}

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "goroutines",
		Help:      "Number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(
		m.assessments, m.assessmentDuration, m.assessmentScore, m.cacheLookups,
		m.synthesized, m.jobs, m.requestDuration, m.requestTotal, m.rateLimited, goroutines,
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Registry exposes the registry for tests and additional collectors
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveAssessment records one engine run
func (m *Metrics) ObserveAssessment(source, verdict string, percent float64, d time.Duration) {
	if m == nil {
		return
	}
	m.assessments.WithLabelValues(verdict, source).Inc()
	m.assessmentDuration.WithLabelValues(source).Observe(d.Seconds())
	m.assessmentScore.Observe(percent)
}

// RecordCacheLookup counts a report cache hit or miss
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// AddSynthesized counts synthesized rules
func (m *Metrics) AddSynthesized(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.synthesized.Add(float64(n))
}

// RecordJob counts a queued job outcome (queued, completed, failed)
func (m *Metrics) RecordJob(status string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(status).Inc()
}

// ObserveHTTPRequest records request metrics
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(d.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordRateLimited counts a rejected request
func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}
