// Package observability holds the run-level Prometheus instruments.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	pages           *prometheus.CounterVec
	featuresWritten prometheus.Counter
	featuresSkipped *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	upstreamErrors  *prometheus.CounterVec
	retries         *prometheus.CounterVec
	cacheOps        *prometheus.CounterVec
	totalHint       prometheus.Gauge
	runDuration     prometheus.Gauge
	runSuccess      prometheus.Gauge
}

func New(r prometheus.Registerer, layer string) *Metrics {
	constLabels := prometheus.Labels{"layer": layer}
	m := &Metrics{
		pages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "wfsdump_pages_total",
				Help:        "Pages consumed by source.",
				ConstLabels: constLabels,
			},
			[]string{"source"},
		),
		featuresWritten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "wfsdump_features_written_total",
				Help:        "Features handed to the output writer.",
				ConstLabels: constLabels,
			},
		),
		featuresSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "wfsdump_features_skipped_total",
				Help:        "Features dropped during normalization, by reason.",
				ConstLabels: constLabels,
			},
			[]string{"reason"},
		),
		upstreamLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "wfsdump_upstream_latency_seconds",
				Help:        "Latency of WFS requests in seconds.",
				Buckets:     prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~40s
				ConstLabels: constLabels,
			},
			[]string{"op"},
		),
		upstreamErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "wfsdump_upstream_errors_total",
				Help:        "Failed WFS requests by error kind.",
				ConstLabels: constLabels,
			},
			[]string{"kind"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "wfsdump_retries_total",
				Help:        "Page request retries by error kind.",
				ConstLabels: constLabels,
			},
			[]string{"kind"},
		),
		cacheOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "wfsdump_page_cache_total",
				Help:        "Page cache lookups by outcome.",
				ConstLabels: constLabels,
			},
			[]string{"outcome"},
		),
		totalHint: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "wfsdump_total_features_hint",
				Help:        "Total matching features reported by the server, -1 if unknown.",
				ConstLabels: constLabels,
			},
		),
		runDuration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "wfsdump_run_duration_seconds",
				Help:        "Wall time of the last run.",
				ConstLabels: constLabels,
			},
		),
		runSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "wfsdump_run_success",
				Help:        "1 if the last run committed its output, 0 otherwise.",
				ConstLabels: constLabels,
			},
		),
	}
	m.totalHint.Set(-1)
	if r != nil {
		r.MustRegister(
			m.pages, m.featuresWritten, m.featuresSkipped, m.upstreamLatency,
			m.upstreamErrors, m.retries, m.cacheOps, m.totalHint, m.runDuration, m.runSuccess,
		)
	}
	return m
}

func (m *Metrics) ObservePage(source string) {
	if m == nil {
		return
	}
	m.pages.WithLabelValues(source).Inc()
}

func (m *Metrics) ObserveUpstream(op string, seconds float64) {
	if m == nil {
		return
	}
	m.upstreamLatency.WithLabelValues(op).Observe(seconds)
}

func (m *Metrics) IncUpstreamError(kind string) {
	if m == nil {
		return
	}
	m.upstreamErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) AddWritten(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.featuresWritten.Add(float64(n))
}

func (m *Metrics) IncSkipped(reason string) {
	if m == nil {
		return
	}
	m.featuresSkipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncRetry(kind string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncCache(outcome string) {
	if m == nil {
		return
	}
	m.cacheOps.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetTotalHint(n int) {
	if m == nil {
		return
	}
	m.totalHint.Set(float64(n))
}

func (m *Metrics) SetRunResult(ok bool, seconds float64) {
	if m == nil {
		return
	}
	m.runDuration.Set(seconds)
	if ok {
		m.runSuccess.Set(1)
	} else {
		m.runSuccess.Set(0)
	}
}
