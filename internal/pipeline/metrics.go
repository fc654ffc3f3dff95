package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the pipeline.
type Metrics struct {
	CyclesTotal        *prometheus.CounterVec
	CycleDuration      prometheus.Histogram
	CycleFetched       prometheus.Histogram
	IncidentsTotal     *prometheus.CounterVec
	AlertsTotal        *prometheus.CounterVec
	RewritesTotal      *prometheus.CounterVec
	ValidationFailures *prometheus.CounterVec
	LastSuccess        prometheus.Gauge
}

// NewMetrics registers and returns pipeline metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "avwatch_cycles_total",
			Help: "Total pipeline cycles by result.",
		}, []string{"result"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "avwatch_cycle_duration_seconds",
			Help:    "Duration of pipeline cycles in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s .. ~512s
		}),
		CycleFetched: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "avwatch_cycle_candidates",
			Help:    "Candidate incidents fetched per cycle.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 9), // 1 .. 256
		}),
		IncidentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "avwatch_incidents_total",
			Help: "Candidate incidents by outcome.",
		}, []string{"outcome"}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "avwatch_alerts_total",
			Help: "Operator alerts sent by scope (incident or cycle).",
		}, []string{"scope"}),
		RewritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "avwatch_rewrites_total",
			Help: "Rewrites by mode (api or fallback).",
		}, []string{"mode"}),
		ValidationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "avwatch_validation_failures_total",
			Help: "Rewritten posts that failed advisory validation, by mode.",
		}, []string{"mode"}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "avwatch_last_successful_cycle_timestamp_seconds",
			Help: "Unix time of the last cycle that completed without a fatal error.",
		}),
	}

	reg.MustRegister(
		m.CyclesTotal,
		m.CycleDuration,
		m.CycleFetched,
		m.IncidentsTotal,
		m.AlertsTotal,
		m.RewritesTotal,
		m.ValidationFailures,
		m.LastSuccess,
	)

	return m
}

// Hooks returns Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnCycle: func(stats *Stats, dur time.Duration, err error) {
			result := "ok"
			if err != nil {
				result = "error"
			} else {
				m.LastSuccess.SetToCurrentTime()
			}
			m.CyclesTotal.WithLabelValues(result).Inc()
			m.CycleDuration.Observe(dur.Seconds())
			m.CycleFetched.Observe(float64(stats.Fetched))
		},
		OnIncident: func(outcome string) {
			m.IncidentsTotal.WithLabelValues(outcome).Inc()
		},
		OnAlert: func(scope string) {
			m.AlertsTotal.WithLabelValues(scope).Inc()
		},
		OnRewrite: func(mode string) {
			m.RewritesTotal.WithLabelValues(mode).Inc()
		},
		OnValidationFailure: func(mode string) {
			m.ValidationFailures.WithLabelValues(mode).Inc()
		},
	}
}
