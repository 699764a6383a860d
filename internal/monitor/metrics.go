package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every Prometheus collector the worker exposes, registered
// against a dedicated registry rather than the global default so the ops
// server's /metrics endpoint never picks up collectors some imported
// package registered globally.
type Metrics struct {
	Registry *prometheus.Registry

	SubmissionsProcessedTotal *prometheus.CounterVec
	SubmissionDuration        prometheus.Histogram
	SandboxExecutionsTotal    *prometheus.CounterVec
	SandboxDuration           *prometheus.HistogramVec
	SecurityEventsTotal       *prometheus.CounterVec
	BrokerRedeliveriesTotal   prometheus.Counter
	StoreOperationsTotal      *prometheus.CounterVec
	ActiveSubmissions         prometheus.Gauge
}

// NewMetrics creates and registers every collector on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		SubmissionsProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "exec_worker",
				Name:      "submissions_processed_total",
				Help:      "Total submissions processed, by final outcome.",
			},
			[]string{"outcome"},
		),

		SubmissionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "exec_worker",
				Name:      "submission_duration_seconds",
				Help:      "Wall-clock duration of one submission's full processing.",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
		),

		SandboxExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "exec_worker",
				Name:      "sandbox_executions_total",
				Help:      "Total sandbox stage executions, by stage and outcome.",
			},
			[]string{"stage", "outcome"},
		),

		SandboxDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "exec_worker",
				Name:      "sandbox_duration_seconds",
				Help:      "Duration of one compile or run stage.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"stage"},
		),

		SecurityEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "exec_worker",
				Name:      "security_events_total",
				Help:      "Escape-pattern detections, by severity.",
			},
			[]string{"severity"},
		),

		BrokerRedeliveriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "exec_worker",
				Name:      "broker_redeliveries_total",
				Help:      "Messages the broker marked redelivered (a prior attempt crashed before ack).",
			},
		),

		StoreOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "exec_worker",
				Name:      "store_operations_total",
				Help:      "Submission Record store operations, by op and outcome.",
			},
			[]string{"op", "outcome"},
		),

		ActiveSubmissions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "exec_worker",
				Name:      "active_submissions",
				Help:      "1 while a submission is being processed, 0 otherwise (prefetch=1 keeps this binary).",
			},
		),
	}

	reg.MustRegister(
		m.SubmissionsProcessedTotal,
		m.SubmissionDuration,
		m.SandboxExecutionsTotal,
		m.SandboxDuration,
		m.SecurityEventsTotal,
		m.BrokerRedeliveriesTotal,
		m.StoreOperationsTotal,
		m.ActiveSubmissions,
	)

	return m
}

// RecordSubmission records the terminal outcome and duration of one
// fully processed submission.
func (m *Metrics) RecordSubmission(outcome string, durationSec float64) {
	m.SubmissionsProcessedTotal.WithLabelValues(outcome).Inc()
	m.SubmissionDuration.Observe(durationSec)
}

// RecordSecurityEvent records an Escape Detector finding by severity.
func (m *Metrics) RecordSecurityEvent(severity string) {
	m.SecurityEventsTotal.WithLabelValues(severity).Inc()
}

// RecordStoreOp records a store Get/Set outcome.
func (m *Metrics) RecordStoreOp(op, outcome string) {
	m.StoreOperationsTotal.WithLabelValues(op, outcome).Inc()
}
