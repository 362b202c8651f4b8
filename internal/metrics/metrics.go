// Package metrics exposes Prometheus counters for the review pipeline sweeps.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "reviewflow"

// Outcome labels.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
	OutcomeRetried   = "retried"
	OutcomeExhausted = "exhausted"
	OutcomeDeferred  = "deferred"
	OutcomeConflict  = "conflict"
	OutcomeTimedOut  = "timed_out"
)

// Metrics holds the pipeline collectors.
type Metrics struct {
	sweeps        *prometheus.CounterVec
	sweepErrors   *prometheus.CounterVec
	sweepDuration *prometheus.HistogramVec
	stageTasks    *prometheus.CounterVec
	retries       *prometheus.CounterVec
}

// New registers the pipeline collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		sweeps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Number of sweep invocations.",
		}, []string{"sweep"}),
		sweepErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_errors_total",
			Help:      "Number of sweeps that ended with an error.",
		}, []string{"sweep"}),
		sweepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Sweep wall time.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"sweep"}),
		stageTasks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_tasks_total",
			Help:      "Tasks processed by stage executors, by outcome.",
		}, []string{"stage", "outcome"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_decisions_total",
			Help:      "Retry sweep decisions, by outcome.",
		}, []string{"outcome"}),
	}
}

// ObserveSweep records one sweep run.
func (m *Metrics) ObserveSweep(sweep string, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.sweeps.WithLabelValues(sweep).Inc()
	m.sweepDuration.WithLabelValues(sweep).Observe(took.Seconds())
	if err != nil {
		m.sweepErrors.WithLabelValues(sweep).Inc()
	}
}

// StageTask records a single task outcome inside a stage batch.
func (m *Metrics) StageTask(stage, outcome string) {
	if m == nil {
		return
	}
	m.stageTasks.WithLabelValues(stage, outcome).Inc()
}

// RetryDecision records a retry sweep decision for one task.
func (m *Metrics) RetryDecision(outcome string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(outcome).Inc()
}
