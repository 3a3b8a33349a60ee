// Package telemetry implements the Telemetry component (§4.J):
// structured logging plus Prometheus counters/histograms for job
// outcomes, step durations, AI cost, queue depth, and prompt-guard
// security events. No teacher package covers this (the teacher leans
// on plain log/slog throughout with no metrics layer at all), so the
// metrics shape here is enrichment grounded on the Metrics-struct idiom
// used across the rest of the retrieved corpus (a typed struct of
// *prometheus.CounterVec/*HistogramVec built with promauto, served off
// an ambient /metrics route) — see DESIGN.md.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arztflow/pipeline/pkg/guard"
	"github.com/arztflow/pipeline/pkg/jobstore"
	"github.com/arztflow/pipeline/pkg/queue"
)

// Metrics bundles every counter/histogram/gauge the pipeline emits.
type Metrics struct {
	JobsTotal           *prometheus.CounterVec
	StepsTotal          *prometheus.CounterVec
	StepDurationSeconds *prometheus.HistogramVec
	JobCostTotal        prometheus.Counter
	JobTokensTotal       prometheus.Counter
	SecurityEventsTotal *prometheus.CounterVec
	QueueDepth          *prometheus.GaugeVec
	ActiveWorkers       prometheus.Gauge
}

// NewMetrics registers every metric against reg under namespace (e.g.
// "pipeline") and returns the bundle. Pass prometheus.NewRegistry()
// in tests to avoid the default registry's duplicate-registration
// panics across test runs.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		JobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Jobs reaching a terminal status, labeled by that status.",
		}, []string{"status"}),

		StepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_steps_total",
			Help:      "Pipeline steps executed, labeled by step name and terminal status.",
		}, []string{"step_name", "status"}),

		StepDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_step_duration_seconds",
			Help:      "Wall-clock duration of a single pipeline step.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"step_name"}),

		JobCostTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_cost_total",
			Help:      "Cumulative estimated cost (USD) of all AI provider calls.",
		}),

		JobTokensTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_tokens_total",
			Help:      "Cumulative input+output tokens across all AI provider calls.",
		}),

		SecurityEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prompt_guard_events_total",
			Help:      "Prompt Guard detections, labeled by injection category.",
		}, []string{"category"}),

		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Current number of jobs waiting in each priority lane.",
		}, []string{"lane"}),

		ActiveWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_workers",
			Help:      "Workers currently processing a job.",
		}),
	}
}

// RecordJob increments the terminal-status counter.
func (m *Metrics) RecordJob(status jobstore.JobStatus) {
	m.JobsTotal.WithLabelValues(string(status)).Inc()
}

// RecordStep increments the step counter and observes its duration.
func (m *Metrics) RecordStep(stepName string, status jobstore.StepExecutionStatus, durationSeconds float64) {
	m.StepsTotal.WithLabelValues(stepName, string(status)).Inc()
	m.StepDurationSeconds.WithLabelValues(stepName).Observe(durationSeconds)
}

// RecordCost folds an AI call's cost and token usage into the running totals.
func (m *Metrics) RecordCost(cost float64, tokens int64) {
	m.JobCostTotal.Add(cost)
	m.JobTokensTotal.Add(float64(tokens))
}

// RecordInjection increments the security-event counter for a detected
// prompt-injection category.
func (m *Metrics) RecordInjection(category guard.Category) {
	m.SecurityEventsTotal.WithLabelValues(string(category)).Inc()
}

// SetQueueDepths mirrors the Priority Queue's current lane depths into gauges.
func (m *Metrics) SetQueueDepths(depths map[queue.Lane]int64) {
	for _, lane := range queue.Lanes {
		m.QueueDepth.WithLabelValues(string(lane)).Set(float64(depths[lane]))
	}
}

// SetActiveWorkers mirrors the Worker Runtime's current active count.
func (m *Metrics) SetActiveWorkers(n int) {
	m.ActiveWorkers.Set(float64(n))
}
