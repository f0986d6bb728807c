// Package metrics provides Prometheus metrics for the studio agent.
//
// Every Record/Observe method is safe to call on a nil *Metrics, so packages
// can be constructed without metrics in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the agent.
type Metrics struct {
	TurnsTotal         *prometheus.CounterVec
	TurnDuration       *prometheus.HistogramVec
	GenerationDuration *prometheus.HistogramVec
	ArtifactsSaved     *prometheus.CounterVec
	VersionConflicts   *prometheus.CounterVec
	BackendErrors      *prometheus.CounterVec
	TasksTotal         *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		TurnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "studio_turns_total",
				Help: "Conversation turns by intent and outcome.",
			},
			[]string{"intent", "outcome"},
		),
		TurnDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "studio_turn_duration_seconds",
				Help:    "Conversation turn duration by intent.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"intent"},
		),
		GenerationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "studio_generation_duration_seconds",
				Help:    "Generation pipeline duration by template and outcome.",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"template", "outcome"},
		),
		ArtifactsSaved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "studio_artifacts_saved_total",
				Help: "Artifacts saved by template and status.",
			},
			[]string{"template", "status"},
		),
		VersionConflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "studio_version_conflicts_total",
				Help: "Artifact version conflicts retried, by template.",
			},
			[]string{"template"},
		),
		BackendErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "studio_backend_errors_total",
				Help: "Failed backend calls by backend.",
			},
			[]string{"backend"},
		),
		TasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "studio_tasks_total",
				Help: "Queue tasks by task type and outcome.",
			},
			[]string{"task", "outcome"},
		),
		registry: reg,
	}

	reg.MustRegister(m.TurnsTotal)
	reg.MustRegister(m.TurnDuration)
	reg.MustRegister(m.GenerationDuration)
	reg.MustRegister(m.ArtifactsSaved)
	reg.MustRegister(m.VersionConflicts)
	reg.MustRegister(m.BackendErrors)
	reg.MustRegister(m.TasksTotal)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordTurn counts a conversation turn and its duration.
func (m *Metrics) RecordTurn(intent, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(intent, outcome).Inc()
	m.TurnDuration.WithLabelValues(intent).Observe(seconds)
}

// ObserveGeneration records pipeline duration.
func (m *Metrics) ObserveGeneration(template, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.GenerationDuration.WithLabelValues(template, outcome).Observe(seconds)
}

// RecordArtifact counts a saved artifact.
func (m *Metrics) RecordArtifact(template, status string) {
	if m == nil {
		return
	}
	m.ArtifactsSaved.WithLabelValues(template, status).Inc()
}

// RecordConflict counts a retried version conflict.
func (m *Metrics) RecordConflict(template string) {
	if m == nil {
		return
	}
	m.VersionConflicts.WithLabelValues(template).Inc()
}

// RecordBackendError counts a failed backend call.
func (m *Metrics) RecordBackendError(backend string) {
	if m == nil {
		return
	}
	m.BackendErrors.WithLabelValues(backend).Inc()
}

// RecordTask counts a processed queue task.
func (m *Metrics) RecordTask(task, outcome string) {
	if m == nil {
		return
	}
	m.TasksTotal.WithLabelValues(task, outcome).Inc()
}
