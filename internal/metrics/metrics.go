// Package metrics exposes Prometheus instrumentation for the scoring engine.
// All methods are safe to call on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's collectors.
type Metrics struct {
	// Assessments produced by subject type and risk level
	Assessments *prometheus.CounterVec

	// Detector failures that were dropped from an assessment
	DetectorFailures *prometheus.CounterVec

	// Scoring latency by operation
	ScoringLatency *prometheus.HistogramVec

	// Model training attempts by outcome
	ModelTrainings *prometheus.CounterVec
}

// New registers the collectors with reg. Use a fresh registry per instance
// in tests; prometheus.DefaultRegisterer in production.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Assessments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_assessments_total",
			Help: "Risk assessments produced by subject type and level",
		}, []string{"subject", "level"}),

		DetectorFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_detector_failures_total",
			Help: "Detector errors treated as no contribution",
		}, []string{"detector"}),

		ScoringLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sentinel_scoring_duration_seconds",
			Help:    "Duration of scoring operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"operation"}),

		ModelTrainings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_model_trainings_total",
			Help: "Fraud model training attempts by outcome",
		}, []string{"outcome"}),
	}
}

// IncrementAssessment records a produced assessment.
func (m *Metrics) IncrementAssessment(subject, level string) {
	if m != nil {
		m.Assessments.WithLabelValues(subject, level).Inc()
	}
}

// IncrementDetectorFailure records a detector error.
func (m *Metrics) IncrementDetectorFailure(detector string) {
	if m != nil {
		m.DetectorFailures.WithLabelValues(detector).Inc()
	}
}

// ObserveScoring records the duration of a scoring operation.
func (m *Metrics) ObserveScoring(operation string, d time.Duration) {
	if m != nil {
		m.ScoringLatency.WithLabelValues(operation).Observe(d.Seconds())
	}
}

// IncrementModelTraining records a training attempt.
func (m *Metrics) IncrementModelTraining(outcome string) {
	if m != nil {
		m.ModelTrainings.WithLabelValues(outcome).Inc()
	}
}
