package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	m.IncrementAssessment("contract", "High")
	m.IncrementDetectorFailure("anomaly")
	m.ObserveScoring("contracts", time.Millisecond)
	m.IncrementModelTraining("trained")
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncrementAssessment("contract", "High")
	m.IncrementAssessment("contract", "High")
	m.IncrementDetectorFailure("similarity")
	m.IncrementModelTraining("trained")

	if got := testutil.ToFloat64(m.Assessments.WithLabelValues("contract", "High")); got != 2 {
		t.Errorf("expected 2 assessments, got %v", got)
	}
	if got := testutil.ToFloat64(m.DetectorFailures.WithLabelValues("similarity")); got != 1 {
		t.Errorf("expected 1 detector failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.ModelTrainings.WithLabelValues("trained")); got != 1 {
		t.Errorf("expected 1 training, got %v", got)
	}
}

func TestSeparateRegistries(t *testing.T) {
	// Two instances on separate registries must not collide.
	New(prometheus.NewRegistry())
	New(prometheus.NewRegistry())
}
