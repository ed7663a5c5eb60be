package anomaly

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/sentinel/internal/domain"
)

func peerSet(values ...int64) []domain.Contract {
	peers := make([]domain.Contract, len(values))
	for i, v := range values {
		peers[i] = domain.Contract{
			ID:            fmt.Sprintf("c-%02d", i),
			ContractValue: decimal.NewFromInt(v),
		}
	}
	return peers
}

func TestScoreInsufficientPeers(t *testing.T) {
	d := NewDetector(Config{})
	results, err := d.Score(context.Background(), peerSet(100, 110, 120, 130, 140, 150, 160, 170, 5000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected empty result below %d peers, got %d", DefaultMinPeers, len(results))
	}
}

func TestScoreFlagsOutlier(t *testing.T) {
	d := NewDetector(Config{})
	peers := peerSet(100, 102, 98, 101, 99, 103, 97, 100, 104, 50000)

	results, err := d.Score(context.Background(), peers)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != len(peers) {
		t.Fatalf("expected %d results, got %d", len(peers), len(results))
	}

	outlier := results["c-09"]
	if !outlier.IsAnomaly {
		t.Errorf("expected the 50000 contract to be anomalous: %+v", outlier)
	}
	if outlier.Explanation == "" {
		t.Error("expected an explanation for the anomaly")
	}

	anomalies := 0
	for id, r := range results {
		if r.AnomalyScore < 0 || r.AnomalyScore > 100 {
			t.Errorf("%s: score out of range: %d", id, r.AnomalyScore)
		}
		if r.IsAnomaly {
			anomalies++
		}
		if id != "c-09" && r.AnomalyScore >= outlier.AnomalyScore {
			t.Errorf("%s scored %d, not below outlier %d", id, r.AnomalyScore, outlier.AnomalyScore)
		}
	}
	if anomalies != 1 {
		t.Errorf("expected exactly 1 anomaly at 10%% contamination, got %d", anomalies)
	}
}

func TestScoreIsDeterministic(t *testing.T) {
	d := NewDetector(Config{Seed: 7})
	peers := peerSet(10, 20, 30, 40, 50, 60, 70, 80, 90, 100, 4000, 35)

	a, err := d.Score(context.Background(), peers)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := d.Score(context.Background(), peers)
	for id := range a {
		if a[id] != b[id] {
			t.Errorf("%s: results differ between runs: %+v vs %+v", id, a[id], b[id])
		}
	}
}

func TestScoreCanceled(t *testing.T) {
	d := NewDetector(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Score(ctx, peerSet(1, 2, 3, 4, 5, 6, 7, 8, 9, 10))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestNormalize(t *testing.T) {
	tests := map[float64]int{
		-0.2:  0,
		0:     0,
		0.42:  42,
		0.999: 100,
		1.3:   100,
	}
	for in, want := range tests {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%f) = %d, want %d", in, got, want)
		}
	}
}

func TestAvgPathLength(t *testing.T) {
	if avgPathLength(1) != 0 || avgPathLength(2) != 1 {
		t.Error("unexpected base cases")
	}
	if avgPathLength(256) <= avgPathLength(16) {
		t.Error("expected path length to grow with sample size")
	}
}
