// Package anomaly scores contract values as outliers within their peer set
// using an isolation forest.
package anomaly

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/montanaflynn/stats"

	"github.com/opensource-finance/sentinel/internal/domain"
)

// Defaults for the detector.
const (
	DefaultMinPeers      = 10
	DefaultTrees         = 100
	DefaultMaxSamples    = 256
	DefaultContamination = 0.1
	DefaultSeed          = 42
)

// Config tunes the detector.
type Config struct {
	MinPeers      int
	Trees         int
	MaxSamples    int
	Contamination float64
	Seed          int64
}

// Detector flags contract values that isolate unusually fast.
type Detector struct {
	cfg Config
}

// NewDetector creates a detector, filling zero fields with defaults.
func NewDetector(cfg Config) *Detector {
	if cfg.MinPeers <= 0 {
		cfg.MinPeers = DefaultMinPeers
	}
	if cfg.Trees <= 0 {
		cfg.Trees = DefaultTrees
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = DefaultMaxSamples
	}
	if cfg.Contamination <= 0 || cfg.Contamination >= 0.5 {
		cfg.Contamination = DefaultContamination
	}
	if cfg.Seed == 0 {
		cfg.Seed = DefaultSeed
	}
	return &Detector{cfg: cfg}
}

// Score returns one result per contract, keyed by contract id. Peer sets
// smaller than the minimum return an empty map and no error.
func (d *Detector) Score(ctx context.Context, peers []domain.Contract) (map[string]domain.AnomalyResult, error) {
	results := make(map[string]domain.AnomalyResult)
	if len(peers) < d.cfg.MinPeers {
		return results, nil
	}

	values := make([]float64, len(peers))
	for i := range peers {
		values[i] = peers[i].ContractValue.InexactFloat64()
	}

	rng := rand.New(rand.NewSource(d.cfg.Seed))
	forest := fitForest(values, d.cfg.Trees, d.cfg.MaxSamples, rng)

	scores := make([]float64, len(values))
	for i, v := range values {
		if i%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		scores[i] = forest.score(v)
	}

	threshold, err := stats.Percentile(stats.Float64Data(scores), 100*(1-d.cfg.Contamination))
	if err != nil {
		return nil, fmt.Errorf("anomaly threshold: %w", err)
	}

	for i, c := range peers {
		isAnomaly := scores[i] > threshold
		normalized := Normalize(scores[i])
		res := domain.AnomalyResult{
			ContractID:   c.ID,
			IsAnomaly:    isAnomaly,
			AnomalyScore: normalized,
		}
		if isAnomaly {
			res.Explanation = fmt.Sprintf("Contract value ₹%s is statistically unusual (anomaly score: %d/100)",
				c.ContractValue.StringFixed(2), normalized)
		} else {
			res.Explanation = fmt.Sprintf("Contract value ₹%s is within the normal range for its peers",
				c.ContractValue.StringFixed(2))
		}
		results[c.ID] = res
	}
	return results, nil
}

// Normalize maps an isolation score to an integer in [0, 100].
func Normalize(score float64) int {
	v := int(math.Round(score * 100))
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
