// Package classifier trains and serves the welfare fraud ensemble: a
// balanced random forest and a gradient boosted model whose probabilities
// are averaged.
package classifier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/opensource-finance/sentinel/internal/features"
)

// Probability cut-offs for the risk status.
const (
	RedThreshold    = 0.7
	YellowThreshold = 0.4
)

// minTrainingSamples is the smallest usable dataset after validation.
const minTrainingSamples = 10

// Params configure training.
type Params struct {
	Forest       ForestParams `json:"forest"`
	Boost        BoostParams  `json:"boost"`
	TestFraction float64      `json:"testFraction"`
	Seed         int64        `json:"seed"`
}

// DefaultParams returns the production training parameters.
func DefaultParams() Params {
	return Params{
		Forest: ForestParams{
			Trees:           200,
			MaxDepth:        15,
			MinSamplesSplit: 10,
			MinSamplesLeaf:  5,
		},
		Boost: BoostParams{
			Trees:           150,
			MaxDepth:        7,
			LearningRate:    0.1,
			MinSamplesSplit: 2,
			MinSamplesLeaf:  1,
		},
		TestFraction: 0.2,
		Seed:         42,
	}
}

// Model is a trained ensemble together with the schema it was fitted on.
type Model struct {
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Schema    []string  `json:"schema"`
	TrainedAt time.Time `json:"trainedAt"`
	Samples   int       `json:"samples"`
	Positives int       `json:"positives"`
	Params    Params    `json:"params"`
	Metrics   Metrics   `json:"metrics"`
	Scaler    Scaler    `json:"scaler"`
	Forest    Forest    `json:"forest"`
	Boost     Boost     `json:"boost"`
}

// Train fits a model from labeled records.
func Train(ctx context.Context, name string, records []Record, eng *features.Engineer, p Params) (*Model, error) {
	X, y, dropped := buildDataset(records, eng)
	if dropped > 0 {
		slog.Warn("dropped invalid training records", "model", name, "dropped", dropped)
	}
	if len(X) < minTrainingSamples {
		return nil, fmt.Errorf("%w: %d usable training records, need %d", domain.ErrServiceUnavailable, len(X), minTrainingSamples)
	}

	positives := 0
	for _, label := range y {
		positives += label
	}
	if positives < 2 || len(y)-positives < 2 {
		return nil, fmt.Errorf("%w: training data needs at least two samples of each class (positives=%d, total=%d)",
			domain.ErrServiceUnavailable, positives, len(y))
	}

	rng := rand.New(rand.NewSource(p.Seed))
	trainIdx, testIdx := stratifiedSplit(y, p.TestFraction, rng)

	Xtrain, ytrain := subset(X, y, trainIdx)
	scaler, err := fitScaler(Xtrain)
	if err != nil {
		return nil, fmt.Errorf("fit scaler: %w", err)
	}
	Xs := scaler.TransformAll(Xtrain)

	forest, err := fitForest(ctx, Xs, ytrain, p.Forest, p.Seed)
	if err != nil {
		return nil, fmt.Errorf("fit forest: %w", err)
	}
	boost, err := fitBoost(ctx, Xs, ytrain, p.Boost)
	if err != nil {
		return nil, fmt.Errorf("fit boosting: %w", err)
	}

	m := &Model{
		Name:      name,
		Version:   uuid.NewString(),
		Schema:    eng.Schema(),
		TrainedAt: time.Now().UTC(),
		Samples:   len(y),
		Positives: positives,
		Params:    p,
		Scaler:    scaler,
		Forest:    forest,
		Boost:     boost,
	}

	if len(testIdx) > 0 {
		Xtest, ytest := subset(X, y, testIdx)
		probs := make([]float64, len(Xtest))
		for i, row := range Xtest {
			probs[i] = m.Probability(row)
		}
		m.Metrics = evaluate(probs, ytest)
	}

	slog.Info("fraud model trained",
		"model", name,
		"version", m.Version,
		"samples", m.Samples,
		"positives", positives,
		"accuracy", m.Metrics.Accuracy,
		"precision", m.Metrics.Precision,
		"recall", m.Metrics.Recall,
		"f1", m.Metrics.F1,
		"roc_auc", m.Metrics.ROCAUC,
	)
	return m, nil
}

func subset(X [][]float64, y []int, idx []int) ([][]float64, []int) {
	xs := make([][]float64, len(idx))
	ys := make([]int, len(idx))
	for i, k := range idx {
		xs[i], ys[i] = X[k], y[k]
	}
	return xs, ys
}

// Probability averages the forest and boosting probabilities for a raw
// (unscaled) feature row.
func (m *Model) Probability(x []float64) float64 {
	z := m.Scaler.Transform(x)
	return (m.Forest.Proba(z) + m.Boost.Proba(z)) / 2
}

// Predict scores a feature vector and attaches rule-derived flags.
func (m *Model) Predict(fv domain.FeatureVector) (domain.Prediction, error) {
	values := fv.Values()
	if len(values) != len(m.Schema) {
		return domain.Prediction{}, fmt.Errorf("%w: vector has %d features, model expects %d",
			domain.ErrSchemaMismatch, len(values), len(m.Schema))
	}

	raw := m.Probability(values)
	status := StatusFor(raw)

	return domain.Prediction{
		FraudProbability: math.Round(raw*10000) / 10000,
		RiskStatus:       status,
		RiskLevel:        status.Level(),
		IsFraud:          raw > 0.5,
		Flags:            Flags(fv),
		Features:         fv,
		ModelVersion:     m.Version,
	}, nil
}

// StatusFor maps a probability to its risk status.
func StatusFor(prob float64) domain.RiskStatus {
	switch {
	case prob > RedThreshold:
		return domain.RiskStatusRed
	case prob > YellowThreshold:
		return domain.RiskStatusYellow
	default:
		return domain.RiskStatusGreen
	}
}

// Flags derives the secondary flags reported with every prediction.
func Flags(fv domain.FeatureVector) []domain.Flag {
	var flags []domain.Flag
	if fv.AssetRiskScore >= 3 {
		asset := fv.AssetCategory
		if asset == "" {
			asset = fmt.Sprintf("asset tier %d", fv.AssetRiskScore)
		}
		flags = append(flags, domain.Flag{
			Type:      domain.FlagHighValueAsset,
			Severity:  domain.SeverityHigh,
			Rationale: "Possesses " + asset,
			Source:    domain.SourceModel,
		})
	}
	if fv.IncomeAssetMismatch > 2 {
		flags = append(flags, domain.Flag{
			Type:      domain.FlagIncomeAssetMismatch,
			Severity:  domain.SeverityHigh,
			Rationale: "Asset value exceeds declared income capacity",
			Source:    domain.SourceModel,
		})
	}
	if fv.AgeYears < 25 && fv.AssetRiskScore > 0 {
		flags = append(flags, domain.Flag{
			Type:      domain.FlagYoungAgeHighAssets,
			Severity:  domain.SeverityMedium,
			Rationale: fmt.Sprintf("Age %.1f with significant assets", fv.AgeYears),
			Source:    domain.SourceModel,
		})
	}
	return flags
}

// CheckSchema fails with domain.ErrSchemaMismatch unless schema equals the
// model's training schema exactly.
func (m *Model) CheckSchema(schema []string) error {
	if !slices.Equal(m.Schema, schema) {
		return fmt.Errorf("%w: model %s trained on [%s], engineer produces [%s]",
			domain.ErrSchemaMismatch, m.Version, strings.Join(m.Schema, ","), strings.Join(schema, ","))
	}
	return nil
}

// SchemaKey identifies a feature schema.
func SchemaKey(schema []string) string {
	sum := sha256.Sum256([]byte(strings.Join(schema, "\x1f")))
	return hex.EncodeToString(sum[:8])
}

// Artifact serializes the model.
func (m *Model) Artifact() (*domain.ModelArtifact, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal model: %w", err)
	}
	return &domain.ModelArtifact{
		Name:      m.Name,
		Version:   m.Version,
		SchemaKey: SchemaKey(m.Schema),
		Data:      data,
		CreatedAt: m.TrainedAt,
	}, nil
}

// FromArtifact decodes a model artifact.
func FromArtifact(a *domain.ModelArtifact) (*Model, error) {
	var m Model
	if err := json.Unmarshal(a.Data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal model %s: %w", a.Name, err)
	}
	if a.SchemaKey != "" && a.SchemaKey != SchemaKey(m.Schema) {
		return nil, fmt.Errorf("%w: artifact key %s does not match its schema", domain.ErrSchemaMismatch, a.SchemaKey)
	}
	return &m, nil
}
