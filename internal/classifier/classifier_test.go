package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/opensource-finance/sentinel/internal/features"
)

func testEngineer() *features.Engineer {
	return features.NewEngineer(func() time.Time {
		return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	})
}

func testParams() Params {
	p := DefaultParams()
	p.Forest.Trees = 25
	p.Boost.Trees = 25
	return p
}

var assetCycle = []string{
	features.AssetStandard,
	features.AssetMutualFunds,
	features.AssetLuxuryCar,
	features.AssetProperty,
}

func syntheticRecords(n int) []Record {
	records := make([]Record, n)
	for i := range records {
		records[i] = Record{
			Income:        float64((i*37)%50) * 100_000,
			DateOfBirth:   fmt.Sprintf("%d-03-15", 1960+i%40),
			Address:       fmt.Sprintf("House %d, Ward %d, City", i, i%7),
			AssetCategory: assetCycle[i%len(assetCycle)],
		}
	}
	return records
}

type countingSource struct {
	records []Record
	calls   atomic.Int32
	delay   time.Duration
}

func (s *countingSource) Load(context.Context) ([]Record, error) {
	s.calls.Add(1)
	time.Sleep(s.delay)
	return s.records, nil
}

func mustTrain(t *testing.T) *Model {
	t.Helper()
	m, err := Train(context.Background(), "test-model", syntheticRecords(200), testEngineer(), testParams())
	if err != nil {
		t.Fatalf("train failed: %v", err)
	}
	return m
}

func vector(t *testing.T, income float64, dob, asset string) domain.FeatureVector {
	t.Helper()
	fv, err := testEngineer().Compute(features.Input{
		DeclaredIncome: income,
		DateOfBirth:    dob,
		Address:        "12 MG Road, Delhi",
		AssetCategory:  asset,
	})
	if err != nil {
		t.Fatalf("compute features: %v", err)
	}
	return fv
}

func TestLabel(t *testing.T) {
	tests := []struct {
		r    Record
		want int
	}{
		{Record{Income: 500_000, AssetCategory: features.AssetLuxuryCar}, 1},
		{Record{Income: 2_999_999, AssetCategory: features.AssetProperty}, 1},
		{Record{Income: 3_000_000, AssetCategory: features.AssetProperty}, 0},
		{Record{Income: 100_000, AssetCategory: features.AssetMutualFunds}, 0},
		{Record{Income: 100_000, AssetCategory: "Yacht"}, 0},
	}
	for _, tt := range tests {
		if got := Label(tt.r); got != tt.want {
			t.Errorf("Label(%+v) = %d, want %d", tt.r, got, tt.want)
		}
	}
}

func TestTrainAndPredict(t *testing.T) {
	m := mustTrain(t)

	if m.Samples != 200 {
		t.Errorf("expected 200 samples, got %d", m.Samples)
	}
	if len(m.Forest.Trees) != 25 || len(m.Boost.Trees) != 25 {
		t.Errorf("unexpected ensemble sizes: %d / %d", len(m.Forest.Trees), len(m.Boost.Trees))
	}
	if m.Metrics.Accuracy < 0.9 {
		t.Errorf("expected hold-out accuracy >= 0.9, got %+v", m.Metrics)
	}

	fraud, err := m.Predict(vector(t, 500_000, "1980-01-01", features.AssetProperty))
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}
	if fraud.FraudProbability <= RedThreshold || fraud.RiskStatus != domain.RiskStatusRed || fraud.RiskLevel != domain.RiskLevelHigh {
		t.Errorf("expected red for property on low income, got %+v", fraud)
	}
	if !fraud.IsFraud {
		t.Error("expected is_fraud")
	}

	clean, err := m.Predict(vector(t, 4_500_000, "1980-01-01", features.AssetStandard))
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}
	if clean.FraudProbability > YellowThreshold || clean.RiskStatus != domain.RiskStatusGreen {
		t.Errorf("expected green for high income standard assets, got %+v", clean)
	}
	if clean.ModelVersion != m.Version {
		t.Errorf("expected model version %s, got %s", m.Version, clean.ModelVersion)
	}
}

func TestPredictIsDeterministic(t *testing.T) {
	m := mustTrain(t)
	fv := vector(t, 1_500_000, "1995-07-01", features.AssetLuxuryCar)

	a, _ := m.Predict(fv)
	b, _ := m.Predict(fv)
	if a.FraudProbability != b.FraudProbability {
		t.Errorf("expected identical probabilities, got %f and %f", a.FraudProbability, b.FraudProbability)
	}
}

func TestTrainingIsReproducible(t *testing.T) {
	a := mustTrain(t)
	b := mustTrain(t)
	x := vector(t, 2_200_000, "1990-05-05", features.AssetLuxuryCar).Values()
	if a.Probability(x) != b.Probability(x) {
		t.Errorf("expected same seed to give the same model: %f vs %f", a.Probability(x), b.Probability(x))
	}
}

func TestArtifactRoundTrip(t *testing.T) {
	m := mustTrain(t)
	a, err := m.Artifact()
	if err != nil {
		t.Fatalf("artifact: %v", err)
	}
	if a.SchemaKey != SchemaKey(domain.FeatureSchema()) {
		t.Errorf("unexpected schema key %s", a.SchemaKey)
	}

	loaded, err := FromArtifact(a)
	if err != nil {
		t.Fatalf("from artifact: %v", err)
	}
	x := vector(t, 800_000, "1999-12-31", features.AssetProperty).Values()
	if loaded.Probability(x) != m.Probability(x) {
		t.Errorf("expected identical probability after round trip")
	}

	a.SchemaKey = "deadbeef"
	if _, err := FromArtifact(a); !errors.Is(err, domain.ErrSchemaMismatch) {
		t.Errorf("expected ErrSchemaMismatch for wrong key, got %v", err)
	}
}

func TestCheckSchema(t *testing.T) {
	m := &Model{Schema: domain.FeatureSchema()}
	if err := m.CheckSchema(domain.FeatureSchema()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	reordered := domain.FeatureSchema()
	reordered[0], reordered[1] = reordered[1], reordered[0]
	if err := m.CheckSchema(reordered); !errors.Is(err, domain.ErrSchemaMismatch) {
		t.Errorf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestTrainUnusableData(t *testing.T) {
	tests := []struct {
		name    string
		records []Record
	}{
		{"too few", syntheticRecords(5)},
		{"single class", func() []Record {
			rs := syntheticRecords(50)
			for i := range rs {
				rs[i].AssetCategory = features.AssetStandard
			}
			return rs
		}()},
		{"all invalid", func() []Record {
			rs := syntheticRecords(50)
			for i := range rs {
				rs[i].DateOfBirth = "not a date"
			}
			return rs
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Train(context.Background(), "m", tt.records, testEngineer(), testParams())
			if !errors.Is(err, domain.ErrServiceUnavailable) {
				t.Errorf("expected ErrServiceUnavailable, got %v", err)
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := map[float64]domain.RiskStatus{
		0:     domain.RiskStatusGreen,
		0.4:   domain.RiskStatusGreen,
		0.41:  domain.RiskStatusYellow,
		0.7:   domain.RiskStatusYellow,
		0.701: domain.RiskStatusRed,
		1:     domain.RiskStatusRed,
	}
	for prob, want := range tests {
		if got := StatusFor(prob); got != want {
			t.Errorf("StatusFor(%v) = %s, want %s", prob, got, want)
		}
	}
}

// constantModel returns a model whose forest and boosting stages both
// predict p for every input.
func constantModel(p float64) *Model {
	schema := domain.FeatureSchema()
	scaler := Scaler{Mean: make([]float64, len(schema)), Scale: make([]float64, len(schema))}
	for i := range scaler.Scale {
		scaler.Scale[i] = 1
	}
	return &Model{
		Schema: schema,
		Scaler: scaler,
		Forest: Forest{Trees: []Tree{{Nodes: []Node{{Left: -1, Right: -1, Value: p}}}}},
		Boost:  Boost{Init: math.Log(p / (1 - p)), LearningRate: 0.1},
	}
}

func TestPredictStatusUsesUnroundedProbability(t *testing.T) {
	tests := []struct {
		name       string
		prob       float64
		wantStatus domain.RiskStatus
		wantReport float64
	}{
		{"just over red cutoff", 0.70003, domain.RiskStatusRed, 0.7},
		{"just over yellow cutoff", 0.40003, domain.RiskStatusYellow, 0.4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred, err := constantModel(tt.prob).Predict(domain.FeatureVector{})
			if err != nil {
				t.Fatalf("predict failed: %v", err)
			}
			if pred.RiskStatus != tt.wantStatus {
				t.Errorf("expected status %s, got %s", tt.wantStatus, pred.RiskStatus)
			}
			if pred.FraudProbability != tt.wantReport {
				t.Errorf("expected reported probability %v, got %v", tt.wantReport, pred.FraudProbability)
			}
		})
	}
}

func TestFlags(t *testing.T) {
	fv := domain.FeatureVector{
		IncomeLevel:         0,
		AgeYears:            22.4,
		AssetRiskScore:      4,
		IncomeAssetMismatch: 4,
		AssetCategory:       features.AssetProperty,
	}
	flags := Flags(fv)
	want := []string{domain.FlagHighValueAsset, domain.FlagIncomeAssetMismatch, domain.FlagYoungAgeHighAssets}
	if len(flags) != len(want) {
		t.Fatalf("expected %d flags, got %+v", len(want), flags)
	}
	for i, f := range flags {
		if f.Type != want[i] {
			t.Errorf("flag %d: expected %s, got %s", i, want[i], f.Type)
		}
		if f.Source != domain.SourceModel {
			t.Errorf("flag %d: expected model source, got %s", i, f.Source)
		}
	}
	if flags[0].Rationale != "Possesses Property > 50L" {
		t.Errorf("unexpected rationale %q", flags[0].Rationale)
	}

	if got := Flags(domain.FeatureVector{AgeYears: 40, IncomeLevel: 3}); len(got) != 0 {
		t.Errorf("expected no flags, got %+v", got)
	}
}

func TestRocAUC(t *testing.T) {
	if got := rocAUC([]float64{0.1, 0.4, 0.35, 0.8}, []int{0, 0, 1, 1}); math.Abs(got-0.75) > 1e-9 {
		t.Errorf("expected 0.75, got %f", got)
	}
	if got := rocAUC([]float64{0.1, 0.9}, []int{1, 1}); got != 0 {
		t.Errorf("expected 0 with one class, got %f", got)
	}
}

func TestStratifiedSplit(t *testing.T) {
	y := make([]int, 100)
	for i := 0; i < 20; i++ {
		y[i] = 1
	}
	train, test := stratifiedSplit(y, 0.2, rand.New(rand.NewSource(1)))
	if len(train)+len(test) != 100 || len(test) != 20 {
		t.Fatalf("unexpected split sizes %d/%d", len(train), len(test))
	}
	positives := 0
	for _, i := range test {
		positives += y[i]
	}
	if positives != 4 {
		t.Errorf("expected 4 positives in test split, got %d", positives)
	}
}

func TestManagerTrainsOnce(t *testing.T) {
	src := &countingSource{records: syntheticRecords(120), delay: 20 * time.Millisecond}
	store := NewMemoryStore()
	mgr := NewManager(ManagerConfig{Name: "m", Store: store, Source: src, Engineer: testEngineer(), Params: testParams()})

	var wg sync.WaitGroup
	models := make([]*Model, 8)
	errs := make([]error, 8)
	for i := range models {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			models[i], errs[i] = mgr.Model(context.Background())
		}(i)
	}
	wg.Wait()

	for i := range models {
		if errs[i] != nil {
			t.Fatalf("call %d failed: %v", i, errs[i])
		}
		if models[i] != models[0] {
			t.Errorf("call %d returned a different model", i)
		}
	}
	if got := src.calls.Load(); got != 1 {
		t.Errorf("expected exactly 1 training pass, got %d", got)
	}
	if _, err := store.Load(context.Background(), "m"); err != nil {
		t.Errorf("expected artifact to be persisted: %v", err)
	}
}

func TestManagerLoadsStoredArtifact(t *testing.T) {
	store := NewMemoryStore()
	trained := mustTrain(t)
	trained.Name = "m"
	a, _ := trained.Artifact()
	if err := store.Save(context.Background(), a); err != nil {
		t.Fatalf("save: %v", err)
	}

	src := &countingSource{records: syntheticRecords(120)}
	mgr := NewManager(ManagerConfig{Name: "m", Store: store, Source: src, Engineer: testEngineer(), Params: testParams()})

	m, err := mgr.Model(context.Background())
	if err != nil {
		t.Fatalf("model: %v", err)
	}
	if m.Version != trained.Version {
		t.Errorf("expected stored version %s, got %s", trained.Version, m.Version)
	}
	if src.calls.Load() != 0 {
		t.Error("did not expect training when an artifact exists")
	}
	if mgr.Current() != m {
		t.Error("expected Current to return the loaded model")
	}
}

func TestManagerSchemaMismatch(t *testing.T) {
	store := NewMemoryStore()
	trained := mustTrain(t)
	trained.Name = "m"
	trained.Schema = []string{"income_level", "age_years"}
	a, _ := trained.Artifact()
	_ = store.Save(context.Background(), a)

	src := &countingSource{records: syntheticRecords(120)}
	mgr := NewManager(ManagerConfig{Name: "m", Store: store, Source: src, Engineer: testEngineer(), Params: testParams()})

	if _, err := mgr.Model(context.Background()); !errors.Is(err, domain.ErrSchemaMismatch) {
		t.Errorf("expected ErrSchemaMismatch, got %v", err)
	}
	if src.calls.Load() != 0 {
		t.Error("schema mismatch must not trigger retraining")
	}
	if mgr.Current() != nil {
		t.Error("expected no model to be loaded")
	}
}

func TestManagerWithoutTrainingData(t *testing.T) {
	mgr := NewManager(ManagerConfig{Name: "m", Store: NewMemoryStore(), Engineer: testEngineer()})
	if _, err := mgr.Predict(context.Background(), domain.FeatureVector{}); !errors.Is(err, domain.ErrServiceUnavailable) {
		t.Errorf("expected ErrServiceUnavailable, got %v", err)
	}

	missing := NewManager(ManagerConfig{
		Name:     "m",
		Source:   &CSVSource{Path: filepath.Join(t.TempDir(), "missing.csv")},
		Engineer: testEngineer(),
	})
	if _, err := missing.Model(context.Background()); !errors.Is(err, domain.ErrServiceUnavailable) {
		t.Errorf("expected ErrServiceUnavailable for missing file, got %v", err)
	}
}

func TestManagerRetrain(t *testing.T) {
	src := &countingSource{records: syntheticRecords(120)}
	mgr := NewManager(ManagerConfig{Name: "m", Source: src, Engineer: testEngineer(), Params: testParams()})

	first, err := mgr.Model(context.Background())
	if err != nil {
		t.Fatalf("model: %v", err)
	}
	second, err := mgr.Retrain(context.Background())
	if err != nil {
		t.Fatalf("retrain: %v", err)
	}
	if first.Version == second.Version {
		t.Error("expected a new version after retrain")
	}
	if mgr.Current() != second {
		t.Error("expected retrained model to be current")
	}
}

func TestCSVSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "financial.csv")
	content := "name,tax_filing_income,dob,address,asset_flag\n" +
		"A,500000,1990-01-01,\"1 Road, Delhi\",Luxury Car\n" +
		"B,not-a-number,1990-01-01,X,Standard\n" +
		"C,4200000,1985-05-05,Y,Standard\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	records, err := (&CSVSource{Path: path}).Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Address != "1 Road, Delhi" || records[0].AssetCategory != "Luxury Car" {
		t.Errorf("unexpected record %+v", records[0])
	}

	bad := filepath.Join(dir, "bad.csv")
	_ = os.WriteFile(bad, []byte("income,dob\n1,2\n"), 0o600)
	if _, err := (&CSVSource{Path: bad}).Load(context.Background()); !errors.Is(err, domain.ErrServiceUnavailable) {
		t.Errorf("expected ErrServiceUnavailable for missing columns, got %v", err)
	}
}
