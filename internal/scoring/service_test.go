package scoring

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/sentinel/internal/classifier"
	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/opensource-finance/sentinel/internal/features"
	"github.com/opensource-finance/sentinel/internal/identity"
	"github.com/opensource-finance/sentinel/internal/registry"
	"github.com/opensource-finance/sentinel/internal/repository"
	"github.com/opensource-finance/sentinel/internal/rules"
)

var testNow = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func testEngineer() *features.Engineer {
	return features.NewEngineer(func() time.Time { return testNow })
}

var assetCycle = []string{
	features.AssetStandard,
	features.AssetMutualFunds,
	features.AssetLuxuryCar,
	features.AssetProperty,
}

func trainingRecords(n int) classifier.StaticSource {
	records := make(classifier.StaticSource, n)
	for i := range records {
		records[i] = classifier.Record{
			Income:        float64((i*37)%50) * 100_000,
			DateOfBirth:   fmt.Sprintf("%d-03-15", 1960+i%40),
			Address:       fmt.Sprintf("House %d, Ward %d, City", i, i%7),
			AssetCategory: assetCycle[i%len(assetCycle)],
		}
	}
	return records
}

func testManager(source classifier.Source) *classifier.Manager {
	params := classifier.DefaultParams()
	params.Forest.Trees = 15
	params.Boost.Trees = 15
	return classifier.NewManager(classifier.ManagerConfig{
		Name:     "test-model",
		Store:    classifier.NewMemoryStore(),
		Source:   source,
		Engineer: testEngineer(),
		Params:   params,
	})
}

func newTestService(t *testing.T, repo domain.Repository) *Service {
	t.Helper()

	engine, err := rules.NewEngine(4)
	if err != nil {
		t.Fatalf("failed to create rules engine: %v", err)
	}
	regs := &registry.Registries{
		Vehicles: []domain.RegistryRecord{
			{ID: "V1", Name: "Ramesh Kumar", Address: "12 MG Road, Delhi",
				Attributes: map[string]string{domain.AttrVehicleType: "Commercial", domain.AttrVehicleModel: "Tata Ace"}},
		},
	}

	svc, err := NewService(Config{
		Repo:      repo,
		Rules:     engine,
		Model:     testManager(trainingRecords(200)),
		Engineer:  testEngineer(),
		Checker:   registry.NewChecker(identity.NewResolverWithMetric(identity.Jaccard{}), regs),
		Lifestyle: registry.NewLifestyleScanner(regs),
		Workers:   4,
		Now:       func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return svc
}

func contract(id, contractor, dept, text string, bidders int, value, budget int64) domain.Contract {
	return domain.Contract{
		ID:             id,
		ProjectName:    text,
		Description:    text,
		ContractValue:  decimal.NewFromInt(value),
		OriginalBudget: decimal.NewFromInt(budget),
		BidderCount:    bidders,
		Department:     dept,
		ContractorID:   contractor,
	}
}

func TestNewService(t *testing.T) {
	if _, err := NewService(Config{}); err == nil {
		t.Error("expected error without rules engine")
	}
	engine, _ := rules.NewEngine(1)
	if _, err := NewService(Config{Rules: engine}); err == nil {
		t.Error("expected error without model manager")
	}
}

func TestAssessContracts(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	batch := &ContractBatch{
		Contracts: []domain.Contract{
			contract("C-1", "V-1", "PWD", "river bridge deck repair", 1, 100, 100),
			contract("C-2", "V-2", "Health", "hospital oxygen plant installation", 4, 130, 100),
			contract("C-3", "V-3", "Education", "school furniture procurement", 3, 90, 100),
		},
		Complaints: map[string]int{"C-3": 2},
	}

	results, err := svc.AssessContracts(ctx, "tenant-001", batch)
	if err != nil {
		t.Fatalf("AssessContracts failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	tests := []struct {
		id    string
		score int
		flag  string
	}{
		{"C-1", 20, domain.FlagSingleBidder},
		{"C-2", 15, domain.FlagBudgetEscalation},
		{"C-3", 10, domain.FlagCitizenComplaints},
	}
	for i, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got := results[i]
			if got.ContractID != tt.id {
				t.Fatalf("expected %s at position %d, got %s", tt.id, i, got.ContractID)
			}
			if got.Score != tt.score {
				t.Errorf("expected score %d, got %d (%v)", tt.score, got.Score, got.Explanations)
			}
			if got.Level != domain.RiskLevelLow {
				t.Errorf("expected Low, got %s", got.Level)
			}
			if len(got.Flags) != 1 || got.Flags[0].Type != tt.flag {
				t.Errorf("expected single %s flag, got %+v", tt.flag, got.Flags)
			}
		})
	}
}

func TestAssessContractsSuppliedVendor(t *testing.T) {
	svc := newTestService(t, nil)

	history := domain.Vendor{ID: "V-1"}
	for i := 0; i < 4; i++ {
		history.Contracts = append(history.Contracts, contract(fmt.Sprintf("H-%d", i), "V-1", "PWD", "", 3, 10, 10))
	}

	results, err := svc.AssessContracts(context.Background(), "tenant-001", &ContractBatch{
		Contracts: []domain.Contract{contract("C-1", "V-1", "PWD", "road resurfacing", 3, 100, 100)},
		Vendors:   []domain.Vendor{history},
	})
	if err != nil {
		t.Fatalf("AssessContracts failed: %v", err)
	}
	if results[0].Score != 15 || results[0].Flags[0].Type != domain.FlagRepeatedVendor {
		t.Errorf("expected repeated vendor +15, got %d %+v", results[0].Score, results[0].Flags)
	}
}

func TestAssessContractsEdgeCases(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	t.Run("RequiresTenant", func(t *testing.T) {
		_, err := svc.AssessContracts(ctx, "", &ContractBatch{Contracts: []domain.Contract{{ID: "C-1"}}})
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("EmptyBatch", func(t *testing.T) {
		results, err := svc.AssessContracts(ctx, "tenant-001", &ContractBatch{})
		if err != nil || len(results) != 0 {
			t.Errorf("expected empty result, got %v, %v", results, err)
		}
	})

	t.Run("Cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := svc.AssessContracts(cctx, "tenant-001", &ContractBatch{Contracts: []domain.Contract{{ID: "C-1"}}})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("LargeBatchStaysBounded", func(t *testing.T) {
		batch := &ContractBatch{}
		for i := 0; i < 40; i++ {
			c := contract(fmt.Sprintf("C-%02d", i), fmt.Sprintf("V-%d", i%5), "PWD", "identical tender text for all works", 1, 1000, 100)
			batch.Contracts = append(batch.Contracts, c)
			batch.Contracts[i].ExpectedCompletion = ptrTime(testNow.AddDate(-1, 0, 0))
		}
		batch.Complaints = map[string]int{"C-00": 10}

		results, err := svc.AssessContracts(ctx, "tenant-001", batch)
		if err != nil {
			t.Fatalf("AssessContracts failed: %v", err)
		}
		for i, r := range results {
			if r.ContractID != batch.Contracts[i].ID {
				t.Errorf("result %d out of order: %s", i, r.ContractID)
			}
			if r.Score < 0 || r.Score > 100 {
				t.Errorf("score out of range: %d", r.Score)
			}
			if r.Level != domain.LevelForScore(r.Score) {
				t.Errorf("level %s does not match score %d", r.Level, r.Score)
			}
		}
		if results[0].Score != 100 {
			t.Errorf("expected capped score 100 for C-00, got %d (%v)", results[0].Score, results[0].Explanations)
		}
	})
}

func ptrTime(t time.Time) *time.Time {
	return &t
}

func TestNewContractBatch(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		b, err := NewContractBatch([]domain.ContractRecord{
			{ID: "C-1", ExpectedCompletion: "2024-06-30"},
			{ID: "C-2"},
		}, nil, map[string]int{"C-1": 1})
		if err != nil {
			t.Fatalf("NewContractBatch failed: %v", err)
		}
		if len(b.Contracts) != 2 || b.Contracts[0].ExpectedCompletion == nil {
			t.Errorf("unexpected batch: %+v", b.Contracts)
		}
	})

	t.Run("MalformedDate", func(t *testing.T) {
		_, err := NewContractBatch([]domain.ContractRecord{{ID: "C-1", ActualCompletion: "last tuesday"}}, nil, nil)
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("DuplicateID", func(t *testing.T) {
		_, err := NewContractBatch([]domain.ContractRecord{{ID: "C-1"}, {ID: "C-1"}}, nil, nil)
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})
}

func TestAssessStored(t *testing.T) {
	ctx := context.Background()

	t.Run("WithoutStore", func(t *testing.T) {
		svc := newTestService(t, nil)
		if _, err := svc.AssessStored(ctx, "tenant-001"); !errors.Is(err, domain.ErrServiceUnavailable) {
			t.Errorf("expected ErrServiceUnavailable, got %v", err)
		}
	})

	t.Run("StoredPeerSet", func(t *testing.T) {
		repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: ":memory:"})
		if err != nil {
			t.Fatalf("failed to create repository: %v", err)
		}
		defer repo.Close()

		texts := []string{"storm drain desilting", "street lighting upgrade", "footpath paving", "culvert reconstruction"}
		for i, text := range texts {
			c := contract(fmt.Sprintf("C-%d", i), "V-1", "PWD", text, 3, 100, 100)
			if err := repo.SaveContract(ctx, "tenant-001", &c); err != nil {
				t.Fatalf("SaveContract failed: %v", err)
			}
		}
		if err := repo.AddComplaint(ctx, "tenant-001", "C-0", "drain still blocked"); err != nil {
			t.Fatalf("AddComplaint failed: %v", err)
		}

		svc := newTestService(t, repo)
		results, err := svc.AssessStored(ctx, "tenant-001")
		if err != nil {
			t.Fatalf("AssessStored failed: %v", err)
		}
		if len(results) != 4 {
			t.Fatalf("expected 4 results, got %d", len(results))
		}
		for _, r := range results {
			want := 15
			if r.ContractID == "C-0" {
				want = 20
			}
			if r.Score != want {
				t.Errorf("%s: expected score %d, got %d (%v)", r.ContractID, want, r.Score, r.Explanations)
			}
		}
	})
}

func TestScoreApplicant(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	t.Run("RegistryFlagsFollowModelFlags", func(t *testing.T) {
		a := &domain.Applicant{
			ID:             "A-1",
			Name:           "Ramesh Kumar",
			DateOfBirth:    "1990-05-01",
			Address:        "12 MG Road, Delhi",
			DeclaredIncome: 200_000,
			AssetCategory:  features.AssetLuxuryCar,
		}
		got, err := svc.ScoreApplicant(ctx, a)
		if err != nil {
			t.Fatalf("ScoreApplicant failed: %v", err)
		}
		if got.FraudProbability < 0 || got.FraudProbability > 1 {
			t.Errorf("probability out of range: %f", got.FraudProbability)
		}
		if got.RiskStatus != classifier.StatusFor(got.FraudProbability) {
			t.Errorf("status %s does not match probability %f", got.RiskStatus, got.FraudProbability)
		}
		last := got.Flags[len(got.Flags)-1]
		if last.Type != domain.FlagVehicleRegistry {
			t.Errorf("expected registry flag last, got %+v", got.Flags)
		}
		if got.Flags[0].Source != domain.SourceModel {
			t.Errorf("expected model flag first, got %+v", got.Flags[0])
		}
	})

	t.Run("Deterministic", func(t *testing.T) {
		a := &domain.Applicant{ID: "A-2", Name: "Asha", DateOfBirth: "1970-01-01", DeclaredIncome: 5_000_000, AssetCategory: features.AssetStandard}
		first, _ := svc.ScoreApplicant(ctx, a)
		second, _ := svc.ScoreApplicant(ctx, a)
		if first.FraudProbability != second.FraudProbability {
			t.Errorf("expected identical probabilities, got %f and %f", first.FraudProbability, second.FraudProbability)
		}
	})

	t.Run("InvalidDate", func(t *testing.T) {
		_, err := svc.ScoreApplicant(ctx, &domain.Applicant{ID: "A-3", DateOfBirth: "not a date"})
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("MissingID", func(t *testing.T) {
		if _, err := svc.ScoreApplicant(ctx, &domain.Applicant{}); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})
}

func TestScanApplicants(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	applicants := []domain.Applicant{
		{ID: "A-1", Name: "Ramesh Kumar", DateOfBirth: "1990-05-01", DeclaredIncome: 200_000, AssetCategory: features.AssetLuxuryCar},
		{ID: "A-2", Name: "Asha", DateOfBirth: "1970-01-01", DeclaredIncome: 5_000_000, AssetCategory: features.AssetStandard},
		{ID: "A-3", Name: "Broken", DateOfBirth: ""},
	}

	t.Run("Summary", func(t *testing.T) {
		res, err := svc.ScanApplicants(ctx, applicants)
		if err != nil {
			t.Fatalf("ScanApplicants failed: %v", err)
		}
		if res.Partial {
			t.Error("expected a complete scan")
		}
		if len(res.Results) != 3 {
			t.Fatalf("expected 3 outcomes, got %d", len(res.Results))
		}
		for i, out := range res.Results {
			if out.ApplicantID != applicants[i].ID {
				t.Errorf("outcome %d out of order: %s", i, out.ApplicantID)
			}
		}
		if res.Results[2].Error == "" || res.Results[2].Assessment != nil {
			t.Errorf("expected per-item error for A-3, got %+v", res.Results[2])
		}
		s := res.Summary
		if s.Total != 3 || s.Failed != 1 || s.High+s.Medium+s.Low != 2 {
			t.Errorf("unexpected summary: %+v", s)
		}
	})

	t.Run("CancelledReturnsPartial", func(t *testing.T) {
		if _, err := svc.Model().Model(ctx); err != nil {
			t.Fatalf("model load failed: %v", err)
		}
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		res, err := svc.ScanApplicants(cctx, applicants)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if res == nil || !res.Partial {
			t.Fatalf("expected partial result, got %+v", res)
		}
		if len(res.Results) != res.Summary.Total {
			t.Errorf("summary total %d does not match %d results", res.Summary.Total, len(res.Results))
		}
	})

	t.Run("NoTrainingData", func(t *testing.T) {
		engine, _ := rules.NewEngine(1)
		bare, err := NewService(Config{Rules: engine, Model: testManager(nil), Engineer: testEngineer()})
		if err != nil {
			t.Fatalf("NewService failed: %v", err)
		}
		if _, err := bare.ScanApplicants(ctx, applicants); !errors.Is(err, domain.ErrServiceUnavailable) {
			t.Errorf("expected ErrServiceUnavailable, got %v", err)
		}
	})
}

func TestLifestyleAndIdentity(t *testing.T) {
	svc := newTestService(t, nil)

	if got := svc.ScanLifestyle("Nobody Known"); got.Status != registry.StatusNotFound {
		t.Errorf("expected NOT_FOUND, got %s", got.Status)
	}

	m := svc.ResolveIdentity(
		domain.Identity{Name: "Raj Kumar Singh", Address: "12 MG Road, Delhi"},
		domain.Identity{Name: "Raj Kumar Singh", Address: "12 MG Road, Delhi"},
	)
	if !m.Match || m.Confidence < 0.95 {
		t.Errorf("expected confident match, got %+v", m)
	}
}
