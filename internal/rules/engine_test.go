package rules

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/sentinel/internal/domain"
)

var now = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func day(offset int) *time.Time {
	t := now.AddDate(0, 0, offset)
	return &t
}

func newContract(id string) *domain.Contract {
	return &domain.Contract{
		ID:             id,
		ContractValue:  decimal.NewFromInt(100),
		OriginalBudget: decimal.NewFromInt(100),
		BidderCount:    3,
		Department:     "roads",
		ContractorID:   "vendor-1",
	}
}

func evaluate(t *testing.T, e *Engine, in *Input) domain.ContractFlags {
	t.Helper()
	if in.Now.IsZero() {
		in.Now = now
	}
	flags, err := e.Evaluate(context.Background(), in)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	return flags
}

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine(5)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()

	if len(engine.builtins) != len(BuiltinRules()) {
		t.Errorf("expected %d built-in rules, got %d", len(BuiltinRules()), len(engine.builtins))
	}
	if engine.RulesCount() != 0 {
		t.Errorf("expected 0 tenant rules, got %d", engine.RulesCount())
	}
}

func TestSingleBidder(t *testing.T) {
	engine, _ := NewEngine(5)

	c := newContract("c-1")
	c.BidderCount = 1
	if flags := evaluate(t, engine, &Input{Contract: c}); !flags.SingleBidder {
		t.Error("expected single_bidder for one bidder")
	}

	c.BidderCount = 2
	if flags := evaluate(t, engine, &Input{Contract: c}); flags.SingleBidder {
		t.Error("did not expect single_bidder for two bidders")
	}

	c.BidderCount = 0
	if flags := evaluate(t, engine, &Input{Contract: c}); flags.SingleBidder {
		t.Error("did not expect single_bidder for zero bidders")
	}
}

func TestRepeatedVendor(t *testing.T) {
	engine, _ := NewEngine(5)
	c := newContract("c-1")

	history := func(sameDept, otherDept int) *domain.Vendor {
		v := &domain.Vendor{ID: "vendor-1"}
		for i := 0; i < sameDept; i++ {
			v.Contracts = append(v.Contracts, domain.Contract{Department: "roads", ContractorID: "vendor-1"})
		}
		for i := 0; i < otherDept; i++ {
			v.Contracts = append(v.Contracts, domain.Contract{Department: "health", ContractorID: "vendor-1"})
		}
		return v
	}

	t.Run("three in department", func(t *testing.T) {
		flags := evaluate(t, engine, &Input{Contract: c, Vendor: history(3, 5)})
		if flags.RepeatedVendor {
			t.Error("did not expect repeated_vendor at 3 contracts")
		}
		if flags.VendorDepartmentContracts != 3 {
			t.Errorf("expected 3 department contracts, got %d", flags.VendorDepartmentContracts)
		}
	})

	t.Run("four in department", func(t *testing.T) {
		flags := evaluate(t, engine, &Input{Contract: c, Vendor: history(4, 0)})
		if !flags.RepeatedVendor {
			t.Error("expected repeated_vendor at 4 contracts")
		}
	})

	t.Run("history from peers", func(t *testing.T) {
		peers := []domain.Contract{*c}
		for i := 0; i < 3; i++ {
			peers = append(peers, domain.Contract{Department: "roads", ContractorID: "vendor-1"})
		}
		peers = append(peers, domain.Contract{Department: "roads", ContractorID: "vendor-2"})

		flags := evaluate(t, engine, &Input{Contract: c, Peers: peers})
		if !flags.RepeatedVendor || flags.VendorDepartmentContracts != 4 {
			t.Errorf("expected repeated_vendor with 4 contracts, got %+v", flags)
		}
	})
}

func TestTimelineOverrun(t *testing.T) {
	engine, _ := NewEngine(5)

	tests := []struct {
		name      string
		expected  *time.Time
		actual    *time.Time
		wantDelay int
		wantFlag  bool
	}{
		{"no expected date", nil, day(0), 0, false},
		{"completed 31 days late", day(-100), day(-69), 31, true},
		{"completed 30 days late", day(-100), day(-70), 30, false},
		{"completed early", day(-10), day(-20), 0, false},
		{"open and not yet due", day(10), nil, 0, false},
		{"open and 45 days overdue", day(-45), nil, 45, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newContract("c-1")
			c.ExpectedCompletion = tt.expected
			c.ActualCompletion = tt.actual

			flags := evaluate(t, engine, &Input{Contract: c})
			if flags.DelayDays != tt.wantDelay {
				t.Errorf("expected delay %d, got %d", tt.wantDelay, flags.DelayDays)
			}
			if flags.TimelineOverrun != tt.wantFlag {
				t.Errorf("expected timeline_overrun=%v, got %v", tt.wantFlag, flags.TimelineOverrun)
			}
		})
	}
}

func TestBudgetEscalation(t *testing.T) {
	engine, _ := NewEngine(5)

	tests := []struct {
		name     string
		value    int64
		budget   int64
		wantPct  float64
		wantFlag bool
	}{
		{"thirty percent", 130, 100, 30, true},
		{"exactly twenty percent", 120, 100, 20, false},
		{"just over twenty percent", 1200040, 1000000, 20, true},
		{"under budget", 90, 100, -10, false},
		{"no budget", 500, 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newContract("c-1")
			c.ContractValue = decimal.NewFromInt(tt.value)
			c.OriginalBudget = decimal.NewFromInt(tt.budget)

			flags := evaluate(t, engine, &Input{Contract: c})
			if flags.EscalationPct != tt.wantPct {
				t.Errorf("expected escalation %.2f, got %.2f", tt.wantPct, flags.EscalationPct)
			}
			if flags.BudgetEscalation != tt.wantFlag {
				t.Errorf("expected budget_escalation=%v, got %v", tt.wantFlag, flags.BudgetEscalation)
			}
		})
	}
}

func TestEscalationPctRounding(t *testing.T) {
	c := newContract("c-1")
	c.ContractValue = decimal.NewFromInt(400)
	c.OriginalBudget = decimal.NewFromInt(300)
	if got := EscalationPct(c); got != 33.33 {
		t.Errorf("expected 33.33, got %v", got)
	}
}

func TestEscalationComparedUnrounded(t *testing.T) {
	c := newContract("c-1")
	c.ContractValue = decimal.NewFromInt(1200040)
	c.OriginalBudget = decimal.NewFromInt(1000000)

	facts := BuildFacts(c, nil, nil, time.Now())
	if facts.EscalationPct <= 20 {
		t.Errorf("expected unrounded escalation above 20, got %v", facts.EscalationPct)
	}
	if got := EscalationPct(c); got != 20 {
		t.Errorf("expected reported escalation 20, got %v", got)
	}
}

func TestLoadRule(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	rule := &domain.RuleConfig{
		ID:         "large-health-contract",
		Name:       "Large health contract",
		Expression: `department == "health" && contract_value > 1000000.0`,
		Severity:   domain.SeverityLow,
		Enabled:    true,
	}
	if err := engine.LoadRule(rule); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}
	if engine.RulesCount() != 1 {
		t.Errorf("expected 1 rule, got %d", engine.RulesCount())
	}
}

func TestLoadInvalidRule(t *testing.T) {
	engine, _ := NewEngine(5)

	tests := []struct {
		name string
		cfg  *domain.RuleConfig
	}{
		{"nil config", nil},
		{"bad syntax", &domain.RuleConfig{ID: "bad", Expression: "this is not valid CEL !!!"}},
		{"string output", &domain.RuleConfig{ID: "str", Expression: "department"}},
		{"unknown variable", &domain.RuleConfig{ID: "unknown", Expression: "amount > 1.0"}},
		{"reserved id", &domain.RuleConfig{ID: domain.FlagSingleBidder, Expression: "true"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := engine.LoadRule(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
	if engine.RulesCount() != 0 {
		t.Errorf("expected no rules loaded, got %d", engine.RulesCount())
	}
}

func TestCustomRuleHits(t *testing.T) {
	engine, _ := NewEngine(2)

	err := engine.ReloadRules([]*domain.RuleConfig{
		{ID: "z-open", Name: "Open contract", Expression: `status == "open"`, Severity: domain.SeverityLow, Enabled: true},
		{ID: "a-roads", Name: "Roads", Expression: `department == "roads"`, Severity: domain.SeverityMedium, Enabled: true},
		{ID: "m-never", Name: "Never", Expression: "bidder_count > 100", Enabled: true},
		{ID: "disabled", Name: "Disabled", Expression: "true", Enabled: false},
	})
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if engine.RulesCount() != 3 {
		t.Fatalf("expected 3 rules, got %d", engine.RulesCount())
	}

	c := newContract("c-1")
	c.Status = "open"
	flags := evaluate(t, engine, &Input{Contract: c})

	if len(flags.Custom) != 2 {
		t.Fatalf("expected 2 custom hits, got %+v", flags.Custom)
	}
	if flags.Custom[0].RuleID != "a-roads" || flags.Custom[1].RuleID != "z-open" {
		t.Errorf("expected hits ordered by rule id, got %+v", flags.Custom)
	}
	if flags.SingleBidder || flags.RepeatedVendor || flags.TimelineOverrun || flags.BudgetEscalation {
		t.Errorf("custom rules must not raise built-in flags: %+v", flags)
	}

	loaded := engine.GetLoadedRules()
	if len(loaded) != 3 || loaded[0].ID != "a-roads" {
		t.Errorf("unexpected loaded rules: %+v", loaded)
	}
}

func TestEvaluateErrors(t *testing.T) {
	engine, _ := NewEngine(5)

	if _, err := engine.Evaluate(context.Background(), &Input{}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for missing contract, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := engine.Evaluate(ctx, &Input{Contract: newContract("c-1"), Now: now}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestEvaluateIsPure(t *testing.T) {
	engine, _ := NewEngine(5)
	c := newContract("c-1")
	c.BidderCount = 1
	c.ExpectedCompletion = day(-90)

	a := evaluate(t, engine, &Input{Contract: c})
	b := evaluate(t, engine, &Input{Contract: c})
	if a.SingleBidder != b.SingleBidder || a.DelayDays != b.DelayDays || a.TimelineOverrun != b.TimelineOverrun {
		t.Errorf("expected identical flags, got %+v and %+v", a, b)
	}
}
