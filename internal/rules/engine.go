// Package rules provides the CEL based contract red-flag engine.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/sentinel/internal/domain"
)

// Engine evaluates contract rules. Built-in rules are fixed at creation;
// tenant rules can be loaded and reloaded at runtime.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	builtins      map[string]*CompiledRule
	compiledRules map[string]*CompiledRule
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

// NewEngine creates a rule engine with the built-in rules compiled.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	env, err := cel.NewEnv(
		cel.Variable("bidder_count", cel.IntType),
		cel.Variable("vendor_department_contracts", cel.IntType),
		cel.Variable("has_expected_completion", cel.BoolType),
		cel.Variable("delay_days", cel.IntType),
		cel.Variable("has_budget", cel.BoolType),
		cel.Variable("escalation_pct", cel.DoubleType),
		cel.Variable("contract_value", cel.DoubleType),
		cel.Variable("original_budget", cel.DoubleType),
		cel.Variable("department", cel.StringType),
		cel.Variable("contractor_id", cel.StringType),
		cel.Variable("status", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &Engine{
		env:           env,
		builtins:      make(map[string]*CompiledRule),
		compiledRules: make(map[string]*CompiledRule),
		maxWorkers:    maxWorkers,
	}
	for _, cfg := range BuiltinRules() {
		compiled, err := e.compileRule(cfg)
		if err != nil {
			return nil, err
		}
		e.builtins[cfg.ID] = compiled
	}
	return e, nil
}

// ValidateRule compiles a rule without loading it.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	_, err := e.compileTenantRule(cfg)
	return err
}

// LoadRule compiles and loads a tenant rule.
func (e *Engine) LoadRule(cfg *domain.RuleConfig) error {
	compiled, err := e.compileTenantRule(cfg)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules[cfg.ID] = compiled
	return nil
}

// ReloadRules replaces all tenant rules. Disabled rules are skipped.
func (e *Engine) ReloadRules(configs []*domain.RuleConfig) error {
	newRules := make(map[string]*CompiledRule)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compileTenantRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.mu.Lock()
	e.compiledRules = newRules
	e.mu.Unlock()
	return nil
}

// RulesCount returns the number of loaded tenant rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// GetLoadedRules returns the loaded tenant rule configurations.
func (e *Engine) GetLoadedRules() []*domain.RuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.RuleConfig, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Config)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules
}

// Input is one contract to evaluate with its context.
type Input struct {
	Contract *domain.Contract
	Vendor   *domain.Vendor
	Peers    []domain.Contract
	Now      time.Time
}

// Evaluate raises the built-in flags for a contract and reports matched
// tenant rules. It is a pure function of its input.
func (e *Engine) Evaluate(ctx context.Context, in *Input) (domain.ContractFlags, error) {
	if in == nil || in.Contract == nil {
		return domain.ContractFlags{}, fmt.Errorf("%w: contract is required", domain.ErrValidation)
	}
	if err := ctx.Err(); err != nil {
		return domain.ContractFlags{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	facts := BuildFacts(in.Contract, in.Vendor, in.Peers, now)
	activation := facts.activation()

	flags := domain.ContractFlags{
		ContractID:                in.Contract.ID,
		VendorDepartmentContracts: facts.VendorDepartmentContracts,
		DelayDays:                 facts.DelayDays,
		EscalationPct:             EscalationPct(in.Contract),
	}

	var err error
	if flags.SingleBidder, err = e.builtin(domain.FlagSingleBidder, activation); err != nil {
		return flags, err
	}
	if flags.RepeatedVendor, err = e.builtin(domain.FlagRepeatedVendor, activation); err != nil {
		return flags, err
	}
	if flags.TimelineOverrun, err = e.builtin(domain.FlagTimelineOverrun, activation); err != nil {
		return flags, err
	}
	if flags.BudgetEscalation, err = e.builtin(domain.FlagBudgetEscalation, activation); err != nil {
		return flags, err
	}

	flags.Custom = e.evaluateCustom(ctx, in.Contract.ID, activation)
	return flags, nil
}

func (e *Engine) builtin(id string, activation map[string]any) (bool, error) {
	out, _, err := e.builtins[id].Program.Eval(activation)
	if err != nil {
		return false, fmt.Errorf("evaluate rule %s: %w", id, err)
	}
	return toScore(out) > 0, nil
}

// evaluateCustom evaluates tenant rules in parallel. Hits are returned in
// rule id order; a rule that fails to evaluate is logged and skipped.
func (e *Engine) evaluateCustom(ctx context.Context, contractID string, activation map[string]any) []domain.RuleHit {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Config.ID < rules[j].Config.ID })

	hits := make([]bool, len(rules))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			if ctx.Err() != nil {
				return
			}
			out, _, err := r.Program.Eval(activation)
			if err != nil {
				slog.Warn("custom rule evaluation failed",
					"rule_id", r.Config.ID,
					"contract_id", contractID,
					"error", err,
				)
				return
			}
			hits[idx] = toScore(out) > 0
		}(i, rule)
	}
	wg.Wait()

	var result []domain.RuleHit
	for i, hit := range hits {
		if !hit {
			continue
		}
		cfg := rules[i].Config
		result = append(result, domain.RuleHit{
			RuleID:      cfg.ID,
			Name:        cfg.Name,
			Severity:    cfg.Severity,
			Description: cfg.Description,
		})
	}
	return result
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

// Close drops the tenant rules.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

// compileTenantRule rejects ids that collide with built-in rules.
func (e *Engine) compileTenantRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	if cfg == nil {
		return nil, fmt.Errorf("rule config is required")
	}
	if _, ok := e.builtins[cfg.ID]; ok {
		return nil, fmt.Errorf("rule id %s is reserved", cfg.ID)
	}
	return e.compileRule(cfg)
}

func (e *Engine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %s: expression must return bool, int, or double, got %s", cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
