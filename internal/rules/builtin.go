package rules

import "github.com/opensource-finance/sentinel/internal/domain"

// Built-in contract rule expressions.
const (
	ExprSingleBidder     = "bidder_count == 1"
	ExprRepeatedVendor   = "vendor_department_contracts > 3"
	ExprTimelineOverrun  = "has_expected_completion && delay_days > 30"
	ExprBudgetEscalation = "has_budget && escalation_pct > 20.0"
)

// BuiltinRules returns the red-flag rules every contract is checked against.
// Their IDs match the flag types they raise.
func BuiltinRules() []*domain.RuleConfig {
	return []*domain.RuleConfig{
		{
			ID:          domain.FlagSingleBidder,
			Name:        "Single bidder",
			Description: "Tender received exactly one bid",
			Version:     "1",
			Expression:  ExprSingleBidder,
			Severity:    domain.SeverityHigh,
			Enabled:     true,
		},
		{
			ID:          domain.FlagRepeatedVendor,
			Name:        "Repeated vendor",
			Description: "Vendor holds more than three contracts in the same department",
			Version:     "1",
			Expression:  ExprRepeatedVendor,
			Severity:    domain.SeverityMedium,
			Enabled:     true,
		},
		{
			ID:          domain.FlagTimelineOverrun,
			Name:        "Timeline overrun",
			Description: "Completion is more than 30 days past the expected date",
			Version:     "1",
			Expression:  ExprTimelineOverrun,
			Severity:    domain.SeverityMedium,
			Enabled:     true,
		},
		{
			ID:          domain.FlagBudgetEscalation,
			Name:        "Budget escalation",
			Description: "Contract value exceeds the original budget by more than 20%",
			Version:     "1",
			Expression:  ExprBudgetEscalation,
			Severity:    domain.SeverityHigh,
			Enabled:     true,
		},
	}
}
