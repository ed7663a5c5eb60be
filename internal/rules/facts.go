package rules

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/sentinel/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Facts are the values a contract exposes to rule expressions.
type Facts struct {
	BidderCount               int
	VendorDepartmentContracts int
	HasExpectedCompletion     bool
	DelayDays                 int
	HasBudget                 bool
	EscalationPct             float64
	ContractValue             float64
	OriginalBudget            float64
	Department                string
	ContractorID              string
	Status                    string
}

// BuildFacts derives rule facts for a contract. When vendor is nil the
// vendor history is taken from peers sharing the contractor id.
func BuildFacts(c *domain.Contract, vendor *domain.Vendor, peers []domain.Contract, now time.Time) Facts {
	if vendor == nil {
		vendor = VendorFromPeers(c.ContractorID, peers)
	}

	f := Facts{
		BidderCount:               c.BidderCount,
		VendorDepartmentContracts: VendorDepartmentCount(c.Department, vendor),
		HasExpectedCompletion:     c.ExpectedCompletion != nil,
		DelayDays:                 DelayDays(c, now),
		HasBudget:                 c.OriginalBudget.IsPositive(),
		EscalationPct:             escalation(c).InexactFloat64(),
		ContractValue:             c.ContractValue.InexactFloat64(),
		OriginalBudget:            c.OriginalBudget.InexactFloat64(),
		Department:                c.Department,
		ContractorID:              c.ContractorID,
		Status:                    c.Status,
	}
	return f
}

// activation converts facts to CEL variables.
func (f Facts) activation() map[string]any {
	return map[string]any{
		"bidder_count":                int64(f.BidderCount),
		"vendor_department_contracts": int64(f.VendorDepartmentContracts),
		"has_expected_completion":     f.HasExpectedCompletion,
		"delay_days":                  int64(f.DelayDays),
		"has_budget":                  f.HasBudget,
		"escalation_pct":              f.EscalationPct,
		"contract_value":              f.ContractValue,
		"original_budget":             f.OriginalBudget,
		"department":                  f.Department,
		"contractor_id":               f.ContractorID,
		"status":                      f.Status,
	}
}

// VendorFromPeers collects the contracts in peers awarded to contractorID.
func VendorFromPeers(contractorID string, peers []domain.Contract) *domain.Vendor {
	v := &domain.Vendor{ID: contractorID}
	if contractorID == "" {
		return v
	}
	for _, p := range peers {
		if p.ContractorID == contractorID {
			v.Contracts = append(v.Contracts, p)
		}
	}
	return v
}

// VendorDepartmentCount counts the vendor's contracts in department.
func VendorDepartmentCount(department string, vendor *domain.Vendor) int {
	if vendor == nil || department == "" {
		return 0
	}
	n := 0
	for _, c := range vendor.Contracts {
		if c.Department == department {
			n++
		}
	}
	return n
}

// DelayDays is the number of whole days completion ran past the expected
// date, measured against now while the contract is still open. It is zero
// without an expected date and never negative.
func DelayDays(c *domain.Contract, now time.Time) int {
	if c.ExpectedCompletion == nil {
		return 0
	}
	expected := *c.ExpectedCompletion
	end := now
	if c.ActualCompletion != nil {
		end = *c.ActualCompletion
	} else if !now.After(expected) {
		return 0
	}

	days := int(math.Floor(end.Sub(expected).Hours() / 24))
	if days < 0 {
		return 0
	}
	return days
}

// EscalationPct is the percentage by which the contract value exceeds the
// original budget, rounded to two decimals for reporting. Zero when there is
// no budget. Rules compare the unrounded value.
func EscalationPct(c *domain.Contract) float64 {
	return escalation(c).Round(2).InexactFloat64()
}

func escalation(c *domain.Contract) decimal.Decimal {
	if !c.OriginalBudget.IsPositive() {
		return decimal.Zero
	}
	return c.ContractValue.Sub(c.OriginalBudget).Div(c.OriginalBudget).Mul(hundred)
}
