package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Contract is a public works contract as scored by the engine.
type Contract struct {
	ID                 string          `json:"id"`
	ProjectName        string          `json:"projectName"`
	Description        string          `json:"description"`
	ContractValue      decimal.Decimal `json:"contractValue"`
	OriginalBudget     decimal.Decimal `json:"originalBudget"`
	BidderCount        int             `json:"bidderCount"`
	Department         string          `json:"department"`
	ContractorID       string          `json:"contractorId"`
	StartDate          *time.Time      `json:"startDate,omitempty"`
	ExpectedCompletion *time.Time      `json:"expectedCompletion,omitempty"`
	ActualCompletion   *time.Time      `json:"actualCompletion,omitempty"`
	Status             string          `json:"status"`
}

// Text returns the tender text used for similarity detection.
func (c *Contract) Text() string {
	return strings.TrimSpace(c.ProjectName + " " + c.Description)
}

// ContractRecord is the ingestion shape of a contract. Dates arrive as
// strings and are parsed exactly once by ToContract.
type ContractRecord struct {
	ID                 string          `json:"id"`
	ProjectName        string          `json:"projectName"`
	Description        string          `json:"description"`
	ContractValue      decimal.Decimal `json:"contractValue"`
	OriginalBudget     decimal.Decimal `json:"originalBudget"`
	BidderCount        int             `json:"bidderCount"`
	Department         string          `json:"department"`
	ContractorID       string          `json:"contractorId"`
	StartDate          string          `json:"startDate,omitempty"`
	ExpectedCompletion string          `json:"expectedCompletion,omitempty"`
	ActualCompletion   string          `json:"actualCompletion,omitempty"`
	Status             string          `json:"status,omitempty"`
}

// ToContract validates the record and converts it to a Contract.
func (r *ContractRecord) ToContract() (*Contract, error) {
	if strings.TrimSpace(r.ID) == "" {
		return nil, fmt.Errorf("%w: contract id is required", ErrValidation)
	}
	if r.ContractValue.IsNegative() {
		return nil, fmt.Errorf("%w: contract %s: negative contract value", ErrValidation, r.ID)
	}
	if r.OriginalBudget.IsNegative() {
		return nil, fmt.Errorf("%w: contract %s: negative original budget", ErrValidation, r.ID)
	}
	if r.BidderCount < 0 {
		return nil, fmt.Errorf("%w: contract %s: negative bidder count", ErrValidation, r.ID)
	}

	c := &Contract{
		ID:             strings.TrimSpace(r.ID),
		ProjectName:    r.ProjectName,
		Description:    r.Description,
		ContractValue:  r.ContractValue,
		OriginalBudget: r.OriginalBudget,
		BidderCount:    r.BidderCount,
		Department:     strings.TrimSpace(r.Department),
		ContractorID:   strings.TrimSpace(r.ContractorID),
		Status:         r.Status,
	}

	var err error
	if c.StartDate, err = optionalDate("startDate", r.StartDate); err != nil {
		return nil, fmt.Errorf("contract %s: %w", r.ID, err)
	}
	if c.ExpectedCompletion, err = optionalDate("expectedCompletion", r.ExpectedCompletion); err != nil {
		return nil, fmt.Errorf("contract %s: %w", r.ID, err)
	}
	if c.ActualCompletion, err = optionalDate("actualCompletion", r.ActualCompletion); err != nil {
		return nil, fmt.Errorf("contract %s: %w", r.ID, err)
	}
	return c, nil
}

func optionalDate(field, value string) (*time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	t, err := ParseDate(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return &t, nil
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// ParseDate parses a calendar date or timestamp. Unparsable input is an
// ErrValidation; there is no default date.
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unparsable date %q", ErrValidation, value)
}

// Vendor is a contractor together with its contract history.
type Vendor struct {
	ID        string     `json:"id"`
	Contracts []Contract `json:"contracts"`
}

// ContractFlags holds the rule flags raised for one contract along with the
// raw magnitudes used for scaling.
type ContractFlags struct {
	ContractID string `json:"contractId"`

	SingleBidder bool `json:"singleBidder"`

	RepeatedVendor            bool `json:"repeatedVendor"`
	VendorDepartmentContracts int  `json:"vendorDepartmentContracts"`

	TimelineOverrun bool `json:"timelineOverrun"`
	DelayDays       int  `json:"delayDays"`

	BudgetEscalation bool    `json:"budgetEscalation"`
	EscalationPct    float64 `json:"escalationPct"`

	// Custom holds tenant rules that matched. They are reported as flags
	// but carry no score contribution.
	Custom []RuleHit `json:"custom,omitempty"`
}

// AnomalyResult is the cost anomaly verdict for one contract.
type AnomalyResult struct {
	ContractID   string `json:"contractId"`
	IsAnomaly    bool   `json:"isAnomaly"`
	AnomalyScore int    `json:"anomalyScore"`
	Explanation  string `json:"explanation"`
}

// SimilarityResult is the tender similarity verdict for one contract.
type SimilarityResult struct {
	ContractID    string  `json:"contractId"`
	MaxSimilarity float64 `json:"maxSimilarity"`
	SimilarTo     string  `json:"similarTo,omitempty"`
	IsSuspicious  bool    `json:"isSuspicious"`
	Explanation   string  `json:"explanation,omitempty"`
}
