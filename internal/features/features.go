// Package features derives the applicant feature vector used by the fraud
// classifier.
package features

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/opensource-finance/sentinel/internal/domain"
)

// Income band upper bounds. Income at or above the last bound is level 4.
var incomeBands = []float64{1_000_000, 2_000_000, 3_000_000, 4_000_000}

// Declared asset categories.
const (
	AssetStandard    = "Standard"
	AssetMutualFunds = "Mutual Funds > 5L"
	AssetLuxuryCar   = "Luxury Car"
	AssetProperty    = "Property > 50L"
)

var assetScores = map[string]int{
	strings.ToLower(AssetStandard):    0,
	strings.ToLower(AssetMutualFunds): 2,
	strings.ToLower(AssetLuxuryCar):   3,
	strings.ToLower(AssetProperty):    4,
}

// Input holds the raw applicant attributes the engineer reads.
type Input struct {
	DeclaredIncome float64
	DateOfBirth    string
	Address        string
	AssetCategory  string
}

// FromApplicant extracts the engineer input from an applicant.
func FromApplicant(a *domain.Applicant) Input {
	return Input{
		DeclaredIncome: a.DeclaredIncome,
		DateOfBirth:    a.DateOfBirth,
		Address:        a.Address,
		AssetCategory:  a.AssetCategory,
	}
}

// Engineer computes feature vectors relative to a clock.
type Engineer struct {
	now func() time.Time
}

// NewEngineer creates an engineer. A nil clock uses time.Now.
func NewEngineer(now func() time.Time) *Engineer {
	if now == nil {
		now = time.Now
	}
	return &Engineer{now: now}
}

// Schema returns the feature names in vector order.
func (e *Engineer) Schema() []string {
	return domain.FeatureSchema()
}

// Compute derives the feature vector. Negative income and unparsable or
// future dates of birth fail with domain.ErrValidation.
func (e *Engineer) Compute(in Input) (domain.FeatureVector, error) {
	if math.IsNaN(in.DeclaredIncome) || math.IsInf(in.DeclaredIncome, 0) {
		return domain.FeatureVector{}, fmt.Errorf("%w: declared income is not a number", domain.ErrValidation)
	}
	if in.DeclaredIncome < 0 {
		return domain.FeatureVector{}, fmt.Errorf("%w: declared income %.2f is negative", domain.ErrValidation, in.DeclaredIncome)
	}
	if strings.TrimSpace(in.DateOfBirth) == "" {
		return domain.FeatureVector{}, fmt.Errorf("%w: date of birth is required", domain.ErrValidation)
	}

	dob, err := domain.ParseDate(in.DateOfBirth)
	if err != nil {
		return domain.FeatureVector{}, fmt.Errorf("date of birth: %w", err)
	}
	now := e.now().UTC()
	if dob.After(now) {
		return domain.FeatureVector{}, fmt.Errorf("%w: date of birth %s is in the future", domain.ErrValidation, in.DateOfBirth)
	}

	level := IncomeLevel(in.DeclaredIncome)
	asset := AssetRiskScore(in.AssetCategory)

	return domain.FeatureVector{
		IncomeLevel:         level,
		AgeYears:            AgeYears(dob, now),
		AssetRiskScore:      asset,
		AddressComplexity:   AddressComplexity(in.Address),
		IncomeAssetMismatch: IncomeAssetMismatch(asset, level),
		AssetCategory:       strings.TrimSpace(in.AssetCategory),
	}, nil
}

// IncomeLevel buckets income into levels 0-4.
func IncomeLevel(income float64) int {
	for i, bound := range incomeBands {
		if income < bound {
			return i
		}
	}
	return len(incomeBands)
}

// AgeYears is whole elapsed days divided by 365.25.
func AgeYears(dob, now time.Time) float64 {
	days := math.Floor(now.Sub(dob).Hours() / 24)
	return days / 365.25
}

// AssetRiskScore maps a declared asset category to its tier. Unknown
// categories score 0.
func AssetRiskScore(category string) int {
	return assetScores[strings.ToLower(strings.TrimSpace(category))]
}

// AddressComplexity counts the non-empty comma-separated segments.
func AddressComplexity(address string) int {
	n := 0
	for _, seg := range strings.Split(address, ",") {
		if strings.TrimSpace(seg) != "" {
			n++
		}
	}
	return n
}

// IncomeAssetMismatch is max(0, asset - level*asset).
func IncomeAssetMismatch(asset, level int) float64 {
	v := float64(asset - level*asset)
	if v < 0 {
		return 0
	}
	return v
}
