package registry

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/opensource-finance/sentinel/internal/identity"
)

// Registry check thresholds.
const (
	CommercialVehicleType = "commercial"
	HighUtilityBill       = 10000.0
)

// Checker matches applicants against the vehicle and utility registries.
type Checker struct {
	resolver  *identity.Resolver
	vehicles  []domain.RegistryRecord
	utilities []domain.RegistryRecord
}

// NewChecker creates a checker over loaded registries.
func NewChecker(resolver *identity.Resolver, regs *Registries) *Checker {
	c := &Checker{resolver: resolver}
	if regs != nil {
		c.vehicles = regs.Vehicles
		c.utilities = regs.Utilities
	}
	return c
}

// Check runs every registry check and returns the resulting flags, vehicle
// first.
func (c *Checker) Check(id domain.Identity) []domain.Flag {
	flags := make([]domain.Flag, 0, 2)
	if f, ok := c.CheckVehicle(id); ok {
		flags = append(flags, f)
	}
	if f, ok := c.CheckUtility(id); ok {
		flags = append(flags, f)
	}
	return flags
}

// CheckVehicle flags an applicant who owns a commercial vehicle.
func (c *Checker) CheckVehicle(id domain.Identity) (domain.Flag, bool) {
	cand, ok := c.resolver.FindFirst(id, c.vehicles, func(r domain.RegistryRecord) bool {
		return strings.EqualFold(r.Attr(domain.AttrVehicleType), CommercialVehicleType)
	})
	if !ok {
		return domain.Flag{}, false
	}

	model := cand.Record.Attr(domain.AttrVehicleModel)
	if model == "" {
		model = "unknown model"
	}
	return domain.Flag{
		Type:     domain.FlagVehicleRegistry,
		Severity: domain.SeverityMedium,
		Rationale: fmt.Sprintf("Owns commercial vehicle %s (confidence %.2f; %s)",
			model, cand.Match.Confidence, cand.Match.Detail),
		Source: domain.SourceVahan,
	}, true
}

// CheckUtility flags an applicant whose average monthly bill exceeds
// HighUtilityBill.
func (c *Checker) CheckUtility(id domain.Identity) (domain.Flag, bool) {
	cand, ok := c.resolver.FindFirst(id, c.utilities, func(r domain.RegistryRecord) bool {
		bill, ok := r.FloatAttr(domain.AttrAvgMonthlyBill)
		return ok && bill > HighUtilityBill
	})
	if !ok {
		return domain.Flag{}, false
	}

	bill, _ := cand.Record.FloatAttr(domain.AttrAvgMonthlyBill)
	return domain.Flag{
		Type:     domain.FlagHighUtilityBill,
		Severity: domain.SeverityMedium,
		Rationale: fmt.Sprintf("Average monthly bill ₹%s exceeds ₹%s (confidence %.2f; %s)",
			decimal.NewFromFloat(bill).StringFixed(2),
			decimal.NewFromFloat(HighUtilityBill).StringFixed(0),
			cand.Match.Confidence, cand.Match.Detail),
		Source: domain.SourceDiscom,
	}, true
}
