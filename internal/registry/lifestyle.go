package registry

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/opensource-finance/sentinel/internal/identity"
)

// LifestyleStatus is the verdict of a lifestyle scan.
type LifestyleStatus string

const (
	StatusCriticalFraud  LifestyleStatus = "CRITICAL_FRAUD"
	StatusReviewRequired LifestyleStatus = "REVIEW_REQUIRED"
	StatusClean          LifestyleStatus = "CLEAN"
	StatusNotFound       LifestyleStatus = "NOT_FOUND"
)

// MatchType records how a citizen was identified.
type MatchType string

const (
	MatchExact  MatchType = "EXACT_MATCH"
	MatchPrefix MatchType = "PREFIX_MATCH"
	MatchFuzzy  MatchType = "FUZZY_MATCH"
	MatchNone   MatchType = "NO_MATCH"
)

// Lifestyle scoring.
const (
	VehiclePoints       = 50
	UtilityPoints       = 40
	LifestyleUtilityMin = 8000.0
	CriticalScore       = 50
	minPrefixLength     = 3
	minWordOverlap      = 0.5
)

// Asset kinds reported by a scan.
const (
	AssetVehicle = "vehicle"
	AssetUtility = "utility"
)

// Asset is one piece of evidence found for a family.
type Asset struct {
	Kind   string `json:"kind"`
	Owner  string `json:"owner"`
	Detail string `json:"detail"`
	Points int    `json:"points"`
}

// LifestyleResult is the outcome of a lifestyle scan.
type LifestyleResult struct {
	Query         string          `json:"query"`
	Status        LifestyleStatus `json:"status"`
	Score         int             `json:"score"`
	MatchType     MatchType       `json:"matchType"`
	CitizenID     string          `json:"citizenId,omitempty"`
	CitizenName   string          `json:"citizenName,omitempty"`
	FamilyID      string          `json:"familyId,omitempty"`
	FamilyCluster []string        `json:"familyCluster"`
	Assets        []Asset         `json:"assets"`
	Message       string          `json:"message"`
}

// LifestyleScanner looks for undeclared family assets of a citizen.
type LifestyleScanner struct {
	civil          []domain.RegistryRecord
	byFamily       map[string][]domain.RegistryRecord
	vehicleByOwner map[string]domain.RegistryRecord
	billByAddress  map[string]float64
}

// NewLifestyleScanner indexes the civil, vehicle and utility registries.
func NewLifestyleScanner(regs *Registries) *LifestyleScanner {
	s := &LifestyleScanner{
		byFamily:       make(map[string][]domain.RegistryRecord),
		vehicleByOwner: make(map[string]domain.RegistryRecord),
		billByAddress:  make(map[string]float64),
	}
	if regs == nil {
		return s
	}

	s.civil = regs.Civil
	for _, c := range regs.Civil {
		if fam := c.Attr(domain.AttrFamilyID); fam != "" {
			s.byFamily[fam] = append(s.byFamily[fam], c)
		}
	}
	for _, v := range regs.Vehicles {
		owner := v.Attr(domain.AttrOwnerID)
		if owner == "" {
			continue
		}
		if _, seen := s.vehicleByOwner[owner]; !seen {
			s.vehicleByOwner[owner] = v
		}
	}
	for _, u := range regs.Utilities {
		addr := identity.Normalize(u.Address)
		bill, ok := u.FloatAttr(domain.AttrAvgMonthlyBill)
		if addr == "" || !ok {
			continue
		}
		if _, seen := s.billByAddress[addr]; !seen {
			s.billByAddress[addr] = bill
		}
	}
	return s
}

// Scan identifies the named citizen, expands the family cluster and scores
// the assets found. An unknown citizen is reported as StatusNotFound.
func (s *LifestyleScanner) Scan(name string) LifestyleResult {
	res := LifestyleResult{
		Query:         name,
		FamilyCluster: []string{},
		Assets:        []Asset{},
	}

	person, match := s.identify(name)
	if match == MatchNone {
		res.Status = StatusNotFound
		res.MatchType = MatchNone
		res.FamilyCluster = append(res.FamilyCluster, name)
		res.Message = "No civil registry record found for applicant"
		return res
	}

	res.MatchType = match
	res.CitizenID = person.ID
	res.CitizenName = person.Name
	res.FamilyID = person.Attr(domain.AttrFamilyID)

	family := []domain.RegistryRecord{person}
	if res.FamilyID != "" {
		family = s.byFamily[res.FamilyID]
	}

	seenAddr := make(map[string]bool, len(family))
	for _, m := range family {
		res.FamilyCluster = append(res.FamilyCluster, m.Name)

		if v, ok := s.vehicleByOwner[m.ID]; ok && m.ID != "" {
			model := v.Attr(domain.AttrVehicleModel)
			if model == "" {
				model = "vehicle"
			}
			res.Assets = append(res.Assets, Asset{
				Kind:   AssetVehicle,
				Owner:  m.Name,
				Detail: fmt.Sprintf("Family member %s owns %s", m.Name, model),
				Points: VehiclePoints,
			})
			res.Score += VehiclePoints
		}

		addr := identity.Normalize(m.Address)
		if addr == "" || seenAddr[addr] {
			continue
		}
		seenAddr[addr] = true
		if bill, ok := s.billByAddress[addr]; ok && bill > LifestyleUtilityMin {
			res.Assets = append(res.Assets, Asset{
				Kind:   AssetUtility,
				Owner:  m.Name,
				Detail: fmt.Sprintf("High monthly bill ₹%s at %s", decimal.NewFromFloat(bill).StringFixed(2), m.Address),
				Points: UtilityPoints,
			})
			res.Score += UtilityPoints
		}
	}

	switch {
	case res.Score >= CriticalScore:
		res.Status = StatusCriticalFraud
		res.Message = "High-value assets linked to family"
	case res.Score > 0:
		res.Status = StatusReviewRequired
		res.Message = "Minor asset flags detected, manual verification needed"
	default:
		res.Status = StatusClean
		res.Message = "Identity verified, no hidden assets found"
	}
	return res
}

// identify finds a citizen by exact name, then name prefix, then best word
// overlap.
func (s *LifestyleScanner) identify(name string) (domain.RegistryRecord, MatchType) {
	query := identity.Normalize(name)
	if query == "" || len(s.civil) == 0 {
		return domain.RegistryRecord{}, MatchNone
	}

	for _, c := range s.civil {
		if identity.Normalize(c.Name) == query {
			return c, MatchExact
		}
	}

	if len([]rune(query)) >= minPrefixLength {
		for _, c := range s.civil {
			if strings.HasPrefix(identity.Normalize(c.Name), query) {
				return c, MatchPrefix
			}
		}
	}

	queryWords := wordSet(query)
	var best domain.RegistryRecord
	bestScore := 0.0
	for _, c := range s.civil {
		words := wordSet(identity.Normalize(c.Name))
		if len(words) == 0 {
			continue
		}
		overlap := 0
		for w := range queryWords {
			if words[w] {
				overlap++
			}
		}
		score := float64(overlap) / float64(max(len(queryWords), len(words)))
		if score > bestScore && score > minWordOverlap {
			best, bestScore = c, score
		}
	}
	if bestScore > 0 {
		return best, MatchFuzzy
	}
	return domain.RegistryRecord{}, MatchNone
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(s) {
		set[w] = true
	}
	return set
}
