package domain

import "time"

// Severity grades a flag.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Flag is a discrete explainable signal.
type Flag struct {
	Type      string   `json:"type"`
	Severity  Severity `json:"severity"`
	Rationale string   `json:"rationale"`
	Source    string   `json:"source"`
}

// Flag types.
const (
	FlagSingleBidder        = "single_bidder"
	FlagRepeatedVendor      = "repeated_vendor"
	FlagTimelineOverrun     = "timeline_overrun"
	FlagBudgetEscalation    = "budget_escalation"
	FlagCostAnomaly         = "cost_anomaly"
	FlagTenderSimilarity    = "tender_similarity"
	FlagCitizenComplaints   = "citizen_complaints"
	FlagCustomRule          = "custom_rule"
	FlagHighValueAsset      = "high_value_asset"
	FlagIncomeAssetMismatch = "income_asset_mismatch"
	FlagYoungAgeHighAssets  = "young_age_high_assets"
	FlagVehicleRegistry     = "vehicle_registry_match"
	FlagHighUtilityBill     = "high_utility_bill"
)

// Flag sources.
const (
	SourceRules      = "rules"
	SourceAnomaly    = "anomaly"
	SourceSimilarity = "similarity"
	SourceCitizen    = "citizen"
	SourceModel      = "model"
	SourceVahan      = "vahan"
	SourceDiscom     = "discom"
)

// RiskLevel bands a risk score.
type RiskLevel string

const (
	RiskLevelLow    RiskLevel = "Low"
	RiskLevelMedium RiskLevel = "Medium"
	RiskLevelHigh   RiskLevel = "High"
)

// LevelForScore maps a 0-100 score to its level.
func LevelForScore(score int) RiskLevel {
	switch {
	case score >= 70:
		return RiskLevelHigh
	case score >= 40:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}

// RiskAssessment is the aggregated contract risk. Explanations follow the
// order in which signals are applied.
type RiskAssessment struct {
	ContractID   string    `json:"contractId"`
	Score        int       `json:"score"`
	Level        RiskLevel `json:"level"`
	Flags        []Flag    `json:"flags"`
	Explanations []string  `json:"explanations"`
}

// Subject types of stored assessments.
const (
	SubjectContract  = "contract"
	SubjectApplicant = "applicant"
)

// FlaggedScore is the contract score above which a contract is flagged for
// citizen-facing listings.
const FlaggedScore = 60

// AssessmentRecord is a persisted assessment.
type AssessmentRecord struct {
	ID          string               `json:"id"`
	TenantID    string               `json:"tenantId"`
	SubjectType string               `json:"subjectType"`
	SubjectID   string               `json:"subjectId"`
	Level       RiskLevel            `json:"level"`
	Flagged     bool                 `json:"flagged"`
	Contract    *RiskAssessment      `json:"contract,omitempty"`
	Applicant   *ApplicantAssessment `json:"applicant,omitempty"`
	CreatedAt   time.Time            `json:"createdAt"`
}
