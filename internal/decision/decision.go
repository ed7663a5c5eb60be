// Package decision aggregates detector outputs into bounded, explainable
// risk assessments.
package decision

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/sentinel/internal/domain"
)

// Contribution caps and fixed weights for contract signals.
const (
	SingleBidderPoints     = 20
	RepeatedVendorPoints   = 15
	TimelineCap            = 15
	BudgetCap              = 20
	AnomalyCap             = 20
	TenderSimilarityPoints = 15
	ComplaintCap           = 15
	MaxScore               = 100
)

// Processor turns detector outputs into assessments. It holds no state.
type Processor struct{}

// NewProcessor creates a processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// ContractSignals carries everything known about one contract. A nil
// detector result means the detector was skipped or failed and contributes
// nothing.
type ContractSignals struct {
	ContractID string
	Flags      *domain.ContractFlags
	Anomaly    *domain.AnomalyResult
	Similarity *domain.SimilarityResult
	Complaints int
}

// ScoreContract applies the additive scoring table and caps the total at
// 100. Explanations and flags follow table order; tenant rule hits are
// appended last as zero-point flags.
func (p *Processor) ScoreContract(in *ContractSignals) domain.RiskAssessment {
	a := domain.RiskAssessment{
		ContractID:   in.ContractID,
		Flags:        []domain.Flag{},
		Explanations: []string{},
	}
	total := 0

	add := func(points int, flag domain.Flag, explanation string) {
		if points <= 0 {
			return
		}
		total += points
		a.Flags = append(a.Flags, flag)
		a.Explanations = append(a.Explanations, explanation)
	}

	if f := in.Flags; f != nil {
		if f.SingleBidder {
			add(SingleBidderPoints, domain.Flag{
				Type:      domain.FlagSingleBidder,
				Severity:  domain.SeverityHigh,
				Rationale: "Tender received a single bid",
				Source:    domain.SourceRules,
			}, fmt.Sprintf("Single bidder tender (High Risk: +%d)", SingleBidderPoints))
		}
		if f.RepeatedVendor {
			add(RepeatedVendorPoints, domain.Flag{
				Type:      domain.FlagRepeatedVendor,
				Severity:  domain.SeverityMedium,
				Rationale: fmt.Sprintf("Vendor holds %d contracts in this department", f.VendorDepartmentContracts),
				Source:    domain.SourceRules,
			}, fmt.Sprintf("Repeated vendor from same department (Medium Risk: +%d)", RepeatedVendorPoints))
		}
		if f.TimelineOverrun {
			points := TimelinePoints(f.DelayDays)
			add(points, domain.Flag{
				Type:      domain.FlagTimelineOverrun,
				Severity:  domain.SeverityMedium,
				Rationale: fmt.Sprintf("Completion %d days past the expected date", f.DelayDays),
				Source:    domain.SourceRules,
			}, fmt.Sprintf("Timeline overrun by %d days (Risk: +%d)", f.DelayDays, points))
		}
		if f.BudgetEscalation {
			points := BudgetPoints(f.EscalationPct)
			add(points, domain.Flag{
				Type:      domain.FlagBudgetEscalation,
				Severity:  domain.SeverityHigh,
				Rationale: fmt.Sprintf("Contract value is %.2f%% over the original budget", f.EscalationPct),
				Source:    domain.SourceRules,
			}, fmt.Sprintf("Budget escalation of %.2f%% (Risk: +%d)", f.EscalationPct, points))
		}
	}

	if an := in.Anomaly; an != nil && an.IsAnomaly {
		points := AnomalyPoints(an.AnomalyScore)
		add(points, domain.Flag{
			Type:      domain.FlagCostAnomaly,
			Severity:  domain.SeverityMedium,
			Rationale: an.Explanation,
			Source:    domain.SourceAnomaly,
		}, fmt.Sprintf("Cost anomaly detected (Risk: +%d)", points))
	}

	if s := in.Similarity; s != nil && s.IsSuspicious {
		add(TenderSimilarityPoints, domain.Flag{
			Type:      domain.FlagTenderSimilarity,
			Severity:  domain.SeverityMedium,
			Rationale: s.Explanation,
			Source:    domain.SourceSimilarity,
		}, fmt.Sprintf("High tender similarity detected (Risk: +%d)", TenderSimilarityPoints))
	}

	if in.Complaints > 0 {
		points := ComplaintPoints(in.Complaints)
		add(points, domain.Flag{
			Type:      domain.FlagCitizenComplaints,
			Severity:  domain.SeverityLow,
			Rationale: fmt.Sprintf("%d citizen complaint(s) on record", in.Complaints),
			Source:    domain.SourceCitizen,
		}, fmt.Sprintf("%d citizen complaint(s) (Risk: +%d)", in.Complaints, points))
	}

	if in.Flags != nil {
		for _, hit := range in.Flags.Custom {
			a.Flags = append(a.Flags, domain.Flag{
				Type:      domain.FlagCustomRule,
				Severity:  hit.Severity,
				Rationale: fmt.Sprintf("%s: %s", hit.Name, hit.Description),
				Source:    domain.SourceRules,
			})
		}
	}

	if total > MaxScore {
		total = MaxScore
	}
	a.Score = total
	a.Level = domain.LevelForScore(total)
	return a
}

// TimelinePoints is min(15, floor(delay/30) * 5).
func TimelinePoints(delayDays int) int {
	if delayDays <= 0 {
		return 0
	}
	return min(TimelineCap, delayDays/30*5)
}

// BudgetPoints is min(20, floor(pct/10) * 5).
func BudgetPoints(escalationPct float64) int {
	if escalationPct <= 0 {
		return 0
	}
	return min(BudgetCap, int(escalationPct/10)*5)
}

// AnomalyPoints is min(20, floor(score/5)).
func AnomalyPoints(score int) int {
	if score <= 0 {
		return 0
	}
	return min(AnomalyCap, score/5)
}

// ComplaintPoints is min(15, count * 5).
func ComplaintPoints(count int) int {
	if count <= 0 {
		return 0
	}
	return min(ComplaintCap, count*5)
}

// AssessApplicant combines a classifier prediction with registry flags.
// The probability and status come from the classifier alone; registry flags
// are appended after the model flags.
func (p *Processor) AssessApplicant(applicantID string, pred domain.Prediction, registryFlags []domain.Flag) domain.ApplicantAssessment {
	flags := make([]domain.Flag, 0, len(pred.Flags)+len(registryFlags))
	flags = append(flags, pred.Flags...)
	flags = append(flags, registryFlags...)

	return domain.ApplicantAssessment{
		ApplicantID:      applicantID,
		FraudProbability: pred.FraudProbability,
		RiskStatus:       pred.RiskStatus,
		RiskLevel:        pred.RiskLevel,
		IsFraud:          pred.IsFraud,
		Flags:            flags,
		Features:         pred.Features,
		ModelVersion:     pred.ModelVersion,
	}
}

// ContractRecord wraps a contract assessment for storage.
func ContractRecord(tenantID string, a domain.RiskAssessment) *domain.AssessmentRecord {
	return &domain.AssessmentRecord{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		SubjectType: domain.SubjectContract,
		SubjectID:   a.ContractID,
		Level:       a.Level,
		Flagged:     a.Score > domain.FlaggedScore,
		Contract:    &a,
		CreatedAt:   time.Now().UTC(),
	}
}

// ApplicantRecord wraps an applicant assessment for storage.
func ApplicantRecord(tenantID string, a domain.ApplicantAssessment) *domain.AssessmentRecord {
	return &domain.AssessmentRecord{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		SubjectType: domain.SubjectApplicant,
		SubjectID:   a.ApplicantID,
		Level:       a.RiskLevel,
		Flagged:     a.RiskStatus == domain.RiskStatusRed,
		Applicant:   &a,
		CreatedAt:   time.Now().UTC(),
	}
}

// ShouldAlert reports whether a stored assessment warrants an alert.
func ShouldAlert(rec *domain.AssessmentRecord) bool {
	return rec.Level == domain.RiskLevelHigh
}
