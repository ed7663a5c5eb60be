package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/opensource-finance/sentinel/internal/features"
)

// ScoreApplicant classifies one applicant and appends registry flags. The
// probability and status come from the classifier alone.
func (s *Service) ScoreApplicant(ctx context.Context, a *domain.Applicant) (domain.ApplicantAssessment, error) {
	if a == nil || a.ID == "" {
		return domain.ApplicantAssessment{}, fmt.Errorf("%w: applicant id is required", domain.ErrValidation)
	}

	start := time.Now()
	ctx, span := tracer.Start(ctx, "scoring.ScoreApplicant",
		trace.WithAttributes(attribute.String("applicant.id", a.ID)),
	)
	defer span.End()

	fv, err := s.engineer.Compute(features.FromApplicant(a))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return domain.ApplicantAssessment{}, fmt.Errorf("applicant %s: %w", a.ID, err)
	}

	pred, err := s.model.Predict(ctx, fv)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return domain.ApplicantAssessment{}, err
	}

	var registryFlags []domain.Flag
	if s.checker != nil {
		registryFlags = s.checker.Check(a.Identity())
	}

	assessment := s.processor.AssessApplicant(a.ID, pred, registryFlags)
	span.SetAttributes(
		attribute.String("risk.status", string(assessment.RiskStatus)),
		attribute.Float64("fraud.probability", assessment.FraudProbability),
	)
	s.metrics.IncrementAssessment(domain.SubjectApplicant, string(assessment.RiskLevel))
	s.metrics.ObserveScoring("score_applicant", time.Since(start))
	return assessment, nil
}

// ApplicantOutcome is the result for one applicant of a scan. Exactly one
// of Assessment and Error is set.
type ApplicantOutcome struct {
	ApplicantID string                      `json:"applicantId"`
	Assessment  *domain.ApplicantAssessment `json:"assessment,omitempty"`
	Error       string                      `json:"error,omitempty"`
}

// ScanSummary counts scan outcomes by risk level.
type ScanSummary struct {
	Total  int `json:"total"`
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
	Failed int `json:"failed"`
}

// ScanResult is the outcome of a batch scan.
type ScanResult struct {
	Results []ApplicantOutcome `json:"results"`
	Summary ScanSummary        `json:"summary"`
	// Partial is set when the scan stopped early.
	Partial bool `json:"partial"`
}

// ScanApplicants scores a batch on a bounded pool. The model is loaded
// before any applicant is scored so that a missing model fails the whole
// batch. Invalid applicants are reported per item. On cancellation the
// completed outcomes are returned, in input order, together with the
// context error.
func (s *Service) ScanApplicants(ctx context.Context, applicants []domain.Applicant) (*ScanResult, error) {
	result := &ScanResult{Results: []ApplicantOutcome{}}
	if len(applicants) == 0 {
		return result, nil
	}

	start := time.Now()
	ctx, span := tracer.Start(ctx, "scoring.ScanApplicants",
		trace.WithAttributes(attribute.Int("batch.size", len(applicants))),
	)
	defer span.End()

	if s.batchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.batchTimeout)
		defer cancel()
	}

	if _, err := s.model.Model(ctx); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	outcomes := make([]*ApplicantOutcome, len(applicants))
	var g errgroup.Group
	g.SetLimit(s.workers)
	for i := range applicants {
		i := i
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			a := &applicants[i]
			out := &ApplicantOutcome{ApplicantID: a.ID}
			assessment, err := s.ScoreApplicant(ctx, a)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				out.Error = err.Error()
			} else {
				out.Assessment = &assessment
			}
			outcomes[i] = out
			return nil
		})
	}
	_ = g.Wait()

	for _, out := range outcomes {
		if out == nil {
			continue
		}
		result.Results = append(result.Results, *out)
		result.Summary.add(out)
	}
	s.metrics.ObserveScoring("scan_applicants", time.Since(start))

	if err := ctx.Err(); err != nil {
		result.Partial = true
		span.SetStatus(codes.Error, err.Error())
		slog.Warn("applicant scan stopped early",
			"requested", len(applicants),
			"completed", len(result.Results),
			"error", err,
		)
		return result, err
	}

	slog.Info("applicant scan completed",
		"total", result.Summary.Total,
		"high", result.Summary.High,
		"medium", result.Summary.Medium,
		"low", result.Summary.Low,
		"failed", result.Summary.Failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

func (s *ScanSummary) add(out *ApplicantOutcome) {
	s.Total++
	if out.Assessment == nil {
		s.Failed++
		return
	}
	switch out.Assessment.RiskLevel {
	case domain.RiskLevelHigh:
		s.High++
	case domain.RiskLevelMedium:
		s.Medium++
	default:
		s.Low++
	}
}
