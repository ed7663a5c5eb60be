// Package scoring orchestrates the detectors, the classifier and the
// aggregator into contract and applicant assessments.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/sentinel/internal/anomaly"
	"github.com/opensource-finance/sentinel/internal/classifier"
	"github.com/opensource-finance/sentinel/internal/decision"
	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/opensource-finance/sentinel/internal/features"
	"github.com/opensource-finance/sentinel/internal/history"
	"github.com/opensource-finance/sentinel/internal/identity"
	"github.com/opensource-finance/sentinel/internal/metrics"
	"github.com/opensource-finance/sentinel/internal/registry"
	"github.com/opensource-finance/sentinel/internal/rules"
	"github.com/opensource-finance/sentinel/internal/tender"
)

var tracer = otel.Tracer("sentinel-scoring")

// Detector names used in logs and metrics.
const (
	DetectorRules      = "rules"
	DetectorAnomaly    = "anomaly"
	DetectorSimilarity = "similarity"
	DetectorHistory    = "history"
)

// Config wires a Service. Rules and Model are required; every other field
// has a working default.
type Config struct {
	Repo       domain.Repository
	Rules      *rules.Engine
	Anomaly    *anomaly.Detector
	Similarity *tender.Detector
	History    *history.Service
	Model      *classifier.Manager
	Engineer   *features.Engineer
	Resolver   *identity.Resolver
	Checker    *registry.Checker
	Lifestyle  *registry.LifestyleScanner
	Metrics    *metrics.Metrics

	// Workers bounds per-item concurrency in batch operations.
	Workers int
	// BatchTimeout bounds a whole batch. Zero means no timeout.
	BatchTimeout time.Duration
	// Now is the clock used for rule evaluation.
	Now func() time.Time
}

// Service scores contracts and applicants.
type Service struct {
	repo       domain.Repository
	rules      *rules.Engine
	anomaly    *anomaly.Detector
	similarity *tender.Detector
	history    *history.Service
	model      *classifier.Manager
	engineer   *features.Engineer
	resolver   *identity.Resolver
	checker    *registry.Checker
	lifestyle  *registry.LifestyleScanner
	processor  *decision.Processor
	metrics    *metrics.Metrics

	workers      int
	batchTimeout time.Duration
	now          func() time.Time
}

// NewService creates a scoring service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Rules == nil {
		return nil, errors.New("scoring: rules engine is required")
	}
	if cfg.Model == nil {
		return nil, errors.New("scoring: model manager is required")
	}
	if cfg.Anomaly == nil {
		cfg.Anomaly = anomaly.NewDetector(anomaly.Config{})
	}
	if cfg.Similarity == nil {
		cfg.Similarity = tender.NewDetector(tender.Config{})
	}
	if cfg.History == nil {
		var lister history.ContractLister
		if cfg.Repo != nil {
			lister = cfg.Repo
		}
		cfg.History = history.NewService(lister, nil, 0)
	}
	if cfg.Engineer == nil {
		cfg.Engineer = features.NewEngineer(nil)
	}
	if cfg.Resolver == nil {
		cfg.Resolver = identity.NewResolverWithMetric(identity.Jaccard{})
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		repo:         cfg.Repo,
		rules:        cfg.Rules,
		anomaly:      cfg.Anomaly,
		similarity:   cfg.Similarity,
		history:      cfg.History,
		model:        cfg.Model,
		engineer:     cfg.Engineer,
		resolver:     cfg.Resolver,
		checker:      cfg.Checker,
		lifestyle:    cfg.Lifestyle,
		processor:    decision.NewProcessor(),
		metrics:      cfg.Metrics,
		workers:      cfg.Workers,
		batchTimeout: cfg.BatchTimeout,
		now:          cfg.Now,
	}, nil
}

// Rules returns the rule engine.
func (s *Service) Rules() *rules.Engine {
	return s.rules
}

// Model returns the model manager.
func (s *Service) Model() *classifier.Manager {
	return s.model
}

// ContractBatch is one peer set to score. Vendors optionally supply
// contractor histories; contractors without one are looked up in the store.
type ContractBatch struct {
	Contracts  []domain.Contract
	Vendors    []domain.Vendor
	Complaints map[string]int
}

// NewContractBatch validates ingestion records and builds a batch.
func NewContractBatch(records []domain.ContractRecord, vendors []domain.Vendor, complaints map[string]int) (*ContractBatch, error) {
	b := &ContractBatch{
		Contracts:  make([]domain.Contract, 0, len(records)),
		Vendors:    vendors,
		Complaints: complaints,
	}
	seen := make(map[string]bool, len(records))
	for i := range records {
		c, err := records[i].ToContract()
		if err != nil {
			return nil, fmt.Errorf("contracts[%d]: %w", i, err)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("%w: duplicate contract id %s", domain.ErrValidation, c.ID)
		}
		seen[c.ID] = true
		b.Contracts = append(b.Contracts, *c)
	}
	return b, nil
}

// AssessContracts scores every contract of the batch against the batch as
// its peer set. Results keep input order. A failing detector is logged and
// contributes nothing; only cancellation aborts the batch.
func (s *Service) AssessContracts(ctx context.Context, tenantID string, batch *ContractBatch) ([]domain.RiskAssessment, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}
	if batch == nil || len(batch.Contracts) == 0 {
		return []domain.RiskAssessment{}, nil
	}

	start := time.Now()
	ctx, span := tracer.Start(ctx, "scoring.AssessContracts",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.Int("batch.size", len(batch.Contracts)),
		),
	)
	defer span.End()

	if s.batchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.batchTimeout)
		defer cancel()
	}

	peers := batch.Contracts
	anomalies, similarities := s.detectPeerSignals(ctx, tenantID, peers)
	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	supplied := make(map[string]*domain.Vendor, len(batch.Vendors))
	for i := range batch.Vendors {
		supplied[batch.Vendors[i].ID] = &batch.Vendors[i]
	}

	now := s.now()
	results := make([]domain.RiskAssessment, len(peers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := range peers {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c := &peers[i]
			signals := &decision.ContractSignals{
				ContractID: c.ID,
				Complaints: batch.Complaints[c.ID],
			}
			if a, ok := anomalies[c.ID]; ok {
				signals.Anomaly = &a
			}
			if sim, ok := similarities[c.ID]; ok {
				signals.Similarity = &sim
			}

			vendor := s.vendorFor(gctx, tenantID, c.ContractorID, supplied, peers)
			flags, err := s.rules.Evaluate(gctx, &rules.Input{
				Contract: c,
				Vendor:   vendor,
				Peers:    peers,
				Now:      now,
			})
			switch {
			case err == nil:
				signals.Flags = &flags
			case gctx.Err() != nil:
				return gctx.Err()
			default:
				s.detectorFailed(tenantID, DetectorRules, err)
			}

			results[i] = s.processor.ScoreContract(signals)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	for _, r := range results {
		s.metrics.IncrementAssessment(domain.SubjectContract, string(r.Level))
	}
	s.metrics.ObserveScoring("assess_contracts", time.Since(start))

	slog.Info("contract batch scored",
		"tenant_id", tenantID,
		"contracts", len(results),
		"anomalies", len(anomalies),
		"similarities", len(similarities),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return results, nil
}

// AssessStored re-scores every stored contract of a tenant as one peer set
// with the stored complaint counts.
func (s *Service) AssessStored(ctx context.Context, tenantID string) ([]domain.RiskAssessment, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("%w: no contract store configured", domain.ErrServiceUnavailable)
	}
	stored, err := s.repo.ListContracts(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contracts: %w", err)
	}
	complaints, err := s.repo.ComplaintCounts(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to count complaints: %w", err)
	}

	batch := &ContractBatch{
		Contracts:  make([]domain.Contract, 0, len(stored)),
		Complaints: complaints,
	}
	for _, c := range stored {
		batch.Contracts = append(batch.Contracts, *c)
	}
	return s.AssessContracts(ctx, tenantID, batch)
}

// detectPeerSignals runs the peer-set detectors in parallel. Errors are
// logged and yield empty results.
func (s *Service) detectPeerSignals(ctx context.Context, tenantID string, peers []domain.Contract) (map[string]domain.AnomalyResult, map[string]domain.SimilarityResult) {
	var (
		anomalies    map[string]domain.AnomalyResult
		similarities map[string]domain.SimilarityResult
		g            errgroup.Group
	)

	g.Go(func() error {
		res, err := s.anomaly.Score(ctx, peers)
		if err != nil {
			s.detectorFailed(tenantID, DetectorAnomaly, err)
			return nil
		}
		anomalies = res
		return nil
	})
	g.Go(func() error {
		res, err := s.similarity.Score(ctx, peers)
		if err != nil {
			s.detectorFailed(tenantID, DetectorSimilarity, err)
			return nil
		}
		similarities = res
		return nil
	})
	_ = g.Wait()

	return anomalies, similarities
}

// vendorFor returns the contractor history used by the repeated vendor
// rule. A supplied vendor is merged with the batch; otherwise the store is
// consulted. A failed lookup returns nil so the rules fall back to the batch.
func (s *Service) vendorFor(ctx context.Context, tenantID, contractorID string, supplied map[string]*domain.Vendor, peers []domain.Contract) *domain.Vendor {
	if contractorID == "" {
		return nil
	}
	if v, ok := supplied[contractorID]; ok {
		return mergeVendor(contractorID, peers, v.Contracts)
	}

	v, err := s.history.VendorWithPeers(ctx, tenantID, contractorID, peers)
	if err != nil {
		if ctx.Err() == nil {
			s.detectorFailed(tenantID, DetectorHistory, err)
		}
		return nil
	}
	return v
}

func mergeVendor(contractorID string, peers, known []domain.Contract) *domain.Vendor {
	v := &domain.Vendor{ID: contractorID, Contracts: make([]domain.Contract, 0, len(known))}
	seen := make(map[string]bool)
	for _, c := range peers {
		if c.ContractorID == contractorID {
			v.Contracts = append(v.Contracts, c)
			seen[c.ID] = true
		}
	}
	for _, c := range known {
		if c.ID != "" && seen[c.ID] {
			continue
		}
		v.Contracts = append(v.Contracts, c)
	}
	return v
}

func (s *Service) detectorFailed(tenantID, detector string, err error) {
	slog.Warn("detector failed, contributing nothing",
		"tenant_id", tenantID,
		"detector", detector,
		"error", err,
	)
	s.metrics.IncrementDetectorFailure(detector)
}

// Save persists an assessment record when a store is configured.
func (s *Service) Save(ctx context.Context, rec *domain.AssessmentRecord) error {
	if s.repo == nil {
		return nil
	}
	if err := s.repo.SaveAssessment(ctx, rec.TenantID, rec); err != nil {
		return fmt.Errorf("failed to save assessment: %w", err)
	}
	return nil
}

// ResolveIdentity compares two identities with the configured metric.
func (s *Service) ResolveIdentity(a, b domain.Identity) domain.IdentityMatch {
	return s.resolver.Resolve(a, b)
}

// ScanLifestyle runs a lifestyle scan. Without civil registry data every
// name is NOT_FOUND.
func (s *Service) ScanLifestyle(name string) registry.LifestyleResult {
	if s.lifestyle == nil {
		return registry.NewLifestyleScanner(nil).Scan(name)
	}
	return s.lifestyle.Scan(name)
}
