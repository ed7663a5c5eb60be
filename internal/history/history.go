// Package history provides vendor contract history from the contract store.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/sentinel/internal/cache"
	"github.com/opensource-finance/sentinel/internal/domain"
)

// ContractLister is the slice of the repository the service needs.
type ContractLister interface {
	ListContractsByContractor(ctx context.Context, tenantID, contractorID string) ([]*domain.Contract, error)
}

// Service builds vendor histories. Results are cached per tenant when a
// cache is configured.
type Service struct {
	repo  ContractLister
	cache domain.Cache
	ttl   time.Duration
}

// NewService creates a new history service. cache may be nil.
func NewService(repo ContractLister, cache domain.Cache, ttl time.Duration) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
		ttl:   ttl,
	}
}

func cacheKey(contractorID string) string {
	return "vendor:" + contractorID
}

// Vendor returns the stored contracts of a contractor.
func (s *Service) Vendor(ctx context.Context, tenantID, contractorID string) (*domain.Vendor, error) {
	if tenantID == "" || contractorID == "" {
		return nil, fmt.Errorf("%w: tenantID and contractorID are required", domain.ErrInvalidInput)
	}

	if s.cache != nil {
		var v domain.Vendor
		if ok, _ := cache.GetJSON(ctx, s.cache, tenantID, cacheKey(contractorID), &v); ok {
			return &v, nil
		}
	}

	if s.repo == nil {
		return &domain.Vendor{ID: contractorID, Contracts: []domain.Contract{}}, nil
	}

	stored, err := s.repo.ListContractsByContractor(ctx, tenantID, contractorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list vendor contracts: %w", err)
	}
	v := &domain.Vendor{ID: contractorID, Contracts: make([]domain.Contract, 0, len(stored))}
	for _, c := range stored {
		v.Contracts = append(v.Contracts, *c)
	}

	if s.cache != nil {
		if err := cache.SetJSON(ctx, s.cache, tenantID, cacheKey(contractorID), v, s.ttl); err != nil {
			slog.Warn("failed to cache vendor history",
				"tenant", tenantID,
				"contractor", contractorID,
				"error", err,
			)
		}
	}
	return v, nil
}

// VendorWithPeers merges the stored history of a contractor with the
// contractor's contracts in peers. Contracts present in both are counted
// once, with the peer copy winning.
func (s *Service) VendorWithPeers(ctx context.Context, tenantID, contractorID string, peers []domain.Contract) (*domain.Vendor, error) {
	stored, err := s.Vendor(ctx, tenantID, contractorID)
	if err != nil {
		return nil, err
	}

	merged := &domain.Vendor{ID: contractorID, Contracts: make([]domain.Contract, 0, len(stored.Contracts)+len(peers))}
	seen := make(map[string]bool, len(peers))
	for _, c := range peers {
		if c.ContractorID != contractorID {
			continue
		}
		merged.Contracts = append(merged.Contracts, c)
		if c.ID != "" {
			seen[c.ID] = true
		}
	}
	for _, c := range stored.Contracts {
		if c.ID != "" && seen[c.ID] {
			continue
		}
		merged.Contracts = append(merged.Contracts, c)
	}
	return merged, nil
}

// Invalidate drops the cached history of a contractor.
func (s *Service) Invalidate(ctx context.Context, tenantID, contractorID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, tenantID, cacheKey(contractorID)); err != nil {
		slog.Warn("failed to invalidate vendor history",
			"tenant", tenantID,
			"contractor", contractorID,
			"error", err,
		)
	}
}
