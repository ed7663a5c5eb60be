package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/sentinel/internal/cache"
	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/opensource-finance/sentinel/internal/repository"
)

func TestHistoryService(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "history-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	lruCache := cache.NewLRUCache(100)
	defer lruCache.Close()

	svc := NewService(repo, lruCache, time.Minute)

	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("EmptyHistory", func(t *testing.T) {
		v, err := svc.Vendor(ctx, tenantID, "vendor-001")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(v.Contracts) != 0 {
			t.Errorf("expected no contracts, got %d", len(v.Contracts))
		}
	})

	t.Run("WithContracts", func(t *testing.T) {
		for i := 0; i < 4; i++ {
			c := &domain.Contract{
				ID:            fmt.Sprintf("C-%d", i),
				ProjectName:   "Road resurfacing",
				ContractValue: decimal.NewFromInt(1000000),
				BidderCount:   3,
				Department:    "PWD",
				ContractorID:  "vendor-002",
			}
			if err := repo.SaveContract(ctx, tenantID, c); err != nil {
				t.Fatalf("failed to save contract: %v", err)
			}
		}

		v, err := svc.Vendor(ctx, tenantID, "vendor-002")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(v.Contracts) != 4 {
			t.Errorf("expected 4 contracts, got %d", len(v.Contracts))
		}
	})

	t.Run("CachedUntilInvalidated", func(t *testing.T) {
		extra := &domain.Contract{ID: "C-9", Department: "PWD", ContractorID: "vendor-002"}
		if err := repo.SaveContract(ctx, tenantID, extra); err != nil {
			t.Fatalf("failed to save contract: %v", err)
		}

		v, _ := svc.Vendor(ctx, tenantID, "vendor-002")
		if len(v.Contracts) != 4 {
			t.Errorf("expected cached history of 4, got %d", len(v.Contracts))
		}

		svc.Invalidate(ctx, tenantID, "vendor-002")
		v, _ = svc.Vendor(ctx, tenantID, "vendor-002")
		if len(v.Contracts) != 5 {
			t.Errorf("expected 5 after invalidation, got %d", len(v.Contracts))
		}
	})

	t.Run("MergeWithPeers", func(t *testing.T) {
		peers := []domain.Contract{
			{ID: "C-1", Department: "PWD", ContractorID: "vendor-002"},
			{ID: "C-new", Department: "Health", ContractorID: "vendor-002"},
			{ID: "C-other", Department: "PWD", ContractorID: "vendor-003"},
		}
		v, err := svc.VendorWithPeers(ctx, tenantID, "vendor-002", peers)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(v.Contracts) != 6 {
			t.Errorf("expected 6 merged contracts, got %d", len(v.Contracts))
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		v, err := svc.Vendor(ctx, "other-tenant", "vendor-002")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(v.Contracts) != 0 {
			t.Errorf("expected 0 contracts for different tenant, got %d", len(v.Contracts))
		}
	})

	t.Run("RequiresIDs", func(t *testing.T) {
		if _, err := svc.Vendor(ctx, "", "vendor-002"); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for empty tenant, got %v", err)
		}
		if _, err := svc.Vendor(ctx, tenantID, ""); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for empty contractor, got %v", err)
		}
	})
}

func TestNoRepository(t *testing.T) {
	svc := NewService(nil, nil, 0)

	v, err := svc.Vendor(context.Background(), "tenant", "vendor")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(v.Contracts) != 0 {
		t.Errorf("expected empty vendor, got %d contracts", len(v.Contracts))
	}
}
