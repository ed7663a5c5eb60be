package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/sentinel/internal/cache"
	"github.com/opensource-finance/sentinel/internal/domain"
)

// Store persists model artifacts. Load returns domain.ErrNotFound when no
// artifact exists under name.
type Store interface {
	Load(ctx context.Context, name string) (*domain.ModelArtifact, error)
	Save(ctx context.Context, a *domain.ModelArtifact) error
}

// MemoryStore keeps artifacts in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	artifacts map[string]*domain.ModelArtifact
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{artifacts: make(map[string]*domain.ModelArtifact)}
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, name string) (*domain.ModelArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[name]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, a *domain.ModelArtifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.artifacts[a.Name] = &cp
	return nil
}

// ArtifactRepository is the slice of the repository the store needs.
type ArtifactRepository interface {
	SaveModelArtifact(ctx context.Context, a *domain.ModelArtifact) error
	GetModelArtifact(ctx context.Context, name string) (*domain.ModelArtifact, error)
}

// RepositoryStore reads artifacts through a cache in front of the
// repository. The cache is optional.
type RepositoryStore struct {
	repo  ArtifactRepository
	cache domain.Cache
	ttl   time.Duration
}

// NewRepositoryStore creates a store backed by repo and fronted by cache.
func NewRepositoryStore(repo ArtifactRepository, c domain.Cache, ttl time.Duration) *RepositoryStore {
	return &RepositoryStore{repo: repo, cache: c, ttl: ttl}
}

// cachedArtifact carries the payload that ModelArtifact omits from JSON.
type cachedArtifact struct {
	Artifact domain.ModelArtifact `json:"artifact"`
	Data     []byte               `json:"data"`
}

func cacheKey(name string) string {
	return "model:" + name
}

// Load implements Store.
func (s *RepositoryStore) Load(ctx context.Context, name string) (*domain.ModelArtifact, error) {
	if s.cache != nil {
		var c cachedArtifact
		ok, err := cache.GetJSON(ctx, s.cache, domain.GlobalTenant, cacheKey(name), &c)
		if err != nil {
			slog.Warn("model cache read failed", "model", name, "error", err)
		}
		if ok {
			a := c.Artifact
			a.Data = c.Data
			return &a, nil
		}
	}

	a, err := s.repo.GetModelArtifact(ctx, name)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, a)
	return a, nil
}

// Save implements Store.
func (s *RepositoryStore) Save(ctx context.Context, a *domain.ModelArtifact) error {
	if err := s.repo.SaveModelArtifact(ctx, a); err != nil {
		return fmt.Errorf("save model artifact: %w", err)
	}
	s.fill(ctx, a)
	return nil
}

func (s *RepositoryStore) fill(ctx context.Context, a *domain.ModelArtifact) {
	if s.cache == nil {
		return
	}
	entry := cachedArtifact{Artifact: *a, Data: a.Data}
	if err := cache.SetJSON(ctx, s.cache, domain.GlobalTenant, cacheKey(a.Name), entry, s.ttl); err != nil {
		slog.Warn("model cache write failed", "model", a.Name, "error", err)
	}
}
