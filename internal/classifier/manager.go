package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/opensource-finance/sentinel/internal/features"
	"github.com/opensource-finance/sentinel/internal/metrics"
)

// ManagerConfig wires a Manager.
type ManagerConfig struct {
	Name     string
	Store    Store
	Source   Source
	Engineer *features.Engineer
	Params   Params
	Metrics  *metrics.Metrics
}

// Manager owns the model lifecycle: load the stored artifact, or train one
// when none exists, exactly once. Reads of the loaded model are lock free.
type Manager struct {
	name     string
	store    Store
	source   Source
	engineer *features.Engineer
	params   Params
	metrics  *metrics.Metrics

	mu      sync.Mutex
	current atomic.Pointer[Model]
}

// NewManager creates a manager. A nil store keeps the model in memory only.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Name == "" {
		cfg.Name = "welfare-fraud-ensemble"
	}
	if cfg.Engineer == nil {
		cfg.Engineer = features.NewEngineer(nil)
	}
	if cfg.Params.Forest.Trees == 0 && cfg.Params.Boost.Trees == 0 {
		cfg.Params = DefaultParams()
	}
	return &Manager{
		name:     cfg.Name,
		store:    cfg.Store,
		source:   cfg.Source,
		engineer: cfg.Engineer,
		params:   cfg.Params,
		metrics:  cfg.Metrics,
	}
}

// Current returns the loaded model, or nil before first use.
func (m *Manager) Current() *Model {
	return m.current.Load()
}

// Model returns the loaded model, loading or training it on first use.
// Concurrent first calls share a single load or training pass.
func (m *Manager) Model(ctx context.Context) (*Model, error) {
	if mdl := m.current.Load(); mdl != nil {
		return mdl, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if mdl := m.current.Load(); mdl != nil {
		return mdl, nil
	}

	mdl, err := m.loadStored(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		slog.Info("no stored fraud model, training", "model", m.name)
		mdl, err = m.trainAndSave(ctx)
	}
	if err != nil {
		return nil, err
	}

	m.current.Store(mdl)
	return mdl, nil
}

// Retrain trains a fresh model and replaces the loaded one.
func (m *Manager) Retrain(ctx context.Context) (*Model, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mdl, err := m.trainAndSave(ctx)
	if err != nil {
		return nil, err
	}
	m.current.Store(mdl)
	return mdl, nil
}

// Predict scores a feature vector with the loaded model.
func (m *Manager) Predict(ctx context.Context, fv domain.FeatureVector) (domain.Prediction, error) {
	mdl, err := m.Model(ctx)
	if err != nil {
		return domain.Prediction{}, err
	}
	return mdl.Predict(fv)
}

func (m *Manager) loadStored(ctx context.Context) (*Model, error) {
	if m.store == nil {
		return nil, domain.ErrNotFound
	}
	a, err := m.store.Load(ctx, m.name)
	if err != nil {
		return nil, err
	}
	mdl, err := FromArtifact(a)
	if err != nil {
		return nil, err
	}
	if err := mdl.CheckSchema(m.engineer.Schema()); err != nil {
		return nil, err
	}
	slog.Info("fraud model loaded", "model", m.name, "version", mdl.Version)
	return mdl, nil
}

func (m *Manager) trainAndSave(ctx context.Context) (*Model, error) {
	if m.source == nil {
		m.metrics.IncrementModelTraining("unavailable")
		return nil, fmt.Errorf("%w: no training data source configured", domain.ErrServiceUnavailable)
	}
	records, err := m.source.Load(ctx)
	if err != nil {
		m.metrics.IncrementModelTraining("unavailable")
		if errors.Is(err, domain.ErrServiceUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: load training data: %w", domain.ErrServiceUnavailable, err)
	}

	mdl, err := Train(ctx, m.name, records, m.engineer, m.params)
	if err != nil {
		m.metrics.IncrementModelTraining("failed")
		return nil, err
	}
	m.metrics.IncrementModelTraining("trained")

	if m.store != nil {
		a, err := mdl.Artifact()
		if err == nil {
			err = m.store.Save(ctx, a)
		}
		if err != nil {
			slog.Warn("failed to persist fraud model", "model", m.name, "version", mdl.Version, "error", err)
		}
	}
	return mdl, nil
}
