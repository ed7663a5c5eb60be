package identity

import (
	"fmt"
	"math"

	"github.com/opensource-finance/sentinel/internal/domain"
)

// Confidence weights. Name carries more weight since identity theft more
// often preserves the address.
const (
	NameWeight    = 0.6
	AddressWeight = 0.4
)

// Resolver decides whether two identities denote the same person.
type Resolver struct {
	metric           Metric
	nameThreshold    float64
	addressThreshold float64
}

// NewResolver creates a resolver from the identity configuration.
func NewResolver(cfg domain.IdentityConfig) (*Resolver, error) {
	metric, err := NewMetric(cfg.Metric)
	if err != nil {
		return nil, err
	}
	r := NewResolverWithMetric(metric)
	if cfg.NameThreshold > 0 {
		r.nameThreshold = cfg.NameThreshold
	}
	if cfg.AddressThreshold > 0 {
		r.addressThreshold = cfg.AddressThreshold
	}
	return r, nil
}

// NewResolverWithMetric creates a resolver with the default 0.70 / 0.50
// thresholds.
func NewResolverWithMetric(metric Metric) *Resolver {
	return &Resolver{
		metric:           metric,
		nameThreshold:    0.70,
		addressThreshold: 0.50,
	}
}

// Metric returns the configured similarity metric.
func (r *Resolver) Metric() Metric {
	return r.metric
}

// Resolve compares an identity with a registry record.
func (r *Resolver) Resolve(id domain.Identity, record domain.Identity) domain.IdentityMatch {
	nameSim := r.metric.Similarity(id.Name, record.Name)
	addrSim := r.metric.Similarity(id.Address, record.Address)

	return domain.IdentityMatch{
		Match:             nameSim >= r.nameThreshold && addrSim >= r.addressThreshold,
		Confidence:        round4(NameWeight*nameSim + AddressWeight*addrSim),
		Detail:            fmt.Sprintf("Name: %.0f%%, Addr: %.0f%%", nameSim*100, addrSim*100),
		NameSimilarity:    round4(nameSim),
		AddressSimilarity: round4(addrSim),
	}
}

// Candidate is a registry record that matched an identity.
type Candidate struct {
	Record domain.RegistryRecord
	Match  domain.IdentityMatch
}

// FindFirst returns the first record that matches id and satisfies keep.
// ok is false when nothing in the registry matches; that is not an error.
func (r *Resolver) FindFirst(id domain.Identity, records []domain.RegistryRecord, keep func(domain.RegistryRecord) bool) (Candidate, bool) {
	for _, rec := range records {
		if keep != nil && !keep(rec) {
			continue
		}
		m := r.Resolve(id, rec.Identity())
		if m.Match {
			return Candidate{Record: rec, Match: m}, true
		}
	}
	return Candidate{}, false
}

// Best returns the matching record with the highest confidence.
func (r *Resolver) Best(id domain.Identity, records []domain.RegistryRecord) (Candidate, bool) {
	var best Candidate
	found := false
	for _, rec := range records {
		m := r.Resolve(id, rec.Identity())
		if !m.Match {
			continue
		}
		if !found || m.Confidence > best.Match.Confidence {
			best = Candidate{Record: rec, Match: m}
			found = true
		}
	}
	return best, found
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
