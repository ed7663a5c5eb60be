// Package tender detects near-duplicate tender text across contracts using
// TF-IDF vectors and cosine similarity.
package tender

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/opensource-finance/sentinel/internal/domain"
)

// Defaults for the detector.
const (
	DefaultMinPeers       = 2
	DefaultThreshold      = 0.8
	DefaultVocabularySize = 100
)

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

// Config tunes the detector.
type Config struct {
	MinPeers       int
	Threshold      float64
	VocabularySize int
}

// Detector compares each contract's tender text with its peers.
type Detector struct {
	cfg Config
}

// NewDetector creates a detector, filling zero fields with defaults.
func NewDetector(cfg Config) *Detector {
	if cfg.MinPeers < 2 {
		cfg.MinPeers = DefaultMinPeers
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.VocabularySize <= 0 {
		cfg.VocabularySize = DefaultVocabularySize
	}
	return &Detector{cfg: cfg}
}

// Score returns the closest peer for every contract that has tender text.
// Fewer than the minimum number of texts yields an empty map.
func (d *Detector) Score(ctx context.Context, peers []domain.Contract) (map[string]domain.SimilarityResult, error) {
	results := make(map[string]domain.SimilarityResult)

	var ids []string
	var docs [][]string
	for i := range peers {
		text := peers[i].Text()
		if text == "" {
			continue
		}
		ids = append(ids, peers[i].ID)
		docs = append(docs, Tokenize(text))
	}
	if len(docs) < d.cfg.MinPeers {
		return results, nil
	}

	vectors := vectorize(docs, d.cfg.VocabularySize)

	for i := range vectors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		best, bestIdx := 0.0, -1
		for j := range vectors {
			if i == j {
				continue
			}
			if sim := dot(vectors[i], vectors[j]); sim > best {
				best, bestIdx = sim, j
			}
		}

		res := domain.SimilarityResult{
			ContractID:    ids[i],
			MaxSimilarity: math.Round(best*10000) / 10000,
			IsSuspicious:  best > d.cfg.Threshold,
		}
		if bestIdx >= 0 {
			res.SimilarTo = ids[bestIdx]
		}
		if res.IsSuspicious {
			res.Explanation = fmt.Sprintf("Tender text is %.0f%% similar to contract %s", best*100, res.SimilarTo)
		}
		results[ids[i]] = res
	}
	return results, nil
}

// Tokenize lower-cases text and returns word tokens of two or more
// characters that are not stop words.
func Tokenize(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, tok := range raw {
		if _, stop := englishStopWords[tok]; stop {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// vectorize builds L2-normalised TF-IDF vectors over the most frequent
// terms in the corpus. Ties in frequency are broken alphabetically.
func vectorize(docs [][]string, maxTerms int) [][]float64 {
	corpusFreq := make(map[string]int)
	for _, doc := range docs {
		for _, tok := range doc {
			corpusFreq[tok]++
		}
	}

	terms := make([]string, 0, len(corpusFreq))
	for term := range corpusFreq {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if corpusFreq[terms[i]] != corpusFreq[terms[j]] {
			return corpusFreq[terms[i]] > corpusFreq[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > maxTerms {
		terms = terms[:maxTerms]
	}
	sort.Strings(terms)

	index := make(map[string]int, len(terms))
	for i, term := range terms {
		index[term] = i
	}

	counts := make([][]float64, len(docs))
	docFreq := make([]float64, len(terms))
	for d, doc := range docs {
		counts[d] = make([]float64, len(terms))
		for _, tok := range doc {
			if k, ok := index[tok]; ok {
				counts[d][k]++
			}
		}
		for k, c := range counts[d] {
			if c > 0 {
				docFreq[k]++
			}
		}
	}

	// Smoothed idf: ln((1+n)/(1+df)) + 1.
	n := float64(len(docs))
	idf := make([]float64, len(terms))
	for k := range terms {
		idf[k] = math.Log((1+n)/(1+docFreq[k])) + 1
	}

	for d := range counts {
		var norm float64
		for k := range counts[d] {
			counts[d][k] *= idf[k]
			norm += counts[d][k] * counts[d][k]
		}
		if norm == 0 {
			continue
		}
		norm = math.Sqrt(norm)
		for k := range counts[d] {
			counts[d][k] /= norm
		}
	}
	return counts
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
