// Package identity compares identities with pluggable string similarity
// metrics and resolves applicants against registry records.
package identity

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// Metric is a symmetric string similarity in [0, 1]. Identical normalized
// non-empty strings score 1 and strings with no shared or near tokens score 0.
type Metric interface {
	Name() string
	Similarity(a, b string) float64
}

// Metric names accepted by NewMetric.
const (
	MetricJaccard   = "jaccard"
	MetricTokenEdit = "token_edit"
)

// NewMetric returns the metric registered under name.
func NewMetric(name string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", MetricJaccard:
		return Jaccard{}, nil
	case MetricTokenEdit:
		return TokenEdit{MinTokenRatio: DefaultMinTokenRatio}, nil
	default:
		return nil, fmt.Errorf("unknown similarity metric %q", name)
	}
}

// Normalize case-folds and trims a string and collapses inner whitespace.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// tokens splits a normalized string on anything that is not a letter or digit.
func tokens(s string) []string {
	return strings.FieldsFunc(Normalize(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Jaccard is word-set overlap: |A ∩ B| / |A ∪ B|.
type Jaccard struct{}

// Name implements Metric.
func (Jaccard) Name() string { return MetricJaccard }

// Similarity implements Metric.
func (Jaccard) Similarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}

	setA := make(map[string]struct{})
	for _, t := range tokens(na) {
		setA[t] = struct{}{}
	}
	setB := make(map[string]struct{})
	for _, t := range tokens(nb) {
		setB[t] = struct{}{}
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	inter := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}

// DefaultMinTokenRatio is the per-token ratio below which two tokens are
// treated as unrelated.
const DefaultMinTokenRatio = 0.5

// TokenEdit aligns every token with its closest counterpart by Levenshtein
// ratio and averages the alignments over both strings. Token pairs whose
// ratio falls under MinTokenRatio count as unaligned.
type TokenEdit struct {
	MinTokenRatio float64
}

// Name implements Metric.
func (TokenEdit) Name() string { return MetricTokenEdit }

// Similarity implements Metric.
func (m TokenEdit) Similarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}

	ta, tb := tokens(na), tokens(nb)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	total := m.align(ta, tb) + m.align(tb, ta)
	return clamp01(total / float64(len(ta)+len(tb)))
}

// align sums, for each token in from, the best ratio against any token in to.
func (m TokenEdit) align(from, to []string) float64 {
	var sum float64
	for _, x := range from {
		best := 0.0
		for _, y := range to {
			if r := tokenRatio(x, y); r > best {
				best = r
			}
		}
		if best >= m.MinTokenRatio {
			sum += best
		}
	}
	return sum
}

func tokenRatio(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := len([]rune(a)), len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(longest)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
