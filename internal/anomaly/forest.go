package anomaly

import (
	"math"
	"math/rand"
)

const eulerGamma = 0.5772156649015329

// avgPathLength is the average path length of an unsuccessful search in a
// binary search tree of n points, used to normalise isolation depths.
func avgPathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		fn := float64(n)
		return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
	}
}

// node is one split or leaf of an isolation tree over scalar values.
type node struct {
	split       float64
	left, right *node
	size        int
}

func (n *node) leaf() bool { return n.left == nil }

// isolationForest isolates scalar values with randomized splits.
type isolationForest struct {
	trees      []*node
	sampleSize int
}

// fitForest builds trees over random subsamples of values.
func fitForest(values []float64, trees, maxSamples int, rng *rand.Rand) *isolationForest {
	sampleSize := maxSamples
	if sampleSize > len(values) {
		sampleSize = len(values)
	}
	heightLimit := int(math.Ceil(math.Log2(float64(sampleSize))))

	f := &isolationForest{sampleSize: sampleSize}
	for i := 0; i < trees; i++ {
		sample := subsample(values, sampleSize, rng)
		f.trees = append(f.trees, grow(sample, 0, heightLimit, rng))
	}
	return f
}

// subsample draws size values without replacement.
func subsample(values []float64, size int, rng *rand.Rand) []float64 {
	perm := rng.Perm(len(values))
	out := make([]float64, size)
	for i := 0; i < size; i++ {
		out[i] = values[perm[i]]
	}
	return out
}

func grow(values []float64, depth, limit int, rng *rand.Rand) *node {
	if depth >= limit || len(values) <= 1 {
		return &node{size: len(values)}
	}

	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo == hi {
		return &node{size: len(values)}
	}

	split := lo + rng.Float64()*(hi-lo)
	var left, right []float64
	for _, v := range values {
		if v < split {
			left = append(left, v)
		} else {
			right = append(right, v)
		}
	}
	return &node{
		split: split,
		left:  grow(left, depth+1, limit, rng),
		right: grow(right, depth+1, limit, rng),
	}
}

func pathLength(n *node, v float64, depth int) float64 {
	if n.leaf() {
		return float64(depth) + avgPathLength(n.size)
	}
	if v < n.split {
		return pathLength(n.left, v, depth+1)
	}
	return pathLength(n.right, v, depth+1)
}

// score returns the isolation score in (0, 1]. Values near 1 isolate quickly
// and are anomalous; values well below 0.5 are ordinary.
func (f *isolationForest) score(v float64) float64 {
	if len(f.trees) == 0 {
		return 0
	}
	var total float64
	for _, t := range f.trees {
		total += pathLength(t, v, 0)
	}
	mean := total / float64(len(f.trees))
	c := avgPathLength(f.sampleSize)
	if c == 0 {
		return 0
	}
	return math.Pow(2, -mean/c)
}
