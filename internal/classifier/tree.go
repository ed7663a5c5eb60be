package classifier

import (
	"math"
	"math/rand"
	"sort"
)

// Node is a flattened tree node. Leaves have Left == -1.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Value     float64 `json:"v"`
}

// Tree is a binary decision tree stored as a node slice rooted at index 0.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Predict walks x down to a leaf and returns its value.
func (t *Tree) Predict(x []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Left < 0 {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Depth returns the longest root-to-leaf path.
func (t *Tree) Depth() int {
	var walk func(i int) int
	walk = func(i int) int {
		n := t.Nodes[i]
		if n.Left < 0 {
			return 0
		}
		l, r := walk(n.Left), walk(n.Right)
		if l > r {
			return l + 1
		}
		return r + 1
	}
	if len(t.Nodes) == 0 {
		return 0
	}
	return walk(0)
}

// treeParams bound tree growth.
type treeParams struct {
	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     int // 0 means all features
}

func (t *Tree) addLeaf(value float64) int {
	t.Nodes = append(t.Nodes, Node{Feature: -1, Left: -1, Right: -1, Value: value})
	return len(t.Nodes) - 1
}

func (t *Tree) addSplit(feature int, threshold float64) int {
	t.Nodes = append(t.Nodes, Node{Feature: feature, Threshold: threshold})
	return len(t.Nodes) - 1
}

// candidateFeatures returns the features to consider at a node.
func candidateFeatures(nFeatures, maxFeatures int, rng *rand.Rand) []int {
	if maxFeatures <= 0 || maxFeatures >= nFeatures || rng == nil {
		all := make([]int, nFeatures)
		for i := range all {
			all[i] = i
		}
		return all
	}
	return rng.Perm(nFeatures)[:maxFeatures]
}

// sortedBy returns a copy of idx ordered by feature f.
func sortedBy(X [][]float64, idx []int, f int) []int {
	s := append([]int(nil), idx...)
	sort.SliceStable(s, func(a, b int) bool { return X[s[a]][f] < X[s[b]][f] })
	return s
}

// classTree grows a weighted Gini classification tree. Leaf values are the
// weighted fraction of positive samples.
type classTree struct {
	X      [][]float64
	y      []int
	w      []float64
	params treeParams
	rng    *rand.Rand
	tree   Tree
}

func (b *classTree) weights(idx []int) (w0, w1 float64) {
	for _, i := range idx {
		if b.y[i] == 1 {
			w1 += b.w[i]
		} else {
			w0 += b.w[i]
		}
	}
	return w0, w1
}

func gini(w0, w1 float64) float64 {
	total := w0 + w1
	if total == 0 {
		return 0
	}
	p0, p1 := w0/total, w1/total
	return 1 - p0*p0 - p1*p1
}

func (b *classTree) grow(idx []int, depth int) int {
	w0, w1 := b.weights(idx)
	leafValue := 0.0
	if w0+w1 > 0 {
		leafValue = w1 / (w0 + w1)
	}

	if depth >= b.params.maxDepth || len(idx) < b.params.minSamplesSplit || gini(w0, w1) <= 1e-12 {
		return b.tree.addLeaf(leafValue)
	}

	bestFeature, bestThreshold := -1, 0.0
	bestImpurity := math.Inf(1)
	var bestLeft, bestRight []int
	minLeaf := b.params.minSamplesLeaf
	if minLeaf < 1 {
		minLeaf = 1
	}

	for _, f := range candidateFeatures(len(b.X[0]), b.params.maxFeatures, b.rng) {
		order := sortedBy(b.X, idx, f)
		var l0, l1 float64
		for pos := 1; pos < len(order); pos++ {
			prev := order[pos-1]
			if b.y[prev] == 1 {
				l1 += b.w[prev]
			} else {
				l0 += b.w[prev]
			}
			if pos < minLeaf || len(order)-pos < minLeaf {
				continue
			}
			lo, hi := b.X[prev][f], b.X[order[pos]][f]
			if lo == hi {
				continue
			}
			r0, r1 := w0-l0, w1-l1
			lw, rw := l0+l1, r0+r1
			impurity := (lw*gini(l0, l1) + rw*gini(r0, r1)) / (lw + rw)
			if impurity < bestImpurity {
				bestImpurity = impurity
				bestFeature = f
				bestThreshold = lo + (hi-lo)/2
				bestLeft, bestRight = order[:pos], order[pos:]
			}
		}
	}

	if bestFeature < 0 {
		return b.tree.addLeaf(leafValue)
	}

	// Copy the halves; order slices share a backing array per feature.
	left := append([]int(nil), bestLeft...)
	right := append([]int(nil), bestRight...)

	node := b.tree.addSplit(bestFeature, bestThreshold)
	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.tree.Nodes[node].Left = l
	b.tree.Nodes[node].Right = r
	return node
}

// regTree grows a least-squares regression tree on gradients and sets each
// leaf to the Newton step sum(residual) / sum(hessian).
type regTree struct {
	X        [][]float64
	residual []float64
	hessian  []float64
	params   treeParams
	tree     Tree
}

func (b *regTree) leaf(idx []int) float64 {
	var num, den float64
	for _, i := range idx {
		num += b.residual[i]
		den += b.hessian[i]
	}
	if math.Abs(den) < 1e-150 {
		return 0
	}
	return num / den
}

func (b *regTree) grow(idx []int, depth int) int {
	if depth >= b.params.maxDepth || len(idx) < b.params.minSamplesSplit {
		return b.tree.addLeaf(b.leaf(idx))
	}

	var total float64
	for _, i := range idx {
		total += b.residual[i]
	}
	n := float64(len(idx))
	parentScore := total * total / n

	bestFeature, bestThreshold := -1, 0.0
	bestScore := parentScore + 1e-12
	var bestLeft, bestRight []int
	minLeaf := b.params.minSamplesLeaf
	if minLeaf < 1 {
		minLeaf = 1
	}

	for f := range b.X[0] {
		order := sortedBy(b.X, idx, f)
		var left float64
		for pos := 1; pos < len(order); pos++ {
			prev := order[pos-1]
			left += b.residual[prev]
			if pos < minLeaf || len(order)-pos < minLeaf {
				continue
			}
			lo, hi := b.X[prev][f], b.X[order[pos]][f]
			if lo == hi {
				continue
			}
			right := total - left
			nl, nr := float64(pos), n-float64(pos)
			score := left*left/nl + right*right/nr
			if score > bestScore {
				bestScore = score
				bestFeature = f
				bestThreshold = lo + (hi-lo)/2
				bestLeft, bestRight = order[:pos], order[pos:]
			}
		}
	}

	if bestFeature < 0 {
		return b.tree.addLeaf(b.leaf(idx))
	}

	left := append([]int(nil), bestLeft...)
	right := append([]int(nil), bestRight...)

	node := b.tree.addSplit(bestFeature, bestThreshold)
	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.tree.Nodes[node].Left = l
	b.tree.Nodes[node].Right = r
	return node
}
