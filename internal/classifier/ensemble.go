package classifier

import (
	"context"
	"math"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ForestParams configure the bagged tree ensemble.
type ForestParams struct {
	Trees           int `json:"trees"`
	MaxDepth        int `json:"maxDepth"`
	MinSamplesSplit int `json:"minSamplesSplit"`
	MinSamplesLeaf  int `json:"minSamplesLeaf"`
}

// BoostParams configure the gradient boosted ensemble.
type BoostParams struct {
	Trees           int     `json:"trees"`
	MaxDepth        int     `json:"maxDepth"`
	LearningRate    float64 `json:"learningRate"`
	MinSamplesSplit int     `json:"minSamplesSplit"`
	MinSamplesLeaf  int     `json:"minSamplesLeaf"`
}

// Forest is a random forest with balanced class weights. Its probability
// is the mean leaf probability over all trees.
type Forest struct {
	Trees []Tree `json:"trees"`
}

// fitForest trains a forest on bootstrap samples. Each tree gets its own
// seed drawn up front so the result does not depend on scheduling.
func fitForest(ctx context.Context, X [][]float64, y []int, p ForestParams, seed int64) (Forest, error) {
	n := len(X)
	classWeight := balancedWeights(y)
	maxFeatures := int(math.Sqrt(float64(len(X[0]))))
	if maxFeatures < 1 {
		maxFeatures = 1
	}

	master := rand.New(rand.NewSource(seed))
	seeds := make([]int64, p.Trees)
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	trees := make([]Tree, p.Trees)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i := range trees {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(seeds[i]))

			idx := make([]int, n)
			w := make([]float64, n)
			for k := range idx {
				idx[k] = rng.Intn(n)
			}
			for k := range w {
				w[k] = classWeight[y[k]]
			}

			b := &classTree{
				X: X, y: y, w: w, rng: rng,
				params: treeParams{
					maxDepth:        p.MaxDepth,
					minSamplesSplit: p.MinSamplesSplit,
					minSamplesLeaf:  p.MinSamplesLeaf,
					maxFeatures:     maxFeatures,
				},
			}
			b.grow(idx, 0)
			trees[i] = b.tree
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Forest{}, err
	}
	return Forest{Trees: trees}, nil
}

// balancedWeights returns n / (2 * n_class) per class.
func balancedWeights(y []int) [2]float64 {
	var counts [2]float64
	for _, v := range y {
		counts[v]++
	}
	var w [2]float64
	for c := range counts {
		if counts[c] > 0 {
			w[c] = float64(len(y)) / (2 * counts[c])
		}
	}
	return w
}

// Proba returns the positive-class probability.
func (f *Forest) Proba(x []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	var sum float64
	for i := range f.Trees {
		sum += f.Trees[i].Predict(x)
	}
	return sum / float64(len(f.Trees))
}

// Boost is a gradient boosted ensemble on the binomial log loss.
type Boost struct {
	Init         float64 `json:"init"`
	LearningRate float64 `json:"learningRate"`
	Trees        []Tree  `json:"trees"`
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

// fitBoost trains trees sequentially on the log-loss gradient.
func fitBoost(ctx context.Context, X [][]float64, y []int, p BoostParams) (Boost, error) {
	n := len(X)
	var positives float64
	for _, v := range y {
		positives += float64(v)
	}
	prior := positives / float64(n)
	prior = math.Min(math.Max(prior, 1e-6), 1-1e-6)

	b := Boost{Init: math.Log(prior / (1 - prior)), LearningRate: p.LearningRate}

	raw := make([]float64, n)
	for i := range raw {
		raw[i] = b.Init
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	residual := make([]float64, n)
	hessian := make([]float64, n)

	for t := 0; t < p.Trees; t++ {
		if err := ctx.Err(); err != nil {
			return Boost{}, err
		}
		for i := range raw {
			prob := sigmoid(raw[i])
			residual[i] = float64(y[i]) - prob
			hessian[i] = prob * (1 - prob)
		}

		rt := &regTree{
			X: X, residual: residual, hessian: hessian,
			params: treeParams{
				maxDepth:        p.MaxDepth,
				minSamplesSplit: p.MinSamplesSplit,
				minSamplesLeaf:  p.MinSamplesLeaf,
			},
		}
		rt.grow(idx, 0)
		for i := range raw {
			raw[i] += p.LearningRate * rt.tree.Predict(X[i])
		}
		b.Trees = append(b.Trees, rt.tree)
	}
	return b, nil
}

// Proba returns the positive-class probability.
func (b *Boost) Proba(x []float64) float64 {
	raw := b.Init
	for i := range b.Trees {
		raw += b.LearningRate * b.Trees[i].Predict(x)
	}
	return sigmoid(raw)
}
