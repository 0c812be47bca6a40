// Package forest implements a bagged ensemble of CART classification trees
// for binary labels.
package forest

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

var ErrNotFitted = errors.New("forest: model is not fitted")

// Params configures a Forest. Zero values select the defaults.
type Params struct {
	Trees int
	Seed  uint64
	// MaxFeatures is the number of non-constant features examined per split.
	// Zero means floor(sqrt(n_features)), at least 1.
	MaxFeatures     int
	MinSamplesSplit int
}

type Forest struct {
	params    Params
	trees     []*tree
	nFeatures int
}

func New(p Params) *Forest {
	if p.Trees <= 0 {
		p.Trees = 50
	}
	if p.MinSamplesSplit < 2 {
		p.MinSamplesSplit = 2
	}
	return &Forest{params: p}
}

// Fit grows every tree on its own bootstrap sample of the rows of X.
// Tree t draws from a PCG stream seeded with (Seed, t), so a fit is fully
// determined by its inputs and Params.
func (f *Forest) Fit(X mat.Matrix, y []bool) error {
	n, d := X.Dims()
	if n == 0 || d == 0 {
		return fmt.Errorf("forest: empty training matrix (%dx%d)", n, d)
	}
	if len(y) != n {
		return fmt.Errorf("forest: %d labels for %d rows", len(y), n)
	}

	cols := make([][]float64, d)
	for j := range cols {
		cols[j] = mat.Col(nil, j, X)
	}

	maxFeatures := f.params.MaxFeatures
	if maxFeatures <= 0 {
		maxFeatures = int(math.Sqrt(float64(d)))
	}
	maxFeatures = min(max(maxFeatures, 1), d)

	trees := make([]*tree, f.params.Trees)
	for t := range trees {
		rng := rand.New(rand.NewPCG(f.params.Seed, uint64(t)))
		sample := make([]int, n)
		for i := range sample {
			sample[i] = rng.IntN(n)
		}
		g := grower{
			cols:        cols,
			labels:      y,
			rng:         rng,
			maxFeatures: maxFeatures,
			minSplit:    f.params.MinSamplesSplit,
		}
		trees[t] = g.grow(sample)
	}

	f.trees = trees
	f.nFeatures = d
	return nil
}

// Predict returns the majority vote of the trees for every row of X.
// An even split of votes resolves to false.
func (f *Forest) Predict(X mat.Matrix) ([]bool, error) {
	if len(f.trees) == 0 {
		return nil, ErrNotFitted
	}
	n, d := X.Dims()
	if d != f.nFeatures {
		return nil, fmt.Errorf("forest: fitted on %d features, got %d", f.nFeatures, d)
	}

	out := make([]bool, n)
	row := make([]float64, d)
	for i := range out {
		mat.Row(row, i, X)
		votes := 0
		for _, t := range f.trees {
			if t.predict(row) {
				votes++
			}
		}
		out[i] = 2*votes > len(f.trees)
	}
	return out, nil
}

// Trees reports the number of fitted trees.
func (f *Forest) Trees() int { return len(f.trees) }
