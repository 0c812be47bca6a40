package forest

import (
	"math/rand/v2"
	"slices"
)

type node struct {
	feature   int
	threshold float64
	left      int
	right     int
	leaf      bool
	value     bool
}

type tree struct {
	nodes []node
}

func (t *tree) predict(row []float64) bool {
	i := 0
	for !t.nodes[i].leaf {
		n := &t.nodes[i]
		if row[n.feature] <= n.threshold {
			i = n.left
		} else {
			i = n.right
		}
	}
	return t.nodes[i].value
}

type grower struct {
	cols        [][]float64
	labels      []bool
	rng         *rand.Rand
	maxFeatures int
	minSplit    int
	nodes       []node
}

func (g *grower) grow(sample []int) *tree {
	g.nodes = g.nodes[:0]
	g.build(sample)
	return &tree{nodes: slices.Clone(g.nodes)}
}

// build appends the subtree for idx and returns its root index.
func (g *grower) build(idx []int) int {
	pos := g.countPositive(idx)
	self := len(g.nodes)
	g.nodes = append(g.nodes, node{leaf: true, value: 2*pos > len(idx)})

	if pos == 0 || pos == len(idx) || len(idx) < g.minSplit {
		return self
	}

	feature, threshold, ok := g.bestSplit(idx)
	if !ok {
		return self
	}

	var left, right []int
	for _, i := range idx {
		if g.cols[feature][i] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := g.build(left)
	r := g.build(right)
	g.nodes[self] = node{feature: feature, threshold: threshold, left: l, right: r}
	return self
}

func (g *grower) countPositive(idx []int) int {
	pos := 0
	for _, i := range idx {
		if g.labels[i] {
			pos++
		}
	}
	return pos
}

// bestSplit visits features in random order and evaluates the first
// maxFeatures that are not constant within idx. Constant features do not
// count towards the budget, so a split is found whenever one exists.
func (g *grower) bestSplit(idx []int) (int, float64, bool) {
	var (
		bestFeature   int
		bestThreshold float64
		bestScore     = 2.0
		visited       int
		found         bool
	)

	sorted := make([]int, len(idx))
	for _, j := range g.rng.Perm(len(g.cols)) {
		if visited >= g.maxFeatures {
			break
		}
		col := g.cols[j]

		copy(sorted, idx)
		slices.SortFunc(sorted, func(a, b int) int {
			switch {
			case col[a] < col[b]:
				return -1
			case col[a] > col[b]:
				return 1
			}
			return 0
		})
		if col[sorted[0]] == col[sorted[len(sorted)-1]] {
			continue
		}
		visited++

		total := len(sorted)
		totalPos := g.countPositive(sorted)
		leftPos := 0
		for k := 0; k < total-1; k++ {
			if g.labels[sorted[k]] {
				leftPos++
			}
			lo, hi := col[sorted[k]], col[sorted[k+1]]
			if lo == hi {
				continue
			}
			nl := k + 1
			score := weightedGini(nl, leftPos, total-nl, totalPos-leftPos)
			if score < bestScore {
				bestScore = score
				bestFeature = j
				bestThreshold = lo + (hi-lo)/2
				found = true
			}
		}
	}
	return bestFeature, bestThreshold, found
}

// weightedGini is the sample-weighted mean Gini impurity of a two-way split.
func weightedGini(nl, lpos, nr, rpos int) float64 {
	return (float64(nl)*gini(nl, lpos) + float64(nr)*gini(nr, rpos)) / float64(nl+nr)
}

func gini(n, pos int) float64 {
	if n == 0 {
		return 0
	}
	p := float64(pos) / float64(n)
	return 2 * p * (1 - p)
}
