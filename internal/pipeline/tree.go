package pipeline

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// decisionTree is a CART classifier. The seed permutes the order in which
// features are searched for the best split, which decides between equally
// good splits.
type decisionTree struct {
	maxDepth  int
	minSplit  int
	criterion string
	seed      int64

	root *node
}

type node struct {
	leaf      bool
	class     int
	feature   int
	threshold float64
	left      *node
	right     *node
}

func newDecisionTree(params map[string]any, seed int64) (Classifier, error) {
	depth, err := intParam(params, "max_depth", 0)
	if err != nil {
		return nil, err
	}
	minSplit, err := intParam(params, "min_samples_split", 2)
	if err != nil {
		return nil, err
	}
	if minSplit < 2 {
		return nil, fmt.Errorf("min_samples_split must be at least 2, got %d", minSplit)
	}
	criterion, err := stringParam(params, "criterion", "gini", "gini", "entropy")
	if err != nil {
		return nil, err
	}
	return &decisionTree{maxDepth: depth, minSplit: minSplit, criterion: criterion, seed: seed}, nil
}

func (t *decisionTree) Fit(x [][]float64, y []int) error {
	if hasNaN(x) {
		return fmt.Errorf("decision tree: %w", errNaN)
	}
	if len(x) == 0 {
		return fmt.Errorf("decision tree: empty input")
	}
	nClasses := 0
	for _, c := range y {
		if c+1 > nClasses {
			nClasses = c + 1
		}
	}
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	rng := rand.New(rand.NewSource(t.seed))
	t.root = t.grow(x, y, idx, nClasses, 0, rng)
	return nil
}

func (t *decisionTree) grow(x [][]float64, y, idx []int, nClasses, depth int, rng *rand.Rand) *node {
	counts := make([]int, nClasses)
	for _, i := range idx {
		counts[y[i]]++
	}
	majority := 0
	for c, n := range counts {
		if n > counts[majority] {
			majority = c
		}
	}
	leaf := &node{leaf: true, class: majority}
	if len(idx) < t.minSplit || (t.maxDepth > 0 && depth >= t.maxDepth) || counts[majority] == len(idx) {
		return leaf
	}

	parent := t.impurity(counts, len(idx))
	bestGain, bestFeature, bestThreshold := 0.0, -1, 0.0
	for _, f := range rng.Perm(len(x[0])) {
		sorted := append([]int(nil), idx...)
		sort.SliceStable(sorted, func(a, b int) bool { return x[sorted[a]][f] < x[sorted[b]][f] })

		left := make([]int, nClasses)
		right := append([]int(nil), counts...)
		for k := 0; k < len(sorted)-1; k++ {
			c := y[sorted[k]]
			left[c]++
			right[c]--
			lo, hi := x[sorted[k]][f], x[sorted[k+1]][f]
			if lo == hi {
				continue
			}
			nl, nr := k+1, len(sorted)-k-1
			child := (float64(nl)*t.impurity(left, nl) + float64(nr)*t.impurity(right, nr)) / float64(len(sorted))
			if gain := parent - child; gain > bestGain {
				bestGain, bestFeature, bestThreshold = gain, f, lo+(hi-lo)/2
			}
		}
	}
	if bestFeature < 0 {
		return leaf
	}

	var li, ri []int
	for _, i := range idx {
		if x[i][bestFeature] <= bestThreshold {
			li = append(li, i)
		} else {
			ri = append(ri, i)
		}
	}
	if len(li) == 0 || len(ri) == 0 {
		return leaf
	}
	return &node{
		feature:   bestFeature,
		threshold: bestThreshold,
		left:      t.grow(x, y, li, nClasses, depth+1, rng),
		right:     t.grow(x, y, ri, nClasses, depth+1, rng),
	}
}

func (t *decisionTree) impurity(counts []int, n int) float64 {
	if n == 0 {
		return 0
	}
	var v float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(n)
		if t.criterion == "entropy" {
			v -= p * math.Log2(p)
		} else {
			v += p * p
		}
	}
	if t.criterion == "entropy" {
		return v
	}
	return 1 - v
}

func (t *decisionTree) Predict(x [][]float64) ([]int, error) {
	if hasNaN(x) {
		return nil, fmt.Errorf("decision tree: %w", errNaN)
	}
	if t.root == nil {
		return nil, fmt.Errorf("decision tree: not fitted")
	}
	out := make([]int, len(x))
	for i, row := range x {
		n := t.root
		for !n.leaf {
			if row[n.feature] <= n.threshold {
				n = n.left
			} else {
				n = n.right
			}
		}
		out[i] = n.class
	}
	return out, nil
}
