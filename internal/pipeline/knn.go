package pipeline

import (
	"fmt"
	"math"
	"sort"
)

type knn struct {
	k       int
	weights string
	p       float64

	x [][]float64
	y []int
}

func newKNN(params map[string]any, _ int64) (Classifier, error) {
	k, err := intParam(params, "n_neighbors", 5)
	if err != nil {
		return nil, err
	}
	if k < 1 {
		return nil, fmt.Errorf("n_neighbors must be positive, got %d", k)
	}
	weights, err := stringParam(params, "weights", "uniform", "uniform", "distance")
	if err != nil {
		return nil, err
	}
	p, err := floatParam(params, "p", 2)
	if err != nil {
		return nil, err
	}
	if p < 1 {
		return nil, fmt.Errorf("p must be >= 1, got %v", p)
	}
	return &knn{k: k, weights: weights, p: p}, nil
}

func (m *knn) Fit(x [][]float64, y []int) error {
	if hasNaN(x) {
		return fmt.Errorf("knn: %w", errNaN)
	}
	if m.k > len(x) {
		return fmt.Errorf("expected n_neighbors <= n_samples, but n_samples = %d, n_neighbors = %d", len(x), m.k)
	}
	m.x, m.y = x, y
	return nil
}

func (m *knn) Predict(x [][]float64) ([]int, error) {
	if hasNaN(x) {
		return nil, fmt.Errorf("knn: %w", errNaN)
	}
	type neighbour struct {
		dist float64
		idx  int
	}
	out := make([]int, len(x))
	ns := make([]neighbour, len(m.x))
	for i, q := range x {
		for j, row := range m.x {
			ns[j] = neighbour{dist: minkowski(q, row, m.p), idx: j}
		}
		sort.SliceStable(ns, func(a, b int) bool { return ns[a].dist < ns[b].dist })

		votes := map[int]float64{}
		nearest := ns[:m.k]
		exact := m.weights == "distance" && nearest[0].dist == 0
		for _, n := range nearest {
			switch {
			case m.weights == "uniform":
				votes[m.y[n.idx]]++
			case exact:
				// Exact matches take all the weight.
				if n.dist == 0 {
					votes[m.y[n.idx]]++
				}
			default:
				votes[m.y[n.idx]] += 1 / n.dist
			}
		}
		out[i] = argmaxVote(votes)
	}
	return out, nil
}

// argmaxVote returns the class with the highest vote, the smallest class id
// on ties.
func argmaxVote(votes map[int]float64) int {
	best, bestV := -1, math.Inf(-1)
	for c, v := range votes {
		if v > bestV || (v == bestV && c < best) {
			best, bestV = c, v
		}
	}
	return best
}

func minkowski(a, b []float64, p float64) float64 {
	var s float64
	switch p {
	case 1:
		for i := range a {
			s += math.Abs(a[i] - b[i])
		}
		return s
	case 2:
		for i := range a {
			d := a[i] - b[i]
			s += d * d
		}
		return math.Sqrt(s)
	}
	for i := range a {
		s += math.Pow(math.Abs(a[i]-b[i]), p)
	}
	return math.Pow(s, 1/p)
}
