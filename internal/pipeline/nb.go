package pipeline

import (
	"fmt"
	"math"
	"sort"

	"github.com/signalnine/autoprep/internal/stats"
)

// gaussianNB is a Gaussian naive Bayes classifier.
type gaussianNB struct {
	smoothing float64

	classes []int
	prior   []float64
	mean    [][]float64
	vars    [][]float64
}

func newGaussianNB(params map[string]any, _ int64) (Classifier, error) {
	s, err := floatParam(params, "var_smoothing", 1e-9)
	if err != nil {
		return nil, err
	}
	if s < 0 {
		return nil, fmt.Errorf("var_smoothing must be non-negative, got %v", s)
	}
	return &gaussianNB{smoothing: s}, nil
}

func (m *gaussianNB) Fit(x [][]float64, y []int) error {
	if hasNaN(x) {
		return fmt.Errorf("naive bayes: %w", errNaN)
	}
	if len(x) == 0 {
		return fmt.Errorf("naive bayes: empty input")
	}
	nf := len(x[0])
	byClass := map[int][][]float64{}
	for i, row := range x {
		byClass[y[i]] = append(byClass[y[i]], row)
	}
	m.classes = m.classes[:0]
	for c := range byClass {
		m.classes = append(m.classes, c)
	}
	sort.Ints(m.classes)

	// Variances are smoothed by a fraction of the largest feature variance.
	var maxVar float64
	for j := 0; j < nf; j++ {
		maxVar = math.Max(maxVar, stats.Variance(stats.Finite(x, j)))
	}
	eps := m.smoothing * maxVar

	m.prior = make([]float64, len(m.classes))
	m.mean = make([][]float64, len(m.classes))
	m.vars = make([][]float64, len(m.classes))
	for ci, c := range m.classes {
		rows := byClass[c]
		m.prior[ci] = float64(len(rows)) / float64(len(x))
		m.mean[ci] = make([]float64, nf)
		m.vars[ci] = make([]float64, nf)
		for j := 0; j < nf; j++ {
			col := stats.Finite(rows, j)
			m.mean[ci][j] = stats.Mean(col)
			m.vars[ci][j] = stats.Variance(col) + eps
		}
	}
	return nil
}

func (m *gaussianNB) Predict(x [][]float64) ([]int, error) {
	if hasNaN(x) {
		return nil, fmt.Errorf("naive bayes: %w", errNaN)
	}
	out := make([]int, len(x))
	ll := make([]float64, len(m.classes))
	for i, row := range x {
		for ci := range m.classes {
			l := math.Log(m.prior[ci])
			for j, v := range row {
				vr := m.vars[ci][j]
				if vr == 0 {
					// Zero variance with zero smoothing: a point mass.
					if v != m.mean[ci][j] {
						l = math.Inf(-1)
					}
					continue
				}
				d := v - m.mean[ci][j]
				l -= 0.5*math.Log(2*math.Pi*vr) + d*d/(2*vr)
			}
			ll[ci] = l
		}
		out[i] = m.classes[stats.ArgMax(ll)]
	}
	return out, nil
}
