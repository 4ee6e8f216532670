package pipeline

import (
	"fmt"
	"math"
	"sort"

	"github.com/signalnine/autoprep/internal/stats"
)

// imputer replaces NaN cells by a per-column statistic.
type imputer struct {
	strategy string
	fill     []float64
}

func newImputer(params map[string]any) (Transformer, error) {
	s, err := stringParam(params, "strategy", "mean", "mean", "median", "most_frequent")
	if err != nil {
		return nil, err
	}
	return &imputer{strategy: s}, nil
}

func (m *imputer) Fit(x [][]float64, _ []int) error {
	if len(x) == 0 {
		return fmt.Errorf("imputer: empty input")
	}
	m.fill = make([]float64, len(x[0]))
	for j := range m.fill {
		col := stats.Finite(x, j)
		if len(col) == 0 {
			continue
		}
		switch m.strategy {
		case "mean":
			m.fill[j] = stats.Mean(col)
		case "median":
			m.fill[j] = stats.Median(col)
		case "most_frequent":
			m.fill[j], _ = stats.Mode(col)
		}
	}
	return nil
}

func (m *imputer) Transform(x [][]float64) ([][]float64, error) {
	out := copyMatrix(x)
	for _, row := range out {
		for j, v := range row {
			if math.IsNaN(v) {
				row[j] = m.fill[j]
			}
		}
	}
	return out, nil
}

// affine applies (x - shift) / scale per column. The scalers differ only in
// how they fit shift and scale.
type affine struct {
	shift, scale []float64
	fit          func(col []float64) (shift, scale float64)
}

func (a *affine) Fit(x [][]float64, _ []int) error {
	if len(x) == 0 {
		return fmt.Errorf("scaler: empty input")
	}
	n := len(x[0])
	a.shift, a.scale = make([]float64, n), make([]float64, n)
	for j := 0; j < n; j++ {
		col := stats.Finite(x, j)
		if len(col) == 0 {
			a.scale[j] = 1
			continue
		}
		shift, scale := a.fit(col)
		if scale == 0 || math.IsNaN(scale) {
			scale = 1
		}
		a.shift[j], a.scale[j] = shift, scale
	}
	return nil
}

func (a *affine) Transform(x [][]float64) ([][]float64, error) {
	out := copyMatrix(x)
	for _, row := range out {
		for j := range row {
			row[j] = (row[j] - a.shift[j]) / a.scale[j]
		}
	}
	return out, nil
}

func newStandardScaler(params map[string]any) (Transformer, error) {
	withMean, err := boolParam(params, "with_mean", true)
	if err != nil {
		return nil, err
	}
	withStd, err := boolParam(params, "with_std", true)
	if err != nil {
		return nil, err
	}
	return &affine{fit: func(col []float64) (float64, float64) {
		shift, scale := 0.0, 1.0
		if withMean {
			shift = stats.Mean(col)
		}
		if withStd {
			scale = stats.Std(col)
		}
		return shift, scale
	}}, nil
}

func newMinMaxScaler(map[string]any) (Transformer, error) {
	return &affine{fit: func(col []float64) (float64, float64) {
		lo, hi := col[0], col[0]
		for _, v := range col {
			lo, hi = math.Min(lo, v), math.Max(hi, v)
		}
		return lo, hi - lo
	}}, nil
}

func newRobustScaler(params map[string]any) (Transformer, error) {
	centering, err := boolParam(params, "with_centering", true)
	if err != nil {
		return nil, err
	}
	scaling, err := boolParam(params, "with_scaling", true)
	if err != nil {
		return nil, err
	}
	return &affine{fit: func(col []float64) (float64, float64) {
		shift, scale := 0.0, 1.0
		if centering {
			shift = stats.Median(col)
		}
		if scaling {
			scale = stats.Percentile(col, 75) - stats.Percentile(col, 25)
		}
		return shift, scale
	}}, nil
}

// discretizer bins every column into ordinal bin indexes.
type discretizer struct {
	bins     int
	strategy string
	edges    [][]float64
}

func newDiscretizer(params map[string]any) (Transformer, error) {
	bins, err := intParam(params, "n_bins", 5)
	if err != nil {
		return nil, err
	}
	if bins < 2 {
		return nil, fmt.Errorf("n_bins must be at least 2, got %d", bins)
	}
	strategy, err := stringParam(params, "strategy", "quantile", "uniform", "quantile")
	if err != nil {
		return nil, err
	}
	return &discretizer{bins: bins, strategy: strategy}, nil
}

func (d *discretizer) Fit(x [][]float64, _ []int) error {
	if hasNaN(x) {
		return fmt.Errorf("discretizer: %w", errNaN)
	}
	if len(x) == 0 {
		return fmt.Errorf("discretizer: empty input")
	}
	d.edges = make([][]float64, len(x[0]))
	for j := range d.edges {
		col := stats.Finite(x, j)
		inner := make([]float64, 0, d.bins-1)
		for b := 1; b < d.bins; b++ {
			var e float64
			if d.strategy == "uniform" {
				lo, hi := col[0], col[0]
				for _, v := range col {
					lo, hi = math.Min(lo, v), math.Max(hi, v)
				}
				e = lo + (hi-lo)*float64(b)/float64(d.bins)
			} else {
				e = stats.Percentile(col, 100*float64(b)/float64(d.bins))
			}
			// Collapse duplicate edges of constant or heavily tied columns.
			if len(inner) == 0 || e > inner[len(inner)-1] {
				inner = append(inner, e)
			}
		}
		d.edges[j] = inner
	}
	return nil
}

func (d *discretizer) Transform(x [][]float64) ([][]float64, error) {
	if hasNaN(x) {
		return nil, fmt.Errorf("discretizer: %w", errNaN)
	}
	out := copyMatrix(x)
	for _, row := range out {
		for j, v := range row {
			row[j] = float64(sort.SearchFloat64s(d.edges[j], math.Nextafter(v, math.Inf(1))))
		}
	}
	return out, nil
}

// selectKBest keeps the k columns with the highest ANOVA F statistic.
type selectKBest struct {
	k    int
	keep []int
}

func newSelectKBest(params map[string]any) (Transformer, error) {
	k, err := intParam(params, "k", 10)
	if err != nil {
		return nil, err
	}
	if k < 1 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	return &selectKBest{k: k}, nil
}

func (s *selectKBest) Fit(x [][]float64, y []int) error {
	if hasNaN(x) {
		return fmt.Errorf("select_k_best: %w", errNaN)
	}
	if len(x) == 0 {
		return fmt.Errorf("select_k_best: empty input")
	}
	n := len(x[0])
	if s.k > n {
		return fmt.Errorf("k should be <= n_features = %d; got %d", n, s.k)
	}
	scores := make([]float64, n)
	for j := range scores {
		scores[j] = anovaF(x, y, j)
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		sa, sb := scores[order[a]], scores[order[b]]
		if math.IsNaN(sb) {
			return !math.IsNaN(sa)
		}
		return sa > sb
	})
	s.keep = append([]int(nil), order[:s.k]...)
	sort.Ints(s.keep)
	return nil
}

func (s *selectKBest) Transform(x [][]float64) ([][]float64, error) {
	out := make([][]float64, len(x))
	for i, row := range x {
		r := make([]float64, len(s.keep))
		for c, j := range s.keep {
			r[c] = row[j]
		}
		out[i] = r
	}
	return out, nil
}

// anovaF is the one-way ANOVA F statistic of column col grouped by class.
func anovaF(x [][]float64, y []int, col int) float64 {
	groups := map[int][]float64{}
	all := make([]float64, len(x))
	for i, row := range x {
		groups[y[i]] = append(groups[y[i]], row[col])
		all[i] = row[col]
	}
	k, n := len(groups), len(all)
	if k < 2 || n <= k {
		return math.NaN()
	}
	grand := stats.Mean(all)
	var ssb, ssw float64
	for _, g := range groups {
		m := stats.Mean(g)
		ssb += float64(len(g)) * (m - grand) * (m - grand)
		for _, v := range g {
			ssw += (v - m) * (v - m)
		}
	}
	if ssw == 0 {
		if ssb == 0 {
			return math.NaN()
		}
		return math.Inf(1)
	}
	return (ssb / float64(k-1)) / (ssw / float64(n-k))
}
