// Package stats has the small numeric helpers shared by the pipeline
// operators and the scorer.
package stats

import (
	"math"
	"sort"

	"golang.org/x/exp/constraints"
)

// Number is any integer or floating point type.
type Number interface {
	constraints.Integer | constraints.Float
}

// Mean returns the arithmetic mean of xs, NaN when xs is empty.
func Mean[T Number](xs []T) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, x := range xs {
		sum += float64(x)
	}
	return sum / float64(len(xs))
}

// Std returns the population standard deviation of xs.
func Std[T Number](xs []T) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	m := Mean(xs)
	var ss float64
	for _, x := range xs {
		d := float64(x) - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)))
}

// Variance returns the population variance of xs.
func Variance[T Number](xs []T) float64 {
	s := Std(xs)
	return s * s
}

// Percentile returns the q-th percentile (0..100) of xs using linear
// interpolation between closest ranks. xs is not modified.
func Percentile(xs []float64, q float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	s := make([]float64, len(xs))
	copy(s, xs)
	sort.Float64s(s)
	pos := q / 100 * float64(len(s)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return s[lo]
	}
	return s[lo] + (s[hi]-s[lo])*(pos-float64(lo))
}

// Median is the 50th percentile.
func Median(xs []float64) float64 { return Percentile(xs, 50) }

// Mode returns the most frequent value, the smallest one on ties.
func Mode[T constraints.Ordered](xs []T) (T, bool) {
	var zero T
	if len(xs) == 0 {
		return zero, false
	}
	counts := make(map[T]int, len(xs))
	for _, x := range xs {
		counts[x]++
	}
	best, bestN := zero, 0
	for v, n := range counts {
		if n > bestN || (n == bestN && v < best) {
			best, bestN = v, n
		}
	}
	return best, true
}

// Finite returns the non-NaN values of column col of x.
func Finite(x [][]float64, col int) []float64 {
	out := make([]float64, 0, len(x))
	for _, row := range x {
		if v := row[col]; !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

// ArgMax returns the index of the largest value, the first one on ties.
func ArgMax[T constraints.Ordered](xs []T) int {
	best := -1
	for i, x := range xs {
		if best < 0 || x > xs[best] {
			best = i
		}
	}
	return best
}
