package optimizer

import (
	"math"

	"github.com/signalnine/autoprep/internal/stats"
)

// gaussianProcess is a zero-mean GP regressor over centred targets with an
// RBF kernel and a small noise term on the diagonal.
type gaussianProcess struct {
	X     [][]float64
	Y     []float64
	sigma float64
	noise float64

	// Cached factorization, rebuilt lazily after Update.
	chol  [][]float64
	alpha []float64
	mean  float64
	dirty bool
}

func newGaussianProcess() *gaussianProcess {
	return &gaussianProcess{sigma: 1, noise: 1e-6}
}

// rbf is exp(-|x1-x2|^2 / (2 sigma^2)).
func (gp *gaussianProcess) rbf(x1, x2 []float64) float64 {
	var sum float64
	for i := range x1 {
		d := x1[i] - x2[i]
		sum += d * d
	}
	return math.Exp(-sum / (2 * gp.sigma * gp.sigma))
}

func (gp *gaussianProcess) Update(x []float64, y float64) {
	gp.X = append(gp.X, append([]float64(nil), x...))
	gp.Y = append(gp.Y, y)
	gp.dirty = true
}

func (gp *gaussianProcess) fit() {
	n := len(gp.X)
	gp.mean = stats.Mean(gp.Y)
	k := make([][]float64, n)
	for i := range k {
		k[i] = make([]float64, n)
		for j := range k[i] {
			k[i][j] = gp.rbf(gp.X[i], gp.X[j])
		}
		k[i][i] += gp.noise
	}
	// Repeated points make K singular; grow the jitter until it factors.
	jitter := 0.0
	for {
		if l, ok := cholesky(k, jitter); ok {
			gp.chol = l
			break
		}
		if jitter == 0 {
			jitter = 1e-6
		} else {
			jitter *= 10
		}
	}
	centred := make([]float64, n)
	for i, y := range gp.Y {
		centred[i] = y - gp.mean
	}
	gp.alpha = cholSolve(gp.chol, centred)
	gp.dirty = false
}

// Predict returns the posterior mean and variance at x; (0, 1) without
// observations.
func (gp *gaussianProcess) Predict(x []float64) (mean, variance float64) {
	if len(gp.X) == 0 {
		return 0, 1
	}
	if gp.dirty {
		gp.fit()
	}
	ks := make([]float64, len(gp.X))
	for i, xi := range gp.X {
		ks[i] = gp.rbf(x, xi)
	}
	mean = gp.mean
	for i, a := range gp.alpha {
		mean += ks[i] * a
	}
	v := forwardSub(gp.chol, ks)
	variance = 1
	for _, vi := range v {
		variance -= vi * vi
	}
	return mean, math.Max(variance, 1e-12)
}

// cholesky returns the lower factor of a + jitter*I, false if a is not
// positive definite.
func cholesky(a [][]float64, jitter float64) ([][]float64, bool) {
	n := len(a)
	l := make([][]float64, n)
	for i := range l {
		l[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			sum := a[i][j]
			if i == j {
				sum += jitter
			}
			for k := 0; k < j; k++ {
				sum -= l[i][k] * l[j][k]
			}
			if i == j {
				if sum <= 0 {
					return nil, false
				}
				l[i][i] = math.Sqrt(sum)
			} else {
				l[i][j] = sum / l[j][j]
			}
		}
	}
	return l, true
}

func forwardSub(l [][]float64, b []float64) []float64 {
	y := make([]float64, len(b))
	for i := range b {
		sum := b[i]
		for k := 0; k < i; k++ {
			sum -= l[i][k] * y[k]
		}
		y[i] = sum / l[i][i]
	}
	return y
}

// cholSolve solves L L^T x = b.
func cholSolve(l [][]float64, b []float64) []float64 {
	y := forwardSub(l, b)
	n := len(y)
	x := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		sum := y[i]
		for k := i + 1; k < n; k++ {
			sum -= l[k][i] * x[k]
		}
		x[i] = sum / l[i][i]
	}
	return x
}
