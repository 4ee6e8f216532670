package optimizer

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/signalnine/autoprep/internal/space"
)

// Acquisition scores a candidate from the GP posterior at it. Lower is
// better: the candidate with the lowest acquisition is proposed.
type Acquisition func(mean, variance float64, p AcquisitionParams) float64

// AcquisitionParams carries the state acquisitions need besides the
// posterior.
type AcquisitionParams struct {
	BestSoFar float64 // lowest observed loss
	Beta      float64
	Xi        float64
	Rand      *rand.Rand
}

// LowerConfidenceBound favours low means and high uncertainty.
func LowerConfidenceBound(mean, variance float64, p AcquisitionParams) float64 {
	return mean - p.Beta*math.Sqrt(variance)
}

// ProbabilityOfImprovement is the negated probability that the loss falls
// below BestSoFar - Xi.
func ProbabilityOfImprovement(mean, variance float64, p AcquisitionParams) float64 {
	z := (p.BestSoFar - p.Xi - mean) / math.Sqrt(variance)
	return -normalCDF(z)
}

// ExpectedImprovement is the negated expected improvement over
// BestSoFar - Xi.
func ExpectedImprovement(mean, variance float64, p AcquisitionParams) float64 {
	sigma := math.Sqrt(variance)
	imp := p.BestSoFar - p.Xi - mean
	z := imp / sigma
	return -(imp*normalCDF(z) + sigma*normalPDF(z))
}

// ThompsonSampling draws one sample from the posterior.
func ThompsonSampling(mean, variance float64, p AcquisitionParams) float64 {
	return mean + math.Sqrt(variance)*p.Rand.NormFloat64()
}

func normalPDF(z float64) float64 {
	return math.Exp(-z*z/2) / math.Sqrt(2*math.Pi)
}

func normalCDF(z float64) float64 {
	return 0.5 * math.Erfc(-z/math.Sqrt2)
}

// AcquisitionByName maps the configuration names to acquisitions.
func AcquisitionByName(name string) (Acquisition, error) {
	switch name {
	case "ucb":
		return LowerConfidenceBound, nil
	case "pi":
		return ProbabilityOfImprovement, nil
	case "ei", "":
		return ExpectedImprovement, nil
	case "thompson":
		return ThompsonSampling, nil
	}
	return nil, fmt.Errorf("unknown acquisition %q", name)
}

// Bayes proposes InitialSamples random points, then, for every later call,
// the best of Candidates random points under a Gaussian process fitted to
// the one-hot encodings of everything observed so far.
type Bayes struct {
	space   *space.Space
	rng     *rand.Rand
	gp      *gaussianProcess
	acquire Acquisition
	opts    Options

	best     float64
	observed map[string]bool
}

func NewBayes(s *space.Space, opts Options) (*Bayes, error) {
	acq, err := AcquisitionByName(opts.Acquisition)
	if err != nil {
		return nil, err
	}
	if opts.InitialSamples < 1 {
		opts.InitialSamples = 10
	}
	if opts.Candidates < 1 {
		opts.Candidates = 100
	}
	if opts.Beta == 0 {
		opts.Beta = 2
	}
	if opts.Xi == 0 {
		opts.Xi = 0.01
	}
	return &Bayes{
		space:    s,
		rng:      rand.New(rand.NewSource(opts.Seed)),
		gp:       newGaussianProcess(),
		acquire:  acq,
		opts:     opts,
		best:     math.Inf(1),
		observed: map[string]bool{},
	}, nil
}

func (b *Bayes) Suggest(ctx context.Context) (space.Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.space.Size() == 0 {
		return nil, ErrExhausted
	}
	if len(b.gp.X) < b.opts.InitialSamples {
		return b.space.Sample(b.rng), nil
	}

	params := AcquisitionParams{BestSoFar: b.best, Beta: b.opts.Beta, Xi: b.opts.Xi, Rand: b.rng}
	var (
		pick      space.Config
		pickScore = math.Inf(1)
	)
	for i := 0; i < b.opts.Candidates; i++ {
		c := b.space.Sample(b.rng)
		// Seen points only win when no unseen candidate turned up.
		if b.observed[c.String()] {
			if pick == nil {
				pick = c
			}
			continue
		}
		mean, variance := b.gp.Predict(b.space.Encode(c))
		if a := b.acquire(mean, variance, params); a < pickScore || b.observed[pick.String()] {
			pick, pickScore = c, a
		}
	}
	return pick, nil
}

// Observe adds a finite loss to the model. Repeat observations of a
// configuration are dropped; memoized evaluations report the same loss.
func (b *Bayes) Observe(cfg space.Config, loss float64) {
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return
	}
	if b.observed[cfg.String()] {
		return
	}
	b.gp.Update(b.space.Encode(cfg), loss)
	b.observed[cfg.String()] = true
	if loss < b.best {
		b.best = loss
	}
}
