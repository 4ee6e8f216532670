// Package optimizer proposes configurations from a search space and learns
// from the losses observed for them.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/signalnine/autoprep/internal/space"
)

// ErrExhausted is returned by Suggest once a finite optimizer has proposed
// every point.
var ErrExhausted = errors.New("search space exhausted")

// Optimizer is a black-box minimizer. The policy calls Suggest, evaluates the
// proposal and reports its loss with Observe before asking again.
type Optimizer interface {
	Suggest(ctx context.Context) (space.Config, error)
	Observe(cfg space.Config, loss float64)
}

// Kinds accepted by New.
const (
	KindGrid   = "grid"
	KindRandom = "random"
	KindBayes  = "bayes"
)

// Options configures New.
type Options struct {
	Kind           string
	Seed           int64
	InitialSamples int
	Candidates     int
	Acquisition    string
	Beta           float64 // exploration weight of ucb
	Xi             float64 // improvement margin of pi and ei
}

// New returns an optimizer of the requested kind over s.
func New(s *space.Space, opts Options) (Optimizer, error) {
	switch opts.Kind {
	case KindGrid:
		return NewGrid(s), nil
	case KindRandom, "":
		return NewRandom(s, opts.Seed), nil
	case KindBayes:
		return NewBayes(s, opts)
	}
	return nil, fmt.Errorf("unknown optimizer %q", opts.Kind)
}

// Grid proposes every point of the space once, in enumeration order.
type Grid struct {
	points []space.Config
	next   int
}

func NewGrid(s *space.Space) *Grid {
	return &Grid{points: s.Enumerate()}
}

func (g *Grid) Suggest(ctx context.Context) (space.Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if g.next >= len(g.points) {
		return nil, ErrExhausted
	}
	c := g.points[g.next]
	g.next++
	return c.Clone(), nil
}

func (g *Grid) Observe(space.Config, float64) {}

// Random samples the space uniformly.
type Random struct {
	space *space.Space
	rng   *rand.Rand
}

func NewRandom(s *space.Space, seed int64) *Random {
	return &Random{space: s, rng: rand.New(rand.NewSource(seed))}
}

func (r *Random) Suggest(ctx context.Context) (space.Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.space.Size() == 0 {
		return nil, ErrExhausted
	}
	return r.space.Sample(r.rng), nil
}

func (r *Random) Observe(space.Config, float64) {}
