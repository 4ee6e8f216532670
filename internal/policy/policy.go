// Package policy drives the search: it asks an optimizer for configurations,
// evaluates them through the objective and stops on its budget.
package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/signalnine/autoprep/internal/history"
	"github.com/signalnine/autoprep/internal/objective"
	"github.com/signalnine/autoprep/internal/optimizer"
	"github.com/signalnine/autoprep/internal/space"
)

// Best is the outcome of a policy run.
type Best struct {
	Pipeline  space.Config  `json:"pipeline"`
	Algorithm space.Config  `json:"algorithm"`
	Score     float64       `json:"score"`
	ScoreStd  float64       `json:"score_std"`
	Stage     history.Stage `json:"step"`
	Iteration int           `json:"iteration"`
	Hash      string        `json:"config_hash"`
}

// Policy runs a search against a run context.
type Policy interface {
	Run(ctx context.Context, rc *objective.RunContext) (*Best, error)
}

// OptimizerFactory creates the optimizer for one search loop. seed differs
// between loops of the same run.
type OptimizerFactory func(s *space.Space, seed int64) (optimizer.Optimizer, error)

// Budget bounds a search loop. Zero fields are unlimited.
type Budget struct {
	Time     time.Duration
	MaxEvals int
}

type tracker struct {
	deadline time.Time
	max      int
	evals    int
}

func (b Budget) start() *tracker {
	t := &tracker{max: b.MaxEvals}
	if b.Time > 0 {
		t.deadline = time.Now().Add(b.Time)
	}
	return t
}

func (t *tracker) exhausted() bool {
	if !t.deadline.IsZero() && !time.Now().Before(t.deadline) {
		return true
	}
	return t.max > 0 && t.evals >= t.max
}

// search runs one optimizer loop over s until a tracker is exhausted, the
// optimizer runs dry or every point of s has been evaluated. eval evaluates
// a proposal and returns its trial.
func search(ctx context.Context, s *space.Space, opt optimizer.Optimizer, trackers []*tracker,
	eval func(space.Config) (*history.Trial, error)) error {
	size := s.Size()
	distinct := map[string]bool{}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, t := range trackers {
			if t.exhausted() {
				return nil
			}
		}
		if size > 0 && len(distinct) >= size {
			return nil
		}

		cfg, err := opt.Suggest(ctx)
		if errors.Is(err, optimizer.ErrExhausted) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("suggesting configuration: %w", err)
		}
		trial, err := eval(cfg)
		if err != nil {
			return err
		}
		for _, t := range trackers {
			t.evals++
		}
		distinct[trial.Hash.Config] = true
		opt.Observe(cfg, trial.Loss)
	}
}

// bestOf reads the running best of the run and reports it.
func bestOf(rc *objective.RunContext) (*Best, error) {
	t, ok := rc.History.Best()
	if !ok {
		return nil, errors.New("no configuration was evaluated")
	}
	b := &Best{
		Pipeline:  t.Pipeline,
		Algorithm: t.Algorithm,
		Score:     t.Score,
		ScoreStd:  t.ScoreStd,
		Stage:     t.Stage,
		Iteration: t.Iteration,
		Hash:      t.Hash.Config,
	}
	return b, nil
}

func displayStepResults(rc *objective.RunContext, step string, b *Best) {
	rc.Logger.Info("step finished",
		"ml.step", step, "ml.best_score", b.Score, "ml.best_score_std", b.ScoreStd,
		"ml.best_iteration", b.Iteration, "ml.trials", rc.History.Len())
	if rc.Out != nil {
		fmt.Fprintf(rc.Out, "--- %s ---\nBest score: %v (%v) [%s]\n  pipeline:  %s\n  algorithm: %s\n",
			step, b.Score, b.ScoreStd, b.Stage.Initial(), b.Pipeline, b.Algorithm)
	}
}
