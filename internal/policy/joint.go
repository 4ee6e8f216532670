package policy

import (
	"context"
	"fmt"

	"github.com/signalnine/autoprep/internal/history"
	"github.com/signalnine/autoprep/internal/objective"
	"github.com/signalnine/autoprep/internal/space"
)

// Joint optimizes the pipeline and the algorithm hyperparameters together in
// one search over their product space.
type Joint struct {
	Evaluator      *objective.Evaluator
	PipelineSpace  *space.Space
	AlgorithmSpace *space.Space
	NewOptimizer   OptimizerFactory
	Budget         Budget
	Seed           int64
}

func (j *Joint) Run(ctx context.Context, rc *objective.RunContext) (*Best, error) {
	joint := space.Joint(j.PipelineSpace, j.AlgorithmSpace)
	opt, err := j.NewOptimizer(joint, j.Seed)
	if err != nil {
		return nil, fmt.Errorf("creating optimizer: %w", err)
	}
	rc.Logger.Info("starting joint search",
		"ml.space_size", joint.Size(), "ml.time", j.Budget.Time, "ml.max_evals", j.Budget.MaxEvals)

	err = search(ctx, joint, opt, []*tracker{j.Budget.start()}, func(cfg space.Config) (*history.Trial, error) {
		p, a, err := space.SplitJoint(cfg)
		if err != nil {
			return nil, err
		}
		return j.Evaluator.Evaluate(ctx, rc, p, a, history.StageJoint)
	})
	if err != nil {
		return nil, err
	}

	best, err := bestOf(rc)
	if err != nil {
		return nil, err
	}
	displayStepResults(rc, "joint", best)
	return best, nil
}
