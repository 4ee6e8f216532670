package policy

import (
	"context"
	"fmt"

	"github.com/signalnine/autoprep/internal/history"
	"github.com/signalnine/autoprep/internal/objective"
	"github.com/signalnine/autoprep/internal/space"
)

// Staged alternates a pipeline stage, with the algorithm configuration fixed
// to the current best, and an algorithm stage, with the pipeline fixed. Each
// stage stops on its own budget; Budget bounds the whole run.
type Staged struct {
	Evaluator      *objective.Evaluator
	PipelineSpace  *space.Space
	AlgorithmSpace *space.Space
	NewOptimizer   OptimizerFactory
	Budget         Budget
	StageBudget    Budget
	Rounds         int
	Seed           int64
}

func (s *Staged) Run(ctx context.Context, rc *objective.RunContext) (*Best, error) {
	rounds := s.Rounds
	if rounds < 1 {
		rounds = 1
	}
	overall := s.Budget.start()

	pipelineCfg := s.PipelineSpace.Default()
	algorithmCfg := s.AlgorithmSpace.Default()

	var best *Best
	seed := s.Seed
	for round := 1; round <= rounds && !overall.exhausted(); round++ {
		for _, stage := range []history.Stage{history.StagePipeline, history.StageAlgorithm} {
			if overall.exhausted() {
				break
			}
			target := s.PipelineSpace
			if stage == history.StageAlgorithm {
				target = s.AlgorithmSpace
			}
			opt, err := s.NewOptimizer(target, seed)
			if err != nil {
				return nil, fmt.Errorf("creating %s optimizer: %w", stage, err)
			}
			seed++

			rc.Logger.Info("starting stage",
				"ml.round", round, "ml.step", stage, "ml.space_size", target.Size())
			fixedPipeline, fixedAlgorithm := pipelineCfg, algorithmCfg
			err = search(ctx, target, opt, []*tracker{overall, s.StageBudget.start()}, func(cfg space.Config) (*history.Trial, error) {
				if stage == history.StagePipeline {
					return s.Evaluator.Evaluate(ctx, rc, cfg, fixedAlgorithm, stage)
				}
				return s.Evaluator.Evaluate(ctx, rc, fixedPipeline, cfg, stage)
			})
			if err != nil {
				return nil, err
			}

			if best, err = bestOf(rc); err != nil {
				return nil, err
			}
			displayStepResults(rc, fmt.Sprintf("round %d %s", round, stage), best)
			if best.Pipeline != nil {
				pipelineCfg = best.Pipeline
			}
			if best.Algorithm != nil {
				algorithmCfg = best.Algorithm
			}
		}
	}
	if best == nil {
		return bestOf(rc)
	}
	return best, nil
}
