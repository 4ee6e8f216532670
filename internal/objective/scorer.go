package objective

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/signalnine/autoprep/internal/dataset"
	"github.com/signalnine/autoprep/internal/isolate"
	"github.com/signalnine/autoprep/internal/pipeline"
	"github.com/signalnine/autoprep/internal/scoring"
	"github.com/signalnine/autoprep/internal/space"
)

// ScoreFunc is the name the scoring function is registered under in worker
// processes.
const ScoreFunc = "score"

// Score is the cross-validated score of one configuration, before
// truncation.
type Score struct {
	Mean float64 `json:"score"`
	Std  float64 `json:"std"`
}

// Scorer builds and cross-validates a configuration. Errors it returns are
// trial failures unless they are *FatalError.
type Scorer interface {
	Score(ctx context.Context, pipelineCfg, algorithmCfg space.Config) (Score, error)
}

// FatalError marks a scorer error that must stop the run instead of being
// recorded as a failed trial.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// LocalScorer scores in the calling process.
type LocalScorer struct {
	Data      *dataset.Dataset
	Prototype space.Prototype
	Algorithm string
	Seed      int64
	CV        scoring.Options
}

func (s *LocalScorer) Score(ctx context.Context, pipelineCfg, algorithmCfg space.Config) (Score, error) {
	p, _, err := pipeline.Build(s.Prototype, pipelineCfg, s.Algorithm, s.Seed, algorithmCfg)
	if err != nil {
		return Score{}, fmt.Errorf("building pipeline: %w", err)
	}
	scores, err := scoring.CrossValidate(ctx, p, s.Data, s.CV)
	if err != nil {
		return Score{}, fmt.Errorf("cross-validating: %w", err)
	}
	return Score{Mean: scores.Mean(), Std: scores.Std()}, nil
}

// ScoreArgs is the request a worker receives for ScoreFunc.
type ScoreArgs struct {
	Dataset   string          `json:"dataset"`
	Label     string          `json:"label,omitempty"`
	Prototype space.Prototype `json:"prototype"`
	Algorithm string          `json:"algorithm"`
	Seed      int64           `json:"seed"`
	Folds     int             `json:"folds"`
	Scoring   string          `json:"scoring"`
	Parallel  int             `json:"parallel"`

	Pipeline        space.Config `json:"pipeline"`
	AlgorithmConfig space.Config `json:"algorithm_config"`
}

type scoreReply struct {
	Loss float64 `json:"loss"`
	Score
}

// Registry is the set of functions an autoprep worker serves.
func Registry() isolate.Registry {
	return isolate.Registry{ScoreFunc: scoreInWorker}
}

func scoreInWorker(ctx context.Context, raw json.RawMessage) (any, error) {
	var args ScoreArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("decoding score arguments: %w", err)
	}
	ds, err := dataset.LoadCSV(args.Dataset, args.Label)
	if err != nil {
		return nil, err
	}
	local := &LocalScorer{
		Data:      ds,
		Prototype: args.Prototype,
		Algorithm: args.Algorithm,
		Seed:      args.Seed,
		CV:        scoring.Options{Folds: args.Folds, Scoring: args.Scoring, Parallel: args.Parallel},
	}
	sc, err := local.Score(ctx, args.Pipeline, args.AlgorithmConfig)
	if err != nil {
		return nil, err
	}
	return scoreReply{Loss: 1 - sc.Mean, Score: sc}, nil
}

// IsolatedScorer scores each configuration in a disposable worker through
// an isolate.Executor. Args carries everything but the configuration.
type IsolatedScorer struct {
	Executor *isolate.Executor
	Args     ScoreArgs
}

func (s *IsolatedScorer) Score(ctx context.Context, pipelineCfg, algorithmCfg space.Config) (Score, error) {
	args := s.Args
	args.Pipeline, args.AlgorithmConfig = pipelineCfg, algorithmCfg
	raw, err := json.Marshal(args)
	if err != nil {
		return Score{}, &FatalError{Err: fmt.Errorf("encoding score arguments: %w", err)}
	}

	out, err := s.Executor.Run(ctx, isolate.Request{Func: ScoreFunc, Args: raw})
	if err != nil {
		return Score{}, &FatalError{Err: err}
	}
	switch out.Kind {
	case isolate.KindSuccess:
		if out.Result.Status != isolate.StatusOK || out.Result.Loss == nil {
			return Score{}, errors.New("worker reported a failed evaluation")
		}
		var reply scoreReply
		if err := out.Result.Decode(&reply); err != nil {
			return Score{}, fmt.Errorf("decoding worker reply: %w", err)
		}
		return reply.Score, nil
	default:
		return Score{}, out.Err
	}
}

// Baseline scores the pipeline that applies no preprocessing, with the
// algorithm's default parameters.
func Baseline(ctx context.Context, scorer Scorer, proto space.Prototype, algorithm string) (Score, error) {
	cfg := make(space.Config, len(proto))
	for _, op := range proto {
		cfg[op.Name] = space.Choice{Operator: space.None}
	}
	return scorer.Score(ctx, cfg, space.Algorithm(algorithm, nil))
}
