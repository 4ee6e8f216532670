package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/signalnine/autoprep/internal/config"
	"github.com/signalnine/autoprep/internal/dataset"
	"github.com/signalnine/autoprep/internal/history"
	"github.com/signalnine/autoprep/internal/isolate"
	"github.com/signalnine/autoprep/internal/logging"
	"github.com/signalnine/autoprep/internal/metrics"
	"github.com/signalnine/autoprep/internal/objective"
	"github.com/signalnine/autoprep/internal/optimizer"
	"github.com/signalnine/autoprep/internal/pipeline"
	"github.com/signalnine/autoprep/internal/policy"
	"github.com/signalnine/autoprep/internal/report"
	"github.com/signalnine/autoprep/internal/result"
	"github.com/signalnine/autoprep/internal/scoring"
	"github.com/signalnine/autoprep/internal/space"
)

// dataMount is where docker workers see the dataset directory.
const dataMount = "/data"

var (
	flagTime      time.Duration
	flagSeed      int64
	flagAlgorithm string
	flagPolicy    string
	flagMaxEvals  int
	flagOptimizer string
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an experiment",
		Args:  cobra.NoArgs,
		RunE:  runExperiment,
	}
	cmd.Flags().DurationVar(&flagTime, "time", 0, "override the search time budget")
	cmd.Flags().Int64Var(&flagSeed, "seed", 0, "override the seed")
	cmd.Flags().StringVar(&flagAlgorithm, "algorithm", "", "override the algorithm")
	cmd.Flags().StringVar(&flagPolicy, "policy", "", "override the policy (joint, staged)")
	cmd.Flags().IntVar(&flagMaxEvals, "max-evals", 0, "override the evaluation budget")
	cmd.Flags().StringVar(&flagOptimizer, "optimizer", "", "override the optimizer (grid, random, bayes)")
	return cmd
}

// applyOverrides copies the flags the user set onto cfg and validates the
// result.
func applyOverrides(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("time") {
		cfg.Time = flagTime
	}
	if flags.Changed("seed") {
		cfg.Seed = flagSeed
	}
	if flags.Changed("algorithm") {
		cfg.Algorithm = flagAlgorithm
	}
	if flags.Changed("policy") {
		cfg.Policy = flagPolicy
	}
	if flags.Changed("max-evals") {
		cfg.MaxEvals = flagMaxEvals
	}
	if flags.Changed("optimizer") {
		cfg.Optimizer.Kind = flagOptimizer
	}
	return config.Validate(cfg)
}

func runExperiment(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if err := applyOverrides(cmd, cfg); err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	ds, err := dataset.LoadCSV(cfg.Dataset.Path, cfg.Dataset.Label)
	if err != nil {
		return fmt.Errorf("loading dataset: %w", err)
	}

	runDir, err := result.CreateRunDir(cfg.Results.Dir)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Run directory: %s\n", runDir)

	logFile, err := os.Create(filepath.Join(runDir, result.LogFile))
	if err != nil {
		return fmt.Errorf("creating run log: %w", err)
	}
	defer logFile.Close()
	runID := uuid.NewString()
	logger = logging.Tee(logger, logFile, slog.LevelDebug).With("run", runID)
	logger.Info("dataset loaded",
		"ml.dataset", cfg.Dataset.Path, "ml.rows", ds.Rows(), "ml.features", ds.Cols(), "ml.classes", len(ds.Classes))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if metricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, metricsAddr, logger); err != nil {
				logger.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	scorer, err := newScorer(cfg, ds, logger)
	if err != nil {
		return err
	}

	rc := objective.NewRunContext(runID, cfg, logger)
	rc.Out = out
	jsonl, err := result.OpenJSONL(filepath.Join(runDir, result.HistoryFile))
	if err != nil {
		return err
	}
	defer jsonl.Close()
	rc.Sinks = append(rc.Sinks, jsonl)
	if cfg.Results.SQLite != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Results.SQLite), 0o755); err != nil {
			return fmt.Errorf("creating history db dir: %w", err)
		}
		db, err := history.OpenSQLite(cfg.Results.SQLite, runID)
		if err != nil {
			return err
		}
		defer db.Close()
		rc.Sinks = append(rc.Sinks, db)
	}

	meta := newRunMeta(runID, cfg)
	if err := result.WriteRunMeta(runDir, meta); err != nil {
		return err
	}

	baseline, err := objective.Baseline(ctx, scorer, cfg.Prototype, cfg.Algorithm)
	if err != nil {
		var fatal *objective.FatalError
		if errors.As(err, &fatal) || ctx.Err() != nil {
			return finishRun(runDir, meta, rc, err)
		}
		logger.Warn("baseline failed", "error", err)
	} else {
		meta.Baseline = result.Score{Score: scoring.Truncate(baseline.Mean), Std: scoring.Truncate(baseline.Std)}
		fmt.Fprintf(out, "Baseline score: %v (%v)\n", meta.Baseline.Score, meta.Baseline.Std)
		logger.Info("baseline scored", "ml.score", meta.Baseline.Score, "ml.score_std", meta.Baseline.Std)
	}

	pol := newPolicy(cfg, &objective.Evaluator{Scorer: scorer})
	_, runErr := pol.Run(ctx, rc)
	if err := finishRun(runDir, meta, rc, runErr); err != nil {
		return err
	}

	fmt.Fprintln(out, "\n--- Results ---")
	return report.Generate(runDir, "table", out)
}

func newRunMeta(runID string, cfg *config.Config) *result.RunMeta {
	dataPath, err := filepath.Abs(cfg.Dataset.Path)
	if err != nil {
		dataPath = cfg.Dataset.Path
	}
	return &result.RunMeta{
		ID:          runID,
		Dataset:     dataPath,
		Label:       cfg.Dataset.Label,
		Algorithm:   cfg.Algorithm,
		Policy:      cfg.Policy,
		Optimizer:   cfg.Optimizer.Kind,
		Isolation:   cfg.Isolation.Mode,
		Seed:        cfg.Seed,
		TimeBudgetS: cfg.Time.Seconds(),
		MaxEvals:    cfg.MaxEvals,
		Folds:       cfg.CV.Folds,
		Scoring:     cfg.CV.Scoring,
		Prototype:   cfg.Prototype,
		StartTime:   time.Now().UTC(),
	}
}

// finishRun records the outcome of the run in run.json and best.json. It
// returns runErr unless the run completed.
func finishRun(runDir string, meta *result.RunMeta, rc *objective.RunContext, runErr error) error {
	meta.StopTime = time.Now().UTC()
	meta.DurationS = meta.StopTime.Sub(meta.StartTime).Seconds()
	best, _ := rc.History.Best()
	meta.Summarize(rc.History.Trials(), best)
	switch {
	case runErr == nil:
		meta.ExitReason = result.ExitCompleted
	case errors.Is(runErr, context.Canceled):
		meta.ExitReason = result.ExitInterrupted
	default:
		meta.ExitReason = result.ExitFailed
	}
	rc.Logger.Info("run finished",
		"ml.exit_reason", meta.ExitReason, "ml.trials", meta.Trials,
		"ml.failures", meta.Failures, "ml.duration_s", meta.DurationS)

	if err := result.WriteRunMeta(runDir, meta); err != nil {
		return errors.Join(runErr, err)
	}
	if best != nil {
		if err := result.WriteBest(runDir, best); err != nil {
			return errors.Join(runErr, err)
		}
	}
	return runErr
}

func newScorer(cfg *config.Config, ds *dataset.Dataset, logger *slog.Logger) (objective.Scorer, error) {
	cv := scoring.Options{Folds: cfg.CV.Folds, Scoring: cfg.CV.Scoring, Parallel: cfg.CV.Parallel}
	if cfg.Isolation.Mode == config.IsolationNone {
		return &objective.LocalScorer{
			Data:      ds,
			Prototype: cfg.Prototype,
			Algorithm: cfg.Algorithm,
			Seed:      cfg.Seed,
			CV:        cv,
		}, nil
	}

	dataPath, err := filepath.Abs(cfg.Dataset.Path)
	if err != nil {
		return nil, fmt.Errorf("resolving dataset path: %w", err)
	}
	args := objective.ScoreArgs{
		Dataset:   dataPath,
		Label:     cfg.Dataset.Label,
		Prototype: cfg.Prototype,
		Algorithm: cfg.Algorithm,
		Seed:      cfg.Seed,
		Folds:     cv.Folds,
		Scoring:   cv.Scoring,
		Parallel:  cv.Parallel,
	}

	var spawner isolate.Spawner
	switch cfg.Isolation.Mode {
	case config.IsolationProcess:
		bin := cfg.Isolation.Binary
		if bin == "" {
			if bin, err = os.Executable(); err != nil {
				return nil, fmt.Errorf("locating worker binary: %w", err)
			}
		}
		spawner = &isolate.ExecSpawner{Path: bin, Args: []string{"worker"}}
	case config.IsolationDocker:
		args.Dataset = path.Join(dataMount, filepath.Base(dataPath))
		user := cfg.Isolation.User
		if user == "" {
			user = fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid())
		}
		spawner = &isolate.DockerSpawner{
			Image:       cfg.Isolation.Image,
			Mounts:      []isolate.Mount{{Source: filepath.Dir(dataPath), Target: dataMount, ReadOnly: true}},
			CPULimit:    cfg.Isolation.CPUs,
			MemoryLimit: cfg.Isolation.MemoryBytes,
			UserID:      user,
			Logger:      logger,
		}
	default:
		return nil, fmt.Errorf("unknown isolation mode %q", cfg.Isolation.Mode)
	}
	return &objective.IsolatedScorer{
		Executor: &isolate.Executor{
			Spawner:     spawner,
			Timeout:     cfg.Isolation.Timeout,
			MaxAttempts: cfg.Isolation.Attempts,
			Logger:      logger,
		},
		Args: args,
	}, nil
}

func newPolicy(cfg *config.Config, ev *objective.Evaluator) policy.Policy {
	factory := func(s *space.Space, seed int64) (optimizer.Optimizer, error) {
		return optimizer.New(s, optimizer.Options{
			Kind:           cfg.Optimizer.Kind,
			Seed:           seed,
			InitialSamples: cfg.Optimizer.InitialSamples,
			Candidates:     cfg.Optimizer.Candidates,
			Acquisition:    cfg.Optimizer.Acquisition,
			Beta:           cfg.Optimizer.Beta,
		})
	}
	pipelineSpace := pipeline.PipelineSpace(cfg.Prototype)
	algorithmSpace := pipeline.AlgorithmSpace(cfg.Algorithm)
	budget := policy.Budget{Time: cfg.Time, MaxEvals: cfg.MaxEvals}

	if cfg.Policy == config.PolicyStaged {
		return &policy.Staged{
			Evaluator:      ev,
			PipelineSpace:  pipelineSpace,
			AlgorithmSpace: algorithmSpace,
			NewOptimizer:   factory,
			Budget:         budget,
			StageBudget:    policy.Budget{Time: cfg.Staged.StageTime, MaxEvals: cfg.Staged.StageEvals},
			Rounds:         cfg.Staged.Rounds,
			Seed:           cfg.Seed,
		}
	}
	return &policy.Joint{
		Evaluator:      ev,
		PipelineSpace:  pipelineSpace,
		AlgorithmSpace: algorithmSpace,
		NewOptimizer:   factory,
		Budget:         budget,
		Seed:           cfg.Seed,
	}
}
