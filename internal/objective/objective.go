// Package objective evaluates configurations against the evaluation history:
// hashing, memoization, scoring, best tracking and progress reporting.
package objective

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/signalnine/autoprep/internal/config"
	"github.com/signalnine/autoprep/internal/confighash"
	"github.com/signalnine/autoprep/internal/history"
	"github.com/signalnine/autoprep/internal/isolate"
	"github.com/signalnine/autoprep/internal/metrics"
	"github.com/signalnine/autoprep/internal/scoring"
	"github.com/signalnine/autoprep/internal/space"
)

// RunContext is the state of one experiment run. It is created once per run
// and passed to every evaluation.
type RunContext struct {
	ID      string
	Config  *config.Config
	History *history.Store
	Sinks   []history.Sink
	Logger  *slog.Logger
	Out     io.Writer // progress lines
}

// NewRunContext returns a context with an empty history.
func NewRunContext(id string, cfg *config.Config, logger *slog.Logger) *RunContext {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunContext{
		ID:      id,
		Config:  cfg,
		History: history.NewStore(),
		Logger:  logger,
		Out:     os.Stdout,
	}
}

// Evaluator is the black-box objective the search policies minimize.
type Evaluator struct {
	Scorer Scorer
}

// Evaluate returns the trial for the configuration, from the history when
// the same configuration was evaluated before. Scoring failures produce a
// failed trial, not an error; the error return is reserved for failures that
// must end the run.
func (e *Evaluator) Evaluate(ctx context.Context, rc *RunContext, pipelineCfg, algorithmCfg space.Config, stage history.Stage) (*history.Trial, error) {
	key, err := confighash.Compute(pipelineCfg, algorithmCfg)
	if err != nil {
		return nil, fmt.Errorf("hashing configuration: %w", err)
	}
	if t, ok := rc.History.Lookup(key.Config); ok {
		metrics.CacheHits.WithLabelValues(rc.ID).Inc()
		rc.Logger.Debug("configuration already evaluated",
			"trial.hash", key.Config, "trial.iteration", t.Iteration)
		return t, nil
	}

	start := time.Now()
	sc, err := e.Scorer.Score(ctx, pipelineCfg, algorithmCfg)
	stop := time.Now()

	t := history.Trial{
		Hash:      key,
		Pipeline:  pipelineCfg.Clone(),
		Algorithm: algorithmCfg.Clone(),
		Stage:     stage,
		StartTime: start,
		StopTime:  stop,
		Duration:  stop.Sub(start).Seconds(),
	}
	if err != nil {
		var fatal *FatalError
		if errors.As(err, &fatal) {
			return nil, fatal.Err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		t.Status = history.StatusFail
		t.Failure = history.FailureError
		if errors.Is(err, isolate.ErrTimeout) {
			t.Failure = history.FailureTimeout
		}
		t.Error = err.Error()
		rc.Logger.Warn("trial failed",
			"trial.hash", key.Config, "trial.stage", stage, "trial.failure", t.Failure, "error", err)
	} else {
		t.Score = scoring.Truncate(sc.Mean)
		t.ScoreStd = scoring.Truncate(sc.Std)
		t.Status = history.StatusOK
	}
	t.Loss = 1 - t.Score

	rec := rc.History.Append(t)
	for _, s := range rc.Sinks {
		if err := s.Write(ctx, rec); err != nil {
			rc.Logger.Warn("writing trial to sink", "trial.iteration", rec.Iteration, "error", err)
		}
	}

	metrics.TrialsTotal.WithLabelValues(rc.ID, string(stage), string(rec.Status)).Inc()
	metrics.TrialDuration.WithLabelValues(rc.ID, string(stage)).Observe(rec.Duration)
	metrics.BestScore.WithLabelValues(rc.ID).Set(rec.MaxHistoryScore)

	if rc.Out != nil {
		fmt.Fprintln(rc.Out, ProgressLine(rec))
	}
	rc.Logger.Debug("trial recorded",
		"trial.iteration", rec.Iteration, "trial.hash", key.Config,
		"trial.score", rec.Score, "trial.duration", rec.Duration)
	return &rec, nil
}

var bestColor = color.New(color.FgGreen, color.Bold)

// ProgressLine renders the one-line summary printed after every new trial.
func ProgressLine(t history.Trial) string {
	best := fmt.Sprintf("%s (%s) [%s]", formatScore(t.MaxHistoryScore), formatScore(t.MaxHistoryScoreStd), t.MaxHistoryStage.Initial())
	return fmt.Sprintf("Best score: %s | Score: %s (%s) [%s]",
		bestColor.Sprint(best),
		formatScore(t.Score), formatScore(t.ScoreStd), t.Stage.Initial())
}

// formatScore prints the shortest representation that round-trips, always
// with a decimal point.
func formatScore(x float64) string {
	s := strconv.FormatFloat(x, 'f', -1, 64)
	if !strings.ContainsAny(s, ".nN") {
		s += ".0"
	}
	return s
}
