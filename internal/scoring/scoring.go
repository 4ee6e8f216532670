// Package scoring cross-validates pipelines and computes classification
// metrics.
package scoring

import (
	"context"
	"fmt"
	"math"

	"github.com/signalnine/autoprep/internal/dataset"
	"github.com/signalnine/autoprep/internal/pipeline"
	"github.com/signalnine/autoprep/internal/runner"
	"github.com/signalnine/autoprep/internal/stats"
)

// Metric names accepted by CrossValidate.
const (
	BalancedAccuracy = "balanced_accuracy"
	Accuracy         = "accuracy"
)

// DefaultFolds is the number of cross-validation folds used when none is
// configured.
const DefaultFolds = 10

// Metric scores predictions against true labels.
type Metric func(yTrue, yPred []int) float64

// MetricByName returns the named metric.
func MetricByName(name string) (Metric, error) {
	switch name {
	case BalancedAccuracy, "":
		return BalancedAccuracyScore, nil
	case Accuracy:
		return AccuracyScore, nil
	}
	return nil, fmt.Errorf("unknown scoring %q", name)
}

// BalancedAccuracyScore is the mean per-class recall over the classes present
// in yTrue.
func BalancedAccuracyScore(yTrue, yPred []int) float64 {
	total := map[int]int{}
	hit := map[int]int{}
	for i, c := range yTrue {
		total[c]++
		if yPred[i] == c {
			hit[c]++
		}
	}
	if len(total) == 0 {
		return 0
	}
	var sum float64
	for c, n := range total {
		sum += float64(hit[c]) / float64(n)
	}
	return sum / float64(len(total))
}

// AccuracyScore is the fraction of correct predictions.
func AccuracyScore(yTrue, yPred []int) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	hit := 0
	for i, c := range yTrue {
		if yPred[i] == c {
			hit++
		}
	}
	return float64(hit) / float64(len(yTrue))
}

// Options controls CrossValidate.
type Options struct {
	Folds    int
	Scoring  string
	Parallel int
}

// Scores holds the per-fold test scores.
type Scores []float64

// Mean is the mean fold score.
func (s Scores) Mean() float64 { return stats.Mean(s) }

// Std is the population standard deviation of the fold scores.
func (s Scores) Std() float64 { return stats.Std(s) }

// CrossValidate fits p on every stratified training split of ds and scores
// it on the held-out split. Folds run concurrently on the fold pool; the
// first failing fold fails the whole validation.
func CrossValidate(ctx context.Context, p *pipeline.Pipeline, ds *dataset.Dataset, opts Options) (Scores, error) {
	if opts.Folds == 0 {
		opts.Folds = DefaultFolds
	}
	metric, err := MetricByName(opts.Scoring)
	if err != nil {
		return nil, err
	}
	folds, err := dataset.StratifiedKFold(ds.Y, opts.Folds)
	if err != nil {
		return nil, err
	}

	scores := make(Scores, len(folds))
	jobs := make([]runner.Job, len(folds))
	for i, f := range folds {
		jobs[i] = func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			xTrain, yTrain := ds.Subset(f.Train)
			xTest, yTest := ds.Subset(f.Test)
			m, err := p.Fit(xTrain, yTrain)
			if err != nil {
				return fmt.Errorf("fold %d: %w", i, err)
			}
			pred, err := m.Predict(xTest)
			if err != nil {
				return fmt.Errorf("fold %d: predicting: %w", i, err)
			}
			scores[i] = metric(yTest, pred)
			return nil
		}
	}
	if err := runner.RunPool(ctx, opts.Parallel, jobs); err != nil {
		return nil, err
	}
	return scores, nil
}

// Truncate drops x to four decimals the way floor division by 1e-4 does on
// IEEE doubles: the result is floor(x / 0.0001) / 10000 where the quotient is
// computed from the exact remainder, so values such as 1.0 truncate to 0.9999.
func Truncate(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	return floorDiv(x, 0.0001) / 10000
}

func floorDiv(a, b float64) float64 {
	mod := math.Mod(a, b)
	div := (a - mod) / b
	if mod != 0 && (b < 0) != (mod < 0) {
		div--
	}
	if div == 0 {
		return math.Copysign(0, a/b)
	}
	floor := math.Floor(div)
	if div-floor > 0.5 {
		floor++
	}
	return floor
}
