package cmd

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/signalnine/autoprep/internal/dataset"
	"github.com/signalnine/autoprep/internal/history"
	"github.com/signalnine/autoprep/internal/objective"
	"github.com/signalnine/autoprep/internal/result"
	"github.com/signalnine/autoprep/internal/scoring"
)

func newRescoreCmd() *cobra.Command {
	var (
		top   int
		folds int
		seed  int64
	)
	cmd := &cobra.Command{
		Use:   "rescore [run-dir]",
		Short: "Score the best configurations of a run again",
		Long:  "Re-run cross-validation for the top configurations of a finished run with a different seed and fold count, and write the results to rescore.json in the run directory.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}
			runDir := args[0]
			meta, err := result.ReadRunMeta(runDir)
			if err != nil {
				return err
			}
			trials, err := result.ReadHistory(filepath.Join(runDir, result.HistoryFile))
			if err != nil {
				return err
			}
			candidates := topTrials(trials, top)
			if len(candidates) == 0 {
				return fmt.Errorf("no successful trials in %s", runDir)
			}

			ds, err := dataset.LoadCSV(meta.Dataset, meta.Label)
			if err != nil {
				return fmt.Errorf("loading dataset: %w", err)
			}
			if folds == 0 {
				folds = meta.Folds
			}
			if !cmd.Flags().Changed("seed") {
				seed = meta.Seed + 1
			}
			scorer := &objective.LocalScorer{
				Data:      ds,
				Prototype: meta.Prototype,
				Algorithm: meta.Algorithm,
				Seed:      seed,
				CV:        scoring.Options{Folds: folds, Scoring: meta.Scoring},
			}

			out := cmd.OutOrStdout()
			var rescores []result.Rescore
			for _, t := range candidates {
				fmt.Fprintf(out, "Scoring iteration %d...\n", t.Iteration)
				r := result.Rescore{
					Iteration: t.Iteration,
					Hash:      t.Hash.Config,
					Original:  result.Score{Score: t.Score, Std: t.ScoreStd},
					Seed:      seed,
					Folds:     folds,
				}
				sc, err := scorer.Score(cmd.Context(), t.Pipeline, t.Algorithm)
				if err != nil {
					logger.Warn("rescoring failed", "trial.iteration", t.Iteration, "error", err)
					r.Error = err.Error()
				} else {
					r.Rescored = result.Score{Score: scoring.Truncate(sc.Mean), Std: scoring.Truncate(sc.Std)}
				}
				rescores = append(rescores, r)
			}
			if err := result.WriteRescores(runDir, rescores); err != nil {
				return err
			}
			return writeRescores(out, rescores)
		},
	}
	cmd.Flags().IntVar(&top, "top", 3, "number of best configurations to rescore")
	cmd.Flags().IntVar(&folds, "folds", 0, "cross-validation folds (default: the run's)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "seed (default: the run's seed + 1)")
	return cmd
}

// topTrials returns the n highest-scoring successful trials, best first.
func topTrials(trials []history.Trial, n int) []history.Trial {
	var ok []history.Trial
	for _, t := range trials {
		if t.Status == history.StatusOK {
			ok = append(ok, t)
		}
	}
	sort.SliceStable(ok, func(i, j int) bool { return ok[i].Score > ok[j].Score })
	if n > 0 && len(ok) > n {
		ok = ok[:n]
	}
	return ok
}

func writeRescores(w io.Writer, rs []result.Rescore) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ITER\tORIGINAL → RESCORED\tSTD\tDELTA")
	for _, r := range rs {
		if r.Error != "" {
			fmt.Fprintf(tw, "%d\t%.4f → failed\t-\t%s\n", r.Iteration, r.Original.Score, r.Error)
			continue
		}
		fmt.Fprintf(tw, "%d\t%.4f → %.4f\t%.4f\t%+.4f\n",
			r.Iteration, r.Original.Score, r.Rescored.Score, r.Rescored.Std, r.Rescored.Score-r.Original.Score)
	}
	return tw.Flush()
}
