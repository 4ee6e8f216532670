package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/signalnine/autoprep/internal/history"
	"github.com/signalnine/autoprep/internal/result"
	"github.com/signalnine/autoprep/internal/stats"
)

const topN = 5

type StageSummary struct {
	Stage         history.Stage `json:"step"`
	Trials        int           `json:"trials"`
	Failures      int           `json:"failures"`
	Timeouts      int           `json:"timeouts"`
	MeanScore     float64       `json:"mean_score"`
	BestScore     float64       `json:"best_score"`
	BestIteration int           `json:"best_iteration"`
	MeanDurationS float64       `json:"mean_duration_s"`
}

// Report is the summary of one run.
type Report struct {
	Run    *result.RunMeta `json:"run,omitempty"`
	Stages []StageSummary  `json:"steps"`
	Best   *history.Trial  `json:"best,omitempty"`
	Top    []history.Trial `json:"top"`
}

// Generate reads run.json and history.jsonl from runDir and writes the
// report in format.
func Generate(runDir, format string, w io.Writer) error {
	meta, err := result.ReadRunMeta(runDir)
	if err != nil {
		return err
	}
	trials, err := result.ReadHistory(filepath.Join(runDir, result.HistoryFile))
	if err != nil {
		return err
	}
	return Write(Build(meta, trials), format, w)
}

// GenerateFromDB reports a run stored in the SQLite history database. An
// empty runID selects the most recent run.
func GenerateFromDB(ctx context.Context, dsn, runID, format string, w io.Writer) error {
	db, err := history.OpenSQLite(dsn, "")
	if err != nil {
		return err
	}
	defer db.Close()

	if runID == "" {
		runs, err := db.Runs(ctx)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			return fmt.Errorf("no runs in %s", dsn)
		}
		runID = runs[len(runs)-1]
	}
	trials, err := db.Trials(ctx, runID)
	if err != nil {
		return err
	}
	if len(trials) == 0 {
		return fmt.Errorf("run %q has no trials", runID)
	}
	return Write(Build(&result.RunMeta{ID: runID}, trials), format, w)
}

// Build aggregates trials per stage and picks the top configurations.
func Build(meta *result.RunMeta, trials []history.Trial) *Report {
	type accum struct {
		s         StageSummary
		scores    []float64
		durations []float64
	}
	byStage := map[history.Stage]*accum{}
	var best *history.Trial
	for i := range trials {
		t := trials[i]
		a, ok := byStage[t.Stage]
		if !ok {
			a = &accum{s: StageSummary{Stage: t.Stage, BestIteration: -1}}
			byStage[t.Stage] = a
		}
		a.s.Trials++
		a.durations = append(a.durations, t.Duration)
		if t.Status == history.StatusFail {
			a.s.Failures++
			if t.Failure == history.FailureTimeout {
				a.s.Timeouts++
			}
		} else {
			a.scores = append(a.scores, t.Score)
		}
		if a.s.BestIteration < 0 || t.Score > a.s.BestScore {
			a.s.BestScore, a.s.BestIteration = t.Score, t.Iteration
		}
		if best == nil || t.Score > best.Score {
			best = &trials[i]
		}
	}

	r := &Report{Run: meta, Best: best}
	for _, a := range byStage {
		a.s.MeanScore = stats.Mean(a.scores)
		a.s.MeanDurationS = stats.Mean(a.durations)
		r.Stages = append(r.Stages, a.s)
	}
	sort.Slice(r.Stages, func(i, j int) bool {
		return r.Stages[i].Stage < r.Stages[j].Stage
	})

	r.Top = append([]history.Trial(nil), trials...)
	sort.SliceStable(r.Top, func(i, j int) bool {
		return r.Top[i].Score > r.Top[j].Score
	})
	if len(r.Top) > topN {
		r.Top = r.Top[:topN]
	}
	return r
}

// Write renders r as table (default), markdown or json.
func Write(r *Report, format string, w io.Writer) error {
	switch format {
	case "markdown":
		return writeMarkdown(r, w)
	case "json":
		return writeJSON(r, w)
	case "", "table":
		return writeTable(r, w)
	}
	return fmt.Errorf("unknown report format %q", format)
}

func writeHeader(r *Report, w io.Writer) {
	if r.Run == nil {
		return
	}
	m := r.Run
	fmt.Fprintf(w, "Run %s", m.ID)
	if m.Dataset != "" {
		fmt.Fprintf(w, ": %s, %s, %s policy, seed %d", m.Dataset, m.Algorithm, m.Policy, m.Seed)
	}
	fmt.Fprintln(w)
	if m.ExitReason != "" {
		fmt.Fprintf(w, "Baseline: %.4f (%.4f)  exit: %s  duration: %.1fs\n",
			m.Baseline.Score, m.Baseline.Std, m.ExitReason, m.DurationS)
	}
}

func writeTable(r *Report, w io.Writer) error {
	writeHeader(r, w)
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tTRIALS\tFAILED\tTIMEOUTS\tMEAN SCORE\tBEST SCORE\tBEST ITER\tMEAN TIME")
	fmt.Fprintln(tw, strings.Repeat("-", 90))
	for _, s := range r.Stages {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.4f\t%.4f\t%d\t%.2fs\n",
			s.Stage, s.Trials, s.Failures, s.Timeouts, s.MeanScore, s.BestScore, s.BestIteration, s.MeanDurationS)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ITER\tSTEP\tSCORE\tSTD\tPIPELINE\tALGORITHM")
	for _, t := range r.Top {
		fmt.Fprintf(tw, "%d\t%s\t%.4f\t%.4f\t%s\t%s\n",
			t.Iteration, t.Stage, t.Score, t.ScoreStd, t.Pipeline, t.Algorithm)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if r.Best != nil {
		fmt.Fprintf(w, "\nBest: %s  iteration %d [%s]\n",
			color.New(color.FgGreen, color.Bold).Sprintf("%.4f (%.4f)", r.Best.Score, r.Best.ScoreStd),
			r.Best.Iteration, r.Best.Stage)
	}
	return nil
}

func writeMarkdown(r *Report, w io.Writer) error {
	writeHeader(r, w)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "| Step | Trials | Failed | Timeouts | Mean Score | Best Score | Best Iter | Mean Time |")
	fmt.Fprintln(w, "|---|---|---|---|---|---|---|---|")
	for _, s := range r.Stages {
		fmt.Fprintf(w, "| %s | %d | %d | %d | %.4f | %.4f | %d | %.2fs |\n",
			s.Stage, s.Trials, s.Failures, s.Timeouts, s.MeanScore, s.BestScore, s.BestIteration, s.MeanDurationS)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "| Iter | Step | Score | Std | Pipeline | Algorithm |")
	fmt.Fprintln(w, "|---|---|---|---|---|---|")
	for _, t := range r.Top {
		fmt.Fprintf(w, "| %d | %s | %.4f | %.4f | `%s` | `%s` |\n",
			t.Iteration, t.Stage, t.Score, t.ScoreStd, t.Pipeline, t.Algorithm)
	}
	return nil
}

func writeJSON(r *Report, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
