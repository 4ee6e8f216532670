package report_test

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/autoprep/internal/confighash"
	"github.com/signalnine/autoprep/internal/history"
	"github.com/signalnine/autoprep/internal/report"
	"github.com/signalnine/autoprep/internal/result"
	"github.com/signalnine/autoprep/internal/space"
)

func fixture() []history.Trial {
	mk := func(i int, stage history.Stage, score float64, failure string) history.Trial {
		t := history.Trial{
			Hash:      confighash.Key{Config: string(rune('a' + i))},
			Pipeline:  space.Config{"normalize": {Operator: "min_max_scaler"}},
			Algorithm: space.Algorithm("nb", map[string]any{"var_smoothing": 1e-9}),
			Stage:     stage,
			StartTime: time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC),
			StopTime:  time.Date(2026, 1, 1, 0, 0, i+1, 0, time.UTC),
			Duration:  1,
			Score:     score,
			Status:    history.StatusOK,
			Loss:      1 - score,
			Iteration: i,
		}
		if failure != "" {
			t.Status, t.Failure = history.StatusFail, failure
		}
		return t
	}
	return []history.Trial{
		mk(0, history.StagePipeline, 0.6, ""),
		mk(1, history.StagePipeline, 0.8, ""),
		mk(2, history.StagePipeline, 0, history.FailureError),
		mk(3, history.StageAlgorithm, 0.9, ""),
		mk(4, history.StageAlgorithm, 0, history.FailureTimeout),
	}
}

func writeRun(t *testing.T) string {
	t.Helper()
	runDir := t.TempDir()
	trials := fixture()
	meta := &result.RunMeta{ID: "run-7", Dataset: "flowers.csv", Algorithm: "nb", Policy: "staged", ExitReason: result.ExitCompleted}
	meta.Summarize(trials, &trials[3])
	require.NoError(t, result.WriteRunMeta(runDir, meta))
	sink, err := result.OpenJSONL(filepath.Join(runDir, result.HistoryFile))
	require.NoError(t, err)
	defer sink.Close()
	for _, tr := range trials {
		require.NoError(t, sink.Write(context.Background(), tr))
	}
	return runDir
}

func TestBuildAggregatesPerStage(t *testing.T) {
	r := report.Build(nil, fixture())
	require.Len(t, r.Stages, 2)
	alg, pipe := r.Stages[0], r.Stages[1]
	require.Equal(t, history.StageAlgorithm, alg.Stage)
	require.Equal(t, history.StagePipeline, pipe.Stage)

	assert.Equal(t, 3, pipe.Trials)
	assert.Equal(t, 1, pipe.Failures)
	assert.Zero(t, pipe.Timeouts)
	assert.InDelta(t, 0.7, pipe.MeanScore, 1e-9)
	assert.Equal(t, 1, pipe.BestIteration)
	assert.Equal(t, 3, alg.BestIteration)
	assert.Equal(t, 1, alg.Timeouts)

	require.NotNil(t, r.Best)
	assert.Equal(t, 3, r.Best.Iteration)
	require.Len(t, r.Top, 5)
	assert.Equal(t, 3, r.Top[0].Iteration)
	assert.Equal(t, 1, r.Top[1].Iteration)
}

func TestGenerateFormats(t *testing.T) {
	color.NoColor = true
	runDir := writeRun(t)

	tests := []struct {
		format string
		want   []string
	}{
		{"table", []string{"Run run-7", "STEP", "pipeline", "algorithm", "Best: 0.9000 (0.0000)  iteration 3 [algorithm]"}},
		{"markdown", []string{"| Step | Trials |", "| pipeline | 3 | 1 | 0 |", "`normalize=min_max_scaler`"}},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, report.Generate(runDir, tt.format, &buf))
			for _, w := range tt.want {
				assert.Contains(t, buf.String(), w)
			}
		})
	}
}

func TestGenerateJSON(t *testing.T) {
	runDir := writeRun(t)
	var buf bytes.Buffer
	require.NoError(t, report.Generate(runDir, "json", &buf))
	var r report.Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &r))
	require.NotNil(t, r.Run)
	assert.Equal(t, "run-7", r.Run.ID)
	assert.Equal(t, 2, r.Run.Failures)
	assert.Len(t, r.Stages, 2)
}

func TestGenerateUnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, report.Generate(writeRun(t), "html", &buf))
}

func TestGenerateMissingRun(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, report.Generate(t.TempDir(), "table", &buf))
}

func TestGenerateFromDB(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "history.db")
	sink, err := history.OpenSQLite(dsn, "run-db")
	require.NoError(t, err)
	for _, tr := range fixture() {
		require.NoError(t, sink.Write(context.Background(), tr))
	}
	sink.Close()

	var buf bytes.Buffer
	require.NoError(t, report.GenerateFromDB(context.Background(), dsn, "", "json", &buf))
	var r report.Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &r))
	require.NotNil(t, r.Run)
	assert.Equal(t, "run-db", r.Run.ID)
	require.NotNil(t, r.Best)
	assert.Equal(t, 0.9, r.Best.Score)

	assert.Error(t, report.GenerateFromDB(context.Background(), dsn, "missing", "table", &buf), "unknown run")
}
