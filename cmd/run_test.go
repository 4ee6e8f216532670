package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/autoprep/internal/config"
	"github.com/signalnine/autoprep/internal/history"
	"github.com/signalnine/autoprep/internal/isolate"
	"github.com/signalnine/autoprep/internal/objective"
	"github.com/signalnine/autoprep/internal/pipeline"
	"github.com/signalnine/autoprep/internal/policy"
	"github.com/signalnine/autoprep/internal/result"
)

func writeConfig(t *testing.T, extra string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	data, err := filepath.Abs("../testdata/flowers.csv")
	require.NoError(t, err)
	results := filepath.Join(dir, "results")
	yaml := fmt.Sprintf(`dataset:
  path: %s
  label: species
algorithm: knn
seed: 1
max_evals: 5
optimizer:
  kind: grid
cv:
  folds: 3
results:
  dir: %s
  sqlite: %s
%s`, data, results, filepath.Join(dir, "history.db"), extra)
	path := filepath.Join(dir, "autoprep.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path, results
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	color.NoColor = true
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := root.Execute()
	return out.String(), err
}

func latestRun(t *testing.T, results string) string {
	t.Helper()
	runDir, err := filepath.EvalSymlinks(filepath.Join(results, "latest"))
	require.NoError(t, err, "resolving latest")
	return runDir
}

func TestApplyOverrides(t *testing.T) {
	cfgPath, _ := writeConfig(t, "")
	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	cmd := newRunCmd()
	for flag, v := range map[string]string{
		"time":      "2m",
		"seed":      "9",
		"algorithm": "dtree",
		"policy":    "staged",
		"max-evals": "12",
		"optimizer": "random",
	} {
		require.NoError(t, cmd.Flags().Set(flag, v), "--%s", flag)
	}
	require.NoError(t, applyOverrides(cmd, cfg))

	assert.Equal(t, 2*time.Minute, cfg.Time)
	assert.EqualValues(t, 9, cfg.Seed)
	assert.Equal(t, "dtree", cfg.Algorithm)
	assert.Equal(t, config.PolicyStaged, cfg.Policy)
	assert.Equal(t, 12, cfg.MaxEvals)
	assert.Equal(t, "random", cfg.Optimizer.Kind)
	assert.Equal(t, 2, cfg.Staged.Rounds, "staged defaults filled after override")
}

func TestApplyOverridesRejectsUnknownAlgorithm(t *testing.T) {
	cfgPath, _ := writeConfig(t, "")
	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	cmd := newRunCmd()
	require.NoError(t, cmd.Flags().Set("algorithm", "svm"))
	assert.Error(t, applyOverrides(cmd, cfg))
}

func TestNewPolicy(t *testing.T) {
	cfg := &config.Config{Policy: config.PolicyJoint, Algorithm: "nb", Prototype: pipeline.DefaultPrototype()}
	assert.IsType(t, &policy.Joint{}, newPolicy(cfg, nil))

	cfg.Policy = config.PolicyStaged
	cfg.Staged = config.Staged{Rounds: 4, StageEvals: 7}
	s, ok := newPolicy(cfg, nil).(*policy.Staged)
	require.True(t, ok, "staged policy: got %T", newPolicy(cfg, nil))
	assert.Equal(t, 4, s.Rounds)
	assert.Equal(t, 7, s.StageBudget.MaxEvals)
	assert.Equal(t, 3, s.AlgorithmSpace.Size())
}

func TestNewScorerProcessUsesWorkerCommand(t *testing.T) {
	cfg := &config.Config{
		Dataset:   config.Dataset{Path: "../testdata/flowers.csv"},
		Algorithm: "knn",
		Isolation: config.Isolation{Mode: config.IsolationProcess, Binary: "/usr/local/bin/autoprep", Attempts: 2, Timeout: time.Second},
	}
	sc, err := newScorer(cfg, nil, nil)
	require.NoError(t, err)
	is, ok := sc.(*objective.IsolatedScorer)
	require.True(t, ok, "got %T", sc)
	assert.Equal(t, &isolate.ExecSpawner{Path: "/usr/local/bin/autoprep", Args: []string{"worker"}}, is.Executor.Spawner)
	assert.Equal(t, 2, is.Executor.MaxAttempts)
	assert.Equal(t, time.Second, is.Executor.Timeout)
}

func TestNewScorerDockerPassesLimitsAndUser(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		wantUser string
	}{
		{"host user by default", "", fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid())},
		{"configured user", "1000:1000", "1000:1000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{
				Dataset:   config.Dataset{Path: "../testdata/flowers.csv", Label: "species"},
				Algorithm: "knn",
				Isolation: config.Isolation{Mode: config.IsolationDocker, Image: "autoprep:test", CPUs: 1.5, Memory: "512m", User: tt.user},
			}
			require.NoError(t, config.Validate(cfg))
			sc, err := newScorer(cfg, nil, nil)
			require.NoError(t, err)
			is, ok := sc.(*objective.IsolatedScorer)
			require.True(t, ok, "got %T", sc)
			ds, ok := is.Executor.Spawner.(*isolate.DockerSpawner)
			require.True(t, ok, "spawner: got %T", is.Executor.Spawner)

			assert.Equal(t, "autoprep:test", ds.Image)
			assert.Equal(t, 1.5, ds.CPULimit)
			assert.EqualValues(t, 512*1024*1024, ds.MemoryLimit)
			assert.Equal(t, tt.wantUser, ds.UserID)
			require.Len(t, ds.Mounts, 1)
			assert.Equal(t, dataMount, ds.Mounts[0].Target)
			assert.True(t, ds.Mounts[0].ReadOnly)
			assert.Equal(t, dataMount+"/flowers.csv", is.Args.Dataset)
		})
	}
}

func TestTopTrials(t *testing.T) {
	trials := []history.Trial{
		{Iteration: 0, Score: 0.5, Status: history.StatusOK},
		{Iteration: 1, Score: 0, Status: history.StatusFail},
		{Iteration: 2, Score: 0.9, Status: history.StatusOK},
		{Iteration: 3, Score: 0.7, Status: history.StatusOK},
	}
	got := topTrials(trials, 2)
	require.Len(t, got, 2)
	assert.Equal(t, 2, got[0].Iteration)
	assert.Equal(t, 3, got[1].Iteration)
	assert.Len(t, topTrials(trials, 0), 3, "zero means every successful trial")
}

func TestWriteCatalog(t *testing.T) {
	var buf bytes.Buffer
	writeCatalog(&buf, pipeline.DefaultPrototype(), "knn", false)
	out := buf.String()
	for _, want := range []string{
		"simple_imputer (strategy: mean|median|most_frequent)",
		"knn (n_neighbors: 1|3|5|7|9; weights: uniform|distance; p: 1|2) [20 configurations]",
		"Pipeline space: 1440 configurations",
		"Joint space: 28800 configurations",
	} {
		assert.Contains(t, out, want)
	}
}

func TestListGrid(t *testing.T) {
	cfgPath, _ := writeConfig(t, `prototype:
  - operation: normalize
    operators: [none, min_max_scaler]
`)
	out, err := execute(t, "--config", cfgPath, "list", "--grid")
	require.NoError(t, err)
	for _, want := range []string{"Pipeline space: 2 configurations", "  normalize=none\n", "  normalize=min_max_scaler\n"} {
		assert.Contains(t, out, want)
	}
}

func TestRunEndToEnd(t *testing.T) {
	cfgPath, results := writeConfig(t, "")
	out, err := execute(t, "--config", cfgPath, "run")
	require.NoError(t, err, out)
	for _, want := range []string{"Run directory:", "Baseline score:", "Best score:", "--- Results ---"} {
		assert.Contains(t, out, want)
	}

	runDir := latestRun(t, results)
	meta, err := result.ReadRunMeta(runDir)
	require.NoError(t, err)
	assert.Equal(t, result.ExitCompleted, meta.ExitReason)
	assert.Equal(t, 5, meta.Trials)
	assert.NotNil(t, meta.Best)

	trials, err := result.ReadHistory(filepath.Join(runDir, result.HistoryFile))
	require.NoError(t, err)
	require.Len(t, trials, 5)
	best, err := result.ReadBest(runDir)
	require.NoError(t, err)
	assert.Equal(t, trials[len(trials)-1].MaxHistoryScore, best.Score, "best.json agrees with the history")
	assert.FileExists(t, filepath.Join(runDir, result.LogFile))

	out, err = execute(t, "--config", cfgPath, "report", "--format", "json")
	require.NoError(t, err)
	var rep struct {
		Run struct {
			ID string `json:"id"`
		} `json:"run"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rep), out)
	assert.Equal(t, meta.ID, rep.Run.ID)

	out, err = execute(t, "report", "--db", filepath.Join(filepath.Dir(cfgPath), "history.db"), "--format", "markdown")
	require.NoError(t, err)
	assert.Contains(t, out, "| joint | 5 |")

	out, err = execute(t, "rescore", runDir, "--top", "2")
	require.NoError(t, err, out)
	rescores, err := result.ReadRescores(runDir)
	require.NoError(t, err)
	require.Len(t, rescores, 2)
	assert.EqualValues(t, 2, rescores[0].Seed, "run seed + 1")
	assert.Equal(t, 3, rescores[0].Folds)
	for _, r := range rescores {
		assert.Empty(t, r.Error, "rescore of iteration %d", r.Iteration)
	}
}

func TestRunStagedPolicy(t *testing.T) {
	cfgPath, results := writeConfig(t, `policy: staged
staged:
  rounds: 1
  stage_evals: 2
prototype:
  - operation: normalize
    operators: [none, standard_scaler]
`)
	out, err := execute(t, "--config", cfgPath, "run", "--max-evals", "0", "--time", "1m")
	require.NoError(t, err, out)

	trials, err := result.ReadHistory(filepath.Join(latestRun(t, results), result.HistoryFile))
	require.NoError(t, err)
	require.NotEmpty(t, trials)
	stages := map[history.Stage]int{}
	for _, tr := range trials {
		stages[tr.Stage]++
	}
	assert.Equal(t, 2, stages[history.StagePipeline])
	assert.NotZero(t, stages[history.StageAlgorithm])
	assert.Contains(t, trials[0].Pipeline, "normalize")
}
