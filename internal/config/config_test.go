package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/autoprep/internal/config"
)

func TestLoadMinimal(t *testing.T) {
	cfg, err := config.Load("../../testdata/minimal.yaml")
	require.NoError(t, err)

	assert.Equal(t, "knn", cfg.Algorithm)
	assert.Equal(t, config.PolicyJoint, cfg.Policy)
	assert.Equal(t, time.Minute, cfg.Time, "default time budget")
	assert.Zero(t, cfg.MaxEvals)
	assert.Equal(t, 10, cfg.CV.Folds)
	assert.Equal(t, "balanced_accuracy", cfg.CV.Scoring)
	assert.Equal(t, config.IsolationNone, cfg.Isolation.Mode)
	assert.Equal(t, 1, cfg.Isolation.Attempts)
	assert.Equal(t, config.OptimizerBayes, cfg.Optimizer.Kind)
	assert.Len(t, cfg.Prototype, 4, "default prototype")
	assert.Equal(t, "results", cfg.Results.Dir)
}

func TestLoadFull(t *testing.T) {
	cfg, err := config.Load("../../testdata/full.yaml")
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Time)
	assert.Equal(t, config.Staged{Rounds: 3, StageTime: 5 * time.Second, StageEvals: 10}, cfg.Staged)
	assert.Equal(t, 10*time.Second, cfg.Isolation.Timeout)
	assert.Equal(t, 2, cfg.Isolation.Attempts)
	require.Len(t, cfg.Prototype, 2)
	assert.Equal(t, "normalize", cfg.Prototype[1].Name)
	assert.Equal(t, []string{"none", "standard_scaler", "min_max_scaler"}, cfg.Prototype[1].Operators)
	assert.Equal(t, "out/history.db", cfg.Results.SQLite)
	assert.EqualValues(t, 42, cfg.Seed)
}

func TestLoadMissing(t *testing.T) {
	_, err := config.Load("nonexistent.yaml")
	assert.Error(t, err)
}

func TestLoadInvalid(t *testing.T) {
	_, err := config.Load("../../testdata/invalid.yaml")
	assert.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no dataset", "algorithm: knn", "dataset.path"},
		{"no algorithm", "dataset: {path: d.csv}", "algorithm is required"},
		{"unknown algorithm", "dataset: {path: d.csv}\nalgorithm: svm", "unknown algorithm"},
		{"unknown policy", "dataset: {path: d.csv}\nalgorithm: nb\npolicy: greedy", "unknown policy"},
		{"unknown optimizer", "dataset: {path: d.csv}\nalgorithm: nb\noptimizer: {kind: anneal}", "unknown optimizer"},
		{"unknown acquisition", "dataset: {path: d.csv}\nalgorithm: nb\noptimizer: {acquisition: lcb}", "unknown acquisition"},
		{"unknown isolation", "dataset: {path: d.csv}\nalgorithm: nb\nisolation: {mode: vm}", "unknown isolation"},
		{"docker without image", "dataset: {path: d.csv}\nalgorithm: nb\nisolation: {mode: docker}", "isolation.image"},
		{"bad memory", "dataset: {path: d.csv}\nalgorithm: nb\nisolation: {mode: docker, image: x, memory: lots}", "isolation.memory"},
		{"negative cpus", "dataset: {path: d.csv}\nalgorithm: nb\nisolation: {mode: docker, image: x, cpus: -1}", "isolation.cpus"},
		{"bad folds", "dataset: {path: d.csv}\nalgorithm: nb\ncv: {folds: 1}", "cv.folds"},
		{"bad scoring", "dataset: {path: d.csv}\nalgorithm: nb\ncv: {scoring: f1}", "unknown scoring"},
		{"unknown operator", "dataset: {path: d.csv}\nalgorithm: nb\nprototype: [{operation: normalize, operators: [pca]}]", "unknown operator"},
		{"duplicate operation", "dataset: {path: d.csv}\nalgorithm: nb\nprototype: [{operation: a, operators: [none]}, {operation: a, operators: [none]}]", "duplicate operation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "autoprep.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o644))
			_, err := config.Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateDockerLimits(t *testing.T) {
	cfg := &config.Config{
		Dataset:   config.Dataset{Path: "d.csv"},
		Algorithm: "nb",
		Isolation: config.Isolation{Mode: config.IsolationDocker, Image: "autoprep", CPUs: 2, Memory: "2g", User: "1000:1000"},
	}
	require.NoError(t, config.Validate(cfg))
	assert.EqualValues(t, 2<<30, cfg.Isolation.MemoryBytes)
	assert.Equal(t, 2.0, cfg.Isolation.CPUs)
	assert.Equal(t, "1000:1000", cfg.Isolation.User)
}

func TestValidateStagedDefaults(t *testing.T) {
	cfg := &config.Config{
		Dataset:   config.Dataset{Path: "d.csv"},
		Algorithm: "nb",
		Policy:    config.PolicyStaged,
		MaxEvals:  10,
	}
	require.NoError(t, config.Validate(cfg))
	assert.Zero(t, cfg.Time, "max_evals alone should not set a time budget")
	assert.Equal(t, 2, cfg.Staged.Rounds)
	assert.Equal(t, 20, cfg.Staged.StageEvals)
}
