package config

import (
	"fmt"
	"os"
	"time"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"

	"github.com/signalnine/autoprep/internal/pipeline"
	"github.com/signalnine/autoprep/internal/scoring"
	"github.com/signalnine/autoprep/internal/space"
)

// Policy names.
const (
	PolicyJoint  = "joint"
	PolicyStaged = "staged"
)

// Isolation modes.
const (
	IsolationNone    = "none"
	IsolationProcess = "process"
	IsolationDocker  = "docker"
)

// Optimizer kinds.
const (
	OptimizerGrid   = "grid"
	OptimizerRandom = "random"
	OptimizerBayes  = "bayes"
)

type Config struct {
	Dataset   Dataset         `yaml:"dataset"`
	Algorithm string          `yaml:"algorithm"`
	Seed      int64           `yaml:"seed"`
	Time      time.Duration   `yaml:"time"`
	MaxEvals  int             `yaml:"max_evals"`
	Policy    string          `yaml:"policy"`
	Optimizer Optimizer       `yaml:"optimizer"`
	Staged    Staged          `yaml:"staged"`
	CV        CV              `yaml:"cv"`
	Isolation Isolation       `yaml:"isolation"`
	Prototype space.Prototype `yaml:"prototype"`
	Results   Results         `yaml:"results"`
}

type Dataset struct {
	Path  string `yaml:"path"`
	Label string `yaml:"label"`
}

type Optimizer struct {
	Kind           string  `yaml:"kind"`
	InitialSamples int     `yaml:"initial_samples"`
	Candidates     int     `yaml:"candidates"`
	Acquisition    string  `yaml:"acquisition"`
	Beta           float64 `yaml:"beta"`
}

// Staged configures the alternating pipeline/algorithm search. Each stage
// stops after StageTime or StageEvals, whichever comes first; zero disables
// that limit.
type Staged struct {
	Rounds     int           `yaml:"rounds"`
	StageTime  time.Duration `yaml:"stage_time"`
	StageEvals int           `yaml:"stage_evals"`
}

type CV struct {
	Folds    int    `yaml:"folds"`
	Scoring  string `yaml:"scoring"`
	Parallel int    `yaml:"parallel"`
}

type Isolation struct {
	Mode     string        `yaml:"mode"`
	Timeout  time.Duration `yaml:"timeout"`
	Attempts int           `yaml:"attempts"`
	Image    string        `yaml:"image"`
	Binary   string        `yaml:"binary"`

	// Docker resource limits and user. Memory takes a size such as "512m"
	// or "2g"; User defaults to the host uid:gid.
	CPUs        float64 `yaml:"cpus"`
	Memory      string  `yaml:"memory"`
	User        string  `yaml:"user"`
	MemoryBytes int64   `yaml:"-"`
}

type Results struct {
	Dir    string `yaml:"dir"`
	SQLite string `yaml:"sqlite"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate fills defaults and rejects unusable settings. It is run by Load
// and again by callers that override fields after loading.
func Validate(cfg *Config) error {
	if cfg.Dataset.Path == "" {
		return fmt.Errorf("dataset.path is required")
	}
	if cfg.Algorithm == "" {
		return fmt.Errorf("algorithm is required")
	}
	if !pipeline.IsAlgorithm(cfg.Algorithm) {
		return fmt.Errorf("unknown algorithm %q (have %v)", cfg.Algorithm, pipeline.Algorithms())
	}
	if cfg.Time < 0 {
		return fmt.Errorf("time must not be negative")
	}
	if cfg.MaxEvals < 0 {
		return fmt.Errorf("max_evals must not be negative")
	}
	if cfg.Time == 0 && cfg.MaxEvals == 0 {
		cfg.Time = time.Minute
	}

	switch cfg.Policy {
	case "":
		cfg.Policy = PolicyJoint
	case PolicyJoint, PolicyStaged:
	default:
		return fmt.Errorf("unknown policy %q", cfg.Policy)
	}

	switch cfg.Optimizer.Kind {
	case "":
		cfg.Optimizer.Kind = OptimizerBayes
	case OptimizerGrid, OptimizerRandom, OptimizerBayes:
	default:
		return fmt.Errorf("unknown optimizer %q", cfg.Optimizer.Kind)
	}
	if cfg.Optimizer.InitialSamples == 0 {
		cfg.Optimizer.InitialSamples = 10
	}
	if cfg.Optimizer.Candidates == 0 {
		cfg.Optimizer.Candidates = 100
	}
	switch cfg.Optimizer.Acquisition {
	case "":
		cfg.Optimizer.Acquisition = "ei"
	case "ucb", "pi", "ei", "thompson":
	default:
		return fmt.Errorf("unknown acquisition %q", cfg.Optimizer.Acquisition)
	}
	if cfg.Optimizer.Beta == 0 {
		cfg.Optimizer.Beta = 2
	}

	if cfg.Policy == PolicyStaged {
		if cfg.Staged.Rounds == 0 {
			cfg.Staged.Rounds = 2
		}
		if cfg.Staged.StageTime == 0 && cfg.Staged.StageEvals == 0 {
			cfg.Staged.StageEvals = 20
		}
	}

	if cfg.CV.Folds == 0 {
		cfg.CV.Folds = scoring.DefaultFolds
	}
	if cfg.CV.Folds < 2 {
		return fmt.Errorf("cv.folds must be at least 2")
	}
	if cfg.CV.Scoring == "" {
		cfg.CV.Scoring = scoring.BalancedAccuracy
	}
	if _, err := scoring.MetricByName(cfg.CV.Scoring); err != nil {
		return fmt.Errorf("cv: %w", err)
	}

	switch cfg.Isolation.Mode {
	case "":
		cfg.Isolation.Mode = IsolationNone
	case IsolationNone, IsolationProcess:
	case IsolationDocker:
		if cfg.Isolation.Image == "" {
			return fmt.Errorf("isolation.image is required for docker isolation")
		}
	default:
		return fmt.Errorf("unknown isolation mode %q", cfg.Isolation.Mode)
	}
	if cfg.Isolation.Attempts == 0 {
		cfg.Isolation.Attempts = 1
	}
	if cfg.Isolation.Attempts < 0 || cfg.Isolation.Timeout < 0 {
		return fmt.Errorf("isolation attempts and timeout must not be negative")
	}
	if cfg.Isolation.CPUs < 0 {
		return fmt.Errorf("isolation.cpus must not be negative")
	}
	cfg.Isolation.MemoryBytes = 0
	if cfg.Isolation.Memory != "" {
		n, err := units.RAMInBytes(cfg.Isolation.Memory)
		if err != nil {
			return fmt.Errorf("isolation.memory: %w", err)
		}
		cfg.Isolation.MemoryBytes = n
	}

	if len(cfg.Prototype) == 0 {
		cfg.Prototype = pipeline.DefaultPrototype()
	}
	seen := map[string]bool{}
	for i, op := range cfg.Prototype {
		if op.Name == "" {
			return fmt.Errorf("prototype %d: operation is required", i)
		}
		if seen[op.Name] {
			return fmt.Errorf("prototype: duplicate operation %q", op.Name)
		}
		seen[op.Name] = true
		if len(op.Operators) == 0 {
			return fmt.Errorf("prototype %q: no operators", op.Name)
		}
		for _, o := range op.Operators {
			if o != "" && o != space.None && !pipeline.IsOperator(o) {
				return fmt.Errorf("prototype %q: unknown operator %q", op.Name, o)
			}
		}
	}

	if cfg.Results.Dir == "" {
		cfg.Results.Dir = "results"
	}
	return nil
}
