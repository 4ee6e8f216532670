package result

import (
	"time"

	"github.com/signalnine/autoprep/internal/history"
	"github.com/signalnine/autoprep/internal/space"
)

// RunMeta is written to run.json when a run starts and rewritten when it
// ends.
type RunMeta struct {
	ID          string          `json:"id"`
	Dataset     string          `json:"dataset"`
	Label       string          `json:"label,omitempty"`
	Algorithm   string          `json:"algorithm"`
	Policy      string          `json:"policy"`
	Optimizer   string          `json:"optimizer"`
	Isolation   string          `json:"isolation"`
	Seed        int64           `json:"seed"`
	TimeBudgetS float64         `json:"time_budget_s"`
	MaxEvals    int             `json:"max_evals,omitempty"`
	Folds       int             `json:"folds"`
	Scoring     string          `json:"scoring"`
	Prototype   space.Prototype `json:"prototype"`
	StartTime   time.Time       `json:"start_time"`
	StopTime    time.Time       `json:"stop_time,omitzero"`
	DurationS   float64         `json:"duration_s"`
	Trials      int             `json:"trials"`
	Failures    int             `json:"failures"`
	Timeouts    int             `json:"timeouts"`
	Baseline    Score           `json:"baseline"`
	Best        *history.Trial  `json:"best,omitempty"`
	ExitReason  string          `json:"exit_reason"`
}

// Rescore is a configuration of a finished run scored again with a
// different seed and fold count.
type Rescore struct {
	Iteration int    `json:"iteration"`
	Hash      string `json:"config_hash"`
	Original  Score  `json:"original"`
	Rescored  Score  `json:"rescored"`
	Seed      int64  `json:"seed"`
	Folds     int    `json:"folds"`
	Error     string `json:"error,omitempty"`
}

// Score is a cross-validated mean and standard deviation.
type Score struct {
	Score float64 `json:"score"`
	Std   float64 `json:"std"`
}

const (
	ExitCompleted   = "completed"
	ExitInterrupted = "interrupted"
	ExitFailed      = "failed"
)

// Summarize fills the trial counters and best record of m from a history.
func (m *RunMeta) Summarize(trials []history.Trial, best *history.Trial) {
	m.Trials = len(trials)
	m.Failures, m.Timeouts = 0, 0
	for _, t := range trials {
		if t.Status != history.StatusFail {
			continue
		}
		m.Failures++
		if t.Failure == history.FailureTimeout {
			m.Timeouts++
		}
	}
	m.Best = best
}
