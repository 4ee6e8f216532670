package history

import (
	"time"

	"github.com/signalnine/autoprep/internal/confighash"
	"github.com/signalnine/autoprep/internal/space"
)

// Stage is the part of the configuration a trial was optimizing.
type Stage string

const (
	StagePipeline  Stage = "pipeline"
	StageAlgorithm Stage = "algorithm"
	StageJoint     Stage = "joint"
)

// Initial returns the upper-case first letter used in progress lines.
func (s Stage) Initial() string {
	if s == "" {
		return "-"
	}
	return string(s[0] - 'a' + 'A')
}

// Status is the outcome of a trial.
type Status string

const (
	StatusOK   Status = "ok"
	StatusFail Status = "fail"
)

const (
	FailureError   = "error"
	FailureTimeout = "timeout"
)

// Trial is one row of the evaluation history.
type Trial struct {
	Hash      confighash.Key `json:"config_hash"`
	Pipeline  space.Config   `json:"pipeline"`
	Algorithm space.Config   `json:"algorithm"`
	Stage     Stage          `json:"step"`

	StartTime time.Time `json:"start_time"`
	StopTime  time.Time `json:"stop_time"`
	Duration  float64   `json:"duration"`

	Score    float64 `json:"score"`
	ScoreStd float64 `json:"score_std"`
	Status   Status  `json:"status"`
	Failure  string  `json:"failure,omitempty"`
	Error    string  `json:"error,omitempty"`
	Loss     float64 `json:"loss"`

	Iteration int `json:"iteration"`

	MaxHistoryScore    float64 `json:"max_history_score"`
	MaxHistoryScoreStd float64 `json:"max_history_score_std"`
	MaxHistoryStage    Stage   `json:"max_history_step"`
}
