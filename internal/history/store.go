// Package history keeps the append-only evaluation history of a run, the
// hash index used for memoization and the running best trial.
package history

import (
	"context"
	"math"
	"sync"
)

// Sink receives every trial appended to a Store, in iteration order.
type Sink interface {
	Write(ctx context.Context, t Trial) error
}

// Store is the evaluation history of one run. Records are never mutated or
// reordered once appended. Store is safe for concurrent use, although a run
// only ever appends from its coordinating goroutine.
type Store struct {
	mu     sync.RWMutex
	trials []Trial
	index  map[string]int

	bestScore float64
	bestStd   float64
	bestStage Stage
	best      int
}

// NewStore returns an empty history whose best score is -Inf, so the first
// appended trial always becomes best.
func NewStore() *Store {
	return &Store{
		index:     make(map[string]int),
		bestScore: math.Inf(-1),
		best:      -1,
	}
}

// Lookup returns the trial recorded for a combined config hash.
func (s *Store) Lookup(hash string) (*Trial, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[hash]
	if !ok {
		return nil, false
	}
	t := s.trials[i]
	return &t, true
}

// Append assigns the next iteration number to t, updates the running best if
// t scores strictly higher, stamps the best-so-far snapshot into t and stores
// it. It returns the stored record.
func (s *Store) Append(t Trial) Trial {
	s.mu.Lock()
	defer s.mu.Unlock()

	t.Iteration = len(s.trials)
	if t.Score > s.bestScore {
		s.bestScore = t.Score
		s.bestStd = t.ScoreStd
		s.bestStage = t.Stage
		s.best = t.Iteration
	}
	t.MaxHistoryScore = s.bestScore
	t.MaxHistoryScoreStd = s.bestStd
	t.MaxHistoryStage = s.bestStage

	s.trials = append(s.trials, t)
	s.index[t.Hash.Config] = t.Iteration
	return t
}

// Best returns the highest-scoring trial so far.
func (s *Store) Best() (*Trial, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.best < 0 {
		return nil, false
	}
	t := s.trials[s.best]
	return &t, true
}

// BestScore returns the running best score, -Inf when the history is empty.
func (s *Store) BestScore() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bestScore
}

// Len returns the number of recorded trials.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.trials)
}

// Trials returns a copy of the history in iteration order.
func (s *Store) Trials() []Trial {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Trial, len(s.trials))
	copy(out, s.trials)
	return out
}
