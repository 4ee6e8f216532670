package result

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/signalnine/autoprep/internal/history"
)

const (
	RunFile     = "run.json"
	HistoryFile = "history.jsonl"
	BestFile    = "best.json"
	LogFile     = "autoprep.log"
	RescoreFile = "rescore.json"
)

func CreateRunDir(baseDir string) (string, error) {
	runsDir := filepath.Join(baseDir, "runs")
	stamp := time.Now().UTC().Format("2006-01-02T15-04-05.000")
	runDir := filepath.Join(runsDir, stamp)
	runDir, err := filepath.Abs(runDir)
	if err != nil {
		return "", fmt.Errorf("resolving run dir: %w", err)
	}
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("creating run dir: %w", err)
	}
	latest := filepath.Join(baseDir, "latest")
	os.Remove(latest)
	if err := os.Symlink(runDir, latest); err != nil {
		return "", fmt.Errorf("creating latest symlink: %w", err)
	}
	return runDir, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return os.Rename(tmp, path)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return nil
}

func WriteRunMeta(runDir string, meta *RunMeta) error {
	return writeJSON(filepath.Join(runDir, RunFile), meta)
}

func ReadRunMeta(runDir string) (*RunMeta, error) {
	var meta RunMeta
	if err := readJSON(filepath.Join(runDir, RunFile), &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func WriteBest(runDir string, best *history.Trial) error {
	return writeJSON(filepath.Join(runDir, BestFile), best)
}

func ReadBest(runDir string) (*history.Trial, error) {
	var best history.Trial
	if err := readJSON(filepath.Join(runDir, BestFile), &best); err != nil {
		return nil, err
	}
	return &best, nil
}

// JSONLSink appends every trial as one JSON line. It implements
// history.Sink.
type JSONLSink struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

func OpenJSONL(path string) (*JSONLSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening history log: %w", err)
	}
	return &JSONLSink{f: f, enc: json.NewEncoder(f)}, nil
}

func (s *JSONLSink) Write(_ context.Context, t history.Trial) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(t); err != nil {
		return fmt.Errorf("writing trial %d: %w", t.Iteration, err)
	}
	return nil
}

func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// ReadHistory reads a history.jsonl file in iteration order.
func ReadHistory(path string) ([]history.Trial, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening history log: %w", err)
	}
	defer f.Close()

	var trials []history.Trial
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var t history.Trial
		if err := json.Unmarshal(sc.Bytes(), &t); err != nil {
			return nil, fmt.Errorf("parsing history line %d: %w", line, err)
		}
		trials = append(trials, t)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading history log: %w", err)
	}
	return trials, nil
}

func WriteRescores(runDir string, rs []Rescore) error {
	return writeJSON(filepath.Join(runDir, RescoreFile), rs)
}

func ReadRescores(runDir string) ([]Rescore, error) {
	var rs []Rescore
	if err := readJSON(filepath.Join(runDir, RescoreFile), &rs); err != nil {
		return nil, err
	}
	return rs, nil
}
