package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteSink persists trials of one or more runs into a SQLite database.
type SQLiteSink struct {
	db    *sql.DB
	runID string
}

// OpenSQLite opens (and migrates) the history database at dsn. The returned
// sink writes rows tagged with runID; runID may be empty for read-only use.
func OpenSQLite(dsn, runID string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}
	// Every connection to :memory: is a separate database.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	s := &SQLiteSink{db: db, runID: runID}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating history db: %w", err)
	}
	return s, nil
}

func (s *SQLiteSink) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS trials (
			run_id TEXT NOT NULL,
			iteration INTEGER NOT NULL,
			config_hash TEXT NOT NULL,
			pipeline_hash TEXT NOT NULL,
			algorithm_hash TEXT NOT NULL,
			step TEXT NOT NULL,
			pipeline TEXT NOT NULL,
			algorithm TEXT NOT NULL,
			start_time DATETIME NOT NULL,
			stop_time DATETIME NOT NULL,
			duration REAL NOT NULL,
			score REAL NOT NULL,
			score_std REAL NOT NULL,
			status TEXT NOT NULL,
			failure TEXT,
			error TEXT,
			loss REAL NOT NULL,
			max_history_score REAL NOT NULL,
			max_history_score_std REAL NOT NULL,
			max_history_step TEXT NOT NULL,
			PRIMARY KEY (run_id, iteration)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trials_hash ON trials(run_id, config_hash)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// Write inserts t under the sink's run id.
func (s *SQLiteSink) Write(ctx context.Context, t Trial) error {
	pipeline, err := json.Marshal(t.Pipeline)
	if err != nil {
		return fmt.Errorf("marshaling pipeline config: %w", err)
	}
	algorithm, err := json.Marshal(t.Algorithm)
	if err != nil {
		return fmt.Errorf("marshaling algorithm config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO trials (
			run_id, iteration, config_hash, pipeline_hash, algorithm_hash, step,
			pipeline, algorithm, start_time, stop_time, duration,
			score, score_std, status, failure, error, loss,
			max_history_score, max_history_score_std, max_history_step
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.runID, t.Iteration, t.Hash.Config, t.Hash.Pipeline, t.Hash.Algorithm, string(t.Stage),
		string(pipeline), string(algorithm), t.StartTime.UTC(), t.StopTime.UTC(), t.Duration,
		t.Score, t.ScoreStd, string(t.Status), t.Failure, t.Error, t.Loss,
		t.MaxHistoryScore, t.MaxHistoryScoreStd, string(t.MaxHistoryStage),
	)
	if err != nil {
		return fmt.Errorf("inserting trial %d: %w", t.Iteration, err)
	}
	return nil
}

// Runs lists the run ids stored in the database, oldest first.
func (s *SQLiteSink) Runs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id FROM trials GROUP BY run_id ORDER BY MIN(start_time)`)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Trials returns the history of runID in iteration order.
func (s *SQLiteSink) Trials(ctx context.Context, runID string) ([]Trial, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
			iteration, config_hash, pipeline_hash, algorithm_hash, step,
			pipeline, algorithm, start_time, stop_time, duration,
			score, score_std, status, failure, error, loss,
			max_history_score, max_history_score_std, max_history_step
		FROM trials WHERE run_id = ? ORDER BY iteration`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying trials: %w", err)
	}
	defer rows.Close()

	var out []Trial
	for rows.Next() {
		var (
			t                   Trial
			stage, status, best string
			pipeline, algorithm string
			failure, errMsg     sql.NullString
			start, stop         time.Time
		)
		if err := rows.Scan(
			&t.Iteration, &t.Hash.Config, &t.Hash.Pipeline, &t.Hash.Algorithm, &stage,
			&pipeline, &algorithm, &start, &stop, &t.Duration,
			&t.Score, &t.ScoreStd, &status, &failure, &errMsg, &t.Loss,
			&t.MaxHistoryScore, &t.MaxHistoryScoreStd, &best,
		); err != nil {
			return nil, fmt.Errorf("scanning trial: %w", err)
		}
		if err := json.Unmarshal([]byte(pipeline), &t.Pipeline); err != nil {
			return nil, fmt.Errorf("decoding pipeline of trial %d: %w", t.Iteration, err)
		}
		if err := json.Unmarshal([]byte(algorithm), &t.Algorithm); err != nil {
			return nil, fmt.Errorf("decoding algorithm of trial %d: %w", t.Iteration, err)
		}
		t.Stage, t.Status, t.MaxHistoryStage = Stage(stage), Status(status), Stage(best)
		t.Failure, t.Error = failure.String, errMsg.String
		t.StartTime, t.StopTime = start, stop
		out = append(out, t)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
