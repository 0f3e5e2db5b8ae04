// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package history provides the SQLite-backed run-history ledger.
//
// The ledger records each workflow run and step execution for later
// inspection. It is write-behind and best-effort: the runner logs and drops
// ledger failures, and resume logic never consults it — the JSON state files
// stay the single source of truth for resumability.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed storage for run history.
type Store struct {
	db *sql.DB
}

// Run is one recorded workflow run.
type Run struct {
	ID         string
	Template   string
	Status     string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// StepRun is one recorded step execution within a run.
type StepRun struct {
	RunID        string
	StepIndex    int
	AgentID      string
	MonitoringID int64
	SessionID    string
	Status       string
	StartedAt    time.Time
	FinishedAt   *time.Time
	TokensIn     int64
	TokensOut    int64
}

// Open opens (and migrates) the ledger database at path. Special value
// ":memory:" creates an in-memory database for tests.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history database path is required")
	}

	// WAL mode keeps concurrent reads cheap while the runner writes.
	connStr := path
	if path != ":memory:" {
		connStr += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to history database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run history migrations: %w", err)
	}

	return s, nil
}

// migrate creates the database schema.
func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			template TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			finished_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS step_runs (
			run_id TEXT NOT NULL,
			step_index INTEGER NOT NULL,
			agent_id TEXT NOT NULL,
			monitoring_id INTEGER NOT NULL,
			session_id TEXT,
			status TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			finished_at INTEGER,
			tokens_in INTEGER NOT NULL DEFAULT 0,
			tokens_out INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (run_id, step_index, monitoring_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_step_runs_run ON step_runs(run_id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// BeginRun records a new run and returns its id.
func (s *Store) BeginRun(ctx context.Context, templateName string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, template, status, started_at) VALUES (?, ?, 'running', ?)`,
		id, templateName, time.Now().Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to record run start: %w", err)
	}
	return id, nil
}

// FinishRun stamps a run's terminal status.
func (s *Store) FinishRun(ctx context.Context, runID, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ? WHERE id = ?`,
		status, time.Now().Unix(), runID,
	)
	if err != nil {
		return fmt.Errorf("failed to record run finish: %w", err)
	}
	return nil
}

// BeginStep records a step execution entering running.
func (s *Store) BeginStep(ctx context.Context, sr StepRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO step_runs
			(run_id, step_index, agent_id, monitoring_id, session_id, status, started_at)
		 VALUES (?, ?, ?, ?, ?, 'running', ?)`,
		sr.RunID, sr.StepIndex, sr.AgentID, sr.MonitoringID, sr.SessionID, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record step start: %w", err)
	}
	return nil
}

// FinishStep stamps a step execution's outcome and telemetry.
func (s *Store) FinishStep(ctx context.Context, runID string, stepIndex int, monitoringID int64, sessionID, status string, tokensIn, tokensOut int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE step_runs
		 SET status = ?, session_id = ?, finished_at = ?, tokens_in = ?, tokens_out = ?
		 WHERE run_id = ? AND step_index = ? AND monitoring_id = ?`,
		status, sessionID, time.Now().Unix(), tokensIn, tokensOut,
		runID, stepIndex, monitoringID,
	)
	if err != nil {
		return fmt.Errorf("failed to record step finish: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, template, status, started_at, finished_at
		 FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started int64
		var finished sql.NullInt64
		if err := rows.Scan(&r.ID, &r.Template, &r.Status, &started, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt = time.Unix(started, 0)
		if finished.Valid {
			t := time.Unix(finished.Int64, 0)
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Steps returns the recorded step executions for a run, in step order.
func (s *Store) Steps(ctx context.Context, runID string) ([]StepRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, step_index, agent_id, monitoring_id, COALESCE(session_id, ''),
		        status, started_at, finished_at, tokens_in, tokens_out
		 FROM step_runs WHERE run_id = ? ORDER BY step_index, monitoring_id`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query step runs: %w", err)
	}
	defer rows.Close()

	var steps []StepRun
	for rows.Next() {
		var sr StepRun
		var started int64
		var finished sql.NullInt64
		if err := rows.Scan(&sr.RunID, &sr.StepIndex, &sr.AgentID, &sr.MonitoringID,
			&sr.SessionID, &sr.Status, &started, &finished, &sr.TokensIn, &sr.TokensOut); err != nil {
			return nil, fmt.Errorf("failed to scan step run: %w", err)
		}
		sr.StartedAt = time.Unix(started, 0)
		if finished.Valid {
			t := time.Unix(finished.Int64, 0)
			sr.FinishedAt = &t
		}
		steps = append(steps, sr)
	}
	return steps, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
