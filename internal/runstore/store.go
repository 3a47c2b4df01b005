// Package runstore keeps a SQLite history of run-loop invocations.
package runstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Run is one recorded run-loop invocation
type Run struct {
	ID           string
	RunName      string
	Backend      string
	Workspace    string
	ExitCode     int
	TimedOut     bool
	ErrorMessage string
	LogPath      string
	StartedAt    time.Time
	FinishedAt   *time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	run_name TEXT NOT NULL,
	backend TEXT NOT NULL,
	workspace TEXT NOT NULL,
	exit_code INTEGER,
	timed_out INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	log_path TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMP NOT NULL,
	finished_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// Store provides SQLite-backed run history
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordStart inserts a new run in the started state
func (s *Store) RecordStart(id, runName, backendName, workspace string, startedAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO runs (id, run_name, backend, workspace, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, runName, backendName, workspace, startedAt)
	return err
}

// RecordFinish marks a run as finished with its outcome
func (s *Store) RecordFinish(id string, exitCode int, timedOut bool, errorMessage, logPath string, finishedAt time.Time) error {
	_, err := s.db.Exec(`
		UPDATE runs SET exit_code = ?, timed_out = ?, error_message = ?, log_path = ?, finished_at = ?
		WHERE id = ?
	`, exitCode, timedOut, errorMessage, logPath, finishedAt, id)
	return err
}

// ListRecent returns the most recently started runs, newest first
func (s *Store) ListRecent(limit int) ([]*Run, error) {
	rows, err := s.db.Query(`
		SELECT id, run_name, backend, workspace, exit_code, timed_out, error_message, log_path, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// GetRun retrieves a run by ID
func (s *Store) GetRun(id string) (*Run, error) {
	rows, err := s.db.Query(`
		SELECT id, run_name, backend, workspace, exit_code, timed_out, error_message, log_path, started_at, finished_at
		FROM runs WHERE id = ?
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, fmt.Errorf("run %s not found", id)
	}
	return scanRun(rows)
}

func scanRun(rows *sql.Rows) (*Run, error) {
	var run Run
	var exitCode sql.NullInt64
	var finishedAt sql.NullTime

	err := rows.Scan(&run.ID, &run.RunName, &run.Backend, &run.Workspace,
		&exitCode, &run.TimedOut, &run.ErrorMessage, &run.LogPath, &run.StartedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	if exitCode.Valid {
		run.ExitCode = int(exitCode.Int64)
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}

	return &run, nil
}
