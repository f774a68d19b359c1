// Package store is the Run/Action recorder: one run per invocation with
// its ordered actions, kept in a local SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/illuvrse/operator/pkg/errclass"
	"github.com/illuvrse/operator/pkg/model"
)

const timeFormat = time.RFC3339Nano

// SQLiteStore persists runs and actions.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at path.
func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

// Init creates the schema.
func (s *SQLiteStore) Init(ctx context.Context) error {
	ddl := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA busy_timeout=5000;`,
		`PRAGMA foreign_keys=ON;`,
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL UNIQUE,
			mode TEXT NOT NULL,
			task TEXT NOT NULL,
			status TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			finished_at TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS actions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			status TEXT,
			detail_json TEXT,
			created_at TEXT NOT NULL,
			FOREIGN KEY(run_id) REFERENCES runs(run_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_actions_run_seq ON actions(run_id, seq);`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateRun inserts a run in status running.
func (s *SQLiteStore) CreateRun(ctx context.Context, run model.Run) error {
	if run.Status == "" {
		run.Status = model.RunRunning
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, mode, task, status, summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(run.ID),
		run.Mode,
		run.Task,
		string(run.Status),
		run.Summary,
		run.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// FinishRun sets the final status and summary. A run is finalized once;
// later calls are ignored.
func (s *SQLiteStore) FinishRun(ctx context.Context, id model.RunID, status model.RunStatus, summary string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, summary = ?, finished_at = ?
		WHERE run_id = ? AND finished_at IS NULL`,
		string(status),
		summary,
		time.Now().UTC().Format(timeFormat),
		string(id),
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// AddAction appends one action to a run.
func (s *SQLiteStore) AddAction(ctx context.Context, action model.Action) error {
	var detail sql.NullString
	if len(action.Detail) > 0 {
		detail = sql.NullString{String: string(action.Detail), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO actions (run_id, seq, kind, status, detail_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(action.RunID),
		action.Seq,
		action.Kind,
		action.Status,
		detail,
		action.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("add action: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, mode, task, status, summary, created_at, finished_at
		FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun returns one run by id.
func (s *SQLiteStore) GetRun(ctx context.Context, id model.RunID) (model.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, mode, task, status, summary, created_at, finished_at
		FROM runs WHERE run_id = ?`, string(id))
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Run{}, errclass.ErrNotFound.WithMessagef("run %s", id)
	}
	return run, err
}

// ListActions returns a run's actions in order.
func (s *SQLiteStore) ListActions(ctx context.Context, id model.RunID) ([]model.Action, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, kind, status, detail_json, created_at
		FROM actions WHERE run_id = ? ORDER BY seq, id`, string(id))
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	var actions []model.Action
	for rows.Next() {
		var (
			a       model.Action
			runID   string
			status  sql.NullString
			detail  sql.NullString
			created string
		)
		if err := rows.Scan(&runID, &a.Seq, &a.Kind, &status, &detail, &created); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		a.RunID = model.RunID(runID)
		a.Status = status.String
		if detail.Valid {
			a.Detail = []byte(detail.String)
		}
		a.CreatedAt, _ = time.Parse(timeFormat, created)
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (model.Run, error) {
	var (
		run      model.Run
		id       string
		status   string
		created  string
		finished sql.NullString
	)
	if err := row.Scan(&id, &run.Mode, &run.Task, &status, &run.Summary, &created, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Run{}, err
		}
		return model.Run{}, fmt.Errorf("scan run: %w", err)
	}
	run.ID = model.RunID(id)
	run.Status = model.RunStatus(status)
	run.CreatedAt, _ = time.Parse(timeFormat, created)
	if finished.Valid {
		t, err := time.Parse(timeFormat, finished.String)
		if err == nil {
			run.FinishedAt = &t
		}
	}
	return run, nil
}
