package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Releck/cibox/internal/model"
)

// ErrRunNotFound is returned by GetRun for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// Store persists and queries run records.
type Store struct {
	db *DB
}

// NewStore creates a Store backed by the given DB.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// Open opens (creating when missing) the history database for a project
// directory, applies pending migrations, and returns a ready Store. The
// caller owns the returned DB and must close it.
func Open(projectDir string) (*Store, *DB, error) {
	path := DefaultPath(projectDir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := NewDB(path)
	if err != nil {
		return nil, nil, err
	}

	if err := RunMigrations(db.Writer); err != nil {
		db.Close()
		return nil, nil, err
	}

	return NewStore(db), db, nil
}

// RecordRun inserts a run and its leg summaries in a single transaction.
func (s *Store) RecordRun(ctx context.Context, record model.RunRecord) error {
	tx, err := s.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	const insertRun = `
		INSERT INTO runs (id, pipeline_path, branch, backend, status, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, insertRun,
		record.ID, record.PipelinePath, record.Branch,
		record.Backend.String(), record.Status.String(),
		formatTime(record.StartedAt), formatTime(record.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", record.ID, err)
	}

	const insertLeg = `
		INSERT INTO run_legs (run_id, leg_index, name, status, exit_code, allow_failure, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	for _, leg := range record.Legs {
		allowFailure := 0
		if leg.AllowFailure {
			allowFailure = 1
		}

		_, err := tx.ExecContext(ctx, insertLeg,
			record.ID, leg.Index, leg.Name, leg.Status.String(),
			leg.ExitCode, allowFailure, leg.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("insert leg %d of run %s: %w", leg.Index, record.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run %s: %w", record.ID, err)
	}

	return nil
}

// ListRuns returns the most recent runs, newest first, with their leg
// summaries attached. limit bounds the result; values below one default
// to 20.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]model.RunRecord, error) {
	if limit < 1 {
		limit = 20
	}

	const query = `
		SELECT id, pipeline_path, branch, backend, status, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`
	rows, err := s.db.Reader.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var records []model.RunRecord
	for rows.Next() {
		record, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	for i := range records {
		legs, err := s.legsForRun(ctx, records[i].ID)
		if err != nil {
			return nil, err
		}
		records[i].Legs = legs
	}

	return records, nil
}

// GetRun returns one run by ID with its leg summaries, or ErrRunNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (*model.RunRecord, error) {
	const query = `
		SELECT id, pipeline_path, branch, backend, status, started_at, finished_at
		FROM runs
		WHERE id = ?
	`
	record, err := scanRun(s.db.Reader.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("query run %s: %w", id, err)
	}

	legs, err := s.legsForRun(ctx, record.ID)
	if err != nil {
		return nil, err
	}
	record.Legs = legs

	return record, nil
}

// legsForRun loads the leg summaries of one run in matrix index order.
func (s *Store) legsForRun(ctx context.Context, runID string) ([]model.LegRecord, error) {
	const query = `
		SELECT leg_index, name, status, exit_code, allow_failure, duration_ms
		FROM run_legs
		WHERE run_id = ?
		ORDER BY leg_index
	`
	rows, err := s.db.Reader.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query legs for run %s: %w", runID, err)
	}
	defer rows.Close()

	var legs []model.LegRecord
	for rows.Next() {
		var leg model.LegRecord
		var status string
		var allowFailure, durationMS int64

		err := rows.Scan(&leg.Index, &leg.Name, &status, &leg.ExitCode, &allowFailure, &durationMS)
		if err != nil {
			return nil, fmt.Errorf("scan leg for run %s: %w", runID, err)
		}

		leg.Status = model.LegStatus(status)
		leg.AllowFailure = allowFailure != 0
		leg.Duration = time.Duration(durationMS) * time.Millisecond
		legs = append(legs, leg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate legs for run %s: %w", runID, err)
	}

	return legs, nil
}

// scanner abstracts *sql.Row and *sql.Rows for shared scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*model.RunRecord, error) {
	var record model.RunRecord
	var backend, status, startedAt, finishedAt string

	err := s.Scan(
		&record.ID, &record.PipelinePath, &record.Branch,
		&backend, &status, &startedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	record.Backend = model.ExecBackend(backend)
	record.Status = model.RunStatus(status)

	if record.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if record.FinishedAt, err = parseTime(finishedAt); err != nil {
		return nil, fmt.Errorf("parse finished_at: %w", err)
	}

	return &record, nil
}

// Timestamps are stored as RFC 3339 strings in UTC so that the started_at
// index sorts chronologically.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
