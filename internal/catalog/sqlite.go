package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // pure-Go sqlite driver
)

// SQLiteWriter persists lineage to a local SQLite database, the default
// catalog for workstation runs. A single connection under WAL keeps
// writes serialized without SQLITE_BUSY churn.
type SQLiteWriter struct {
	db *sql.DB
}

// NewSQLiteWriter opens the catalog database at path, creating it and
// its tables if needed.
func NewSQLiteWriter(path string) (*SQLiteWriter, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	w := &SQLiteWriter{db: db}
	if err := w.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate catalog %s: %w", path, err)
	}
	return w, nil
}

func (w *SQLiteWriter) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id            TEXT PRIMARY KEY,
			input         TEXT NOT NULL,
			output        TEXT NOT NULL,
			format        TEXT NOT NULL,
			started_at    TIMESTAMP NOT NULL,
			finished_at   TIMESTAMP,
			outcome       TEXT,
			row_count     INTEGER NOT NULL DEFAULT 0,
			written       INTEGER NOT NULL DEFAULT 0,
			skipped_null  INTEGER NOT NULL DEFAULT 0,
			failed_decode INTEGER NOT NULL DEFAULT 0,
			failed_write  INTEGER NOT NULL DEFAULT 0,
			error_message TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS files (
			run_id     TEXT NOT NULL REFERENCES runs(id),
			name       TEXT NOT NULL,
			uri        TEXT NOT NULL,
			identifier TEXT NOT NULL,
			fallback   INTEGER NOT NULL DEFAULT 0,
			row_index  INTEGER NOT NULL,
			byte_size  INTEGER NOT NULL,
			checksum   TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (run_id, name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_files_identifier ON files(identifier)`,
	}
	for _, stmt := range stmts {
		if _, err := w.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// BeginRun registers a run before any rows are read.
func (w *SQLiteWriter) BeginRun(ctx context.Context, run Run) error {
	_, err := w.db.ExecContext(ctx, `
		INSERT INTO runs (id, input, output, format, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, run.Input, run.Output, run.Format, run.StartedAt)
	if err != nil {
		return fmt.Errorf("begin run %s: %w", run.ID, err)
	}
	return nil
}

// RecordFile registers a file the run has written.
func (w *SQLiteWriter) RecordFile(ctx context.Context, rec FileRecord) error {
	_, err := w.db.ExecContext(ctx, `
		INSERT INTO files (run_id, name, uri, identifier, fallback, row_index, byte_size, checksum, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, name) DO UPDATE SET
			uri        = excluded.uri,
			identifier = excluded.identifier,
			fallback   = excluded.fallback,
			row_index  = excluded.row_index,
			byte_size  = excluded.byte_size,
			checksum   = excluded.checksum,
			created_at = excluded.created_at
	`, rec.RunID, rec.Name, rec.URI, rec.Identifier, rec.Fallback,
		rec.RowIndex, rec.ByteSize, rec.Checksum, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("record file %s: %w", rec.Name, err)
	}
	return nil
}

// FinishRun records the run's final counters and outcome.
func (w *SQLiteWriter) FinishRun(ctx context.Context, run Run) error {
	_, err := w.db.ExecContext(ctx, `
		UPDATE runs SET
			finished_at   = ?,
			outcome       = ?,
			row_count     = ?,
			written       = ?,
			skipped_null  = ?,
			failed_decode = ?,
			failed_write  = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.Outcome, run.Rows, run.Written, run.SkippedNull,
		run.FailedDecode, run.FailedWrite, run.Error, run.ID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun returns a recorded run, or nil when no run has that id.
func (w *SQLiteWriter) GetRun(ctx context.Context, id string) (*Run, error) {
	row := w.db.QueryRowContext(ctx, `
		SELECT id, input, output, format, started_at,
		       COALESCE(finished_at, started_at),
		       COALESCE(outcome, ''),
		       row_count, written, skipped_null, failed_decode, failed_write,
		       COALESCE(error_message, '')
		FROM runs WHERE id = ?
	`, id)

	var r Run
	err := row.Scan(&r.ID, &r.Input, &r.Output, &r.Format, &r.StartedAt,
		&r.FinishedAt, &r.Outcome, &r.Rows, &r.Written, &r.SkippedNull,
		&r.FailedDecode, &r.FailedWrite, &r.Error)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return &r, nil
}

// ListFiles returns the files recorded for a run, ordered by row index.
func (w *SQLiteWriter) ListFiles(ctx context.Context, runID string) ([]FileRecord, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT run_id, name, uri, identifier, fallback, row_index, byte_size, checksum, created_at
		FROM files WHERE run_id = ?
		ORDER BY row_index
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list files for run %s: %w", runID, err)
	}
	defer rows.Close()

	var recs []FileRecord
	for rows.Next() {
		var rec FileRecord
		if err := rows.Scan(&rec.RunID, &rec.Name, &rec.URI, &rec.Identifier,
			&rec.Fallback, &rec.RowIndex, &rec.ByteSize, &rec.Checksum, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan file record: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Close releases the database handle.
func (w *SQLiteWriter) Close() error {
	return w.db.Close()
}

// Verify SQLiteWriter implements Writer.
var _ Writer = (*SQLiteWriter)(nil)
