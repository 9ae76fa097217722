// Package catalog records run lineage: which input each run read,
// which files it produced, and how it ended. Catalog failures are
// advisory; the pipeline logs and counts them but never aborts a run
// over bookkeeping.
package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Run describes one extraction run. The counter fields are zero until
// the run finishes.
type Run struct {
	ID        string    `json:"id"`
	Input     string    `json:"input"`
	Output    string    `json:"output"`
	Format    string    `json:"format"`
	StartedAt time.Time `json:"started_at"`

	FinishedAt   time.Time `json:"finished_at"`
	Outcome      string    `json:"outcome,omitempty"` // "finished" or "aborted"
	Rows         int64     `json:"rows"`
	Written      int64     `json:"written"`
	SkippedNull  int64     `json:"skipped_null"`
	FailedDecode int64     `json:"failed_decode"`
	FailedWrite  int64     `json:"failed_write"`
	Error        string    `json:"error,omitempty"`
}

// FileRecord describes one file produced by a run.
type FileRecord struct {
	RunID      string    `json:"run_id"`
	Name       string    `json:"name"`
	URI        string    `json:"uri"`
	Identifier string    `json:"identifier"`
	Fallback   bool      `json:"fallback,omitempty"`
	RowIndex   int64     `json:"row_index"`
	ByteSize   int64     `json:"byte_size"`
	Checksum   string    `json:"checksum"`
	CreatedAt  time.Time `json:"created_at"`
}

// Writer persists run lineage.
type Writer interface {
	// BeginRun registers a run before any rows are read.
	BeginRun(ctx context.Context, run Run) error

	// RecordFile registers a file the run has written.
	RecordFile(ctx context.Context, rec FileRecord) error

	// FinishRun records the run's final counters and outcome.
	FinishRun(ctx context.Context, run Run) error

	// Close releases catalog resources.
	Close() error
}

// NewNop returns a writer that records nothing.
func NewNop() Writer { return nopWriter{} }

type nopWriter struct{}

func (nopWriter) BeginRun(context.Context, Run) error          { return nil }
func (nopWriter) RecordFile(context.Context, FileRecord) error { return nil }
func (nopWriter) FinishRun(context.Context, Run) error         { return nil }
func (nopWriter) Close() error                                 { return nil }

// Multi fans every record out to all writers and reports the first
// error seen, so a broken catalog never starves the others.
func Multi(writers ...Writer) Writer {
	switch len(writers) {
	case 0:
		return nopWriter{}
	case 1:
		return writers[0]
	}
	return &multiWriter{writers: writers}
}

type multiWriter struct {
	writers []Writer
}

func (m *multiWriter) BeginRun(ctx context.Context, run Run) error {
	var firstErr error
	for _, w := range m.writers {
		if err := w.BeginRun(ctx, run); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *multiWriter) RecordFile(ctx context.Context, rec FileRecord) error {
	var firstErr error
	for _, w := range m.writers {
		if err := w.RecordFile(ctx, rec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *multiWriter) FinishRun(ctx context.Context, run Run) error {
	var firstErr error
	for _, w := range m.writers {
		if err := w.FinishRun(ctx, run); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *multiWriter) Close() error {
	var firstErr error
	for _, w := range m.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Checksum returns the digest of data in the "sha256:<hex>" form used
// throughout the catalog.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}
