package pipeline

import (
	"time"

	"github.com/audexlabs/audex/internal/columnar"
)

// Phase is where a run is in its lifecycle. Phases only move forward;
// Finished and Aborted are terminal.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseSchemaResolved
	PhaseStreaming
	PhaseFinished
	PhaseAborted
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseSchemaResolved:
		return "schema_resolved"
	case PhaseStreaming:
		return "streaming"
	case PhaseFinished:
		return "finished"
	case PhaseAborted:
		return "aborted"
	}
	return "unknown"
}

// Summary is the accounting of one run. Every counted row lands in exactly
// one bucket: Written + SkippedNull + FailedDecode + FailedWrite == Rows.
// The row whose handling raised a fatal error is reported through Err, not
// a counter.
type Summary struct {
	RunID  string
	Input  string
	Output string
	Format columnar.Format

	StartedAt  time.Time
	FinishedAt time.Time

	Rows         int64 // rows fully accounted before the run ended
	Written      int64 // payload files written
	SkippedNull  int64 // rows with a null payload
	FailedDecode int64 // rows whose values did not decode
	FailedWrite  int64 // rows lost to recoverable write errors

	// Err is the fatal error that ended the run, nil when it finished.
	Err error
}

// Aborted reports whether the run ended on a fatal error.
func (s Summary) Aborted() bool { return s.Err != nil }

// Failed is the number of rows lost to decode or write failures.
func (s Summary) Failed() int64 { return s.FailedDecode + s.FailedWrite }

// Outcome is the terminal phase name as recorded in the catalog and in
// emitted events.
func (s Summary) Outcome() string {
	if s.Aborted() {
		return "aborted"
	}
	return "finished"
}

// Elapsed is the wall-clock duration of the run.
func (s Summary) Elapsed() time.Duration { return s.FinishedAt.Sub(s.StartedAt) }
