// Package notify emits run-completed events so downstream consumers
// can react to freshly extracted datasets without polling the catalog.
// Emission failures are advisory and never change a run's outcome.
package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Event is emitted once per completed run.
type Event struct {
	Version   string    `json:"version"`
	EventType string    `json:"event_type"`
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`

	RunID   string `json:"run_id"`
	Input   string `json:"input"`
	Output  string `json:"output"`
	Format  string `json:"format"`
	Outcome string `json:"outcome"` // "finished" or "aborted"

	Rows         int64  `json:"rows"`
	Written      int64  `json:"written"`
	SkippedNull  int64  `json:"skipped_null"`
	FailedDecode int64  `json:"failed_decode"`
	FailedWrite  int64  `json:"failed_write"`
	Error        string `json:"error,omitempty"`

	Producer ProducerInfo `json:"producer"`
}

// ProducerInfo identifies the software that emitted the event.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Stamp fills the envelope fields shared by all emitters and returns
// the completed event.
func Stamp(evt Event) Event {
	evt.Version = "1.0"
	evt.EventType = "dataset_extracted"
	evt.EventID = GenerateEventID()
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	return evt
}

// GenerateEventID creates a unique event ID.
func GenerateEventID() string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%d", time.Now().UnixNano())))
	return "run_evt_" + hex.EncodeToString(hash[:8])
}

// Emitter delivers run events.
type Emitter interface {
	Emit(ctx context.Context, evt Event) error
	Close() error
}

// NewNop returns an emitter that discards events.
func NewNop() Emitter { return nopEmitter{} }

type nopEmitter struct{}

func (nopEmitter) Emit(context.Context, Event) error { return nil }
func (nopEmitter) Close() error                      { return nil }

// Multi fans events out to all emitters and reports the first error.
func Multi(emitters ...Emitter) Emitter {
	switch len(emitters) {
	case 0:
		return nopEmitter{}
	case 1:
		return emitters[0]
	}
	return &multiEmitter{emitters: emitters}
}

type multiEmitter struct {
	emitters []Emitter
}

func (m *multiEmitter) Emit(ctx context.Context, evt Event) error {
	var firstErr error
	for _, e := range m.emitters {
		if err := e.Emit(ctx, evt); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *multiEmitter) Close() error {
	var firstErr error
	for _, e := range m.emitters {
		if err := e.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
