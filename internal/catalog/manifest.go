package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Manifest is the JSON document a ManifestWriter produces at the end of
// a run.
type Manifest struct {
	Run       Run          `json:"run"`
	Files     []FileRecord `json:"files"`
	Producer  ProducerInfo `json:"producer"`
	CreatedAt time.Time    `json:"created_at"`
}

// ProducerInfo identifies the tool that produced a manifest.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ManifestWriter accumulates a run's records in memory and writes a
// single JSON manifest when the run finishes. Nothing touches disk
// until FinishRun, so an aborted process leaves no partial manifest.
type ManifestWriter struct {
	path     string
	producer ProducerInfo
	run      Run
	files    []FileRecord
}

// NewManifestWriter returns a writer that will save the manifest at
// path when the run finishes.
func NewManifestWriter(path string, producer ProducerInfo) *ManifestWriter {
	return &ManifestWriter{
		path:     path,
		producer: producer,
		files:    []FileRecord{},
	}
}

// BeginRun remembers the run header.
func (w *ManifestWriter) BeginRun(_ context.Context, run Run) error {
	w.run = run
	return nil
}

// RecordFile buffers a file record.
func (w *ManifestWriter) RecordFile(_ context.Context, rec FileRecord) error {
	w.files = append(w.files, rec)
	return nil
}

// FinishRun writes the manifest atomically via temp file + rename.
func (w *ManifestWriter) FinishRun(_ context.Context, run Run) error {
	m := Manifest{
		Run:       run,
		Files:     w.files,
		Producer:  w.producer,
		CreatedAt: time.Now().UTC(),
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	tempPath := w.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write manifest temp file: %w", err)
	}

	if err := os.Rename(tempPath, w.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename manifest file: %w", err)
	}

	return nil
}

// Close is a no-op; the manifest is written by FinishRun.
func (w *ManifestWriter) Close() error { return nil }

// Verify ManifestWriter implements Writer.
var _ Writer = (*ManifestWriter)(nil)
