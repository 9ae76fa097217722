package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileEmitter appends one JSON line per event to a local file, so the
// log stays greppable and tail-able.
type FileEmitter struct {
	path string
}

// NewFileEmitter returns an emitter appending to path, creating parent
// directories as needed.
func NewFileEmitter(path string) (*FileEmitter, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create notify dir %s: %w", dir, err)
		}
	}
	return &FileEmitter{path: path}, nil
}

// Emit appends the event as a single JSON line.
func (e *FileEmitter) Emit(_ context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	f, err := os.OpenFile(e.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open notify file %s: %w", e.path, err)
	}

	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("append event to %s: %w", e.path, err)
	}
	return f.Close()
}

// Close is a no-op; the file is opened per event.
func (e *FileEmitter) Close() error { return nil }

// Verify FileEmitter implements Emitter.
var _ Emitter = (*FileEmitter)(nil)
