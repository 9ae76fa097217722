package storage

import "context"

// Writer names and persists payloads for a single run. It tracks every
// name it has written so colliding identifiers within the run get
// distinct files instead of silently overwriting each other.
type Writer struct {
	store Store
	seen  map[string]struct{}
}

// NewWriter returns a run-scoped writer over store.
func NewWriter(store Store) *Writer {
	return &Writer{
		store: store,
		seen:  make(map[string]struct{}),
	}
}

// Write persists data under a name derived from identifier and returns
// the chosen name. A failed write does not reserve the name, so a later
// row with the same identifier can claim it.
func (w *Writer) Write(ctx context.Context, identifier string, row int64, data []byte) (string, error) {
	name := FileName(identifier, row, w.seen)
	if err := w.store.Put(ctx, name, data); err != nil {
		return name, err
	}
	w.seen[name] = struct{}{}
	return name, nil
}

// URI returns the canonical URI for a name chosen by Write.
func (w *Writer) URI(name string) string {
	return w.store.URI(name)
}

// Written returns how many distinct files this writer has persisted.
func (w *Writer) Written() int {
	return len(w.seen)
}
