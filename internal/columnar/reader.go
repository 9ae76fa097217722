// Package columnar reads record batches out of Arrow IPC and Parquet
// containers behind one interface, and resolves which columns of them hold
// the payload bytes and the row identifier.
package columnar

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Format names a container format. There is no auto-detection: the caller
// states what the file is and a mismatch surfaces as a corrupt container.
type Format string

const (
	FormatArrow   Format = "arrow"
	FormatParquet Format = "parquet"
)

// ParseFormat converts a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "arrow":
		return FormatArrow, nil
	case "parquet":
		return FormatParquet, nil
	}
	return "", fmt.Errorf("unknown container format %q (want arrow or parquet)", s)
}

// DefaultBatchRows is the row-count ceiling per emitted batch when the
// caller does not set one.
const DefaultBatchRows = 1024

// Options tune how batches are read.
type Options struct {
	BatchRows int64 // row ceiling per emitted batch; DefaultBatchRows when <= 0
	Alloc     memory.Allocator
}

// BatchReader is a lazy, finite, non-restartable sequence of record batches,
// each at most BatchRows rows. The record returned by Record is owned by the
// reader and valid until the next call to Next or Close. Exhaustion is
// Next() == false with Err() == nil; anything else left in Err is fatal.
type BatchReader interface {
	Next() bool
	Record() arrow.Record
	Err() error
	Schema() *arrow.Schema
	Close() error
}

// Container read errors. ErrCorrupt covers malformed or truncated container
// data, ErrRead covers the I/O underneath it. Both end the run.
var (
	ErrCorrupt = errors.New("corrupt container")
	ErrRead    = errors.New("container read")
)

// Open opens the container at path, resolves the payload and identifier
// columns, and returns a reader whose records match the returned refs.
func Open(ctx context.Context, path string, format Format, opts Options) (BatchReader, Resolved, error) {
	if opts.BatchRows <= 0 {
		opts.BatchRows = DefaultBatchRows
	}
	if opts.Alloc == nil {
		opts.Alloc = memory.DefaultAllocator
	}
	switch format {
	case FormatArrow:
		return openIPC(path, opts)
	case FormatParquet:
		return openParquet(ctx, path, opts)
	default:
		return nil, Resolved{}, fmt.Errorf("unknown container format %q", format)
	}
}

// wrapContainerErr classifies a failure from the container libraries:
// cancellation passes through untouched, plain file I/O keeps its ErrRead
// identity, everything else is corrupt data.
func wrapContainerErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return fmt.Errorf("%w: %v", ErrRead, err)
	}
	return fmt.Errorf("%w: %v", ErrCorrupt, err)
}
