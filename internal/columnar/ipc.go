package columnar

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
)

// arrowFileMagic opens (and closes) every IPC file-format container; the
// stream format begins directly with an encapsulated message.
var arrowFileMagic = []byte("ARROW1")

// ipcReader reads Arrow IPC containers, either framing variant. Batches pass
// through in their native chunking; a batch above the row ceiling is
// re-emitted as bounded zero-copy slices.
type ipcReader struct {
	f      *os.File
	stream *ipc.Reader     // stream framing
	file   *ipc.FileReader // file framing
	opts   Options

	cur    arrow.Record // oversized batch pending slicing
	curOff int64
	rec    arrow.Record // record handed to the caller, owned here
	err    error
	done   bool
}

func openIPC(path string, opts Options) (BatchReader, Resolved, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Resolved{}, fmt.Errorf("%w: %v", ErrRead, err)
	}

	magic := make([]byte, len(arrowFileMagic))
	if _, err := io.ReadFull(f, magic); err != nil {
		f.Close()
		return nil, Resolved{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, Resolved{}, fmt.Errorf("%w: %v", ErrRead, err)
	}

	r := &ipcReader{f: f, opts: opts}
	if bytes.Equal(magic, arrowFileMagic) {
		fr, err := ipc.NewFileReader(f, ipc.WithAllocator(opts.Alloc))
		if err != nil {
			f.Close()
			return nil, Resolved{}, wrapContainerErr(err)
		}
		r.file = fr
	} else {
		sr, err := ipc.NewReader(f, ipc.WithAllocator(opts.Alloc))
		if err != nil {
			f.Close()
			return nil, Resolved{}, wrapContainerErr(err)
		}
		r.stream = sr
	}

	res, err := Resolve(r.Schema())
	if err != nil {
		r.Close()
		return nil, Resolved{}, err
	}
	return r, res, nil
}

func (r *ipcReader) Schema() *arrow.Schema {
	if r.file != nil {
		return r.file.Schema()
	}
	return r.stream.Schema()
}

func (r *ipcReader) Next() bool {
	if r.rec != nil {
		r.rec.Release()
		r.rec = nil
	}
	if r.done || r.err != nil {
		return false
	}
	if r.cur != nil {
		return r.sliceNext()
	}

	var rec arrow.Record
	if r.file != nil {
		rc, err := r.file.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.done = true
			} else {
				r.err = wrapContainerErr(err)
			}
			return false
		}
		rec = rc
	} else {
		if !r.stream.Next() {
			if err := r.stream.Err(); err != nil && !errors.Is(err, io.EOF) {
				r.err = wrapContainerErr(err)
			}
			r.done = true
			return false
		}
		rec = r.stream.Record()
	}

	rec.Retain()
	if rec.NumRows() <= r.opts.BatchRows {
		r.rec = rec
		return true
	}
	r.cur = rec
	r.curOff = 0
	return r.sliceNext()
}

func (r *ipcReader) sliceNext() bool {
	n := r.cur.NumRows()
	end := r.curOff + r.opts.BatchRows
	if end > n {
		end = n
	}
	r.rec = r.cur.NewSlice(r.curOff, end)
	r.curOff = end
	if r.curOff >= n {
		r.cur.Release()
		r.cur = nil
	}
	return true
}

func (r *ipcReader) Record() arrow.Record { return r.rec }

func (r *ipcReader) Err() error { return r.err }

func (r *ipcReader) Close() error {
	if r.rec != nil {
		r.rec.Release()
		r.rec = nil
	}
	if r.cur != nil {
		r.cur.Release()
		r.cur = nil
	}
	if r.stream != nil {
		r.stream.Release()
	}
	if r.file != nil {
		r.file.Close()
	}
	return r.f.Close()
}
