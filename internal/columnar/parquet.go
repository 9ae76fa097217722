package columnar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

// parquetReader reads row groups through pqarrow so Parquet yields the same
// arrow records the IPC path does. Row groups are re-chunked to the row
// ceiling by the record reader's batch size. Only the leaf columns behind
// the two resolved refs are materialized.
type parquetReader struct {
	pf   *file.Reader
	rr   pqarrow.RecordReader
	sc   *arrow.Schema // projected schema matching emitted records
	full *arrow.Schema

	rec arrow.Record // owned here, valid until the next call
	err error
}

func openParquet(ctx context.Context, path string, opts Options) (BatchReader, Resolved, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Resolved{}, fmt.Errorf("%w: %v", ErrRead, err)
	}

	pf, err := file.NewParquetReader(f)
	if err != nil {
		f.Close()
		return nil, Resolved{}, wrapContainerErr(err)
	}
	// pf owns f from here on.

	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: opts.BatchRows}, opts.Alloc)
	if err != nil {
		pf.Close()
		return nil, Resolved{}, wrapContainerErr(err)
	}

	sc, err := fr.Schema()
	if err != nil {
		pf.Close()
		return nil, Resolved{}, wrapContainerErr(err)
	}
	res, err := Resolve(sc)
	if err != nil {
		pf.Close()
		return nil, Resolved{}, err
	}

	proj := projectedColumns(res)
	leaves, err := leafIndices(fr.Manifest, proj)
	if err != nil {
		pf.Close()
		return nil, Resolved{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	res = remapRefs(res, proj)

	rr, err := fr.GetRecordReader(ctx, leaves, nil)
	if err != nil {
		pf.Close()
		return nil, Resolved{}, wrapContainerErr(err)
	}

	return &parquetReader{pf: pf, rr: rr, sc: rr.Schema(), full: sc}, res, nil
}

func (r *parquetReader) Next() bool {
	if r.rec != nil {
		r.rec.Release()
		r.rec = nil
	}
	if r.err != nil {
		return false
	}
	if !r.rr.Next() {
		if err := r.rr.Err(); err != nil && !errors.Is(err, io.EOF) {
			r.err = wrapContainerErr(err)
		}
		return false
	}
	rec := r.rr.Record()
	rec.Retain()
	r.rec = rec
	return true
}

func (r *parquetReader) Record() arrow.Record { return r.rec }

func (r *parquetReader) Err() error { return r.err }

func (r *parquetReader) Schema() *arrow.Schema { return r.sc }

func (r *parquetReader) Close() error {
	if r.rec != nil {
		r.rec.Release()
		r.rec = nil
	}
	if r.rr != nil {
		r.rr.Release()
	}
	return r.pf.Close()
}

// projectedColumns lists the distinct top-level field indices the refs use,
// ascending.
func projectedColumns(res Resolved) []int {
	cols := []int{res.Payload.Index}
	if res.Identifier.Index != res.Payload.Index {
		cols = append(cols, res.Identifier.Index)
	}
	sort.Ints(cols)
	return cols
}

// remapRefs rewrites top-level indices onto the projected record schema,
// which keeps only the projected fields in their original order. Struct
// children are projected whole, so Field offsets survive as-is.
func remapRefs(res Resolved, proj []int) Resolved {
	res.Payload.Index = indexOf(proj, res.Payload.Index)
	res.Identifier.Index = indexOf(proj, res.Identifier.Index)
	return res
}

func indexOf(xs []int, x int) int {
	for i, v := range xs {
		if v == x {
			return i
		}
	}
	return -1
}

// leafIndices flattens the projected top-level fields into the parquet leaf
// column indices the record reader wants.
func leafIndices(man *pqarrow.SchemaManifest, proj []int) ([]int, error) {
	var leaves []int
	for _, i := range proj {
		if i < 0 || i >= len(man.Fields) {
			return nil, fmt.Errorf("schema manifest has %d fields, no index %d", len(man.Fields), i)
		}
		leaves = append(leaves, fieldLeaves(man.Fields[i])...)
	}
	sort.Ints(leaves)
	return leaves, nil
}

func fieldLeaves(f pqarrow.SchemaField) []int {
	if len(f.Children) == 0 {
		return []int{f.ColIndex}
	}
	var out []int
	for _, c := range f.Children {
		out = append(out, fieldLeaves(c)...)
	}
	return out
}
