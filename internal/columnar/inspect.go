package columnar

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
)

// Info summarizes a container without extracting anything.
type Info struct {
	Format   Format
	Schema   *arrow.Schema
	Resolved Resolved

	Rows      int64
	RowGroups int   // parquet: from footer metadata
	Batches   int64 // arrow: counted by scanning
}

// Inspect opens the container, resolves the target columns and gathers
// stats. Parquet row counts come from the footer; Arrow containers are
// scanned batch by batch.
func Inspect(ctx context.Context, path string, format Format, opts Options) (*Info, error) {
	r, res, err := Open(ctx, path, format, opts)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	info := &Info{Format: format, Schema: r.Schema(), Resolved: res}

	if pr, ok := r.(*parquetReader); ok {
		info.Schema = pr.full
		info.RowGroups = pr.pf.NumRowGroups()
		for i := 0; i < info.RowGroups; i++ {
			info.Rows += pr.pf.RowGroup(i).NumRows()
		}
		return info, nil
	}

	for r.Next() {
		info.Batches++
		info.Rows += r.Record().NumRows()
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return info, nil
}
