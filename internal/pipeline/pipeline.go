// Package pipeline orchestrates one extraction run end to end: stage the
// input, resolve its schema, stream record batches, and write one payload
// file per extractable row.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/audexlabs/audex/internal/catalog"
	"github.com/audexlabs/audex/internal/columnar"
	"github.com/audexlabs/audex/internal/extract"
	"github.com/audexlabs/audex/internal/logging"
	"github.com/audexlabs/audex/internal/metrics"
	"github.com/audexlabs/audex/internal/notify"
	"github.com/audexlabs/audex/internal/source"
	"github.com/audexlabs/audex/internal/storage"
)

// Version information (set via ldflags)
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

// progressEvery is how many rows pass between progress log lines.
const progressEvery = 10000

// Options configure one extraction run.
type Options struct {
	Input     string // local path or gs:// / s3:// object URI
	Output    string // local directory or gs:// / s3:// prefix
	Format    columnar.Format
	BatchRows int64  // row ceiling per batch, 0 for the default
	RunID     string // generated when empty
}

// Runner drives one extraction run. It is single use: a fresh Runner per
// call to Run.
type Runner struct {
	opts    Options
	store   storage.Store
	catalog catalog.Writer
	emitter notify.Emitter
	phase   Phase
	log     *slog.Logger
}

// New creates a runner. The catalog writer and emitter may be nil when
// lineage or notifications are not wanted.
func New(opts Options, store storage.Store, cat catalog.Writer, emit notify.Emitter) *Runner {
	if opts.RunID == "" {
		opts.RunID = uuid.New().String()
	}
	if cat == nil {
		cat = catalog.NewNop()
	}
	if emit == nil {
		emit = notify.NewNop()
	}
	return &Runner{
		opts:    opts,
		store:   store,
		catalog: cat,
		emitter: emit,
		log: logging.Component("pipeline").With(
			"run_id", opts.RunID,
			"input", opts.Input,
			"format", string(opts.Format),
		),
	}
}

// Phase returns the run's current lifecycle phase.
func (r *Runner) Phase() Phase { return r.phase }

// advance moves the run to a later phase. Going backwards is a programming
// error.
func (r *Runner) advance(next Phase) {
	if next < r.phase {
		panic(fmt.Sprintf("pipeline: phase %s after %s", next, r.phase))
	}
	r.phase = next
}

// Run executes the extraction and reports what happened. Fatal errors end
// the run early and are carried in the summary; row-level failures are
// counted and never abort.
func (r *Runner) Run(ctx context.Context) Summary {
	sum := Summary{
		RunID:     r.opts.RunID,
		Input:     r.opts.Input,
		Output:    r.opts.Output,
		Format:    r.opts.Format,
		StartedAt: time.Now().UTC(),
	}

	r.log.Info("starting run", "output", r.opts.Output)

	// Record the run in the catalog. Catalog failures are advisory.
	if err := r.catalog.BeginRun(ctx, catalog.Run{
		ID:        sum.RunID,
		Input:     sum.Input,
		Output:    sum.Output,
		Format:    string(sum.Format),
		StartedAt: sum.StartedAt,
	}); err != nil {
		r.catalogErr(err)
	}

	if err := r.extract(ctx, &sum); err != nil {
		sum.Err = err
		r.advance(PhaseAborted)
	} else {
		r.advance(PhaseFinished)
	}
	sum.FinishedAt = time.Now().UTC()

	r.finish(ctx, sum)
	return sum
}

// extract streams the input and writes payload files. The returned error is
// fatal; nil means the input was drained.
func (r *Runner) extract(ctx context.Context, sum *Summary) error {
	staged, err := source.Stage(ctx, r.opts.Input)
	if err != nil {
		return fmt.Errorf("stage input: %w", err)
	}
	defer staged.Close()
	if staged.Remote || staged.Decompressed {
		r.log.Info("input staged",
			"path", staged.Path,
			"remote", staged.Remote,
			"decompressed", staged.Decompressed,
		)
	}

	reader, cols, err := columnar.Open(ctx, staged.Path, r.opts.Format, columnar.Options{
		BatchRows: r.opts.BatchRows,
	})
	if err != nil {
		return fmt.Errorf("open container: %w", err)
	}
	defer reader.Close()

	r.advance(PhaseSchemaResolved)
	r.log.Info("schema resolved",
		"payload_column", cols.Payload.Name,
		"identifier_column", cols.Identifier.Name,
	)

	writer := storage.NewWriter(r.store)
	ex := extract.NewExtractor(cols)

	r.advance(PhaseStreaming)
	start := time.Now()
	var abs int64

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if !reader.Next() {
			break
		}

		rec := reader.Record()
		if err := ex.Bind(rec); err != nil {
			return fmt.Errorf("bind batch: %w", err)
		}
		rows := int(rec.NumRows())
		if m := metrics.Get(); m != nil {
			m.ObserveBatch(string(r.opts.Format), float64(rows))
		}
		r.log.Debug("batch read", "rows", rows, "row_offset", abs)

		// Every row of the batch is attempted, whatever happens to its
		// neighbors. A row is counted once it lands in a bucket; the row
		// that raises a fatal error is reported through that error instead.
		for i := 0; i < rows; i++ {
			if err := r.handleRow(ctx, ex, writer, i, abs, sum); err != nil {
				return err
			}
			sum.Rows++
			if m := metrics.Get(); m != nil {
				m.AddRowsProcessed(string(r.opts.Format), 1)
			}
			abs++

			if abs%progressEvery == 0 {
				elapsed := time.Since(start)
				rate := float64(abs) / elapsed.Seconds()
				r.log.Info("progress",
					"rows", abs,
					"written", sum.Written,
					"skipped_null", sum.SkippedNull,
					"failed", sum.Failed(),
					"rate_per_sec", fmt.Sprintf("%.2f", rate),
				)
			}
		}
	}
	if err := reader.Err(); err != nil {
		return fmt.Errorf("read batches: %w", err)
	}
	return nil
}

// handleRow extracts and writes row i of the bound batch; abs is its
// absolute index in the input. Row-level failures land in a summary counter
// and return nil; only fatal conditions return an error.
func (r *Runner) handleRow(ctx context.Context, ex *extract.Extractor, writer *storage.Writer, i int, abs int64, sum *Summary) error {
	format := string(r.opts.Format)

	unit, err := ex.Row(i, abs)
	switch {
	case errors.Is(err, extract.ErrNullPayload):
		sum.SkippedNull++
		if m := metrics.Get(); m != nil {
			m.IncRowSkipped(format, "null_payload")
		}
		r.log.Debug("skipped row", "row", abs, "reason", "null_payload")
		return nil
	case errors.Is(err, extract.ErrDecode):
		sum.FailedDecode++
		if m := metrics.Get(); m != nil {
			m.IncRowFailed(format, "decode")
		}
		r.log.Warn("row failed to decode", "row", abs, "error", err)
		return nil
	case err != nil:
		return fmt.Errorf("extract row %d: %w", abs, err)
	}

	name, err := writer.Write(ctx, unit.Identifier, abs, unit.Payload)
	if err != nil {
		if m := metrics.Get(); m != nil {
			m.IncStorageErrors(storage.Backend(r.opts.Output))
		}
		if storage.IsFatal(err) {
			return fmt.Errorf("write row %d: %w", abs, err)
		}
		sum.FailedWrite++
		if m := metrics.Get(); m != nil {
			m.IncRowFailed(format, "write")
		}
		r.log.Warn("row failed to write", "row", abs, "name", name, "error", err)
		return nil
	}

	sum.Written++
	if m := metrics.Get(); m != nil {
		m.IncFileWritten(format, len(unit.Payload))
	}
	if unit.Fallback {
		r.log.Debug("identifier fallback", "row", abs, "name", name)
	}

	if err := r.catalog.RecordFile(ctx, catalog.FileRecord{
		RunID:      r.opts.RunID,
		Name:       name,
		URI:        writer.URI(name),
		Identifier: unit.Identifier,
		Fallback:   unit.Fallback,
		RowIndex:   abs,
		ByteSize:   int64(len(unit.Payload)),
		Checksum:   catalog.Checksum(unit.Payload),
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		r.catalogErr(err)
	}
	return nil
}

// finish closes out the run: final metrics, the catalog row, the completion
// event, and the summary log line. Cancellation of the run context must not
// skip this bookkeeping.
func (r *Runner) finish(ctx context.Context, sum Summary) {
	ctx = context.WithoutCancel(ctx)

	if m := metrics.Get(); m != nil {
		m.ObserveRun(string(sum.Format), sum.Outcome(), sum.Elapsed().Seconds())
	}

	if err := r.catalog.FinishRun(ctx, catalog.Run{
		ID:           sum.RunID,
		Input:        sum.Input,
		Output:       sum.Output,
		Format:       string(sum.Format),
		StartedAt:    sum.StartedAt,
		FinishedAt:   sum.FinishedAt,
		Outcome:      sum.Outcome(),
		Rows:         sum.Rows,
		Written:      sum.Written,
		SkippedNull:  sum.SkippedNull,
		FailedDecode: sum.FailedDecode,
		FailedWrite:  sum.FailedWrite,
		Error:        errString(sum.Err),
	}); err != nil {
		r.catalogErr(err)
	}

	evt := notify.Stamp(notify.Event{
		RunID:        sum.RunID,
		Input:        sum.Input,
		Output:       sum.Output,
		Format:       string(sum.Format),
		Outcome:      sum.Outcome(),
		Rows:         sum.Rows,
		Written:      sum.Written,
		SkippedNull:  sum.SkippedNull,
		FailedDecode: sum.FailedDecode,
		FailedWrite:  sum.FailedWrite,
		Error:        errString(sum.Err),
		Timestamp:    sum.FinishedAt,
		Producer: notify.ProducerInfo{
			Name:    "audex",
			Version: Version,
		},
	})
	if err := r.emitter.Emit(ctx, evt); err != nil {
		if m := metrics.Get(); m != nil {
			m.IncNotifyErrors()
		}
		r.log.Warn("failed to emit run event", "error", err)
	}

	if sum.Aborted() {
		r.log.Error("run aborted",
			"rows", sum.Rows,
			"written", sum.Written,
			"skipped_null", sum.SkippedNull,
			"failed_decode", sum.FailedDecode,
			"failed_write", sum.FailedWrite,
			"duration", sum.Elapsed().String(),
			"error", sum.Err,
		)
		return
	}
	r.log.Info("run complete",
		"rows", sum.Rows,
		"written", sum.Written,
		"skipped_null", sum.SkippedNull,
		"failed_decode", sum.FailedDecode,
		"failed_write", sum.FailedWrite,
		"duration", sum.Elapsed().String(),
	)
}

// catalogErr records a catalog failure without failing the run.
func (r *Runner) catalogErr(err error) {
	if m := metrics.Get(); m != nil {
		m.IncCatalogErrors()
	}
	r.log.Warn("catalog update failed", "error", err)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
