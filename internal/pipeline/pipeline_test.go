package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/klauspost/compress/zstd"

	"github.com/audexlabs/audex/internal/catalog"
	"github.com/audexlabs/audex/internal/columnar"
	"github.com/audexlabs/audex/internal/notify"
	"github.com/audexlabs/audex/internal/storage"
)

// clip is one source row. A nil payload and nullPath write SQL-style nulls.
type clip struct {
	path     string
	nullPath bool
	payload  []byte
}

// acceptanceClips is the canonical mixed input: one clean row, one null
// payload, one null identifier.
func acceptanceClips() []clip {
	return []clip{
		{path: "take_one.wav", payload: []byte("RIFF one")},
		{path: "take_two.wav"},
		{nullPath: true, payload: []byte("RIFF three")},
	}
}

func clipSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "path", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "bytes", Type: arrow.BinaryTypes.Binary, Nullable: true},
	}, nil)
}

func buildClipRecord(t *testing.T, clips []clip) arrow.Record {
	t.Helper()
	bld := array.NewRecordBuilder(memory.DefaultAllocator, clipSchema())
	defer bld.Release()
	paths := bld.Field(0).(*array.StringBuilder)
	payloads := bld.Field(1).(*array.BinaryBuilder)
	for _, c := range clips {
		if c.nullPath {
			paths.AppendNull()
		} else {
			paths.Append(c.path)
		}
		if c.payload == nil {
			payloads.AppendNull()
		} else {
			payloads.Append(c.payload)
		}
	}
	return bld.NewRecord()
}

func writeParquetSchema(t *testing.T, path string, sc *arrow.Schema, recs ...arrow.Record) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	w, err := pqarrow.NewFileWriter(sc, f, parquet.NewWriterProperties(), pqarrow.DefaultWriterProps())
	if err != nil {
		t.Fatalf("parquet writer: %v", err)
	}
	for _, rec := range recs {
		if err := w.Write(rec); err != nil {
			t.Fatalf("write record: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close parquet writer: %v", err)
	}
}

func writeParquet(t *testing.T, path string, recs ...arrow.Record) {
	t.Helper()
	writeParquetSchema(t, path, clipSchema(), recs...)
}

func writeIPC(t *testing.T, path string, recs ...arrow.Record) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	w, err := ipc.NewFileWriter(f, ipc.WithSchema(recs[0].Schema()))
	if err != nil {
		t.Fatalf("ipc writer: %v", err)
	}
	for _, rec := range recs {
		if err := w.Write(rec); err != nil {
			t.Fatalf("write record: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close ipc writer: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
}

func openLocalStore(t *testing.T, dir string) storage.Store {
	t.Helper()
	st, err := storage.NewStore(context.Background(), dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return st
}

func listNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read output dir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestRunParquetEndToEnd(t *testing.T) {
	dir, err := os.MkdirTemp("", "audex-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	rec := buildClipRecord(t, acceptanceClips())
	defer rec.Release()
	input := filepath.Join(dir, "clips.parquet")
	writeParquet(t, input, rec)

	outDir := filepath.Join(dir, "out")
	store := openLocalStore(t, outDir)
	defer store.Close()

	r := New(Options{Input: input, Output: outDir, Format: columnar.FormatParquet}, store, nil, nil)
	sum := r.Run(context.Background())

	if sum.Aborted() {
		t.Fatalf("run aborted: %v", sum.Err)
	}
	if r.Phase() != PhaseFinished {
		t.Errorf("phase = %s, want finished", r.Phase())
	}
	if sum.Outcome() != "finished" {
		t.Errorf("outcome = %q, want finished", sum.Outcome())
	}
	if sum.Rows != 3 || sum.Written != 2 || sum.SkippedNull != 1 || sum.Failed() != 0 {
		t.Errorf("summary = %d rows, %d written, %d skipped, %d failed; want 3, 2, 1, 0",
			sum.Rows, sum.Written, sum.SkippedNull, sum.Failed())
	}
	if sum.Written+sum.SkippedNull+sum.FailedDecode+sum.FailedWrite != sum.Rows {
		t.Errorf("counters do not add up to %d examined rows", sum.Rows)
	}

	names := listNames(t, outDir)
	if len(names) != 2 || names[0] != "00000002" || names[1] != "take_one.wav" {
		t.Fatalf("output files = %v, want [00000002 take_one.wav]", names)
	}

	data, err := os.ReadFile(filepath.Join(outDir, "take_one.wav"))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "RIFF one" {
		t.Errorf("take_one.wav content = %q", data)
	}
	data, err = os.ReadFile(filepath.Join(outDir, "00000002"))
	if err != nil {
		t.Fatalf("read fallback output: %v", err)
	}
	if string(data) != "RIFF three" {
		t.Errorf("fallback file content = %q", data)
	}
}

func TestRunArrowMultiBatch(t *testing.T) {
	dir, err := os.MkdirTemp("", "audex-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	// The null-identifier row sits in the second batch; its fallback name
	// still reflects the absolute row index.
	clips := acceptanceClips()
	r1 := buildClipRecord(t, clips[:2])
	defer r1.Release()
	r2 := buildClipRecord(t, clips[2:])
	defer r2.Release()

	input := filepath.Join(dir, "clips.arrow")
	writeIPC(t, input, r1, r2)

	outDir := filepath.Join(dir, "out")
	store := openLocalStore(t, outDir)
	defer store.Close()

	r := New(Options{Input: input, Output: outDir, Format: columnar.FormatArrow}, store, nil, nil)
	sum := r.Run(context.Background())

	if sum.Aborted() {
		t.Fatalf("run aborted: %v", sum.Err)
	}
	if sum.Rows != 3 || sum.Written != 2 || sum.SkippedNull != 1 {
		t.Errorf("summary = %d rows, %d written, %d skipped; want 3, 2, 1",
			sum.Rows, sum.Written, sum.SkippedNull)
	}
	if _, err := os.Stat(filepath.Join(outDir, "00000002")); err != nil {
		t.Errorf("fallback file missing: %v", err)
	}
}

func TestRunEmptyInput(t *testing.T) {
	dir, err := os.MkdirTemp("", "audex-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "clips.parquet")
	writeParquet(t, input)

	outDir := filepath.Join(dir, "out")
	store := openLocalStore(t, outDir)
	defer store.Close()

	r := New(Options{Input: input, Output: outDir, Format: columnar.FormatParquet}, store, nil, nil)
	sum := r.Run(context.Background())

	if sum.Aborted() {
		t.Fatalf("run aborted: %v", sum.Err)
	}
	if sum.Rows != 0 || sum.Written != 0 {
		t.Errorf("summary = %d rows, %d written; want 0, 0", sum.Rows, sum.Written)
	}
	if names := listNames(t, outDir); len(names) != 0 {
		t.Errorf("unexpected output files: %v", names)
	}
}

func TestRunAllRowsSkipped(t *testing.T) {
	dir, err := os.MkdirTemp("", "audex-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	rec := buildClipRecord(t, []clip{
		{path: "a.wav"},
		{path: "b.wav"},
		{nullPath: true},
	})
	defer rec.Release()
	input := filepath.Join(dir, "clips.parquet")
	writeParquet(t, input, rec)

	outDir := filepath.Join(dir, "out")
	store := openLocalStore(t, outDir)
	defer store.Close()

	r := New(Options{Input: input, Output: outDir, Format: columnar.FormatParquet}, store, nil, nil)
	sum := r.Run(context.Background())

	// A run that writes nothing still finishes.
	if sum.Aborted() {
		t.Fatalf("run aborted: %v", sum.Err)
	}
	if sum.Rows != 3 || sum.SkippedNull != 3 || sum.Written != 0 {
		t.Errorf("summary = %d rows, %d skipped, %d written; want 3, 3, 0",
			sum.Rows, sum.SkippedNull, sum.Written)
	}
	if names := listNames(t, outDir); len(names) != 0 {
		t.Errorf("unexpected output files: %v", names)
	}
}

func TestRunCorruptInputAborts(t *testing.T) {
	dir, err := os.MkdirTemp("", "audex-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "clips.parquet")
	if err := os.WriteFile(input, []byte("these are not the rows you are looking for"), 0644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	outDir := filepath.Join(dir, "out")
	store := openLocalStore(t, outDir)
	defer store.Close()

	r := New(Options{Input: input, Output: outDir, Format: columnar.FormatParquet}, store, nil, nil)
	sum := r.Run(context.Background())

	if !sum.Aborted() {
		t.Fatal("expected aborted run")
	}
	if !errors.Is(sum.Err, columnar.ErrCorrupt) {
		t.Errorf("error = %v, want ErrCorrupt", sum.Err)
	}
	if r.Phase() != PhaseAborted {
		t.Errorf("phase = %s, want aborted", r.Phase())
	}
	if sum.Rows != 0 {
		t.Errorf("examined %d rows of a corrupt file", sum.Rows)
	}
	if names := listNames(t, outDir); len(names) != 0 {
		t.Errorf("unexpected output files: %v", names)
	}
}

func TestRunUnresolvableSchemaAborts(t *testing.T) {
	dir, err := os.MkdirTemp("", "audex-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	t.Run("ambiguous payload", func(t *testing.T) {
		sc := arrow.NewSchema([]arrow.Field{
			{Name: "left", Type: arrow.BinaryTypes.Binary, Nullable: true},
			{Name: "right", Type: arrow.BinaryTypes.Binary, Nullable: true},
			{Name: "path", Type: arrow.BinaryTypes.String, Nullable: true},
		}, nil)
		bld := array.NewRecordBuilder(memory.DefaultAllocator, sc)
		bld.Field(0).(*array.BinaryBuilder).Append([]byte("l"))
		bld.Field(1).(*array.BinaryBuilder).Append([]byte("r"))
		bld.Field(2).(*array.StringBuilder).Append("x.wav")
		rec := bld.NewRecord()
		bld.Release()
		defer rec.Release()

		input := filepath.Join(dir, "ambiguous.parquet")
		writeParquetSchema(t, input, sc, rec)

		outDir := filepath.Join(dir, "out-ambiguous")
		store := openLocalStore(t, outDir)
		defer store.Close()

		sum := New(Options{Input: input, Output: outDir, Format: columnar.FormatParquet}, store, nil, nil).
			Run(context.Background())
		if !errors.Is(sum.Err, columnar.ErrAmbiguousColumn) {
			t.Errorf("error = %v, want ErrAmbiguousColumn", sum.Err)
		}
	})

	t.Run("missing payload", func(t *testing.T) {
		sc := arrow.NewSchema([]arrow.Field{
			{Name: "duration_ms", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
			{Name: "path", Type: arrow.BinaryTypes.String, Nullable: true},
		}, nil)
		bld := array.NewRecordBuilder(memory.DefaultAllocator, sc)
		bld.Field(0).(*array.Int64Builder).Append(100)
		bld.Field(1).(*array.StringBuilder).Append("x.wav")
		rec := bld.NewRecord()
		bld.Release()
		defer rec.Release()

		input := filepath.Join(dir, "missing.parquet")
		writeParquetSchema(t, input, sc, rec)

		outDir := filepath.Join(dir, "out-missing")
		store := openLocalStore(t, outDir)
		defer store.Close()

		sum := New(Options{Input: input, Output: outDir, Format: columnar.FormatParquet}, store, nil, nil).
			Run(context.Background())
		if !errors.Is(sum.Err, columnar.ErrMissingColumn) {
			t.Errorf("error = %v, want ErrMissingColumn", sum.Err)
		}
	})
}

func TestRunFatalWriteAborts(t *testing.T) {
	dir, err := os.MkdirTemp("", "audex-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	rec := buildClipRecord(t, []clip{
		{path: "a.wav", payload: []byte("aa")},
		{path: "b.wav", payload: []byte("bb")},
		{path: "c.wav", payload: []byte("cc")},
	})
	defer rec.Release()
	input := filepath.Join(dir, "clips.parquet")
	writeParquet(t, input, rec)

	outDir := filepath.Join(dir, "out")
	store := openLocalStore(t, outDir)
	defer store.Close()

	// Yank the output directory out from under the run.
	if err := os.RemoveAll(outDir); err != nil {
		t.Fatalf("remove output dir: %v", err)
	}

	r := New(Options{Input: input, Output: outDir, Format: columnar.FormatParquet}, store, nil, nil)
	sum := r.Run(context.Background())

	if !sum.Aborted() {
		t.Fatal("expected aborted run")
	}
	if r.Phase() != PhaseAborted {
		t.Errorf("phase = %s, want aborted", r.Phase())
	}
	// The aborting row is carried by the error, not the counters.
	if sum.Rows != 0 || sum.Written != 0 || sum.FailedWrite != 0 {
		t.Errorf("summary = %d rows, %d written, %d failed writes; want 0, 0, 0",
			sum.Rows, sum.Written, sum.FailedWrite)
	}
	if !strings.Contains(sum.Err.Error(), "row 0") {
		t.Errorf("fatal error lacks row context: %v", sum.Err)
	}
}

// flakyStore fails Puts for selected names with a recoverable error.
type flakyStore struct {
	inner  storage.Store
	failOn map[string]bool
}

func (s *flakyStore) Put(ctx context.Context, name string, data []byte) error {
	if s.failOn[name] {
		return errors.New("transient backend hiccup")
	}
	return s.inner.Put(ctx, name, data)
}

func (s *flakyStore) URI(name string) string { return s.inner.URI(name) }
func (s *flakyStore) Close() error           { return s.inner.Close() }

func TestRunRecoverableWriteErrorContinues(t *testing.T) {
	dir, err := os.MkdirTemp("", "audex-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	rec := buildClipRecord(t, []clip{
		{path: "take_one.wav", payload: []byte("aa")},
		{path: "take_two.wav", payload: []byte("bb")},
		{path: "take_three.wav", payload: []byte("cc")},
	})
	defer rec.Release()
	input := filepath.Join(dir, "clips.parquet")
	writeParquet(t, input, rec)

	outDir := filepath.Join(dir, "out")
	store := &flakyStore{
		inner:  openLocalStore(t, outDir),
		failOn: map[string]bool{"take_two.wav": true},
	}
	defer store.Close()

	r := New(Options{Input: input, Output: outDir, Format: columnar.FormatParquet}, store, nil, nil)
	sum := r.Run(context.Background())

	if sum.Aborted() {
		t.Fatalf("run aborted: %v", sum.Err)
	}
	if sum.Rows != 3 || sum.Written != 2 || sum.FailedWrite != 1 {
		t.Errorf("summary = %d rows, %d written, %d failed writes; want 3, 2, 1",
			sum.Rows, sum.Written, sum.FailedWrite)
	}
	names := listNames(t, outDir)
	if len(names) != 2 || names[0] != "take_one.wav" || names[1] != "take_three.wav" {
		t.Errorf("output files = %v, want [take_one.wav take_three.wav]", names)
	}
}

func TestRunCancelled(t *testing.T) {
	dir, err := os.MkdirTemp("", "audex-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	rec := buildClipRecord(t, acceptanceClips())
	defer rec.Release()
	input := filepath.Join(dir, "clips.arrow")
	writeIPC(t, input, rec)

	outDir := filepath.Join(dir, "out")
	store := openLocalStore(t, outDir)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := New(Options{Input: input, Output: outDir, Format: columnar.FormatArrow}, store, nil, nil)
	sum := r.Run(ctx)

	if !sum.Aborted() {
		t.Fatal("expected aborted run")
	}
	if !errors.Is(sum.Err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", sum.Err)
	}
	if sum.Written != 0 {
		t.Errorf("wrote %d files under a cancelled context", sum.Written)
	}
}

func TestRunRecordsLineage(t *testing.T) {
	dir, err := os.MkdirTemp("", "audex-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	rec := buildClipRecord(t, acceptanceClips())
	defer rec.Release()
	input := filepath.Join(dir, "clips.parquet")
	writeParquet(t, input, rec)

	outDir := filepath.Join(dir, "out")
	store := openLocalStore(t, outDir)
	defer store.Close()

	sqlw, err := catalog.NewSQLiteWriter(filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	manifestPath := filepath.Join(dir, "manifest.json")
	cat := catalog.Multi(sqlw, catalog.NewManifestWriter(manifestPath, catalog.ProducerInfo{
		Name:    "audex",
		Version: "test",
	}))
	defer cat.Close()

	eventsPath := filepath.Join(dir, "events.jsonl")
	emit, err := notify.NewFileEmitter(eventsPath)
	if err != nil {
		t.Fatalf("open emitter: %v", err)
	}

	ctx := context.Background()
	const runID = "run-lineage-test"
	r := New(Options{
		Input:  input,
		Output: outDir,
		Format: columnar.FormatParquet,
		RunID:  runID,
	}, store, cat, emit)
	sum := r.Run(ctx)
	if sum.Aborted() {
		t.Fatalf("run aborted: %v", sum.Err)
	}

	// Catalog row.
	got, err := sqlw.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got == nil {
		t.Fatal("run not recorded in catalog")
	}
	if got.Outcome != "finished" || got.Rows != 3 || got.Written != 2 || got.SkippedNull != 1 {
		t.Errorf("catalog run = %+v", got)
	}

	// File lineage, in row order.
	files, err := sqlw.ListFiles(ctx, runID)
	if err != nil {
		t.Fatalf("list files: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("catalog has %d files, want 2", len(files))
	}
	if files[0].Name != "take_one.wav" || files[0].RowIndex != 0 || files[0].Fallback {
		t.Errorf("first file = %+v", files[0])
	}
	if files[1].Name != "00000002" || files[1].RowIndex != 2 || !files[1].Fallback {
		t.Errorf("second file = %+v", files[1])
	}
	for _, f := range files {
		if !strings.HasPrefix(f.Checksum, "sha256:") {
			t.Errorf("file %s checksum = %q", f.Name, f.Checksum)
		}
		if f.URI == "" {
			t.Errorf("file %s has no URI", f.Name)
		}
	}

	// Manifest document.
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var man catalog.Manifest
	if err := json.Unmarshal(data, &man); err != nil {
		t.Fatalf("parse manifest: %v", err)
	}
	if man.Run.ID != runID || man.Run.Written != 2 || len(man.Files) != 2 {
		t.Errorf("manifest = run %q, written %d, %d files", man.Run.ID, man.Run.Written, len(man.Files))
	}
	if man.Producer.Name != "audex" {
		t.Errorf("manifest producer = %+v", man.Producer)
	}

	// Completion event.
	data, err = os.ReadFile(eventsPath)
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d events, want 1", len(lines))
	}
	var evt notify.Event
	if err := json.Unmarshal([]byte(lines[0]), &evt); err != nil {
		t.Fatalf("parse event: %v", err)
	}
	if evt.EventType != "dataset_extracted" || evt.RunID != runID || evt.Outcome != "finished" {
		t.Errorf("event = %+v", evt)
	}
	if evt.Written != 2 || evt.Rows != 3 {
		t.Errorf("event counters = %d written, %d rows", evt.Written, evt.Rows)
	}
}

func TestRunCompressedInput(t *testing.T) {
	dir, err := os.MkdirTemp("", "audex-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	rec := buildClipRecord(t, acceptanceClips())
	defer rec.Release()
	raw := filepath.Join(dir, "clips.parquet")
	writeParquet(t, raw, rec)

	plain, err := os.ReadFile(raw)
	if err != nil {
		t.Fatalf("read parquet: %v", err)
	}
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	if _, err := zw.Write(plain); err != nil {
		t.Fatalf("compress: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zstd writer: %v", err)
	}
	input := raw + ".zst"
	if err := os.WriteFile(input, buf.Bytes(), 0644); err != nil {
		t.Fatalf("write compressed input: %v", err)
	}

	outDir := filepath.Join(dir, "out")
	store := openLocalStore(t, outDir)
	defer store.Close()

	r := New(Options{Input: input, Output: outDir, Format: columnar.FormatParquet}, store, nil, nil)
	sum := r.Run(context.Background())

	if sum.Aborted() {
		t.Fatalf("run aborted: %v", sum.Err)
	}
	if sum.Written != 2 {
		t.Errorf("written = %d, want 2", sum.Written)
	}
}

func TestPhaseString(t *testing.T) {
	cases := map[Phase]string{
		PhaseInit:           "init",
		PhaseSchemaResolved: "schema_resolved",
		PhaseStreaming:      "streaming",
		PhaseFinished:       "finished",
		PhaseAborted:        "aborted",
		Phase(99):           "unknown",
	}
	for p, want := range cases {
		if got := p.String(); got != want {
			t.Errorf("Phase(%d).String() = %q, want %q", p, got, want)
		}
	}
}
