// Package watcher ingests a directory continuously: files already present
// are processed on startup, new arrivals are picked up from filesystem
// events, and each eligible file becomes one standard extraction run.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/audexlabs/audex/internal/columnar"
	"github.com/audexlabs/audex/internal/logging"
	"github.com/audexlabs/audex/internal/metrics"
	"github.com/audexlabs/audex/internal/pipeline"
	"github.com/audexlabs/audex/internal/source"
)

// settleDelay is how long a file must stay quiet after its last event
// before it is processed. Writers that copy in chunks keep pushing the
// timer back, so half-copied files are never opened.
const settleDelay = 2 * time.Second

// Config for a watch session.
type Config struct {
	Dir       string // directory to ingest
	Output    string // output root; each input gets its own subdirectory
	Format    columnar.Format
	BatchRows int64
	Settle    time.Duration // event debounce, settleDelay when zero
}

// RunFunc executes one extraction run. The production wiring builds a
// pipeline.Runner per file; tests substitute a recorder.
type RunFunc func(ctx context.Context, opts pipeline.Options) pipeline.Summary

// Watcher turns one directory into a stream of extraction runs, one per
// eligible file. An aborted file is logged and counted, never fatal to the
// session; a file is attempted at most once per session.
type Watcher struct {
	cfg Config
	run RunFunc
	log *slog.Logger

	mu        sync.Mutex
	processed map[string]bool
	timers    map[string]*time.Timer
	done      int
	aborted   int
}

func New(cfg Config, run RunFunc) *Watcher {
	if cfg.Settle <= 0 {
		cfg.Settle = settleDelay
	}
	return &Watcher{
		cfg:       cfg,
		run:       run,
		log:       logging.Component("watcher"),
		processed: make(map[string]bool),
		timers:    make(map[string]*time.Timer),
	}
}

// Run watches until ctx is cancelled. Cancellation is the normal way to
// stop a session and is not an error.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.cfg.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.cfg.Dir, err)
	}

	queue := make(chan string, 128)
	if err := w.queueExisting(ctx, queue); err != nil {
		return err
	}

	w.log.Info("watching directory",
		"dir", w.cfg.Dir,
		"output", w.cfg.Output,
		"format", string(w.cfg.Format),
	)

	go w.eventLoop(ctx, fw, queue)

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			done, aborted := w.done, w.aborted
			w.mu.Unlock()
			w.log.Info("watch stopped", "processed", done, "aborted", aborted)
			return nil
		case path := <-queue:
			w.process(ctx, path)
		}
	}
}

// queueExisting feeds files already in the directory into the queue in name
// order. They pre-date the session, so they skip the settle delay.
func (w *Watcher) queueExisting(ctx context.Context, queue chan<- string) error {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		return fmt.Errorf("scan %s: %w", w.cfg.Dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !w.eligible(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(w.cfg.Dir, e.Name()))
	}
	if len(files) == 0 {
		return nil
	}
	w.log.Info("queuing existing files", "count", len(files))
	go func() {
		for _, p := range files {
			select {
			case queue <- p:
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// eventLoop debounces filesystem events into the work queue.
func (w *Watcher) eventLoop(ctx context.Context, fw *fsnotify.Watcher, queue chan<- string) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !w.eligible(filepath.Base(event.Name)) {
				continue
			}
			w.schedule(ctx, event.Name, queue)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", "error", err)
		}
	}
}

// schedule (re)arms the debounce timer for one file; the file is queued only
// once it has been quiet for the settle window.
func (w *Watcher) schedule(ctx context.Context, path string, queue chan<- string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.processed[path] {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.cfg.Settle, func() {
		select {
		case queue <- path:
		case <-ctx.Done():
		}
	})
	if m := metrics.Get(); m != nil {
		m.SetWatchPending(float64(len(w.timers)))
	}
}

// process runs the pipeline for one file. Whatever the outcome, the file is
// not attempted again this session.
func (w *Watcher) process(ctx context.Context, path string) {
	w.mu.Lock()
	if w.processed[path] {
		w.mu.Unlock()
		return
	}
	w.processed[path] = true
	delete(w.timers, path)
	if m := metrics.Get(); m != nil {
		m.SetWatchPending(float64(len(w.timers)))
	}
	w.mu.Unlock()

	info, err := os.Stat(path)
	if err != nil {
		// Gone before its turn came up; a later re-create gets a new run.
		w.log.Debug("file vanished before processing", "input", path)
		w.mu.Lock()
		delete(w.processed, path)
		w.mu.Unlock()
		return
	}
	if info.IsDir() {
		return
	}

	out := filepath.Join(w.cfg.Output, inputStem(path))
	log := w.log.With("input", path, "output", out)
	log.Info("processing file")

	sum := w.run(ctx, pipeline.Options{
		Input:     path,
		Output:    out,
		Format:    w.cfg.Format,
		BatchRows: w.cfg.BatchRows,
	})

	w.mu.Lock()
	w.done++
	if sum.Aborted() {
		w.aborted++
	}
	w.mu.Unlock()

	if sum.Aborted() {
		log.Error("file aborted", "error", sum.Err)
		return
	}
	log.Info("file done",
		"written", sum.Written,
		"skipped_null", sum.SkippedNull,
		"failed", sum.Failed(),
	)
}

// Container extensions accepted per format. Compressed variants of each are
// eligible too; the pipeline stages them.
var (
	arrowExts   = []string{".arrow", ".arrows", ".feather", ".ipc"}
	parquetExts = []string{".parquet"}
)

// eligible reports whether a file name looks like an input for the
// configured format.
func (w *Watcher) eligible(name string) bool {
	base := strings.ToLower(filepath.Base(name))
	if strings.HasPrefix(base, ".") {
		return false
	}
	base = source.TrimCompression(base)
	exts := parquetExts
	if w.cfg.Format == columnar.FormatArrow {
		exts = arrowExts
	}
	for _, ext := range exts {
		if strings.HasSuffix(base, ext) {
			return true
		}
	}
	return false
}

// inputStem names the output subdirectory for one input file: the base name
// without compression and container extensions.
func inputStem(path string) string {
	base := source.TrimCompression(filepath.Base(path))
	return strings.TrimSuffix(base, filepath.Ext(base))
}
