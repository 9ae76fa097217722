// Package metrics provides Prometheus metrics for the extractor.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the extractor.
type Metrics struct {
	// Row metrics
	RowsProcessed *prometheus.CounterVec
	RowsSkipped   *prometheus.CounterVec
	RowsFailed    *prometheus.CounterVec

	// Output metrics
	FilesWritten *prometheus.CounterVec
	BytesWritten *prometheus.CounterVec

	// Batch metrics
	BatchesRead *prometheus.CounterVec
	BatchRows   *prometheus.HistogramVec

	// Run metrics
	RunsCompleted *prometheus.CounterVec
	RunDuration   *prometheus.HistogramVec

	// Error metrics
	StorageErrors *prometheus.CounterVec
	CatalogErrors prometheus.Counter
	NotifyErrors  prometheus.Counter

	// Watch mode
	WatchPending prometheus.Gauge
}

// Config holds metrics configuration.
type Config struct {
	Address string `yaml:"address"` // metrics HTTP server address (e.g. ":9102"), empty disables serving
}

var defaultMetrics *Metrics

// Init initializes the metrics package with global metrics.
// Call this once at startup.
func Init(namespace string) *Metrics {
	if namespace == "" {
		namespace = "audex"
	}

	m := &Metrics{
		RowsProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_processed_total",
				Help:      "Total number of input rows observed",
			},
			[]string{"format"},
		),
		RowsSkipped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_skipped_total",
				Help:      "Total number of rows skipped",
			},
			[]string{"format", "reason"},
		),
		RowsFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_failed_total",
				Help:      "Total number of rows that failed extraction or write",
			},
			[]string{"format", "reason"},
		),
		FilesWritten: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_written_total",
				Help:      "Total number of payload files written",
			},
			[]string{"format"},
		),
		BytesWritten: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_written_total",
				Help:      "Total payload bytes written",
			},
			[]string{"format"},
		),
		BatchesRead: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_read_total",
				Help:      "Total number of record batches read",
			},
			[]string{"format"},
		),
		BatchRows: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_rows",
				Help:      "Number of rows per record batch",
				Buckets:   prometheus.ExponentialBuckets(16, 2, 10), // 16 to ~16k
			},
			[]string{"format"},
		),
		RunsCompleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of extraction runs by outcome",
			},
			[]string{"format", "outcome"},
		),
		RunDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Wall-clock duration of an extraction run",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~400s
			},
			[]string{"format", "outcome"},
		),
		StorageErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_errors_total",
				Help:      "Total number of output store write errors",
			},
			[]string{"backend"},
		),
		CatalogErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "catalog_errors_total",
				Help:      "Total number of run catalog errors",
			},
		),
		NotifyErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notify_errors_total",
				Help:      "Total number of notification emission errors",
			},
		),
		WatchPending: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "watch_pending_files",
				Help:      "Files discovered by watch mode and not yet processed",
			},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(address, mux)
}

// AddRowsProcessed adds to the rows processed counter.
func (m *Metrics) AddRowsProcessed(format string, n float64) {
	m.RowsProcessed.WithLabelValues(format).Add(n)
}

// IncRowSkipped increments the skip counter for a reason.
func (m *Metrics) IncRowSkipped(format, reason string) {
	m.RowsSkipped.WithLabelValues(format, reason).Inc()
}

// IncRowFailed increments the failure counter for a reason.
func (m *Metrics) IncRowFailed(format, reason string) {
	m.RowsFailed.WithLabelValues(format, reason).Inc()
}

// IncFileWritten increments the written-files counter and adds the payload size.
func (m *Metrics) IncFileWritten(format string, bytes int) {
	m.FilesWritten.WithLabelValues(format).Inc()
	m.BytesWritten.WithLabelValues(format).Add(float64(bytes))
}

// ObserveBatch records one batch read and its row count.
func (m *Metrics) ObserveBatch(format string, rows float64) {
	m.BatchesRead.WithLabelValues(format).Inc()
	m.BatchRows.WithLabelValues(format).Observe(rows)
}

// ObserveRun records the completion of a run.
func (m *Metrics) ObserveRun(format, outcome string, seconds float64) {
	m.RunsCompleted.WithLabelValues(format, outcome).Inc()
	m.RunDuration.WithLabelValues(format, outcome).Observe(seconds)
}

// IncStorageErrors increments the storage errors counter.
func (m *Metrics) IncStorageErrors(backend string) {
	m.StorageErrors.WithLabelValues(backend).Inc()
}

// IncCatalogErrors increments the catalog errors counter.
func (m *Metrics) IncCatalogErrors() {
	m.CatalogErrors.Inc()
}

// IncNotifyErrors increments the notification errors counter.
func (m *Metrics) IncNotifyErrors() {
	m.NotifyErrors.Inc()
}

// SetWatchPending sets the watch mode backlog gauge.
func (m *Metrics) SetWatchPending(n float64) {
	m.WatchPending.Set(n)
}
