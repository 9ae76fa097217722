package main

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/audexlabs/audex/internal/catalog"
	"github.com/audexlabs/audex/internal/columnar"
	"github.com/audexlabs/audex/internal/config"
	"github.com/audexlabs/audex/internal/logging"
	"github.com/audexlabs/audex/internal/metrics"
	"github.com/audexlabs/audex/internal/notify"
	"github.com/audexlabs/audex/internal/pipeline"
	"github.com/audexlabs/audex/internal/storage"
)

var (
	cfgFile string
	debug   bool
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:   "audex",
	Short: "Extract audio payloads from columnar datasets",
	Long: `audex turns Arrow IPC and Parquet datasets with embedded audio into
individual payload files, one per row, named by the dataset's identifier
column.

Example:
  audex extract -i clips.parquet -o ./out
  audex inspect -i shard.arrow --format arrow
  audex watch -i ./incoming -o ./out`,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (optional)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log per-row outcomes at debug level")
}

// setup loads the configuration and installs the logger before any
// subcommand runs. Flags beat the config file.
func setup(cmd *cobra.Command, _ []string) error {
	cfg = config.Default()
	if cfgFile != "" {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logging.Setup(cfg.Logging)

	// Flags are parsed by now; failures past this point are runtime errors,
	// not usage errors.
	cmd.SilenceUsage = true
	return nil
}

// runFlags are the flags extract and watch share. Zero values defer to the
// config file.
type runFlags struct {
	format      string
	batchRows   int64
	manifest    bool
	catalogPath string
	notifyURL   string
	notifyFile  string
	metricsAddr string
}

func bindRunFlags(cmd *cobra.Command, f *runFlags) {
	cmd.Flags().StringVar(&f.format, "format", "", `container format: "parquet" or "arrow"`)
	cmd.Flags().Int64Var(&f.batchRows, "batch-rows", 0, "row ceiling per batch")
	cmd.Flags().BoolVar(&f.manifest, "manifest", false, "write a JSON manifest next to the extracted files")
	cmd.Flags().StringVar(&f.catalogPath, "catalog", "", "sqlite run catalog path")
	cmd.Flags().StringVar(&f.notifyURL, "notify-url", "", "POST a run event to this URL after each run")
	cmd.Flags().StringVar(&f.notifyFile, "notify-file", "", "append run events to this JSON-lines file")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
}

// settings are the effective options for a run after the config file and
// flags merge.
type settings struct {
	format      columnar.Format
	batchRows   int64
	manifest    bool
	catalogPath string
	notifyURL   string
	notifyFile  string
	metricsAddr string
}

func (f *runFlags) resolve(cmd *cobra.Command) (settings, error) {
	format, err := columnar.ParseFormat(orDefault(f.format, cfg.Format))
	if err != nil {
		return settings{}, err
	}
	s := settings{
		format:      format,
		batchRows:   f.batchRows,
		manifest:    cfg.Catalog.Manifest,
		catalogPath: orDefault(f.catalogPath, cfg.Catalog.Path),
		notifyURL:   orDefault(f.notifyURL, cfg.Notify.URL),
		notifyFile:  orDefault(f.notifyFile, cfg.Notify.File),
		metricsAddr: orDefault(f.metricsAddr, cfg.Metrics.Address),
	}
	if s.batchRows <= 0 {
		s.batchRows = cfg.BatchRows
	}
	if cmd.Flags().Changed("manifest") {
		s.manifest = f.manifest
	}
	return s, nil
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

// openSinks builds the catalog writers and event emitters one run reports
// to. Both default to no-ops when nothing is configured.
func openSinks(s settings, outputDir string) (catalog.Writer, notify.Emitter, error) {
	var cats []catalog.Writer
	if s.catalogPath != "" {
		w, err := catalog.NewSQLiteWriter(s.catalogPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open run catalog: %w", err)
		}
		cats = append(cats, w)
	}
	if s.manifest {
		if backend := storage.Backend(outputDir); backend != "local" {
			slog.Warn("manifest needs a local output directory, skipping",
				"output", outputDir, "backend", backend)
		} else {
			cats = append(cats, catalog.NewManifestWriter(
				filepath.Join(outputDir, "manifest.json"),
				catalog.ProducerInfo{Name: "audex", Version: pipeline.Version},
			))
		}
	}

	var emits []notify.Emitter
	if s.notifyFile != "" {
		e, err := notify.NewFileEmitter(s.notifyFile)
		if err != nil {
			return nil, nil, fmt.Errorf("open notify file: %w", err)
		}
		emits = append(emits, e)
	}
	if s.notifyURL != "" {
		emits = append(emits, notify.NewHTTPEmitter(s.notifyURL))
	}

	var cat catalog.Writer = catalog.NewNop()
	if len(cats) > 0 {
		cat = catalog.Multi(cats...)
	}
	var emit notify.Emitter = notify.NewNop()
	if len(emits) > 0 {
		emit = notify.Multi(emits...)
	}
	return cat, emit, nil
}

// startMetrics registers the collectors and, when an address is configured,
// serves them in the background.
func startMetrics(addr string) {
	metrics.Init("audex")
	if addr == "" {
		return
	}
	go func() {
		if err := metrics.StartServer(addr); err != nil {
			slog.Warn("metrics server stopped", "error", err)
		}
	}()
}
