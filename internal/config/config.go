// Package config loads the optional YAML configuration file. The file
// carries ambient settings; per-invocation values (input, output) are flags
// only, and flags override anything the file sets.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/audexlabs/audex/internal/columnar"
	"github.com/audexlabs/audex/internal/logging"
	"github.com/audexlabs/audex/internal/metrics"
)

// Config is the complete application configuration. Every field has a
// working default, so no config file is required.
type Config struct {
	Format    string         `yaml:"format"`     // "parquet" | "arrow"
	BatchRows int64          `yaml:"batch_rows"` // row ceiling per batch, 0 = reader default
	Logging   logging.Config `yaml:"logging"`
	Metrics   metrics.Config `yaml:"metrics"`
	Catalog   CatalogConfig  `yaml:"catalog"`
	Notify    NotifyConfig   `yaml:"notify"`
}

// CatalogConfig selects the run catalog sinks.
type CatalogConfig struct {
	Path     string `yaml:"path"`     // sqlite database file, empty disables
	Manifest bool   `yaml:"manifest"` // write a JSON manifest next to the output
}

// NotifyConfig selects the completion event sinks.
type NotifyConfig struct {
	URL  string `yaml:"url"`  // POST target for run events, empty disables
	File string `yaml:"file"` // JSON-lines append target, empty disables
}

// Default returns the configuration used when no file and no flags are given.
func Default() Config {
	return Config{
		Format:    string(columnar.FormatParquet),
		BatchRows: columnar.DefaultBatchRows,
		Logging: logging.Config{
			Format: "text",
			Level:  "info",
		},
	}
}

// Load reads a YAML file on top of the defaults. Keys absent from the file
// keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// Validate rejects values no component can act on.
func (c Config) Validate() error {
	if _, err := columnar.ParseFormat(c.Format); err != nil {
		return err
	}
	if c.BatchRows < 0 {
		return fmt.Errorf("batch_rows must not be negative, got %d", c.BatchRows)
	}
	return nil
}
