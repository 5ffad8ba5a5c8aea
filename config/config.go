// Package config loads qaflow configuration from an optional YAML file on top
// of built-in defaults. Command-line flags are applied by the cli package
// afterwards.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	IndexBackendJSON   = "json"
	IndexBackendSQLite = "sqlite"
)

// Config is the complete qaflow configuration
type Config struct {
	// Address the HTTP API listens on
	Listen string `yaml:"listen"`
	// Project root: all tests, outputs and the index live under it
	Root string `yaml:"root"`

	Index      Index      `yaml:"index"`
	Pipeline   Tool       `yaml:"pipeline"`
	Playwright Tool       `yaml:"playwright"`
	Runs       RunOptions `yaml:"runs"`
}

// Index selects the Index Store backend
type Index struct {
	// json (default) or sqlite
	Backend string `yaml:"backend"`
	// Path of the index file, relative to the project root unless absolute.
	// Defaults to data/tests_index.json or data/tests_index.db.
	Path string `yaml:"path"`
}

// Tool overrides discovery of an external executable
type Tool struct {
	// Full command line; when set it replaces discovery entirely
	Command []string `yaml:"command"`
}

// RunOptions tune the run lifecycle
type RunOptions struct {
	// Kill a run that exceeds this duration; 0 disables the watchdog
	Timeout time.Duration `yaml:"timeout"`
	// Drop finished runs nobody subscribed to after this long
	OrphanTTL time.Duration `yaml:"orphan_ttl"`
	// Number of output lines kept for the transcript of a run
	TranscriptLines int `yaml:"transcript_lines"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Listen: ":8000",
		Root:   ".",
		Index: Index{
			Backend: IndexBackendJSON,
		},
		Runs: RunOptions{
			OrphanTTL:       time.Hour,
			TranscriptLines: 5000,
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path. A missing
// file is not an error when path is empty.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("config file %s does not exist", path)
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks value ranges and enumerations.
func (c Config) Validate() error {
	switch c.Index.Backend {
	case IndexBackendJSON, IndexBackendSQLite:
	default:
		return fmt.Errorf("unknown index backend %q (expected %q or %q)", c.Index.Backend, IndexBackendJSON, IndexBackendSQLite)
	}
	if c.Runs.Timeout < 0 {
		return fmt.Errorf("runs.timeout must not be negative")
	}
	if c.Runs.OrphanTTL <= 0 {
		return fmt.Errorf("runs.orphan_ttl must be positive")
	}
	if c.Runs.TranscriptLines <= 0 {
		return fmt.Errorf("runs.transcript_lines must be positive")
	}
	return nil
}
