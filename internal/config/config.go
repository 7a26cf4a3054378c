// Package config loads and validates the pipeline configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the YAML pipeline configuration.
type Config struct {
	// ArchiveDir holds the downloaded *.json.gz archive files.
	ArchiveDir string `yaml:"archive_dir"`
	// BronzeDB is the SQLite file for raw records and checkpoints.
	BronzeDB string `yaml:"bronze_db"`
	// SilverDB is the SQLite file for normalized entities and events.
	SilverDB string `yaml:"silver_db"`

	Workers     int           `yaml:"workers"`
	MaxRetries  int           `yaml:"max_retries"`
	FileTimeout time.Duration `yaml:"file_timeout"`

	Watch       bool   `yaml:"watch"`
	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		ArchiveDir:  "data/raw",
		BronzeDB:    "data/bronze.db",
		SilverDB:    "data/silver.db",
		Workers:     4,
		MaxRetries:  3,
		FileTimeout: 10 * time.Minute,
		LogLevel:    "info",
	}
}

// Load reads a YAML config file, filling unset fields from Default.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	if c.ArchiveDir == "" {
		return fmt.Errorf("archive_dir must be set")
	}
	if c.BronzeDB == "" || c.SilverDB == "" {
		return fmt.Errorf("bronze_db and silver_db must be set")
	}
	if c.BronzeDB == c.SilverDB {
		return fmt.Errorf("bronze_db and silver_db must be different files")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries)
	}
	if c.FileTimeout <= 0 {
		return fmt.Errorf("file_timeout must be positive, got %s", c.FileTimeout)
	}
	return nil
}
