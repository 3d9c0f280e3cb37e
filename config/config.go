// Package config loads the ambient configuration for a standalone
// registry process: cache root, flush cadence, worker concurrency, and
// the inspection API's listen address.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the YAML-serializable configuration surface. The teacher
// itself has no config file - DownloadManager is configured via exported
// struct fields with package-level defaults - so this mirrors that
// shape and only adds YAML loading for the optional standalone entry
// point that wires Registry, TaskPool, and the HTTP source together.
type Config struct {
	CacheRoot         string `yaml:"cache_root"`
	FlushThresholdMiB uint64 `yaml:"flush_threshold_mib"`
	Workers           int    `yaml:"workers"`
	ListenAddr        string `yaml:"listen_addr"`
	AccountingDBPath  string `yaml:"accounting_db_path"`
}

// Default returns a Config with the package's built-in defaults.
func Default() Config {
	return Config{
		CacheRoot:         "./rfcache-data",
		FlushThresholdMiB: 4,
		Workers:           10,
		ListenAddr:        "127.0.0.1:8088",
		AccountingDBPath:  "./rfcache-data/accounting.db",
	}
}

// FlushThresholdBytes converts the configured MiB value to bytes.
func (c Config) FlushThresholdBytes() uint64 {
	return c.FlushThresholdMiB * 1024 * 1024
}

// Load reads and parses a YAML config file at path, filling in any zero
// fields from Default.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if cfg.CacheRoot == "" {
		cfg.CacheRoot = Default().CacheRoot
	}
	if cfg.FlushThresholdMiB == 0 {
		cfg.FlushThresholdMiB = Default().FlushThresholdMiB
	}
	if cfg.Workers == 0 {
		cfg.Workers = Default().Workers
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = Default().ListenAddr
	}
	if cfg.AccountingDBPath == "" {
		cfg.AccountingDBPath = Default().AccountingDBPath
	}
	return cfg, nil
}
