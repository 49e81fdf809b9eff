package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the ingestion settings shared by every command. Values come
// from an optional YAML file; command-line flags override them.
type Config struct {
	SourceURL   string   `yaml:"source_url"`
	ExtraURLs   []string `yaml:"extra_urls"`
	CatalogPath string   `yaml:"catalog_path"`
	CacheDir    string   `yaml:"cache_dir"`
	LedgerPath  string   `yaml:"ledger_path"`
	MaxFiles    int      `yaml:"max_files"`
}

// DefaultConfig returns the settings used when no file is given.
func DefaultConfig() Config {
	return Config{
		CatalogPath: "catalog.toml",
		CacheDir:    ".orrery/cache",
		LedgerPath:  ".orrery/ledger.db",
		MaxFiles:    5,
	}
}

// LoadConfig reads a YAML config file over the defaults. Unknown keys are an
// error so typos do not go unnoticed.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.MaxFiles < 0 {
		return Config{}, fmt.Errorf("parsing config %s: max_files must not be negative", path)
	}
	return cfg, nil
}
