// Package config loads the qsolog YAML configuration. A path may name a
// single file or a directory whose *.yaml files are merged in name order.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"qsolog/narrate"
)

const (
	// EnvPath names the config file or directory when -config is not given.
	EnvPath = "QSOLOG_CONFIG"
	// EnvDBPath overrides storage.path.
	EnvDBPath = "W4GNS_DB_PATH"

	BackendPebble = "pebble"
	BackendSQLite = "sqlite"

	appDirName = "qsolog"
)

// Config represents the complete logger configuration.
type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	Awards   AwardsConfig   `yaml:"awards"`
	OpenAI   narrate.Config `yaml:"openai"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	CTY      CTYConfig      `yaml:"cty"`
	Logging  LoggingConfig  `yaml:"logging"`

	// LoadedFrom is the file or directory that was read, empty for defaults.
	LoadedFrom string `yaml:"-"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// AwardsConfig points at the award thresholds JSON file.
type AwardsConfig struct {
	ConfigPath string `yaml:"config"`
}

// DispatchConfig tunes parallel parsing and aggregation. Zero values defer to
// the detected host policy.
type DispatchConfig struct {
	Workers          int           `yaml:"workers"`
	ParseThreshold   int           `yaml:"parse_threshold"`
	SummaryChunkSize int           `yaml:"summary_chunk_size"`
	ChunkTimeout     time.Duration `yaml:"chunk_timeout"`
}

// CTYConfig locates the cty.plist used to fill in countries.
type CTYConfig struct {
	Enabled bool   `yaml:"enabled"`
	File    string `yaml:"file"`
	// URL is where cty-update fetches the plist from.
	URL string `yaml:"url"`
}

// DefaultCTYURL is the country-files.com plist used by cty-update.
const DefaultCTYURL = "https://www.country-files.com/cty/cty.plist"

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	// Dir enables daily log files (DD-Mon-YYYY.log) when set.
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Purpose: Load configuration from a YAML file or directory.
// Key aspects: A blank or missing path yields defaults; W4GNS_DB_PATH wins
// over storage.path.
// Upstream: main.
// Downstream: yaml.Unmarshal, applyDefaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	path = strings.TrimSpace(path)
	if path != "" {
		files, err := configFiles(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			for _, f := range files {
				data, err := os.ReadFile(f)
				if err != nil {
					return nil, fmt.Errorf("failed to read config file: %w", err)
				}
				if err := yaml.Unmarshal(data, cfg); err != nil {
					return nil, fmt.Errorf("failed to parse config file %s: %w", f, err)
				}
			}
			cfg.LoadedFrom = path
		}
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func configFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	files, err := filepath.Glob(filepath.Join(path, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("list config dir: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// DefaultPath returns the per-user config location, falling back to the
// working directory when no user config dir is available.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "qsolog.yaml"
	}
	return filepath.Join(dir, appDirName, "config.yaml")
}

func (c *Config) applyDefaults() {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendPebble
	}
	if env := strings.TrimSpace(os.Getenv(EnvDBPath)); env != "" {
		c.Storage.Path = env
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		name := "qsos"
		if c.Storage.Backend == BackendSQLite {
			name = "qsos.db"
		}
		c.Storage.Path = filepath.Join(dataDir(), name)
	}
	if c.Dispatch.ParseThreshold <= 0 {
		c.Dispatch.ParseThreshold = 100
	}
	if c.Dispatch.SummaryChunkSize <= 0 {
		c.Dispatch.SummaryChunkSize = 5000
	}
	if c.Dispatch.ChunkTimeout <= 0 {
		c.Dispatch.ChunkTimeout = 30 * time.Second
	}
	if strings.TrimSpace(c.CTY.URL) == "" {
		c.CTY.URL = DefaultCTYURL
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.RetentionDays <= 0 {
		c.Logging.RetentionDays = 7
	}
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case BackendPebble, BackendSQLite:
	default:
		return fmt.Errorf("config: unknown storage.backend %q (want %s or %s)", c.Storage.Backend, BackendPebble, BackendSQLite)
	}
	switch c.Logging.Level {
	case "info", "debug":
	default:
		return fmt.Errorf("config: unknown logging.level %q", c.Logging.Level)
	}
	if c.Dispatch.Workers < 0 {
		return fmt.Errorf("config: dispatch.workers must be >= 0")
	}
	if c.CTY.Enabled && strings.TrimSpace(c.CTY.File) == "" {
		return fmt.Errorf("config: cty.enabled requires cty.file")
	}
	return nil
}

func dataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, appDirName)
	}
	return "."
}

// Print writes the effective configuration. The OpenAI key is never shown.
func (c *Config) Print(w io.Writer) {
	source := c.LoadedFrom
	if source == "" {
		source = "(defaults)"
	}
	fmt.Fprintf(w, "Config: %s\n", source)
	fmt.Fprintf(w, "Storage: %s at %s\n", c.Storage.Backend, c.Storage.Path)
	awardsPath := c.Awards.ConfigPath
	if awardsPath == "" {
		awardsPath = "(default lookup)"
	}
	fmt.Fprintf(w, "Awards thresholds: %s\n", awardsPath)
	workerDesc := "auto"
	if c.Dispatch.Workers > 0 {
		workerDesc = fmt.Sprintf("%d", c.Dispatch.Workers)
	}
	fmt.Fprintf(w, "Dispatch: workers=%s parse_threshold=%d summary_chunk=%d chunk_timeout=%s\n",
		workerDesc, c.Dispatch.ParseThreshold, c.Dispatch.SummaryChunkSize, c.Dispatch.ChunkTimeout)
	if c.CTY.Enabled {
		fmt.Fprintf(w, "CTY: %s (updates from %s)\n", c.CTY.File, c.CTY.URL)
	}
	model := c.OpenAI.Model
	if model == "" {
		model = "default"
	}
	fmt.Fprintf(w, "OpenAI: model=%s disabled=%v key=%s\n", model, c.OpenAI.Disabled, keyState(c.OpenAI.APIKey))
	logDir := c.Logging.Dir
	if logDir == "" {
		logDir = "(console only)"
	}
	fmt.Fprintf(w, "Logging: level=%s dir=%s retention=%dd\n", c.Logging.Level, logDir, c.Logging.RetentionDays)
}

func keyState(key string) string {
	if strings.TrimSpace(key) != "" {
		return "set"
	}
	if strings.TrimSpace(os.Getenv(narrate.APIKeyEnv)) != "" {
		return "env"
	}
	return "unset"
}
