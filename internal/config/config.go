// Package config provides configuration management for the
// simple provider.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config represents the complete provider configuration.
type Config struct {
	Source   string         `yaml:"source"`
	Root     string         `yaml:"root"`
	TestMode bool           `yaml:"test_mode"`
	Instance InstanceConfig `yaml:"instance"`
	Provider ProviderConfig `yaml:"provider"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// InstanceConfig holds the options of the virtualization
// instance.
type InstanceConfig struct {
	PoolThreads       uint32 `yaml:"pool_threads"`
	ConcurrentThreads uint32 `yaml:"concurrent_threads"`
	NegativePathCache bool   `yaml:"negative_path_cache"`
}

// ProviderConfig holds the behaviour of the projection.
type ProviderConfig struct {
	Notifications bool   `yaml:"notifications"`
	DenyDeletes   bool   `yaml:"deny_deletes"`
	AsyncData     bool   `yaml:"async_data"`
	Workers       int64  `yaml:"workers"`
	ChunkSize     uint32 `yaml:"chunk_size"`
}

// MetricsConfig holds the prometheus exporter address,
// metrics are disabled when Listen is empty.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Instance: InstanceConfig{
			NegativePathCache: true,
		},
		Provider: ProviderConfig{
			Workers:   4,
			ChunkSize: 1 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file, the absent
// fields keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config file %q", path)
	}
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.Wrapf(err, "parse config file %q", path)
	}
	return config, nil
}

// LoadOrDefault loads configuration from a file, or returns
// the default if the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	return Load(path)
}

var (
	validLevels  = []string{"debug", "info", "warn", "warning", "error"}
	validFormats = []string{"text", "json"}
)

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if c.Source == "" {
		return errors.New("source root is required")
	}
	if c.Root == "" {
		return errors.New("virtualization root is required")
	}
	source, err := filepath.Abs(c.Source)
	if err != nil {
		return errors.Wrapf(err, "resolve source %q", c.Source)
	}
	root, err := filepath.Abs(c.Root)
	if err != nil {
		return errors.Wrapf(err, "resolve root %q", c.Root)
	}
	if strings.EqualFold(source, root) {
		return errors.Errorf(
			"source and virtualization root are both %q", root)
	}
	if c.Provider.Workers <= 0 {
		return errors.Errorf("invalid worker count %d", c.Provider.Workers)
	}
	if c.Provider.ChunkSize == 0 {
		return errors.New("chunk size must be positive")
	}
	if !contains(validLevels, strings.ToLower(c.Logging.Level)) {
		return errors.Errorf("invalid log level %q", c.Logging.Level)
	}
	if !contains(validFormats, strings.ToLower(c.Logging.Format)) {
		return errors.Errorf("invalid log format %q", c.Logging.Format)
	}
	return nil
}
