// Package config loads lsfs configuration. Sources are applied in order:
// defaults, an optional YAML file, a .env file, LSFS_* environment variables.
// Command-line flags are applied on top by the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lsfs/lsfs/internal/storage/s3"
)

// ConfigFileName is looked up in the working directory when no file is named.
const ConfigFileName = "lsfs.yaml"

// ErrConfigNotFound is returned when an explicitly named config file does
// not exist.
var ErrConfigNotFound = errors.New("config file not found")

// Serving backends.
const (
	BackendGoFuse  = "gofuse"
	BackendCgoFuse = "cgofuse"
)

// Config holds all lsfs configuration.
type Config struct {
	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Metrics listener; empty disables it.
	MetricsAddr string `yaml:"metrics_addr"`

	Mount MountConfig      `yaml:"mount"`
	S3    s3.BackendConfig `yaml:"s3"`
}

// MountConfig controls how the tree is served.
type MountConfig struct {
	Backend      string        `yaml:"backend"`
	FsName       string        `yaml:"fs_name"`
	AllowOther   bool          `yaml:"allow_other"`
	Debug        bool          `yaml:"debug"`
	EntryTimeout time.Duration `yaml:"entry_timeout"`
	AttrTimeout  time.Duration `yaml:"attr_timeout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "console",
		Mount: MountConfig{
			Backend:      BackendGoFuse,
			FsName:       "lsfs",
			EntryTimeout: time.Second,
			AttrTimeout:  time.Second,
		},
	}
}

// Load builds the configuration. An empty path reads ConfigFileName from the
// working directory if it exists.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = ConfigFileName
	}
	if err := cfg.mergeFile(path); err != nil {
		if explicit || !errors.Is(err, ErrConfigNotFound) {
			return nil, err
		}
	}

	_ = godotenv.Load()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFile overlays the YAML file at path onto c.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.LogLevel = envOr("LSFS_LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOr("LSFS_LOG_FORMAT", c.LogFormat)
	c.MetricsAddr = envOr("LSFS_METRICS_ADDR", c.MetricsAddr)

	c.Mount.Backend = envOr("LSFS_BACKEND", c.Mount.Backend)
	c.Mount.FsName = envOr("LSFS_FS_NAME", c.Mount.FsName)
	c.Mount.AllowOther = envBool("LSFS_ALLOW_OTHER", c.Mount.AllowOther)
	c.Mount.Debug = envBool("LSFS_DEBUG", c.Mount.Debug)
	c.Mount.EntryTimeout = envDuration("LSFS_ENTRY_TIMEOUT", c.Mount.EntryTimeout)
	c.Mount.AttrTimeout = envDuration("LSFS_ATTR_TIMEOUT", c.Mount.AttrTimeout)

	c.S3.Endpoint = envOr("LSFS_S3_ENDPOINT", c.S3.Endpoint)
	c.S3.Region = envOr("LSFS_S3_REGION", c.S3.Region)
	c.S3.AccessKey = envOr("LSFS_S3_ACCESS_KEY", c.S3.AccessKey)
	c.S3.SecretKey = envOr("LSFS_S3_SECRET_KEY", c.S3.SecretKey)
	c.S3.PathStyle = envBool("LSFS_S3_PATH_STYLE", c.S3.PathStyle)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("log format must be json or console, got %q", c.LogFormat)
	}
	switch c.Mount.Backend {
	case BackendGoFuse, BackendCgoFuse:
	default:
		return fmt.Errorf("backend must be %s or %s, got %q", BackendGoFuse, BackendCgoFuse, c.Mount.Backend)
	}
	if c.Mount.FsName == "" {
		return fmt.Errorf("fs name is required")
	}
	if c.Mount.EntryTimeout < 0 || c.Mount.AttrTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
