// Package config loads sensordash settings from defaults, an optional YAML
// file and SENSORDASH_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/luki/sensordash/internal/store"
)

// Environment variables.
const (
	EnvConfig      = "SENSORDASH_CONFIG"
	EnvAPIURL      = "SENSORDASH_API_URL"
	EnvDataDir     = "SENSORDASH_DATA_DIR"
	EnvLogLevel    = "SENSORDASH_LOG_LEVEL"
	EnvMetricsAddr = "SENSORDASH_METRICS_ADDR"
)

const (
	DefaultAPIURL      = "http://localhost:5000"
	DefaultHTTPTimeout = 5 * time.Second
	DefaultPageSize    = 10
	DefaultMetricsAddr = ":9108"
)

// Config holds all settings. The polling interval is fixed and not part of
// it.
type Config struct {
	APIURL      string        `yaml:"api_url"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	DataDir     string        `yaml:"data_dir"`
	Record      bool          `yaml:"record"`
	LogLevel    string        `yaml:"log_level"`
	MetricsAddr string        `yaml:"metrics_addr"`
	PageSize    int           `yaml:"page_size"`
	RangeLimit  int           `yaml:"range_limit"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		APIURL:      DefaultAPIURL,
		HTTPTimeout: DefaultHTTPTimeout,
		DataDir:     store.DefaultDir(),
		Record:      true,
		LogLevel:    "info",
		MetricsAddr: DefaultMetricsAddr,
		PageSize:    DefaultPageSize,
	}
}

// Load builds the configuration. path names a YAML file; when empty,
// SENSORDASH_CONFIG is used, and when that is empty too no file is read.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config %s: %w", path, err)
		}
	}

	cfg.APIURL = getenvDefault(EnvAPIURL, cfg.APIURL)
	cfg.DataDir = getenvDefault(EnvDataDir, cfg.DataDir)
	cfg.LogLevel = getenvDefault(EnvLogLevel, cfg.LogLevel)
	cfg.MetricsAddr = getenvDefault(EnvMetricsAddr, cfg.MetricsAddr)

	cfg.DataDir = expandHome(cfg.DataDir)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the settings and fills zero values with defaults.
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return errors.New("config: api_url required")
	}
	u, err := url.Parse(c.APIURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: invalid api_url %q", c.APIURL)
	}
	c.APIURL = strings.TrimRight(c.APIURL, "/")

	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = DefaultHTTPTimeout
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.RangeLimit < 0 {
		return fmt.Errorf("config: range_limit must not be negative, got %d", c.RangeLimit)
	}
	if c.DataDir == "" {
		c.DataDir = store.DefaultDir()
	}
	return nil
}

// LogPath is where the terminal UI writes its log.
func (c Config) LogPath() string {
	return filepath.Join(c.DataDir, "sensordash.log")
}

func (c Config) String() string {
	return "api_url=" + c.APIURL +
		" data_dir=" + c.DataDir +
		" record=" + strconv.FormatBool(c.Record) +
		" log_level=" + c.LogLevel +
		" page_size=" + strconv.Itoa(c.PageSize) +
		" range_limit=" + strconv.Itoa(c.RangeLimit)
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
