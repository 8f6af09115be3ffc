// Package config loads console settings from an optional YAML file and
// SMARTMINE_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tphummel/smartmine/internal/apiclient"
	"github.com/tphummel/smartmine/internal/refresh"
)

// Environment variables.
const (
	EnvConfigPath      = "SMARTMINE_CONFIG"
	EnvBackendURL      = "SMARTMINE_BACKEND_URL"
	EnvBackendTimeout  = "SMARTMINE_BACKEND_TIMEOUT"
	EnvPort            = "SMARTMINE_PORT"
	EnvRefreshInterval = "SMARTMINE_REFRESH_INTERVAL"
	EnvSampleDir       = "SMARTMINE_SAMPLE_DIR"
	EnvLogLevel        = "SMARTMINE_LOG_LEVEL"
)

// Config is the console configuration.
type Config struct {
	Backend BackendConfig `yaml:"backend"`
	Web     WebConfig     `yaml:"web"`
	Refresh RefreshConfig `yaml:"refresh"`
	Sample  SampleConfig  `yaml:"sample"`
	Log     LogConfig     `yaml:"log"`
}

type BackendConfig struct {
	URL string `yaml:"url"`
	// Timeout bounds each backend request; zero means no limit beyond the
	// request's context.
	Timeout time.Duration `yaml:"timeout"`
}

type WebConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type RefreshConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// SampleConfig points at a directory holding sample-data.json. Empty means
// the copy built into the binary.
type SampleConfig struct {
	Dir string `yaml:"dir"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Backend: BackendConfig{URL: apiclient.DefaultBaseURL},
		Web:     WebConfig{Port: 8080},
		Refresh: RefreshConfig{Interval: refresh.DefaultInterval},
		Log:     LogConfig{Level: "info"},
	}
}

// Load applies the YAML file at path (skipped when path is empty or the
// file does not exist) and then environment overrides on top of Defaults.
// The result is validated.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv(EnvBackendURL); v != "" {
		cfg.Backend.URL = v
	}
	if v := os.Getenv(EnvBackendTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvBackendTimeout, err)
		}
		cfg.Backend.Timeout = d
	}
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		cfg.Web.Port = port
	}
	if v := os.Getenv(EnvRefreshInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvRefreshInterval, err)
		}
		cfg.Refresh.Interval = d
	}
	if v := os.Getenv(EnvSampleDir); v != "" {
		cfg.Sample.Dir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Backend.URL == "" {
		return errors.New("backend url is required")
	}
	u, err := url.Parse(c.Backend.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("backend url %q must be an absolute http(s) URL", c.Backend.URL)
	}
	if c.Backend.Timeout < 0 {
		return fmt.Errorf("backend timeout %v must not be negative", c.Backend.Timeout)
	}
	if c.Web.Port < 1 || c.Web.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Web.Port)
	}
	if c.Refresh.Interval <= 0 {
		return fmt.Errorf("refresh interval %v must be positive", c.Refresh.Interval)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// Addr is the console's listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Web.Host, c.Web.Port)
}

// LogLevel returns the configured slog level.
func (c Config) LogLevel() slog.Level {
	l, _ := parseLevel(c.Log.Level)
	return l
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}
