// Package config loads examcrawl settings from the environment, an optional
// .env file and an optional YAML file of site and wait overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/go-scripts/examcrawl/internal/duration"
	"github.com/go-scripts/examcrawl/pkg/common"
)

// Environment variable names
const (
	EnvEmail        = "FASTCAMPUS_EMAIL"
	EnvPassword     = "FASTCAMPUS_PASSWORD"
	EnvOrigins      = "CORS_ORIGINS"
	EnvPort         = "PORT"
	EnvOutputDir    = "EXAMCRAWL_OUTPUT_DIR"
	EnvConfigFile   = "EXAMCRAWL_CONFIG"
	EnvHistoryDB    = "EXAMCRAWL_HISTORY_DB"
	EnvHeadless     = "EXAMCRAWL_HEADLESS"
	EnvOTLPEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"
	EnvLogLevel     = "LOG_LEVEL"
)

// DefaultPort is the listen port when PORT is unset
const DefaultPort = 8000

// HistoryOff disables the run history when used as EXAMCRAWL_HISTORY_DB
const HistoryOff = "off"

// Waits are the browser timing tunables
type Waits struct {
	Primary   time.Duration `yaml:"primary"`
	Overlay   time.Duration `yaml:"overlay"`
	StepPause time.Duration `yaml:"step_pause"`
	PagePause time.Duration `yaml:"page_pause"`
}

// DefaultWaits returns the standard pacing
func DefaultWaits() Waits {
	return Waits{
		Primary:   duration.WaitPrimary,
		Overlay:   duration.WaitOverlay,
		StepPause: duration.StepPause,
		PagePause: duration.PagePause,
	}
}

// File is the layout of the YAML config file. Every field is optional.
type File struct {
	Site       common.Site `yaml:"site"`
	Waits      Waits       `yaml:"waits"`
	ChromePath string      `yaml:"chrome_path"`
	UserAgent  string      `yaml:"user_agent"`
}

// Config is the resolved configuration of one process
type Config struct {
	Email    string
	Password string

	Origins   []string
	Port      int
	OutputDir string
	HistoryDB string
	Headless  bool

	OTLPEndpoint string
	LogLevel     log.Level

	ConfigFile string
	Site       common.Site
	Waits      Waits
	ChromePath string
	UserAgent  string
}

// Load reads .env when present, then the environment, then the YAML file
// named by EXAMCRAWL_CONFIG.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg, err := FromEnv(os.Getenv)
	if err != nil {
		return nil, err
	}
	if cfg.ConfigFile != "" {
		if err := cfg.ApplyFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// FromEnv builds a Config from getenv with defaults for unset values
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		Email:        strings.TrimSpace(getenv(EnvEmail)),
		Password:     getenv(EnvPassword),
		Origins:      ParseOrigins(getenv(EnvOrigins)),
		Port:         DefaultPort,
		OutputDir:    ".",
		Headless:     true,
		OTLPEndpoint: getenv(EnvOTLPEndpoint),
		LogLevel:     log.InfoLevel,
		ConfigFile:   getenv(EnvConfigFile),
		Site:         common.DefaultSite(),
		Waits:        DefaultWaits(),
	}

	if v := getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("invalid %s %q", EnvPort, v)
		}
		cfg.Port = port
	}
	if v := getenv(EnvOutputDir); v != "" {
		cfg.OutputDir = v
	}
	if v := getenv(EnvHeadless); v != "" {
		headless, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q", EnvHeadless, v)
		}
		cfg.Headless = headless
	}
	if v := getenv(EnvLogLevel); v != "" {
		level, err := log.ParseLevel(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", EnvLogLevel, v, err)
		}
		cfg.LogLevel = level
	}

	switch v := getenv(EnvHistoryDB); v {
	case "":
		cfg.HistoryDB = filepath.Join(cfg.OutputDir, "examcrawl.db")
	case HistoryOff:
		cfg.HistoryDB = ""
	default:
		cfg.HistoryDB = v
	}
	return cfg, nil
}

// ApplyFile merges the YAML file at path over the current values. Empty
// fields in the file keep the current value.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := mergo.Merge(&c.Site, file.Site, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to merge site overrides: %w", err)
	}
	if err := mergo.Merge(&c.Waits, file.Waits, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to merge wait overrides: %w", err)
	}
	if file.ChromePath != "" {
		c.ChromePath = file.ChromePath
	}
	if file.UserAgent != "" {
		c.UserAgent = file.UserAgent
	}
	c.ConfigFile = path
	return nil
}

// ParseOrigins splits a comma-separated origin list. Empty means any origin.
func ParseOrigins(v string) []string {
	var origins []string
	for _, o := range strings.Split(v, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// HasCredentials reports whether both login values are set
func (c *Config) HasCredentials() bool {
	return c.Email != "" && c.Password != ""
}

// NewLogger returns the process logger at the configured level
func (c *Config) NewLogger() *log.Logger {
	return log.NewWithOptions(os.Stderr, log.Options{
		Level:           c.LogLevel,
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
	})
}
