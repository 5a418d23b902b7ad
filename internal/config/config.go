// Package config resolves webmirror's configuration cascade: defaults <
// global (~/.webmirror/config.{yaml,json}) < project
// (.webmirror.{yaml,json}) < env vars < flags. Structure and cascade order
// are adapted directly from the teacher's cmd/gasoline-cmd/config/loader.go.
// YAML project files follow the same key-for-key fileConfig shape as the
// JSON form; YAML support itself is grounded on the pack's own
// gopkg.in/yaml.v3 project-config usage in _examples/vjache-cie/cmd/cie/config.go.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/webmirror/webmirror/internal/model"
)

// Config holds all resolved configuration values governing a crawl, plus
// process-wide knobs (cache location/size, global rate limits) that apply
// across sessions.
type Config struct {
	Options model.StartOptions `json:"options"`

	CacheDir     string `json:"cache_dir"`
	CacheMaxSize int64  `json:"cache_max_size"`
	SessionsDir  string `json:"sessions_dir"`
	LogLevel     string `json:"log_level"`
}

// FlagOverrides holds values explicitly set via command-line flags. A nil
// pointer means the flag was not set, so lower-priority values are kept.
type FlagOverrides struct {
	MaxDepth      *int
	MaxFiles      *int
	RateRPS       *float64
	MaxConcurrent *int
	CacheDir      *string
	LogLevel      *string
}

// Defaults returns the base configuration.
func Defaults() Config {
	return Config{
		Options:      model.DefaultStartOptions(),
		CacheDir:      ".webmirror-cache",
		CacheMaxSize:  500 * 1024 * 1024,
		SessionsDir:   ".webmirror-sessions",
		LogLevel:      "info",
	}
}

// Load builds the final configuration by applying the priority cascade:
// defaults < global (~/.webmirror/config.{yaml,json}) < project
// (.webmirror.{yaml,json}) < env vars < flags. YAML is tried first at each
// level so a project can prefer either format; only one of the two is read.
func Load(projectDir string, flags *FlagOverrides) (Config, error) {
	cfg := Defaults()

	if home, err := os.UserHomeDir(); err == nil {
		globalDir := filepath.Join(home, ".webmirror")
		if err := loadConfigFile(&cfg, globalDir, "config"); err != nil {
			return cfg, fmt.Errorf("global config: %w", err)
		}
	}

	if err := loadConfigFile(&cfg, projectDir, ".webmirror"); err != nil {
		return cfg, fmt.Errorf("project config: %w", err)
	}

	loadEnvVars(&cfg)

	if flags != nil {
		applyFlags(&cfg, flags)
	}

	cfg.Options = cfg.Options.Clamp()

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// fileConfig uses pointers to distinguish "not set" from zero values, the
// same trick the teacher's loader uses.
type fileConfig struct {
	MaxDepth      *int     `json:"max_depth"`
	MaxFiles      *int     `json:"max_files"`
	RateRPS       *float64 `json:"rate_rps"`
	MaxConcurrent *int     `json:"max_concurrent"`
	CacheDir      *string  `json:"cache_dir"`
	CacheMaxSize  *int64   `json:"cache_max_size"`
	LogLevel      *string  `json:"log_level"`
}

// loadConfigFile tries "<dir>/<base>.yaml", then "<dir>/<base>.yml", then
// "<dir>/<base>.json", applying whichever exists first. Absence of all three
// is not an error; a malformed file that does exist is.
func loadConfigFile(cfg *Config, dir, base string) error {
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(dir, base+ext)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		applyFileConfig(cfg, fc)
		return nil
	}
	return loadJSONFile(cfg, filepath.Join(dir, base+".json"))
}

func loadJSONFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	applyFileConfig(cfg, fc)
	return nil
}

func applyFileConfig(cfg *Config, fc fileConfig) {
	if fc.MaxDepth != nil {
		cfg.Options.MaxDepth = *fc.MaxDepth
	}
	if fc.MaxFiles != nil {
		cfg.Options.MaxFiles = *fc.MaxFiles
	}
	if fc.RateRPS != nil {
		cfg.Options.RateRPS = *fc.RateRPS
	}
	if fc.MaxConcurrent != nil {
		cfg.Options.RateMaxConcurrent = *fc.MaxConcurrent
	}
	if fc.CacheDir != nil {
		cfg.CacheDir = *fc.CacheDir
	}
	if fc.CacheMaxSize != nil {
		cfg.CacheMaxSize = *fc.CacheMaxSize
	}
	if fc.LogLevel != nil {
		cfg.LogLevel = *fc.LogLevel
	}
}

func loadEnvVars(cfg *Config) {
	if v := os.Getenv("WEBMIRROR_MAX_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Options.MaxDepth = n
		}
	}
	if v := os.Getenv("WEBMIRROR_CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}
	if v := os.Getenv("WEBMIRROR_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("WEBMIRROR_RATE_PS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Options.RateRPS = f
		}
	}
}

func applyFlags(cfg *Config, flags *FlagOverrides) {
	if flags.MaxDepth != nil {
		cfg.Options.MaxDepth = *flags.MaxDepth
	}
	if flags.MaxFiles != nil {
		cfg.Options.MaxFiles = *flags.MaxFiles
	}
	if flags.RateRPS != nil {
		cfg.Options.RateRPS = *flags.RateRPS
	}
	if flags.MaxConcurrent != nil {
		cfg.Options.RateMaxConcurrent = *flags.MaxConcurrent
	}
	if flags.CacheDir != nil {
		cfg.CacheDir = *flags.CacheDir
	}
	if flags.LogLevel != nil {
		cfg.LogLevel = *flags.LogLevel
	}
}

// Validate checks that configuration values are within acceptable ranges.
func (c Config) Validate() error {
	if c.Options.MaxDepth < 0 || c.Options.MaxDepth > 5 {
		return fmt.Errorf("max_depth must be 0-5, got %d", c.Options.MaxDepth)
	}
	if c.CacheMaxSize <= 0 {
		return fmt.Errorf("cache_max_size must be positive, got %d", c.CacheMaxSize)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}
	return nil
}
