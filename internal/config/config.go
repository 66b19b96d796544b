// Package config loads go-sonar settings from an optional YAML file and
// SONAR_* environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pysugar/go-sonar/internal/sonar/parser"
)

// Environment variables consulted by Load.
const (
	EnvConfigFile      = "SONAR_CONFIG"
	EnvDatabase        = "SONAR_DB"
	EnvAddr            = "SONAR_ADDR"
	EnvExcludes        = "SONAR_EXCLUDES"
	EnvSensitiveFields = "SONAR_SENSITIVE_FIELDS"
	EnvLogLevel        = "SONAR_LOG_LEVEL"
	EnvRetention       = "SONAR_RETENTION"
)

const (
	DefaultAddr              = "127.0.0.1:8090"
	DefaultDatabase          = "sonar.db"
	DefaultRetentionSchedule = "@hourly"
)

// Config is the resolved configuration.
type Config struct {
	Addr              string        `yaml:"addr"`
	Database          string        `yaml:"database"`
	Excludes          []string      `yaml:"excludes"`
	SensitiveFields   []string      `yaml:"sensitive_fields"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes"`
	Middlewares       []string      `yaml:"middlewares"`
	Retention         time.Duration `yaml:"-"`
	RetentionSchedule string        `yaml:"retention_schedule"`
	LogLevel          string        `yaml:"log_level"`
	AdminPassword     string        `yaml:"admin_password"`

	// Source is the file the configuration was read from, empty when only
	// defaults and environment were used.
	Source string `yaml:"-"`
}

// fileConfig mirrors Config with durations kept as strings.
type fileConfig struct {
	Config    `yaml:",inline"`
	Retention string `yaml:"retention"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:              DefaultAddr,
		Database:          DefaultDatabase,
		MaxBodyBytes:      parser.DefaultMaxBodyBytes,
		RetentionSchedule: DefaultRetentionSchedule,
		LogLevel:          "info",
	}
}

// Load resolves the configuration: defaults, then the YAML file named by
// SONAR_CONFIG (or the first existing candidate path), then environment
// overrides.
func Load() (Config, error) {
	cfg := Default()

	path, err := resolveConfigPath()
	if err != nil {
		return cfg, err
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
		cfg.Source = path
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %q: %w", path, err)
	}

	fc := fileConfig{Config: *cfg}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %q: %w", path, err)
	}
	if raw := strings.TrimSpace(fc.Retention); raw != "" {
		d, err := parseRetention(raw)
		if err != nil {
			return fmt.Errorf("config file %q: %w", path, err)
		}
		fc.Config.Retention = d
	}

	*cfg = fc.Config
	cfg.Excludes = normalizeList(cfg.Excludes)
	cfg.SensitiveFields = normalizeList(cfg.SensitiveFields)
	cfg.Middlewares = normalizeList(cfg.Middlewares)
	return nil
}

func applyEnv(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv(EnvDatabase)); v != "" {
		cfg.Database = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAddr)); v != "" {
		cfg.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvExcludes)); v != "" {
		cfg.Excludes = splitList(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvSensitiveFields)); v != "" {
		cfg.SensitiveFields = splitList(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvRetention)); v != "" {
		d, err := parseRetention(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvRetention, err)
		}
		cfg.Retention = d
	}
	return nil
}

// parseRetention accepts Go durations plus a day suffix ("7d").
func parseRetention(raw string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(raw, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid retention %q", raw)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid retention %q", raw)
	}
	return d, nil
}

func resolveConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv(EnvConfigFile)); explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", err
		}
		return explicit, nil
	}

	candidates := []string{
		"sonar.yaml",
		"config/sonar.yaml",
		"/etc/sonar/sonar.yaml",
	}

	if homeDir, err := os.UserHomeDir(); err == nil && homeDir != "" {
		candidates = append(candidates,
			filepath.Join(homeDir, ".config", "sonar", "sonar.yaml"),
		)
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", nil
}

// splitList splits a comma separated environment value. Regex exclusion
// rules containing commas cannot be expressed this way; use the file.
func splitList(raw string) []string {
	return normalizeList(strings.Split(raw, ","))
}

func normalizeList(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(items))
	result := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if _, exists := seen[item]; exists {
			continue
		}
		seen[item] = struct{}{}
		result = append(result, item)
	}
	return result
}
