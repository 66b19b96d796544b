package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sonar.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `addr: ":9000"
database: /tmp/capture.db
excludes:
  - /static/
  - r^/api/v[0-9]+/
  - /static/
sensitive_fields: [pin_code, " otp "]
middlewares: [RequestID, Recoverer]
max_body_bytes: 2048
retention: 7d
retention_schedule: "@daily"
log_level: debug
admin_password: hunter2
`)
	t.Setenv(EnvConfigFile, path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, "/tmp/capture.db", cfg.Database)
	assert.Equal(t, []string{"/static/", "r^/api/v[0-9]+/"}, cfg.Excludes)
	assert.Equal(t, []string{"pin_code", "otp"}, cfg.SensitiveFields)
	assert.Equal(t, []string{"RequestID", "Recoverer"}, cfg.Middlewares)
	assert.Equal(t, int64(2048), cfg.MaxBodyBytes)
	assert.Equal(t, 7*24*time.Hour, cfg.Retention)
	assert.Equal(t, "@daily", cfg.RetentionSchedule)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "hunter2", cfg.AdminPassword)
	assert.Equal(t, path, cfg.Source)
}

func TestLoad_DefaultsKeptForMissingKeys(t *testing.T) {
	t.Setenv(EnvConfigFile, writeConfig(t, "log_level: warn\n"))

	cfg, err := Load()
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.Addr, cfg.Addr)
	assert.Equal(t, def.Database, cfg.Database)
	assert.Equal(t, def.MaxBodyBytes, cfg.MaxBodyBytes)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Zero(t, cfg.Retention)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvConfigFile, writeConfig(t, "addr: \":9000\"\nexcludes: [/a/]\n"))
	t.Setenv(EnvAddr, ":7000")
	t.Setenv(EnvDatabase, "file::memory:")
	t.Setenv(EnvExcludes, "/static/, /media/,,")
	t.Setenv(EnvSensitiveFields, "otp")
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvRetention, "36h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Addr)
	assert.Equal(t, "file::memory:", cfg.Database)
	assert.Equal(t, []string{"/static/", "/media/"}, cfg.Excludes)
	assert.Equal(t, []string{"otp"}, cfg.SensitiveFields)
	assert.Equal(t, "error", cfg.LogLevel)
	assert.Equal(t, 36*time.Hour, cfg.Retention)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	t.Setenv(EnvConfigFile, filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	t.Setenv(EnvConfigFile, writeConfig(t, "excludes: [unterminated\n"))

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_InvalidRetention(t *testing.T) {
	t.Setenv(EnvConfigFile, writeConfig(t, "log_level: info\n"))
	t.Setenv(EnvRetention, "soon")

	_, err := Load()
	assert.Error(t, err)
}

func TestParseRetention(t *testing.T) {
	cases := map[string]time.Duration{
		"0d":  0,
		"30d": 30 * 24 * time.Hour,
		"90m": 90 * time.Minute,
	}
	for raw, want := range cases {
		got, err := parseRetention(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	for _, raw := range []string{"-1d", "xd", "-5m", ""} {
		_, err := parseRetention(raw)
		assert.Error(t, err, raw)
	}
}
