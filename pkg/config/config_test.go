package config

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("LIGHTMINT_DATA_DIR", t.TempDir())

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", c.HTTPAddr)
	assert.True(t, c.LiteMode())
	assert.True(t, c.SimulatedLedger())
	assert.Equal(t, "fs", c.ArchiveBackend)
	assert.Equal(t, filepath.Join(c.DataDir, "archive"), c.ArchiveDir)
	assert.Equal(t, time.Hour, c.AuditInterval)
	assert.Equal(t, 1000, c.APIKeyQuota)
	assert.Equal(t, slog.LevelInfo, c.Level())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("LIGHTMINT_HTTP_ADDR", ":9090")
	t.Setenv("LIGHTMINT_DATABASE_URL", "postgres://u@localhost/lightmint")
	t.Setenv("LIGHTMINT_LEDGER_URL", "https://ledger.internal")
	t.Setenv("LIGHTMINT_API_KEYS", "k1:platform-a,k2:platform-b")
	t.Setenv("LIGHTMINT_LOG_LEVEL", "warn")
	t.Setenv("LIGHTMINT_AUDIT_INTERVAL", "10m")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", c.HTTPAddr)
	assert.False(t, c.LiteMode())
	assert.False(t, c.SimulatedLedger())
	assert.Equal(t, map[string]string{"k1": "platform-a", "k2": "platform-b"}, c.APIKeys)
	assert.Equal(t, slog.LevelWarn, c.Level())
	assert.Equal(t, 10*time.Minute, c.AuditInterval)
}

func TestLoad_DebugOverridesLevel(t *testing.T) {
	t.Setenv("LIGHTMINT_DEBUG", "true")
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, c.Level())
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			ArchiveBackend: "fs", ArchiveDir: "/tmp/a", LedgerPool: 10,
			RateLimitRPS: 1, RateLimitBurst: 1, TraceSampleRate: 1,
			AuditInterval: time.Hour, ReleaseInterval: time.Minute,
			ResumeInterval: time.Minute, ConfirmTimeout: time.Minute,
		}
	}
	c := base()
	require.NoError(t, c.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"s3 without bucket", func(c *Config) { c.ArchiveBackend = "s3" }, "archive bucket required"},
		{"unknown backend", func(c *Config) { c.ArchiveBackend = "ftp" }, "unknown archive backend"},
		{"empty pool", func(c *Config) { c.LedgerPool = 0 }, "pool must be positive"},
		{"bad ledger url", func(c *Config) { c.LedgerURL = "ledger:9000" }, "must be http(s)"},
		{"short secret", func(c *Config) { c.JWTSecret = "short" }, "at least 32 bytes"},
		{"sample rate", func(c *Config) { c.TraceSampleRate = 2 }, "sample rate"},
		{"zero interval", func(c *Config) { c.ReleaseInterval = 0 }, "release interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			assert.ErrorContains(t, c.Validate(), tt.want)
		})
	}
}
