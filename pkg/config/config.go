// Package config loads server configuration from LIGHTMINT_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "LIGHTMINT"

// Config holds server configuration.
type Config struct {
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`
	LogLevel    string `split_words:"true" default:"INFO"`
	Debug       bool   `default:"false"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	DataDir     string `split_words:"true" default:"./data"`
	RedisAddr   string `split_words:"true"`

	ArchiveBackend  string `split_words:"true" default:"fs"`
	ArchiveDir      string `split_words:"true"`
	ArchiveBucket   string `split_words:"true"`
	ArchiveRegion   string `split_words:"true"`
	ArchiveEndpoint string `split_words:"true"`
	ArchivePrefix   string `split_words:"true"`

	// LedgerURL selects the HTTP ledger gateway; empty runs the in-process
	// simulated ledger funded with LedgerPool.
	LedgerURL   string  `envconfig:"LEDGER_URL"`
	LedgerToken string  `split_words:"true"`
	LedgerPool  float64 `split_words:"true" default:"1000000"`

	AttesterKeyPath string `split_words:"true"`
	AttesterKeyID   string `envconfig:"ATTESTER_KEY_ID" default:"attester-1"`

	JWTSecret      string            `envconfig:"JWT_SECRET"`
	APIKeys        map[string]string `envconfig:"API_KEYS"`
	APIKeyQuota    int               `envconfig:"API_KEY_QUOTA" default:"1000"`
	AdminKey       string            `split_words:"true"`
	RateLimitRPS   float64           `envconfig:"RATE_LIMIT_RPS" default:"20"`
	RateLimitBurst int               `split_words:"true" default:"40"`

	PolicyFile string `split_words:"true"`

	OTLPEnabled     bool    `envconfig:"OTLP_ENABLED" default:"false"`
	OTLPEndpoint    string  `envconfig:"OTLP_ENDPOINT" default:"localhost:4317"`
	OTLPInsecure    bool    `envconfig:"OTLP_INSECURE" default:"true"`
	TraceSampleRate float64 `split_words:"true" default:"1.0"`
	Environment     string  `default:"development"`

	AuditInterval   time.Duration `split_words:"true" default:"1h"`
	ReleaseInterval time.Duration `split_words:"true" default:"1m"`
	ResumeInterval  time.Duration `split_words:"true" default:"30s"`
	ConfirmTimeout  time.Duration `split_words:"true" default:"2m"`
	ShutdownTimeout time.Duration `split_words:"true" default:"15s"`
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process(envPrefix, &c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if c.ArchiveDir == "" {
		c.ArchiveDir = filepath.Join(c.DataDir, "archive")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LiteMode reports whether the server runs on embedded SQLite.
func (c *Config) LiteMode() bool {
	return c.DatabaseURL == ""
}

// SQLitePath is the database file used in lite mode.
func (c *Config) SQLitePath() string {
	return filepath.Join(c.DataDir, "lightmint.db")
}

// SimulatedLedger reports whether the in-process ledger is used.
func (c *Config) SimulatedLedger() bool {
	return c.LedgerURL == ""
}

// Level parses LogLevel.
func (c *Config) Level() slog.Level {
	if c.Debug {
		return slog.LevelDebug
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Validate checks option combinations.
func (c *Config) Validate() error {
	var errs []error
	switch c.ArchiveBackend {
	case "fs":
		if c.ArchiveDir == "" {
			errs = append(errs, errors.New("archive dir required for fs backend"))
		}
	case "s3", "gcs":
		if c.ArchiveBucket == "" {
			errs = append(errs, fmt.Errorf("archive bucket required for %s backend", c.ArchiveBackend))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown archive backend %q", c.ArchiveBackend))
	}
	if c.SimulatedLedger() && c.LedgerPool <= 0 {
		errs = append(errs, errors.New("simulated ledger pool must be positive"))
	}
	if c.LedgerURL != "" && !strings.HasPrefix(c.LedgerURL, "http://") && !strings.HasPrefix(c.LedgerURL, "https://") {
		errs = append(errs, fmt.Errorf("ledger url %q must be http(s)", c.LedgerURL))
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		errs = append(errs, errors.New("jwt secret must be at least 32 bytes"))
	}
	if c.APIKeyQuota < 0 {
		errs = append(errs, errors.New("api key quota must not be negative"))
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("rate limit rps and burst must be positive"))
	}
	if c.TraceSampleRate < 0 || c.TraceSampleRate > 1 {
		errs = append(errs, errors.New("trace sample rate must be within [0,1]"))
	}
	for name, d := range map[string]time.Duration{
		"audit interval":   c.AuditInterval,
		"release interval": c.ReleaseInterval,
		"resume interval":  c.ResumeInterval,
		"confirm timeout":  c.ConfirmTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
