// Package config loads runtime settings for the entitlement services.
//
// Settings come from, in increasing precedence: built-in defaults, a .env
// file in ENTITLEMENTS_CONFIG_DIR, a .env file in the working directory, and
// the process environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/LaTars4444/laeoutreach/internal/logging"
)

const envPrefix = "ENTITLEMENTS_"

// Config holds runtime settings. The evaluator itself takes no configuration
// beyond its policy table.
type Config struct {
	ConfigDir string

	LogLevel  string
	LogFormat string
	LogFile   string

	// PolicyPath points at a YAML policy table. Empty uses the built-in table.
	PolicyPath         string
	PolicyPollInterval time.Duration

	// AccountsDBPath points at the SQLite database holding the users table.
	AccountsDBPath string

	ListenAddr  string
	MetricsAddr string

	AuditConcurrency int

	// EnvOverrides records which settings came from the environment.
	EnvOverrides map[string]bool
}

// Defaults returns a Config populated with built-in defaults.
func Defaults() *Config {
	return &Config{
		ConfigDir:          "/etc/laeoutreach",
		LogLevel:           "info",
		LogFormat:          "auto",
		PolicyPollInterval: 5 * time.Second,
		AccountsDBPath:     "titan.db",
		ListenAddr:         "127.0.0.1:8085",
		MetricsAddr:        "127.0.0.1:9095",
		AuditConcurrency:   4,
		EnvOverrides:       make(map[string]bool),
	}
}

// Load reads .env files and environment variables on top of the defaults.
func Load() (*Config, error) {
	cfg := Defaults()
	if dir := os.Getenv(envPrefix + "CONFIG_DIR"); dir != "" {
		cfg.ConfigDir = dir
	}

	// godotenv.Load never overrides variables that are already set, so the
	// process environment wins over both files.
	envFile := filepath.Join(cfg.ConfigDir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			log.Warn().Err(err).Str("file", envFile).Msg("Failed to load .env file")
		} else {
			log.Info().Str("file", envFile).Msg("Loaded .env file for deployment overrides")
		}
	}
	if err := godotenv.Load(); err == nil {
		log.Info().Msg("Loaded configuration from .env in current directory")
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"LOG_LEVEL":        &c.LogLevel,
		"LOG_FORMAT":       &c.LogFormat,
		"LOG_FILE":         &c.LogFile,
		"POLICY_PATH":      &c.PolicyPath,
		"ACCOUNTS_DB_PATH": &c.AccountsDBPath,
		"LISTEN_ADDR":      &c.ListenAddr,
		"METRICS_ADDR":     &c.MetricsAddr,
	}
	for key, target := range strs {
		if value, ok := lookupEnv(key); ok {
			*target = value
			c.EnvOverrides[key] = true
		}
	}

	if value, ok := lookupEnv("POLICY_POLL_INTERVAL"); ok {
		interval, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("parse %sPOLICY_POLL_INTERVAL: %w", envPrefix, err)
		}
		c.PolicyPollInterval = interval
		c.EnvOverrides["POLICY_POLL_INTERVAL"] = true
	}

	if value, ok := lookupEnv("AUDIT_CONCURRENCY"); ok {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("parse %sAUDIT_CONCURRENCY: %w", envPrefix, err)
		}
		c.AuditConcurrency = n
		c.EnvOverrides["AUDIT_CONCURRENCY"] = true
	}
	return nil
}

func lookupEnv(key string) (string, bool) {
	value, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return "", false
	}
	return strings.Trim(strings.TrimSpace(value), "'\""), true
}

// Validate checks settings that would otherwise fail late.
func (c *Config) Validate() error {
	if !logging.ValidLevel(c.LogLevel) {
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "auto", "json", "console":
	default:
		return fmt.Errorf("invalid log format %q", c.LogFormat)
	}
	if c.PolicyPollInterval <= 0 {
		return fmt.Errorf("policy poll interval must be positive, got %s", c.PolicyPollInterval)
	}
	if c.AuditConcurrency < 1 {
		return fmt.Errorf("audit concurrency must be at least 1, got %d", c.AuditConcurrency)
	}
	return nil
}
