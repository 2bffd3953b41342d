// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	GitHubToken    string
	WebhookSecret  string
	ListenAddr     string
	DBPath         string
	CheckName      string
	OracleBin      string
	OracleArgs     []string
	OracleTimeout  time.Duration
	Retention      time.Duration
	ReportAttempts uint
	CommentSummary bool
}

// Load reads configuration from environment variables and returns a validated
// Config. A .env file in the working directory is read first when present;
// variables already set in the environment win over file values.
//
// CUSTOMS_GITHUB_TOKEN is required. Optional variables with defaults:
// CUSTOMS_WEBHOOK_SECRET (empty disables signature verification),
// CUSTOMS_LISTEN_ADDR (127.0.0.1:8081), CUSTOMS_DB_PATH (nickel-customs.db),
// CUSTOMS_CHECK_NAME (nickel-customs / package sanity), CUSTOMS_ORACLE_BIN
// (nickel), CUSTOMS_ORACLE_ARGS (package sanity-check),
// CUSTOMS_ORACLE_TIMEOUT (2m), CUSTOMS_RETENTION (1h),
// CUSTOMS_REPORT_ATTEMPTS (5), CUSTOMS_COMMENT_SUMMARY (false).
func Load() (*Config, error) {
	// Missing .env is fine; godotenv never overrides already-set variables.
	_ = godotenv.Load()

	token := os.Getenv("CUSTOMS_GITHUB_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("CUSTOMS_GITHUB_TOKEN is required")
	}

	cfg := &Config{
		GitHubToken:    token,
		WebhookSecret:  os.Getenv("CUSTOMS_WEBHOOK_SECRET"),
		ListenAddr:     "127.0.0.1:8081",
		DBPath:         "nickel-customs.db",
		CheckName:      "nickel-customs / package sanity",
		OracleBin:      "nickel",
		OracleArgs:     []string{"package", "sanity-check"},
		OracleTimeout:  2 * time.Minute,
		Retention:      1 * time.Hour,
		ReportAttempts: 5,
	}

	if v, ok := os.LookupEnv("CUSTOMS_LISTEN_ADDR"); ok && v != "" {
		cfg.ListenAddr = v
	}
	if v, ok := os.LookupEnv("CUSTOMS_DB_PATH"); ok && v != "" {
		cfg.DBPath = v
	}
	if v, ok := os.LookupEnv("CUSTOMS_CHECK_NAME"); ok && v != "" {
		cfg.CheckName = v
	}
	if v, ok := os.LookupEnv("CUSTOMS_ORACLE_BIN"); ok && v != "" {
		cfg.OracleBin = v
	}
	if v, ok := os.LookupEnv("CUSTOMS_ORACLE_ARGS"); ok {
		cfg.OracleArgs = strings.Fields(v)
	}

	timeout, err := durationEnv("CUSTOMS_ORACLE_TIMEOUT", cfg.OracleTimeout)
	if err != nil {
		return nil, err
	}
	cfg.OracleTimeout = timeout

	retention, err := durationEnv("CUSTOMS_RETENTION", cfg.Retention)
	if err != nil {
		return nil, err
	}
	cfg.Retention = retention

	if v, ok := os.LookupEnv("CUSTOMS_REPORT_ATTEMPTS"); ok {
		parsed, err := strconv.ParseUint(v, 10, 32)
		if err != nil || parsed == 0 {
			return nil, fmt.Errorf("CUSTOMS_REPORT_ATTEMPTS has invalid value %q: want a positive integer", v)
		}
		cfg.ReportAttempts = uint(parsed)
	}

	if v, ok := os.LookupEnv("CUSTOMS_COMMENT_SUMMARY"); ok {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("CUSTOMS_COMMENT_SUMMARY has invalid value %q: %w", v, err)
		}
		cfg.CommentSummary = parsed
	}

	return cfg, nil
}

// durationEnv parses key as a positive duration, returning fallback when the
// variable is unset.
func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}

	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", key, v, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %q", key, v)
	}
	return parsed, nil
}
