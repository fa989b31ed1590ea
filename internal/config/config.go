// Package config loads runtime configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries every runtime knob the scanner exposes. All fields have
// working defaults; environment variables override them.
type Config struct {
	// ListenAddr is the HTTP listen address for the API server.
	ListenAddr string

	// ConnectTimeout bounds dialing and the TLS handshake per attempt.
	ConnectTimeout time.Duration

	// ReadTimeout bounds the whole fetch including the body read.
	ReadTimeout time.Duration

	// MaxResponseBytes caps how much of a response body is read. A declared
	// or actual size at or over the cap classifies as response-too-large.
	MaxResponseBytes int64

	// MaxRedirects caps redirect following per fetch.
	MaxRedirects int

	// RetryMax is the number of additional attempts for GET/HEAD on
	// 500/502/503/504 responses.
	RetryMax int

	// UserAgent identifies the scanner. Never spoofed as a browser.
	UserAgent string

	// DNSTimeout bounds each SPF/DMARC TXT lookup.
	DNSTimeout time.Duration

	// CacheTTL is how long a completed scan is served from cache.
	CacheTTL time.Duration

	// TaskTimeLimit is the hard wall-clock budget for one scan; the worker
	// cancels the scan context when it elapses.
	TaskTimeLimit time.Duration

	// TaskSoftTimeLimit logs a warning when a scan runs past it.
	TaskSoftTimeLimit time.Duration

	// MaxWorkers bounds concurrently executing scans.
	MaxWorkers int

	// SyncMode disables the background worker path: scans run inline and
	// the full result is returned directly.
	SyncMode bool

	// DatabasePath is the SQLite file for scan history.
	DatabasePath string

	// AllowPrivateTargets disables the SSRF address checks. Development
	// only, for scanning the local demo server.
	AllowPrivateTargets bool
}

// Default returns a Config populated with production defaults.
func Default() *Config {
	return &Config{
		ListenAddr:          ":8080",
		ConnectTimeout:      5 * time.Second,
		ReadTimeout:         30 * time.Second,
		MaxResponseBytes:    10 * 1024 * 1024,
		MaxRedirects:        3,
		RetryMax:            2,
		UserAgent:           "websentry/1.0 (+https://github.com/wrenlabs/websentry)",
		DNSTimeout:          5 * time.Second,
		CacheTTL:            time.Hour,
		TaskTimeLimit:       120 * time.Second,
		TaskSoftTimeLimit:   110 * time.Second,
		MaxWorkers:          8,
		SyncMode:            false,
		DatabasePath:        "websentry.db",
		AllowPrivateTargets: false,
	}
}

// Load builds a Config from defaults overridden by the environment. A .env
// file is honored when present and ignored when absent.
func Load() (*Config, error) {
	// Missing .env is the normal case outside development.
	_ = godotenv.Load()

	cfg := Default()
	cfg.ListenAddr = getEnvOrDefault("WEBSENTRY_LISTEN_ADDR", cfg.ListenAddr)
	cfg.UserAgent = getEnvOrDefault("WEBSENTRY_USER_AGENT", cfg.UserAgent)
	cfg.DatabasePath = getEnvOrDefault("WEBSENTRY_DB_PATH", cfg.DatabasePath)

	var err error
	if cfg.ConnectTimeout, err = envDuration("WEBSENTRY_CONNECT_TIMEOUT", cfg.ConnectTimeout); err != nil {
		return nil, err
	}
	if cfg.ReadTimeout, err = envDuration("WEBSENTRY_READ_TIMEOUT", cfg.ReadTimeout); err != nil {
		return nil, err
	}
	if cfg.DNSTimeout, err = envDuration("WEBSENTRY_DNS_TIMEOUT", cfg.DNSTimeout); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = envDuration("WEBSENTRY_CACHE_TTL", cfg.CacheTTL); err != nil {
		return nil, err
	}
	if cfg.TaskTimeLimit, err = envDuration("WEBSENTRY_TASK_TIME_LIMIT", cfg.TaskTimeLimit); err != nil {
		return nil, err
	}
	if cfg.TaskSoftTimeLimit, err = envDuration("WEBSENTRY_TASK_SOFT_TIME_LIMIT", cfg.TaskSoftTimeLimit); err != nil {
		return nil, err
	}
	if cfg.MaxResponseBytes, err = envInt64("WEBSENTRY_MAX_RESPONSE_BYTES", cfg.MaxResponseBytes); err != nil {
		return nil, err
	}
	if cfg.MaxRedirects, err = envInt("WEBSENTRY_MAX_REDIRECTS", cfg.MaxRedirects); err != nil {
		return nil, err
	}
	if cfg.RetryMax, err = envInt("WEBSENTRY_RETRY_MAX", cfg.RetryMax); err != nil {
		return nil, err
	}
	if cfg.MaxWorkers, err = envInt("WEBSENTRY_MAX_WORKERS", cfg.MaxWorkers); err != nil {
		return nil, err
	}
	if cfg.SyncMode, err = envBool("WEBSENTRY_SYNC_MODE", cfg.SyncMode); err != nil {
		return nil, err
	}
	if cfg.AllowPrivateTargets, err = envBool("WEBSENTRY_ALLOW_PRIVATE_TARGETS", cfg.AllowPrivateTargets); err != nil {
		return nil, err
	}

	if cfg.TaskSoftTimeLimit >= cfg.TaskTimeLimit {
		return nil, fmt.Errorf("WEBSENTRY_TASK_SOFT_TIME_LIMIT (%s) must be below WEBSENTRY_TASK_TIME_LIMIT (%s)",
			cfg.TaskSoftTimeLimit, cfg.TaskTimeLimit)
	}
	if cfg.MaxWorkers < 1 {
		return nil, fmt.Errorf("WEBSENTRY_MAX_WORKERS must be at least 1")
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return d, nil
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return n, nil
}

func envInt64(key string, def int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return n, nil
}

func envBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s: %w", key, err)
	}
	return b, nil
}
