package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"dmarc-dash/internal/prefs"
)

// Config contains all runtime configuration for the dashboard client.
type Config struct {
	// Core
	APIBaseURL string
	LogLevel   string

	// Preference slots
	PrefsBackend prefs.Backend
	PrefsPath    string

	// Backend calls
	RequestTimeout time.Duration

	// List views
	SearchDebounce  time.Duration
	ReportsPageSize int
	DomainsPageSize int
	FilesPageSize   int
	ListCacheTTL    time.Duration

	// Destructive actions
	ConfirmTTL time.Duration

	// serve mode
	ListenAddr          string
	HealthCheckInterval time.Duration
	HealthCheckTimeout  time.Duration

	// Day boundaries; empty means the local zone.
	Timezone string
}

// Load reads .env from the working directory if present, then parses env
// vars and returns a validated Config. Variables already set in the
// environment take precedence over .env.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	backend := prefs.Backend(getEnvString("PREFS_BACKEND", string(prefs.BackendFile)))

	cfg := Config{
		// Core
		APIBaseURL: strings.TrimRight(getEnvString("API_BASE_URL", "http://localhost:8000"), "/"),
		LogLevel:   getEnvString("LOG_LEVEL", "info"),

		// Preference slots
		PrefsBackend: backend,
		PrefsPath:    getEnvString("PREFS_PATH", defaultPrefsPath(backend)),

		// Backend calls
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 10*time.Second),

		// List views
		SearchDebounce:  getEnvDuration("SEARCH_DEBOUNCE", 300*time.Millisecond),
		ReportsPageSize: getEnvInt("REPORTS_PAGE_SIZE", 20),
		DomainsPageSize: getEnvInt("DOMAINS_PAGE_SIZE", 50),
		FilesPageSize:   getEnvInt("FILES_PAGE_SIZE", 50),
		ListCacheTTL:    getEnvDuration("LIST_CACHE_TTL", 30*time.Second),

		// Destructive actions
		ConfirmTTL: getEnvDuration("CONFIRM_TTL", 5*time.Minute),

		// serve mode
		ListenAddr:          getEnvString("LISTEN_ADDR", "127.0.0.1:8090"),
		HealthCheckInterval: getEnvDuration("HEALTH_CHECK_INTERVAL", 30*time.Second),
		HealthCheckTimeout:  getEnvDuration("HEALTH_CHECK_TIMEOUT", 5*time.Second),

		Timezone: getEnvString("TIMEZONE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks configuration constraints.
func (c Config) Validate() error {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid API_BASE_URL: %q (must be an http or https URL)", c.APIBaseURL)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
		// ok
	default:
		return fmt.Errorf("invalid LOG_LEVEL: %q (must be debug|info|warn|error)", c.LogLevel)
	}

	// Prefs validation
	switch c.PrefsBackend {
	case prefs.BackendFile, prefs.BackendSQLite:
		if c.PrefsPath == "" {
			return fmt.Errorf("PREFS_PATH must be set for PREFS_BACKEND=%s", c.PrefsBackend)
		}
	case prefs.BackendMemory:
		// ok
	default:
		return fmt.Errorf("invalid PREFS_BACKEND: %q (must be file|sqlite|memory)", c.PrefsBackend)
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be > 0")
	}

	// List validation
	if c.SearchDebounce <= 0 {
		return fmt.Errorf("SEARCH_DEBOUNCE must be > 0")
	}
	if c.ReportsPageSize < 1 || c.DomainsPageSize < 1 || c.FilesPageSize < 1 {
		return fmt.Errorf("page sizes must be >= 1")
	}
	if c.ListCacheTTL < 0 {
		return fmt.Errorf("LIST_CACHE_TTL must be >= 0")
	}

	if c.ConfirmTTL <= 0 {
		return fmt.Errorf("CONFIRM_TTL must be > 0")
	}

	// Health check
	if c.HealthCheckInterval <= 0 {
		return fmt.Errorf("HEALTH_CHECK_INTERVAL must be > 0")
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("HEALTH_CHECK_TIMEOUT must be > 0")
	}

	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid TIMEZONE: %q: %w", c.Timezone, err)
	}

	return nil
}

// Location returns the zone used for calendar-day boundaries.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

func defaultPrefsPath(backend prefs.Backend) string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	name := "prefs.json"
	if backend == prefs.BackendSQLite {
		name = "prefs.sqlite"
	}
	return filepath.Join(dir, "dmarc-dash", name)
}

// Helper functions for parsing environment variables

func getEnvString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return def
}
