// Package prefs provides durable client-side preference slots.
// Each slot is a string value with its own expiry, mirroring how the
// dashboard keeps its session token and view settings between runs.
package prefs

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"time"
)

// Slot keys and lifetimes.
const (
	KeyAuthToken = "auth_token"
	KeyDateRange = "dashboard_date_range"
	KeySidebar   = "sidebar_state"
	KeyTheme     = "theme"

	TokenTTL = 30 * 24 * time.Hour
	PrefTTL  = 365 * 24 * time.Hour
)

// Backend selects the storage implementation.
type Backend string

const (
	BackendFile   Backend = "file"
	BackendSQLite Backend = "sqlite"
	BackendMemory Backend = "memory"
)

// Store is a key/value store with per-key expiry.
type Store interface {
	// Get returns the value for key. Expired or missing keys report ok=false.
	Get(key string) (value string, ok bool, err error)

	// Set stores value for key, expiring after ttl (ttl <= 0 never expires).
	Set(key, value string, ttl time.Duration) error

	// Delete removes key. Missing keys are not an error.
	Delete(key string) error

	// Close releases resources.
	Close() error
}

// Open returns the store for the configured backend.
func Open(backend Backend, path string, logger *slog.Logger) (Store, error) {
	switch backend {
	case BackendSQLite:
		s, err := NewSQLiteStore(path, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		s, err := NewFileStore(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Theme values.
const (
	ThemeLight = "light"
	ThemeDark  = "dark"
)

// Prefs exposes the typed view settings stored in a Store.
// Read failures and malformed values resolve to defaults.
type Prefs struct {
	store  Store
	logger *slog.Logger
}

// NewPrefs wraps a store.
func NewPrefs(store Store, logger *slog.Logger) *Prefs {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prefs{store: store, logger: logger}
}

// Store returns the underlying slot store.
func (p *Prefs) Store() Store {
	return p.store
}

func (p *Prefs) get(key string) (string, bool) {
	v, ok, err := p.store.Get(key)
	if err != nil {
		p.logger.Warn("read preference failed", "key", key, "err", err)
		return "", false
	}
	return v, ok
}

// SidebarOpen reports whether the sidebar is expanded. Defaults to true.
func (p *Prefs) SidebarOpen() bool {
	v, ok := p.get(KeySidebar)
	if !ok {
		return true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return b
}

// SetSidebarOpen persists the sidebar flag for a year.
func (p *Prefs) SetSidebarOpen(open bool) error {
	return p.store.Set(KeySidebar, strconv.FormatBool(open), PrefTTL)
}

// Theme returns the stored theme. Defaults to light.
func (p *Prefs) Theme() string {
	v, ok := p.get(KeyTheme)
	if !ok || !ValidTheme(v) {
		return ThemeLight
	}
	return v
}

// SetTheme persists the theme for a year.
func (p *Prefs) SetTheme(theme string) error {
	if !ValidTheme(theme) {
		return &InvalidValueError{Key: KeyTheme, Value: theme}
	}
	return p.store.Set(KeyTheme, theme, PrefTTL)
}

// ValidTheme reports whether theme is a known theme name.
func ValidTheme(theme string) bool {
	return theme == ThemeLight || theme == ThemeDark
}

// GetJSON decodes a JSON slot into v. Malformed values report ok=false.
func (p *Prefs) GetJSON(key string, v any) bool {
	raw, ok := p.get(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		p.logger.Debug("discarding malformed preference", "key", key, "err", err)
		return false
	}
	return true
}

// SetJSON encodes v and stores it under key.
func (p *Prefs) SetJSON(key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.store.Set(key, string(b), ttl)
}

// InvalidValueError is returned when a value is not accepted for a slot.
type InvalidValueError struct {
	Key   string
	Value string
}

func (e *InvalidValueError) Error() string {
	return "invalid value " + strconv.Quote(e.Value) + " for " + e.Key
}

func expiresAt(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func expired(now, exp time.Time) bool {
	return !exp.IsZero() && !now.Before(exp)
}
