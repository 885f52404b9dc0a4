//go:build mips64 || mips64le || ppc64 || s390x

package prefs

import (
	"errors"
	"log/slog"
	"time"
)

// SQLiteStore is unavailable on this platform.
type SQLiteStore struct{}

// NewSQLiteStore returns an error on unsupported platforms.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	return nil, errors.New("SQLite prefs are not supported on this platform, use PREFS_BACKEND=file instead")
}

func (s *SQLiteStore) Get(key string) (string, bool, error) { return "", false, nil }
func (s *SQLiteStore) Set(key, value string, ttl time.Duration) error { return nil }
func (s *SQLiteStore) Delete(key string) error { return nil }
func (s *SQLiteStore) Close() error { return nil }
