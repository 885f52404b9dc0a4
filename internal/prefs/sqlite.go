//go:build !mips64 && !mips64le && !ppc64 && !s390x

package prefs

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO required)
)

const schema = `
CREATE TABLE IF NOT EXISTS prefs (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    expires_at INTEGER NOT NULL DEFAULT 0,
    updated_at INTEGER NOT NULL
);
`

// SQLiteStore implements Store using SQLite with WAL mode.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore opens the SQLite store at the given path.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create prefs directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_journal=WAL&_sync=NORMAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite works best with single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	s := &SQLiteStore{db: db, logger: logger, now: time.Now}
	if n, err := s.prune(); err != nil {
		logger.Warn("prune expired prefs failed", "err", err)
	} else if n > 0 {
		logger.Debug("pruned expired prefs", "rows", n)
	}
	return s, nil
}

// Get returns the value for key.
func (s *SQLiteStore) Get(key string) (string, bool, error) {
	var value string
	var exp int64
	err := s.db.QueryRow(`SELECT value, expires_at FROM prefs WHERE key = ?`, key).Scan(&value, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get pref: %w", err)
	}
	if exp > 0 && s.now().UnixMilli() >= exp {
		return "", false, s.Delete(key)
	}
	return value, true, nil
}

// Set stores value for key.
func (s *SQLiteStore) Set(key, value string, ttl time.Duration) error {
	now := s.now()
	var exp int64
	if t := expiresAt(now, ttl); !t.IsZero() {
		exp = t.UnixMilli()
	}
	_, err := s.db.Exec(`
		INSERT INTO prefs (key, value, expires_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`, key, value, exp, now.UnixMilli())
	if err != nil {
		return fmt.Errorf("set pref: %w", err)
	}
	return nil
}

// Delete removes key.
func (s *SQLiteStore) Delete(key string) error {
	if _, err := s.db.Exec(`DELETE FROM prefs WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete pref: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) prune() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM prefs WHERE expires_at > 0 AND expires_at <= ?`, s.now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
