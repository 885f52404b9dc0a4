package prefs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore implements Store as a JSON document on disk.
// It is safe for concurrent use within one process.
type FileStore struct {
	mu      sync.RWMutex
	file    string
	entries map[string]entry
	now     func() time.Time
}

// NewFileStore opens (or lazily creates) the JSON store at path.
// A missing file is an empty store; an unreadable one is an error.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("prefs file path is empty")
	}
	s := &FileStore{
		file:    path,
		entries: make(map[string]entry),
		now:     time.Now,
	}
	if err := s.Load(); err != nil {
		return nil, fmt.Errorf("load prefs: %w", err)
	}
	return s, nil
}

// Load reads entries from disk, dropping expired ones.
func (s *FileStore) Load() error {
	b, err := os.ReadFile(s.file)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var data map[string]entry
	if len(b) > 0 {
		if err := json.Unmarshal(b, &data); err != nil {
			return err
		}
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range data {
		if expired(now, v.ExpiresAt) {
			continue
		}
		s.entries[k] = v
	}
	return nil
}

// Get returns the value for key.
func (s *FileStore) Get(key string) (string, bool, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return "", false, nil
	}
	if expired(s.now(), e.ExpiresAt) {
		return "", false, s.Delete(key)
	}
	return e.Value, true, nil
}

// Set stores value for key and persists the document.
func (s *FileStore) Set(key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry{Value: value, ExpiresAt: expiresAt(s.now(), ttl)}
	return s.saveLocked()
}

// Delete removes key and persists the document.
func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		return nil
	}
	delete(s.entries, key)
	return s.saveLocked()
}

// Close is a no-op; every write is already on disk.
func (s *FileStore) Close() error {
	return nil
}

// saveLocked persists entries. Caller must hold s.mu.
// The file holds the session token, so it is written owner-only.
func (s *FileStore) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.file), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.file + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.file)
}
