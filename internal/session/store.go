// Package session owns authentication state: the persisted token record,
// the operation state machine guarding concurrent auth calls, and the
// proactive refresh timer.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Record is the persisted session state. Operation guards are deliberately
// not part of the record; only durable fields survive a restart.
type Record struct {
	AccessToken     string `json:"accessToken"`
	RefreshToken    string `json:"refreshToken"`
	User            *User  `json:"user,omitempty"`
	IsAuthenticated bool   `json:"isAuthenticated"`
	// TokenExpiry is the access token's exp claim in epoch milliseconds,
	// zero when the token carries no expiry.
	TokenExpiry int64 `json:"tokenExpiry"`
}

// FileStore persists the session record as a single JSON file. Writes are
// atomic (write to a temp file, then rename) so a crash mid-write never
// leaves a truncated record behind.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a store at path, creating parent directories as
// needed. The file itself is created on first Save.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Load reads the persisted record. A missing file is not an error; it
// returns (nil, nil) meaning no session.
func (s *FileStore) Load() (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session file: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing session file: %w", err)
	}
	return &rec, nil
}

// Save writes the record atomically. The file is created 0600; it holds
// bearer tokens.
func (s *FileStore) Save(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding session record: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing session file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return fmt.Errorf("replacing session file: %w", err)
	}
	return nil
}

// Clear removes the persisted record. Clearing an absent record is a no-op.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing session file: %w", err)
	}
	return nil
}
