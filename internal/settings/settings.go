// Package settings persists the operator's small key-value settings across
// restarts: the session token and last-used form defaults. Secrets such as
// the one-time code are never written to disk.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// AppName tags orders and names the config directory.
const AppName = "AutoHedger"

// Settings is the persisted record.
type Settings struct {
	Enctoken        string  `json:"enctoken,omitempty"`
	Username        string  `json:"username,omitempty"`
	HedgePercentage float64 `json:"hedge_percentage,omitempty"`
}

// Store reads and writes the settings file.
type Store struct {
	mu   sync.RWMutex
	path string
	data Settings
}

// DefaultPath returns the settings file location under the user's
// application config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolving config dir: %w", err)
	}
	return filepath.Join(dir, AppName, "settings.json"), nil
}

// NewStore opens the settings file at path, creating an empty record when
// the file does not exist yet.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}

	data, err := os.ReadFile(path) // #nosec G304 -- operator-owned settings path
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}
	if err := json.Unmarshal(data, &s.data); err != nil {
		return nil, fmt.Errorf("parsing settings: %w", err)
	}
	return s, nil
}

// Get returns a copy of the current settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data
}

// Update applies fn to the settings and writes the result to disk.
func (s *Store) Update(fn func(*Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(&s.data)
	return s.save()
}

// Token returns the persisted session token, empty when absent.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Enctoken
}

// SetToken persists the session token.
func (s *Store) SetToken(token string) error {
	return s.Update(func(st *Settings) { st.Enctoken = token })
}

// ClearToken drops the persisted session token.
func (s *Store) ClearToken() error {
	return s.Update(func(st *Settings) { st.Enctoken = "" })
}

// save writes via a temp file and atomic rename. Callers hold the lock.
func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
