package gate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"opsgate/internal/security"
	"opsgate/pkg/fileutil"
)

// State is the persisted deployment-mode flag.
type State struct {
	Enabled   bool      `json:"enabled"`
	StartedAt time.Time `json:"started_at"`
	ExpireAt  time.Time `json:"expire_at"`
}

// Expired reports whether now is past the expiry.
func (s State) Expired(now time.Time) bool {
	return now.After(s.ExpireAt)
}

// Store persists the gate state. Get returns nil, nil when nothing is stored.
type Store interface {
	Get() (*State, error)
	Set(State) error
	Clear() error
}

// FileStore keeps the state as a JSON document on disk.
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Get() (*State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read deployment mode: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse deployment mode %s: %w", s.path, err)
	}
	return &state, nil
}

func (s *FileStore) Set(state State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode deployment mode: %w", err)
	}
	if err := fileutil.WriteFileAtomic(s.path, append(data, '\n'), security.PermStateFile); err != nil {
		return fmt.Errorf("failed to write deployment mode: %w", err)
	}
	return nil
}

func (s *FileStore) Clear() error {
	if err := fileutil.RemoveIfExists(s.path); err != nil {
		return fmt.Errorf("failed to clear deployment mode: %w", err)
	}
	return nil
}
