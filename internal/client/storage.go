package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"quantumbulls-session/internal/pkg/session"

	"github.com/google/uuid"
)

// State is what a device keeps between runs.
type State struct {
	AccountID   int64         `json:"account_id,omitempty"`
	Token       session.Token `json:"session_token,omitempty"`
	AccessToken string        `json:"access_token,omitempty"`
	DeviceID    string        `json:"device_id,omitempty"`
}

// Storage is the device's persistent key-value store. Load must be cheap
// enough to call at start-up and on every validator check.
type Storage interface {
	Load() (State, error)
	Save(State) error
	// ClearSession forgets the session and credentials but keeps the device id.
	ClearSession() error
}

// LocalToken returns the stored session token, or "" when none is readable.
func LocalToken(s Storage) session.Token {
	st, err := s.Load()
	if err != nil {
		return ""
	}
	return st.Token
}

// DeviceID returns the stored device id, creating and saving one if needed.
func DeviceID(s Storage) (string, error) {
	st, err := s.Load()
	if err != nil {
		return "", err
	}
	if st.DeviceID != "" {
		return st.DeviceID, nil
	}
	st.DeviceID = uuid.NewString()
	if err := s.Save(st); err != nil {
		return "", err
	}
	return st.DeviceID, nil
}

// FileStorage keeps State as JSON in a file only the owner can read.
type FileStorage struct {
	path string
	mu   sync.Mutex
}

func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

func (f *FileStorage) Load() (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load()
}

func (f *FileStorage) load() (State, error) {
	var st State
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("failed to read session file: %w", err)
	}
	if len(data) == 0 {
		return st, nil
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("failed to parse session file: %w", err)
	}
	return st, nil
}

func (f *FileStorage) Save(st State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.save(st)
}

// save writes through a temp file so a crash never leaves a half-written token.
func (f *FileStorage) save(st State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("failed to create session dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".session-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

func (f *FileStorage) ClearSession() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, err := f.load()
	if err != nil {
		// Unreadable state holds no usable token; keep nothing.
		st = State{}
	}
	return f.save(State{DeviceID: st.DeviceID})
}

// MemoryStorage is a Storage that lives as long as the process.
type MemoryStorage struct {
	mu sync.Mutex
	st State
}

func NewMemoryStorage(initial State) *MemoryStorage {
	return &MemoryStorage{st: initial}
}

func (m *MemoryStorage) Load() (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st, nil
}

func (m *MemoryStorage) Save(st State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = st
	return nil
}

func (m *MemoryStorage) ClearSession() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = State{DeviceID: m.st.DeviceID}
	return nil
}
