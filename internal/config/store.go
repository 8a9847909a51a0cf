package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Device is a paired baby device record.
type Device struct {
	Name     string    `yaml:"name"`
	URL      string    `yaml:"url"`
	PairedAt time.Time `yaml:"paired_at"`
}

// Store persists the state the original app kept in user defaults: the app
// mode, the URL of the paired signaling server and the paired devices.
type Store interface {
	AppMode() Mode
	SetAppMode(Mode) error
	ServerURL() string
	SetServerURL(string) error
	Devices() ([]Device, error)
	// SaveDevice inserts or replaces the record with the same URL.
	SaveDevice(Device) error
	// Reset clears everything back to ModeNone.
	Reset() error
}

type state struct {
	Mode      Mode     `yaml:"mode"`
	ServerURL string   `yaml:"server_url,omitempty"`
	Devices   []Device `yaml:"devices,omitempty"`
}

func (s *state) saveDevice(d Device) {
	for i := range s.Devices {
		if s.Devices[i].URL == d.URL {
			s.Devices[i] = d
			return
		}
	}
	s.Devices = append(s.Devices, d)
}

// ---------------------------------------------------------------------------
// MemoryStore
// ---------------------------------------------------------------------------

// MemoryStore is a Store that lives only in process memory.
type MemoryStore struct {
	mu sync.RWMutex
	st state
}

// NewMemoryStore creates an empty MemoryStore in ModeNone.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{st: state{Mode: ModeNone}}
}

func (m *MemoryStore) AppMode() Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.Mode
}

func (m *MemoryStore) SetAppMode(mode Mode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.Mode = mode
	return nil
}

func (m *MemoryStore) ServerURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ServerURL
}

func (m *MemoryStore) SetServerURL(url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.ServerURL = url
	return nil
}

func (m *MemoryStore) Devices() ([]Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Device(nil), m.st.Devices...), nil
}

func (m *MemoryStore) SaveDevice(d Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.saveDevice(d)
	return nil
}

func (m *MemoryStore) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = state{Mode: ModeNone}
	return nil
}

// ---------------------------------------------------------------------------
// FileStore
// ---------------------------------------------------------------------------

// FileStore is a Store backed by a YAML file. Every mutation rewrites the
// file through a temp file and rename.
type FileStore struct {
	path string
	mu   sync.RWMutex
	st   state
}

// NewFileStore loads path, or starts empty when the file does not exist yet.
func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{path: path, st: state{Mode: ModeNone}}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fs, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read store %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &fs.st); err != nil {
		return nil, fmt.Errorf("failed to parse store %s: %w", path, err)
	}
	if fs.st.Mode == "" {
		fs.st.Mode = ModeNone
	}
	return fs, nil
}

// update applies fn under the write lock and persists the result. The
// in-memory state is rolled back if the write fails.
func (f *FileStore) update(fn func(*state)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	prev := f.st
	prev.Devices = append([]Device(nil), f.st.Devices...)

	fn(&f.st)
	if err := f.flush(); err != nil {
		f.st = prev
		return err
	}
	return nil
}

func (f *FileStore) flush() error {
	data, err := yaml.Marshal(&f.st)
	if err != nil {
		return fmt.Errorf("failed to encode store: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("failed to create store dir: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write store: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("failed to replace store: %w", err)
	}
	return nil
}

func (f *FileStore) AppMode() Mode {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.st.Mode
}

func (f *FileStore) SetAppMode(mode Mode) error {
	return f.update(func(s *state) { s.Mode = mode })
}

func (f *FileStore) ServerURL() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.st.ServerURL
}

func (f *FileStore) SetServerURL(url string) error {
	return f.update(func(s *state) { s.ServerURL = url })
}

func (f *FileStore) Devices() ([]Device, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]Device(nil), f.st.Devices...), nil
}

func (f *FileStore) SaveDevice(d Device) error {
	return f.update(func(s *state) { s.saveDevice(d) })
}

func (f *FileStore) Reset() error {
	return f.update(func(s *state) { *s = state{Mode: ModeNone} })
}
