package config

import (
	"path/filepath"
	"testing"
	"time"
)

// exerciseStore runs the same behavioral checks against any Store.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()

	if s.AppMode() != ModeNone {
		t.Fatalf("initial mode: got %q, want %q", s.AppMode(), ModeNone)
	}

	if err := s.SetAppMode(ModeParent); err != nil {
		t.Fatal(err)
	}
	if err := s.SetServerURL("ws://10.0.0.2:554"); err != nil {
		t.Fatal(err)
	}

	paired := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := s.SaveDevice(Device{Name: "nursery", URL: "ws://10.0.0.2:554", PairedAt: paired}); err != nil {
		t.Fatal(err)
	}
	// Same URL replaces the record instead of duplicating it.
	if err := s.SaveDevice(Device{Name: "nursery-2", URL: "ws://10.0.0.2:554", PairedAt: paired}); err != nil {
		t.Fatal(err)
	}

	if s.AppMode() != ModeParent {
		t.Errorf("mode: got %q", s.AppMode())
	}
	if s.ServerURL() != "ws://10.0.0.2:554" {
		t.Errorf("server url: got %q", s.ServerURL())
	}
	devices, err := s.Devices()
	if err != nil {
		t.Fatal(err)
	}
	if len(devices) != 1 || devices[0].Name != "nursery-2" {
		t.Errorf("devices: got %+v", devices)
	}

	if err := s.Reset(); err != nil {
		t.Fatal(err)
	}
	if s.AppMode() != ModeNone || s.ServerURL() != "" {
		t.Errorf("after reset: mode=%q url=%q", s.AppMode(), s.ServerURL())
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	exerciseStore(t, mustFileStore(t, filepath.Join(t.TempDir(), "state.yaml")))
}

// TestFileStorePersists verifies that a second FileStore on the same path
// sees what the first one wrote.
func TestFileStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.yaml")

	first := mustFileStore(t, path)
	if err := first.SetAppMode(ModeBaby); err != nil {
		t.Fatal(err)
	}
	if err := first.SetServerURL("ws://ip:port"); err != nil {
		t.Fatal(err)
	}
	if err := first.SaveDevice(Device{Name: "crib", URL: "ws://ip:port"}); err != nil {
		t.Fatal(err)
	}

	second := mustFileStore(t, path)
	if second.AppMode() != ModeBaby {
		t.Errorf("mode: got %q, want %q", second.AppMode(), ModeBaby)
	}
	if second.ServerURL() != "ws://ip:port" {
		t.Errorf("url: got %q", second.ServerURL())
	}
	devices, _ := second.Devices()
	if len(devices) != 1 || devices[0].Name != "crib" {
		t.Errorf("devices: got %+v", devices)
	}
}

func mustFileStore(t *testing.T, path string) *FileStore {
	t.Helper()
	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return s
}
