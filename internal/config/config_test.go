package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

// TestLoadDefaults verifies that an empty viper instance yields the
// reference configuration (port 554, _http._tcp., local.).
func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != DefaultPort {
		t.Errorf("Port: got %d, want %d", cfg.Port, DefaultPort)
	}
	if cfg.ServiceType != "_http._tcp." || cfg.Domain != "local." {
		t.Errorf("service: got %q %q", cfg.ServiceType, cfg.Domain)
	}
	if cfg.ServiceName != "Baby Monitor Service" {
		t.Errorf("ServiceName: got %q", cfg.ServiceName)
	}
	if cfg.SearchTimeout != DefaultSearchTimeout {
		t.Errorf("SearchTimeout: got %s", cfg.SearchTimeout)
	}
	if len(cfg.STUNServers) != 1 || cfg.STUNServers[0] != DefaultSTUN {
		t.Errorf("STUNServers: got %v", cfg.STUNServers)
	}
}

// TestLoadPriority verifies env overrides the config file and explicit
// Set (what bound flags do) overrides env.
func TestLoadPriority(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "babymonitor.yaml")
	content := "port: 8554\nsearch:\n  timeout: 5s\nhealth:\n  interval: 2s\n"
	if err := os.WriteFile(file, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("BABYMONITOR_SEARCH_TIMEOUT", "7s")

	v := viper.New()
	v.Set("health.interval", "4s")

	cfg, err := Load(v, file)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != 8554 {
		t.Errorf("Port: got %d, want 8554 (file)", cfg.Port)
	}
	if cfg.SearchTimeout != 7*time.Second {
		t.Errorf("SearchTimeout: got %s, want 7s (env)", cfg.SearchTimeout)
	}
	if cfg.HealthInterval != 4*time.Second {
		t.Errorf("HealthInterval: got %s, want 4s (override)", cfg.HealthInterval)
	}
}

// TestValidate verifies that out-of-range values are rejected.
func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.Port = 0 }},
		{"port too large", func(c *Config) { c.Port = 70000 }},
		{"empty service type", func(c *Config) { c.ServiceType = "" }},
		{"zero search timeout", func(c *Config) { c.SearchTimeout = 0 }},
		{"negative health interval", func(c *Config) { c.HealthInterval = -time.Second }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load(viper.New(), "")
			if err != nil {
				t.Fatal(err)
			}
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}
}

// TestLoadMissingFile verifies that an explicit but missing config file is an error.
func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
