// Package config holds the runtime configuration and the persisted device state.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Mode represents the role this device was set up for.
type Mode string

const (
	ModeNone   Mode = "none"
	ModeBaby   Mode = "baby"
	ModeParent Mode = "parent"
)

// Default configuration values.
const (
	DefaultPort           = 554
	DefaultServiceName    = "Baby Monitor Service"
	DefaultServiceType    = "_http._tcp."
	DefaultDomain         = "local."
	DefaultSearchTimeout  = 30 * time.Second
	DefaultHealthInterval = 10 * time.Second
	DefaultProbeTimeout   = 3 * time.Second
	DefaultSTUN           = "stun:stun.l.google.com:19302"

	envPrefix = "BABYMONITOR"
)

// Config stores every parameter the baby and parent roles need.
type Config struct {
	Port           int           // signaling server port (baby) and advertised port
	ServiceName    string        // human-readable mDNS instance name
	ServiceType    string        // mDNS service type
	Domain         string        // mDNS domain
	SearchTimeout  time.Duration // parent: device search timeout
	HealthInterval time.Duration // parent: reachability re-check period
	ProbeTimeout   time.Duration // parent: per-check discovery window
	STUNServers    []string      // ICE servers; empty means host candidates only
	StorePath      string        // persisted app mode, server URL and paired devices
	Metrics        bool          // serve /metrics on the signaling router
	Debug          bool
	AutoPair       bool // parent: pair with the first discovered device without prompting
}

// SetDefaults registers every key with its default value on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", DefaultPort)
	v.SetDefault("service.name", DefaultServiceName)
	v.SetDefault("service.type", DefaultServiceType)
	v.SetDefault("service.domain", DefaultDomain)
	v.SetDefault("search.timeout", DefaultSearchTimeout)
	v.SetDefault("health.interval", DefaultHealthInterval)
	v.SetDefault("health.probe_timeout", DefaultProbeTimeout)
	v.SetDefault("ice.stun", []string{DefaultSTUN})
	v.SetDefault("store.path", defaultStorePath())
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("debug", false)
	v.SetDefault("parent.auto_pair", false)
}

// Load reads configuration with the following priority:
//  1. Flags bound to v by the caller - highest priority
//  2. Environment variables (BABYMONITOR_PORT, BABYMONITOR_SEARCH_TIMEOUT, ...)
//  3. The config file, when cfgFile is non-empty
//  4. Defaults - lowest priority
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
		}
	}

	cfg := &Config{
		Port:           v.GetInt("port"),
		ServiceName:    v.GetString("service.name"),
		ServiceType:    v.GetString("service.type"),
		Domain:         v.GetString("service.domain"),
		SearchTimeout:  v.GetDuration("search.timeout"),
		HealthInterval: v.GetDuration("health.interval"),
		ProbeTimeout:   v.GetDuration("health.probe_timeout"),
		STUNServers:    v.GetStringSlice("ice.stun"),
		StorePath:      v.GetString("store.path"),
		Metrics:        v.GetBool("metrics.enabled"),
		Debug:          v.GetBool("debug"),
		AutoPair:       v.GetBool("parent.auto_pair"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the signaling stack cannot run with.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 1~65535", c.Port)
	}
	if c.ServiceName == "" || c.ServiceType == "" || c.Domain == "" {
		return fmt.Errorf("service name, type and domain must not be empty")
	}
	if c.SearchTimeout <= 0 {
		return fmt.Errorf("invalid search timeout %s", c.SearchTimeout)
	}
	if c.HealthInterval <= 0 || c.ProbeTimeout <= 0 {
		return fmt.Errorf("health interval and probe timeout must be positive")
	}
	return nil
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "babymonitor", "state.yaml")
}
