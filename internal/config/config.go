// Package config handles resclient-probe configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order. An explicit
// path (from -config flag) is checked first. Then: ./config.yaml,
// ~/.config/resclient-probe/config.yaml, /config/config.yaml,
// /etc/resclient-probe/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "resclient-probe", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // Container convention
	paths = append(paths, "/etc/resclient-probe/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must
// exist. Otherwise, searches DefaultSearchPaths and returns the first
// that exists. Returns the path found, or an error if nothing was
// found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all resclient-probe configuration.
type Config struct {
	Gateway     GatewayConfig     `yaml:"gateway"`
	CallLog     CallLogConfig     `yaml:"call_log"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Subscribe   []string          `yaml:"subscribe"`
	LogLevel    string            `yaml:"log_level"`
}

// GatewayConfig defines the RES gateway connection.
type GatewayConfig struct {
	URL                 string        `yaml:"url"`
	Namespace           string        `yaml:"namespace"`
	ReconnectDelay      time.Duration `yaml:"reconnect_delay"`
	SubscribeStaleDelay time.Duration `yaml:"subscribe_stale_delay"`
}

// CallLogConfig defines the optional SQLite call-audit trail.
type CallLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DiagnosticsConfig defines the optional MQTT telemetry publisher.
type DiagnosticsConfig struct {
	Enabled            bool   `yaml:"enabled"`
	Broker             string `yaml:"broker"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	DeviceName         string `yaml:"device_name"`
	DiscoveryPrefix    string `yaml:"discovery_prefix"`
	PublishIntervalSec int    `yaml:"publish_interval_sec"`
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates the
// result. After Load returns successfully, all fields are usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${RESCLIENT_GATEWAY_URL}).
	// This is a convenience for container deployments; the recommended
	// approach is to put values directly in the config file.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load. After this, callers can read any field
// without checking for empty strings or zero values.
func (c *Config) applyDefaults() {
	if c.Gateway.Namespace == "" {
		c.Gateway.Namespace = "resclient"
	}
	if c.Gateway.ReconnectDelay == 0 {
		c.Gateway.ReconnectDelay = 3000 * time.Millisecond
	}
	if c.Gateway.SubscribeStaleDelay == 0 {
		c.Gateway.SubscribeStaleDelay = 2000 * time.Millisecond
	}
	if c.CallLog.Enabled && c.CallLog.Path == "" {
		c.CallLog.Path = "./resclient-calls.db"
	}
	if c.Diagnostics.Enabled {
		if c.Diagnostics.DeviceName == "" {
			c.Diagnostics.DeviceName = "resclient-probe"
		}
		if c.Diagnostics.DiscoveryPrefix == "" {
			c.Diagnostics.DiscoveryPrefix = "homeassistant"
		}
		if c.Diagnostics.PublishIntervalSec == 0 {
			c.Diagnostics.PublishIntervalSec = 30
		}
	}
}

// Validate checks that the configuration is internally consistent. It
// runs after applyDefaults, so it can assume defaults are populated.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway.url is required")
	}
	if c.Diagnostics.Enabled && c.Diagnostics.Broker == "" {
		return fmt.Errorf("diagnostics.broker is required when diagnostics.enabled is true")
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a default configuration pointed at a local gateway.
// All defaults are already applied.
func Default() *Config {
	cfg := &Config{Gateway: GatewayConfig{URL: "ws://localhost:8080"}}
	cfg.applyDefaults()
	return cfg
}
