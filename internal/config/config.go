// Package config handles dmsconnector-demo configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/dmsconnector/config.yaml, /config/config.yaml,
// /etc/dmsconnector/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "dmsconnector", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // Container convention
	paths = append(paths, "/etc/dmsconnector/config.yaml")
	return paths
}

// searchPathsFunc is a seam for tests; production code always uses
// DefaultSearchPaths.
var searchPathsFunc = DefaultSearchPaths

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches searchPathsFunc and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	paths := searchPathsFunc()
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", paths)
}

// Config holds the settings for a dmsconnector demo harness: the server
// to dial, the client identity, and client tuning knobs. The demo passes
// the timeouts and event-queue sizes on as dmsconnector.ClientOptions;
// CallbackWarnSec and LogLevel are validated but not applied by it.
type Config struct {
	Server          ServerConfig `yaml:"server"`
	WhoIs           string       `yaml:"whois"`
	User            string       `yaml:"user"`
	LogLevel        string       `yaml:"log_level"`
	TimeoutSec      int          `yaml:"timeout_sec"`
	ReadyTimeoutSec int          `yaml:"ready_timeout_sec"`
	EventQueueSize  int          `yaml:"event_queue_size"`
	EventQueueWarn  int          `yaml:"event_queue_warn_size"`
	CallbackWarnSec int          `yaml:"callback_warn_sec"`
}

// ServerConfig identifies the DMS server to connect to.
type ServerConfig struct {
	URL string `yaml:"url"`
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates
// the result. After Load returns successfully, all fields are usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${DMS_SERVER_URL}).
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
// without checking for zero values.
func (c *Config) applyDefaults() {
	if c.WhoIs == "" {
		c.WhoIs = "dmsconnector-demo"
	}
	if c.User == "" {
		c.User = "dmsconnector-demo"
	}
	if c.TimeoutSec == 0 {
		c.TimeoutSec = 300
	}
	if c.ReadyTimeoutSec == 0 {
		c.ReadyTimeoutSec = 60
	}
	if c.EventQueueSize == 0 {
		c.EventQueueSize = 256
	}
	if c.EventQueueWarn == 0 {
		c.EventQueueWarn = 100
	}
	if c.CallbackWarnSec == 0 {
		c.CallbackWarnSec = 10
	}
}

// Validate checks that the configuration is internally consistent.
// It runs after applyDefaults, so it can assume defaults are populated.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server.url must be set")
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a default configuration pointed at a local server. All
// defaults are already applied.
func Default() *Config {
	cfg := &Config{Server: ServerConfig{URL: "ws://127.0.0.1:9020/json_data"}}
	cfg.applyDefaults()
	return cfg
}
