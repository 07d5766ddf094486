package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ProviderSeed describes a provider inserted on first start, when the
// providers table is still empty. APIKey may reference environment
// variables, e.g. "${OPENAI_API_KEY}".
type ProviderSeed struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	BaseURL string `yaml:"base_url,omitempty"`
	Model   string `yaml:"model,omitempty"`
	APIKey  string `yaml:"api_key,omitempty"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `yaml:"path,omitempty"` // default: ~/.launcher/launcher.db
}

// TimeoutConfig holds stage deadlines in seconds.
type TimeoutConfig struct {
	Stream   int `yaml:"stream,omitempty"`   // default: 120
	Fallback int `yaml:"fallback,omitempty"` // default: 60
	Probe    int `yaml:"probe,omitempty"`    // default: 15
}

// StreamTimeout returns the streaming attempt deadline.
func (t TimeoutConfig) StreamTimeout() time.Duration {
	return time.Duration(t.Stream) * time.Second
}

// FallbackTimeout returns the non-streaming fallback deadline.
func (t TimeoutConfig) FallbackTimeout() time.Duration {
	return time.Duration(t.Fallback) * time.Second
}

// ProbeTimeout returns the connection probe deadline.
func (t TimeoutConfig) ProbeTimeout() time.Duration {
	return time.Duration(t.Probe) * time.Second
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Listen string `yaml:"listen,omitempty"` // e.g. "localhost:9464"; empty disables
}

// ProbeConfig controls scheduled connection probes.
type ProbeConfig struct {
	Schedule    string `yaml:"schedule,omitempty"`    // e.g. "15m" or "0 */15 * * * *"; empty disables
	Concurrency int    `yaml:"concurrency,omitempty"` // default: 4
}

// MCPConfig controls the MCP stdio server.
type MCPConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`
}

// ServerConfig represents configuration for the launcherd daemon.
type ServerConfig struct {
	Server struct {
		Socket string `yaml:"socket,omitempty"` // Unix socket path (default: /tmp/launcherd.sock)
		TCP    string `yaml:"tcp,omitempty"`    // TCP address (e.g., localhost:50051)
	} `yaml:"server,omitempty"`

	Database  DatabaseConfig `yaml:"database,omitempty"`
	Timeouts  TimeoutConfig  `yaml:"timeouts,omitempty"`
	Metrics   MetricsConfig  `yaml:"metrics,omitempty"`
	Probe     ProbeConfig    `yaml:"probe,omitempty"`
	MCP       MCPConfig      `yaml:"mcp,omitempty"`
	Providers []ProviderSeed `yaml:"providers,omitempty"`
}

type DaemonConfig struct {
	Socket string `yaml:"socket,omitempty"` // Unix socket path (default: /tmp/launcherd.sock)
	TCP    string `yaml:"tcp,omitempty"`    // TCP address (e.g., localhost:50051)
}

// ClientConfig represents configuration for the launcher CLI.
type ClientConfig struct {
	Daemon  DaemonConfig `yaml:"daemon,omitempty"`
	Timeout int          `yaml:"timeout,omitempty"` // Seconds to wait for an answer (default: 180)
	Notify  bool         `yaml:"notify,omitempty"`  // Desktop notification when an answer completes
}

// GetServerConfigPath returns the default server config file path.
// Can be overridden via LAUNCHER_CONFIG_PATH environment variable.
func GetServerConfigPath() string {
	if envPath := os.Getenv("LAUNCHER_CONFIG_PATH"); envPath != "" {
		return expandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.launcher/config.yaml"
	}
	return filepath.Join(homeDir, ".launcher", "config.yaml")
}

// GetClientConfigPath returns the default client config file path.
// Can be overridden via LAUNCHER_CLIENT_CONFIG_PATH environment variable.
func GetClientConfigPath() string {
	if envPath := os.Getenv("LAUNCHER_CLIENT_CONFIG_PATH"); envPath != "" {
		return expandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.launcher/cli.yaml"
	}
	return filepath.Join(homeDir, ".launcher", "cli.yaml")
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, strings.TrimPrefix(path[1:], "/"))
	}
	return path
}

// SaveServerConfig saves the server configuration to the specified path.
func SaveServerConfig(cfg *ServerConfig, path string) error {
	return save(cfg, path)
}

// SaveClientConfig saves the client configuration to the specified path.
func SaveClientConfig(cfg *ClientConfig, path string) error {
	return save(cfg, path)
}

func save(cfg any, path string) error {
	expandedPath := expandPath(path)

	// Ensure directory exists
	dir := filepath.Dir(expandedPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// The file may hold API keys.
	if err := os.WriteFile(expandedPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// DefaultServerConfig returns the configuration used when no file exists.
func DefaultServerConfig() ServerConfig {
	defaults := ServerConfig{
		Database: DatabaseConfig{Path: "~/.launcher/launcher.db"},
		Timeouts: TimeoutConfig{Stream: 120, Fallback: 60, Probe: 15},
		Probe:    ProbeConfig{Concurrency: 4},
	}
	defaults.Server.Socket = "/tmp/launcherd.sock"
	return defaults
}

// LoadServerConfig loads server-side configuration, merging the file at
// path (if it exists) over the defaults.
func LoadServerConfig(path string) (*ServerConfig, error) {
	defaults := DefaultServerConfig()

	expandedPath := expandPath(path)
	if _, err := os.Stat(expandedPath); err == nil {
		configYAML, err := os.ReadFile(expandedPath) //#nosec 304 -- intentional file read for config
		if err != nil {
			return nil, fmt.Errorf("failed to read server config file %q: %w", expandedPath, err)
		}

		var userConfig ServerConfig
		if err := yaml.Unmarshal(configYAML, &userConfig); err != nil {
			return nil, fmt.Errorf("failed to parse server config: %w", err)
		}

		if err := mergo.Merge(&defaults, userConfig, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge server config: %w", err)
		}
	}

	defaults.Database.Path = expandPath(defaults.Database.Path)
	for i := range defaults.Providers {
		defaults.Providers[i].APIKey = os.ExpandEnv(defaults.Providers[i].APIKey)
	}

	if err := defaults.Validate(); err != nil {
		return nil, err
	}
	return &defaults, nil
}

// Validate reports settings that cannot work.
func (c *ServerConfig) Validate() error {
	if c.Server.Socket == "" && c.Server.TCP == "" {
		return fmt.Errorf("server: either socket or tcp must be set")
	}
	if c.Timeouts.Stream < 0 || c.Timeouts.Fallback < 0 || c.Timeouts.Probe < 0 {
		return fmt.Errorf("timeouts: values must not be negative")
	}
	if c.Probe.Concurrency < 0 {
		return fmt.Errorf("probe: concurrency must not be negative")
	}
	for i, p := range c.Providers {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("providers[%d]: name is required", i)
		}
	}
	return nil
}

// LoadClientConfig loads client-side configuration.
// Returns defaults if config file doesn't exist.
func LoadClientConfig(path string) (*ClientConfig, error) {
	defaults := ClientConfig{
		Timeout: 180,
	}
	defaults.Daemon.Socket = "/tmp/launcherd.sock"

	// Load config file if it exists
	expandedPath := expandPath(path)
	if _, err := os.Stat(expandedPath); err != nil {
		// File doesn't exist, return defaults
		return &defaults, nil
	}

	configYAML, err := os.ReadFile(expandedPath) //#nosec 304 -- intentional file read for config
	if err != nil {
		return nil, fmt.Errorf("failed to read client config file %q: %w", expandedPath, err)
	}

	var config ClientConfig
	if err := yaml.Unmarshal(configYAML, &config); err != nil {
		return nil, fmt.Errorf("failed to parse client config: %w", err)
	}

	// Merge loaded config onto defaults
	if err := mergo.Merge(&defaults, config, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge client config: %w", err)
	}

	return &defaults, nil
}
