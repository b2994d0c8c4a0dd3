// Package config holds the runtime configuration for alpaca-connect.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Storage backend identifiers.
const (
	BackendBolt    = "bolt"
	BackendKeyring = "keyring"
)

// LogConfig configures logging output.
type LogConfig struct {
	Level         string `json:"level" mapstructure:"level"`
	EnableFile    bool   `json:"enable_file" mapstructure:"enable_file"`
	EnableConsole bool   `json:"enable_console" mapstructure:"enable_console"`
	Filename      string `json:"filename" mapstructure:"filename"`
	MaxSize       int    `json:"max_size" mapstructure:"max_size"` // megabytes
	MaxBackups    int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAge        int    `json:"max_age" mapstructure:"max_age"` // days
	Compress      bool   `json:"compress" mapstructure:"compress"`
	JSONFormat    bool   `json:"json_format" mapstructure:"json_format"`
}

// RegistryConfig configures the server directory API client.
type RegistryConfig struct {
	BaseURL string `json:"base_url" mapstructure:"base_url"`
	APIKey  string `json:"api_key" mapstructure:"api_key"`
}

// Config is the top-level configuration.
type Config struct {
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
	Backend string `json:"backend" mapstructure:"backend"`

	// ServerBaseURL is the base under which namespaces resolve to MCP
	// endpoints, e.g. https://server.smithery.ai/<namespace>.
	ServerBaseURL string `json:"server_base_url" mapstructure:"server_base_url"`

	// RedirectURL is the fixed OAuth redirect registered by the hosting
	// application's custom URL scheme.
	RedirectURL string `json:"redirect_url" mapstructure:"redirect_url"`

	Registry RegistryConfig `json:"registry" mapstructure:"registry"`
	Logging  LogConfig      `json:"logging" mapstructure:"logging"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() *Config {
	return &Config{
		DataDir:       defaultDataDir(),
		Backend:       BackendBolt,
		ServerBaseURL: "https://server.smithery.ai",
		RedirectURL:   "alpaca.computer://oauth/callback",
		Registry: RegistryConfig{
			BaseURL: "https://registry.smithery.ai",
			APIKey:  os.Getenv("SMITHERY_API_KEY"),
		},
		Logging: LogConfig{
			Level:         "info",
			EnableFile:    false,
			EnableConsole: true,
			Filename:      "main.log",
			MaxSize:       10,
			MaxBackups:    5,
			MaxAge:        30,
			Compress:      true,
		},
	}
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.DataDir == "" && c.Backend == BackendBolt {
		return fmt.Errorf("data_dir is required for the %s backend", BackendBolt)
	}
	if c.Backend != BackendBolt && c.Backend != BackendKeyring {
		return fmt.Errorf("unknown storage backend %q", c.Backend)
	}
	if c.ServerBaseURL == "" {
		return fmt.Errorf("server_base_url is required")
	}
	if c.RedirectURL == "" {
		return fmt.Errorf("redirect_url is required")
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".alpaca-connect"
	}
	return filepath.Join(home, ".alpaca-connect")
}
