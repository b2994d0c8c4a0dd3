package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// ConfigFileName is the JSON config file looked up inside the data dir.
const ConfigFileName = "alpaca_connect.json"

// Load builds the configuration from defaults, an optional config file, and
// environment overrides bound through viper. When a config file is given its
// values win over the environment; flag overrides are applied by the caller.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	setupViper()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if configPath != "" {
		if err := loadConfigFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setupViper() {
	viper.SetEnvPrefix("ALPACA")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	defaults := DefaultConfig()
	viper.SetDefault("data_dir", defaults.DataDir)
	viper.SetDefault("backend", defaults.Backend)
	viper.SetDefault("server_base_url", defaults.ServerBaseURL)
	viper.SetDefault("redirect_url", defaults.RedirectURL)
	viper.SetDefault("registry.base_url", defaults.Registry.BaseURL)
	viper.SetDefault("registry.api_key", defaults.Registry.APIKey)
}

func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, cfg)
}
