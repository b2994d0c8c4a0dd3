// Command alpaca-connect manages authenticated connections to remote MCP
// servers: connect, authorize, reconnect, and inspect their tools.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alpaca-computer/alpaca-connect/internal/config"
	"github.com/alpaca-computer/alpaca-connect/internal/logs"
	"github.com/alpaca-computer/alpaca-connect/internal/oauth"
	"github.com/alpaca-computer/alpaca-connect/internal/registry"
	"github.com/alpaca-computer/alpaca-connect/internal/remote"
	"github.com/alpaca-computer/alpaca-connect/internal/storage"

	"go.uber.org/zap"
)

var (
	configFile string
	dataDir    string
	backend    string
	logLevel   string
	logToFile  bool

	version = "v0.1.0" // injected by -ldflags during build
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "alpaca-connect",
		Short:   "Manage authenticated connections to remote MCP servers",
		Version: version,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "Data directory path (default: ~/.alpaca-connect)")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "Storage backend: bolt or keyring")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logToFile, "log-to-file", false, "Also write logs to a rotating file in the data directory")

	rootCmd.AddCommand(
		listCmd(),
		connectCmd(),
		disconnectCmd(),
		authCmd(),
		reconnectCmd(),
		toolsCmd(),
		searchCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app wires storage, OAuth, and the connection manager for one command run.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	kv      storage.KV
	repo    *storage.Repository
	manager *remote.Manager
}

func newApp() (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if backend != "" {
		cfg.Backend = backend
	}
	cfg.Logging.Level = logLevel
	cfg.Logging.EnableFile = logToFile

	logger, err := logs.Setup(&cfg.Logging, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	var kv storage.KV
	switch cfg.Backend {
	case config.BackendKeyring:
		kv = storage.NewKeyringKV()
	default:
		kv, err = storage.NewBoltKV(cfg.DataDir, logger)
		if err != nil {
			return nil, err
		}
	}

	repo := storage.NewRepository(kv, logger)
	factory := remote.NewStreamableHTTPFactory(logger)
	exchanger := oauth.NewExchanger(nil, logger)
	manager := remote.NewManager(cfg, repo, factory, oauth.SystemBrowser{}, exchanger, logger)

	return &app{
		cfg:     cfg,
		logger:  logger,
		kv:      kv,
		repo:    repo,
		manager: manager,
	}, nil
}

func (a *app) registryClient() *registry.Client {
	return registry.NewClient(a.cfg.Registry.BaseURL, a.cfg.Registry.APIKey, nil, a.logger)
}

func (a *app) close() {
	a.manager.Shutdown()
	if err := a.kv.Close(); err != nil {
		a.logger.Warn("failed to close storage", zap.Error(err))
	}
	_ = a.logger.Sync()
}
