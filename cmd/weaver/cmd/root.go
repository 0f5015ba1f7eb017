package cmd

import (
	"fmt"
	"os"

	"github.com/alvmarrod/trust-weaver/internal/config"
	"github.com/alvmarrod/trust-weaver/internal/storage"
	"github.com/alvmarrod/trust-weaver/internal/version"
	"github.com/spf13/cobra"
)

// CLI flags that override config file values
var (
	cfgFile   string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "weaver",
	Short: "Web-of-trust graph builder and trust scorer",
	Long: `Weaver crawls follow lists outward from a curated set of seeder accounts,
keeps the resulting two-hop trust graph in memory and scores any account
by who follows it.

Features:
  - Bounded breadth-first crawl (depth 0..2) with concurrent fetches
  - Single-flight graph builds with persisted history
  - Atomic snapshot swaps, readers never block
  - Admin HTTP API and a rate-limited trust lookup endpoint`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.json",
		"Path to configuration file")

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Override log format (json, text)")
}

// loadConfig reads the config file, applies flag overrides and configures logging
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}
	cfg.ConfigureLogging()

	return cfg, nil
}

// openStorage opens the database named by the config
func openStorage(cfg *config.Config) (*storage.Storage, error) {
	store, err := storage.NewStorage(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return store, nil
}
