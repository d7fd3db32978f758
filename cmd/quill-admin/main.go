package main

import (
	"fmt"
	"os"

	"github.com/ha1tch/quill/pkg/config"
	"github.com/ha1tch/quill/pkg/logging"
	"github.com/ha1tch/quill/pkg/storage"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var rootFlags struct {
	configPath string
	verbose    bool
}

var rootCmd = &cobra.Command{
	Use:           "quill-admin",
	Short:         "Maintenance commands for a quill data store",
	Version:       config.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootFlags.configPath, "config", "", "path to a YAML config file (default: $CONFIG_FILE)")
	rootCmd.PersistentFlags().BoolVarP(&rootFlags.verbose, "verbose", "v", false, "log engine activity")

	rootCmd.AddCommand(migrateCmd, auditCmd, repairCmd, reindexCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig returns the effective configuration for the command
func loadConfig() (*config.Config, error) {
	return config.Load(rootFlags.configPath)
}

// newLogger logs to stderr, at debug level with --verbose
func newLogger() zerolog.Logger {
	level := "warn"
	if rootFlags.verbose {
		level = "debug"
	}
	logger, _ := logging.New(logging.Options{Level: level, Console: os.Stderr})
	return logger
}

// openStore opens the store named by the configuration
func openStore(cfg *config.Config) (storage.Store, error) {
	store, err := storage.NewStore(cfg.StorageType, map[string]interface{}{
		"base_dir": cfg.BaseDir,
		"db_path":  cfg.DBPath,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StorageType, err)
	}
	return store, nil
}
