package cmd

import (
	"fmt"
	"os"

	"world-sync/core/config"
	"world-sync/core/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "world-sync",
	Short: "Shared world synchronization service",
	Long: `world-sync keeps a world of pieces in sync between participants through a
replicated key/value store (Redis), with an HTTP fallback, change recording
and snapshots.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		// Console format with the development config gives readable timestamps for a CLI.
		cfg := &logger.Config{
			Level:  "debug",
			Format: "console",
		}

		l, logErr := logger.New(cfg)
		if logErr == nil {
			l.Error("command failed", zap.Error(err))
			_ = l.Sync()
		} else {
			fmt.Println(err)
		}
		os.Exit(1)
	}
}

// bootstrap loads the configuration and builds the logger.
func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logg, err := logger.New(&cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, logg, nil
}
