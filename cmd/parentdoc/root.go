package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dgallion1/parentdoc/internal/app"
	"github.com/dgallion1/parentdoc/internal/config"
	"github.com/spf13/cobra"
)

var flagConfig string

var rootCmd = &cobra.Command{
	Use:          "parentdoc",
	Short:        "Parent document retrieval: search small chunks, answer from whole sections",
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "YAML config file (default $CONFIG_FILE)")
}

// loadConfig reads and validates the configuration.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openApp loads the configuration and builds the service. Logs go to w.
func openApp(ctx context.Context, w io.Writer) (*app.App, *slog.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	log := app.NewLogger(cfg, w)
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return nil, log, err
	}
	return a, log, nil
}
