// Package cmd holds the signal-core command tree.
package cmd

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"signal-core/pkg/config"
	"signal-core/pkg/logger"
)

var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "signal-core",
	Short: "Candle-close driven signal engine for Binance USDT-M futures",
	Long: `signal-core streams one futures symbol, computes indicators on every
closed candle, asks an external decision service what to do, checks the answer
against fixed risk limits and executes it on the exchange or on a paper wallet.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (env and .env override it)")
	rootCmd.Version = version

	rootCmd.AddCommand(newRunCmd(), newCloseCmd(), newSnapshotCmd(), newTokenCmd())
}

// setup loads the config and builds the root logger.
func setup() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("logger: %w", err)
	}
	return cfg, log.With().Str("symbol", cfg.Symbol).Logger(), nil
}
