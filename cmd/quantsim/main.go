package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newthinker/quantsim/internal/app"
	"github.com/newthinker/quantsim/internal/config"
	"github.com/newthinker/quantsim/internal/logger"
)

var (
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "quantsim",
	Short: "quantsim - event-driven strategy backtester",
	Long: `quantsim replays historical bars through trading strategies and a simulated
broker with costs, position sizing and risk limits, then reports performance
statistics. Runs can be archived and indexed for later comparison.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug mode")
}

// loadConfig reads --config, falling back to defaults
func loadConfig(log *zap.Logger) (*config.Config, error) {
	if cfgFile == "" {
		log.Warn("no config file specified, using defaults")
		return config.Defaults(), nil
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// setup loads the config, applies overrides and builds the app. The returned
// context is cancelled on SIGINT or SIGTERM.
func setup(override func(*config.Config)) (context.Context, *app.App, *zap.Logger, func(), error) {
	log := logger.Must(debug, "")

	cfg, err := loadConfig(log)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if override != nil {
		override(cfg)
	}

	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	log, err = logger.New(debug || cfg.Logging.Development, level)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("creating logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		stop()
		return nil, nil, nil, nil, err
	}

	cleanup := func() {
		if err := a.Close(); err != nil {
			log.Error("closing app", zap.Error(err))
		}
		stop()
		_ = log.Sync()
	}
	return ctx, a, log, cleanup, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
