package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newthinker/quantsim/internal/api"
	"github.com/newthinker/quantsim/internal/config"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the quantsim HTTP API",
	Long: `Serve strategy listing, signal generation, backtests and comparisons over
HTTP. Backtests and comparisons run as background jobs polled at
/api/v1/jobs/{id}.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (overrides server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides server.port)")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, a, log, cleanup, err := setup(func(cfg *config.Config) {
		if serveHost != "" {
			cfg.Server.Host = serveHost
		}
		if servePort != 0 {
			cfg.Server.Port = servePort
		}
	})
	if err != nil {
		return err
	}
	defer cleanup()

	sc := a.Config().Server
	server, err := api.NewServer(api.Config{
		Host:    sc.Host,
		Port:    sc.Port,
		APIKey:  sc.APIKey,
		MaxJobs: sc.MaxJobs,
	}, api.Dependencies{Runner: a, Metrics: a.Metrics()}, log)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down quantsim server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", zap.Error(err))
		return err
	}
	return nil
}
