package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/pulsefeed"
	"github.com/jpalmerr/pulsefeed/config"
)

const (
	shutdownTimeout = 10 * time.Second
)

// serveCmd starts sampling and the HTTP API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start sampling and serve the API",
	Long: `Start pulsefeed.

The server will:
  - Load configuration from the specified YAML file
  - Start every configured feed
  - Serve attributes, SSE updates and Prometheus metrics on the configured port

The server runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  pulsefeed serve -c config.yaml
  pulsefeed serve --config /etc/pulsefeed/config.yaml --log-level debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = serveCmd.MarkFlagRequired("config")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}

	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Info("config loaded",
		"entities", len(cfg.Entities),
		"groups", len(cfg.Groups),
	)
	logger.Info("starting server",
		"port", cfg.Port,
		"poll_interval", cfg.PollInterval.Duration().String(),
	)

	fleet, err := config.BuildFleet(cfg, pulsefeed.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to build fleet: %w", err)
	}
	if len(fleet.Entities()) == 0 {
		return errors.New("no entities configured")
	}

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Run blocks until the context is cancelled
	errChan := make(chan error, 1)
	go func() {
		errChan <- fleet.Run(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		// signal received, wait for graceful shutdown with timeout
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}
