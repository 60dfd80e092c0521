package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/pulsefeed"
	"github.com/jpalmerr/pulsefeed/config"
)

// validateCmd validates a config file without starting anything.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a pulsefeed configuration file without starting the server.

This command parses the YAML, expands environment variables and groups,
validates all fields, and builds every feed and attribute so conversion
errors in on_failure and on_exception values surface too. Nothing is
contacted. It's useful for CI/CD pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  pulsefeed validate -c config.yaml
  pulsefeed validate --config /etc/pulsefeed/config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	fleet, err := config.BuildFleet(cfg,
		pulsefeed.WithoutServer(),
		pulsefeed.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	direct := len(cfg.Entities)
	total := len(fleet.Entities())

	feeds, attributes := 0, 0
	entities, _ := cfg.AllEntities()
	for _, e := range entities {
		feeds += len(e.Feeds)
		for _, f := range e.Feeds {
			attributes += len(f.Attributes)
		}
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Config is valid!\n")
	_, _ = fmt.Fprintf(out, "  Port:          %d\n", cfg.Port)
	_, _ = fmt.Fprintf(out, "  Poll interval: %s\n", cfg.PollInterval.Duration())
	_, _ = fmt.Fprintf(out, "  Entities:      %d direct + %d from groups = %d total\n",
		direct, total-direct, total)
	_, _ = fmt.Fprintf(out, "  Feeds:         %d\n", feeds)
	_, _ = fmt.Fprintf(out, "  Attributes:    %d\n", attributes)

	return nil
}
