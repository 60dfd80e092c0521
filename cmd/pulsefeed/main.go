// Package main is the entry point for the pulsefeed CLI.
//
// pulsefeed can be run either as a library (SDK) or as a standalone binary
// with YAML configuration. This CLI provides the standalone binary approach.
//
// Usage:
//
//	pulsefeed serve -c config.yaml    # Start sampling and serve the API
//	pulsefeed validate -c config.yaml # Validate configuration
//	pulsefeed version                 # Show version info
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set by GoReleaser at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
// It just displays help - actual functionality is in subcommands.
var rootCmd = &cobra.Command{
	Use:   "pulsefeed",
	Short: "A periodic-sampling engine for entity attributes",
	Long: `pulsefeed keeps the attributes of managed entities up to date.

Feeds sample HTTP endpoints and shell commands over SSH at configurable
periods. Every sample is checked, transformed and coerced into a typed
attribute, served as JSON and Server-Sent Events.

Quick start:
  1. Create a config file (pulsefeed.yaml)
  2. Run: pulsefeed serve -c pulsefeed.yaml
  3. Open http://localhost:8080/api/attributes

Example config:
  port: 8080
  poll_interval: 10s
  entities:
    - id: api
      feeds:
        - name: health
          type: http
          url: https://api.example.com/health
          attributes:
            - name: service.up
              type: bool
              source: ok
              on_failure: false`,
	SilenceUsage: true,
}

// Execute runs the root command.
// This is the main entry point called from main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this pulsefeed binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "pulsefeed %s\n", version)
		_, _ = fmt.Fprintf(out, "  commit: %s\n", commit)
		_, _ = fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.AddCommand(versionCmd)
}

// newLogger creates a JSON logger on stderr at the level named by the
// --log-level flag.
func newLogger(cmd *cobra.Command) (*slog.Logger, error) {
	name, _ := cmd.Flags().GetString("log-level")

	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", name, err)
	}

	return slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: level,
	})), nil
}
