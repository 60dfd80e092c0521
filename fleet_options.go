package pulsefeed

import (
	"errors"
	"log/slog"
)

// fleetConfig holds mutable state during Fleet construction.
type fleetConfig struct {
	port           int
	serve          bool
	maxConcurrency int
	namespace      string
	logger         *slog.Logger
	callbacks      []func(AttributeChange)
}

// Option configures a [Fleet] during [New].
//
// Options return an error if validation fails.
type Option func(*fleetConfig) error

// WithPort sets the HTTP port for the API server.
//
// Returns an error if the port is outside the valid range (1-65535).
func WithPort(port int) Option {
	return func(cfg *fleetConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithoutServer disables the HTTP API. Run then only drives the entities.
func WithoutServer() Option {
	return func(cfg *fleetConfig) error {
		cfg.serve = false
		return nil
	}
}

// WithMaxConcurrency sets the maximum number of job executions running at
// once across every feed of the fleet.
//
// Returns an error if the value is zero or negative.
func WithMaxConcurrency(n int) Option {
	return func(cfg *fleetConfig) error {
		if n <= 0 {
			return errors.New("max concurrency must be positive")
		}
		cfg.maxConcurrency = n
		return nil
	}
}

// WithMetricsNamespace sets the Prometheus metric name prefix.
func WithMetricsNamespace(ns string) Option {
	return func(cfg *fleetConfig) error {
		if ns == "" {
			return errors.New("metrics namespace cannot be empty")
		}
		cfg.namespace = ns
		return nil
	}
}

// WithLogger sets a custom [slog.Logger]. If not specified, [slog.Default]
// is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *fleetConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithAttributeCallback registers a function called after every attribute
// write, after the value is stored.
//
// Callbacks run synchronously on the goroutine that performed the write and
// must not block. Panics are recovered and logged. Multiple callbacks run in
// registration order. Nil callbacks are ignored.
func WithAttributeCallback(cb func(AttributeChange)) Option {
	return func(cfg *fleetConfig) error {
		if cb == nil {
			return nil
		}
		cfg.callbacks = append(cfg.callbacks, cb)
		return nil
	}
}
