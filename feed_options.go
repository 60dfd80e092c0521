package pulsefeed

import (
	"errors"
	"log/slog"

	"github.com/jpalmerr/pulsefeed/metrics"
)

// feedConfig holds mutable state during Feed construction.
type feedConfig struct {
	logger    *slog.Logger
	exec      Executor
	metrics   *metrics.Metrics
	preStart  func(*Feed) error
	preStop   func(*Feed)
	postStop  func(*Feed)
	connected func() bool
}

// FeedOption configures a [Feed] during [NewFeed].
type FeedOption func(*feedConfig) error

// WithPreStart sets a hook run on the first Start, before the poller starts.
// It is the place to build clients and register jobs.
func WithPreStart(fn func(*Feed) error) FeedOption {
	return func(cfg *feedConfig) error {
		cfg.preStart = fn
		return nil
	}
}

// WithPreStop sets a hook run by Stop after the feed is marked deactivated
// and before the poller is cancelled.
func WithPreStop(fn func(*Feed)) FeedOption {
	return func(cfg *feedConfig) error {
		cfg.preStop = fn
		return nil
	}
}

// WithPostStop sets a hook run by Stop after the poller is cancelled.
func WithPostStop(fn func(*Feed)) FeedOption {
	return func(cfg *feedConfig) error {
		cfg.postStop = fn
		return nil
	}
}

// WithConnectionCheck overrides [Feed.IsConnected] with a transport-aware
// reachability signal. The feed is only reported connected while it is also
// activated.
func WithConnectionCheck(fn func() bool) FeedOption {
	return func(cfg *feedConfig) error {
		if fn == nil {
			return errors.New("connection check cannot be nil")
		}
		cfg.connected = fn
		return nil
	}
}

// WithFeedLogger sets the feed logger. Defaults to the entity logger.
func WithFeedLogger(logger *slog.Logger) FeedOption {
	return func(cfg *feedConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithFeedExecutor sets the executor the feed's poller runs on. Defaults to
// the entity executor.
func WithFeedExecutor(exec Executor) FeedOption {
	return func(cfg *feedConfig) error {
		if exec == nil {
			return errors.New("executor cannot be nil")
		}
		cfg.exec = exec
		return nil
	}
}
