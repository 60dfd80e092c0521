package pulsefeed

import "errors"

var (
	// ErrInvalidState is returned when a Poller or Feed lifecycle method is
	// called in a state that does not allow it: registering jobs after the
	// first start, starting twice, or stopping something that is not running.
	ErrInvalidState = errors.New("invalid state")

	// ErrNoFailureHandler is passed to OnException when a sample fails its
	// success check and the config has no failure handler.
	ErrNoFailureHandler = errors.New("no failure handler")

	// ErrNoCoercion is returned when no converter exists between two types.
	ErrNoCoercion = errors.New("no coercion")

	// ErrNotReady reports that a gated job's guard has not completed yet.
	ErrNotReady = errors.New("not ready")
)
