package pulsefeed

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"

	"github.com/google/uuid"
)

// PollHandler decides how a raw sample of type V becomes state.
//
// For a sample that returns without error, the [Poller] calls exactly one of
// OnSuccess or OnFailure, selected by CheckSuccess. For a sampling error only
// OnException is called. Invocations on different ticks may run on different
// goroutines; implementations must not rely on any ordering between them.
type PollHandler[V any] interface {
	CheckSuccess(v V) bool
	OnSuccess(v V)
	OnFailure(v V)
	OnException(err error)
	Description() string
}

// AttributePollHandler binds a [SampleConfig] to one attribute of the entity
// that owns a [Feed].
//
// Transform errors and panics are logged and swallowed; they never reach the
// Poller. The only mutable state is a "currently failing" flag used to keep
// logs quiet during sustained failures:
//   - healthy to failing logs a warning once
//   - failing to failing logs at debug level
//   - failing to healthy logs at info level once
//
// Failures are always logged at debug level while the feed is not activated
// or reports itself disconnected.
type AttributePollHandler[V, T any] struct {
	config  SampleConfig[V, T]
	feed    *Feed
	logger  *slog.Logger
	failing atomic.Bool
}

// NewAttributePollHandler returns a handler writing cfg's attribute on the
// entity that owns feed.
func NewAttributePollHandler[V, T any](cfg SampleConfig[V, T], feed *Feed) *AttributePollHandler[V, T] {
	return &AttributePollHandler[V, T]{
		config: cfg,
		feed:   feed,
		logger: feed.logger.With(
			"entity", feed.entity.ID(),
			"attribute", cfg.Attribute().Name(),
		),
	}
}

// CheckSuccess applies the configured success predicate.
func (h *AttributePollHandler[V, T]) CheckSuccess(v V) bool {
	return h.config.CheckSuccess(v)
}

// OnSuccess transforms v and writes the result unless it is Keep.
//
// Without an explicit success transform v is coerced to T. A coercion error
// is handled by [AttributePollHandler.OnException]. A transform that errors
// or panics marks the handler as failing until a later transform succeeds.
func (h *AttributePollHandler[V, T]) OnSuccess(v V) {
	if !h.config.HasSuccessHandler() {
		t, err := h.config.coerce(v)
		if err != nil {
			h.OnException(err)
			return
		}
		h.recovered()
		h.write(Value(t))
		return
	}

	if h.apply("success", func() (Result[T], error) {
		return h.config.transformSuccess(v)
	}) {
		h.recovered()
		return
	}
	h.failing.Store(true)
}

// OnFailure handles a sample that failed its success check.
//
// Without a failure transform the sample is routed to OnException with an
// error wrapping [ErrNoFailureHandler].
func (h *AttributePollHandler[V, T]) OnFailure(v V) {
	if !h.config.HasFailureHandler() {
		h.OnException(fmt.Errorf("%w: sample %v failed success check for %s",
			ErrNoFailureHandler, v, h.config.Description()))
		return
	}

	h.problem("sample failed success check", "value", fmt.Sprintf("%v", v))
	h.apply("failure", func() (Result[T], error) {
		return h.config.transformFailure(v)
	})
}

// OnException handles a sampling error. Without an exception transform the
// error is only logged.
func (h *AttributePollHandler[V, T]) OnException(err error) {
	h.problem("sampling error", "error", err)
	if !h.config.HasExceptionHandler() {
		return
	}
	h.apply("exception", func() (Result[T], error) {
		return h.config.transformException(err)
	})
}

// Description returns the config description.
func (h *AttributePollHandler[V, T]) Description() string {
	return h.config.Description()
}

// String implements fmt.Stringer.
func (h *AttributePollHandler[V, T]) String() string {
	return fmt.Sprintf("AttributePollHandler[%s]", h.config.Description())
}

// problem logs a failure or exception, applying the hysteresis rules.
func (h *AttributePollHandler[V, T]) problem(msg string, args ...any) {
	wasFailing := h.failing.Swap(true)

	level := slog.LevelDebug
	switch {
	case !h.feed.IsActivated():
		msg += " (feed not active)"
	case !h.feed.IsConnected():
		msg += " (feed disconnected)"
	case !wasFailing:
		level = slog.LevelWarn
	}

	h.logger.Log(context.Background(), level, msg, args...)
}

func (h *AttributePollHandler[V, T]) recovered() {
	if h.failing.CompareAndSwap(true, false) {
		h.logger.Info("sampling recovered")
	}
}

// apply runs a user transform and reports whether it returned without error.
// Errors and panics stop here.
func (h *AttributePollHandler[V, T]) apply(pathway string, transform func() (Result[T], error)) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("transform panicked",
				"pathway", pathway,
				"correlation_id", uuid.NewString(),
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			h.feed.metrics.RecordTransformError(h.feed.name, h.config.Attribute().Name())
		}
	}()

	res, err := transform()
	if err != nil {
		h.logger.Warn("transform failed", "pathway", pathway, "error", err)
		h.feed.metrics.RecordTransformError(h.feed.name, h.config.Attribute().Name())
		return false
	}
	h.write(res)
	return true
}

func (h *AttributePollHandler[V, T]) write(res Result[T]) {
	v, ok := res.Get()
	if !ok {
		return
	}
	Set(h.feed.entity, h.config.Attribute(), v)
}

// DelegatingPollHandler fans one event out to an ordered list of handlers.
//
// A sample is a success only if every delegate accepts it. Delegates are
// invoked in registration order and are isolated from each other: a panic in
// one delegate is logged and the remaining delegates still run.
type DelegatingPollHandler[V any] struct {
	delegates []PollHandler[V]
	logger    *slog.Logger
}

// NewDelegatingPollHandler returns a handler fanning out to delegates.
// A nil logger uses [slog.Default].
func NewDelegatingPollHandler[V any](logger *slog.Logger, delegates ...PollHandler[V]) *DelegatingPollHandler[V] {
	if logger == nil {
		logger = slog.Default()
	}
	return &DelegatingPollHandler[V]{
		delegates: append([]PollHandler[V](nil), delegates...),
		logger:    logger,
	}
}

// CheckSuccess reports whether every delegate accepts v. A delegate whose
// predicate panics counts as rejecting it.
func (d *DelegatingPollHandler[V]) CheckSuccess(v V) bool {
	for _, h := range d.delegates {
		ok := false
		d.each(h, "check", func() { ok = h.CheckSuccess(v) })
		if !ok {
			return false
		}
	}
	return true
}

// OnSuccess calls OnSuccess on every delegate.
func (d *DelegatingPollHandler[V]) OnSuccess(v V) {
	for _, h := range d.delegates {
		d.each(h, "success", func() { h.OnSuccess(v) })
	}
}

// OnFailure calls OnFailure on every delegate.
func (d *DelegatingPollHandler[V]) OnFailure(v V) {
	for _, h := range d.delegates {
		d.each(h, "failure", func() { h.OnFailure(v) })
	}
}

// OnException calls OnException on every delegate.
func (d *DelegatingPollHandler[V]) OnException(err error) {
	for _, h := range d.delegates {
		d.each(h, "exception", func() { h.OnException(err) })
	}
}

// Description lists the delegate descriptions.
func (d *DelegatingPollHandler[V]) Description() string {
	descs := make([]string, len(d.delegates))
	for i, h := range d.delegates {
		descs[i] = h.Description()
	}
	return fmt.Sprintf("%v", descs)
}

func (d *DelegatingPollHandler[V]) each(h PollHandler[V], event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("delegate handler panicked",
				"handler", h.Description(),
				"event", event,
				"correlation_id", uuid.NewString(),
				"panic", fmt.Sprintf("%v", r),
			)
		}
	}()
	fn()
}
