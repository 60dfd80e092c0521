package pulsefeed

import (
	"errors"
	"fmt"
	"time"
)

// SampleConfig is the immutable description of one sampling contract: which
// attribute a raw sample of type V updates, how to decide whether the sample
// counts as success, and how to turn successes, failures and sampling errors
// into attribute values of type T.
//
// SampleConfig values are created with [NewSampleConfig] or [NewPollConfig]
// and are safe to share between goroutines.
type SampleConfig[V, T any] struct {
	attribute   Attribute[T]
	predicate   func(V) bool
	onSuccess   func(V) (Result[T], error)
	onFailure   func(V) (Result[T], error)
	onException func(error) (Result[T], error)
	coerce      func(V) (T, error)
	description string
}

// Attribute returns the target attribute.
func (c SampleConfig[V, T]) Attribute() Attribute[T] {
	return c.attribute
}

// CheckSuccess reports whether v is a successful sample. With no predicate
// configured every value, including nil or zero values, is a success.
func (c SampleConfig[V, T]) CheckSuccess(v V) bool {
	if c.predicate == nil {
		return true
	}
	return c.predicate(v)
}

// HasSuccessHandler reports whether an explicit success transform is set.
// Without one, successful samples are coerced directly to T.
func (c SampleConfig[V, T]) HasSuccessHandler() bool {
	return c.onSuccess != nil
}

// HasFailureHandler reports whether a failure transform is set.
func (c SampleConfig[V, T]) HasFailureHandler() bool {
	return c.onFailure != nil
}

// HasExceptionHandler reports whether an exception transform is set.
func (c SampleConfig[V, T]) HasExceptionHandler() bool {
	return c.onException != nil
}

// Description returns the configured description, or the attribute name.
func (c SampleConfig[V, T]) Description() string {
	if c.description != "" {
		return c.description
	}
	return c.attribute.Name()
}

// String implements fmt.Stringer.
func (c SampleConfig[V, T]) String() string {
	return fmt.Sprintf("SampleConfig[%s]", c.Description())
}

func (c SampleConfig[V, T]) transformSuccess(v V) (Result[T], error) {
	if c.onSuccess != nil {
		return c.onSuccess(v)
	}
	t, err := c.coerce(v)
	if err != nil {
		return Keep[T](), err
	}
	return Value(t), nil
}

func (c SampleConfig[V, T]) transformFailure(v V) (Result[T], error) {
	return c.onFailure(v)
}

func (c SampleConfig[V, T]) transformException(err error) (Result[T], error) {
	return c.onException(err)
}

// PollConfig is a [SampleConfig] with a sampling period.
//
// A zero period means the job is registered but never scheduled. This is a
// deliberate disabled state, not an error.
type PollConfig[V, T any] struct {
	SampleConfig[V, T]
	period time.Duration
}

// Period returns the sampling period.
func (c PollConfig[V, T]) Period() time.Duration {
	return c.period
}

// Enabled reports whether the job will actually be scheduled.
func (c PollConfig[V, T]) Enabled() bool {
	return c.period > 0
}

// String implements fmt.Stringer.
func (c PollConfig[V, T]) String() string {
	return fmt.Sprintf("PollConfig[%s, period=%s]", c.Description(), c.period)
}

// ConfigBuilder accumulates settings for a [SampleConfig] or [PollConfig].
//
// A builder is not safe for concurrent use. Build and BuildPoll return
// independent values; changing the builder afterwards does not affect them.
type ConfigBuilder[V, T any] struct {
	cfg       SampleConfig[V, T]
	period    time.Duration
	coercions *Coercions
}

// NewSampleConfig starts a config for raw samples of type V updating attr.
// T is inferred from attr:
//
//	cfg, err := pulsefeed.NewSampleConfig[string](Load).
//	    SuccessWhen(func(s string) bool { return s != "" }).
//	    Build()
func NewSampleConfig[V, T any](attr Attribute[T]) *ConfigBuilder[V, T] {
	return &ConfigBuilder[V, T]{cfg: SampleConfig[V, T]{attribute: attr}}
}

// NewPollConfig starts a config with a sampling period.
func NewPollConfig[V, T any](attr Attribute[T], period time.Duration) *ConfigBuilder[V, T] {
	b := NewSampleConfig[V](attr)
	b.period = period
	return b
}

// Period sets the sampling period.
func (b *ConfigBuilder[V, T]) Period(d time.Duration) *ConfigBuilder[V, T] {
	b.period = d
	return b
}

// SuccessWhen sets the success predicate.
func (b *ConfigBuilder[V, T]) SuccessWhen(pred func(V) bool) *ConfigBuilder[V, T] {
	b.cfg.predicate = pred
	return b
}

// OnSuccess sets the success transform.
func (b *ConfigBuilder[V, T]) OnSuccess(fn func(V) (Result[T], error)) *ConfigBuilder[V, T] {
	b.cfg.onSuccess = fn
	return b
}

// OnFailure sets the failure transform, applied when the predicate is false.
func (b *ConfigBuilder[V, T]) OnFailure(fn func(V) (Result[T], error)) *ConfigBuilder[V, T] {
	b.cfg.onFailure = fn
	return b
}

// OnException sets the transform applied when sampling returns an error.
func (b *ConfigBuilder[V, T]) OnException(fn func(error) (Result[T], error)) *ConfigBuilder[V, T] {
	b.cfg.onException = fn
	return b
}

// OnFailureValue writes v whenever the success predicate is false.
func (b *ConfigBuilder[V, T]) OnFailureValue(v T) *ConfigBuilder[V, T] {
	return b.OnFailure(func(V) (Result[T], error) { return Value(v), nil })
}

// OnExceptionValue writes v whenever sampling returns an error.
func (b *ConfigBuilder[V, T]) OnExceptionValue(v T) *ConfigBuilder[V, T] {
	return b.OnException(func(error) (Result[T], error) { return Value(v), nil })
}

// OnFailureOrException writes v on both failures and sampling errors.
func (b *ConfigBuilder[V, T]) OnFailureOrException(v T) *ConfigBuilder[V, T] {
	return b.OnFailureValue(v).OnExceptionValue(v)
}

// Coercions sets the registry used to convert raw samples when no success
// transform is configured. Defaults to [DefaultCoercions].
func (b *ConfigBuilder[V, T]) Coercions(c *Coercions) *ConfigBuilder[V, T] {
	b.coercions = c
	return b
}

// Description sets a human-readable description used in logs.
func (b *ConfigBuilder[V, T]) Description(s string) *ConfigBuilder[V, T] {
	b.cfg.description = s
	return b
}

// Build returns the immutable [SampleConfig].
//
// Returns an error if the attribute has no name, or if no success transform
// is set and raw values of type V cannot be coerced to T.
func (b *ConfigBuilder[V, T]) Build() (SampleConfig[V, T], error) {
	cfg := b.cfg
	if cfg.attribute.Name() == "" {
		return SampleConfig[V, T]{}, errors.New("attribute name is required")
	}

	if cfg.onSuccess == nil {
		coercions := b.coercions
		if coercions == nil {
			coercions = defaultCoercions
		}
		coerce, err := resolveCoercion[V, T](coercions)
		if err != nil {
			return SampleConfig[V, T]{}, fmt.Errorf("attribute %s: %w", cfg.attribute.Name(), err)
		}
		cfg.coerce = coerce
	}

	return cfg, nil
}

// BuildPoll returns the immutable [PollConfig].
//
// Returns an error for a negative period or for any reason [ConfigBuilder.Build]
// would.
func (b *ConfigBuilder[V, T]) BuildPoll() (PollConfig[V, T], error) {
	if b.period < 0 {
		return PollConfig[V, T]{}, fmt.Errorf("attribute %s: period must not be negative, got %s",
			b.cfg.attribute.Name(), b.period)
	}
	cfg, err := b.Build()
	if err != nil {
		return PollConfig[V, T]{}, err
	}
	return PollConfig[V, T]{SampleConfig: cfg, period: b.period}, nil
}

// MustBuildPoll is like [ConfigBuilder.BuildPoll] but panics on error.
// It is intended for package-level declarations with known-good settings.
func (b *ConfigBuilder[V, T]) MustBuildPoll() PollConfig[V, T] {
	cfg, err := b.BuildPoll()
	if err != nil {
		panic(err)
	}
	return cfg
}
