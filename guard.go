package pulsefeed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jpalmerr/pulsefeed/metrics"
)

// GuardedAction performs a one-time remote side effect, such as registering
// with an external coordinator, retrying on every tick until it succeeds.
//
// The action is attempted by a periodic job installed with
// [GuardedAction.Install]. Once an attempt succeeds the done flag flips from
// false to true with a single compare-and-swap, so overlapping ticks can
// never complete the action twice, and later ticks do nothing. Failed
// attempts back off exponentially; ticks inside the back-off window are
// skipped without calling the action.
//
// Ticks that do not call the action are recorded with the "skipped" outcome.
// Jobs added with [AddGatedPoll] report "not ready" until the action is done.
type GuardedAction struct {
	name   string
	action func(ctx context.Context) error

	done atomic.Bool

	mu      sync.Mutex
	backoff backoff.BackOff
	next    time.Time
	onDone  []func()
	now     func() time.Time
}

// GuardOption configures a [GuardedAction].
type GuardOption func(*GuardedAction)

// WithBackOff replaces the default exponential back-off. A back-off returning
// [backoff.Stop] is treated as "retry on the next tick".
func WithBackOff(b backoff.BackOff) GuardOption {
	return func(g *GuardedAction) {
		g.backoff = b
	}
}

// NewGuardedAction returns a guard for action.
//
// The default back-off starts at 500ms, grows to at most one minute, and
// never gives up.
func NewGuardedAction(name string, action func(ctx context.Context) error, opts ...GuardOption) *GuardedAction {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = time.Minute
	bo.MaxElapsedTime = 0

	g := &GuardedAction{
		name:    name,
		action:  action,
		backoff: bo,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name returns the guard name.
func (g *GuardedAction) Name() string {
	return g.name
}

// Done reports whether the action has completed.
func (g *GuardedAction) Done() bool {
	return g.done.Load()
}

// OnDone registers fn to run once each time the action completes.
func (g *GuardedAction) OnDone(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onDone = append(g.onDone, fn)
}

// Reset clears the done flag so the action is attempted again, for example
// after the coordinator lost its registration.
func (g *GuardedAction) Reset() {
	g.mu.Lock()
	g.backoff.Reset()
	g.next = time.Time{}
	g.mu.Unlock()

	g.done.Store(false)
}

// Install registers the retry job on feed with the given period.
func (g *GuardedAction) Install(f *Feed, period time.Duration) error {
	if period <= 0 {
		return fmt.Errorf("guard %s: retry period must be positive, got %s", g.name, period)
	}
	h := &guardHandler{guard: g, feed: f}
	return Schedule(f.poller, SampleFunc[attempt](g.attempt), PollHandler[attempt](h), period)
}

// attempt is the sample produced by one tick of the retry job. A skipped
// attempt did not call the action.
type attempt struct {
	skip bool
}

func (a attempt) outcome() string {
	if a.skip {
		return metrics.OutcomeSkipped
	}
	return ""
}

func (g *GuardedAction) attempt(ctx context.Context) (attempt, error) {
	if g.done.Load() {
		return attempt{skip: true}, nil
	}

	g.mu.Lock()
	if g.now().Before(g.next) {
		g.mu.Unlock()
		return attempt{skip: true}, nil
	}
	g.mu.Unlock()

	if err := g.action(ctx); err != nil {
		g.mu.Lock()
		if wait := g.backoff.NextBackOff(); wait != backoff.Stop {
			g.next = g.now().Add(wait)
		}
		g.mu.Unlock()
		return attempt{}, err
	}
	return attempt{}, nil
}

// complete flips the done flag. Only the first caller wins.
func (g *GuardedAction) complete() bool {
	if !g.done.CompareAndSwap(false, true) {
		return false
	}

	g.mu.Lock()
	g.backoff.Reset()
	g.next = time.Time{}
	callbacks := append([]func(){}, g.onDone...)
	g.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
	return true
}

// guardHandler drives the retry job.
type guardHandler struct {
	guard *GuardedAction
	feed  *Feed
}

func (h *guardHandler) CheckSuccess(a attempt) bool {
	return !a.skip
}

func (h *guardHandler) OnSuccess(attempt) {
	if h.guard.complete() {
		h.feed.logger.Info("guarded action completed", "guard", h.guard.name)
	}
}

// OnFailure is reached for skipped ticks only.
func (h *guardHandler) OnFailure(attempt) {}

func (h *guardHandler) OnException(err error) {
	level := h.feed.logger.Warn
	if !h.feed.IsConnected() {
		level = h.feed.logger.Debug
	}
	level("guarded action failed, will retry", "guard", h.guard.name, "error", err)
}

func (h *guardHandler) Description() string {
	return "guard " + h.guard.name
}

// Gated wraps a sample taken by a job that depends on a [GuardedAction].
// Ready is false, and Value is zero, while the guard is not done.
type Gated[V any] struct {
	Value V
	Ready bool
}

func (g Gated[V]) outcome() string {
	if !g.Ready {
		return metrics.OutcomeNotReady
	}
	return ""
}

// GatedSample wraps fn so that it is only called once guard is done.
func GatedSample[V any](guard *GuardedAction, fn SampleFunc[V]) SampleFunc[Gated[V]] {
	return func(ctx context.Context) (Gated[V], error) {
		if !guard.Done() {
			return Gated[V]{}, nil
		}
		v, err := fn(ctx)
		if err != nil {
			return Gated[V]{}, err
		}
		return Gated[V]{Value: v, Ready: true}, nil
	}
}

// GatedHandler adapts inner to gated samples. A sample that is not ready is
// a handled failure: inner is not called and nothing is written.
func GatedHandler[V any](inner PollHandler[V], feed *Feed) PollHandler[Gated[V]] {
	return &gatedHandler[V]{inner: inner, feed: feed}
}

type gatedHandler[V any] struct {
	inner PollHandler[V]
	feed  *Feed
}

func (h *gatedHandler[V]) CheckSuccess(g Gated[V]) bool {
	return g.Ready && h.inner.CheckSuccess(g.Value)
}

func (h *gatedHandler[V]) OnSuccess(g Gated[V]) {
	h.inner.OnSuccess(g.Value)
}

func (h *gatedHandler[V]) OnFailure(g Gated[V]) {
	if !g.Ready {
		h.feed.logger.Debug("skipping sample", "job", h.inner.Description(), "error", ErrNotReady)
		return
	}
	h.inner.OnFailure(g.Value)
}

func (h *gatedHandler[V]) OnException(err error) {
	h.inner.OnException(err)
}

func (h *gatedHandler[V]) Description() string {
	return h.inner.Description()
}

// AddGatedPoll registers a periodic job like [AddPoll] that only samples once
// guard is done. Until then each tick reports "not ready" and leaves the
// attribute untouched.
func AddGatedPoll[V, T any](f *Feed, guard *GuardedAction, fn SampleFunc[V], cfg PollConfig[V, T]) error {
	if guard == nil {
		return errors.New("guard is required")
	}
	inner := PollHandler[V](NewAttributePollHandler(cfg.SampleConfig, f))
	return Schedule(f.poller, GatedSample(guard, fn), GatedHandler(inner, f), cfg.Period())
}
