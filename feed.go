package pulsefeed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/jpalmerr/pulsefeed/metrics"
)

// Feed states.
const (
	FeedCreated     = "created"
	FeedActivated   = "activated"
	FeedSuspended   = "suspended"
	FeedDeactivated = "deactivated"
)

const (
	feedEventStart   = "start"
	feedEventSuspend = "suspend"
	feedEventResume  = "resume"
	feedEventStop    = "stop"
)

// Feed samples one external source on behalf of an [Entity].
//
// A feed owns exactly one [Poller]. Jobs are registered with [AddPoll],
// [AddPolls], [AddOneOff] or [AddGatedPoll], either before Start or from the
// PreStart hook, which runs once on the first Start.
//
// The lifecycle is created → activated ⇄ suspended → deactivated. A
// deactivated feed may be started again; its jobs are kept.
type Feed struct {
	id      string
	name    string
	entity  *Entity
	poller  *Poller
	logger  *slog.Logger
	metrics *metrics.Metrics

	preStart  func(*Feed) error
	preStop   func(*Feed)
	postStop  func(*Feed)
	connected func() bool

	mu       sync.Mutex
	state    *fsm.FSM
	prepared bool
}

// NewFeed creates a feed and installs it on entity.
//
// Returns an error if name is empty or already used by another feed of the
// entity, or if any option is invalid.
func NewFeed(entity *Entity, name string, opts ...FeedOption) (*Feed, error) {
	if name == "" {
		return nil, errors.New("feed name is required")
	}

	cfg := &feedConfig{
		logger:  entity.logger,
		exec:    entity.exec,
		metrics: entity.metrics,
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("feed %s: %w", name, err)
		}
	}

	logger := cfg.logger.With("feed", name)
	f := &Feed{
		id:        uuid.NewString(),
		name:      name,
		entity:    entity,
		poller:    NewPoller(name, cfg.exec, logger, cfg.metrics),
		logger:    logger,
		metrics:   cfg.metrics,
		preStart:  cfg.preStart,
		preStop:   cfg.preStop,
		postStop:  cfg.postStop,
		connected: cfg.connected,
		state: fsm.NewFSM(
			FeedCreated,
			fsm.Events{
				{Name: feedEventStart, Src: []string{FeedCreated, FeedDeactivated}, Dst: FeedActivated},
				{Name: feedEventSuspend, Src: []string{FeedActivated}, Dst: FeedSuspended},
				{Name: feedEventResume, Src: []string{FeedSuspended}, Dst: FeedActivated},
				{Name: feedEventStop, Src: []string{FeedActivated, FeedSuspended}, Dst: FeedDeactivated},
			},
			fsm.Callbacks{},
		),
	}

	if err := entity.addFeed(f); err != nil {
		return nil, err
	}
	return f, nil
}

// ID returns a unique identifier generated for this feed instance.
func (f *Feed) ID() string {
	return f.id
}

// Name returns the feed name, unique within its entity.
func (f *Feed) Name() string {
	return f.name
}

// Entity returns the owning entity.
func (f *Feed) Entity() *Entity {
	return f.entity
}

// Poller returns the feed's poller.
func (f *Feed) Poller() *Poller {
	return f.poller
}

// Logger returns the feed logger.
func (f *Feed) Logger() *slog.Logger {
	return f.logger
}

// State returns the current lifecycle state.
func (f *Feed) State() string {
	return f.state.Current()
}

// IsActivated reports whether the feed is started and not suspended.
func (f *Feed) IsActivated() bool {
	return f.state.Is(FeedActivated)
}

// IsConnected reports whether the sampled source is considered reachable.
// It defaults to IsActivated unless a check was set with [WithConnectionCheck].
func (f *Feed) IsConnected() bool {
	if f.connected != nil {
		return f.IsActivated() && f.connected()
	}
	return f.IsActivated()
}

// Start activates the feed, runs the PreStart hook on the first start, and
// starts the poller. If the hook or the poller fails, the feed returns to its
// previous state and the error is returned. Jobs registered by a failed
// PreStart are discarded, so the hook can register them again on the next
// Start.
func (f *Feed) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	prev := f.state.Current()
	if err := f.fire(feedEventStart); err != nil {
		return err
	}

	if !f.prepared && f.preStart != nil {
		oneOff, periodic := f.poller.mark()
		if err := f.preStart(f); err != nil {
			f.poller.rollback(oneOff, periodic)
			f.state.SetState(prev)
			return fmt.Errorf("feed %s: pre-start: %w", f.name, err)
		}
	}
	f.prepared = true

	if err := f.poller.Start(); err != nil {
		f.state.SetState(prev)
		return fmt.Errorf("feed %s: %w", f.name, err)
	}

	f.metrics.FeedActivated()
	f.logger.Info("feed started")
	return nil
}

// Stop deactivates the feed. The feed is marked deactivated before the
// PreStop hook runs and before the poller is cancelled, so callbacks still in
// flight see it as inactive. PostStop runs last.
func (f *Feed) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	wasActive := f.IsActivated()
	if err := f.fire(feedEventStop); err != nil {
		return err
	}

	if f.preStop != nil {
		f.preStop(f)
	}

	var err error
	if f.poller.IsRunning() {
		err = f.poller.Stop()
	}

	if f.postStop != nil {
		f.postStop(f)
	}

	if wasActive {
		f.metrics.FeedDeactivated()
	}
	f.logger.Info("feed stopped")
	return err
}

// Suspend pauses sampling without running any hooks.
func (f *Feed) Suspend() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.fire(feedEventSuspend); err != nil {
		return err
	}
	f.metrics.FeedDeactivated()
	f.logger.Info("feed suspended")
	return f.poller.Stop()
}

// Resume restarts sampling after Suspend.
func (f *Feed) Resume() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.state.Can(feedEventResume) {
		return fmt.Errorf("%w: feed %s: cannot resume from %s", ErrInvalidState, f.name, f.state.Current())
	}
	if err := f.poller.Start(); err != nil {
		return fmt.Errorf("feed %s: %w", f.name, err)
	}
	if err := f.fire(feedEventResume); err != nil {
		return err
	}
	f.metrics.FeedActivated()
	f.logger.Info("feed resumed")
	return nil
}

// Wait blocks until executions cancelled by the last Stop or Suspend have
// returned.
func (f *Feed) Wait() {
	f.poller.Wait()
}

func (f *Feed) fire(event string) error {
	from := f.state.Current()
	if err := f.state.Event(context.Background(), event); err != nil {
		var invalid fsm.InvalidEventError
		if errors.As(err, &invalid) {
			return fmt.Errorf("%w: feed %s: cannot %s from %s", ErrInvalidState, f.name, event, from)
		}
		return fmt.Errorf("feed %s: %s: %w", f.name, event, err)
	}
	return nil
}

// String implements fmt.Stringer.
func (f *Feed) String() string {
	return fmt.Sprintf("Feed[%s/%s]", f.entity.ID(), f.name)
}

// AddPoll registers a periodic job writing one attribute from the samples
// produced by fn.
func AddPoll[V, T any](f *Feed, fn SampleFunc[V], cfg PollConfig[V, T]) error {
	return Schedule(f.poller, fn, PollHandler[V](NewAttributePollHandler(cfg.SampleConfig, f)), cfg.Period())
}

// AddPolls registers one periodic job whose samples are fanned out to every
// handler through a [DelegatingPollHandler].
func AddPolls[V any](f *Feed, fn SampleFunc[V], period time.Duration, handlers ...PollHandler[V]) error {
	if len(handlers) == 0 {
		return errors.New("at least one handler is required")
	}
	return Schedule(f.poller, fn, PollHandler[V](NewDelegatingPollHandler(f.logger, handlers...)), period)
}

// AddOneOff registers a job that runs once each time the feed starts.
func AddOneOff(f *Feed, description string, task func(ctx context.Context) error) error {
	return f.poller.Submit(description, task)
}
