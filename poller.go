package pulsefeed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/jpalmerr/pulsefeed/metrics"
)

// Poller states.
const (
	PollerNotStarted = "not_started"
	PollerRunning    = "running"
	PollerStopped    = "stopped"
)

const (
	pollerEventStart = "start"
	pollerEventStop  = "stop"
)

// SampleFunc produces one raw sample. It may block; it should return when ctx
// is cancelled.
type SampleFunc[V any] func(ctx context.Context) (V, error)

// job is a registered unit of work with its types erased.
type job struct {
	description string
	period      time.Duration
	run         func(ctx context.Context) string
	inFlight    atomic.Bool
}

// Poller turns registered jobs into executions on an [Executor].
//
// Jobs are registered while the poller is not started. [Poller.Start] submits
// one-off jobs and schedules periodic jobs at a fixed rate; [Poller.Stop]
// cancels them but keeps the job definitions so the poller can be started
// again. Registration is refused once the poller has been started, even after
// it is stopped.
//
// A periodic job never runs concurrently with itself: a tick that fires while
// the previous execution is still running is skipped. Panics raised by sample
// functions or handlers are recovered and logged.
type Poller struct {
	name    string
	exec    Executor
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	state    *fsm.FSM
	oneOff   []*job
	periodic []*job
	handles  []Handle
	last     []Handle
}

// NewPoller creates a poller. name labels logs and metrics; a nil logger
// uses [slog.Default] and nil metrics disables instrumentation.
func NewPoller(name string, exec Executor, logger *slog.Logger, m *metrics.Metrics) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		name:    name,
		exec:    exec,
		logger:  logger.With("poller", name),
		metrics: m,
		state: fsm.NewFSM(
			PollerNotStarted,
			fsm.Events{
				{Name: pollerEventStart, Src: []string{PollerNotStarted, PollerStopped}, Dst: PollerRunning},
				{Name: pollerEventStop, Src: []string{PollerRunning}, Dst: PollerStopped},
			},
			fsm.Callbacks{},
		),
	}
}

// Submit registers a job that runs once each time the poller starts.
// An error returned by task is logged.
func (p *Poller) Submit(description string, task func(ctx context.Context) error) error {
	return p.register(&job{
		description: description,
		run: func(ctx context.Context) string {
			if err := task(ctx); err != nil {
				p.logger.Warn("one-off job failed", "job", description, "error", err)
				return metrics.OutcomeException
			}
			return metrics.OutcomeSuccess
		},
	}, false)
}

// Schedule registers a periodic job sampling fn every period and routing the
// result to handler. A job with a zero or negative period is registered but
// never scheduled.
func Schedule[V any](p *Poller, fn SampleFunc[V], handler PollHandler[V], period time.Duration) error {
	return p.register(&job{
		description: handler.Description(),
		period:      period,
		run: func(ctx context.Context) string {
			return pollOnce(ctx, fn, handler)
		},
	}, true)
}

// pollOnce samples once and dispatches the result. It returns the outcome
// label for metrics.
func pollOnce[V any](ctx context.Context, fn SampleFunc[V], handler PollHandler[V]) string {
	v, err := fn(ctx)
	if err != nil {
		handler.OnException(err)
		return metrics.OutcomeException
	}
	if handler.CheckSuccess(v) {
		handler.OnSuccess(v)
		return metrics.OutcomeSuccess
	}
	handler.OnFailure(v)
	if l, ok := any(v).(labeled); ok {
		if outcome := l.outcome(); outcome != "" {
			return outcome
		}
	}
	return metrics.OutcomeFailure
}

// labeled is implemented by samples whose failed success check is not a
// failure of the sampled source.
type labeled interface {
	outcome() string
}

func (p *Poller) register(j *job, periodic bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state.Current() != PollerNotStarted {
		return fmt.Errorf("%w: poller %s: cannot register %q in state %s",
			ErrInvalidState, p.name, j.description, p.state.Current())
	}
	if periodic {
		p.periodic = append(p.periodic, j)
	} else {
		p.oneOff = append(p.oneOff, j)
	}
	return nil
}

// mark returns the number of registered jobs, for use with rollback.
func (p *Poller) mark() (oneOff, periodic int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.oneOff), len(p.periodic)
}

// rollback drops jobs registered after the matching call to mark.
func (p *Poller) rollback(oneOff, periodic int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if oneOff < len(p.oneOff) {
		p.oneOff = p.oneOff[:oneOff]
	}
	if periodic < len(p.periodic) {
		p.periodic = p.periodic[:periodic]
	}
}

// Start submits every one-off job and schedules every periodic job with a
// positive period. It returns [ErrInvalidState] if the poller is running.
func (p *Poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.transition(pollerEventStart); err != nil {
		return err
	}

	for _, j := range p.oneOff {
		p.handles = append(p.handles, p.exec.Submit(func(ctx context.Context) {
			p.execute(ctx, j)
		}))
	}

	scheduled := 0
	for _, j := range p.periodic {
		if j.period <= 0 {
			p.logger.Debug("job disabled, not scheduling", "job", j.description)
			continue
		}
		p.handles = append(p.handles, p.exec.ScheduleAtFixedRate(func(ctx context.Context) {
			if !j.inFlight.CompareAndSwap(false, true) {
				p.logger.Debug("previous execution still running, skipping tick", "job", j.description)
				p.metrics.RecordTickSkipped(p.name)
				return
			}
			defer j.inFlight.Store(false)
			p.execute(ctx, j)
		}, j.period))
		scheduled++
	}

	p.logger.Debug("poller started", "one_off", len(p.oneOff), "periodic", scheduled)
	return nil
}

// Stop cancels every outstanding execution. Registered jobs are kept. It
// returns [ErrInvalidState] unless the poller is running.
//
// Stop does not wait for in-flight executions; cancellation is delivered
// through their context.
func (p *Poller) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.transition(pollerEventStop); err != nil {
		return err
	}

	for _, h := range p.handles {
		h.Cancel()
	}
	p.last, p.handles = p.handles, nil

	p.logger.Debug("poller stopped")
	return nil
}

// Wait blocks until every execution cancelled by the last Stop has finished.
func (p *Poller) Wait() {
	p.mu.Lock()
	handles := p.last
	p.mu.Unlock()

	for _, h := range handles {
		<-h.Done()
	}
}

// State returns the current lifecycle state.
func (p *Poller) State() string {
	return p.state.Current()
}

// IsRunning reports whether the poller is started.
func (p *Poller) IsRunning() bool {
	return p.state.Is(PollerRunning)
}

// transition fires a lifecycle event, mapping refusals to ErrInvalidState.
func (p *Poller) transition(event string) error {
	from := p.state.Current()
	if err := p.state.Event(context.Background(), event); err != nil {
		var invalid fsm.InvalidEventError
		if errors.As(err, &invalid) {
			return fmt.Errorf("%w: poller %s: cannot %s from %s", ErrInvalidState, p.name, event, from)
		}
		return fmt.Errorf("poller %s: %s: %w", p.name, event, err)
	}
	return nil
}

// execute runs one execution of j. Panics stop here.
func (p *Poller) execute(ctx context.Context, j *job) {
	start := time.Now()
	outcome := metrics.OutcomeException

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked",
				"job", j.description,
				"correlation_id", uuid.NewString(),
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
		}
		p.metrics.RecordSample(p.name, outcome)
		p.metrics.ObserveSampleDuration(p.name, time.Since(start))
	}()

	outcome = j.run(ctx)
}
