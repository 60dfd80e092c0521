package executor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrency is the worker limit used when NewPool is given a
// non-positive value.
const DefaultMaxConcurrency = 10

// Task is a unit of work executed by a [Pool].
//
// The context is cancelled when the task's [Handle] is cancelled or when the
// pool shuts down. Long-running tasks should honour it; the pool never
// forcibly terminates a goroutine.
type Task func(ctx context.Context)

// Handle is a cancellable reference to a submitted or scheduled task.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel requests cancellation of the task. It is best-effort: a task that
// ignores its context runs to completion. Safe to call multiple times.
func (h *Handle) Cancel() {
	h.cancel()
}

// Done returns a channel that is closed once the task (and, for fixed-rate
// tasks, every execution it started) has finished.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Pool runs tasks on a bounded number of worker goroutines.
//
// Pool implements a worker pool pattern: every execution acquires a slot
// from a weighted semaphore before running, so at most maxConcurrency task
// executions are in flight at once across all handles. Fixed-rate tasks run
// once immediately and then on every tick of their period.
//
// All methods are safe for concurrent use.
type Pool struct {
	sem    *semaphore.Weighted
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// NewPool creates a new [Pool].
//
// Parameters:
//   - maxConcurrency: maximum number of concurrently running task executions
//     (DefaultMaxConcurrency if zero or negative)
//   - logger: logger for panic recovery events
func NewPool(maxConcurrency int, logger *slog.Logger) *Pool {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:    semaphore.NewWeighted(int64(maxConcurrency)),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit runs task once on a worker goroutine as soon as a slot is free.
//
// If the pool has been shut down, the task is not run and the returned
// handle is already done.
func (p *Pool) Submit(task Task) *Handle {
	ctx, h, ok := p.newHandle()
	if !ok {
		return h
	}

	go func() {
		defer p.wg.Done()
		defer close(h.done)

		var running sync.WaitGroup
		p.dispatch(ctx, task, &running)
		running.Wait()
	}()

	return h
}

// ScheduleAtFixedRate runs task immediately and then once per period until
// the returned handle is cancelled or the pool shuts down.
//
// Each execution is dispatched to its own worker goroutine, so a slow
// execution does not delay the ticker. Callers that need at most one
// execution in flight must guard the task themselves. If every worker slot
// is busy when a tick fires, the scheduling goroutine waits for a slot and
// ticks that elapse meanwhile are dropped.
//
// A non-positive period is treated as a one-off submission.
func (p *Pool) ScheduleAtFixedRate(task Task, period time.Duration) *Handle {
	if period <= 0 {
		return p.Submit(task)
	}

	ctx, h, ok := p.newHandle()
	if !ok {
		return h
	}

	go func() {
		defer p.wg.Done()
		defer close(h.done)

		var running sync.WaitGroup
		defer running.Wait()

		ticker := time.NewTicker(period)
		defer ticker.Stop()

		p.dispatch(ctx, task, &running)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.dispatch(ctx, task, &running)
			}
		}
	}()

	return h
}

// Shutdown cancels every outstanding task and waits for all worker
// goroutines to return. Tasks submitted afterwards are never run.
//
// Shutdown is idempotent.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.stopped = true
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
}

// newHandle derives a task context from the pool context. The returned bool
// is false when the pool is already shut down.
func (p *Pool) newHandle() (context.Context, *Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, cancel := context.WithCancel(p.ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}

	if p.stopped {
		cancel()
		close(h.done)
		return ctx, h, false
	}

	// registered under lock so Shutdown's Wait cannot miss it
	p.wg.Add(1)
	return ctx, h, true
}

// dispatch acquires a worker slot and runs one execution of task.
func (p *Pool) dispatch(ctx context.Context, task Task, running *sync.WaitGroup) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return // cancelled while waiting for a slot
	}

	running.Add(1)
	go func() {
		defer running.Done()
		defer p.sem.Release(1)
		p.runSafe(ctx, task)
	}()
}

// runSafe calls the task with panic recovery.
// A panic is logged with its full stack trace and a correlation ID; it never
// propagates to the scheduling goroutine.
func (p *Pool) runSafe(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panic",
				"correlation_id", uuid.NewString(),
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	task(ctx)
}
