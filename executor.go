package pulsefeed

import (
	"context"
	"log/slog"
	"time"

	"github.com/jpalmerr/pulsefeed/internal/executor"
)

// Handle is a cancellable reference to work handed to an [Executor].
type Handle interface {
	// Cancel requests cancellation. It is best-effort and idempotent.
	Cancel()
	// Done is closed once the work, and every execution it started, has finished.
	Done() <-chan struct{}
}

// Executor runs the tasks a [Poller] installs.
//
// The context passed to a task is cancelled when its handle is cancelled.
type Executor interface {
	Submit(task func(ctx context.Context)) Handle
	ScheduleAtFixedRate(task func(ctx context.Context), period time.Duration) Handle
}

// PoolExecutor is the default [Executor]: a bounded worker pool.
type PoolExecutor struct {
	pool *executor.Pool
}

// NewPoolExecutor returns an executor running at most maxConcurrency task
// executions at once. A non-positive value selects a default of 10.
func NewPoolExecutor(maxConcurrency int, logger *slog.Logger) *PoolExecutor {
	return &PoolExecutor{pool: executor.NewPool(maxConcurrency, logger)}
}

// Submit implements [Executor].
func (e *PoolExecutor) Submit(task func(ctx context.Context)) Handle {
	return e.pool.Submit(task)
}

// ScheduleAtFixedRate implements [Executor].
func (e *PoolExecutor) ScheduleAtFixedRate(task func(ctx context.Context), period time.Duration) Handle {
	return e.pool.ScheduleAtFixedRate(task, period)
}

// Shutdown cancels all outstanding work and waits for it to finish.
func (e *PoolExecutor) Shutdown() {
	e.pool.Shutdown()
}
