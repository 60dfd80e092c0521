// Package executor provides the task-execution substrate used by the
// pulsefeed Poller.
//
// This package is internal to pulsefeed. It runs one-off and fixed-rate tasks
// on a bounded set of worker goroutines, hands back cancellable handles, and
// contains panics so that a misbehaving task can never take down the pool.
//
// The main components are:
//
//   - [Pool]: bounded worker pool with Submit and ScheduleAtFixedRate
//   - [Handle]: cancellable reference to a submitted or scheduled task
//   - [Task]: the unit of work, receiving a context that is cancelled on
//     Handle.Cancel or Pool.Shutdown
//
// Users of the pulsefeed library should not need to interact with this
// package directly. The Poller wraps it behind the pulsefeed.Executor
// interface.
package executor
