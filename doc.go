// Package pulsefeed is a periodic-sampling engine that keeps the typed
// attributes of managed entities up to date.
//
// An [Entity] is a managed resource (a process, a node, a cluster) holding
// typed [Attribute] values. A [Feed] installed on the entity samples one
// external source through its [Poller], and every raw sample passes through
// a [PollHandler] that decides how it becomes state.
//
// # Quick Start
//
// Declare attributes once, then wire a feed with a poll config:
//
//	var Connections = pulsefeed.NewAttribute[int]("db.connections", "Open connections")
//
//	fleet, _ := pulsefeed.New(pulsefeed.WithPort(9090))
//	db, _ := fleet.NewEntity("db-1")
//	feed, _ := pulsefeed.NewFeed(db, "stats")
//
//	cfg := pulsefeed.NewPollConfig[string](Connections, 10*time.Second).
//	    SuccessWhen(func(s string) bool { return s != "" }).
//	    OnFailureOrException(-1).
//	    MustBuildPoll()
//	_ = pulsefeed.AddPoll(feed, readConnections, cfg)
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	fleet.Run(ctx) // blocks until ctx is cancelled
//
// # Sample Processing
//
// Each tick produces either a value or an error:
//
//   - a value accepted by the success predicate goes to the success transform,
//     or is coerced to the attribute type when no transform is set
//   - a rejected value goes to the failure transform; without one it is
//     handled as an error wrapping [ErrNoFailureHandler]
//   - an error goes to the exception transform; without one it is logged
//
// Transforms return a [Result]. [Keep] leaves the attribute untouched.
// Errors and panics raised by transforms are logged and never reach the
// scheduler.
//
// # Coercion
//
// Conversions from raw sample types to attribute types come from a closed
// [Coercions] registry. A config resolves its conversion when it is built, so
// a missing conversion is reported by [ConfigBuilder.Build] rather than on
// every tick.
//
// # Lifecycle
//
// Poller transitions are strict: registering jobs after the first Start,
// starting twice, or stopping a poller that is not running all fail with
// [ErrInvalidState]. A periodic job never overlaps with itself; a tick that
// fires while the previous execution is still running is skipped.
//
// # Architecture
//
// Concrete feeds live in the feeds/ directory:
//
//   - feeds/httpfeed: HTTP probing with JSON, regex and status extraction
//   - feeds/sshfeed: shell commands over SSH
//
// Supporting packages:
//
//   - internal/executor: bounded worker pool with fixed-rate scheduling
//   - internal/store: attribute store with pub/sub for real-time updates
//   - internal/server: REST API and Server-Sent Events
//   - metrics: Prometheus instrumentation
//   - config: YAML fleet definitions
package pulsefeed
