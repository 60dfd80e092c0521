package sshfeed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jpalmerr/pulsefeed"
)

// Feed samples a host by running shell commands over SSH.
//
// The feed reports itself disconnected while the SSH transport is down, so
// failures during an outage are logged at debug level.
type Feed struct {
	feed   *pulsefeed.Feed
	client *Client
}

// New creates an SSH feed named name on entity. The connection is opened on
// the first sample and closed when the feed stops.
func New(entity *pulsefeed.Entity, name string, cfg Config, opts ...pulsefeed.FeedOption) (*Feed, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}

	h := &Feed{client: client}

	feedOpts := append([]pulsefeed.FeedOption{
		pulsefeed.WithConnectionCheck(client.Connected),
		pulsefeed.WithPostStop(func(f *pulsefeed.Feed) {
			if err := client.Close(); err != nil {
				f.Logger().Debug("closing ssh connection", "error", err)
			}
		}),
	}, opts...)

	h.feed, err = pulsefeed.NewFeed(entity, name, feedOpts...)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Feed returns the underlying feed, used for lifecycle control.
func (h *Feed) Feed() *pulsefeed.Feed {
	return h.feed
}

// Client returns the SSH client.
func (h *Feed) Client() *Client {
	return h.client
}

// Command returns a sample function running cmd.
func (h *Feed) Command(cmd string) pulsefeed.SampleFunc[*Result] {
	return func(ctx context.Context) (*Result, error) {
		return h.client.Run(ctx, cmd)
	}
}

// Poll registers a periodic job running cmd and updating one attribute. A
// config without a success predicate treats every exit code as success; use
// [ExitOK] to require exit status 0.
func Poll[T any](h *Feed, cmd string, cfg pulsefeed.PollConfig[*Result, T]) error {
	return pulsefeed.AddPoll(h.feed, h.Command(cmd), cfg)
}

// PollAll registers one periodic command whose result is handed to every
// handler.
func PollAll(h *Feed, cmd string, period time.Duration, handlers ...pulsefeed.PollHandler[*Result]) error {
	return pulsefeed.AddPolls(h.feed, h.Command(cmd), period, handlers...)
}

// Handler binds cfg to this feed, for use with [PollAll].
func Handler[T any](h *Feed, cfg pulsefeed.SampleConfig[*Result, T]) pulsefeed.PollHandler[*Result] {
	return pulsefeed.NewAttributePollHandler(cfg, h.feed)
}

// ExitOK is a success predicate accepting exit status 0.
func ExitOK(r *Result) bool {
	return r != nil && r.ExitCode == 0
}

// Stdout is a transform yielding trimmed standard output.
func Stdout(r *Result) (pulsefeed.Result[string], error) {
	return pulsefeed.Value(strings.TrimSpace(r.Stdout)), nil
}

// ExitCode is a transform yielding the exit status.
func ExitCode(r *Result) (pulsefeed.Result[int], error) {
	return pulsefeed.Value(r.ExitCode), nil
}

// Field returns a transform reading the i-th whitespace-separated field of
// standard output (0-based) and coercing it to T with the default registry.
//
//	// "load average" from /proc/loadavg
//	cfg := pulsefeed.NewPollConfig[*sshfeed.Result](Load1, 30*time.Second).
//	    SuccessWhen(sshfeed.ExitOK).
//	    OnSuccess(sshfeed.Field[float64](0))
func Field[T any](i int) func(*Result) (pulsefeed.Result[T], error) {
	coercions := pulsefeed.DefaultCoercions()
	return func(r *Result) (pulsefeed.Result[T], error) {
		fields := strings.Fields(r.Stdout)
		if i < 0 || i >= len(fields) {
			return pulsefeed.Keep[T](), fmt.Errorf("field %d not present in %d-field output", i, len(fields))
		}
		v, err := pulsefeed.CoerceTo[T](coercions, fields[i])
		if err != nil {
			return pulsefeed.Keep[T](), err
		}
		return pulsefeed.Value(v), nil
	}
}
