package httpfeed

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/jpalmerr/pulsefeed"
)

const (
	defaultTimeout = 10 * time.Second

	// RequestIDHeader carries a per-request identifier.
	RequestIDHeader = "X-Request-ID"
)

// Feed samples one HTTP endpoint on behalf of an entity.
//
// Every request carries an X-Request-ID of the form "<feed id>-<n>", where n
// counts requests made by this feed only.
type Feed struct {
	feed    *pulsefeed.Feed
	client  *Client
	url     string
	method  string
	headers map[string]string
	body    []byte
	timeout time.Duration
	seq     atomic.Uint64
}

// New creates an HTTP feed named name on entity, sampling rawURL.
//
// The underlying [pulsefeed.Feed] closes idle connections when it stops.
func New(entity *pulsefeed.Entity, name, rawURL string, opts ...Option) (*Feed, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.New("invalid URL: " + err.Error())
	}
	if parsed.Scheme == "" {
		return nil, errors.New("URL must have a scheme (http:// or https://)")
	}

	cfg := &feedConfig{
		headers: make(map[string]string),
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	client := cfg.client
	if client == nil {
		client = NewClient()
	}

	h := &Feed{
		client:  client,
		url:     rawURL,
		method:  cfg.method,
		headers: cfg.headers,
		body:    cfg.body,
		timeout: cfg.timeout,
	}

	feedOpts := append([]pulsefeed.FeedOption{
		pulsefeed.WithPostStop(func(*pulsefeed.Feed) { client.Close() }),
	}, cfg.feedOptions...)

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

// URL returns the sampled URL.
func (h *Feed) URL() string {
	return h.url
}

// Sample performs one request. It is the feed's [pulsefeed.SampleFunc].
func (h *Feed) Sample(ctx context.Context) (*Response, error) {
	return h.do(ctx, Request{
		Method:  h.method,
		URL:     h.url,
		Headers: h.headers,
		Body:    h.body,
		Timeout: h.timeout,
	})
}

func (h *Feed) do(ctx context.Context, req Request) (*Response, error) {
	headers := make(map[string]string, len(req.Headers)+1)
	for k, v := range req.Headers {
		headers[k] = v
	}
	headers[RequestIDHeader] = h.nextRequestID()
	req.Headers = headers
	return h.client.Do(ctx, req)
}

func (h *Feed) nextRequestID() string {
	return fmt.Sprintf("%s-%d", h.feed.ID(), h.seq.Add(1))
}

// Poll registers a periodic job updating one attribute from responses.
func Poll[T any](h *Feed, cfg pulsefeed.PollConfig[*Response, T]) error {
	return pulsefeed.AddPoll(h.feed, h.Sample, cfg)
}

// PollAll registers one periodic request whose response is handed to every
// handler, typically one [pulsefeed.AttributePollHandler] per attribute.
func PollAll(h *Feed, period time.Duration, handlers ...pulsefeed.PollHandler[*Response]) error {
	return pulsefeed.AddPolls(h.feed, h.Sample, period, handlers...)
}

// Handler binds cfg to this feed, for use with [PollAll].
func Handler[T any](h *Feed, cfg pulsefeed.SampleConfig[*Response, T]) pulsefeed.PollHandler[*Response] {
	return pulsefeed.NewAttributePollHandler(cfg, h.feed)
}

// RegisterWith installs a guarded action POSTing body to coordinatorURL
// until the coordinator answers with a 2xx status, retrying every period.
// Jobs added with [PollGated] wait for it.
func (h *Feed) RegisterWith(coordinatorURL string, body []byte, period time.Duration, opts ...pulsefeed.GuardOption) (*pulsefeed.GuardedAction, error) {
	if _, err := url.Parse(coordinatorURL); err != nil {
		return nil, errors.New("invalid coordinator URL: " + err.Error())
	}

	guard := pulsefeed.NewGuardedAction("register "+coordinatorURL, func(ctx context.Context) error {
		resp, err := h.do(ctx, Request{
			Method:  "POST",
			URL:     coordinatorURL,
			Headers: map[string]string{"Content-Type": "application/json"},
			Body:    body,
			Timeout: h.timeout,
		})
		if err != nil {
			return err
		}
		if !IsSuccess(resp) {
			return fmt.Errorf("coordinator answered %d", resp.StatusCode)
		}
		return nil
	}, opts...)

	if err := guard.Install(h.feed, period); err != nil {
		return nil, err
	}
	return guard, nil
}

// PollGated is like [Poll] but reports "not ready" until guard is done.
func PollGated[T any](h *Feed, guard *pulsefeed.GuardedAction, cfg pulsefeed.PollConfig[*Response, T]) error {
	return pulsefeed.AddGatedPoll(h.feed, guard, h.Sample, cfg)
}
