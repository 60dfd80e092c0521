package httpfeed

import (
	"errors"
	"net/http"
	"time"

	"github.com/jpalmerr/pulsefeed"
)

// feedConfig holds mutable state during Feed construction.
type feedConfig struct {
	headers     map[string]string
	timeout     time.Duration
	method      string
	body        []byte
	client      *Client
	feedOptions []pulsefeed.FeedOption
}

// Option configures an HTTP [Feed].
type Option func(*feedConfig) error

// WithHeaders adds custom HTTP headers to every request.
//
// Arguments are key-value pairs: WithHeaders("Authorization", "Bearer x").
// Returns an error if an odd number of arguments is provided.
func WithHeaders(keyValues ...string) Option {
	return func(cfg *feedConfig) error {
		if len(keyValues)%2 != 0 {
			return errors.New("WithHeaders requires an even number of arguments (key-value pairs)")
		}
		for i := 0; i < len(keyValues); i += 2 {
			cfg.headers[keyValues[i]] = keyValues[i+1]
		}
		return nil
	}
}

// WithTimeout sets the per-request timeout. Defaults to 10 seconds.
func WithTimeout(d time.Duration) Option {
	return func(cfg *feedConfig) error {
		if d <= 0 {
			return errors.New("timeout must be positive")
		}
		cfg.timeout = d
		return nil
	}
}

// WithMethod sets the HTTP method. Only GET, HEAD and POST are allowed.
// Defaults to GET.
func WithMethod(method string) Option {
	return func(cfg *feedConfig) error {
		switch method {
		case http.MethodGet, http.MethodHead, http.MethodPost:
			cfg.method = method
			return nil
		default:
			return errors.New("method must be GET, HEAD, or POST")
		}
	}
}

// WithBody sets the request body sent with every sample request.
func WithBody(body []byte) Option {
	return func(cfg *feedConfig) error {
		cfg.body = body
		return nil
	}
}

// WithClient shares a [Client] between feeds.
func WithClient(c *Client) Option {
	return func(cfg *feedConfig) error {
		if c == nil {
			return errors.New("client cannot be nil")
		}
		cfg.client = c
		return nil
	}
}

// WithFeedOptions passes options through to the underlying [pulsefeed.Feed].
func WithFeedOptions(opts ...pulsefeed.FeedOption) Option {
	return func(cfg *feedConfig) error {
		cfg.feedOptions = append(cfg.feedOptions, opts...)
		return nil
	}
}
