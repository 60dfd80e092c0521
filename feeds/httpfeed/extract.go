package httpfeed

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/jpalmerr/pulsefeed"
)

// IsSuccess reports whether the response has a 2xx status.
func IsSuccess(r *Response) bool {
	return StatusIn(2)(r)
}

// StatusIn returns a success predicate accepting status codes of the given
// class: StatusIn(2) accepts 200-299, StatusIn(2, 3) also accepts 3xx.
func StatusIn(classes ...int) func(*Response) bool {
	return func(r *Response) bool {
		if r == nil {
			return false
		}
		for _, c := range classes {
			if r.StatusCode/100 == c {
				return true
			}
		}
		return false
	}
}

// Contains returns a success predicate checking whether the body contains
// text, case-insensitively.
func Contains(text string) func(*Response) bool {
	lower := strings.ToLower(text)
	return func(r *Response) bool {
		return r != nil && strings.Contains(strings.ToLower(string(r.Body)), lower)
	}
}

// StatusCode is a transform yielding the HTTP status code.
func StatusCode(r *Response) (pulsefeed.Result[int], error) {
	return pulsefeed.Value(r.StatusCode), nil
}

// BodyString is a transform yielding the response body as a string.
func BodyString(r *Response) (pulsefeed.Result[string], error) {
	return pulsefeed.Value(string(r.Body)), nil
}

// Latency is a transform yielding the request latency.
func Latency(r *Response) (pulsefeed.Result[time.Duration], error) {
	return pulsefeed.Value(r.Latency), nil
}

// JSONPath returns a raw extractor reading a field from a JSON body using dot
// notation. Numeric segments index into arrays, so "items.0.status" reads
// {"items": [{"status": "ok"}]}.
//
// JSON numbers decode as float64 and objects as map[string]any.
func JSONPath(path string) func(*Response) (any, error) {
	parts := strings.Split(path, ".")

	return func(r *Response) (any, error) {
		var data any
		if err := json.Unmarshal(r.Body, &data); err != nil {
			return nil, fmt.Errorf("decode JSON body: %w", err)
		}
		return walkJSON(data, parts, path)
	}
}

// walkJSON walks a decoded JSON value using dot notation parts.
func walkJSON(data any, parts []string, path string) (any, error) {
	current := data

	for _, part := range parts {
		switch node := current.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, fmt.Errorf("field %q not found in %q", part, path)
			}
			current = v
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, fmt.Errorf("index %q out of range in %q", part, path)
			}
			current = node[i]
		default:
			return nil, fmt.Errorf("cannot descend into %T at %q in %q", current, part, path)
		}
	}

	return current, nil
}

// Extract turns a raw extractor into a success transform coercing the
// extracted value to T with reg (or the default registry when reg is nil).
// Extraction and coercion errors are returned as transform errors.
//
//	cfg := pulsefeed.NewPollConfig[*httpfeed.Response](Connections, 10*time.Second).
//	    OnSuccess(httpfeed.Extract[int](nil, httpfeed.JSONPath("db.connections")))
func Extract[T any](reg *pulsefeed.Coercions, extractor func(*Response) (any, error)) func(*Response) (pulsefeed.Result[T], error) {
	if reg == nil {
		reg = pulsefeed.DefaultCoercions()
	}
	return func(r *Response) (pulsefeed.Result[T], error) {
		raw, err := extractor(r)
		if err != nil {
			return pulsefeed.Keep[T](), err
		}
		v, err := pulsefeed.CoerceTo[T](reg, raw)
		if err != nil {
			return pulsefeed.Keep[T](), err
		}
		return pulsefeed.Value(v), nil
	}
}

// Regex returns a transform yielding the first capture group of pattern in
// the body. A body without a match keeps the attribute unchanged.
//
// Returns an error if the pattern is invalid or has no capture group.
func Regex(pattern string) (func(*Response) (pulsefeed.Result[string], error), error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("pattern %q has no capture group", pattern)
	}

	return func(r *Response) (pulsefeed.Result[string], error) {
		matches := re.FindSubmatch(r.Body)
		if len(matches) < 2 {
			return pulsefeed.Keep[string](), nil
		}
		return pulsefeed.Value(string(matches[1])), nil
	}, nil
}

// MustRegex is like [Regex] but panics if the pattern is invalid.
func MustRegex(pattern string) func(*Response) (pulsefeed.Result[string], error) {
	fn, err := Regex(pattern)
	if err != nil {
		panic("httpfeed: invalid regex pattern: " + err.Error())
	}
	return fn
}

// Healthy returns a success predicate reading a JSON field and accepting the
// usual health-check vocabulary: "ok", "healthy", "up", "active", "running",
// "pass", "passed", "true", "green", "operational", or a boolean true.
func Healthy(path string) func(*Response) bool {
	extract := JSONPath(path)
	return func(r *Response) bool {
		v, err := extract(r)
		if err != nil {
			return false
		}
		switch t := v.(type) {
		case bool:
			return t
		case string:
			switch strings.ToLower(t) {
			case "ok", "healthy", "up", "active", "running", "pass", "passed", "true", "green", "operational":
				return true
			}
		}
		return false
	}
}
