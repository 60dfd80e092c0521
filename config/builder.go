package config

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jpalmerr/pulsefeed"
	"github.com/jpalmerr/pulsefeed/feeds/httpfeed"
	"github.com/jpalmerr/pulsefeed/feeds/sshfeed"
)

const defaultRegisterInterval = 5 * time.Second

// BuildFleet creates a [pulsefeed.Fleet] holding every configured entity,
// with feeds and attribute polls installed but not started.
//
// The configured port and concurrency come first, so opts may override them.
func BuildFleet(cfg *Config, opts ...pulsefeed.Option) (*pulsefeed.Fleet, error) {
	base := []pulsefeed.Option{pulsefeed.WithPort(cfg.Port)}
	if cfg.MaxConcurrency > 0 {
		base = append(base, pulsefeed.WithMaxConcurrency(cfg.MaxConcurrency))
	}

	fleet, err := pulsefeed.New(append(base, opts...)...)
	if err != nil {
		return nil, err
	}

	entities, err := cfg.AllEntities()
	if err != nil {
		return nil, err
	}

	for _, ec := range entities {
		entity, err := fleet.NewEntity(ec.ID)
		if err != nil {
			return nil, err
		}
		for _, fc := range ec.Feeds {
			if err := buildFeed(entity, fc, cfg.PollInterval.Duration()); err != nil {
				return nil, fmt.Errorf("entity %s: feed %s: %w", ec.ID, fc.Name, err)
			}
		}
	}

	return fleet, nil
}

// target binds attribute polls to one feed whose samples are of type V.
type target[V any] struct {
	feed    *pulsefeed.Feed
	guard   *pulsefeed.GuardedAction
	sample  func(AttributeConfig) pulsefeed.SampleFunc[V]
	source  func(setting string) (rawSource[V], error)
	success func(setting string) (func(V) bool, error)
}

// rawSource extracts the value an attribute is coerced from. A false second
// result leaves the attribute unchanged.
type rawSource[V any] func(V) (any, bool, error)

func buildFeed(entity *pulsefeed.Entity, fc FeedConfig, fallback time.Duration) error {
	period := fallback
	if fc.Interval > 0 {
		period = fc.Interval.Duration()
	}

	switch fc.Type {
	case "http":
		t, err := httpTarget(entity, fc)
		if err != nil {
			return err
		}
		return addAttributes(t, fc.Attributes, period)
	case "ssh":
		t, err := sshTarget(entity, fc)
		if err != nil {
			return err
		}
		return addAttributes(t, fc.Attributes, period)
	default:
		return fmt.Errorf("unsupported feed type %q", fc.Type)
	}
}

func httpTarget(entity *pulsefeed.Entity, fc FeedConfig) (target[*httpfeed.Response], error) {
	var opts []httpfeed.Option
	if fc.Method != "" {
		opts = append(opts, httpfeed.WithMethod(fc.Method))
	}
	if fc.Timeout > 0 {
		opts = append(opts, httpfeed.WithTimeout(fc.Timeout.Duration()))
	}
	if len(fc.Headers) > 0 {
		opts = append(opts, httpfeed.WithHeaders(flattenMap(fc.Headers)...))
	}
	if fc.Body != "" {
		opts = append(opts, httpfeed.WithBody([]byte(fc.Body)))
	}

	h, err := httpfeed.New(entity, fc.Name, fc.URL, opts...)
	if err != nil {
		return target[*httpfeed.Response]{}, err
	}

	t := target[*httpfeed.Response]{
		feed:    h.Feed(),
		sample:  func(AttributeConfig) pulsefeed.SampleFunc[*httpfeed.Response] { return h.Sample },
		source:  httpSource,
		success: httpSuccess,
	}

	if fc.Register != nil {
		interval := defaultRegisterInterval
		if fc.Register.Interval > 0 {
			interval = fc.Register.Interval.Duration()
		}
		t.guard, err = h.RegisterWith(fc.Register.URL, []byte(fc.Register.Body), interval)
		if err != nil {
			return t, fmt.Errorf("register: %w", err)
		}
	}
	return t, nil
}

func sshTarget(entity *pulsefeed.Entity, fc FeedConfig) (target[*sshfeed.Result], error) {
	conn := sshfeed.Config{
		Host:                  fc.SSH.Host,
		Port:                  fc.SSH.Port,
		User:                  fc.SSH.User,
		Password:              fc.SSH.Password,
		PrivateKeyPath:        fc.SSH.PrivateKeyPath,
		Passphrase:            fc.SSH.Passphrase,
		KnownHostsPath:        fc.SSH.KnownHosts,
		InsecureIgnoreHostKey: fc.SSH.InsecureIgnoreHostKey,
		CommandTimeout:        fc.SSH.Timeout.Duration(),
	}

	s, err := sshfeed.New(entity, fc.Name, conn)
	if err != nil {
		return target[*sshfeed.Result]{}, err
	}

	return target[*sshfeed.Result]{
		feed: s.Feed(),
		sample: func(ac AttributeConfig) pulsefeed.SampleFunc[*sshfeed.Result] {
			if ac.Command != "" {
				return s.Command(ac.Command)
			}
			return s.Command(fc.Command)
		},
		source:  sshSource,
		success: sshSuccess,
	}, nil
}

func addAttributes[V any](t target[V], attrs []AttributeConfig, period time.Duration) error {
	for _, ac := range attrs {
		p := period
		if ac.Interval > 0 {
			p = ac.Interval.Duration()
		}
		if err := addAttribute(t, ac, p); err != nil {
			return fmt.Errorf("attribute %s: %w", ac.Name, err)
		}
	}
	return nil
}

func addAttribute[V any](t target[V], ac AttributeConfig, period time.Duration) error {
	switch ac.Type {
	case "int":
		return addTyped[V, int](t, ac, period)
	case "int64":
		return addTyped[V, int64](t, ac, period)
	case "float":
		return addTyped[V, float64](t, ac, period)
	case "bool":
		return addTyped[V, bool](t, ac, period)
	case "string":
		return addTyped[V, string](t, ac, period)
	case "duration":
		return addTyped[V, time.Duration](t, ac, period)
	default:
		return fmt.Errorf("unsupported type %q", ac.Type)
	}
}

func addTyped[V, T any](t target[V], ac AttributeConfig, period time.Duration) error {
	src, err := t.source(ac.Source)
	if err != nil {
		return err
	}
	pred, err := t.success(ac.Success)
	if err != nil {
		return err
	}

	coercions := pulsefeed.DefaultCoercions()
	attr := pulsefeed.NewAttribute[T](ac.Name, ac.Description)

	b := pulsefeed.NewPollConfig[V](attr, period).
		Coercions(coercions).
		OnSuccess(func(v V) (pulsefeed.Result[T], error) {
			raw, ok, err := src(v)
			if err != nil || !ok {
				return pulsefeed.Keep[T](), err
			}
			out, err := pulsefeed.CoerceTo[T](coercions, raw)
			if err != nil {
				return pulsefeed.Keep[T](), err
			}
			return pulsefeed.Value(out), nil
		})
	if pred != nil {
		b.SuccessWhen(pred)
	}
	if ac.Description != "" {
		b.Description(ac.Description)
	}

	if ac.OnFailure != nil {
		v, err := pulsefeed.CoerceTo[T](coercions, ac.OnFailure)
		if err != nil {
			return fmt.Errorf("on_failure: %w", err)
		}
		b.OnFailureValue(v)
	}
	if ac.OnException != nil {
		v, err := pulsefeed.CoerceTo[T](coercions, ac.OnException)
		if err != nil {
			return fmt.Errorf("on_exception: %w", err)
		}
		b.OnExceptionValue(v)
	}

	cfg, err := b.BuildPoll()
	if err != nil {
		return err
	}

	fn := t.sample(ac)
	if t.guard != nil {
		return pulsefeed.AddGatedPoll(t.feed, t.guard, fn, cfg)
	}
	return pulsefeed.AddPoll(t.feed, fn, cfg)
}

// fromResult adapts a feed transform into a raw source.
func fromResult[V, T any](fn func(V) (pulsefeed.Result[T], error)) rawSource[V] {
	return func(v V) (any, bool, error) {
		res, err := fn(v)
		if err != nil {
			return nil, false, err
		}
		out, ok := res.Get()
		return out, ok, nil
	}
}

// accepted yields true. Only samples that passed the success check reach a
// source, so paired with on_failure: false it tracks up/down state.
func accepted[V any](V) (any, bool, error) {
	return true, true, nil
}

func httpSource(setting string) (rawSource[*httpfeed.Response], error) {
	kind, arg, _ := strings.Cut(setting, ":")
	switch kind {
	case "", "status":
		return fromResult(httpfeed.StatusCode), nil
	case "ok":
		return accepted[*httpfeed.Response], nil
	case "body":
		return func(r *httpfeed.Response) (any, bool, error) {
			return strings.TrimSpace(string(r.Body)), true, nil
		}, nil
	case "latency":
		return fromResult(httpfeed.Latency), nil
	case "json":
		if arg == "" {
			return nil, fmt.Errorf("source %q: json requires a path", setting)
		}
		extract := httpfeed.JSONPath(arg)
		return func(r *httpfeed.Response) (any, bool, error) {
			v, err := extract(r)
			if err != nil {
				return nil, false, err
			}
			return v, true, nil
		}, nil
	case "regex":
		fn, err := httpfeed.Regex(arg)
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", setting, err)
		}
		return fromResult(fn), nil
	default:
		return nil, fmt.Errorf("unknown http source %q", setting)
	}
}

func httpSuccess(setting string) (func(*httpfeed.Response) bool, error) {
	kind, arg, _ := strings.Cut(setting, ":")
	switch kind {
	case "":
		return httpfeed.IsSuccess, nil
	case "always":
		return nil, nil
	case "status":
		classes, err := parseStatusClasses(arg)
		if err != nil {
			return nil, fmt.Errorf("success %q: %w", setting, err)
		}
		return httpfeed.StatusIn(classes...), nil
	case "contains":
		if arg == "" {
			return nil, fmt.Errorf("success %q: contains requires text", setting)
		}
		return httpfeed.Contains(arg), nil
	case "healthy":
		if arg == "" {
			return nil, fmt.Errorf("success %q: healthy requires a path", setting)
		}
		return httpfeed.Healthy(arg), nil
	default:
		return nil, fmt.Errorf("unknown http success check %q", setting)
	}
}

// parseStatusClasses parses "2xx,3xx" into []int{2, 3}.
func parseStatusClasses(s string) ([]int, error) {
	if s == "" {
		return nil, fmt.Errorf("no status classes")
	}
	var classes []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		digit, ok := strings.CutSuffix(part, "xx")
		if !ok || len(digit) != 1 {
			return nil, fmt.Errorf("invalid status class %q, want e.g. 2xx", part)
		}
		c, err := strconv.Atoi(digit)
		if err != nil || c < 1 || c > 5 {
			return nil, fmt.Errorf("invalid status class %q, want 1xx to 5xx", part)
		}
		classes = append(classes, c)
	}
	return classes, nil
}

func sshSource(setting string) (rawSource[*sshfeed.Result], error) {
	kind, arg, _ := strings.Cut(setting, ":")
	switch kind {
	case "", "stdout":
		return fromResult(sshfeed.Stdout), nil
	case "ok":
		return accepted[*sshfeed.Result], nil
	case "stderr":
		return func(r *sshfeed.Result) (any, bool, error) {
			return strings.TrimSpace(r.Stderr), true, nil
		}, nil
	case "exit_code":
		return fromResult(sshfeed.ExitCode), nil
	case "field":
		i, err := strconv.Atoi(arg)
		if err != nil || i < 0 {
			return nil, fmt.Errorf("source %q: field requires a non-negative index", setting)
		}
		return fromResult(sshfeed.Field[string](i)), nil
	default:
		return nil, fmt.Errorf("unknown ssh source %q", setting)
	}
}

func sshSuccess(setting string) (func(*sshfeed.Result) bool, error) {
	kind, arg, _ := strings.Cut(setting, ":")
	switch kind {
	case "", "exit_ok":
		return sshfeed.ExitOK, nil
	case "always":
		return nil, nil
	case "contains":
		if arg == "" {
			return nil, fmt.Errorf("success %q: contains requires text", setting)
		}
		return func(r *sshfeed.Result) bool {
			return r != nil && strings.Contains(r.Stdout, arg)
		}, nil
	default:
		return nil, fmt.Errorf("unknown ssh success check %q", setting)
	}
}

// checkAttributeSpecs reports malformed source and success settings without
// building anything.
func checkAttributeSpecs(feedType string, ac AttributeConfig) error {
	var err error
	switch feedType {
	case "http":
		if _, err = httpSource(ac.Source); err == nil {
			_, err = httpSuccess(ac.Success)
		}
	case "ssh":
		if _, err = sshSource(ac.Source); err == nil {
			_, err = sshSuccess(ac.Success)
		}
	}
	return err
}

// flattenMap converts a map to key-value pairs in sorted key order.
func flattenMap(m map[string]string) []string {
	result := make([]string, 0, len(m)*2)
	for _, k := range slices.Sorted(maps.Keys(m)) {
		result = append(result, k, m[k])
	}
	return result
}
