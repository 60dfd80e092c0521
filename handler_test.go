package pulsefeed

import (
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"testing"
)

func TestAttributePollHandler_IdentityLaw(t *testing.T) {
	e, f, _ := newManualFeed(t, nil)

	cfg, err := NewSampleConfig[any](intAttr).Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	h := NewAttributePollHandler(cfg, f)

	for _, raw := range []any{42, "42", float64(42), int64(42)} {
		h.OnSuccess(raw)
		got, ok := Get(e, intAttr)
		if !ok || got != 42 {
			t.Errorf("OnSuccess(%T %v): attribute = %v, %v; want 42", raw, raw, got, ok)
		}
	}
}

func TestAttributePollHandler_Idempotent(t *testing.T) {
	e, f, _ := newManualFeed(t, nil)

	cfg, _ := NewSampleConfig[string](intAttr).Build()
	h := NewAttributePollHandler(cfg, f)

	h.OnSuccess("7")
	first, _ := Get(e, intAttr)
	h.OnSuccess("7")
	second, _ := Get(e, intAttr)

	if first != 7 || second != 7 {
		t.Errorf("OnSuccess twice: got %d then %d, want 7 both times", first, second)
	}
}

func TestAttributePollHandler_KeepLaw(t *testing.T) {
	e, f, _ := newManualFeed(t, nil)

	cfg, _ := NewSampleConfig[int](intAttr).
		SuccessWhen(func(v int) bool { return v > 0 }).
		OnSuccess(func(int) (Result[int], error) { return Keep[int](), nil }).
		OnFailure(func(int) (Result[int], error) { return Keep[int](), nil }).
		OnException(func(error) (Result[int], error) { return Keep[int](), nil }).
		Build()
	h := NewAttributePollHandler(cfg, f)

	for range 5 {
		h.OnSuccess(1)
		h.OnFailure(-1)
		h.OnException(errors.New("boom"))
	}

	if v, ok := Get(e, intAttr); ok {
		t.Errorf("attribute = %v, want unset", v)
	}
}

func TestAttributePollHandler_NoFailureHandler(t *testing.T) {
	e, f, _ := newManualFeed(t, nil)

	var mu sync.Mutex
	var seen []error
	cfg, _ := NewSampleConfig[string](stringAttr).
		SuccessWhen(func(s string) bool { return s != "ERROR" }).
		OnException(func(err error) (Result[string], error) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, err)
			return Keep[string](), nil
		}).
		Build()
	h := NewAttributePollHandler(cfg, f)

	if h.CheckSuccess("ERROR") {
		t.Fatal("CheckSuccess(ERROR) = true")
	}
	h.OnFailure("ERROR")

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || !errors.Is(seen[0], ErrNoFailureHandler) {
		t.Fatalf("exception pathway got %v, want one ErrNoFailureHandler", seen)
	}
	if !strings.Contains(seen[0].Error(), "no failure handler") {
		t.Errorf("diagnostic %q should mention the missing handler", seen[0])
	}
	if v, ok := Get(e, stringAttr); ok {
		t.Errorf("attribute = %q, want unset", v)
	}
}

func TestAttributePollHandler_CoercionErrorUsesExceptionPath(t *testing.T) {
	e, f, _ := newManualFeed(t, nil)

	cfg, _ := NewSampleConfig[string](intAttr).OnExceptionValue(-1).Build()
	h := NewAttributePollHandler(cfg, f)

	h.OnSuccess("not a number")
	if v, _ := Get(e, intAttr); v != -1 {
		t.Errorf("attribute = %d, want exception value -1", v)
	}
}

func TestAttributePollHandler_TransformErrorsAreSwallowed(t *testing.T) {
	logger, logs := newCaptureLogger()
	e, f, _ := newManualFeed(t, logger)
	Set(e, intAttr, 1)

	cfg, _ := NewSampleConfig[int](intAttr).
		OnSuccess(func(v int) (Result[int], error) {
			if v == 0 {
				panic("division by zero")
			}
			return Keep[int](), errors.New("bad sample")
		}).
		Build()
	h := NewAttributePollHandler(cfg, f)

	h.OnSuccess(0)
	h.OnSuccess(5)

	if v, _ := Get(e, intAttr); v != 1 {
		t.Errorf("attribute = %d, want unchanged 1", v)
	}
	if got := logs.levels("transform panicked"); len(got) != 1 || got[0] != slog.LevelError {
		t.Errorf("panic log levels = %v, want one ERROR", got)
	}
	if got := logs.levels("transform failed"); len(got) != 1 {
		t.Errorf("transform error logged %d times, want 1", len(got))
	}
}

func TestAttributePollHandler_LogHysteresis(t *testing.T) {
	logger, logs := newCaptureLogger()
	_, f, _ := newManualFeed(t, logger)

	cfg, _ := NewSampleConfig[int](intAttr).Build()
	h := NewAttributePollHandler(cfg, f)

	// not activated: quiet
	h.OnException(errors.New("refused"))
	if got := logs.levels("sampling error"); !reflect.DeepEqual(got, []slog.Level{slog.LevelDebug}) {
		t.Fatalf("inactive feed levels = %v, want [DEBUG]", got)
	}

	if err := f.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.OnSuccess(1)
	logs.reset()

	for range 3 {
		h.OnException(errors.New("refused"))
	}
	want := []slog.Level{slog.LevelWarn, slog.LevelDebug, slog.LevelDebug}
	if got := logs.levels("sampling error"); !reflect.DeepEqual(got, want) {
		t.Errorf("failing levels = %v, want %v", got, want)
	}

	h.OnSuccess(2)
	h.OnSuccess(3)
	if got := logs.levels("sampling recovered"); !reflect.DeepEqual(got, []slog.Level{slog.LevelInfo}) {
		t.Errorf("recovery levels = %v, want one INFO", got)
	}

	logs.reset()
	h.OnException(errors.New("refused again"))
	if got := logs.levels("sampling error"); !reflect.DeepEqual(got, []slog.Level{slog.LevelWarn}) {
		t.Errorf("after recovery levels = %v, want [WARN]", got)
	}
}

func TestAttributePollHandler_TransformErrorIsNotRecovery(t *testing.T) {
	logger, logs := newCaptureLogger()
	e, f, _ := newManualFeed(t, logger)
	if err := f.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	cfg, _ := NewSampleConfig[int](intAttr).
		OnSuccess(func(v int) (Result[int], error) {
			if v < 0 {
				return Keep[int](), errors.New("negative reading")
			}
			return Value(v), nil
		}).
		Build()
	h := NewAttributePollHandler(cfg, f)

	h.OnException(errors.New("refused"))
	for range 3 {
		h.OnSuccess(-1)
	}
	if got := logs.levels("sampling recovered"); len(got) != 0 {
		t.Errorf("recovered logged %d times while the transform fails, want 0", len(got))
	}

	h.OnSuccess(4)
	if got := logs.levels("sampling recovered"); !reflect.DeepEqual(got, []slog.Level{slog.LevelInfo}) {
		t.Errorf("recovery levels = %v, want one INFO", got)
	}
	if v, _ := Get(e, intAttr); v != 4 {
		t.Errorf("attribute = %d, want 4", v)
	}
}

func TestAttributePollHandler_DisconnectedFeedLogsAtDebug(t *testing.T) {
	logger, logs := newCaptureLogger()
	_, f, _ := newManualFeed(t, logger, WithConnectionCheck(func() bool { return false }))
	if err := f.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	cfg, _ := NewSampleConfig[int](intAttr).Build()
	h := NewAttributePollHandler(cfg, f)
	h.OnException(errors.New("no route to host"))

	if got := logs.levels("sampling error"); !reflect.DeepEqual(got, []slog.Level{slog.LevelDebug}) {
		t.Errorf("levels = %v, want [DEBUG]", got)
	}
}

// recordingHandler is a PollHandler that records the events it receives.
type recordingHandler struct {
	name  string
	ok    func(int) bool
	panic bool

	mu     sync.Mutex
	events []string
	log    *[]string
}

func (r *recordingHandler) record(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	if r.log != nil {
		*r.log = append(*r.log, r.name+":"+event)
	}
}

func (r *recordingHandler) CheckSuccess(v int) bool {
	if r.ok == nil {
		return true
	}
	return r.ok(v)
}

func (r *recordingHandler) OnSuccess(int) {
	if r.panic {
		panic(r.name + " exploded")
	}
	r.record("success")
}

func (r *recordingHandler) OnFailure(int) { r.record("failure") }

func (r *recordingHandler) OnException(error) { r.record("exception") }

func (r *recordingHandler) Description() string { return r.name }

func (r *recordingHandler) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestDelegatingPollHandler_IsolatesPanics(t *testing.T) {
	first := &recordingHandler{name: "first", panic: true}
	second := &recordingHandler{name: "second"}
	d := NewDelegatingPollHandler[int](testLogger(), first, second)

	func() {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("panic escaped the delegating handler: %v", r)
			}
		}()
		d.OnSuccess(1)
	}()

	if got := second.seen(); !reflect.DeepEqual(got, []string{"success"}) {
		t.Errorf("second delegate events = %v, want [success]", got)
	}
}

func TestDelegatingPollHandler_OrderAndFanOut(t *testing.T) {
	var order []string
	a := &recordingHandler{name: "a", log: &order}
	b := &recordingHandler{name: "b", log: &order}
	d := NewDelegatingPollHandler[int](nil, a, b)

	d.OnSuccess(1)
	d.OnFailure(2)
	d.OnException(errors.New("x"))

	want := []string{"a:success", "b:success", "a:failure", "b:failure", "a:exception", "b:exception"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
	if d.Description() != "[a b]" {
		t.Errorf("Description() = %q", d.Description())
	}
}

func TestDelegatingPollHandler_CheckSuccessRequiresAll(t *testing.T) {
	positive := &recordingHandler{name: "positive", ok: func(v int) bool { return v > 0 }}
	even := &recordingHandler{name: "even", ok: func(v int) bool { return v%2 == 0 }}
	d := NewDelegatingPollHandler[int](testLogger(), positive, even)

	tests := []struct {
		v    int
		want bool
	}{
		{2, true},
		{3, false},
		{-2, false},
	}
	for _, tt := range tests {
		if got := d.CheckSuccess(tt.v); got != tt.want {
			t.Errorf("CheckSuccess(%d) = %v, want %v", tt.v, got, tt.want)
		}
	}

	broken := &recordingHandler{name: "broken", ok: func(int) bool { panic("predicate bug") }}
	d = NewDelegatingPollHandler[int](testLogger(), positive, broken)
	if d.CheckSuccess(2) {
		t.Error("a panicking predicate should reject the sample")
	}
}
