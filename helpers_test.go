package pulsefeed

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

var (
	intAttr    = NewAttribute[int]("connections", "Open connections")
	stringAttr = NewAttribute[string]("status", "Reported status")
	floatAttr  = NewAttribute[float64]("load", "Load average")
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// manualExecutor runs installed tasks only when the test says so.
type manualExecutor struct {
	mu    sync.Mutex
	tasks []*manualTask
}

type manualTask struct {
	fn     func(ctx context.Context)
	period time.Duration
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (t *manualTask) Cancel() {
	t.once.Do(func() {
		t.cancel()
		close(t.done)
	})
}

func (t *manualTask) Done() <-chan struct{} {
	return t.done
}

func (t *manualTask) active() bool {
	return t.ctx.Err() == nil
}

func (e *manualExecutor) Submit(fn func(ctx context.Context)) Handle {
	return e.add(fn, 0)
}

func (e *manualExecutor) ScheduleAtFixedRate(fn func(ctx context.Context), period time.Duration) Handle {
	return e.add(fn, period)
}

func (e *manualExecutor) add(fn func(ctx context.Context), period time.Duration) *manualTask {
	ctx, cancel := context.WithCancel(context.Background())
	t := &manualTask{fn: fn, period: period, ctx: ctx, cancel: cancel, done: make(chan struct{})}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.tasks = append(e.tasks, t)
	return t
}

// live returns the active tasks, periodic or one-off.
func (e *manualExecutor) live(periodic bool) []*manualTask {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []*manualTask
	for _, t := range e.tasks {
		if t.active() && (t.period > 0) == periodic {
			out = append(out, t)
		}
	}
	return out
}

// tick runs every active periodic task once, in installation order.
func (e *manualExecutor) tick() {
	for _, t := range e.live(true) {
		t.fn(t.ctx)
	}
}

// runOneOffs runs every active one-off task once.
func (e *manualExecutor) runOneOffs() {
	for _, t := range e.live(false) {
		t.fn(t.ctx)
		t.Cancel()
	}
}

// newManualEntity returns an entity whose feeds run on a manual executor.
func newManualEntity(t *testing.T, logger *slog.Logger) (*Entity, *manualExecutor) {
	t.Helper()
	if logger == nil {
		logger = testLogger()
	}
	exec := &manualExecutor{}
	e, err := NewEntity("node-1", WithEntityLogger(logger), WithEntityExecutor(exec))
	if err != nil {
		t.Fatalf("NewEntity() error = %v", err)
	}
	return e, exec
}

// newManualFeed returns an activated-capable feed on a manual executor.
func newManualFeed(t *testing.T, logger *slog.Logger, opts ...FeedOption) (*Entity, *Feed, *manualExecutor) {
	t.Helper()
	e, exec := newManualEntity(t, logger)
	f, err := NewFeed(e, "probe", opts...)
	if err != nil {
		t.Fatalf("NewFeed() error = %v", err)
	}
	return e, f, exec
}

// logRecord is one captured log line.
type logRecord struct {
	level slog.Level
	msg   string
}

// captureHandler is a slog.Handler that keeps every record.
type captureHandler struct {
	mu      *sync.Mutex
	records *[]logRecord
}

func newCaptureLogger() (*slog.Logger, *captureHandler) {
	h := &captureHandler{mu: &sync.Mutex{}, records: &[]logRecord{}}
	return slog.New(h), h
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	*h.records = append(*h.records, logRecord{level: r.Level, msg: r.Message})
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *captureHandler) WithGroup(string) slog.Handler { return h }

// levels returns the levels of records whose message starts with prefix.
func (h *captureHandler) levels(prefix string) []slog.Level {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []slog.Level
	for _, r := range *h.records {
		if strings.HasPrefix(r.msg, prefix) {
			out = append(out, r.level)
		}
	}
	return out
}

func (h *captureHandler) reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	*h.records = nil
}
