package pulsefeed

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jpalmerr/pulsefeed/internal/store"
	"github.com/jpalmerr/pulsefeed/metrics"
)

// AttributeChange describes one attribute write.
type AttributeChange struct {
	Entity    string
	Attribute string
	Value     any
	UpdatedAt time.Time
}

// Entity is a managed resource whose typed attributes are driven by feeds.
//
// An entity holds its installed feeds rather than inheriting feed behaviour;
// attribute values live in the attribute store shared with its [Fleet].
// Attribute writes are blind overwrites: last write wins.
type Entity struct {
	id       string
	store    store.Store
	exec     Executor
	logger   *slog.Logger
	metrics  *metrics.Metrics
	onChange func(AttributeChange)

	mu    sync.Mutex
	feeds []*Feed
}

// NewEntity creates a standalone entity with its own attribute store and
// executor. Entities that belong to a [Fleet] are created with
// [Fleet.NewEntity] instead.
func NewEntity(id string, opts ...EntityOption) (*Entity, error) {
	if id == "" {
		return nil, errors.New("entity id is required")
	}

	cfg := &entityConfig{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("entity %s: %w", id, err)
		}
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}
	exec := cfg.exec
	if exec == nil {
		exec = NewPoolExecutor(0, logger)
	}

	return newEntity(id, store.NewMemoryStore(), exec, logger, cfg.metrics, nil), nil
}

func newEntity(id string, st store.Store, exec Executor, logger *slog.Logger, m *metrics.Metrics, onChange func(AttributeChange)) *Entity {
	return &Entity{
		id:       id,
		store:    st,
		exec:     exec,
		logger:   logger.With("entity", id),
		metrics:  m,
		onChange: onChange,
	}
}

// ID returns the entity identifier.
func (e *Entity) ID() string {
	return e.id
}

// Set writes v to attr.
func Set[T any](e *Entity, attr Attribute[T], v T) {
	change := AttributeChange{
		Entity:    e.id,
		Attribute: attr.Name(),
		Value:     v,
		UpdatedAt: time.Now(),
	}

	e.store.Set(store.AttributeValue{
		Entity:    change.Entity,
		Name:      change.Attribute,
		Value:     change.Value,
		UpdatedAt: change.UpdatedAt,
	})
	e.metrics.RecordAttributeWrite(e.id, attr.Name())

	if e.onChange != nil {
		e.onChange(change)
	}
}

// Get returns the current value of attr, or false if it was never set.
func Get[T any](e *Entity, attr Attribute[T]) (T, bool) {
	var zero T
	v, ok := e.store.Get(store.Key{Entity: e.id, Name: attr.Name()})
	if !ok {
		return zero, false
	}
	t, ok := v.Value.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

// Snapshot returns the current attribute values keyed by attribute name.
func (e *Entity) Snapshot() map[string]any {
	out := make(map[string]any)
	for _, v := range e.store.GetAll() {
		if v.Entity == e.id {
			out[v.Name] = v.Value
		}
	}
	return out
}

// Feeds returns the installed feeds in installation order.
func (e *Entity) Feeds() []*Feed {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Feed(nil), e.feeds...)
}

// Feed returns the installed feed with the given name.
func (e *Entity) Feed(name string) (*Feed, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, f := range e.feeds {
		if f.name == name {
			return f, true
		}
	}
	return nil, false
}

func (e *Entity) addFeed(f *Feed) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, existing := range e.feeds {
		if existing.name == f.name {
			return fmt.Errorf("entity %s: duplicate feed name: %q", e.id, f.name)
		}
	}
	e.feeds = append(e.feeds, f)
	return nil
}

// Start starts every feed that is not already running, resuming suspended
// ones. All feeds are attempted; errors are joined.
func (e *Entity) Start() error {
	var errs []error
	for _, f := range e.Feeds() {
		var err error
		switch f.State() {
		case FeedActivated:
			continue
		case FeedSuspended:
			err = f.Resume()
		default:
			err = f.Start()
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stop stops every started feed. All feeds are attempted; errors are joined.
func (e *Entity) Stop() error {
	var errs []error
	for _, f := range e.Feeds() {
		switch f.State() {
		case FeedActivated, FeedSuspended:
			if err := f.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// entityConfig holds mutable state during standalone Entity construction.
type entityConfig struct {
	logger  *slog.Logger
	exec    Executor
	metrics *metrics.Metrics
}

// EntityOption configures a standalone [Entity].
type EntityOption func(*entityConfig) error

// WithEntityLogger sets the entity logger. Defaults to [slog.Default].
func WithEntityLogger(logger *slog.Logger) EntityOption {
	return func(cfg *entityConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithEntityExecutor sets the executor shared by the entity's feeds.
func WithEntityExecutor(exec Executor) EntityOption {
	return func(cfg *entityConfig) error {
		if exec == nil {
			return errors.New("executor cannot be nil")
		}
		cfg.exec = exec
		return nil
	}
}

// WithEntityMetrics enables instrumentation.
func WithEntityMetrics(m *metrics.Metrics) EntityOption {
	return func(cfg *entityConfig) error {
		cfg.metrics = m
		return nil
	}
}
