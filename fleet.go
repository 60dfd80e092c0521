package pulsefeed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jpalmerr/pulsefeed/internal/server"
	"github.com/jpalmerr/pulsefeed/internal/store"
	"github.com/jpalmerr/pulsefeed/metrics"
)

const (
	defaultPort           = 8080
	defaultMaxConcurrency = 10
	defaultNamespace      = "pulsefeed"
)

// Fleet is the top-level orchestrator: it owns the entities, the shared
// attribute store, the worker pool and the HTTP API.
//
// The typical lifecycle is:
//
//	fleet, err := pulsefeed.New(pulsefeed.WithPort(9090))
//	if err != nil {
//	    slog.Error("failed to create fleet", "error", err)
//	    os.Exit(1)
//	}
//
//	web, _ := fleet.NewEntity("web-1")
//	feed, _ := pulsefeed.NewFeed(web, "probe")
//	_ = pulsefeed.AddPoll(feed, probe, cfg)
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	fleet.Run(ctx) // blocks until ctx is cancelled
type Fleet struct {
	port      int
	serve     bool
	logger    *slog.Logger
	metrics   *metrics.Metrics
	store     *store.MemoryStore
	exec      *PoolExecutor
	callbacks []func(AttributeChange)

	mu       sync.Mutex
	entities []*Entity
	byID     map[string]*Entity
}

// New creates a [Fleet] with the given options.
//
// Defaults:
//   - Port: 8080
//   - Max concurrency: 10
//   - Metrics namespace: "pulsefeed"
func New(opts ...Option) (*Fleet, error) {
	cfg := &fleetConfig{
		port:           defaultPort,
		maxConcurrency: defaultMaxConcurrency,
		namespace:      defaultNamespace,
		serve:          true,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Fleet{
		port:      cfg.port,
		serve:     cfg.serve,
		logger:    logger,
		metrics:   metrics.New(cfg.namespace),
		store:     store.NewMemoryStore(),
		exec:      NewPoolExecutor(cfg.maxConcurrency, logger),
		callbacks: cfg.callbacks,
		byID:      make(map[string]*Entity),
	}, nil
}

// NewEntity creates an entity sharing the fleet's store, executor and
// metrics. Entity ids must be unique.
func (fl *Fleet) NewEntity(id string) (*Entity, error) {
	if id == "" {
		return nil, errors.New("entity id is required")
	}

	fl.mu.Lock()
	defer fl.mu.Unlock()

	if _, ok := fl.byID[id]; ok {
		return nil, fmt.Errorf("duplicate entity id: %q", id)
	}

	var onChange func(AttributeChange)
	if len(fl.callbacks) > 0 {
		onChange = fl.notify
	}
	e := newEntity(id, fl.store, fl.exec, fl.logger, fl.metrics, onChange)
	fl.entities = append(fl.entities, e)
	fl.byID[id] = e
	return e, nil
}

// Entity returns the entity with the given id.
func (fl *Fleet) Entity(id string) (*Entity, bool) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	e, ok := fl.byID[id]
	return e, ok
}

// Entities returns the entities in creation order.
func (fl *Fleet) Entities() []*Entity {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return append([]*Entity(nil), fl.entities...)
}

// Metrics returns the fleet's metrics.
func (fl *Fleet) Metrics() *metrics.Metrics {
	return fl.metrics
}

// Port returns the configured HTTP port.
func (fl *Fleet) Port() int {
	return fl.port
}

// Run starts every entity, serves the HTTP API and blocks until ctx is
// cancelled. On return every feed is stopped and every in-flight execution
// has finished.
//
// Feeds that fail to start are logged and skipped. Returns an error only if
// the HTTP server cannot start.
func (fl *Fleet) Run(ctx context.Context) error {
	entities := fl.Entities()
	fl.logger.Info("pulsefeed starting", "entity_count", len(entities))

	if ctx.Err() != nil {
		return nil
	}

	if fl.serve {
		srv := server.NewServer(fl.store, fl.port, fl.metrics.Handler(), fl.logger)
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		fl.logger.Info("api available", "url", fmt.Sprintf("http://localhost:%d/api/attributes", fl.port))
	}

	for _, e := range entities {
		if err := e.Start(); err != nil {
			fl.logger.Error("entity failed to start", "entity", e.ID(), "error", err)
		}
	}

	<-ctx.Done()

	for _, e := range entities {
		if err := e.Stop(); err != nil {
			fl.logger.Warn("entity failed to stop cleanly", "entity", e.ID(), "error", err)
		}
	}
	fl.exec.Shutdown()

	fl.logger.Info("pulsefeed stopped")
	return nil
}

// notify invokes attribute callbacks in registration order.
func (fl *Fleet) notify(change AttributeChange) {
	for _, cb := range fl.callbacks {
		invokeCallbackSafe(cb, change, fl.logger)
	}
}

// invokeCallbackSafe calls an attribute callback with panic recovery.
func invokeCallbackSafe(cb func(AttributeChange), change AttributeChange, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("attribute callback panicked",
				"panic", r,
				"entity", change.Entity,
				"attribute", change.Attribute,
			)
		}
	}()
	cb(change)
}
