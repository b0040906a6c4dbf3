package native

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ValentinKolb/nKV/lib/boundary"
	"github.com/ValentinKolb/nKV/lib/db"
	"github.com/ValentinKolb/nKV/lib/db/engines/bolt"
	"github.com/ValentinKolb/nKV/lib/resource"
	"github.com/ValentinKolb/nKV/lib/scheduler"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("native")

// --------------------------------------------------------------------------
// Module Options
// --------------------------------------------------------------------------

type moduleOptions struct {
	workers int
	engine  db.Engine
	metrics *metrics.Set
}

// Option configures Load
type Option func(*moduleOptions)

// WithWorkers sets the number of blocking workers (default scheduler.DefaultWorkers)
func WithWorkers(n int) Option {
	return func(o *moduleOptions) { o.workers = n }
}

// WithEngine replaces the storage engine (default: bbolt)
func WithEngine(e db.Engine) Option {
	return func(o *moduleOptions) { o.engine = e }
}

// WithMetrics makes the module report to set instead of a private metric set
func WithMetrics(set *metrics.Set) Option {
	return func(o *moduleOptions) { o.metrics = set }
}

// --------------------------------------------------------------------------
// Module
// --------------------------------------------------------------------------

// Module is a loaded instance of the native key-value module. It owns the resource
// registry the handles live in and the pool blocking operations run on.
type Module struct {
	engine    db.Engine
	registry  *resource.Registry
	pool      *scheduler.Pool
	metrics   *metrics.Set
	functions map[string]*Function
}

// Load registers the resource kinds and starts the blocking pool. No operation can
// be called before Load returned successfully.
func Load(opts ...Option) (*Module, error) {
	o := &moduleOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.engine == nil {
		o.engine = bolt.NewEngine()
	}
	if o.metrics == nil {
		o.metrics = metrics.NewSet()
	}

	registry := resource.NewRegistry()
	if err := registerKinds(registry); err != nil {
		return nil, fmt.Errorf("loading module: %w", err)
	}

	m := &Module{
		engine:   o.engine,
		registry: registry,
		pool:     scheduler.NewPool(scheduler.Options{Workers: o.workers, Metrics: o.metrics}),
		metrics:  o.metrics,
	}
	m.functions = buildFunctionTable()

	Logger.Infof("loaded native module (engine=%s, workers=%d, functions=%d)",
		m.engine.Type(), m.pool.Workers(), len(m.functions))
	return m, nil
}

// registerKinds declares the three resource kinds together with their release functions
func registerKinds(r *resource.Registry) error {
	kinds := []struct {
		kind    resource.Kind
		release resource.ReleaseFunc
	}{
		{resource.KindDatabase, func(v any) error { return v.(db.Database).Close() }},
		{resource.KindTree, func(v any) error { return v.(db.Tree).Close() }},
		{resource.KindConfig, nil}, // immutable, nothing to release
	}
	for _, k := range kinds {
		if err := r.RegisterKind(k.kind, k.kind.String(), k.release); err != nil {
			return err
		}
	}
	return nil
}

// Close stops the blocking pool after queued operations finished.
// Handles that are still alive keep their databases open until they are released.
func (m *Module) Close() {
	m.pool.Close()
	Logger.Infof("closed native module")
}

// Registry returns the registry the module's handles belong to
func (m *Module) Registry() *resource.Registry {
	return m.registry
}

// Metrics returns the metric set of the module
func (m *Module) Metrics() *metrics.Set {
	return m.metrics
}

// WritePrometheus writes the module metrics in Prometheus text format
func (m *Module) WritePrometheus(w io.Writer) {
	m.metrics.WritePrometheus(w)
}

// --------------------------------------------------------------------------
// Execution Helpers
// --------------------------------------------------------------------------

// observe records the outcome of one call
func (m *Module) observe(name string, start time.Time, err error) {
	m.metrics.GetOrCreateHistogram(fmt.Sprintf(`nkv_native_call_duration_seconds{function=%q}`, name)).UpdateDuration(start)
	if err != nil {
		tag := "cancelled"
		if !isContextError(err) {
			tag = boundary.TagOf(err).String()
		}
		m.metrics.GetOrCreateCounter(fmt.Sprintf(`nkv_native_call_errors_total{function=%q,tag=%q}`, name, tag)).Inc()
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// normal runs a cheap operation on the caller
func normal[T any](m *Module, name string, fn func() (T, error)) (T, error) {
	start := time.Now()
	v, err := boundary.GuardValue(fn)
	m.observe(name, start, err)
	return v, err
}

// dirty runs a blocking operation on the pool. done is called exactly once, after fn
// ran or when fn was never dispatched. discard receives results nobody waits for.
func dirty[T any](ctx context.Context, m *Module, name string, done func(), fn func() (T, error), discard func(T)) (T, error) {
	start := time.Now()

	v, err := scheduler.RunOrDiscard(ctx, m.pool, func() (T, error) {
		defer done()
		return boundary.GuardValue(fn)
	}, discard)

	if errors.Is(err, scheduler.ErrNotDispatched) {
		done()
	}
	if err != nil && !isContextError(err) {
		err = boundary.Translate(err)
	}

	m.observe(name, start, err)
	return v, err
}

// noop is the done function of operations that borrow nothing
func noop() {}
