// Package warm implements proactive cache population: named refresh jobs
// executed on startup, on a schedule, or on demand, each writing its
// result through the cache manager.
package warm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/tiercache/cache"
	"github.com/c360/tiercache/errors"
	"github.com/c360/tiercache/health"
	"github.com/c360/tiercache/metric"
	"github.com/c360/tiercache/store"
)

// QueryFunc computes a fresh value for a warming job. The engine does not
// interpret query function names; callers register implementations under
// the names their configs reference.
type QueryFunc func(ctx context.Context, params map[string]any) (any, error)

const (
	// WarmTTL is the fixed lifetime of warmed entries
	WarmTTL = time.Hour

	// WarmTag marks entries written by warming jobs
	WarmTag = "warmed"

	// DefaultTickInterval drives the scheduler; it must stay shorter than
	// any configured schedule interval
	DefaultTickInterval = time.Minute
)

// Warmer executes warming jobs against the cache manager. At most one run
// per job name is in flight at any time; concurrent requests for a running
// job are silent no-ops.
type Warmer struct {
	manager *cache.Manager
	store   store.Store
	clock   cache.Clock
	logger  *slog.Logger
	core    *metric.CoreMetrics // optional
	limiter *rate.Limiter
	tick    time.Duration

	mu       sync.Mutex
	registry map[string]QueryFunc
	inFlight map[string]struct{}

	lifecycle sync.Mutex
	started   bool
	startedAt time.Time
	shutdown  chan struct{}
	done      chan struct{}

	runs     atomic.Int64
	failures atomic.Int64
}

// Option configures a Warmer
type Option func(*Warmer)

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(w *Warmer) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithClock overrides the time source
func WithClock(clock cache.Clock) Option {
	return func(w *Warmer) {
		if clock != nil {
			w.clock = clock
		}
	}
}

// WithMetrics wires warming run counters into the registry's core set
func WithMetrics(registry *metric.Registry) Option {
	return func(w *Warmer) {
		if registry != nil {
			w.core = registry.Core
		}
	}
}

// WithTickInterval sets the scheduler poll interval
func WithTickInterval(d time.Duration) Option {
	return func(w *Warmer) {
		if d > 0 {
			w.tick = d
		}
	}
}

// WithRateLimit bounds warming job execution rate
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(w *Warmer) {
		w.limiter = rate.NewLimiter(limit, burst)
	}
}

// NewWarmer creates a warmer writing through the given manager and reading
// configs from the given store
func NewWarmer(manager *cache.Manager, s store.Store, opts ...Option) (*Warmer, error) {
	if manager == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Warmer", "NewWarmer", "manager cannot be nil")
	}
	if s == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Warmer", "NewWarmer", "store cannot be nil")
	}

	w := &Warmer{
		manager:  manager,
		store:    s,
		clock:    cache.SystemClock(),
		logger:   slog.Default(),
		limiter:  rate.NewLimiter(rate.Limit(10), 2), // 10 jobs/sec with burst of 2
		tick:     DefaultTickInterval,
		registry: make(map[string]QueryFunc),
		inFlight: make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

// Register binds a query function name to its implementation. Re-registering
// a name replaces the previous implementation.
func (w *Warmer) Register(name string, fn QueryFunc) {
	if name == "" || fn == nil {
		return
	}
	w.mu.Lock()
	w.registry[name] = fn
	w.mu.Unlock()
}

// tryAcquire marks a job in flight, reporting false when it already is
func (w *Warmer) tryAcquire(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, running := w.inFlight[name]; running {
		return false
	}
	w.inFlight[name] = struct{}{}
	return true
}

func (w *Warmer) release(name string) {
	w.mu.Lock()
	delete(w.inFlight, name)
	w.mu.Unlock()
}

func (w *Warmer) lookup(name string) (QueryFunc, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn, ok := w.registry[name]
	return fn, ok
}

// WarmCache runs the named warming job. A run already in flight for the
// same name makes this a logged no-op. Unknown configs and unregistered
// query functions return invalid errors so operators see misconfiguration;
// computation failures are logged and do not write a value.
func (w *Warmer) WarmCache(ctx context.Context, name string) error {
	if name == "" {
		return errors.WrapInvalid(errors.ErrInvalidKey, "Warmer", "WarmCache", "job name cannot be empty")
	}

	if !w.tryAcquire(name) {
		w.logger.Info("warming already in flight, skipping", "job", name)
		w.recordRun(name, "skipped", 0)
		return nil
	}
	defer w.release(name)

	cfg, err := w.store.GetWarmingConfig(ctx, name)
	if err != nil {
		if errors.IsNotFound(err) {
			return errors.WrapInvalid(errors.ErrConfigNotFound, "Warmer", "WarmCache", name)
		}
		return errors.Wrap(err, "Warmer", "WarmCache", "load config")
	}

	fn, ok := w.lookup(cfg.QueryFunction)
	if !ok {
		return errors.WrapInvalid(errors.ErrUnknownQueryFunc, "Warmer", "WarmCache",
			fmt.Sprintf("%s references %q", name, cfg.QueryFunction))
	}

	if err := w.limiter.Wait(ctx); err != nil {
		return errors.WrapTransient(err, "Warmer", "WarmCache", "rate limit wait")
	}

	start := w.clock.Now()
	value, err := fn(ctx, cfg.QueryParams)
	elapsed := w.clock.Now().Sub(start)

	if err != nil {
		// Computation failures stay inside the job: logged, counted, no write
		w.failures.Add(1)
		w.recordRun(name, "error", elapsed)
		w.logger.Error("warming computation failed",
			"job", name,
			"query_function", cfg.QueryFunction,
			"error", err)
		return nil
	}

	if err := w.manager.Set(ctx, cfg.KeyPattern, value,
		cache.WithTTL(WarmTTL),
		cache.WithLayer(store.LayerDistributed),
		cache.WithTags(WarmTag),
	); err != nil {
		w.failures.Add(1)
		w.recordRun(name, "error", elapsed)
		w.logger.Error("warming write failed", "job", name, "key", cfg.KeyPattern, "error", err)
		return nil
	}

	cfg.LastWarmedAt = w.clock.Now()
	if err := w.store.UpdateWarmingConfig(ctx, cfg); err != nil {
		w.logger.Warn("failed to record last warmed time", "job", name, "error", err)
	}

	w.runs.Add(1)
	w.recordRun(name, "success", elapsed)
	w.logger.Info("warming completed",
		"job", name,
		"key", cfg.KeyPattern,
		"duration", elapsed)

	return nil
}

// WarmAll runs every startup-enabled config sequentially in descending
// priority order, so that priority is honored and load on the computation
// backend stays bounded
func (w *Warmer) WarmAll(ctx context.Context) error {
	configs, err := w.store.ListWarmingConfigs(ctx)
	if err != nil {
		return errors.Wrap(err, "Warmer", "WarmAll", "list configs")
	}

	for _, cfg := range configs {
		if !cfg.WarmOnStartup {
			continue
		}
		if err := w.WarmCache(ctx, cfg.Name); err != nil {
			w.logger.Error("startup warming failed", "job", cfg.Name, "error", err)
		}
	}

	return nil
}

// Start launches the scheduler loop
func (w *Warmer) Start(ctx context.Context) error {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()

	if w.started {
		return errors.ErrAlreadyStarted
	}
	w.started = true
	w.startedAt = w.clock.Now()

	w.shutdown = make(chan struct{})
	w.done = make(chan struct{})

	go w.run(ctx)

	w.logger.Info("cache warmer started", "tick_interval", w.tick)
	return nil
}

// Stop shuts down the scheduler, waiting for in-progress work
func (w *Warmer) Stop() error {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()

	if !w.started {
		return errors.ErrNotStarted
	}
	w.started = false

	close(w.shutdown)

	select {
	case <-w.done:
		w.logger.Info("cache warmer stopped")
		return nil
	case <-time.After(5 * time.Second):
		return errors.WrapTransient(
			fmt.Errorf("timeout waiting for scheduler loop"),
			"Warmer", "Stop", "shutdown")
	}
}

func (w *Warmer) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-w.shutdown:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runDue(ctx)
		}
	}
}

// runDue executes every config whose schedule has elapsed. Failures are
// logged per job and never escape the loop.
func (w *Warmer) runDue(ctx context.Context) {
	configs, err := w.store.ListWarmingConfigs(ctx)
	if err != nil {
		w.logger.Warn("scheduler could not list configs", "error", err)
		return
	}

	now := w.clock.Now()
	for _, cfg := range configs {
		if !cfg.Due(now) {
			continue
		}
		if err := w.WarmCache(ctx, cfg.Name); err != nil {
			w.logger.Error("scheduled warming failed", "job", cfg.Name, "error", err)
		}
	}
}

// Health reports the warmer's current state for aggregation
func (w *Warmer) Health() health.Status {
	w.lifecycle.Lock()
	started := w.started
	startedAt := w.startedAt
	w.lifecycle.Unlock()

	metrics := &health.Metrics{
		ErrorCount: int(w.failures.Load()),
		Requests:   w.runs.Load(),
	}
	if started {
		metrics.Uptime = w.clock.Now().Sub(startedAt)
	}

	if !started {
		return health.NewDegraded("warmer", "scheduler not running").WithMetrics(metrics)
	}
	return health.NewHealthy("warmer", "scheduler running").WithMetrics(metrics)
}

func (w *Warmer) recordRun(job, status string, d time.Duration) {
	if w.core == nil {
		return
	}
	w.core.RecordWarmingRun(job, status, d)
}
