package backlog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ostrea/backlog/codec"
	"github.com/ostrea/backlog/cron"
	"github.com/ostrea/backlog/id"
	"github.com/ostrea/backlog/job"
	"github.com/ostrea/backlog/middleware"
	"github.com/ostrea/backlog/pulse"
	"github.com/ostrea/backlog/retry"
	"github.com/ostrea/backlog/worker"
)

// Engine is the top-level entry point: it owns the operation registry,
// the worker pool, the cron scheduler, and the producer API. Create one
// with New, register operations, then Start.
type Engine struct {
	cfg      Config
	logger   *slog.Logger
	store    job.Store
	codec    codec.Codec
	jitter   *retry.Jitter
	policy   *retry.Policy
	registry *job.Registry
	signal   *pulse.Pulse
	factory  job.InstanceFactory
	mws      []middleware.Middleware

	pool      *worker.Pool
	scheduler *cron.Scheduler

	mu      sync.Mutex
	started bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore sets the job store. Required.
func WithStore(s job.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithConcurrency sets the number of concurrent processor loops.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.cfg.Concurrency = n
		}
	}
}

// WithPollInterval sets the idle suspension timeout.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.cfg.PollInterval = d
		}
	}
}

// WithShutdownTimeout bounds how long Stop waits for loops to drain.
func WithShutdownTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.cfg.ShutdownTimeout = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithCodec sets the codec used for job descriptors and arguments.
func WithCodec(c codec.Codec) Option {
	return func(e *Engine) {
		if c != nil {
			e.codec = c
		}
	}
}

// WithRetryPolicy replaces the default retry policy consulted when an
// operation carries no override.
func WithRetryPolicy(p *retry.Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithJitter replaces the randomness source of the default retry delay.
// Mainly useful with a seeded source in tests.
func WithJitter(src *retry.Jitter) Option {
	return func(e *Engine) {
		if src != nil {
			e.jitter = src
		}
	}
}

// WithInstanceFactory installs the factory that produces receiver
// instances for bound operations.
func WithInstanceFactory(f job.InstanceFactory) Option {
	return func(e *Engine) { e.factory = f }
}

// WithMiddleware appends middleware to the dispatch chain, inside the
// built-in recover and logging layers.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(e *Engine) { e.mws = append(e.mws, mws...) }
}

// New creates an Engine. A store is required; everything else has
// defaults.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:    DefaultConfig(),
		logger: slog.Default(),
		codec:  &codec.JSON{},
		jitter: retry.NewJitter(),
		signal: pulse.New(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.store == nil {
		return nil, ErrNoStore
	}

	if e.policy == nil {
		policy, err := retry.New(e.cfg.DefaultMaxAttempts,
			retry.WithDelayFunc(retry.QuarticDelay(e.jitter)))
		if err != nil {
			return nil, fmt.Errorf("backlog: default retry policy: %w", err)
		}
		e.policy = policy
	}

	e.registry = job.NewRegistry(e.codec)
	if e.factory != nil {
		e.registry.SetFactory(e.factory)
	}

	chain := append([]middleware.Middleware{
		middleware.Recover(e.logger),
		middleware.Logging(e.logger),
	}, e.mws...)

	proc := worker.NewProcessor(e.store, e.registry, e.policy, e.signal, e.logger,
		worker.WithPollInterval(e.cfg.PollInterval),
		worker.WithMiddleware(chain...),
	)
	e.pool = worker.NewPool(proc, e.logger, worker.WithConcurrency(e.cfg.Concurrency))
	e.scheduler = cron.NewScheduler(e.enqueueDescriptor, e.logger)

	return e, nil
}

// Registry returns the operation registry, for use with the package-level
// RegisterFunc and RegisterMethod generics.
func (e *Engine) Registry() *job.Registry { return e.registry }

// Start launches the worker pool and the cron scheduler.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}
	if err := e.pool.Start(ctx); err != nil {
		return err
	}
	e.scheduler.Start(ctx)
	e.started = true
	e.logger.Info("backlog engine started",
		slog.Int("concurrency", e.cfg.Concurrency),
		slog.String("worker_id", e.pool.WorkerID().String()),
	)
	return nil
}

// Stop drains the worker pool and halts the cron scheduler. The
// configured shutdown timeout applies when ctx carries no deadline.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = false
	e.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ShutdownTimeout)
		defer cancel()
	}

	var g errgroup.Group
	g.Go(func() error { return e.pool.Stop(ctx) })
	g.Go(func() error {
		e.scheduler.Stop()
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	e.logger.Info("backlog engine stopped")
	return nil
}

// EnqueueDescriptor stores a job for an already-encoded descriptor, due
// at the given time. Most callers want the typed Enqueue and Schedule
// helpers instead.
func (e *Engine) EnqueueDescriptor(ctx context.Context, d job.Descriptor, due time.Time) (*job.Job, error) {
	data, err := job.EncodeDescriptor(e.codec, d)
	if err != nil {
		return nil, err
	}

	j := job.New(data, due.UTC())

	conn, err := e.store.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := conn.StoreJob(ctx, j); err != nil {
		return nil, err
	}

	// Wake an idle processor when the job is already due; future jobs are
	// picked up by the poll interval.
	if !j.Due.After(time.Now().UTC()) {
		e.signal.Set()
	}

	e.logger.Debug("job enqueued",
		slog.String("job_id", j.ID.String()),
		slog.String("operation", d.Key()),
		slog.Time("due", j.Due),
	)
	return j, nil
}

// enqueueDescriptor adapts EnqueueDescriptor to the cron scheduler's
// callback shape.
func (e *Engine) enqueueDescriptor(ctx context.Context, d job.Descriptor, due time.Time) (id.JobID, error) {
	j, err := e.EnqueueDescriptor(ctx, d, due)
	if err != nil {
		return id.ID{}, err
	}
	return j.ID, nil
}

// GetJob loads the full record for a job ID.
func (e *Engine) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	conn, err := e.store.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return conn.GetJob(ctx, jobID)
}

// RegisterCron registers a recurring job: whenever the cron expression
// fires, a job for (target, operation) is enqueued with the given
// arguments. Free operations pass an empty target.
func (e *Engine) RegisterCron(name, spec, target, operation string, args any) error {
	d := job.Descriptor{Target: target, Operation: operation}
	if args != nil {
		raw, err := e.codec.Encode(args)
		if err != nil {
			return fmt.Errorf("backlog: encode cron args for %q: %w", name, err)
		}
		d.Args = raw
	}
	_, err := e.scheduler.Add(name, spec, d)
	return err
}

// RegisterFunc registers a free operation on the engine. The handler's
// argument type drives decoding of stored job arguments.
//
// Package-level because Go does not allow generic methods.
func RegisterFunc[A any](e *Engine, operation string, fn func(ctx context.Context, args A) error, opts ...job.Option) {
	job.RegisterFunc(e.registry, operation, fn, opts...)
}

// RegisterMethod registers a bound operation for target type R. The
// receiver is produced by the engine's instance factory at dispatch time.
func RegisterMethod[R any, A any](e *Engine, target, operation string, fn func(ctx context.Context, recv R, args A) error, opts ...job.Option) {
	job.RegisterMethod(e.registry, target, operation, fn, opts...)
}

// Enqueue stores a job for a free operation, due immediately.
func Enqueue[A any](ctx context.Context, e *Engine, operation string, args A) (*job.Job, error) {
	return Schedule(ctx, e, operation, args, 0)
}

// Schedule stores a job for a free operation, due after the given delay.
func Schedule[A any](ctx context.Context, e *Engine, operation string, args A, delay time.Duration) (*job.Job, error) {
	return ScheduleMethod(ctx, e, "", operation, args, delay)
}

// EnqueueMethod stores a job for a bound operation, due immediately.
func EnqueueMethod[A any](ctx context.Context, e *Engine, target, operation string, args A) (*job.Job, error) {
	return ScheduleMethod(ctx, e, target, operation, args, 0)
}

// ScheduleMethod stores a job for a bound operation, due after the given
// delay.
func ScheduleMethod[A any](ctx context.Context, e *Engine, target, operation string, args A, delay time.Duration) (*job.Job, error) {
	raw, err := e.codec.Encode(args)
	if err != nil {
		return nil, fmt.Errorf("backlog: encode args for %q: %w", operation, err)
	}
	d := job.Descriptor{Target: target, Operation: operation, Args: raw}
	return e.EnqueueDescriptor(ctx, d, time.Now().UTC().Add(delay))
}
