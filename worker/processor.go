// Package worker provides the job execution engine: a Processor that runs
// the fetch-execute-transition cycle over leased jobs, and a Pool that
// drives concurrent processor loops.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ostrea/backlog/job"
	"github.com/ostrea/backlog/middleware"
	"github.com/ostrea/backlog/pulse"
	"github.com/ostrea/backlog/retry"
)

// DefaultPollInterval bounds worst-case job pickup latency when a wake
// signal is missed.
const DefaultPollInterval = time.Second

// Processor orchestrates one leased job through
// load → invoke → classify → transition → acknowledge/release, and
// suspends on the pulse between empty cycles.
//
// A Processor is safe for concurrent use: each cycle opens its own store
// connection and shares only the registry, policy, pulse, and jitter-free
// configuration.
type Processor struct {
	store        job.Store
	registry     *job.Registry
	policy       *retry.Policy
	signal       *pulse.Pulse
	mw           middleware.Middleware
	pollInterval time.Duration
	logger       *slog.Logger
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithPollInterval sets the idle suspension timeout.
func WithPollInterval(d time.Duration) ProcessorOption {
	return func(p *Processor) { p.pollInterval = d }
}

// WithMiddleware sets the middleware chain wrapped around every dispatch.
func WithMiddleware(mws ...middleware.Middleware) ProcessorOption {
	return func(p *Processor) { p.mw = middleware.Chain(mws...) }
}

// NewProcessor creates a Processor. policy is the process-wide default
// retry policy, consulted when an operation carries no override. signal
// is the shared wake pulse.
func NewProcessor(
	store job.Store,
	registry *job.Registry,
	policy *retry.Policy,
	signal *pulse.Pulse,
	logger *slog.Logger,
	opts ...ProcessorOption,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Processor{
		store:        store,
		registry:     registry,
		policy:       policy,
		signal:       signal,
		mw:           middleware.Chain(),
		pollInterval: DefaultPollInterval,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessOne runs at most one fetch-execute-transition cycle. The caller
// drives repeated invocation. When no job is due, it suspends until the
// pulse fires, the context is cancelled, or the poll interval elapses,
// then reports no work done.
//
// Cancellation is checked only here, at the cycle boundary: once a lease
// is granted the cycle runs to completion so the job's outcome is never
// lost to a shutdown race.
func (p *Processor) ProcessOne(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	leased, err := p.cycle(ctx)
	if err != nil {
		return leased, err
	}
	if !leased {
		p.signal.Wait(ctx, p.pollInterval)
	}
	return leased, nil
}

// cycle opens a scoped connection, leases the next due job, and processes
// it. Returns false when no job was eligible.
func (p *Processor) cycle(ctx context.Context) (leased bool, err error) {
	conn, err := p.store.Open(ctx)
	if err != nil {
		return false, fmt.Errorf("worker: open store connection: %w", err)
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("worker: close store connection: %w", closeErr)
		}
	}()

	fetched, err := conn.FetchNextJob(ctx)
	if err != nil {
		return false, fmt.Errorf("worker: fetch next job: %w", err)
	}
	if fetched == nil {
		return false, nil
	}

	// Implied release: if the cycle ends without Ack or Requeue, for
	// example on a panic or an early error return, the job goes back to
	// the backlog.
	defer fetched.Close()

	// The shutdown signal no longer applies past this point; see
	// ProcessOne. Store mutations for this lease must not be cut short
	// half way through a cycle.
	return true, p.process(context.WithoutCancel(ctx), ctx, conn, fetched)
}

// process runs the leased job through resolution, dispatch, outcome
// classification, and the final state transition. cctx is the
// cancellation-free cycle context used for store mutations; dispatchCtx
// still carries the shutdown signal so cooperative handlers can observe
// it.
func (p *Processor) process(cctx, dispatchCtx context.Context, conn job.Connection, fetched job.FetchedJob) error {
	jobID := fetched.JobID()

	j, err := conn.GetJob(cctx, jobID)
	if err != nil {
		return fmt.Errorf("worker: load job %s: %w", jobID, err)
	}

	inv, resolveErr := p.registry.Resolve(j.Data)
	if resolveErr != nil {
		// Unresolvable descriptor: the record can never execute, no
		// matter how often it is retried. Terminal, counter untouched.
		p.logger.Error("job descriptor unresolvable, failing permanently",
			slog.String("job_id", jobID.String()),
			slog.String("error", resolveErr.Error()),
		)
		j.LastError = resolveErr.Error()
		if err := p.transition(cctx, conn, j, job.Failed{}); err != nil {
			return err
		}
		return fetched.Ack(cctx)
	}

	// Visible to operators while the job runs.
	if err := p.transition(cctx, conn, j, job.Processing{}); err != nil {
		return err
	}

	res, dispatchErr := p.dispatch(dispatchCtx, j, inv)
	if dispatchErr != nil {
		// The dispatch itself errored before the operation body ran.
		// Transient: release the lease with no persisted change and no
		// counter increment; any worker may pick the job up again.
		p.logger.Warn("job dispatch error, releasing lease",
			slog.String("job_id", jobID.String()),
			slog.String("error", dispatchErr.Error()),
		)
		return fetched.Requeue(cctx)
	}

	if res.Succeeded {
		if err := p.transition(cctx, conn, j, job.Succeeded{}); err != nil {
			return err
		}
		return fetched.Ack(cctx)
	}

	return p.retryOrFail(cctx, conn, j, inv, fetched, res.Cause)
}

// retryOrFail consults the retry policy bound to the operation (or the
// process default) for a classified failure and applies the terminal or
// rescheduled transition.
func (p *Processor) retryOrFail(cctx context.Context, conn job.Connection, j *job.Job, inv *job.Invocation, fetched job.FetchedJob, cause error) error {
	pol := p.policy
	if override := inv.Policy(); override != nil {
		pol = override
	}

	j.LastError = cause.Error()
	attempt := j.Retries + 1

	if !pol.Allows(attempt) {
		p.logger.Error("job failed permanently",
			slog.String("job_id", j.ID.String()),
			slog.Int("attempts", attempt),
			slog.String("error", cause.Error()),
		)
		if err := p.transition(cctx, conn, j, job.Failed{}); err != nil {
			return err
		}
		return fetched.Ack(cctx)
	}

	j.Retries = attempt
	due := j.Added.Add(pol.Delay(attempt))

	p.logger.Warn("job failed, retry scheduled",
		slog.String("job_id", j.ID.String()),
		slog.Int("attempt", attempt),
		slog.Time("due", due),
		slog.String("error", cause.Error()),
	)
	if err := p.transition(cctx, conn, j, job.Scheduled{Due: due}); err != nil {
		return err
	}
	return fetched.Ack(cctx)
}

// transition persists one state change as a single atomic unit.
func (p *Processor) transition(ctx context.Context, conn job.Connection, j *job.Job, s job.State) error {
	tx, err := conn.BeginUpdate(ctx)
	if err != nil {
		return fmt.Errorf("worker: begin update for job %s: %w", j.ID, err)
	}
	defer tx.Rollback(ctx)

	if err := job.Transition(ctx, tx, j, s); err != nil {
		return fmt.Errorf("worker: transition job %s to %s: %w", j.ID, s.Status(), err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("worker: commit transition for job %s: %w", j.ID, err)
	}
	return nil
}

// dispatch binds and calls the invocation. A non-nil error is a
// dispatch-time error (the body never ran); a handler failure comes back
// as a classified non-succeeded Result. The two surfaces stay separate on
// purpose: they feed different recovery paths.
func (p *Processor) dispatch(ctx context.Context, j *job.Job, inv *job.Invocation) (job.Result, error) {
	recv, err := inv.Bind()
	if err != nil {
		return job.Result{}, err
	}

	callErr := p.mw(ctx, j, func(ctx context.Context) error {
		return inv.Call(ctx, recv)
	})
	if callErr != nil {
		return job.Failure(callErr), nil
	}
	return job.Success(), nil
}
