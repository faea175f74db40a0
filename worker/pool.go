package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ostrea/backlog/id"
)

// Pool drives a set of concurrent processor loops. Each loop runs
// ProcessOne repeatedly until the pool stops; mutual exclusion between
// loops (and between pools in other processes) is entirely the store's
// lease concern.
type Pool struct {
	proc        *Processor
	concurrency int
	workerID    id.WorkerID
	logger      *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithConcurrency sets the number of concurrent processor loops.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// NewPool creates a pool over the given processor.
func NewPool(proc *Processor, logger *slog.Logger, opts ...PoolOption) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		proc:        proc,
		concurrency: 10,
		workerID:    id.NewWorkerID(),
		logger:      logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the processor loops. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	loopCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.loop(loopCtx)
	}
	return nil
}

// Stop signals all loops to stop and waits for them to finish. A pending
// idle suspension wakes immediately; a cycle already holding a lease runs
// to completion first. If ctx has a deadline that expires, Stop returns
// early while loops drain in the background.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))
	cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out; loops draining in background")
		return ctx.Err()
	}
}

// loop runs processor cycles until the pool stops. Cycle errors are
// infrastructure errors (a failed job is not an error here); they are
// logged and followed by a suspension so a broken store does not spin.
func (p *Pool) loop(ctx context.Context) {
	defer p.wg.Done()

	for {
		if _, err := p.proc.ProcessOne(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			p.logger.Error("processor cycle error",
				slog.String("worker_id", p.workerID.String()),
				slog.String("error", err.Error()),
			)
			p.backoff(ctx)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// backoff pauses after an infrastructure error, honoring shutdown.
func (p *Pool) backoff(ctx context.Context) {
	t := time.NewTimer(p.proc.pollInterval)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
