package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ostrea/backlog/id"
	"github.com/ostrea/backlog/job"
)

const defaultTickInterval = time.Second

// EnqueueFunc stores a job for the given descriptor, due at the given
// time. The scheduler calls it once per firing.
type EnqueueFunc func(ctx context.Context, d job.Descriptor, due time.Time) (id.JobID, error)

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.tickInterval = d
		}
	}
}

// Scheduler fires cron entries by enqueueing jobs as their expressions
// come due.
type Scheduler struct {
	enqueue      EnqueueFunc
	logger       *slog.Logger
	tickInterval time.Duration

	mu      sync.Mutex
	entries map[string]*Entry
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler that enqueues via fn.
func NewScheduler(fn EnqueueFunc, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		enqueue:      fn,
		logger:       logger,
		tickInterval: defaultTickInterval,
		entries:      make(map[string]*Entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a recurring job under a unique name.
func (s *Scheduler) Add(name, spec string, d job.Descriptor) (*Entry, error) {
	e, err := NewEntry(name, spec, d)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; ok {
		return nil, fmt.Errorf("cron: entry %q already exists", name)
	}
	s.entries[name] = e
	return e, nil
}

// Remove deletes an entry. Removing an unknown name is a no-op.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, name)
}

// Entries returns a snapshot of the registered entries.
func (s *Scheduler) Entries() []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		copied := *e
		out = append(out, &copied)
	}
	return out
}

// Start launches the scheduling loop. Calling Start on a running
// scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop halts the scheduling loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.fire(ctx, now.UTC())
		}
	}
}

// fire enqueues every entry whose next occurrence has passed.
func (s *Scheduler) fire(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var due []*Entry
	for _, e := range s.entries {
		if !e.nextRun.After(now) {
			due = append(due, e)
			e.advance(now)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		jobID, err := s.enqueue(ctx, e.Descriptor, now)
		if err != nil {
			s.logger.Error("cron enqueue failed",
				"entry", e.Name,
				"spec", e.Spec,
				"error", err)
			continue
		}
		s.logger.Debug("cron entry fired",
			"entry", e.Name,
			"job_id", jobID.String())
	}
}
