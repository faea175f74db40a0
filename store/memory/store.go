// Package memory provides an in-process job store backed by a mutex-guarded
// map. Jobs are lost on restart; it is intended for tests and development.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ostrea/backlog"
	"github.com/ostrea/backlog/id"
	"github.com/ostrea/backlog/job"
)

// defaultLeaseTTL bounds how long a fetched job stays invisible when its
// owner dies without releasing it.
const defaultLeaseTTL = 5 * time.Minute

// Option configures a Store.
type Option func(*Store)

// WithLeaseTTL overrides how long a fetch lease shields a job from other
// fetchers before it is considered abandoned.
func WithLeaseTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.leaseTTL = d
		}
	}
}

// Store is an in-memory job store. Safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	jobs     map[string]*job.Job
	leases   map[string]time.Time
	leaseTTL time.Duration
	closed   bool
}

// New creates an empty in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		jobs:     make(map[string]*job.Job),
		leases:   make(map[string]time.Time),
		leaseTTL: defaultLeaseTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open returns a connection over the shared map. Connections are cheap;
// every cycle opens and closes its own.
func (s *Store) Open(ctx context.Context) (job.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, backlog.ErrStoreClosed
	}
	return &conn{store: s}, nil
}

// Close marks the store closed. Subsequent Opens fail.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Len reports the number of stored jobs.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func (s *Store) storeJob(j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return backlog.ErrStoreClosed
	}
	key := j.ID.String()
	if _, ok := s.jobs[key]; ok {
		return backlog.ErrJobAlreadyExists
	}
	copied := *j
	s.jobs[key] = &copied
	return nil
}

func (s *Store) getJob(jobID id.JobID) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, backlog.ErrStoreClosed
	}
	j, ok := s.jobs[jobID.String()]
	if !ok {
		return nil, backlog.ErrJobNotFound
	}
	copied := *j
	return &copied, nil
}

// fetchNext leases the eligible job with the earliest due time. A job is
// eligible when its state is non-terminal, it is due, and no live lease
// covers it. Returns nil when nothing qualifies.
func (s *Store) fetchNext() (*fetchedJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, backlog.ErrStoreClosed
	}

	now := time.Now().UTC()
	var best *job.Job
	for key, j := range s.jobs {
		if j.Status.Terminal() {
			continue
		}
		if j.Due.After(now) {
			continue
		}
		if until, ok := s.leases[key]; ok && until.After(now) {
			continue
		}
		if best == nil || j.Due.Before(best.Due) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}

	s.leases[best.ID.String()] = now.Add(s.leaseTTL)
	return &fetchedJob{store: s, jobID: best.ID}, nil
}

func (s *Store) releaseLease(jobID id.JobID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.leases, jobID.String())
}

func (s *Store) applyUpdates(staged map[string]*job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return backlog.ErrStoreClosed
	}
	for key := range staged {
		if _, ok := s.jobs[key]; !ok {
			return backlog.ErrJobNotFound
		}
	}
	for key, j := range staged {
		copied := *j
		s.jobs[key] = &copied
	}
	return nil
}

// conn is a connection over the shared map.
type conn struct {
	store *Store
}

func (c *conn) StoreJob(ctx context.Context, j *job.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.store.storeJob(j)
}

func (c *conn) FetchNextJob(ctx context.Context) (job.FetchedJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fetched, err := c.store.fetchNext()
	if err != nil || fetched == nil {
		return nil, err
	}
	return fetched, nil
}

func (c *conn) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.store.getJob(jobID)
}

func (c *conn) BeginUpdate(ctx context.Context) (job.UpdateTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &updateTx{store: c.store, staged: make(map[string]*job.Job)}, nil
}

func (c *conn) Close() error { return nil }

// errTxDone is returned when staging writes on a settled transaction.
var errTxDone = errors.New("memory: transaction already settled")

// updateTx buffers writes and applies them all at Commit.
type updateTx struct {
	store  *Store
	staged map[string]*job.Job
	done   bool
}

func (tx *updateTx) UpdateJob(ctx context.Context, j *job.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if tx.done {
		return errTxDone
	}
	copied := *j
	tx.staged[j.ID.String()] = &copied
	return nil
}

func (tx *updateTx) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if tx.done {
		return nil
	}
	tx.done = true
	return tx.store.applyUpdates(tx.staged)
}

func (tx *updateTx) Rollback(ctx context.Context) error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.staged = nil
	return nil
}

// fetchedJob is the lease handle returned by FetchNextJob. Exactly one of
// Ack or Requeue settles it; Close without either implies Requeue.
type fetchedJob struct {
	store   *Store
	jobID   id.JobID
	mu      sync.Mutex
	settled bool
}

func (f *fetchedJob) JobID() id.JobID { return f.jobID }

func (f *fetchedJob) Ack(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.settle()
}

func (f *fetchedJob) Requeue(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.settle()
}

func (f *fetchedJob) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settled {
		return nil
	}
	f.settled = true
	f.store.releaseLease(f.jobID)
	return nil
}

func (f *fetchedJob) settle() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settled {
		return backlog.ErrLeaseSettled
	}
	f.settled = true
	f.store.releaseLease(f.jobID)
	return nil
}
