// Package postgres provides a job store backed by PostgreSQL. Fetch
// leases use FOR UPDATE SKIP LOCKED plus a lease deadline column, so any
// number of processes can share one backlog without double-delivery.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ostrea/backlog"
	"github.com/ostrea/backlog/id"
	"github.com/ostrea/backlog/job"
)

const defaultLeaseTTL = 5 * time.Minute

// pgUniqueViolation is the SQLSTATE for duplicate key errors.
const pgUniqueViolation = "23505"

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

// Store is a PostgreSQL-backed job store.
type Store struct {
	pool     *pgxpool.Pool
	leaseTTL time.Duration
}

// New connects to the given DSN and runs migrations.
func New(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	s := NewWithPool(pool, opts...)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool wraps an existing pool. The caller owns the pool's
// lifecycle and must have run Migrate.
func NewWithPool(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, leaseTTL: defaultLeaseTTL}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Open returns a connection over the shared pool.
func (s *Store) Open(ctx context.Context) (job.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &conn{store: s}, nil
}

type conn struct {
	store *Store
}

func (c *conn) StoreJob(ctx context.Context, j *job.Job) error {
	_, err := c.store.pool.Exec(ctx, insertJobSQL,
		j.ID.String(), j.Data, string(j.Status), j.Retries, j.LastError, j.Added, j.Due)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return backlog.ErrJobAlreadyExists
		}
		return fmt.Errorf("postgres: store job %s: %w", j.ID, err)
	}
	return nil
}

// FetchNextJob claims the earliest due eligible job in a single
// statement. SKIP LOCKED keeps concurrent fetchers from blocking on each
// other; the lease deadline keeps the claim exclusive after the statement
// commits.
func (c *conn) FetchNextJob(ctx context.Context) (job.FetchedJob, error) {
	ttl := c.store.leaseTTL.Seconds()

	var rawID string
	err := c.store.pool.QueryRow(ctx, fetchNextJobSQL, ttl).Scan(&rawID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch next job: %w", err)
	}

	jobID, err := id.ParseJobID(rawID)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetched malformed job id %q: %w", rawID, err)
	}
	return &fetchedJob{store: c.store, jobID: jobID}, nil
}

func (c *conn) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := c.store.pool.QueryRow(ctx, getJobSQL, jobID.String())
	return scanJob(row)
}

func (c *conn) BeginUpdate(ctx context.Context) (job.UpdateTx, error) {
	tx, err := c.store.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin update: %w", err)
	}
	return &updateTx{tx: tx}, nil
}

func (c *conn) Close() error { return nil }

// updateTx stages writes inside a database transaction.
type updateTx struct {
	tx pgx.Tx
}

func (u *updateTx) UpdateJob(ctx context.Context, j *job.Job) error {
	tag, err := u.tx.Exec(ctx, updateJobSQL,
		j.Data, string(j.Status), j.Retries, j.LastError, j.Due, j.ID.String())
	if err != nil {
		return fmt.Errorf("postgres: update job %s: %w", j.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return backlog.ErrJobNotFound
	}
	return nil
}

func (u *updateTx) Commit(ctx context.Context) error {
	if err := u.tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit update: %w", err)
	}
	return nil
}

func (u *updateTx) Rollback(ctx context.Context) error {
	err := u.tx.Rollback(ctx)
	if err == nil || errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return fmt.Errorf("postgres: rollback update: %w", err)
}

// fetchedJob is the lease handle over one claimed row.
type fetchedJob struct {
	store   *Store
	jobID   id.JobID
	settled bool
}

func (f *fetchedJob) JobID() id.JobID { return f.jobID }

func (f *fetchedJob) Ack(ctx context.Context) error {
	return f.settle(ctx)
}

func (f *fetchedJob) Requeue(ctx context.Context) error {
	return f.settle(ctx)
}

func (f *fetchedJob) Close() error {
	if f.settled {
		return nil
	}
	// Implied release. The lease must come off even during shutdown.
	return f.settle(context.WithoutCancel(context.Background()))
}

func (f *fetchedJob) settle(ctx context.Context) error {
	if f.settled {
		return backlog.ErrLeaseSettled
	}
	f.settled = true
	if _, err := f.store.pool.Exec(ctx, releaseLeaseSQL, f.jobID.String()); err != nil {
		return fmt.Errorf("postgres: release lease for job %s: %w", f.jobID, err)
	}
	return nil
}

// rowScanner abstracts pgx.Row for scanJob.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*job.Job, error) {
	var (
		rawID  string
		status string
		j      job.Job
	)
	err := row.Scan(&rawID, &j.Data, &status, &j.Retries, &j.LastError, &j.Added, &j.Due)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, backlog.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan job: %w", err)
	}

	jobID, err := id.ParseJobID(rawID)
	if err != nil {
		return nil, fmt.Errorf("postgres: stored malformed job id %q: %w", rawID, err)
	}
	j.ID = jobID
	j.Status = job.Status(status)
	j.Added = j.Added.UTC()
	j.Due = j.Due.UTC()
	return &j, nil
}
