// Package sqlite provides a job store backed by SQLite, using the pure-Go
// modernc.org driver. Suited to single-process deployments that want
// durability without running a database server.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ostrea/backlog"
	"github.com/ostrea/backlog/id"
	"github.com/ostrea/backlog/job"
)

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

// Store is a SQLite-backed job store.
type Store struct {
	db       *sql.DB
	leaseTTL time.Duration
}

// New opens (or creates) the database at the given DSN and runs
// migrations. Pass ":memory:" for an ephemeral store.
func New(dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", dsn, err)
	}
	// SQLite has a single writer; funneling through one connection turns
	// SQLITE_BUSY contention into queueing. It also keeps an in-memory
	// database alive across calls.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, leaseTTL: defaultLeaseTTL}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Open returns a connection over the shared database handle.
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
	_, err := c.store.db.ExecContext(ctx, insertJobSQL,
		j.ID.String(), j.Data, string(j.Status), j.Retries, j.LastError,
		j.Added.UnixNano(), j.Due.UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return backlog.ErrJobAlreadyExists
		}
		return fmt.Errorf("sqlite: store job %s: %w", j.ID, err)
	}
	return nil
}

// FetchNextJob claims the earliest due eligible job. The single claim
// statement is atomic under SQLite's writer lock, so concurrent loops in
// one process never double-claim.
func (c *conn) FetchNextJob(ctx context.Context) (job.FetchedJob, error) {
	now := time.Now().UTC()
	leasedUntil := now.Add(c.store.leaseTTL)

	var rawID string
	err := c.store.db.QueryRowContext(ctx, fetchNextJobSQL,
		leasedUntil.UnixNano(), now.UnixNano(), now.UnixNano()).Scan(&rawID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: fetch next job: %w", err)
	}

	jobID, err := id.ParseJobID(rawID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: fetched malformed job id %q: %w", rawID, err)
	}
	return &fetchedJob{store: c.store, jobID: jobID}, nil
}

func (c *conn) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := c.store.db.QueryRowContext(ctx, getJobSQL, jobID.String())

	var (
		rawID   string
		status  string
		addedNs int64
		dueNs   int64
		j       job.Job
	)
	err := row.Scan(&rawID, &j.Data, &status, &j.Retries, &j.LastError, &addedNs, &dueNs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, backlog.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan job: %w", err)
	}

	parsed, err := id.ParseJobID(rawID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: stored malformed job id %q: %w", rawID, err)
	}
	j.ID = parsed
	j.Status = job.Status(status)
	j.Added = time.Unix(0, addedNs).UTC()
	j.Due = time.Unix(0, dueNs).UTC()
	return &j, nil
}

func (c *conn) BeginUpdate(ctx context.Context) (job.UpdateTx, error) {
	tx, err := c.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin update: %w", err)
	}
	return &updateTx{tx: tx}, nil
}

func (c *conn) Close() error { return nil }

// updateTx stages writes inside a database transaction.
type updateTx struct {
	tx *sql.Tx
}

func (u *updateTx) UpdateJob(ctx context.Context, j *job.Job) error {
	res, err := u.tx.ExecContext(ctx, updateJobSQL,
		j.Data, string(j.Status), j.Retries, j.LastError, j.Due.UnixNano(), j.ID.String())
	if err != nil {
		return fmt.Errorf("sqlite: update job %s: %w", j.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: update job %s: %w", j.ID, err)
	}
	if affected == 0 {
		return backlog.ErrJobNotFound
	}
	return nil
}

func (u *updateTx) Commit(_ context.Context) error {
	if err := u.tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit update: %w", err)
	}
	return nil
}

func (u *updateTx) Rollback(_ context.Context) error {
	err := u.tx.Rollback()
	if err == nil || errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return fmt.Errorf("sqlite: rollback update: %w", err)
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
	if _, err := f.store.db.ExecContext(ctx, releaseLeaseSQL, f.jobID.String()); err != nil {
		return fmt.Errorf("sqlite: release lease for job %s: %w", f.jobID, err)
	}
	return nil
}

// isUniqueViolation matches the driver's primary key conflict error. The
// modernc driver exposes SQLITE_CONSTRAINT through the error string, not
// a typed code, so string matching is the stable option here.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
