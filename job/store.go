package job

import (
	"context"

	"github.com/ostrea/backlog/id"
)

// Store is the persistence contract for jobs. Implementations must make
// FetchNextJob grant at most one outstanding lease per job at any time,
// across every process sharing the backend; the engine performs no
// additional locking.
type Store interface {
	// Open acquires a scoped connection. The caller releases it at the
	// end of the cycle with Close.
	Open(ctx context.Context) (Connection, error)
}

// Connection is a store connection scoped to one processor cycle (or one
// producer call). Not safe for concurrent use; each cycle opens its own.
type Connection interface {
	// StoreJob persists a new job record.
	StoreJob(ctx context.Context, j *Job) error

	// FetchNextJob leases the next due job: state non-terminal and ready,
	// due at or before now, no live lease. Returns (nil, nil) when no job
	// is eligible.
	FetchNextJob(ctx context.Context) (FetchedJob, error)

	// GetJob loads the full record for the given ID.
	// Returns backlog.ErrJobNotFound if no such job exists.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// BeginUpdate opens an atomic update scope. Updates buffered on the
	// scope become visible all-or-nothing at Commit.
	BeginUpdate(ctx context.Context) (UpdateTx, error)

	// Close releases the connection.
	Close() error
}

// UpdateTx is an atomic update scope over job records.
type UpdateTx interface {
	// UpdateJob stages the full record for write.
	UpdateJob(ctx context.Context, j *Job) error

	// Commit atomically applies every staged write.
	Commit(ctx context.Context) error

	// Rollback discards staged writes. Safe to call after Commit; it is
	// a no-op then, which makes `defer tx.Rollback(ctx)` the idiom.
	Rollback(ctx context.Context) error
}

// FetchedJob is an exclusive, disposable lease over one job, owned solely
// by the cycle that fetched it. Exactly one of Ack or Requeue ends the
// lease; Close without either implies Requeue. That implied release is the
// fault-safety guarantee that no leased job is ever silently lost.
type FetchedJob interface {
	// JobID returns the identifier of the leased job.
	JobID() id.JobID

	// Ack permanently removes the job from the backlog. The job row
	// itself survives; only its lease claim is retired, so terminal and
	// rescheduled records stay in the store.
	Ack(ctx context.Context) error

	// Requeue returns the job to the backlog, immediately re-eligible.
	Requeue(ctx context.Context) error

	// Close releases the lease if neither Ack nor Requeue was called.
	// Idempotent.
	Close() error
}
