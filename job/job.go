package job

import (
	"time"

	"github.com/ostrea/backlog/id"
)

// Job is a durable unit of work. Producers create it in StatusScheduled;
// processors mutate every field except ID and Added during a cycle. The
// engine never deletes a record: terminal rows stay queryable so operators
// can inspect what succeeded and what gave up.
type Job struct {
	// ID uniquely identifies the job.
	ID id.JobID `json:"id"`

	// Data is the opaque invocation descriptor: target, operation, and
	// arguments, serialized by a codec the engine never looks inside.
	Data []byte `json:"data"`

	// Status is the current lifecycle state tag.
	Status Status `json:"status"`

	// Retries counts classified failures that have been rescheduled.
	// Dispatch-time releases do not touch it.
	Retries int `json:"retries"`

	// LastError records the cause of the most recent failed attempt.
	LastError string `json:"last_error,omitempty"`

	// Added is the creation timestamp. Retry due times are computed from
	// it, not from the time of failure.
	Added time.Time `json:"added"`

	// Due is the earliest time the job is eligible for leasing.
	Due time.Time `json:"due"`
}

// New creates a scheduled job over the given descriptor bytes, due at the
// given time.
func New(data []byte, due time.Time) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:     id.NewJobID(),
		Data:   data,
		Status: StatusScheduled,
		Added:  now,
		Due:    due,
	}
}
