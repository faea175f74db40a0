package job

import (
	"context"
	"time"
)

// Status is the persisted lifecycle state tag of a job.
type Status string

const (
	// StatusScheduled means the job is waiting for its due time.
	StatusScheduled Status = "scheduled"
	// StatusProcessing means a processor is executing the job.
	StatusProcessing Status = "processing"
	// StatusSucceeded means the job finished successfully. Terminal.
	StatusSucceeded Status = "succeeded"
	// StatusFailed means the job failed and will not run again. Terminal.
	StatusFailed Status = "failed"
)

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// State is a lifecycle variant. Each variant defines the field stamping
// applied to a job record on entry; beyond that, transitions are pure
// record mutations. Retry accounting lives in the processor, not here.
type State interface {
	// Status returns the state tag this variant writes.
	Status() Status

	// Apply stamps variant-specific fields on the record. It must not
	// touch the Status field; Transition does that.
	Apply(j *Job)
}

// Scheduled marks a job eligible to run at Due.
type Scheduled struct {
	Due time.Time
}

func (s Scheduled) Status() Status { return StatusScheduled }
func (s Scheduled) Apply(j *Job)   { j.Due = s.Due }

// Processing marks a job as currently executing. Stamps nothing: the
// record keeps its due time so operators can see when it became eligible.
type Processing struct{}

func (Processing) Status() Status { return StatusProcessing }
func (Processing) Apply(*Job)     {}

// Succeeded is the terminal success state.
type Succeeded struct{}

func (Succeeded) Status() Status { return StatusSucceeded }
func (Succeeded) Apply(*Job)     {}

// Failed is the terminal failure state.
type Failed struct{}

func (Failed) Status() Status { return StatusFailed }
func (Failed) Apply(*Job)     {}

// Transition applies the target state's field stamping and sets the state
// tag, persisting the record through the caller's open atomic scope. The
// caller owns the scope and decides when to commit; all field mutations of
// one transition therefore land in a single atomic unit.
func Transition(ctx context.Context, tx UpdateTx, j *Job, s State) error {
	s.Apply(j)
	j.Status = s.Status()
	return tx.UpdateJob(ctx, j)
}
