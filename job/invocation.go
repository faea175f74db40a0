package job

import (
	"context"
	"fmt"

	"github.com/ostrea/backlog/retry"
)

// Result is the classified outcome of one dispatch. It is transient: the
// processor uses it within a single cycle to drive the state transition
// and it is never persisted.
type Result struct {
	Succeeded bool
	Cause     error
}

// Success returns a succeeded Result.
func Success() Result { return Result{Succeeded: true} }

// Failure returns a non-succeeded Result carrying its cause.
func Failure(cause error) Result { return Result{Cause: cause} }

// Invocation is a resolved descriptor: a concrete thunk plus everything
// needed to bind and call it. Obtained from Registry.Resolve; resolution
// errors and dispatch errors are deliberately separate failure surfaces.
type Invocation struct {
	desc    Descriptor
	thunk   Thunk
	policy  *retry.Policy
	bound   bool
	factory InstanceFactory
}

// Descriptor returns the descriptor this invocation was resolved from.
func (inv *Invocation) Descriptor() Descriptor { return inv.desc }

// Policy returns the per-operation retry policy override, or nil when the
// operation uses the process default.
func (inv *Invocation) Policy() *retry.Policy { return inv.policy }

// Bind obtains the receiver for a bound operation from the instance
// factory. Free operations bind to nil. A Bind error is a dispatch-time
// error: the operation body never ran, so the caller releases the lease
// instead of consuming a retry attempt.
func (inv *Invocation) Bind() (any, error) {
	if !inv.bound {
		return nil, nil
	}
	if inv.factory == nil {
		return nil, fmt.Errorf("job: no instance factory for bound operation %q", inv.desc.Key())
	}
	recv, err := inv.factory.Instance(inv.desc.Target)
	if err != nil {
		return nil, fmt.Errorf("job: instance for target %q: %w", inv.desc.Target, err)
	}
	return recv, nil
}

// Call runs the operation body with the bound receiver. A returned error
// is the operation's own failure, to be classified against the retry
// policy; it is not a dispatch-time error.
func (inv *Invocation) Call(ctx context.Context, recv any) error {
	return inv.thunk(ctx, recv, inv.desc.Args)
}
