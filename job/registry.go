package job

import (
	"context"
	"fmt"
	"sync"

	"github.com/ostrea/backlog/codec"
	"github.com/ostrea/backlog/retry"
)

// Thunk is a type-erased operation body. The typed registration functions
// wrap user handlers in a closure that decodes the arguments and, for
// bound operations, asserts the receiver type.
//
// Thunks run synchronously: a handler that fans work out internally must
// join before returning, because the processor classifies the outcome the
// moment the thunk returns.
type Thunk func(ctx context.Context, recv any, args []byte) error

// InstanceFactory produces a receiver instance for a target type. Used
// only for bound operations; free operations skip it entirely.
// Implementations must be safe for concurrent use.
type InstanceFactory interface {
	Instance(target string) (any, error)
}

// Options configures a registered operation.
type Options struct {
	// Policy overrides the engine's default retry policy for this
	// operation. Nil means use the default.
	Policy *retry.Policy
}

// Option is a functional option for operation registration.
type Option func(*Options)

// WithRetryPolicy attaches a per-operation retry policy.
func WithRetryPolicy(p *retry.Policy) Option {
	return func(o *Options) { o.Policy = p }
}

type entry struct {
	thunk  Thunk
	policy *retry.Policy
	bound  bool
}

// Registry maps (target, operation) keys to statically typed thunks.
// All registration happens at startup; lookups are concurrent-safe.
type Registry struct {
	mu      sync.RWMutex
	codec   codec.Codec
	factory InstanceFactory
	entries map[string]*entry
}

// NewRegistry creates an empty registry using the given codec for
// descriptor and argument decoding. A nil codec means JSON.
func NewRegistry(c codec.Codec) *Registry {
	if c == nil {
		c = &codec.JSON{}
	}
	return &Registry{
		codec:   c,
		entries: make(map[string]*entry),
	}
}

// SetFactory installs the instance factory consulted when bound
// operations are dispatched. Call before processors start.
func (r *Registry) SetFactory(f InstanceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factory = f
}

// Codec returns the codec used for descriptors and arguments.
func (r *Registry) Codec() codec.Codec { return r.codec }

// Keys returns all registered operation keys.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	return keys
}

func (r *Registry) register(key string, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = e
}

// RegisterFunc registers a free operation: a function bound to no
// instance. The generic wrapper decodes arguments into A before calling
// the typed handler.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterFunc[A any](r *Registry, operation string, fn func(ctx context.Context, args A) error, opts ...Option) {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}

	thunk := func(ctx context.Context, _ any, args []byte) error {
		var a A
		if len(args) > 0 {
			if err := r.codec.Decode(args, &a); err != nil {
				return fmt.Errorf("decode args for %q: %w", operation, err)
			}
		}
		return fn(ctx, a)
	}

	r.register(Descriptor{Operation: operation}.Key(), &entry{thunk: thunk, policy: o.Policy})
}

// RegisterMethod registers a bound operation on target type R. At dispatch
// time the receiver comes from the instance factory keyed by target; the
// wrapper asserts it to R and decodes the arguments into A.
func RegisterMethod[R any, A any](r *Registry, target, operation string, fn func(ctx context.Context, recv R, args A) error, opts ...Option) {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}

	thunk := func(ctx context.Context, recv any, args []byte) error {
		typed, ok := recv.(R)
		if !ok {
			return fmt.Errorf("target %q: factory produced %T, want %T", target, recv, typed)
		}
		var a A
		if len(args) > 0 {
			if err := r.codec.Decode(args, &a); err != nil {
				return fmt.Errorf("decode args for %q.%q: %w", target, operation, err)
			}
		}
		return fn(ctx, typed, a)
	}

	r.register(Descriptor{Target: target, Operation: operation}.Key(), &entry{thunk: thunk, policy: o.Policy, bound: true})
}

// Resolve turns stored descriptor bytes into a dispatchable Invocation.
// Any failure here (undecodable bytes, unknown key) means the record can
// never execute; callers must treat it as terminal and leave the retry
// counter untouched.
func (r *Registry) Resolve(data []byte) (*Invocation, error) {
	d, err := DecodeDescriptor(r.codec, data)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	e, ok := r.entries[d.Key()]
	factory := r.factory
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("job: no operation registered for %q", d.Key())
	}

	return &Invocation{
		desc:    d,
		thunk:   e.thunk,
		policy:  e.policy,
		bound:   e.bound,
		factory: factory,
	}, nil
}
