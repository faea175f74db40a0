// Package job defines the durable job record, its lifecycle states, the
// persistence contract stores must satisfy, and the invocation machinery
// that turns a stored descriptor back into a callable operation.
//
// The package is deliberately free of execution logic: processors live in
// the worker package, backends under store/. Everything here is either a
// data type, an interface contract, or a pure record mutator.
package job
