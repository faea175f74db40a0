// Package backlog is a persistent background-job engine. Producers
// enqueue operations for later, possibly repeated, execution; processor
// loops continuously lease due work, execute it, and record the outcome
// durably with at-least-once semantics.
//
// Backlog is a library, not a service. Import it, configure a store,
// register operations as ordinary Go functions, and start the engine:
//
//	eng, err := backlog.New(
//	    backlog.WithStore(pgStore),
//	    backlog.WithConcurrency(20),
//	)
//	backlog.RegisterFunc(eng, "mail.digest", sendDigest)
//	eng.Start(ctx)
//
//	// Anywhere in the application:
//	backlog.Enqueue(ctx, eng, "mail.digest", digestArgs{User: 42})
//
// # Architecture
//
// The job store is a contract (see the job package); backends live under
// store/. Mutual exclusion between concurrent processors, in one process
// or across processes sharing a store, is entirely the store lease's
// concern. Failed executions consult an immutable retry policy (retry
// package); idle processors suspend on a process-wide pulse that
// enqueuing raises, bounding pickup latency without busy-polling.
//
// All entity IDs are TypeIDs: type-prefixed, K-sortable, UUIDv7-based.
package backlog
