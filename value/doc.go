// Package value implements the unified value model (component C1) that the
// compiled program and the scope/scheduler substrate exchange: plain and
// safe strings, scalars, pending futures, buffer fragments, and sticky
// error values.
//
// Futures are modelled directly on top of Go's native concurrency
// primitives (a goroutine per pending sub-computation, a channel per
// future) rather than a JavaScript-style microtask queue: "await" is a
// blocking receive on a future's done channel. This is the idiomatic Go
// restatement of the spec's "single logical executor" requirement — the
// determinism guarantee comes from the scope package's write counters and
// snapshots, not from refusing to use goroutines.
package value
