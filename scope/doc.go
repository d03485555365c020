// Package scope implements the Frame (C2) and AsyncFrame/Scheduler (C3)
// runtime support that the compiler package emits calls against. A Frame
// is a lexical scope with a parent chain and write isolation; an
// AsyncFrame augments it with a timeline of snapshots so that lookups
// issued from within a suspended async closure observe the value the
// serial interpreter would have seen at the point the closure was
// scheduled, not whatever value is current when the lookup actually
// runs.
//
// The write-counter and promiseData bookkeeping here is grounded on the
// teacher's eventloop package's Promise/microtask machinery (promise.go,
// state.go): a pending read is a Future exactly like an unresolved
// Promise, and a write that completes the last outstanding writer
// resolves it exactly like eventloop's settle functions.
package scope
