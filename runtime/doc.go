// Package runtime implements the stable ABI the compiler package's
// emitted programs call against (spec §6): Context (the
// variables+blocks+exports collaborator), the Env interface a host
// environment implements (template loading, filter/test lookup — both
// out of scope here and so left as narrow seams), and the fixed set of
// runtime functions named in the ABI contract (handleError,
// handlePromise, suppressValue/Async, memberLookup/Async, callWrap,
// resolveAll, iterate, flattenBuffer, makeMacro, and the rest).
//
// Every function here is a thin, named wrapper gluing value/scope/buffer
// together the way the emitted closures expect; the heavy lifting
// (Future resolution, frame snapshotting, output assembly) lives in
// those packages. This mirrors the teacher's layering: eventloop's
// promise.go/state.go do the state-machine work, while its loop.go
// exposes the small stable surface callers actually use.
package runtime
