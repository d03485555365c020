// Package buffer implements the output assembler (component C6): an
// ordered tree of slots, each holding a resolved string, a pending
// *value.Future, a nested *Buffer, or a value.SafeMarker. Indices are
// reserved synchronously at the point an async sub-computation is
// spawned and filled in later; this is the sole mechanism by which
// output order survives arbitrary resolution order.
package buffer
