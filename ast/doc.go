// Package ast defines the node-kind union the compiler package emits
// against and the three static analysis passes spec §4.4 runs before
// emission: isAsync propagation, sequence-lock declaration, and
// sequence-operation classification (PATH/LOCK/CONTENDED tagging with
// wrapInAsyncBlock placement).
//
// This package does not parse template source; it is handed an
// already-built Template tree (the lexer/parser is out of scope) and
// mutates per-node analysis fields in place, the way a typical
// multi-pass Go compiler's resolver/typechecker annotates an existing
// AST rather than rebuilding it.
package ast
