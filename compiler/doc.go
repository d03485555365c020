// Package compiler turns an analyzed *ast.Template (already run through
// ast.PropagateAsync, ast.DeclareSequenceLocks, ast.ClassifySequenceOps)
// into a *Program: a tree of closures satisfying the ABI spec §6
// describes (`root(env, context, frame, runtime, astate, cb)`), built
// once at Compile time and re-run once per render.
//
// There is no separate "bytecode" step: each AST node compiles directly
// to a Go closure capturing only the subtree it needs, the same
// "compile to closures" approach spec §4.5 assumes throughout ("the
// emitted program", singular, built once and invoked per render).
package compiler
