package runtime

import "github.com/joeycumines/cascada/value"

// CompiledTemplate is what Env.LoadTemplate returns: a handle the
// runtime can invoke without this package importing the compiler
// package (which imports runtime, not the other way round).
type CompiledTemplate interface {
	// Root runs the template's root function against rc, invoking cb
	// exactly once with the final flattened output (spec §4.6) or the
	// first error encountered. A template that `{% extends %}` another
	// registers its own blocks into rc, then delegates to the parent's
	// Root against the same rc, so Context.Block's override chain (spec
	// §4.5 "Block/Super") spans both templates.
	Root(rc *Context, rt *Runtime, cb func(output string, err error))
}

// FilterFunc and TestFunc are the shapes the (out-of-scope) filter/test
// library registers under Env; the compiler's Filter/Test emission
// calls through Env, never hand-rolling filter logic itself.
type FilterFunc func(target value.Value, args []value.Value, kwargs map[string]value.Value) (value.Value, error)
type TestFunc func(target value.Value, args []value.Value) (bool, error)

// Env is the host collaborator: template loading (filesystem/loader is
// out of scope; this is just the seam) and the filter/test registry
// (library itself out of scope).
type Env interface {
	LoadTemplate(name string) (CompiledTemplate, error)
	Filter(name string) (FilterFunc, bool)
	Test(name string) (TestFunc, bool)
	// Autoescape reports the default autoescape policy; per-call sites
	// may still override via suppressValue's explicit argument.
	Autoescape() bool
	// ThrowOnUndefined reports whether EnsureDefined is enforced on
	// output (spec §7 UndefinedOutputError).
	ThrowOnUndefined() bool
}
