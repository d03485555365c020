package scope

import (
	"sort"
	"strings"

	"golang.org/x/exp/maps"
)

// Frame is a lexical scope. Non-scope frames (createScope=false) carry no
// variables of their own and exist purely to host async metadata for a
// single expression or output statement; lookups and resolveUp writes
// pass straight through them to the nearest ancestor that does declare
// variables.
type Frame struct {
	parent        *Frame
	vars          map[string]any
	isolateWrites bool
	createScope   bool
	topLevel      bool
	timeline      *timelineRecord
}

// NewRoot returns the top-level Frame for a render: it declares
// variables and never isolates writes (there is nothing above it to
// isolate from).
func NewRoot() *Frame {
	return &Frame{vars: map[string]any{}, createScope: true, topLevel: true}
}

// Push returns a child Frame. isolateWrites, when true, stops
// resolveUp-style writes (see Set) from escaping past this frame even if
// the name isn't found locally; createScope, when true, gives the child
// its own variable map so it can declare names (e.g. loop vars, macro
// params) without polluting the parent.
func (f *Frame) Push(isolateWrites, createScope bool) *Frame {
	child := &Frame{parent: f, isolateWrites: isolateWrites, createScope: createScope}
	if createScope {
		child.vars = map[string]any{}
	}
	return child
}

// Declare binds name in this frame's own variable map. If this frame
// does not createScope, the declaration is pushed to the first ancestor
// that does (mirroring how non-scope frames are transparent to variable
// ownership).
func (f *Frame) Declare(name string, value any) {
	f.owner().vars[name] = value
}

// owner returns the nearest frame (starting at f) that owns a variable
// map, creating one lazily for the root if somehow absent.
func (f *Frame) owner() *Frame {
	root := f
	for cur := f; cur != nil; cur = cur.parent {
		if cur.createScope {
			return cur
		}
		root = cur
	}
	if root.vars == nil {
		root.vars = map[string]any{}
	}
	return root
}

// Lookup walks the parent chain until name is bound, returning (value,
// true); otherwise (nil, false).
func (f *Frame) Lookup(name string) (any, bool) {
	for cur := f; cur != nil; cur = cur.parent {
		if cur.vars == nil && cur.timeline == nil {
			continue
		}
		if v, ok := cur.valueAt(cur.timeline, name); ok {
			return v, true
		}
	}
	return nil, false
}

// Resolve looks up a dotted path's root segment only; member access past
// the root is the runtime package's concern (memberLookup), not the
// Frame's.
func (f *Frame) Resolve(path string) (any, bool) {
	root := path
	if i := strings.IndexByte(path, '.'); i >= 0 {
		root = path[:i]
	}
	return f.Lookup(root)
}

// Set assigns name=value. When resolveUp is true, the root segment is
// first searched for among ancestors, honoring isolateWrites along the
// way (an isolating frame stops the search going further up even if
// unset there); if found, the write is delegated to that frame. If not
// found anywhere, or resolveUp is false, the value is written into the
// nearest owning frame, auto-creating nested records for dotted names.
func (f *Frame) Set(name string, value any, resolveUp bool) {
	if resolveUp {
		if owner := f.findOwnerOf(name); owner != nil {
			owner.setLocal(name, value)
			return
		}
	}
	f.owner().setLocal(name, value)
}

// findOwnerOf walks ancestors looking for a frame that already binds
// name, stopping at (and including) the first isolateWrites frame
// encountered. A binding may live in the frame's plain vars map
// (Declare: loop vars, macro params) or in its timeline (Set: a prior
// `{% set %}`), so both are checked via valueAt rather than just vars —
// otherwise a resolveUp write from a nested frame could never find an
// ancestor variable that was only ever assigned, never declared.
func (f *Frame) findOwnerOf(name string) *Frame {
	for cur := f; cur != nil; cur = cur.parent {
		if _, ok := cur.valueAt(cur.timeline, name); ok {
			return cur
		}
		if cur.isolateWrites {
			return nil
		}
	}
	return nil
}

func (f *Frame) setLocal(path string, value any) {
	segs := strings.Split(path, ".")
	if len(segs) == 1 {
		f.recordWrite(segs[0], value)
		return
	}
	existing, _ := f.valueAt(f.timeline, segs[0])
	root, ok := existing.(map[string]any)
	if !ok {
		root = map[string]any{}
	} else {
		cloned := make(map[string]any, len(root))
		for k, v := range root {
			cloned[k] = v
		}
		root = cloned
	}
	cursor := root
	for _, seg := range segs[1 : len(segs)-1] {
		next, ok := cursor[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cursor[seg] = next
		}
		cursor = next
	}
	cursor[segs[len(segs)-1]] = value
	f.recordWrite(segs[0], root)
}

// TopLevel reports whether f is the render root frame.
func (f *Frame) TopLevel() bool { return f.topLevel }

// DebugVariables returns this frame's own variable names (not its
// ancestors'), sorted, for diagnostic dumps. Uses golang.org/x/exp/maps
// for the key extraction, the same helper the teacher monorepo's
// logiface-logrus backend uses for its own map bookkeeping.
func (f *Frame) DebugVariables() []string {
	if f.vars == nil {
		return nil
	}
	names := maps.Keys(f.vars)
	sort.Strings(names)
	return names
}
