package runtime

import (
	"context"
	"fmt"

	"github.com/joeycumines/cascada/scope"
	"github.com/joeycumines/cascada/value"
)

// ContextOrFrameLookup resolves a bare symbol: frame first (it shadows
// context, since loop vars/set locals live there), falling back to the
// top-level Context.
func (rt *Runtime) ContextOrFrameLookup(frame *scope.Frame, rc *Context, name string) value.Value {
	if v, ok := frame.Lookup(name); ok {
		return v
	}
	if v, ok := rc.Lookup(name); ok {
		return v
	}
	return nil
}

// AsyncContextLookup is ContextOrFrameLookup routed through the current
// AsyncFrame instead of the live Frame chain: af.LookupFrom resolves
// against the snapshot anchored at this block's creation time (falling
// back to a cross-block promise await when the name is a tracked
// dependency), which is spec §4.3's "key invariant that makes async
// reads see the value the serial execution would have seen". cur is
// the live Frame the read actually occurs in, which may be nested
// below af.Frame by plain (non-async) pushes — a for-loop iteration's
// loop-var frame, say — so locally declared names are still visible
// without reintroducing a live walk past the snapshot boundary. Every
// symbol read that occurs inside a wrapInAsyncBlock'd subtree must go
// through this, not just sequence-lock-declared paths — a plain
// Frame.Lookup from inside a spawned goroutine would race concurrent
// writes on the live timeline instead of seeing the anchored one.
func (rt *Runtime) AsyncContextLookup(ctx context.Context, af *scope.AsyncFrame, cur *scope.Frame, rc *Context, name string) (value.Value, error) {
	v, err := af.LookupFrom(ctx, cur, name)
	if err != nil {
		return nil, err
	}
	if v == nil {
		if cv, ok := rc.Lookup(name); ok {
			return cv, nil
		}
	}
	return v, nil
}

// MemberLookup performs synchronous property/index access.
func (rt *Runtime) MemberLookup(target value.Value, prop value.Value) (value.Value, error) {
	switch t := target.(type) {
	case nil:
		return nil, nil
	case map[string]value.Value:
		key, ok := prop.(string)
		if !ok {
			return nil, fmt.Errorf("member lookup: non-string key on object")
		}
		return t[key], nil
	case []value.Value:
		idx, ok := toIndex(prop)
		if !ok || idx < 0 || idx >= len(t) {
			return nil, nil
		}
		return t[idx], nil
	case string:
		idx, ok := toIndex(prop)
		if !ok || idx < 0 || idx >= len(t) {
			return nil, nil
		}
		return string(t[idx]), nil
	default:
		return nil, nil
	}
}

func toIndex(v value.Value) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// MemberLookupAsync resolves target (and prop, if itself pending)
// before delegating to MemberLookup; this is the "sync or
// memberLookupAsync" branch spec §4.5 describes for LookupVal.
func (rt *Runtime) MemberLookupAsync(ctx context.Context, target, prop value.Value) (value.Value, error) {
	target, prop, err := value.ResolveDuo(ctx, target, prop)
	if err != nil {
		return nil, err
	}
	return rt.MemberLookup(target, prop)
}

// SequencedMemberLookupAsync is MemberLookupAsync for a target/prop
// chain whose static path is a declared lock key: it resolves through
// the AsyncFrame's snapshot-aware Lookup for the root symbol, then
// walks the remaining static segments with plain MemberLookup.
func (rt *Runtime) SequencedMemberLookupAsync(ctx context.Context, af *scope.AsyncFrame, rootName string, segs []string) (value.Value, error) {
	cur, err := af.Lookup(ctx, rootName)
	if err != nil {
		return nil, err
	}
	cur, err = value.Resolve(ctx, cur)
	if err != nil {
		return nil, err
	}
	for _, seg := range segs {
		cur, err = rt.MemberLookup(cur, seg)
		if err != nil {
			return nil, err
		}
		cur, err = value.Resolve(ctx, cur)
		if err != nil {
			return nil, err
		}
	}
	return cur, nil
}
