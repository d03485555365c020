package value

import "context"

// Resolve awaits v if it is a *Future, otherwise returns it unchanged.
// This is the "use site" primitive spec.md §4.1 describes: the emitter
// defers calling this until a value is semantically required (output,
// a condition, a loop header, ...).
func Resolve(ctx context.Context, v Value) (Value, error) {
	f, ok := v.(*Future)
	if !ok {
		return v, nil
	}
	resolved, err := f.Wait(ctx)
	if err != nil {
		return nil, err
	}
	// Defensive flattening: the compiler never nests Futures, but resolving
	// one more level costs nothing and protects against a misbehaving
	// runtime callable that returns a Future of a Future.
	if _, nested := resolved.(*Future); nested {
		return Resolve(ctx, resolved)
	}
	return resolved, nil
}

// ResolveDuo resolves two values concurrently-if-pending, preserving
// positional order in the result. Used for binary operators whose operand
// evaluation order must remain left-to-right even if resolution does not.
func ResolveDuo(ctx context.Context, a, b Value) (Value, Value, error) {
	af, aIsFuture := a.(*Future)
	bf, bIsFuture := b.(*Future)

	switch {
	case !aIsFuture && !bIsFuture:
		return a, b, nil
	case aIsFuture && !bIsFuture:
		av, err := Resolve(ctx, af)
		return av, b, err
	case !aIsFuture && bIsFuture:
		bv, err := Resolve(ctx, bf)
		return a, bv, err
	default:
		type result struct {
			v   Value
			err error
		}
		ch := make(chan result, 1)
		go func() {
			v, err := Resolve(ctx, af)
			ch <- result{v, err}
		}()
		bv, bErr := Resolve(ctx, bf)
		ar := <-ch
		if ar.err != nil {
			return nil, nil, ar.err
		}
		if bErr != nil {
			return nil, nil, bErr
		}
		return ar.v, bv, nil
	}
}

// ResolveAll resolves every element of vs, independently, preserving
// order. The first transport-level error encountered wins; ErrorValue
// poisons are returned in place, as ordinary values.
func ResolveAll(ctx context.Context, vs []Value) ([]Value, error) {
	out := make([]Value, len(vs))
	pending := 0
	for _, v := range vs {
		if _, ok := v.(*Future); ok {
			pending++
		}
	}
	if pending == 0 {
		copy(out, vs)
		return out, nil
	}

	type result struct {
		idx int
		v   Value
		err error
	}
	ch := make(chan result, pending)
	for i, v := range vs {
		f, ok := v.(*Future)
		if !ok {
			out[i] = v
			continue
		}
		i, f := i, f
		go func() {
			rv, err := Resolve(ctx, f)
			ch <- result{i, rv, err}
		}()
	}
	var firstErr error
	for n := 0; n < pending; n++ {
		r := <-ch
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		out[r.idx] = r.v
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// ResolveObjectProperties resolves every value of a string-keyed map
// concurrently, used when an object/dict literal contains pending
// properties (e.g. `{a: f(), b: g()}`).
func ResolveObjectProperties(ctx context.Context, obj map[string]Value) (map[string]Value, error) {
	keys := make([]string, 0, len(obj))
	vals := make([]Value, 0, len(obj))
	for k, v := range obj {
		keys = append(keys, k)
		vals = append(vals, v)
	}
	resolved, err := ResolveAll(ctx, vals)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Value, len(obj))
	for i, k := range keys {
		out[k] = resolved[i]
	}
	return out, nil
}
