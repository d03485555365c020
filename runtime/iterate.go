package runtime

import (
	"context"
	"fmt"

	"github.com/joeycumines/cascada/value"
)

// LoopVars mirrors the standard `loop.*` bindings every `for` body sees.
type LoopVars struct {
	Index    int
	Index0   int
	RevIndex int
	RevIndex0 int
	First    bool
	Last     bool
	Length   int
}

// IterPair is one array-or-object entry `fromIterator` yields: Key is
// nil for array iteration, the string key for object iteration.
type IterPair struct {
	Key   value.Value
	Value value.Value
}

// FromIterator normalizes an array or object Value into an ordered
// slice of key/value pairs, the detection step spec §4.5 "For"
// describes. Keys are sorted (via Keys) for objects, to keep object
// iteration order deterministic across renders.
func (rt *Runtime) FromIterator(v value.Value) ([]IterPair, error) {
	switch t := v.(type) {
	case []value.Value:
		out := make([]IterPair, len(t))
		for i, item := range t {
			out[i] = IterPair{Key: nil, Value: item}
		}
		return out, nil
	case map[string]value.Value:
		keys := rt.Keys(t)
		out := make([]IterPair, len(keys))
		for i, k := range keys {
			out[i] = IterPair{Key: k, Value: t[k]}
		}
		return out, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("for: value is not iterable")
	}
}

// SetLoopBindings computes the standard loop.* bindings for position i
// (0-based) of a sequence of the given length.
func (rt *Runtime) SetLoopBindings(i, length int) LoopVars {
	return LoopVars{
		Index:     i + 1,
		Index0:    i,
		RevIndex:  length - i,
		RevIndex0: length - i - 1,
		First:     i == 0,
		Last:      i == length-1,
		Length:    length,
	}
}

// Iterate resolves an iterable expression (which may itself be a
// pending Future) and returns its pairs, the suspension point spec §5
// item 2 names ("loop iterable ... explicit await").
func (rt *Runtime) Iterate(ctx context.Context, iterable value.Value) ([]IterPair, error) {
	resolved, err := value.Resolve(ctx, iterable)
	if err != nil {
		return nil, err
	}
	return rt.FromIterator(resolved)
}

