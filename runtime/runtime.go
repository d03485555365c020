package runtime

import (
	"context"
	"reflect"
	"sort"

	"github.com/joeycumines/cascada/buffer"
	"github.com/joeycumines/cascada/logging"
	"github.com/joeycumines/cascada/scope"
	"github.com/joeycumines/cascada/value"
)

// Runtime bundles the collaborators an emitted program's closures need
// at every call site, threaded through as the ABI's `runtime`
// parameter (spec §6). It is intentionally a thin struct of
// already-built pieces (Env, Scheduler, SequenceLocks, Logger) rather
// than a god-object with its own logic; the actual work happens in
// value/scope/buffer, and in the method bodies in this package's other
// files.
type Runtime struct {
	Env    Env
	Sched  *scope.Scheduler
	Locks  *scope.SequenceLocks
	Logger logging.Logger
}

// New returns a Runtime for one render. locks may be nil if the
// template declares no sequence locks.
func New(env Env, sched *scope.Scheduler, locks *scope.SequenceLocks) *Runtime {
	if locks == nil {
		locks = scope.NewSequenceLocks()
	}
	logger := logging.Logger(logging.Discard{})
	if sched != nil {
		logger = sched.Logger()
		if m := sched.Metrics(); m != nil {
			locks.WithMetrics(m)
		}
	}
	return &Runtime{Env: env, Sched: sched, Locks: locks, Logger: logger}
}

// HandleError is the terminal error path: wrap err with position/context
// if it isn't already a *value.ErrorValue, and invoke cb with it.
func (rt *Runtime) HandleError(err error, line, col int, nodeCtx string, cb func(error)) {
	if err == nil {
		cb(nil)
		return
	}
	if _, ok := value.IsError(err); !ok {
		err = value.NewError(err, line, col, nodeCtx)
	}
	cb(err)
}

// HandlePromise wraps a spawned closure's body: it recovers a panic (if
// any) as an InternalError, forwards any returned error through
// HandleError, and unconditionally calls leave() (scope.Scheduler's
// LeaveAsyncBlock) per spec §4.5's "try/finally" emission contract.
func (rt *Runtime) HandlePromise(line, col int, nodeCtx string, leave func(), body func() error, cb func(error)) {
	defer leave()
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				if e, ok := r.(error); ok {
					err = e
				} else {
					err = &panicValue{r}
				}
			}
		}()
		err = body()
	}()
	rt.HandleError(err, line, col, nodeCtx, cb)
}

type panicValue struct{ v any }

func (p *panicValue) Error() string { return "internal error: unexpected panic during render" }

// SuppressValue applies §4.1 suppressValue synchronously.
func (rt *Runtime) SuppressValue(v value.Value, autoescape bool) string {
	return value.SuppressValue(v, autoescape)
}

// SuppressValueAsync resolves v (which may be a Future) before
// suppressing it; this is one of the five suspension points (§5.1).
func (rt *Runtime) SuppressValueAsync(ctx context.Context, v value.Value, autoescape bool) (string, error) {
	resolved, err := value.Resolve(ctx, v)
	if err != nil {
		return "", err
	}
	return value.SuppressValue(resolved, autoescape), nil
}

// EnsureDefined applies §4.1 ensureDefined synchronously.
func (rt *Runtime) EnsureDefined(v value.Value, line, col int) (value.Value, error) {
	return value.EnsureDefined(v, line, col)
}

// EnsureDefinedAsync resolves v before checking definedness.
func (rt *Runtime) EnsureDefinedAsync(ctx context.Context, v value.Value, line, col int) (value.Value, error) {
	resolved, err := value.Resolve(ctx, v)
	if err != nil {
		return nil, err
	}
	return value.EnsureDefined(resolved, line, col)
}

// InOperator implements the `in` operator over strings, slices, and
// maps (arbitrary opaque Scalars are rejected).
func (rt *Runtime) InOperator(needle, haystack value.Value) (bool, error) {
	switch h := haystack.(type) {
	case string:
		s, ok := needle.(string)
		if !ok {
			return false, nil
		}
		return containsSubstring(h, s), nil
	case value.Safe:
		s, ok := needle.(string)
		if !ok {
			return false, nil
		}
		return containsSubstring(string(h), s), nil
	case []value.Value:
		for _, item := range h {
			if equalValues(item, needle) {
				return true, nil
			}
		}
		return false, nil
	case map[string]value.Value:
		key, ok := needle.(string)
		if !ok {
			return false, nil
		}
		_, found := h[key]
		return found, nil
	default:
		return false, nil
	}
}

func containsSubstring(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

func equalValues(a, b value.Value) bool {
	return reflect.DeepEqual(a, b)
}

// IsArray reports whether v is a slice-shaped Value.
func (rt *Runtime) IsArray(v value.Value) bool {
	_, ok := v.([]value.Value)
	return ok
}

// Keys returns a map's keys in a stable (sorted) order, the way
// `{% for k in obj %}` must iterate deterministically.
func (rt *Runtime) Keys(m map[string]value.Value) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// MarkSafe, CopySafeness, SafeString are the value package's
// corresponding functions, surfaced as stable ABI names.
func (rt *Runtime) MarkSafe(v value.Value) value.Value            { return value.MarkSafe(v) }
func (rt *Runtime) CopySafeness(orig value.Value, s string) value.Value {
	return value.CopySafeness(orig, s)
}
func (rt *Runtime) SafeString(s string) value.Safe { return value.NewSafeString(s) }

// NewSafeStringAsync flattens buf into a Safe string (spec §4.5
// "Macro"). It does not wait for pending closures first; slots still
// unfilled when it runs are left out of the result.
func (rt *Runtime) NewSafeStringAsync(ctx context.Context, buf *buffer.Buffer) (value.Safe, error) {
	flat, err := buffer.Flatten(ctx, buf)
	if err != nil {
		return "", err
	}
	return value.NewSafeString(flat), nil
}

// FlattenBuffer is the root finalizer (spec §4.6); called exactly once
// per render root after WaitAllClosures().
func (rt *Runtime) FlattenBuffer(ctx context.Context, buf *buffer.Buffer) (string, error) {
	return buffer.Flatten(ctx, buf)
}
