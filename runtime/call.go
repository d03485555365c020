package runtime

import (
	"context"
	"fmt"

	"github.com/joeycumines/cascada/scope"
	"github.com/joeycumines/cascada/value"
)

// Callable is any Go function a template can invoke: a bound method,
// an extension function, or a macro (makeMacro's return value also
// satisfies this).
type Callable func(ctx context.Context, args []value.Value, kwargs map[string]value.Value) (value.Value, error)

// MakeKeywordArgs packages kwargs into the trailing map argument form
// templates and extension functions share.
func (rt *Runtime) MakeKeywordArgs(pairs map[string]value.Value) map[string]value.Value {
	if pairs == nil {
		return map[string]value.Value{}
	}
	return pairs
}

// ResolveArguments resolves every positional and keyword argument in
// parallel (the filter/test/call argument-gather suspension point,
// spec §5 point 3).
func (rt *Runtime) ResolveArguments(ctx context.Context, args []value.Value, kwargs map[string]value.Value) ([]value.Value, map[string]value.Value, error) {
	resolvedArgs, err := value.ResolveAll(ctx, args)
	if err != nil {
		return nil, nil, err
	}
	resolvedKwargs, err := value.ResolveObjectProperties(ctx, kwargs)
	if err != nil {
		return nil, nil, err
	}
	return resolvedArgs, resolvedKwargs, nil
}

// Promisify wraps a plain value as an already-resolved Future, so
// uniform call sites can treat every callable's result as awaitable.
func (rt *Runtime) Promisify(v value.Value) *value.Future {
	return value.Resolved(v)
}

// CallWrap resolves the arguments (in parallel) then invokes callee,
// which must already be a resolved Callable; any other value is an
// error.
func (rt *Runtime) CallWrap(ctx context.Context, callee value.Value, args []value.Value, kwargs map[string]value.Value) (value.Value, error) {
	fn, ok := callee.(Callable)
	if !ok {
		return nil, fmt.Errorf("attempted to call a non-function value")
	}
	args, kwargs, err := rt.ResolveArguments(ctx, args, kwargs)
	if err != nil {
		return nil, err
	}
	return fn(ctx, args, kwargs)
}

// SequencedCallWrap implements §4.5's sequencedCallWrap: it acquires
// key's lock, executes the call, and releases the lock (publishing the
// next holder) once the call completes, whatever the outcome.
func (rt *Runtime) SequencedCallWrap(ctx context.Context, key string, callee value.Value, args []value.Value, kwargs map[string]value.Value) (value.Value, error) {
	release := rt.Locks.Acquire(key)
	defer release()
	return rt.CallWrap(ctx, callee, args, kwargs)
}

// SequencedCallWrapTicket is SequencedCallWrap's sibling for a call
// that was itself wrapInAsyncBlock'd: ticket was already Enqueue'd on
// the synchronous compiling goroutine, in program order, before this
// call's body was spawned onto its own goroutine, so Wait here is the
// actual "await the previous holder" suspension point (spec §5 point
// 4) rather than racing another spawned call for a bare mutex.
func (rt *Runtime) SequencedCallWrapTicket(ctx context.Context, ticket *scope.Ticket, callee value.Value, args []value.Value, kwargs map[string]value.Value) (value.Value, error) {
	ticket.Wait()
	defer ticket.Release()
	return rt.CallWrap(ctx, callee, args, kwargs)
}
