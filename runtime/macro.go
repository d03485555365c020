package runtime

import (
	"context"

	"github.com/joeycumines/cascada/buffer"
	"github.com/joeycumines/cascada/value"
)

// MacroFunc is the body an emitted `Macro`/`Caller` compiles to: given
// the bound positional/keyword arguments (defaults already applied)
// and an optional caller callback (non-nil only for a `{% call %}`
// invocation), render into a private buffer and return its flattened,
// safe-marked contents.
type MacroFunc func(ctx context.Context, args []value.Value, kwargs map[string]value.Value, caller Callable) (value.Value, error)

// CallerKwargKey is the reserved kwargs key a `{% call %}` invocation
// smuggles its caller-block Callable through, since the generic
// Callable signature (spec §6) has no dedicated caller parameter.
// MakeMacro extracts it before handing kwargs to the macro body, so it
// never leaks into the macro's own **kwargs view.
const CallerKwargKey = "__caller__"

// MakeMacro builds the Callable an emitted Macro/Caller node registers
// under its name: it removes the CallerKwargKey entry from kwargs (if
// present), passes it to fn as caller, and returns fn's result. The
// private buffer and the Safe-marked flattened result are fn's own work
// (the emitted body ends with FinishMacroBuffer).
//
// argNames/kwargNames are recorded for arity/shape diagnostics only;
// binding positional args to argNames and applying kwarg defaults is
// the emitted code's job, since only it knows the default-value
// expressions (which may themselves be async).
func (rt *Runtime) MakeMacro(argNames []string, kwargNames []string, fn MacroFunc) Callable {
	return func(ctx context.Context, args []value.Value, kwargs map[string]value.Value) (value.Value, error) {
		var caller Callable
		if kwargs != nil {
			if c, ok := kwargs[CallerKwargKey].(Callable); ok {
				caller = c
				delete(kwargs, CallerKwargKey)
			}
		}
		return fn(ctx, args, kwargs, caller)
	}
}

// FinishMacroBuffer flattens buf (the macro body's private buffer)
// into a Safe value, the macro-return path for both sync and async
// macro bodies (async bodies call this after awaiting
// waitAllClosures(1), per spec §4.5).
func (rt *Runtime) FinishMacroBuffer(ctx context.Context, buf *buffer.Buffer) (value.Value, error) {
	flat, err := buffer.Flatten(ctx, buf)
	if err != nil {
		return nil, err
	}
	return value.NewSafeString(flat), nil
}
