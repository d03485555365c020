package compiler

import (
	"context"

	"github.com/joeycumines/cascada/ast"
	"github.com/joeycumines/cascada/buffer"
	"github.com/joeycumines/cascada/runtime"
	"github.com/joeycumines/cascada/value"
)

// emitFunCall compiles a call expression per spec §4.5 "FunCall":
// resolve callee and arguments in parallel, then either invoke plainly
// or, if pass 2/3 declared a sequence lock on this call, route through
// sequencedCallWrap. A `{% call %}...{% endcall %}` block's body is
// represented as an *ast.Caller among the call's Args; it is compiled
// separately and smuggled to the callee through the reserved
// runtime.CallerKwargKey so `caller()` inside the invoked macro
// resolves it (see runtime.MakeMacro).
func emitFunCall(t *ast.FunCall, c *compileCtx) exprFn {
	calleeFn := emitExpr(t.Callee, c)

	var callerFn exprFn
	argNodes := make([]ast.Node, 0, len(t.Args))
	for _, a := range t.Args {
		if caller, ok := a.(*ast.Caller); ok {
			callerFn = emitExpr(caller, c)
			continue
		}
		argNodes = append(argNodes, a)
	}
	argFns := emitExprs(argNodes, c)

	kwFns := make(map[string]exprFn, len(t.Kwargs))
	for _, kw := range t.Kwargs {
		kwFns[kw.Name] = emitExpr(kw.Value, c)
	}

	seqKey := t.SeqKey
	isLock := t.SeqOp == ast.SeqLock

	return func(st *execState) (value.Value, error) {
		calleeV, err := calleeFn(st)
		if err != nil {
			return nil, err
		}
		calleeV, err = value.Resolve(st.ctx, calleeV)
		if err != nil {
			return nil, err
		}

		args, err := evalAll(st, argFns)
		if err != nil {
			return nil, err
		}
		kwargs := make(map[string]value.Value, len(kwFns))
		for name, fn := range kwFns {
			v, err := fn(st)
			if err != nil {
				return nil, err
			}
			kwargs[name] = v
		}

		args, kwargs, err = st.rt.ResolveArguments(st.ctx, args, kwargs)
		if err != nil {
			return nil, err
		}

		if callerFn != nil {
			cv, err := callerFn(st)
			if err != nil {
				return nil, err
			}
			kwargs[runtime.CallerKwargKey] = cv
		}

		if isLock {
			if st.lockTicket != nil {
				return st.rt.SequencedCallWrapTicket(st.ctx, st.lockTicket, calleeV, args, kwargs)
			}
			return st.rt.SequencedCallWrap(st.ctx, seqKey, calleeV, args, kwargs)
		}
		return st.rt.CallWrap(st.ctx, calleeV, args, kwargs)
	}
}

// emitCaller compiles a `{% call(params) macro() %}...{% endcall %}`
// block's body into the Callable bound under runtime.CallerKwargKey:
// invoking it pushes a fresh child scope binding Params to the
// invocation's positional args, runs Body into a private buffer, and
// returns the flattened, safe-marked result (the same shape a macro
// body itself returns).
func emitCaller(t *ast.Caller, c *compileCtx) exprFn {
	bodyFn := emitStmt(t.Body, c)
	params := t.Params
	return func(st *execState) (value.Value, error) {
		outerSt := st
		callable := runtime.Callable(func(ctx context.Context, args []value.Value, kwargs map[string]value.Value) (value.Value, error) {
			childFrame := outerSt.frame.Push(false, true)
			for i, p := range params {
				if i < len(args) {
					childFrame.Declare(p, args[i])
				}
			}
			buf := buffer.New()
			// withChildFrame keeps outerSt.async: if the call-site itself sits
			// inside a wrapInAsyncBlock'd subtree, outerSt.async is the
			// anchored snapshot for the call-site's own environment, and
			// caller()'s body should keep reading through it rather than
			// reverting to a live, unanchored Frame chain.
			childSt := outerSt.withChildFrame(childFrame)
			childSt.ctx = ctx
			if err := bodyFn(childSt, buf); err != nil {
				return nil, err
			}
			return outerSt.rt.FinishMacroBuffer(ctx, buf)
		})
		return callable, nil
	}
}
