package compiler

import (
	"fmt"

	"github.com/joeycumines/cascada/ast"
	"github.com/joeycumines/cascada/scope"
	"github.com/joeycumines/cascada/value"
)

// exprFn is what every expression node compiles to: given the current
// execState, produce its value (possibly a *value.Future, left
// unresolved for the caller to await at its own suspension point, per
// spec §5's "await is deferred").
type exprFn func(st *execState) (value.Value, error)

// emitExpr compiles n, wrapping the raw per-kind closure in an
// async-block spawn when pass 3 (ast.ClassifySequenceOps) marked it
// WrapInAsyncBlock (spec §4.4 point 3, §4.5 "emit inside an
// async-value closure").
func emitExpr(n ast.Node, c *compileCtx) exprFn {
	raw := emitExprRaw(n, c)
	if !n.base().WrapInAsyncBlock {
		return raw
	}

	// A sequence-locked FunCall's ticket must be taken synchronously,
	// in program order, on the goroutine that is *about to* spawn its
	// body — not inside the spawned goroutine itself, where two
	// sequenced calls would otherwise race each other to enqueue and
	// could acquire out of submission order (spec §8 "sequence locks
	// serialize").
	var seqKey string
	if fc, ok := n.(*ast.FunCall); ok && fc.SeqOp == ast.SeqLock {
		seqKey = fc.SeqKey
	}

	return func(st *execState) (value.Value, error) {
		blockID := c.blocks.next()
		af := scope.Snapshot(st.frame, st.rt.Sched, blockID, nil, nil)
		inner := st.withAsync(af)
		if seqKey != "" {
			inner = inner.withLockTicket(st.rt.Locks.Enqueue(seqKey))
		}
		fut := spawnAsyncExpr(inner, n, func(st2 *execState) (value.Value, error) {
			defer scope.Dispose(af)
			return raw(st2)
		})
		return fut, nil
	}
}

func emitExprRaw(n ast.Node, c *compileCtx) exprFn {
	switch t := n.(type) {
	case *ast.Literal:
		v := t.Value
		return func(st *execState) (value.Value, error) { return v, nil }

	case *ast.Symbol:
		name := t.Name
		return func(st *execState) (value.Value, error) {
			if st.async != nil {
				return st.rt.AsyncContextLookup(st.ctx, st.async, st.frame, st.rc, name)
			}
			return st.rt.ContextOrFrameLookup(st.frame, st.rc, name), nil
		}

	case *ast.LookupVal:
		targetFn := emitExpr(t.Target, c)
		propFn := emitExpr(t.Prop, c)
		seqPath := t.SeqOp == ast.SeqPath
		root, segs, staticOK := ast.StaticPath(t)
		return func(st *execState) (value.Value, error) {
			if seqPath && staticOK && st.async != nil {
				return st.rt.SequencedMemberLookupAsync(st.ctx, st.async, root, segs)
			}
			tv, err := targetFn(st)
			if err != nil {
				return nil, err
			}
			pv, err := propFn(st)
			if err != nil {
				return nil, err
			}
			return st.rt.MemberLookupAsync(st.ctx, tv, pv)
		}

	case *ast.FunCall:
		return emitFunCall(t, c)

	case *ast.Filter:
		targetFn := emitExpr(t.Target, c)
		argFns := emitExprs(t.Args, c)
		name := t.Name
		return func(st *execState) (value.Value, error) {
			tv, err := targetFn(st)
			if err != nil {
				return nil, err
			}
			args, err := evalAll(st, argFns)
			if err != nil {
				return nil, err
			}
			args, _, err = st.rt.ResolveArguments(st.ctx, append([]value.Value{tv}, args...), nil)
			if err != nil {
				return nil, err
			}
			fn, ok := st.env.Filter(name)
			if !ok {
				return nil, fmt.Errorf("no such filter: %s", name)
			}
			return fn(args[0], args[1:], nil)
		}

	case *ast.Test:
		targetFn := emitExpr(t.Target, c)
		argFns := emitExprs(t.Args, c)
		name := t.Name
		negated := t.Negated
		return func(st *execState) (value.Value, error) {
			tv, err := targetFn(st)
			if err != nil {
				return nil, err
			}
			args, err := evalAll(st, argFns)
			if err != nil {
				return nil, err
			}
			args, _, err = st.rt.ResolveArguments(st.ctx, append([]value.Value{tv}, args...), nil)
			if err != nil {
				return nil, err
			}
			fn, ok := st.env.Test(name)
			if !ok {
				return nil, fmt.Errorf("no such test: %s", name)
			}
			result, err := fn(args[0], args[1:])
			if err != nil {
				return nil, err
			}
			if negated {
				result = !result
			}
			return result, nil
		}

	case *ast.Group:
		return emitExpr(t.Expr, c)

	case *ast.Array:
		itemFns := emitExprs(t.Items, c)
		return func(st *execState) (value.Value, error) {
			items, err := evalAll(st, itemFns)
			if err != nil {
				return nil, err
			}
			return items, nil
		}

	case *ast.Dict:
		pairFns := make(map[string]exprFn, len(t.Pairs))
		for _, p := range t.Pairs {
			pairFns[p.Key] = emitExpr(p.Value, c)
		}
		return func(st *execState) (value.Value, error) {
			out := make(map[string]value.Value, len(pairFns))
			for k, fn := range pairFns {
				v, err := fn(st)
				if err != nil {
					return nil, err
				}
				out[k] = v
			}
			return out, nil
		}

	case *ast.UnaryOp:
		operandFn := emitExpr(t.Operand, c)
		op := t.Op
		return func(st *execState) (value.Value, error) {
			v, err := operandFn(st)
			if err != nil {
				return nil, err
			}
			v, err = value.Resolve(st.ctx, v)
			if err != nil {
				return nil, err
			}
			return applyUnary(op, v)
		}

	case *ast.BinOp:
		leftFn := emitExpr(t.Left, c)
		rightFn := emitExpr(t.Right, c)
		op := t.Op
		return func(st *execState) (value.Value, error) {
			lv, rv, err := evalDuo(st, leftFn, rightFn)
			if err != nil {
				return nil, err
			}
			return applyBinOp(op, lv, rv)
		}

	case *ast.Compare:
		leftFn := emitExpr(t.Left, c)
		rightFn := emitExpr(t.Right, c)
		op := t.Op
		return func(st *execState) (value.Value, error) {
			lv, rv, err := evalDuo(st, leftFn, rightFn)
			if err != nil {
				return nil, err
			}
			return applyCompare(op, lv, rv)
		}

	case *ast.And:
		leftFn := emitExpr(t.Left, c)
		rightFn := emitExpr(t.Right, c)
		return func(st *execState) (value.Value, error) {
			lv, err := leftFn(st)
			if err != nil {
				return nil, err
			}
			lv, err = value.Resolve(st.ctx, lv)
			if err != nil {
				return nil, err
			}
			if !truthy(lv) {
				return lv, nil
			}
			rv, err := rightFn(st)
			if err != nil {
				return nil, err
			}
			return value.Resolve(st.ctx, rv)
		}

	case *ast.Or:
		leftFn := emitExpr(t.Left, c)
		rightFn := emitExpr(t.Right, c)
		return func(st *execState) (value.Value, error) {
			lv, err := leftFn(st)
			if err != nil {
				return nil, err
			}
			lv, err = value.Resolve(st.ctx, lv)
			if err != nil {
				return nil, err
			}
			if truthy(lv) {
				return lv, nil
			}
			rv, err := rightFn(st)
			if err != nil {
				return nil, err
			}
			return value.Resolve(st.ctx, rv)
		}

	case *ast.Not:
		operandFn := emitExpr(t.Operand, c)
		return func(st *execState) (value.Value, error) {
			v, err := operandFn(st)
			if err != nil {
				return nil, err
			}
			v, err = value.Resolve(st.ctx, v)
			if err != nil {
				return nil, err
			}
			return !truthy(v), nil
		}

	case *ast.In:
		leftFn := emitExpr(t.Left, c)
		rightFn := emitExpr(t.Right, c)
		return func(st *execState) (value.Value, error) {
			lv, rv, err := evalDuo(st, leftFn, rightFn)
			if err != nil {
				return nil, err
			}
			return st.rt.InOperator(lv, rv)
		}

	case *ast.CondExpr:
		condFn := emitExpr(t.Cond, c)
		thenFn := emitExpr(t.Then, c)
		elseFn := emitExpr(t.Else, c)
		return func(st *execState) (value.Value, error) {
			cv, err := condFn(st)
			if err != nil {
				return nil, err
			}
			cv, err = value.Resolve(st.ctx, cv)
			if err != nil {
				return nil, err
			}
			if truthy(cv) {
				return thenFn(st)
			}
			return elseFn(st)
		}

	case *ast.Caller:
		return emitCaller(t, c)

	default:
		return func(st *execState) (value.Value, error) {
			return nil, fmt.Errorf("compiler: unsupported expression node %s", n.Kind())
		}
	}
}

func emitExprs(nodes []ast.Node, c *compileCtx) []exprFn {
	fns := make([]exprFn, len(nodes))
	for i, n := range nodes {
		fns[i] = emitExpr(n, c)
	}
	return fns
}

func evalAll(st *execState, fns []exprFn) ([]value.Value, error) {
	out := make([]value.Value, len(fns))
	for i, fn := range fns {
		v, err := fn(st)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func evalDuo(st *execState, leftFn, rightFn exprFn) (value.Value, value.Value, error) {
	lv, err := leftFn(st)
	if err != nil {
		return nil, nil, err
	}
	rv, err := rightFn(st)
	if err != nil {
		return nil, nil, err
	}
	return value.ResolveDuo(st.ctx, lv, rv)
}

func truthy(v value.Value) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case value.Safe:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case []value.Value:
		return len(t) > 0
	case map[string]value.Value:
		return len(t) > 0
	default:
		return true
	}
}
