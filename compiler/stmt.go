package compiler

import (
	"context"
	"fmt"

	"github.com/joeycumines/cascada/ast"
	"github.com/joeycumines/cascada/buffer"
	"github.com/joeycumines/cascada/runtime"
	"github.com/joeycumines/cascada/scope"
	"github.com/joeycumines/cascada/value"
)

// stmtFn is what every statement (and the Output container) compiles
// to: render into buf, mutating frame/context as a side effect.
type stmtFn func(st *execState, buf *buffer.Buffer) error

func emitStmt(n ast.Node, c *compileCtx) stmtFn {
	if n == nil {
		return func(st *execState, buf *buffer.Buffer) error { return nil }
	}
	switch t := n.(type) {
	case *ast.Output:
		return emitOutput(t, c)

	case *ast.TemplateData:
		text := t.Text
		return func(st *execState, buf *buffer.Buffer) error {
			buf.WriteString(text)
			return nil
		}

	case *ast.Set:
		return emitSet(t, c)

	case *ast.If:
		return emitIf(t, c)

	case *ast.Switch:
		return emitSwitch(t, c)

	case *ast.For:
		return emitFor(t, c)

	case *ast.Block:
		return emitBlock(t, c)

	case *ast.Super:
		return emitSuper(t, c)

	case *ast.Extends:
		// Extends is handled specially at Compile time (see compiler.go);
		// reaching it here at statement-execution time is a no-op.
		return func(st *execState, buf *buffer.Buffer) error { return nil }

	case *ast.Include:
		return emitInclude(t, c)

	case *ast.Import:
		return emitImport(t, c)

	case *ast.FromImport:
		return emitFromImport(t, c)

	case *ast.Macro:
		return emitMacro(t, c)

	case *ast.Capture:
		return emitCapture(t, c)

	case *ast.Do:
		return emitDo(t, c)

	default:
		// A bare expression reached as a statement (shouldn't normally
		// happen outside Output, but handled for robustness): evaluate
		// and discard, the Do semantics without the explicit await-all.
		exprFn := emitExpr(n, c)
		return func(st *execState, buf *buffer.Buffer) error {
			_, err := exprFn(st)
			return err
		}
	}
}

func emitOutput(t *ast.Output, c *compileCtx) stmtFn {
	children := make([]stmtFn, len(t.Children_))
	for i, ch := range t.Children_ {
		children[i] = emitOutputChild(ch, c)
	}
	return func(st *execState, buf *buffer.Buffer) error {
		for _, fn := range children {
			if err := fn(st, buf); err != nil {
				return err
			}
		}
		return nil
	}
}

// emitOutputChild compiles one child of an Output node: raw text goes
// straight in, statement-shaped children run for their side effect,
// and everything else is a value-producing expression subject to
// ensureDefined/suppressValue at the output boundary (spec §4.5
// "Output", §5 suspension point 1). Futures are resolved here (a
// blocking wait on this goroutine, not the whole render) rather than
// deferred via the buffer's own Future slot, which still guarantees
// left-to-right order because the slot index is reserved synchronously
// before evaluation begins.
func emitOutputChild(n ast.Node, c *compileCtx) stmtFn {
	switch n.Kind() {
	case ast.KindTemplateData, ast.KindSet, ast.KindIf, ast.KindSwitch, ast.KindFor,
		ast.KindBlock, ast.KindSuper, ast.KindExtends, ast.KindInclude, ast.KindImport,
		ast.KindFromImport, ast.KindMacro, ast.KindCapture, ast.KindDo:
		return emitStmt(n, c)
	default:
		exprFn := emitExpr(n, c)
		pos := n.Pos()
		return func(st *execState, buf *buffer.Buffer) error {
			idx := buf.Reserve()
			v, err := exprFn(st)
			if err != nil {
				return err
			}
			v, err = value.Resolve(st.ctx, v)
			if err != nil {
				return err
			}
			if st.env.ThrowOnUndefined() {
				v, err = st.rt.EnsureDefined(v, pos.Line, pos.Col)
				if err != nil {
					return err
				}
			}
			buf.FillString(idx, st.rt.SuppressValue(v, st.env.Autoescape()))
			return nil
		}
	}
}

func emitSet(t *ast.Set, c *compileCtx) stmtFn {
	targets := t.Targets
	if t.Value != nil {
		rhsFn := emitExpr(t.Value, c)
		return func(st *execState, buf *buffer.Buffer) error {
			v, err := rhsFn(st)
			if err != nil {
				return err
			}
			for _, tgt := range targets {
				if err := assignTarget(st, tgt, v); err != nil {
					return err
				}
			}
			return nil
		}
	}
	blockFn := emitStmt(t.Block, c)
	return func(st *execState, buf *buffer.Buffer) error {
		inner := buffer.New()
		if err := blockFn(st, inner); err != nil {
			return err
		}
		flat, err := st.rt.FlattenBuffer(st.ctx, inner)
		if err != nil {
			return err
		}
		v := value.Value(value.NewSafeString(flat))
		for _, tgt := range targets {
			if err := assignTarget(st, tgt, v); err != nil {
				return err
			}
		}
		return nil
	}
}

func assignTarget(st *execState, tgt ast.Node, v value.Value) error {
	switch n := tgt.(type) {
	case *ast.Symbol:
		if st.async != nil {
			st.async.Set(n.Name, v)
		} else {
			st.frame.Set(n.Name, v, true)
		}
		if st.frame.TopLevel() {
			st.rc.SetTopLevel(n.Name, v)
		}
		return nil
	case *ast.LookupVal:
		root, segs, ok := ast.StaticPath(n)
		if !ok {
			return fmt.Errorf("set: assignment target must be a static path")
		}
		dotted := root
		for _, s := range segs {
			dotted += "." + s
		}
		st.frame.Set(dotted, v, true)
		return nil
	default:
		return fmt.Errorf("set: unsupported assignment target %s", tgt.Kind())
	}
}

func emitIf(t *ast.If, c *compileCtx) stmtFn {
	condFn := emitExpr(t.Cond, c)
	thenFn := emitStmt(t.Then, c)
	var elseFn stmtFn
	if t.Else != nil {
		elseFn = emitStmt(t.Else, c)
	}
	return func(st *execState, buf *buffer.Buffer) error {
		cv, err := condFn(st)
		if err != nil {
			return err
		}
		cv, err = value.Resolve(st.ctx, cv)
		if err != nil {
			return err
		}
		if truthy(cv) {
			return thenFn(st, buf)
		}
		if elseFn != nil {
			return elseFn(st, buf)
		}
		return nil
	}
}

type compiledCase struct {
	matchFn   exprFn
	bodyFn    stmtFn
	isDefault bool
}

func emitSwitch(t *ast.Switch, c *compileCtx) stmtFn {
	discFn := emitExpr(t.Discriminant, c)
	cases := make([]compiledCase, len(t.Cases))
	for i, cs := range t.Cases {
		cc := compiledCase{bodyFn: emitStmt(cs.Body, c)}
		if cs.Match != nil {
			cc.matchFn = emitExpr(cs.Match, c)
		} else {
			cc.isDefault = true
		}
		cases[i] = cc
	}
	return func(st *execState, buf *buffer.Buffer) error {
		dv, err := discFn(st)
		if err != nil {
			return err
		}
		dv, err = value.Resolve(st.ctx, dv)
		if err != nil {
			return err
		}
		for _, cc := range cases {
			if cc.isDefault {
				continue
			}
			mv, err := cc.matchFn(st)
			if err != nil {
				return err
			}
			mv, err = value.Resolve(st.ctx, mv)
			if err != nil {
				return err
			}
			if looseEqual(dv, mv) {
				return cc.bodyFn(st, buf)
			}
		}
		for _, cc := range cases {
			if cc.isDefault {
				return cc.bodyFn(st, buf)
			}
		}
		return nil
	}
}

func loopVarsToValue(lv runtime.LoopVars) value.Value {
	return map[string]value.Value{
		"index":     lv.Index,
		"index0":    lv.Index0,
		"revindex":  lv.RevIndex,
		"revindex0": lv.RevIndex0,
		"first":     lv.First,
		"last":      lv.Last,
		"length":    lv.Length,
	}
}

func emitFor(t *ast.For, c *compileCtx) stmtFn {
	iterFn := emitExpr(t.Iterable, c)
	bodyFn := emitStmt(t.Body, c)
	var elseFn stmtFn
	if t.Else != nil {
		elseFn = emitStmt(t.Else, c)
	}
	keyVar, valVar := t.KeyVar, t.ValVar
	mode := t.Mode
	pos := t.Pos()

	runIter := func(st *execState, i, length int, p runtime.IterPair, out *buffer.Buffer) error {
		lv := st.rt.SetLoopBindings(i, length)
		childFrame := st.frame.Push(false, true)
		if keyVar != "" {
			if p.Key != nil {
				childFrame.Declare(keyVar, p.Key)
			} else {
				childFrame.Declare(keyVar, lv.Index0)
			}
		}
		childFrame.Declare(valVar, p.Value)
		childFrame.Declare("loop", loopVarsToValue(lv))
		// withChildFrame keeps st.async: runIter is shared by the
		// ForAsyncEach/ForAsyncAll branches below, which already set
		// st.async to this iteration's Snapshot before calling here —
		// clearing it would silently strand the
		// loop body on the live (non-anchored) Frame chain.
		childSt := st.withChildFrame(childFrame)
		return bodyFn(childSt, out)
	}

	return func(st *execState, buf *buffer.Buffer) error {
		iv, err := iterFn(st)
		if err != nil {
			return err
		}
		pairs, err := st.rt.Iterate(st.ctx, iv)
		if err != nil {
			return err
		}
		if len(pairs) == 0 {
			if elseFn != nil {
				return elseFn(st, buf)
			}
			return nil
		}
		if mode == ast.ForSequential {
			for i, p := range pairs {
				if err := runIter(st, i, len(pairs), p, buf); err != nil {
					return err
				}
			}
			return nil
		}

		slots := make([]int, len(pairs))
		for i := range pairs {
			slots[i] = buf.Reserve()
		}
		for i, p := range pairs {
			i, p := i, p
			blockID := c.blocks.next()
			af := scope.Snapshot(st.frame, st.rt.Sched, blockID, nil, nil)
			inner := st.withAsync(af)
			spawnAsyncStmt(inner, t, func(st2 *execState) error {
				defer scope.Dispose(af)
				nested := buffer.New()
				if err := runIter(st2, i, len(pairs), p, nested); err != nil {
					return err
				}
				buf.FillBuffer(slots[i], nested)
				return nil
			})
		}
		if mode == ast.ForAsyncAll {
			st.rt.Sched.WaitAllClosures(0)
		}
		_ = pos
		return nil
	}
}

// runBlockFunc synchronously drains a runtime.BlockFunc (which may
// internally spawn async work) and writes its rendered text into buf.
func runBlockFunc(st *execState, buf *buffer.Buffer, fn runtime.BlockFunc) error {
	done := make(chan struct{})
	var out string
	var outErr error
	fn(func(output string, err error) {
		out, outErr = output, err
		close(done)
	})
	<-done
	if outErr != nil {
		return outErr
	}
	buf.WriteString(out)
	return nil
}

// emitBlock compiles `{% block name %}...{% endblock %}`: it registers
// its own body under name (so a base template's block can be
// discovered by super()) and renders whichever entry is most-derived
// (index 0: a child template pre-registers its override before
// delegating to the parent, see Program.Root and registerBlock in
// compiler.go).
func emitBlock(t *ast.Block, c *compileCtx) stmtFn {
	name := t.Name
	ownBodyFn := emitStmt(t.Body, c)
	return func(st *execState, buf *buffer.Buffer) error {
		ownFunc := runtime.BlockFunc(func(cb func(string, error)) {
			inner := buffer.New()
			if err := ownBodyFn(st, inner); err != nil {
				cb("", err)
				return
			}
			flat, ferr := st.rt.FlattenBuffer(st.ctx, inner)
			cb(flat, ferr)
		})
		st.rc.RegisterBlock(name, ownFunc)
		chain, _ := st.rc.Block(name)
		return runBlockFunc(st, buf, chain[0])
	}
}

// emitSuper compiles `super()`: it renders the last entry in the named
// block's registration chain (the earliest registration: with one level
// of extends, the parent's own body). This
// supports one level of override correctly; a 3+-level extends chain
// with repeated super() calls would need a per-call cursor this minimal
// model doesn't track.
func emitSuper(t *ast.Super, c *compileCtx) stmtFn {
	name := t.BlockName
	return func(st *execState, buf *buffer.Buffer) error {
		chain, ok := st.rc.Block(name)
		if !ok || len(chain) < 2 {
			return fmt.Errorf("super(): no parent block named %q", name)
		}
		return runBlockFunc(st, buf, chain[len(chain)-1])
	}
}

func emitInclude(t *ast.Include, c *compileCtx) stmtFn {
	tmplFn := emitExpr(t.Template, c)
	ignoreMissing := t.IgnoreMissing
	return func(st *execState, buf *buffer.Buffer) error {
		name, err := resolveTemplateName(st, tmplFn)
		if err != nil {
			return err
		}
		tmpl, err := st.env.LoadTemplate(name)
		if err != nil {
			if ignoreMissing {
				return nil
			}
			return err
		}
		innerCtx := runtime.NewContext(st.rc.GetVariables())
		out, err := runTemplateSync(tmpl, innerCtx, st.rt)
		if err != nil {
			return err
		}
		buf.WriteString(out)
		return nil
	}
}

func emitImport(t *ast.Import, c *compileCtx) stmtFn {
	tmplFn := emitExpr(t.Template, c)
	alias := t.Alias
	return func(st *execState, buf *buffer.Buffer) error {
		name, err := resolveTemplateName(st, tmplFn)
		if err != nil {
			return err
		}
		tmpl, err := st.env.LoadTemplate(name)
		if err != nil {
			return err
		}
		innerCtx := runtime.NewContext(nil)
		if _, err := runTemplateSync(tmpl, innerCtx, st.rt); err != nil {
			return err
		}
		exported := innerCtx.Exported()
		asMap := make(map[string]value.Value, len(exported))
		for k, v := range exported {
			asMap[k] = v
		}
		return assignTarget(st, &ast.Symbol{Name: alias}, asMap)
	}
}

func emitFromImport(t *ast.FromImport, c *compileCtx) stmtFn {
	tmplFn := emitExpr(t.Template, c)
	names := t.Names
	aliases := t.Aliases
	withContext := t.WithContext
	return func(st *execState, buf *buffer.Buffer) error {
		name, err := resolveTemplateName(st, tmplFn)
		if err != nil {
			return err
		}
		tmpl, err := st.env.LoadTemplate(name)
		if err != nil {
			return err
		}
		var innerCtx *runtime.Context
		if withContext {
			innerCtx = runtime.NewContext(st.rc.GetVariables())
		} else {
			innerCtx = runtime.NewContext(nil)
		}
		if _, err := runTemplateSync(tmpl, innerCtx, st.rt); err != nil {
			return err
		}
		exported := innerCtx.Exported()
		for _, n := range names {
			bindName := n
			if a, ok := aliases[n]; ok {
				bindName = a
			}
			if err := assignTarget(st, &ast.Symbol{Name: bindName}, exported[n]); err != nil {
				return err
			}
		}
		return nil
	}
}

func resolveTemplateName(st *execState, tmplFn exprFn) (string, error) {
	tv, err := tmplFn(st)
	if err != nil {
		return "", err
	}
	tv, err = value.Resolve(st.ctx, tv)
	if err != nil {
		return "", err
	}
	name, ok := tv.(string)
	if !ok {
		return "", fmt.Errorf("template name must be a string")
	}
	return name, nil
}

func runTemplateSync(tmpl runtime.CompiledTemplate, rc *runtime.Context, rt *runtime.Runtime) (string, error) {
	done := make(chan struct{})
	var out string
	var outErr error
	tmpl.Root(rc, rt, func(output string, err error) {
		out, outErr = output, err
		close(done)
	})
	<-done
	return out, outErr
}

func emitMacro(t *ast.Macro, c *compileCtx) stmtFn {
	name := t.Name
	params := t.Params
	kwargNames := make([]string, 0, len(t.Kwargs))
	kwargDefaults := make(map[string]exprFn, len(t.Kwargs))
	for k, v := range t.Kwargs {
		kwargNames = append(kwargNames, k)
		kwargDefaults[k] = emitExpr(v, c)
	}
	bodyFn := emitStmt(t.Body, c)
	hasCall := t.HasCall

	return func(st *execState, buf *buffer.Buffer) error {
		defSt := st
		macroFn := runtime.MacroFunc(func(ctx context.Context, args []value.Value, kwargs map[string]value.Value, caller runtime.Callable) (value.Value, error) {
			childFrame := defSt.frame.Push(false, true)
			for i, p := range params {
				if i < len(args) {
					childFrame.Declare(p, args[i])
				} else {
					childFrame.Declare(p, nil)
				}
			}
			for k, defFn := range kwargDefaults {
				if v, ok := kwargs[k]; ok {
					childFrame.Declare(k, v)
					continue
				}
				dv, err := defFn(defSt)
				if err != nil {
					return nil, err
				}
				childFrame.Declare(k, dv)
			}
			if hasCall {
				childFrame.Declare("caller", caller)
			}
			innerBuf := buffer.New()
			// withChildFrame: see emitCaller's identical reasoning — a
			// macro defined inside an async-wrapped lexical position
			// should keep its definition-site anchoring when its body
			// runs, not silently fall back to a live Frame walk.
			childSt := defSt.withChildFrame(childFrame)
			childSt.ctx = ctx
			// A recursive activation reuses defSt.rt.Sched's closure
			// counter (so WaitAllClosures barriers still see every
			// in-flight activation) but, when reentrant isolation is
			// enabled, gets its own promiseDataById map: Reenter is a
			// no-op unless the template's Runtime was built with
			// WithReentrantIsolation, in which case every activation of
			// this macro body spawns its async blocks against an
			// isolated Scheduler.
			if reentered := defSt.rt.Sched.Reenter(); reentered != defSt.rt.Sched {
				rtCopy := *defSt.rt
				rtCopy.Sched = reentered
				childSt.rt = &rtCopy
			}
			if err := bodyFn(childSt, innerBuf); err != nil {
				return nil, err
			}
			return childSt.rt.FinishMacroBuffer(ctx, innerBuf)
		})
		callable := defSt.rt.MakeMacro(params, kwargNames, macroFn)
		return assignTarget(st, &ast.Symbol{Name: name}, callable)
	}
}

func emitCapture(t *ast.Capture, c *compileCtx) stmtFn {
	target := t.Target
	bodyFn := emitStmt(t.Body, c)
	return func(st *execState, buf *buffer.Buffer) error {
		inner := buffer.New()
		if err := bodyFn(st, inner); err != nil {
			return err
		}
		st.rt.Sched.WaitAllClosures(0)
		v, err := st.rt.FlattenBuffer(st.ctx, inner)
		if err != nil {
			return err
		}
		return assignTarget(st, &ast.Symbol{Name: target}, v)
	}
}

func emitDo(t *ast.Do, c *compileCtx) stmtFn {
	exprFns := emitExprs(t.Exprs, c)
	return func(st *execState, buf *buffer.Buffer) error {
		for _, fn := range exprFns {
			v, err := fn(st)
			if err != nil {
				return err
			}
			if _, err := value.Resolve(st.ctx, v); err != nil {
				return err
			}
		}
		return nil
	}
}
