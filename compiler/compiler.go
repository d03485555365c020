package compiler

import (
	"context"
	"sync"
	"time"

	"github.com/joeycumines/cascada/ast"
	"github.com/joeycumines/cascada/buffer"
	"github.com/joeycumines/cascada/runtime"
	"github.com/joeycumines/cascada/scope"
)

// compileCtx is the shared state every emit* function closes over at
// compile time; currently just the async-block id generator (one
// counter per compiled template, spec §4.3's blockID keying).
type compileCtx struct {
	blocks *blockIDGen
}

// Program is the compiled, runnable form of one template: a root
// render closure plus (when the template `{% extends %}` another) the
// parent's name, resolved through Env.LoadTemplate at render time so
// Compile itself never needs a loader.
type Program struct {
	name       string
	bodyFn     stmtFn
	topBlocks  []*ast.Block
	extendsFn  exprFn
	hasExtends bool
}

var _ runtime.CompiledTemplate = (*Program)(nil)

// Compile compiles tmpl into a Program. Callers must have
// already run ast.PropagateAsync, ast.DeclareSequenceLocks, and
// ast.ClassifySequenceOps against tmpl (or call CompileAnalyzed, which
// does so itself) — Compile assumes the three passes' annotations
// (IsAsync/SeqOp/SeqKey/WrapInAsyncBlock) are already populated.
func Compile(name string, tmpl *ast.Template) (*Program, error) {
	c := &compileCtx{blocks: newBlockIDGen(name)}

	p := &Program{name: name}

	out, ok := tmpl.Body.(*ast.Output)
	if !ok {
		p.bodyFn = emitStmt(tmpl.Body, c)
		return p, nil
	}

	var bodyChildren []ast.Node
	for _, child := range out.Children_ {
		switch cn := child.(type) {
		case *ast.Extends:
			if p.hasExtends {
				return nil, &ast.CompileError{Kind: ast.KindInternalError, Message: "a template may only extend one parent", Context: ast.KindExtends}
			}
			p.hasExtends = true
			p.extendsFn = emitExpr(cn.Template, c)
		case *ast.Block:
			p.topBlocks = append(p.topBlocks, cn)
			bodyChildren = append(bodyChildren, child)
		default:
			bodyChildren = append(bodyChildren, child)
		}
	}

	bodyOut := &ast.Output{Children_: bodyChildren}
	p.bodyFn = emitStmt(bodyOut, c)
	return p, nil
}

// Option configures CompileAnalyzed, grounded on eventloop/options.go's
// functional-options pattern (an applyX interface plus a private
// resolveXOptions helper).
type Option interface {
	applyCompile(*compileOptions)
}

type compileOptions struct {
	asyncDisabled bool
}

type compileOptionFunc func(*compileOptions)

func (f compileOptionFunc) applyCompile(o *compileOptions) { f(o) }

// WithAsyncDisabled maps to spec §4.4's "async optimization disabled"
// fallback: every node is marked async regardless of whether it (or
// any child) is intrinsically async. The emitter does not read IsAsync,
// so the compiled closures are the same either way. Off by default.
func WithAsyncDisabled() Option {
	return compileOptionFunc(func(o *compileOptions) { o.asyncDisabled = true })
}

func resolveCompileOptions(opts []Option) *compileOptions {
	cfg := &compileOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt.applyCompile(cfg)
		}
	}
	return cfg
}

// CompileAnalyzed runs the three analysis passes (spec §4.4) against
// tmpl and then compiles it, the one-call entry point most callers
// want.
func CompileAnalyzed(name string, tmpl *ast.Template, opts ...Option) (*Program, error) {
	cfg := resolveCompileOptions(opts)
	ast.PropagateAsync(tmpl, cfg.asyncDisabled)
	lockFrame, errs := ast.DeclareSequenceLocks(tmpl)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	ast.ClassifySequenceOps(tmpl, lockFrame)
	return Compile(name, tmpl)
}

// Root implements runtime.CompiledTemplate. It builds a fresh root
// Frame and Context-scoped execState, pre-registers top-level blocks
// (so a parent template's same-named block renders this template's
// override, and a super() inside the override reaches the parent's own
// body, spec §4.5 "Block/Super"), and either delegates
// to the extended parent or runs its own body, finishing with
// waitAllClosures(0) + flattenBuffer exactly once (spec §4.6).
//
// cb is invoked exactly once, guarded by a sync.Once shared between
// the body's own error path and every async closure it spawned (spec
// §5 "first error wins at cb"); by the time waitAllClosures(0) returns,
// every spawned closure has already called through HandlePromise (and
// so through this guard), so a later unconditional success call here
// can never race a late error report.
func (p *Program) Root(rc *runtime.Context, rt *runtime.Runtime, cb func(output string, err error)) {
	ctx := context.Background()
	frame := scope.NewRoot()
	start := time.Now()

	var once sync.Once
	finishOnce := func(output string, err error) {
		once.Do(func() {
			if rt.Sched != nil {
				if m := rt.Sched.Metrics(); m != nil {
					m.RecordRenderDuration(time.Since(start))
				}
			}
			cb(output, err)
		})
	}
	report := func(err error) { finishOnce("", err) }

	st := &execState{ctx: ctx, env: rt.Env, rc: rc, frame: frame, rt: rt, report: report}

	if p.hasExtends {
		for _, b := range p.topBlocks {
			registerBlock(st, rc, b)
		}
		name, err := resolveTemplateName(st, p.extendsFn)
		if err != nil {
			report(err)
			return
		}
		parent, err := rt.Env.LoadTemplate(name)
		if err != nil {
			report(err)
			return
		}
		parent.Root(rc, rt, finishOnce)
		return
	}

	buf := buffer.New()
	if err := p.bodyFn(st, buf); err != nil {
		report(err)
		return
	}
	rt.Sched.WaitAllClosures(0)
	flat, err := rt.FlattenBuffer(ctx, buf)
	finishOnce(flat, err)
}

// registerBlock pre-registers a top-level block's compiled body into
// rc under its name, without rendering it (rendering happens only when
// the owning template's own body statement for that block executes, or
// never, if a descendant always wins and the chain is only consulted
// via super()).
func registerBlock(st *execState, rc *runtime.Context, b *ast.Block) {
	bodyFn := emitStmt(b.Body, &compileCtx{blocks: newBlockIDGen(b.Name)})
	fn := runtime.BlockFunc(func(cb func(string, error)) {
		inner := buffer.New()
		if err := bodyFn(st, inner); err != nil {
			cb("", err)
			return
		}
		flat, err := st.rt.FlattenBuffer(st.ctx, inner)
		cb(flat, err)
	})
	rc.RegisterBlock(b.Name, fn)
}
