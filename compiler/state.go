package compiler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/cascada/runtime"
	"github.com/joeycumines/cascada/scope"
)

// execState is threaded through every emitted closure: the render-wide
// collaborators (env, rc, rt) plus whichever scope handle is current
// (frame for synchronous reads, async for snapshot-aware reads inside a
// spawned async block) and the render's single error-reporting sink.
type execState struct {
	ctx    context.Context
	env    runtime.Env
	rc     *runtime.Context
	frame  *scope.Frame
	async  *scope.AsyncFrame
	rt     *runtime.Runtime
	report func(error)

	// lockTicket, when non-nil, is a sequence-lock ticket already
	// Enqueue'd synchronously (in program order) before this state's
	// FunCall was spawned onto its own goroutine; emitFunCall uses it
	// in place of taking a fresh, unordered Acquire.
	lockTicket *scope.Ticket
}

// withChildFrame pushes a new lexical frame (loop vars, macro/caller
// params) while keeping whichever AsyncFrame snapshot, if any, is
// already in effect. Every child-frame push in this package uses this,
// not a frame-swap that also clears async — discarding st.async here
// would silently revert reads under the new frame to the live,
// unanchored Frame chain (see scope.AsyncFrame.LookupFrom, which is
// exactly what makes this safe: it still finds f's own Declare'd
// names before falling through to the anchored snapshot).
func (st *execState) withChildFrame(f *scope.Frame) *execState {
	cp := *st
	cp.frame = f
	return &cp
}

func (st *execState) withAsync(af *scope.AsyncFrame) *execState {
	cp := *st
	cp.async = af
	cp.frame = af.Frame
	return &cp
}

// withLockTicket returns a copy of st carrying a pre-enqueued sequence
// lock ticket for the FunCall about to run under it.
func (st *execState) withLockTicket(t *scope.Ticket) *execState {
	cp := *st
	cp.lockTicket = t
	return &cp
}

func (st *execState) reportError(err error) {
	if err != nil {
		st.report(err)
	}
}

// errorSink turns a render's terminal cb into a sync.Once-guarded
// reporter, implementing spec §5's "first error wins at cb" rule: every
// spawned async closure, however deeply nested, reports through the
// same sink.
func errorSink(cb func(error)) func(error) {
	var once sync.Once
	return func(err error) {
		once.Do(func() { cb(err) })
	}
}

// blockIDGen hands out unique per-async-block identifiers at render
// time, one per spawned async block activation, used to key the scheduler's promiseDataById map (spec §4.3/§5).
type blockIDGen struct {
	prefix string
	n      int64
}

func newBlockIDGen(prefix string) *blockIDGen {
	return &blockIDGen{prefix: prefix}
}

func (g *blockIDGen) next() string {
	return fmt.Sprintf("%s#%d", g.prefix, atomic.AddInt64(&g.n, 1))
}
