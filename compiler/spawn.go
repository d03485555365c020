package compiler

import (
	"fmt"

	"github.com/joeycumines/cascada/ast"
	"github.com/joeycumines/cascada/value"
)

// delayKey derives a stable, deterministic identifier for n from its
// kind and source position, used as the DelayHook's blockID argument.
// It is independent of the blockIDGen counter (which is spawn-order
// dependent and not reproducible across two separately-compiled but
// textually identical templates), so a test can key its delay schedule
// purely off where in the template source a node sits.
func delayKey(n ast.Node) string {
	pos := n.Pos()
	return fmt.Sprintf("%s@%d:%d", n.Kind(), pos.Line, pos.Col)
}

// spawnAsyncExpr runs fn on a fresh goroutine, tracked by the
// scheduler's closure counter, returning a *value.Future immediately.
// Errors are both carried by the returned Future (so a direct consumer
// sees them at its own resolve point) and forwarded to the render's
// error sink (so a value nobody ever reads still surfaces its error,
// per spec §5's "any error ... reported via cb").
func spawnAsyncExpr(st *execState, n ast.Node, fn func(st *execState) (value.Value, error)) *value.Future {
	f, resolve, reject := value.NewFuture()
	st.rt.Sched.EnterAsyncBlock()
	go func() {
		pos := n.Pos()
		st.rt.Sched.Delay(delayKey(n))
		st.rt.HandlePromise(pos.Line, pos.Col, string(n.Kind()), st.rt.Sched.LeaveAsyncBlock, func() error {
			v, err := fn(st)
			if err != nil {
				reject(err)
				return err
			}
			resolve(v)
			return nil
		}, st.reportError)
	}()
	return f
}

// spawnAsyncStmt is spawnAsyncExpr's statement-shaped sibling: it
// returns nothing, and fn's error is forwarded only to the render's
// error sink instead of settling a Future. emitFor uses it for each
// ForAsyncEach/ForAsyncAll iteration, where nothing downstream reads a
// value off the spawn itself.
func spawnAsyncStmt(st *execState, n ast.Node, fn func(st *execState) error) {
	st.rt.Sched.EnterAsyncBlock()
	go func() {
		pos := n.Pos()
		st.rt.Sched.Delay(delayKey(n))
		st.rt.HandlePromise(pos.Line, pos.Col, string(n.Kind()), st.rt.Sched.LeaveAsyncBlock, func() error {
			return fn(st)
		}, st.reportError)
	}()
}
