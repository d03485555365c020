package ast_test

import (
	"testing"

	"github.com/joeycumines/cascada/ast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildContendedTree builds: do { db.!save(a); db.!save(b) } — two LOCK
// operations on the same key under a shared Do parent.
func buildContendedTree() (*ast.Template, *ast.FunCall, *ast.FunCall) {
	call1 := &ast.FunCall{
		Callee:      &ast.Symbol{Name: "db"},
		StaticPath:  []string{"db", "save"},
		MarkerIndex: 1,
		MarkerCount: 1,
	}
	call2 := &ast.FunCall{
		Callee:      &ast.Symbol{Name: "db"},
		StaticPath:  []string{"db", "save"},
		MarkerIndex: 1,
		MarkerCount: 1,
	}
	do := &ast.Do{Exprs: []ast.Node{call1, call2}}
	tmpl := &ast.Template{Body: do}
	return tmpl, call1, call2
}

func TestClassifySequenceOps_TwoLocksOnSameKeyContend(t *testing.T) {
	tmpl, call1, call2 := buildContendedTree()

	lockFrame, errs := ast.DeclareSequenceLocks(tmpl)
	require.Empty(t, errs)
	require.True(t, lockFrame.DeclaredVars["!db!save"])

	ast.ClassifySequenceOps(tmpl, lockFrame)

	assert.Equal(t, ast.SeqContended, tmpl.Body.(*ast.Do).SeqOp)
	// Each individual call is itself the lowest single-operator point,
	// so each gets wrapped.
	assert.True(t, call1.WrapInAsyncBlock)
	assert.True(t, call2.WrapInAsyncBlock)
}

// TestClassifySequenceOps_LockedCalleeOwnPathDoesNotSelfContend covers
// db!.read(): the marker sits on the root segment ("db", MarkerIndex 0),
// so the declared key is "!db" while the callee itself is the LookupVal
// chain db.read. The callee's own root Symbol necessarily re-touches
// "!db" (it is the same path the call locks), which must not be folded
// into a CONTENDED verdict against the call's own LOCK tag.
func TestClassifySequenceOps_LockedCalleeOwnPathDoesNotSelfContend(t *testing.T) {
	call := &ast.FunCall{
		Callee:      &ast.LookupVal{Target: &ast.Symbol{Name: "db"}, Prop: &ast.Literal{Value: "read"}},
		StaticPath:  []string{"db", "read"},
		MarkerIndex: 0,
		MarkerCount: 1,
	}
	tmpl := &ast.Template{Body: &ast.Do{Exprs: []ast.Node{call}}}

	lockFrame, errs := ast.DeclareSequenceLocks(tmpl)
	require.Empty(t, errs)
	require.True(t, lockFrame.DeclaredVars["!db"])

	ast.ClassifySequenceOps(tmpl, lockFrame)

	assert.Equal(t, ast.SeqLock, call.SeqOp, "the call's own LOCK tag must survive; a self-collision with its callee must not overwrite it to CONTENDED")
	assert.False(t, call.WrapInAsyncBlock, "a single locked call with no contending sibling needs no async-block wrapper")
}

// TestClassifySequenceOps_TwoDifferentMethodsOnSameLockedRootContend is
// spec seed scenario 7: db!.read() and db!.write() mark the same root
// and so share lock key "!db", contending with each other even though
// their full callee paths differ.
func TestClassifySequenceOps_TwoDifferentMethodsOnSameLockedRootContend(t *testing.T) {
	read := &ast.FunCall{
		Callee:      &ast.LookupVal{Target: &ast.Symbol{Name: "db"}, Prop: &ast.Literal{Value: "read"}},
		StaticPath:  []string{"db", "read"},
		MarkerIndex: 0,
		MarkerCount: 1,
	}
	write := &ast.FunCall{
		Callee:      &ast.LookupVal{Target: &ast.Symbol{Name: "db"}, Prop: &ast.Literal{Value: "write"}},
		StaticPath:  []string{"db", "write"},
		MarkerIndex: 0,
		MarkerCount: 1,
	}
	tmpl := &ast.Template{Body: &ast.Do{Exprs: []ast.Node{read, write}}}

	lockFrame, errs := ast.DeclareSequenceLocks(tmpl)
	require.Empty(t, errs)

	ast.ClassifySequenceOps(tmpl, lockFrame)

	assert.Equal(t, ast.SeqLock, read.SeqOp)
	assert.Equal(t, ast.SeqLock, write.SeqOp)
	assert.True(t, read.WrapInAsyncBlock)
	assert.True(t, write.WrapInAsyncBlock)
	assert.Equal(t, ast.SeqContended, tmpl.Body.(*ast.Do).SeqOp)
}

func TestClassifySequenceOps_SingleLockIsNotContended(t *testing.T) {
	call := &ast.FunCall{
		Callee:      &ast.Symbol{Name: "db"},
		StaticPath:  []string{"db", "save"},
		MarkerIndex: 1,
		MarkerCount: 1,
	}
	tmpl := &ast.Template{Body: &ast.Do{Exprs: []ast.Node{call}}}

	lockFrame, _ := ast.DeclareSequenceLocks(tmpl)
	ast.ClassifySequenceOps(tmpl, lockFrame)

	assert.False(t, call.WrapInAsyncBlock)
	assert.NotEqual(t, ast.SeqContended, tmpl.Body.(*ast.Do).SeqOp)
}
