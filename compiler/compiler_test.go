package compiler_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/cascada/ast"
	"github.com/joeycumines/cascada/compiler"
	"github.com/joeycumines/cascada/runtime"
	"github.com/joeycumines/cascada/scope"
	"github.com/joeycumines/cascada/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEnv is a minimal runtime.Env: a fixed set of named templates plus
// a tiny filter/test registry, enough to exercise Include/Import/Filter/
// Test emission without pulling in the (out-of-scope) loader/filter
// library.
type testEnv struct {
	templates  map[string]runtime.CompiledTemplate
	filters    map[string]runtime.FilterFunc
	tests      map[string]runtime.TestFunc
	autoescape bool
	throwUndef bool
}

func newTestEnv() *testEnv {
	return &testEnv{
		templates: map[string]runtime.CompiledTemplate{},
		filters:   map[string]runtime.FilterFunc{},
		tests:     map[string]runtime.TestFunc{},
	}
}

func (e *testEnv) LoadTemplate(name string) (runtime.CompiledTemplate, error) {
	t, ok := e.templates[name]
	if !ok {
		return nil, fmt.Errorf("no such template: %s", name)
	}
	return t, nil
}
func (e *testEnv) Filter(name string) (runtime.FilterFunc, bool) { f, ok := e.filters[name]; return f, ok }
func (e *testEnv) Test(name string) (runtime.TestFunc, bool)     { f, ok := e.tests[name]; return f, ok }
func (e *testEnv) Autoescape() bool                              { return e.autoescape }
func (e *testEnv) ThrowOnUndefined() bool                        { return e.throwUndef }

// render compiles tmpl's body (already analyzed if needed by the
// caller) and runs it synchronously against a fresh Runtime/Context,
// returning the flattened output.
func render(t *testing.T, env *testEnv, tmpl *ast.Template, vars map[string]any) (string, error) {
	t.Helper()
	prog, err := compiler.CompileAnalyzed("main", tmpl)
	require.NoError(t, err)

	sched := scope.NewScheduler()
	rt := runtime.New(env, sched, nil)
	rc := runtime.NewContext(vars)

	done := make(chan struct{})
	var out string
	var outErr error
	prog.Root(rc, rt, func(output string, err error) {
		out, outErr = output, err
		close(done)
	})
	<-done
	return out, outErr
}

func sym(name string) *ast.Symbol { return &ast.Symbol{Name: name} }

func lit(v any) *ast.Literal { return &ast.Literal{Value: v} }

func td(s string) *ast.TemplateData { return &ast.TemplateData{Text: s} }

func output(children ...ast.Node) *ast.Template {
	return &ast.Template{Body: &ast.Output{Children_: children}}
}

func TestCompiler_TemplateDataAndSymbol(t *testing.T) {
	env := newTestEnv()
	tmpl := output(td("Hello, "), sym("name"), td("!"))
	out, err := render(t, env, tmpl, map[string]any{"name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "Hello, Ada!", out)
}

func TestCompiler_UndefinedSymbolRendersEmpty(t *testing.T) {
	env := newTestEnv()
	tmpl := output(td("["), sym("missing"), td("]"))
	out, err := render(t, env, tmpl, nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", out)
}

func TestCompiler_ThrowOnUndefined(t *testing.T) {
	env := newTestEnv()
	env.throwUndef = true
	tmpl := output(sym("missing"))
	_, err := render(t, env, tmpl, nil)
	assert.Error(t, err)
}

func TestCompiler_SetAndReadBack(t *testing.T) {
	env := newTestEnv()
	tmpl := output(
		&ast.Set{Targets: []ast.Node{sym("x")}, Value: lit("hi")},
		sym("x"),
	)
	out, err := render(t, env, tmpl, nil)
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
}

func TestCompiler_SetBlockForm(t *testing.T) {
	env := newTestEnv()
	tmpl := output(
		&ast.Set{Targets: []ast.Node{sym("x")}, Block: &ast.Output{Children_: []ast.Node{td("captured")}}},
		sym("x"),
	)
	out, err := render(t, env, tmpl, nil)
	require.NoError(t, err)
	assert.Equal(t, "captured", out)
}

func TestCompiler_IfTrueBranch(t *testing.T) {
	env := newTestEnv()
	tmpl := output(&ast.If{
		Cond: lit(true),
		Then: &ast.Output{Children_: []ast.Node{td("yes")}},
		Else: &ast.Output{Children_: []ast.Node{td("no")}},
	})
	out, err := render(t, env, tmpl, nil)
	require.NoError(t, err)
	assert.Equal(t, "yes", out)
}

func TestCompiler_IfFalseBranch(t *testing.T) {
	env := newTestEnv()
	tmpl := output(&ast.If{
		Cond: lit(false),
		Then: &ast.Output{Children_: []ast.Node{td("yes")}},
		Else: &ast.Output{Children_: []ast.Node{td("no")}},
	})
	out, err := render(t, env, tmpl, nil)
	require.NoError(t, err)
	assert.Equal(t, "no", out)
}

func TestCompiler_SwitchMatchesCase(t *testing.T) {
	env := newTestEnv()
	tmpl := output(&ast.Switch{
		Discriminant: lit("b"),
		Cases: []*ast.Case{
			{Match: lit("a"), Body: &ast.Output{Children_: []ast.Node{td("A")}}},
			{Match: lit("b"), Body: &ast.Output{Children_: []ast.Node{td("B")}}},
			{Body: &ast.Output{Children_: []ast.Node{td("default")}}},
		},
	})
	out, err := render(t, env, tmpl, nil)
	require.NoError(t, err)
	assert.Equal(t, "B", out)
}

func TestCompiler_SwitchFallsToDefault(t *testing.T) {
	env := newTestEnv()
	tmpl := output(&ast.Switch{
		Discriminant: lit("z"),
		Cases: []*ast.Case{
			{Match: lit("a"), Body: &ast.Output{Children_: []ast.Node{td("A")}}},
			{Body: &ast.Output{Children_: []ast.Node{td("default")}}},
		},
	})
	out, err := render(t, env, tmpl, nil)
	require.NoError(t, err)
	assert.Equal(t, "default", out)
}

func TestCompiler_ForSequentialOverArray(t *testing.T) {
	env := newTestEnv()
	tmpl := output(&ast.For{
		ValVar:   "item",
		Iterable: sym("items"),
		Mode:     ast.ForSequential,
		Body: &ast.Output{Children_: []ast.Node{
			sym("item"), td(","),
		}},
	})
	vars := map[string]any{"items": []value.Value{"a", "b", "c"}}
	out, err := render(t, env, tmpl, vars)
	require.NoError(t, err)
	assert.Equal(t, "a,b,c,", out)
}

func TestCompiler_ForEmptyUsesElse(t *testing.T) {
	env := newTestEnv()
	tmpl := output(&ast.For{
		ValVar:   "item",
		Iterable: sym("items"),
		Mode:     ast.ForSequential,
		Body:     &ast.Output{Children_: []ast.Node{sym("item")}},
		Else:     &ast.Output{Children_: []ast.Node{td("empty")}},
	})
	vars := map[string]any{"items": []value.Value{}}
	out, err := render(t, env, tmpl, vars)
	require.NoError(t, err)
	assert.Equal(t, "empty", out)
}

func TestCompiler_ForLoopVars(t *testing.T) {
	env := newTestEnv()
	tmpl := output(&ast.For{
		ValVar:   "item",
		Iterable: sym("items"),
		Mode:     ast.ForSequential,
		Body: &ast.Output{Children_: []ast.Node{
			&ast.LookupVal{Target: sym("loop"), Prop: lit("index"), Computed: false},
			td(":"), sym("item"), td(" "),
		}},
	})
	vars := map[string]any{"items": []value.Value{"x", "y"}}
	out, err := render(t, env, tmpl, vars)
	require.NoError(t, err)
	assert.Equal(t, "1:x 2:y ", out)
}

func TestCompiler_ForAsyncEachPreservesOrder(t *testing.T) {
	env := newTestEnv()
	tmpl := &ast.Template{Body: &ast.Output{Children_: []ast.Node{
		&ast.For{
			ValVar:   "item",
			Iterable: sym("items"),
			Mode:     ast.ForAsyncEach,
			Body:     &ast.Output{Children_: []ast.Node{sym("item")}},
		},
	}}}
	vars := map[string]any{"items": []value.Value{"1", "2", "3", "4", "5"}}
	out, err := render(t, env, tmpl, vars)
	require.NoError(t, err)
	assert.Equal(t, "12345", out)
}

func TestCompiler_BinOpArithmetic(t *testing.T) {
	env := newTestEnv()
	tmpl := output(&ast.BinOp{Op: "+", Left: lit(1), Right: lit(2)})
	out, err := render(t, env, tmpl, nil)
	require.NoError(t, err)
	assert.Equal(t, "3", out)
}

func TestCompiler_StringConcat(t *testing.T) {
	env := newTestEnv()
	tmpl := output(&ast.BinOp{Op: "+", Left: lit("foo"), Right: lit("bar")})
	out, err := render(t, env, tmpl, nil)
	require.NoError(t, err)
	assert.Equal(t, "foobar", out)
}

func TestCompiler_CompareAndCondExpr(t *testing.T) {
	env := newTestEnv()
	tmpl := output(&ast.CondExpr{
		Cond: &ast.Compare{Op: ">", Left: lit(5), Right: lit(3)},
		Then: lit("bigger"),
		Else: lit("smaller"),
	})
	out, err := render(t, env, tmpl, nil)
	require.NoError(t, err)
	assert.Equal(t, "bigger", out)
}

func TestCompiler_AndWithFalseRightOperandIsFalsy(t *testing.T) {
	env := newTestEnv()
	tmpl := output(&ast.CondExpr{
		Cond: &ast.And{Left: lit(true), Right: lit(false)},
		Then: lit("yes"),
		Else: lit("no"),
	})
	out, err := render(t, env, tmpl, nil)
	require.NoError(t, err)
	assert.Equal(t, "no", out)
}

func TestCompiler_FilterDispatch(t *testing.T) {
	env := newTestEnv()
	env.filters["upper"] = func(target value.Value, args []value.Value, kwargs map[string]value.Value) (value.Value, error) {
		s, _ := target.(string)
		out := ""
		for _, r := range s {
			if r >= 'a' && r <= 'z' {
				r -= 32
			}
			out += string(r)
		}
		return out, nil
	}
	tmpl := output(&ast.Filter{Name: "upper", Target: lit("hi")})
	out, err := render(t, env, tmpl, nil)
	require.NoError(t, err)
	assert.Equal(t, "HI", out)
}

func TestCompiler_TestDispatchNegated(t *testing.T) {
	env := newTestEnv()
	env.tests["even"] = func(target value.Value, args []value.Value) (bool, error) {
		n, _ := target.(int)
		return n%2 == 0, nil
	}
	tmpl := output(&ast.CondExpr{
		Cond: &ast.Test{Name: "even", Target: lit(3), Negated: true},
		Then: lit("odd"),
		Else: lit("even"),
	})
	out, err := render(t, env, tmpl, nil)
	require.NoError(t, err)
	assert.Equal(t, "odd", out)
}

func TestCompiler_FunCallInvokesCallableFromContext(t *testing.T) {
	env := newTestEnv()
	double := runtime.Callable(func(ctx context.Context, args []value.Value, kwargs map[string]value.Value) (value.Value, error) {
		n, _ := args[0].(int)
		return n * 2, nil
	})
	tmpl := output(&ast.FunCall{Callee: sym("double"), Args: []ast.Node{lit(21)}})
	out, err := render(t, env, tmpl, map[string]any{"double": double})
	require.NoError(t, err)
	assert.Equal(t, "42", out)
}

func TestCompiler_MacroDefinitionAndCall(t *testing.T) {
	env := newTestEnv()
	tmpl := output(
		&ast.Macro{
			Name:   "greet",
			Params: []string{"name"},
			Body: &ast.Output{Children_: []ast.Node{
				td("Hi "), sym("name"),
			}},
		},
		&ast.FunCall{Callee: sym("greet"), Args: []ast.Node{lit("Bob")}},
	)
	out, err := render(t, env, tmpl, nil)
	require.NoError(t, err)
	assert.Equal(t, "Hi Bob", out)
}

func TestCompiler_MacroDefaultKwarg(t *testing.T) {
	env := newTestEnv()
	tmpl := output(
		&ast.Macro{
			Name:   "greet",
			Params: nil,
			Kwargs: map[string]ast.Node{"name": lit("World")},
			Body: &ast.Output{Children_: []ast.Node{
				td("Hi "), sym("name"),
			}},
		},
		&ast.FunCall{Callee: sym("greet")},
	)
	out, err := render(t, env, tmpl, nil)
	require.NoError(t, err)
	assert.Equal(t, "Hi World", out)
}

func TestCompiler_CallBlockInvokesCaller(t *testing.T) {
	env := newTestEnv()
	tmpl := output(
		&ast.Macro{
			Name:    "wrap",
			HasCall: true,
			Body: &ast.Output{Children_: []ast.Node{
				td("<b>"),
				&ast.FunCall{Callee: sym("caller")},
				td("</b>"),
			}},
		},
		&ast.FunCall{
			Callee: sym("wrap"),
			Args: []ast.Node{
				&ast.Caller{Body: &ast.Output{Children_: []ast.Node{td("inner")}}},
			},
		},
	)
	out, err := render(t, env, tmpl, nil)
	require.NoError(t, err)
	assert.Equal(t, "<b>inner</b>", out)
}

func TestCompiler_IncludeRendersChildTemplate(t *testing.T) {
	env := newTestEnv()
	child, err := compiler.CompileAnalyzed("child", output(td("from child")))
	require.NoError(t, err)
	env.templates["child"] = child

	tmpl := output(&ast.Include{Template: lit("child")})
	out, err := render(t, env, tmpl, nil)
	require.NoError(t, err)
	assert.Equal(t, "from child", out)
}

func TestCompiler_IncludeIgnoreMissing(t *testing.T) {
	env := newTestEnv()
	tmpl := output(&ast.Include{Template: lit("nope"), IgnoreMissing: true})
	out, err := render(t, env, tmpl, nil)
	require.NoError(t, err)
	assert.Equal(t, "", out)
}

func TestCompiler_IncludeMissingErrors(t *testing.T) {
	env := newTestEnv()
	tmpl := output(&ast.Include{Template: lit("nope")})
	_, err := render(t, env, tmpl, nil)
	assert.Error(t, err)
}

func TestCompiler_ImportExposesExportedNames(t *testing.T) {
	env := newTestEnv()
	libTmpl := &ast.Template{Body: &ast.Output{Children_: []ast.Node{
		&ast.Set{Targets: []ast.Node{sym("greeting")}, Value: lit("hola")},
	}}}
	lib, err := compiler.CompileAnalyzed("lib", libTmpl)
	require.NoError(t, err)
	env.templates["lib"] = lib

	tmpl := output(
		&ast.Import{Template: lit("lib"), Alias: "lib"},
		&ast.LookupVal{Target: sym("lib"), Prop: lit("greeting")},
	)
	out, err := render(t, env, tmpl, nil)
	require.NoError(t, err)
	assert.Equal(t, "hola", out)
}

func TestCompiler_FromImportBindsNames(t *testing.T) {
	env := newTestEnv()
	libTmpl := &ast.Template{Body: &ast.Output{Children_: []ast.Node{
		&ast.Set{Targets: []ast.Node{sym("greeting")}, Value: lit("hola")},
	}}}
	lib, err := compiler.CompileAnalyzed("lib", libTmpl)
	require.NoError(t, err)
	env.templates["lib"] = lib

	tmpl := output(
		&ast.FromImport{Template: lit("lib"), Names: []string{"greeting"}},
		sym("greeting"),
	)
	out, err := render(t, env, tmpl, nil)
	require.NoError(t, err)
	assert.Equal(t, "hola", out)
}

func TestCompiler_ExtendsBlockOverrideAndSuper(t *testing.T) {
	env := newTestEnv()

	parentTmpl := &ast.Template{Body: &ast.Output{Children_: []ast.Node{
		td("<page>"),
		&ast.Block{Name: "content", Body: &ast.Output{Children_: []ast.Node{td("parent content")}}},
		td("</page>"),
	}}}
	parent, err := compiler.CompileAnalyzed("parent", parentTmpl)
	require.NoError(t, err)
	env.templates["parent"] = parent

	childTmpl := &ast.Template{Body: &ast.Output{Children_: []ast.Node{
		&ast.Extends{Template: lit("parent")},
		&ast.Block{Name: "content", Body: &ast.Output{Children_: []ast.Node{
			td("child content + "),
			&ast.Super{BlockName: "content"},
		}}},
	}}}

	out, err := render(t, env, childTmpl, nil)
	require.NoError(t, err)
	assert.Equal(t, "<page>child content + parent content</page>", out)
}

func TestCompiler_DoStatementEvaluatesAndDiscards(t *testing.T) {
	env := newTestEnv()
	tmpl := &ast.Template{Body: &ast.Output{Children_: []ast.Node{
		&ast.Set{Targets: []ast.Node{sym("x")}, Value: lit(0)},
		&ast.Do{Exprs: []ast.Node{
			&ast.BinOp{Op: "+", Left: sym("x"), Right: lit(1)},
		}},
		sym("x"),
	}}}
	out, err := render(t, env, tmpl, nil)
	require.NoError(t, err)
	assert.Equal(t, "0", out, "Do discards its expression's value; x is unchanged")
}

func TestCompiler_CaptureStoresRenderedBlock(t *testing.T) {
	env := newTestEnv()
	tmpl := output(
		&ast.Capture{Target: "snippet", Body: &ast.Output{Children_: []ast.Node{
			td("captured "), lit(42),
		}}},
		sym("snippet"),
	)
	out, err := render(t, env, tmpl, nil)
	require.NoError(t, err)
	assert.Equal(t, "captured 42", out)
}

func TestCompiler_DictAndArrayLiterals(t *testing.T) {
	env := newTestEnv()
	tmpl := output(&ast.LookupVal{
		Target: &ast.Dict{Pairs: []*ast.Pair{{Key: "a", Value: lit("x")}}},
		Prop:   lit("a"),
	})
	out, err := render(t, env, tmpl, nil)
	require.NoError(t, err)
	assert.Equal(t, "x", out)
}

func TestCompiler_InOperator(t *testing.T) {
	env := newTestEnv()
	tmpl := output(&ast.CondExpr{
		Cond: &ast.In{Left: lit("b"), Right: &ast.Array{Items: []ast.Node{lit("a"), lit("b")}}},
		Then: lit("found"),
		Else: lit("missing"),
	})
	out, err := render(t, env, tmpl, nil)
	require.NoError(t, err)
	assert.Equal(t, "found", out)
}

// TestCompiler_SequenceLockSerializesContendedCallsInProgramOrder exercises
// spec seed scenario 7: "{{ db!.read() }} {{ db!.write() }}" where read
// resolves after write is called, but the observable call order must still
// be read, write, because both calls mark the same root ("db", MarkerIndex
// 0) and so share one lock key regardless of which method they invoke.
func TestCompiler_SequenceLockSerializesContendedCallsInProgramOrder(t *testing.T) {
	env := newTestEnv()

	var mu sync.Mutex
	var order []string
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	read := runtime.Callable(func(ctx context.Context, args []value.Value, kwargs map[string]value.Value) (value.Value, error) {
		time.Sleep(20 * time.Millisecond)
		record("read")
		return "read-done", nil
	})
	write := runtime.Callable(func(ctx context.Context, args []value.Value, kwargs map[string]value.Value) (value.Value, error) {
		record("write")
		return "write-done", nil
	})

	readCall := &ast.FunCall{
		Callee:      &ast.LookupVal{Target: sym("db"), Prop: lit("read")},
		StaticPath:  []string{"db", "read"},
		MarkerIndex: 0,
		MarkerCount: 1,
	}
	writeCall := &ast.FunCall{
		Callee:      &ast.LookupVal{Target: sym("db"), Prop: lit("write")},
		StaticPath:  []string{"db", "write"},
		MarkerIndex: 0,
		MarkerCount: 1,
	}
	tmpl := output(readCall, writeCall)

	db := map[string]value.Value{
		"read":  read,
		"write": write,
	}
	out, err := render(t, env, tmpl, map[string]any{"db": db})
	require.NoError(t, err)
	assert.Equal(t, "read-donewrite-done", out)
	assert.Equal(t, []string{"read", "write"}, order, "write must not begin until read's lock holder releases, even though read is the slower call")
}

func TestCompiler_WithAsyncDisabledMarksEveryNodeAsync(t *testing.T) {
	literal := lit("x")
	tmpl := output(literal)

	_, err := compiler.CompileAnalyzed("main", tmpl, compiler.WithAsyncDisabled())
	require.NoError(t, err)
	assert.True(t, literal.IsAsync, "WithAsyncDisabled forces every node async, including intrinsically-sync literals")
}

func TestCompiler_WithoutAsyncDisabledLeavesLiteralsSync(t *testing.T) {
	literal := lit("x")
	tmpl := output(literal)

	_, err := compiler.CompileAnalyzed("main", tmpl)
	require.NoError(t, err)
	assert.False(t, literal.IsAsync)
}
