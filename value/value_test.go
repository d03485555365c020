package value_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/joeycumines/cascada/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuture_ResolveReject(t *testing.T) {
	f, resolve, reject := value.NewFuture()
	require.Equal(t, value.FuturePending, f.State())

	go func() {
		time.Sleep(time.Millisecond)
		resolve("hello")
	}()

	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
	assert.Equal(t, value.FutureResolved, f.State())

	// Second settlement is a no-op.
	reject(errors.New("too late"))
	assert.Equal(t, value.FutureResolved, f.State())
}

func TestFuture_Reject(t *testing.T) {
	f, _, reject := value.NewFuture()
	boom := errors.New("boom")
	reject(boom)
	_, err := f.Wait(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestFuture_WaitContextCancel(t *testing.T) {
	f, _, _ := value.NewFuture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolve_PlainValuePassesThrough(t *testing.T) {
	v, err := value.Resolve(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestResolve_AwaitsFuture(t *testing.T) {
	f := value.Resolved("ada")
	v, err := value.Resolve(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, "ada", v)
}

func TestResolveAll_Order(t *testing.T) {
	inputs := []value.Value{
		value.Resolved("a"),
		"b",
		value.Resolved("c"),
	}
	out, err := value.ResolveAll(context.Background(), inputs)
	require.NoError(t, err)
	assert.Equal(t, []value.Value{"a", "b", "c"}, out)
}

func TestResolveAll_FirstErrorWins(t *testing.T) {
	boom := errors.New("boom")
	inputs := []value.Value{
		value.Resolved("a"),
		value.Rejected(boom),
	}
	_, err := value.ResolveAll(context.Background(), inputs)
	assert.ErrorIs(t, err, boom)
}

func TestResolveDuo(t *testing.T) {
	a, b, err := value.ResolveDuo(context.Background(), value.Resolved(1), value.Resolved(2))
	require.NoError(t, err)
	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
}

func TestResolveObjectProperties(t *testing.T) {
	obj := map[string]value.Value{
		"name": value.Resolved("Ada"),
		"age":  30,
	}
	out, err := value.ResolveObjectProperties(context.Background(), obj)
	require.NoError(t, err)
	assert.Equal(t, "Ada", out["name"])
	assert.Equal(t, 30, out["age"])
}

func TestSuppressValue_EscapesUnsafe(t *testing.T) {
	assert.Equal(t, "&lt;b&gt;", value.SuppressValue("<b>", true))
	assert.Equal(t, "<b>", value.SuppressValue("<b>", false))
}

func TestSuppressValue_NeverReEscapesSafe(t *testing.T) {
	safe := value.MarkSafe("<b>")
	assert.Equal(t, "<b>", value.SuppressValue(safe, true))
}

func TestSuppressValue_Undefined(t *testing.T) {
	assert.Equal(t, "", value.SuppressValue(nil, true))
}

func TestEnsureDefined(t *testing.T) {
	_, err := value.EnsureDefined(nil, 3, 4)
	require.Error(t, err)
	var ev *value.ErrorValue
	require.ErrorAs(t, err, &ev)
	assert.Equal(t, 3, ev.Line)
	assert.Equal(t, 4, ev.Col)

	v, err := value.EnsureDefined("x", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, "x", v)
}

func TestSafeStringFixpoint(t *testing.T) {
	s := value.MarkSafe("<script>")
	again := value.MarkSafe(s)
	assert.Equal(t, value.Safe("<script>"), again)
	assert.Equal(t, "<script>", value.SuppressValue(again, true))
}

func TestCopySafeness(t *testing.T) {
	safe := value.MarkSafe("hi")
	out := value.CopySafeness(safe, "HI")
	_, ok := out.(value.Safe)
	assert.True(t, ok)

	out2 := value.CopySafeness("hi", "HI")
	_, ok2 := out2.(value.Safe)
	assert.False(t, ok2)
}

func TestFormatScalar(t *testing.T) {
	assert.Equal(t, "3", value.FormatScalar(3.0))
	assert.Equal(t, "true", value.FormatScalar(true))
	assert.Equal(t, "", value.FormatScalar(nil))
}
