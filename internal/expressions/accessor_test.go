package expressions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubRefs(outputs map[string]map[string]any) (RefLookup, *int) {
	calls := 0
	return func(_ context.Context, name string) (map[string]any, bool, error) {
		calls++
		out, ok := outputs[name]
		return out, ok, nil
	}, &calls
}

func TestParse_Kinds(t *testing.T) {
	n := Parse(map[string]any{
		"plain": "x",
		"ref":   map[string]any{"$ref": "data.a"},
		"list":  []any{1.0, map[string]any{"$ref": "profile.email"}},
		"two":   map[string]any{"$ref": "data.a", "other": true},
	})
	require.Equal(t, KindObject, n.Kind)
	assert.Equal(t, KindScalar, n.Fields["plain"].Kind)
	assert.Equal(t, KindRef, n.Fields["ref"].Kind)
	assert.Equal(t, "data.a", n.Fields["ref"].Path)
	assert.Equal(t, KindArray, n.Fields["list"].Kind)
	assert.Equal(t, KindRef, n.Fields["list"].Items[1].Kind)
	assert.Equal(t, KindObject, n.Fields["two"].Kind, "an object with extra keys is not an accessor")
	assert.True(t, n.HasRefs())
	assert.False(t, Parse(map[string]any{"a": 1}).HasRefs())
}

func TestResolve_StepRef(t *testing.T) {
	refs, _ := stubRefs(map[string]map[string]any{
		"welcome": {"context": map[string]any{"messageId": "m-1"}, "status": 2},
	})
	r := NewResolver(map[string]any{"data": map[string]any{}}, refs)

	v, err := r.ResolveValue(context.Background(), map[string]any{"$ref": "welcome.context.messageId"})
	require.NoError(t, err)
	assert.Equal(t, "m-1", v)
}

func TestResolve_RunContextRoots(t *testing.T) {
	refs, _ := stubRefs(nil)
	r := NewResolver(map[string]any{
		"data":      map[string]any{"foo": map[string]any{"bar": "baz"}},
		"recipient": "user-1",
	}, refs)
	ctx := context.Background()

	v, err := r.ResolvePath(ctx, "data.foo.bar")
	require.NoError(t, err)
	assert.Equal(t, "baz", v)

	v, err = r.ResolvePath(ctx, "data.foo.missing.deeper")
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = r.ResolvePath(ctx, "recipient")
	require.NoError(t, err)
	assert.Equal(t, "user-1", v)

	v, err = r.ResolvePath(ctx, "unknown.root")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestResolve_StepRefShadowsRoot(t *testing.T) {
	refs, _ := stubRefs(map[string]map[string]any{
		"data": {"context": map[string]any{"x": 1}},
	})
	r := NewResolver(map[string]any{"data": map[string]any{"x": 2}}, refs)

	v, err := r.ResolvePath(context.Background(), "data.context.x")
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestResolve_NestedParams(t *testing.T) {
	refs, calls := stubRefs(map[string]map[string]any{
		"fetch": {"context": map[string]any{"items": []any{"a", "b"}}},
	})
	r := NewResolver(map[string]any{"profile": map[string]any{"email": "a@example.com"}}, refs)

	out, err := r.ResolveParams(context.Background(), map[string]any{
		"message": map[string]any{
			"to":    map[string]any{"email": map[string]any{"$ref": "profile.email"}},
			"items": []any{map[string]any{"$ref": "fetch.context.items.1"}, map[string]any{"$ref": "fetch.context.items.9"}},
		},
		"literal": 3.0,
	})
	require.NoError(t, err)
	msg := out["message"].(map[string]any)
	assert.Equal(t, "a@example.com", msg["to"].(map[string]any)["email"])
	assert.Equal(t, []any{"b", nil}, msg["items"])
	assert.Equal(t, 3.0, out["literal"])
	assert.Equal(t, 2, *calls, "fetch output is memoized; profile is a miss lookup")
}

func TestResolve_LookupError(t *testing.T) {
	boom := errors.New("store down")
	r := NewResolver(nil, func(context.Context, string) (map[string]any, bool, error) {
		return nil, false, boom
	})
	_, err := r.ResolvePath(context.Background(), "step.context")
	assert.ErrorIs(t, err, boom)
}

func TestLookup(t *testing.T) {
	root := map[string]any{"a": []any{map[string]any{"b": "c"}}}
	assert.Equal(t, "c", Lookup(root, "a.0.b"))
	assert.Nil(t, Lookup(root, "a.x.b"))
	assert.Nil(t, Lookup(root, "a.0.b.c"))
	assert.Equal(t, root, Lookup(root, ""))
}
