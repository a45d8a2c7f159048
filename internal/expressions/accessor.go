package expressions

import (
	"context"
	"strconv"
	"strings"
)

// RefKey is the object key that marks an accessor placeholder.
const RefKey = "$ref"

// NodeKind tags a node of a parsed parameter tree.
type NodeKind int

const (
	KindScalar NodeKind = iota
	KindObject
	KindArray
	KindRef
)

// Node is one element of a parameter tree. Exactly one of Value, Fields,
// Items or Path is meaningful, chosen by Kind.
type Node struct {
	Kind   NodeKind
	Value  any
	Fields map[string]*Node
	Items  []*Node
	Path   string
}

// Parse converts a decoded JSON value into a tagged tree. An object whose
// only key is "$ref" with a string value becomes a ref node.
func Parse(v any) *Node {
	switch val := v.(type) {
	case map[string]any:
		if path, ok := refPath(val); ok {
			return &Node{Kind: KindRef, Path: path}
		}
		fields := make(map[string]*Node, len(val))
		for k, child := range val {
			fields[k] = Parse(child)
		}
		return &Node{Kind: KindObject, Fields: fields}
	case []any:
		items := make([]*Node, len(val))
		for i, child := range val {
			items[i] = Parse(child)
		}
		return &Node{Kind: KindArray, Items: items}
	default:
		return &Node{Kind: KindScalar, Value: v}
	}
}

func refPath(m map[string]any) (string, bool) {
	if len(m) != 1 {
		return "", false
	}
	path, ok := m[RefKey].(string)
	return path, ok
}

// HasRefs reports whether the tree contains at least one ref node.
func (n *Node) HasRefs() bool {
	switch n.Kind {
	case KindRef:
		return true
	case KindObject:
		for _, f := range n.Fields {
			if f.HasRefs() {
				return true
			}
		}
	case KindArray:
		for _, it := range n.Items {
			if it.HasRefs() {
				return true
			}
		}
	}
	return false
}

// RefLookup returns the enriched output of the step declared under name in
// the current run. ok is false when no step declares that ref.
type RefLookup func(ctx context.Context, name string) (output map[string]any, ok bool, err error)

// Resolver replaces ref nodes with the values they point at. Paths whose
// first segment is a declared ref resolve against that step's output;
// anything else resolves against Roots (the run context roots).
// A Resolver memoizes ref outputs and is meant for one dispatch.
type Resolver struct {
	Roots map[string]any
	Refs  RefLookup

	outputs map[string]map[string]any
}

// NewResolver returns a Resolver over the run context roots.
func NewResolver(roots map[string]any, refs RefLookup) *Resolver {
	return &Resolver{Roots: roots, Refs: refs}
}

// ResolveValue parses v and resolves every accessor in it.
func (r *Resolver) ResolveValue(ctx context.Context, v any) (any, error) {
	return r.Resolve(ctx, Parse(v))
}

// ResolveParams resolves the accessors in a params object.
func (r *Resolver) ResolveParams(ctx context.Context, params map[string]any) (map[string]any, error) {
	out, err := r.ResolveValue(ctx, params)
	if err != nil {
		return nil, err
	}
	m, _ := out.(map[string]any)
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// Resolve walks the tree and returns the plain value it denotes.
func (r *Resolver) Resolve(ctx context.Context, n *Node) (any, error) {
	switch n.Kind {
	case KindRef:
		return r.ResolvePath(ctx, n.Path)
	case KindObject:
		out := make(map[string]any, len(n.Fields))
		for k, f := range n.Fields {
			v, err := r.Resolve(ctx, f)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	case KindArray:
		out := make([]any, len(n.Items))
		for i, it := range n.Items {
			v, err := r.Resolve(ctx, it)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	default:
		return n.Value, nil
	}
}

// ResolvePath resolves a dotted accessor path. Missing segments yield nil.
func (r *Resolver) ResolvePath(ctx context.Context, path string) (any, error) {
	root, rest, _ := strings.Cut(path, ".")
	if root == "" {
		return nil, nil
	}

	if out, ok, err := r.stepOutput(ctx, root); err != nil {
		return nil, err
	} else if ok {
		return Lookup(out, rest), nil
	}

	v, ok := r.Roots[root]
	if !ok {
		return nil, nil
	}
	return Lookup(v, rest), nil
}

func (r *Resolver) stepOutput(ctx context.Context, name string) (map[string]any, bool, error) {
	if r.Refs == nil {
		return nil, false, nil
	}
	if out, ok := r.outputs[name]; ok {
		return out, out != nil, nil
	}
	out, ok, err := r.Refs(ctx, name)
	if err != nil {
		return nil, false, err
	}
	if r.outputs == nil {
		r.outputs = make(map[string]map[string]any)
	}
	if !ok {
		r.outputs[name] = nil
		return nil, false, nil
	}
	r.outputs[name] = out
	return out, true, nil
}

// Lookup walks a dotted path through maps and arrays. An empty path
// returns root. Any missing segment yields nil.
func Lookup(root any, path string) any {
	if path == "" {
		return root
	}
	current := root
	for _, seg := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil
			}
			current = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(v) {
				return nil
			}
			current = v[i]
		default:
			return nil
		}
	}
	return current
}
