package expressions

import (
	"context"
	"fmt"
)

// Engine evaluates expressions against a flat set of bindings.
// Expr and CEL evaluate step conditions; GoJQ renders template expressions.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// NewConditionEngine returns the condition engine registered under name.
// An empty name selects expr.
func NewConditionEngine(name string) (Engine, error) {
	switch name {
	case "", "expr":
		return NewExprEngine(), nil
	case "cel":
		return NewCELEngine(), nil
	default:
		return nil, fmt.Errorf("unknown condition engine %q", name)
	}
}
