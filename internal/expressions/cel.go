package expressions

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

var celIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// celReserved cannot be declared as variables.
var celReserved = map[string]bool{
	"as": true, "break": true, "const": true, "continue": true, "else": true,
	"false": true, "for": true, "function": true, "if": true, "import": true,
	"in": true, "let": true, "loop": true, "package": true, "namespace": true,
	"null": true, "return": true, "true": true, "var": true, "void": true, "while": true,
}

// CELEngine implements the Engine interface using Google's Common Expression
// Language. Each distinct set of binding names gets its own environment with
// every binding declared as dyn, so conditions over step params of any
// shape type-check. Environments and programs are cached.
type CELEngine struct {
	mu       sync.RWMutex
	envs     map[string]*cel.Env
	programs map[string]cel.Program
}

// NewCELEngine creates a new CEL expression engine.
func NewCELEngine() *CELEngine {
	return &CELEngine{
		envs:     make(map[string]*cel.Env),
		programs: make(map[string]cel.Program),
	}
}

// Name returns the engine identifier.
func (e *CELEngine) Name() string {
	return "cel"
}

// Evaluate compiles (or retrieves from cache) a CEL expression for the
// binding names in data and evaluates it. Binding names that are not valid
// CEL identifiers are not visible to the expression.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty CEL expression")
	}

	names := bindingNames(data)
	prg, err := e.getOrCompile(NormalizeExpression(expression, DialectCEL), names)
	if err != nil {
		return nil, err
	}

	activation := make(map[string]any, len(names))
	for _, n := range names {
		activation[n] = data[n]
	}

	out, _, err := prg.ContextEval(ctx, activation)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	return out.Value(), nil
}

func (e *CELEngine) getOrCompile(expression string, names []string) (cel.Program, error) {
	sig := strings.Join(names, ",")
	key := sig + "\x00" + expression

	e.mu.RLock()
	if prg, ok := e.programs[key]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.programs[key]; ok {
		return prg, nil
	}

	env, ok := e.envs[sig]
	if !ok {
		opts := make([]cel.EnvOption, 0, len(names))
		for _, n := range names {
			opts = append(opts, cel.Variable(n, cel.DynType))
		}
		var err error
		env, err = cel.NewEnv(opts...)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecution, "create CEL environment: %s", err.Error()).WithCause(err)
		}
		e.envs[sig] = env
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL compile error in %q: %s", expression, issues.Err().Error()).
			WithCause(issues.Err()).
			WithDetails(map[string]any{"expression": expression})
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL program error for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.programs[key] = prg
	return prg, nil
}

// bindingNames returns the sorted keys of data usable as CEL identifiers.
func bindingNames(data map[string]any) []string {
	names := make([]string, 0, len(data))
	for k := range data {
		if celIdent.MatchString(k) && !celReserved[k] {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

var _ Engine = (*CELEngine)(nil)
