package expressions

import (
	"context"
	"fmt"
	"maps"
	"regexp"
	"strings"

	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

// refToken matches a top-level refs access, not a field named refs.
var refToken = regexp.MustCompile(`(?:^|[^.\w$])refs\.([A-Za-z_][A-Za-z0-9_]*)`)

// RefNames returns the unique step reference names used by a condition, in
// order of first appearance.
func RefNames(expression string) []string {
	var names []string
	seen := map[string]bool{}
	for _, m := range refToken.FindAllStringSubmatch(expression, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// ConditionEvaluator decides whether a step with an `if` runs.
type ConditionEvaluator struct {
	engine Engine
}

// NewConditionEvaluator returns an evaluator backed by engine.
func NewConditionEvaluator(engine Engine) *ConditionEvaluator {
	return &ConditionEvaluator{engine: engine}
}

// Engine returns the underlying expression engine.
func (c *ConditionEvaluator) Engine() Engine { return c.engine }

// Evaluate runs expression over the step's own fields. When the expression
// names refs.<name> tokens, each name is resolved through refs and exposed
// under the "refs" binding. MessageStatus is always bound. A non-boolean
// result is a definition error.
func (c *ConditionEvaluator) Evaluate(ctx context.Context, expression string, fields map[string]any, refs RefLookup) (bool, error) {
	bindings := maps.Clone(fields)
	if bindings == nil {
		bindings = map[string]any{}
	}
	bindings["MessageStatus"] = schema.MessageStatusEnum()

	if names := RefNames(expression); len(names) > 0 {
		resolved := make(map[string]any, len(names))
		for _, name := range names {
			if refs == nil {
				return false, unknownRef(expression, name)
			}
			out, ok, err := refs(ctx, name)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, unknownRef(expression, name)
			}
			resolved[name] = out
		}
		bindings["refs"] = resolved
	}

	out, err := c.engine.Evaluate(ctx, expression, bindings)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"condition %q must evaluate to a boolean, got %T", expression, out).
			WithDetails(map[string]any{"expression": expression})
	}
	return b, nil
}

func unknownRef(expression, name string) *schema.AutomationError {
	return schema.NewErrorf(schema.ErrCodeValidation, "condition %q references unknown step ref %q", expression, name).
		WithDetails(map[string]any{"expression": expression, "ref": name})
}

// Dialect selects the spelling NormalizeExpression rewrites into.
type Dialect int

const (
	DialectExpr Dialect = iota
	DialectCEL
)

// NormalizeExpression rewrites JavaScript comparison spellings that
// automation authors commonly use: === and !== become == and !=, and the
// null/undefined literals become the dialect's nil literal. String literals
// are left untouched.
func NormalizeExpression(expression string, d Dialect) string {
	nilWord := "nil"
	if d == DialectCEL {
		nilWord = "null"
	}

	var b strings.Builder
	b.Grow(len(expression))
	for i := 0; i < len(expression); {
		ch := expression[i]
		switch {
		case ch == '"' || ch == '\'' || ch == '`':
			end := closingQuote(expression, i)
			b.WriteString(expression[i:end])
			i = end
		case strings.HasPrefix(expression[i:], "==="):
			b.WriteString("==")
			i += 3
		case strings.HasPrefix(expression[i:], "!=="):
			b.WriteString("!=")
			i += 3
		case isIdentStart(ch):
			j := i + 1
			for j < len(expression) && isIdentPart(expression[j]) {
				j++
			}
			word := expression[i:j]
			afterDot := i > 0 && expression[i-1] == '.'
			if !afterDot && (word == "null" || word == "undefined" || word == "nil") {
				word = nilWord
			}
			b.WriteString(word)
			i = j
		default:
			b.WriteByte(ch)
			i++
		}
	}
	return b.String()
}

// closingQuote returns the index just past the string literal opened at i.
func closingQuote(s string, i int) int {
	q := s[i]
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case q:
			return j + 1
		}
	}
	return len(s)
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// ValidateRefs checks that every refs.<name> token in conditions names one
// of the declared refs.
func ValidateRefs(conditions []string, declared map[string]bool) error {
	for _, cond := range conditions {
		for _, name := range RefNames(cond) {
			if !declared[name] {
				return schema.NewError(schema.ErrCodeValidation,
					fmt.Sprintf("condition %q references undeclared step ref %q", cond, name)).
					WithDetails(map[string]any{"expression": cond, "ref": name})
			}
		}
	}
	return nil
}
