package services

import (
	"context"

	"github.com/cgradwohl/backend-services-2-sub001/internal/expressions"
	"github.com/cgradwohl/backend-services-2-sub001/internal/store"
	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

// TemplateGetter is the slice of the store StoreTemplates reads from.
type TemplateGetter interface {
	GetTemplate(ctx context.Context, tenantID, idOrAlias string) (*schema.Template, error)
}

// StoreTemplates serves templates kept in the store. Expression templates
// are jq programs run over {data, profile}; they must produce an array of
// step objects or an object with a "steps" array.
type StoreTemplates struct {
	store TemplateGetter
	jq    *expressions.GoJQEngine
}

// NewStoreTemplates returns a template service over s.
func NewStoreTemplates(s TemplateGetter, jq *expressions.GoJQEngine) *StoreTemplates {
	if jq == nil {
		jq = expressions.NewGoJQEngine()
	}
	return &StoreTemplates{store: s, jq: jq}
}

func (t *StoreTemplates) Steps(ctx context.Context, tenantID, idOrAlias string, data, profile map[string]any) ([]map[string]any, error) {
	tpl, err := t.store.GetTemplate(ctx, tenantID, idOrAlias)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound, "template %q not found", idOrAlias).WithCause(err)
		}
		return nil, err
	}

	if tpl.Expression == "" {
		return deepCopySteps(tpl.Steps), nil
	}

	input := map[string]any{"data": orEmpty(data), "profile": orEmpty(profile)}
	out, err := t.jq.Evaluate(ctx, tpl.Expression, input)
	if err != nil {
		return nil, err
	}
	if obj, ok := out.(map[string]any); ok {
		out = obj["steps"]
	}
	steps, ok := toSteps(out)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"template %q did not render a step list", idOrAlias).
			WithDetails(map[string]any{"template": tpl.ID})
	}
	return steps, nil
}

func toSteps(v any) ([]map[string]any, bool) {
	items, ok := v.([]any)
	if !ok {
		return nil, false
	}
	steps := make([]map[string]any, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			return nil, false
		}
		steps = append(steps, m)
	}
	return steps, true
}

func deepCopySteps(steps []map[string]any) []map[string]any {
	out := make([]map[string]any, len(steps))
	for i, s := range steps {
		out[i] = schema.CopyMap(s)
	}
	return out
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

var _ Templates = (*StoreTemplates)(nil)
