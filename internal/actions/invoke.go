package actions

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

const invokeInputSchema = `{
  "type": "object",
  "properties": {
    "template": {"type": "string", "minLength": 1},
    "context": {
      "type": "object",
      "properties": {
        "brand": {},
        "data": {"type": ["object", "null"]},
        "profile": {"type": ["object", "null"]},
        "recipient": {"type": ["string", "null"]},
        "template": {"type": ["string", "null"]}
      }
    },
    "cancelation_token": {"type": "string"}
  },
  "required": ["template"]
}`

// InvokeSourcePrefix tags the source entry a child run gets per invoke.
const InvokeSourcePrefix = "invoke/"

// InvokeAction implements the "invoke" action: it starts a child run from a
// template. The child run id is derived from the parent run and step, so a
// redelivered step finds its child instead of starting a second one.
type InvokeAction struct {
	invoker Invoker
}

// NewInvokeAction creates an invoke action.
func NewInvokeAction(inv Invoker) *InvokeAction {
	return &InvokeAction{invoker: inv}
}

func (a *InvokeAction) Name() string { return string(schema.ActionInvoke) }

func (a *InvokeAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Start a child run from a stored template.",
		InputSchema: json.RawMessage(invokeInputSchema),
	}
}

func (a *InvokeAction) Validate(params map[string]any) error { return nil }

// ChildRunID returns the deterministic id of the run an invoke step starts.
func ChildRunID(parentRunID, stepID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("automation-run:"+parentRunID+"/"+stepID)).String()
}

func (a *InvokeAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	templateID := stringParam(input.Params, "template", "")
	childID := ChildRunID(input.Run.RunID, input.Step.StepID)

	source := make([]string, 0, len(input.Run.Source)+1)
	source = append(source, input.Run.Source...)
	source = append(source, InvokeSourcePrefix+templateID)

	_, err := a.invoker.InvokeTemplate(ctx, schema.TemplateInvocation{
		TenantID:         input.Run.TenantID,
		Template:         templateID,
		RunID:            childID,
		Scope:            input.Run.Scope,
		Source:           source,
		DryRunKey:        input.Run.DryRunKey,
		CancelationToken: stringParam(input.Params, "cancelation_token", ""),
		Context:          childContext(input.RunContext, mapParam(input.Params, "context")),
	})
	out := map[string]any{
		"runId":          childID,
		"template":       templateID,
		"alreadyInvoked": false,
	}
	switch {
	case err == nil:
	case schema.HasCode(err, schema.ErrCodeConflict):
		out["alreadyInvoked"] = true
	case schema.HasCode(err, schema.ErrCodeCycleDetected):
		// The child run is created in ERROR; the parent chain goes on.
		out["error"] = schema.UserMessage(err)
	default:
		return nil, err
	}
	return processed(out), nil
}

// childContext starts from the parent context and applies overrides.
func childContext(parent *schema.RunContext, override map[string]any) *schema.RunContext {
	rc := parent.Clone()
	if override == nil {
		return rc
	}
	if v, ok := override["brand"]; ok {
		rc.Brand = v
	}
	if v, ok := override["data"].(map[string]any); ok {
		rc.Data = schema.CopyMap(v)
	}
	if v, ok := override["profile"].(map[string]any); ok {
		rc.Profile = schema.CopyMap(v)
	}
	if v, ok := override["recipient"].(string); ok {
		rc.Recipient = v
	}
	if v, ok := override["template"].(string); ok {
		rc.Template = v
	}
	return rc
}
