package actions

import (
	"context"
	"encoding/json"

	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

const cancelInputSchema = `{
  "type": "object",
  "properties": {
    "cancelation_token": {"type": "string", "minLength": 1},
    "token": {"type": "string", "minLength": 1}
  },
  "anyOf": [
    {"required": ["cancelation_token"]},
    {"required": ["token"]}
  ]
}`

// CancelAction implements the "cancel" action. The token comes from
// cancelation_token or the deprecated token field. The current run is never
// canceled by its own step.
type CancelAction struct {
	canceler Canceler
}

// NewCancelAction creates a cancel action.
func NewCancelAction(c Canceler) *CancelAction {
	return &CancelAction{canceler: c}
}

func (a *CancelAction) Name() string { return string(schema.ActionCancel) }

func (a *CancelAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Cancel every run registered under a cancelation token.",
		InputSchema: json.RawMessage(cancelInputSchema),
	}
}

func (a *CancelAction) Validate(params map[string]any) error {
	if CancelationToken(params) == "" {
		return schema.NewError(schema.ErrCodeValidation, "cancel: missing cancelation_token")
	}
	return nil
}

// CancelationToken returns the token a cancel step targets.
func CancelationToken(params map[string]any) string {
	if tok := stringParam(params, "cancelation_token", ""); tok != "" {
		return tok
	}
	return stringParam(params, "token", "")
}

func (a *CancelAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	if err := a.Validate(input.Params); err != nil {
		return nil, err
	}
	token := CancelationToken(input.Params)
	n, err := a.canceler.Cancel(ctx, input.Run.TenantID, token, input.Run.RunID)
	if err != nil {
		return nil, err
	}
	return processed(map[string]any{"cancelationToken": token, "canceled": n}), nil
}
