package actions

import (
	"context"
	"encoding/json"

	"github.com/cgradwohl/backend-services-2-sub001/internal/services"
	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

const subscribeInputSchema = `{
  "type": "object",
  "properties": {
    "list_id": {"type": "string", "minLength": 1},
    "recipient_id": {"type": "string", "minLength": 1},
    "preferences": {"type": ["object", "null"]},
    "idempotency_key": {"type": "string"},
    "idempotency_expiry": {"type": ["string", "number"]}
  },
  "required": ["list_id", "recipient_id"]
}`

// SubscribeAction implements the "subscribe" action.
type SubscribeAction struct {
	lists services.Lists
}

// NewSubscribeAction creates a subscribe action.
func NewSubscribeAction(l services.Lists) *SubscribeAction {
	return &SubscribeAction{lists: l}
}

func (a *SubscribeAction) Name() string { return string(schema.ActionSubscribe) }

func (a *SubscribeAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Subscribe a recipient to a list.",
		InputSchema: json.RawMessage(subscribeInputSchema),
	}
}

func (a *SubscribeAction) Validate(params map[string]any) error { return nil }

func (a *SubscribeAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	listID := stringParam(input.Params, "list_id", "")
	recipientID := stringParam(input.Params, "recipient_id", "")
	if err := a.lists.Subscribe(ctx, input.Run.TenantID, listID, recipientID, mapParam(input.Params, "preferences")); err != nil {
		return nil, err
	}
	return processed(map[string]any{"listId": listID, "recipientId": recipientID}), nil
}
