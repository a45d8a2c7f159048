package actions

import (
	"context"
	"encoding/json"

	"github.com/cgradwohl/backend-services-2-sub001/internal/services"
	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

const sendInputSchema = `{
  "type": "object",
  "properties": {
    "message": {"type": "object"},
    "recipient": {"type": ["string", "null"]},
    "template": {"type": "string", "minLength": 1},
    "brand": {},
    "data": {"type": ["object", "null"]},
    "override": {"type": ["object", "null"]},
    "profile": {"type": ["object", "null"]},
    "idempotency_key": {"type": "string"},
    "idempotency_expiry": {"type": ["string", "number"]}
  },
  "required": ["template"]
}`

const sendListInputSchema = `{
  "type": "object",
  "properties": {
    "message": {"type": "object"},
    "list": {"type": "string", "minLength": 1},
    "template": {"type": "string", "minLength": 1},
    "brand": {},
    "data": {"type": ["object", "null"]},
    "override": {"type": ["object", "null"]},
    "idempotency_key": {"type": "string"},
    "idempotency_expiry": {"type": ["string", "number"]}
  },
  "required": ["list", "template"]
}`

// HasMessage reports whether params carry a fully-formed message object,
// which bypasses schema validation.
func HasMessage(params map[string]any) bool {
	m, ok := params["message"].(map[string]any)
	return ok && len(m) > 0
}

// SendAction implements the "send" action.
type SendAction struct {
	delivery services.Delivery
	list     bool
}

// NewSendAction creates a send action.
func NewSendAction(d services.Delivery) *SendAction {
	return &SendAction{delivery: d}
}

// NewSendListAction creates a send-list action.
func NewSendListAction(d services.Delivery) *SendAction {
	return &SendAction{delivery: d, list: true}
}

func (a *SendAction) Name() string {
	if a.list {
		return string(schema.ActionSendList)
	}
	return string(schema.ActionSend)
}

func (a *SendAction) Schema() ActionSchema {
	if a.list {
		return ActionSchema{
			Description: "Send a message to every subscriber of a list.",
			InputSchema: json.RawMessage(sendListInputSchema),
		}
	}
	return ActionSchema{
		Description: "Send a message to one recipient through the delivery pipeline.",
		InputSchema: json.RawMessage(sendInputSchema),
	}
}

func (a *SendAction) Validate(params map[string]any) error { return nil }

func (a *SendAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	req := services.SendRequest{
		TenantID:  input.Run.TenantID,
		RunID:     input.Run.RunID,
		StepID:    input.Step.StepID,
		Scope:     input.Run.Scope,
		Source:    input.Run.Source,
		DryRunKey: input.Run.DryRunKey,
		Payload:   withoutKeys(input.Params, "idempotency_key", "idempotency_expiry"),
	}

	send := a.delivery.Send
	if a.list {
		send = a.delivery.SendList
	}
	messageID, err := send(ctx, req)
	if err != nil {
		return nil, err
	}
	return processed(map[string]any{"messageId": messageID}), nil
}
