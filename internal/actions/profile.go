package actions

import (
	"context"
	"encoding/json"

	"github.com/cgradwohl/backend-services-2-sub001/internal/services"
	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

const updateProfileInputSchema = `{
  "type": "object",
  "properties": {
    "recipient_id": {"type": "string", "minLength": 1},
    "profile": {"type": "object"},
    "merge": {"type": "string", "enum": ["replace", "overwrite", "soft-merge", "none"]}
  },
  "required": ["recipient_id", "profile"]
}`

// UpdateProfileAction implements the "update-profile" action. The merge
// param picks the policy and defaults to overwrite.
type UpdateProfileAction struct {
	profiles services.Profiles
}

// NewUpdateProfileAction creates an update-profile action.
func NewUpdateProfileAction(p services.Profiles) *UpdateProfileAction {
	return &UpdateProfileAction{profiles: p}
}

func (a *UpdateProfileAction) Name() string { return string(schema.ActionUpdateProfile) }

func (a *UpdateProfileAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Merge data into a recipient profile.",
		InputSchema: json.RawMessage(updateProfileInputSchema),
	}
}

func (a *UpdateProfileAction) Validate(params map[string]any) error {
	_, err := ParseMergeStrategy(stringParam(params, "merge", ""), MergeOverwrite)
	return err
}

func (a *UpdateProfileAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	strategy, err := ParseMergeStrategy(stringParam(input.Params, "merge", ""), MergeOverwrite)
	if err != nil {
		return nil, err
	}
	tenantID := input.Run.TenantID
	recipientID := stringParam(input.Params, "recipient_id", "")

	existing, exists, err := a.profiles.Get(ctx, tenantID, recipientID)
	if err != nil {
		return nil, err
	}
	merged, write := Merge(strategy, existing, exists, mapParam(input.Params, "profile"))
	if write {
		if err := a.profiles.Put(ctx, tenantID, recipientID, merged); err != nil {
			return nil, err
		}
	}
	return processed(map[string]any{
		"recipientId": recipientID,
		"merge":       string(strategy),
		"updated":     write,
	}), nil
}
