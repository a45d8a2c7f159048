package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/cgradwohl/backend-services-2-sub001/internal/actions"
	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

// NewStep stamps a raw step definition with identity and status. The
// action, if and ref keys are lifted onto the record; everything else
// becomes Params. Delivery steps without a message object get explicit
// empty data, override and profile objects. Unknown actions are accepted
// here and rejected at dispatch.
func NewStep(raw map[string]any, run *schema.Run, now time.Time) *schema.Step {
	step := &schema.Step{
		StepID:    uuid.NewString(),
		RunID:     run.RunID,
		TenantID:  run.TenantID,
		Status:    schema.StepStatusNotProcessed,
		Params:    make(map[string]any, len(raw)),
		CreatedAt: now,
		UpdatedAt: now,
	}

	for k, v := range raw {
		switch k {
		case "action":
			s, _ := v.(string)
			step.Action = schema.StepAction(s)
		case "if":
			step.If, _ = v.(string)
		case "ref":
			step.Ref, _ = v.(string)
		default:
			step.Params[k] = v
		}
	}

	if actions.IsDeliveryAction(step.Action) && !actions.HasMessage(step.Params) {
		for _, k := range []string{"data", "override", "profile"} {
			if step.Params[k] == nil {
				step.Params[k] = map[string]any{}
			}
		}
	}
	return step
}
