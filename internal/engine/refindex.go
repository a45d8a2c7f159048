package engine

import (
	"context"

	"github.com/cgradwohl/backend-services-2-sub001/internal/actions"
	"github.com/cgradwohl/backend-services-2-sub001/internal/expressions"
	"github.com/cgradwohl/backend-services-2-sub001/internal/services"
	"github.com/cgradwohl/backend-services-2-sub001/internal/store"
	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

// RefIndex resolves a run's declared step names to enriched step outputs.
type RefIndex struct {
	store    store.Store
	delivery services.Delivery
}

// NewRefIndex creates a RefIndex. delivery may be nil, in which case
// delivery steps report their step status.
func NewRefIndex(s store.Store, delivery services.Delivery) *RefIndex {
	return &RefIndex{store: s, delivery: delivery}
}

// Lookup returns a RefLookup bound to run.
func (x *RefIndex) Lookup(run *schema.Run) expressions.RefLookup {
	return func(ctx context.Context, name string) (map[string]any, bool, error) {
		return x.Output(ctx, run, name)
	}
}

// Output returns the enriched output of the step declared as name: its
// record fields and params, with context, and for delivery steps the live
// delivery status mapped to the MessageStatus enum.
func (x *RefIndex) Output(ctx context.Context, run *schema.Run, name string) (map[string]any, bool, error) {
	stepID, err := x.store.GetStepRef(ctx, run.RunID, name)
	if store.IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	step, err := x.store.GetStep(ctx, run.RunID, stepID)
	if err != nil {
		return nil, false, err
	}

	out := step.Fields()
	if actions.IsDeliveryAction(step.Action) {
		status, err := x.deliveryStatus(ctx, run.TenantID, step)
		if err != nil {
			return nil, false, err
		}
		out["status"] = int(status)
	}
	return out, true, nil
}

func (x *RefIndex) deliveryStatus(ctx context.Context, tenantID string, step *schema.Step) (schema.MessageStatus, error) {
	messageID, _ := step.Context["messageId"].(string)
	if messageID == "" || x.delivery == nil {
		if step.Status == schema.StepStatusSkipped {
			return schema.MessageStatusSkipped, nil
		}
		return schema.MessageStatusUndeliverable, nil
	}
	status, err := x.delivery.Status(ctx, tenantID, messageID)
	if store.IsNotFound(err) {
		return schema.MessageStatusUndeliverable, nil
	}
	if err != nil {
		return 0, err
	}
	return schema.MapDeliveryStatus(status), nil
}
