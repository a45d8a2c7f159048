package actions

import (
	"log/slog"
	"time"

	"github.com/cgradwohl/backend-services-2-sub001/internal/services"
	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

// Deps are the collaborators the built-in actions call.
type Deps struct {
	Delivery services.Delivery
	Lists    services.Lists
	Profiles services.Profiles
	Webhook  services.Webhook
	Contexts ContextStore
	Invoker  Invoker
	Canceler Canceler
	Waker    Waker
	Now      func() time.Time
	Logger   *slog.Logger
}

// RegisterBuiltins registers all built-in actions in the given registry.
func RegisterBuiltins(reg *Registry, deps Deps) error {
	all := []Action{
		NewSendAction(deps.Delivery),
		NewSendListAction(deps.Delivery),
		NewFetchDataAction(deps.Webhook, deps.Contexts, deps.Logger),
		NewSubscribeAction(deps.Lists),
		NewUpdateProfileAction(deps.Profiles),
		NewCancelAction(deps.Canceler),
		NewInvokeAction(deps.Invoker),
		NewDelayAction(deps.Waker, deps.Now),
	}
	for _, a := range all {
		if err := reg.Register(a); err != nil {
			return err
		}
	}
	if missing := reg.Missing(); len(missing) > 0 {
		return schema.NewErrorf(schema.ErrCodeExecution, "no executor registered for %v", missing)
	}
	return nil
}

// IsGuarded reports whether an action's side effect is deduplicated by the
// idempotency guard.
func IsGuarded(action schema.StepAction) bool {
	switch action {
	case schema.ActionSend, schema.ActionSendList, schema.ActionFetchData, schema.ActionSubscribe:
		return true
	default:
		return false
	}
}

// IsDeliveryAction reports whether an action hands a message to the
// delivery pipeline.
func IsDeliveryAction(action schema.StepAction) bool {
	return action == schema.ActionSend || action == schema.ActionSendList
}
