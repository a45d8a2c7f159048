package actions

import (
	"slices"
	"strings"
	"sync"

	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

// Registry maps step actions to their executors. It is filled at startup
// and read concurrently by dispatch workers.
type Registry struct {
	mu      sync.RWMutex
	actions map[schema.StepAction]Action
}

var _ ActionRegistry = (*Registry)(nil)

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[schema.StepAction]Action)}
}

// Register adds an executor under its Name. A second executor for the same
// action is a CONFLICT.
func (r *Registry) Register(action Action) error {
	if action == nil {
		return schema.NewError(schema.ErrCodeValidation, "action is nil")
	}
	name := schema.StepAction(action.Name())
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "action name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.actions[name]; dup {
		return schema.NewErrorf(schema.ErrCodeConflict, "action %q already registered", name)
	}
	r.actions[name] = action
	return nil
}

// Get returns the executor of action. A step naming an action nothing
// executes is a definition error.
func (r *Registry) Get(action schema.StepAction) (Action, error) {
	r.mu.RLock()
	a, ok := r.actions[action]
	r.mu.RUnlock()
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown action %q", action).
			WithDetails(map[string]any{"action": string(action)})
	}
	return a, nil
}

// List describes the registered executors, sorted by action name.
func (r *Registry) List() []ActionInfo {
	r.mu.RLock()
	infos := make([]ActionInfo, 0, len(r.actions))
	for name, a := range r.actions {
		infos = append(infos, ActionInfo{
			Name:        string(name),
			Description: a.Schema().Description,
			Guarded:     IsGuarded(name),
		})
	}
	r.mu.RUnlock()

	slices.SortFunc(infos, func(a, b ActionInfo) int { return strings.Compare(a.Name, b.Name) })
	return infos
}

// Missing returns the step actions that have no executor, in declaration
// order.
func (r *Registry) Missing() []schema.StepAction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var missing []schema.StepAction
	for _, a := range schema.StepActions {
		if _, ok := r.actions[a]; !ok {
			missing = append(missing, a)
		}
	}
	return missing
}
