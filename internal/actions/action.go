package actions

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

// Action executes one step action.
type Action interface {
	Name() string
	Schema() ActionSchema
	Execute(ctx context.Context, input ActionInput) (*ActionOutput, error)
	Validate(params map[string]any) error
}

// ActionRegistry manages the lifecycle and lookup of available actions.
type ActionRegistry interface {
	Register(action Action) error
	Get(action schema.StepAction) (Action, error)
	List() []ActionInfo
}

// ActionSchema describes the params contract of an action.
type ActionSchema struct {
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
	Description string          `json:"description,omitempty"`
}

// ActionInput is the data provided to an action at execution time. Params
// are the step params with accessors resolved.
type ActionInput struct {
	Run        *schema.Run
	Step       *schema.Step
	Params     map[string]any
	RunContext *schema.RunContext
	Now        time.Time
}

// ActionOutput is the result of an action execution. Status is PROCESSED,
// SKIPPED or WAITING; Context is stored on the step.
type ActionOutput struct {
	Status  schema.StepStatus
	Context map[string]any
}

// ActionInfo is a summary of a registered action for listing.
type ActionInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Guarded     bool   `json:"guarded"`
}

func processed(ctx map[string]any) *ActionOutput {
	if ctx == nil {
		ctx = map[string]any{}
	}
	return &ActionOutput{Status: schema.StepStatusProcessed, Context: ctx}
}

// Invoker starts a run from a template and returns its id. A CONFLICT
// error means a run with the requested id already exists.
type Invoker interface {
	InvokeTemplate(ctx context.Context, inv schema.TemplateInvocation) (runID string, err error)
}

// Canceler cancels every run registered under a token except exceptRunID.
type Canceler interface {
	Cancel(ctx context.Context, tenantID, token, exceptRunID string) (int, error)
}

// Waker schedules a step message for delivery at target.
type Waker interface {
	ScheduleWake(ctx context.Context, msg schema.StepMessage, target time.Time) error
}

// ContextStore reads and writes run context blobs.
type ContextStore interface {
	GetRunContext(ctx context.Context, key string) (*schema.RunContext, error)
	PutRunContext(ctx context.Context, key string, rc *schema.RunContext) error
}
