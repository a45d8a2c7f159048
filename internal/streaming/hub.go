package streaming

import "context"

// Event is a run or step status change. Type is "run.<STATUS>" or
// "step.<STATUS>".
type Event struct {
	TenantID string `json:"tenantId"`
	RunID    string `json:"runId"`
	StepID   string `json:"stepId,omitempty"`
	Type     string `json:"type"`
	Error    string `json:"error,omitempty"`
}

// RunEvent builds the event for a run entering status.
func RunEvent(tenantID, runID, status, errMsg string) Event {
	return Event{TenantID: tenantID, RunID: runID, Type: "run." + status, Error: errMsg}
}

// StepEvent builds the event for a step entering status.
func StepEvent(tenantID, runID, stepID, status string) Event {
	return Event{TenantID: tenantID, RunID: runID, StepID: stepID, Type: "step." + status}
}

// Filter specifies which events a subscriber wants to receive. Empty
// fields match everything.
type Filter struct {
	TenantID string   `json:"tenantId,omitempty"`
	RunID    string   `json:"runId,omitempty"`
	Types    []string `json:"types,omitempty"`
}

// Hub provides pub/sub for status changes.
type Hub interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(ctx context.Context, filter Filter) (<-chan Event, func(), error)
}
