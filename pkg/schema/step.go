package schema

import "time"

// StepAction enumerates the actions a step can perform.
type StepAction string

const (
	ActionSend          StepAction = "send"
	ActionSendList      StepAction = "send-list"
	ActionDelay         StepAction = "delay"
	ActionFetchData     StepAction = "fetch-data"
	ActionInvoke        StepAction = "invoke"
	ActionSubscribe     StepAction = "subscribe"
	ActionUpdateProfile StepAction = "update-profile"
	ActionCancel        StepAction = "cancel"
)

// StepActions lists every action a step may declare.
var StepActions = []StepAction{
	ActionSend, ActionSendList, ActionDelay, ActionFetchData,
	ActionInvoke, ActionSubscribe, ActionUpdateProfile, ActionCancel,
}

// StepStatus represents the lifecycle state of a step.
type StepStatus string

const (
	StepStatusNotProcessed StepStatus = "NOT_PROCESSED"
	StepStatusProcessing   StepStatus = "PROCESSING"
	StepStatusWaiting      StepStatus = "WAITING"
	StepStatusSkipped      StepStatus = "SKIPPED"
	StepStatusProcessed    StepStatus = "PROCESSED"
	StepStatusError        StepStatus = "ERROR"
)

// Terminal reports whether the step has reached a final state.
func (s StepStatus) Terminal() bool {
	return s == StepStatusSkipped || s == StepStatusProcessed || s == StepStatusError
}

// Step is one action node in a run's chain. Branching is expressed only by
// skipping: the chain is a singly linked list through PrevStepID/NextStepID.
// Retryable marks an ERROR step that failed on an unclassified error; a
// redelivered message may resume it.
type Step struct {
	StepID     string         `json:"step_id"`
	RunID      string         `json:"run_id"`
	TenantID   string         `json:"tenant_id"`
	Action     StepAction     `json:"action"`
	Status     StepStatus     `json:"status"`
	PrevStepID string         `json:"prev_step_id,omitempty"`
	NextStepID string         `json:"next_step_id,omitempty"`
	If         string         `json:"if,omitempty"`
	Ref        string         `json:"ref,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
	Error      string         `json:"error,omitempty"`
	Retryable  bool           `json:"retryable,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Fields flattens the step into the shape condition expressions and step
// references see: params at the top level next to the record fields.
func (s *Step) Fields() map[string]any {
	out := make(map[string]any, len(s.Params)+8)
	for k, v := range s.Params {
		out[k] = v
	}
	out["stepId"] = s.StepID
	out["runId"] = s.RunID
	out["action"] = string(s.Action)
	out["status"] = string(s.Status)
	out["context"] = s.Context
	if s.Ref != "" {
		out["ref"] = s.Ref
	}
	if s.If != "" {
		out["if"] = s.If
	}
	if s.Context == nil {
		out["context"] = map[string]any{}
	}
	return out
}

// Clone returns a deep copy of the step.
func (s *Step) Clone() *Step {
	cp := *s
	cp.Context = CopyMap(s.Context)
	cp.Params = CopyMap(s.Params)
	return &cp
}

// MessageStatus is the fixed enum a send step's delivery status is mapped
// to when another step references it.
type MessageStatus int

const (
	MessageStatusSkipped MessageStatus = iota
	MessageStatusQueued
	MessageStatusSent
	MessageStatusDelivered
	MessageStatusOpened
	MessageStatusClicked
	MessageStatusUndeliverable
)

// MessageStatusEnum is the binding exposed to condition expressions.
func MessageStatusEnum() map[string]any {
	return map[string]any{
		"SKIPPED":       int(MessageStatusSkipped),
		"QUEUED":        int(MessageStatusQueued),
		"SENT":          int(MessageStatusSent),
		"DELIVERED":     int(MessageStatusDelivered),
		"OPENED":        int(MessageStatusOpened),
		"CLICKED":       int(MessageStatusClicked),
		"UNDELIVERABLE": int(MessageStatusUndeliverable),
	}
}

// MapDeliveryStatus maps a delivery pipeline status string to the enum.
// Anything unknown maps to undeliverable.
func MapDeliveryStatus(status string) MessageStatus {
	switch status {
	case "SKIPPED", "FILTERED":
		return MessageStatusSkipped
	case "ENQUEUED", "QUEUED":
		return MessageStatusQueued
	case "SENT":
		return MessageStatusSent
	case "DELIVERED":
		return MessageStatusDelivered
	case "OPENED":
		return MessageStatusOpened
	case "CLICKED":
		return MessageStatusClicked
	default:
		return MessageStatusUndeliverable
	}
}
