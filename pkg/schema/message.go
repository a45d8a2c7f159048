package schema

import "time"

// StepMessage is the queue payload that drives one step of one run.
// Delayed wakes reuse the same shape with a future delivery instant.
type StepMessage struct {
	TenantID  string   `json:"tenantId"`
	RunID     string   `json:"runId"`
	StepID    string   `json:"stepId"`
	Scope     string   `json:"scope"`
	Source    []string `json:"source"`
	DryRunKey string   `json:"dryRunKey,omitempty"`
}

// MessageFor builds the message addressing stepID of run.
func MessageFor(run *Run, stepID string) StepMessage {
	src := make([]string, len(run.Source))
	copy(src, run.Source)
	return StepMessage{
		TenantID:  run.TenantID,
		RunID:     run.RunID,
		StepID:    stepID,
		Scope:     run.Scope,
		Source:    src,
		DryRunKey: run.DryRunKey,
	}
}

// DelayItem is the durable record of a delay longer than the short-wake
// horizon. It becomes due at ExpiresAt, when the sweep moves it to a timed
// queue message.
type DelayItem struct {
	ID         string      `json:"id"`
	Message    StepMessage `json:"message"`
	TargetTime time.Time   `json:"target_time"`
	ExpiresAt  time.Time   `json:"expires_at"`
	CreatedAt  time.Time   `json:"created_at"`
}

// TriggerRequest is the ingestion payload that creates a run.
type TriggerRequest struct {
	Steps            []map[string]any `json:"steps"`
	Context          *RunContext      `json:"context"`
	RunID            string           `json:"runId"`
	Scope            string           `json:"scope"`
	Source           []string         `json:"source"`
	TenantID         string           `json:"tenantId"`
	DryRunKey        string           `json:"dryRunKey,omitempty"`
	CancelationToken string           `json:"cancelationToken,omitempty"`
}

// TemplateInvocation starts a run from a stored template. An empty RunID
// gets a fresh one.
type TemplateInvocation struct {
	TenantID         string      `json:"tenantId"`
	Template         string      `json:"template"`
	RunID            string      `json:"runId,omitempty"`
	Scope            string      `json:"scope"`
	Source           []string    `json:"source"`
	DryRunKey        string      `json:"dryRunKey,omitempty"`
	CancelationToken string      `json:"cancelationToken,omitempty"`
	Context          *RunContext `json:"context,omitempty"`
}
