package schema

import (
	"encoding/json"
	"time"
)

// RunStatus represents the lifecycle state of a run.
type RunStatus string

const (
	RunStatusNotProcessed RunStatus = "NOT_PROCESSED"
	RunStatusProcessing   RunStatus = "PROCESSING"
	RunStatusWaiting      RunStatus = "WAITING"
	RunStatusProcessed    RunStatus = "PROCESSED"
	RunStatusCanceled     RunStatus = "CANCELED"
	RunStatusError        RunStatus = "ERROR"
)

// Terminal reports whether no further step of the run will execute.
func (s RunStatus) Terminal() bool {
	return s == RunStatusProcessed || s == RunStatusCanceled || s == RunStatusError
}

// Run is one execution instance of an automation.
type Run struct {
	RunID            string            `json:"run_id"`
	TenantID         string            `json:"tenant_id"`
	Source           []string          `json:"source"`
	Scope            string            `json:"scope"`
	DryRunKey        string            `json:"dry_run_key,omitempty"`
	Status           RunStatus         `json:"status"`
	CancelationToken string            `json:"cancelation_token,omitempty"`
	ContextRef       string            `json:"context_ref"`
	Steps            []json.RawMessage `json:"steps,omitempty"`
	Error            string            `json:"error,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// RunContext is the input blob of a run. Accessors that do not name a step
// resolve against these roots.
type RunContext struct {
	Brand     any            `json:"brand,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Profile   map[string]any `json:"profile,omitempty"`
	Recipient string         `json:"recipient,omitempty"`
	Template  string         `json:"template,omitempty"`
}

// RunContextRoots are the accessor roots backed by the run context.
var RunContextRoots = []string{"brand", "data", "profile", "recipient", "template"}

// AsMap returns the context keyed by accessor root.
func (c *RunContext) AsMap() map[string]any {
	if c == nil {
		return map[string]any{}
	}
	m := map[string]any{
		"brand":     c.Brand,
		"data":      c.Data,
		"profile":   c.Profile,
		"recipient": nil,
		"template":  nil,
	}
	if c.Recipient != "" {
		m["recipient"] = c.Recipient
	}
	if c.Template != "" {
		m["template"] = c.Template
	}
	return m
}

// Clone returns a deep copy of the context.
func (c *RunContext) Clone() *RunContext {
	if c == nil {
		return &RunContext{}
	}
	cp := *c
	cp.Brand = CopyValue(c.Brand)
	cp.Data = CopyMap(c.Data)
	cp.Profile = CopyMap(c.Profile)
	return &cp
}
