package schema

import "time"

// Template is a stored automation: either a static step list or a jq
// expression that renders one from {data, profile}.
type Template struct {
	ID         string           `json:"id"`
	TenantID   string           `json:"tenant_id"`
	Alias      string           `json:"alias,omitempty"`
	Steps      []map[string]any `json:"steps,omitempty"`
	Expression string           `json:"expression,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// ScheduledJob is a cron-triggered invocation of a template.
type ScheduledJob struct {
	ID             string      `json:"id"`
	TenantID       string      `json:"tenant_id"`
	TemplateID     string      `json:"template_id"`
	CronExpression string      `json:"cron_expression"`
	Scope          string      `json:"scope"`
	Context        *RunContext `json:"context,omitempty"`
	Enabled        bool        `json:"enabled"`
	LastRunAt      *time.Time  `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time  `json:"next_run_at,omitempty"`
	LastRunStatus  string      `json:"last_run_status,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}
