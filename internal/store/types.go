package store

import (
	"slices"
	"sort"
	"time"

	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

// RunUpdate specifies mutable fields of a run. When ExpectedStatus is set
// the write only applies if the current status is one of them; otherwise a
// CONFLICT error is returned and the record is left untouched.
type RunUpdate struct {
	Status         *schema.RunStatus  `json:"status,omitempty"`
	Error          *string            `json:"error,omitempty"`
	ExpectedStatus []schema.RunStatus `json:"expected_status,omitempty"`
}

// StepUpdate specifies mutable fields of a step. Context replaces the
// stored context when non-nil. ExpectedStatus works as in RunUpdate.
type StepUpdate struct {
	Status         *schema.StepStatus  `json:"status,omitempty"`
	Context        map[string]any      `json:"context,omitempty"`
	Error          *string             `json:"error,omitempty"`
	Retryable      *bool               `json:"retryable,omitempty"`
	ExpectedStatus []schema.StepStatus `json:"expected_status,omitempty"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	TenantID string            `json:"tenant_id,omitempty"`
	Status   *schema.RunStatus `json:"status,omitempty"`
	Limit    int               `json:"limit,omitempty"`
}

// ScheduledJobUpdate specifies mutable fields of a scheduled job.
type ScheduledJobUpdate struct {
	Enabled       *bool      `json:"enabled,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
}

// ScheduledJobFilter specifies criteria for listing scheduled jobs.
type ScheduledJobFilter struct {
	Enabled  *bool  `json:"enabled,omitempty"`
	TenantID string `json:"tenant_id,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

func runStatusConflict(runID string, current schema.RunStatus, expected []schema.RunStatus) *schema.AutomationError {
	return schema.NewErrorf(schema.ErrCodeConflict, "run %q is %s", runID, current).
		WithDetails(map[string]any{"current": string(current), "expected": expected})
}

func stepStatusConflict(stepID string, current schema.StepStatus, expected []schema.StepStatus) *schema.AutomationError {
	return schema.NewErrorf(schema.ErrCodeConflict, "step %q is %s", stepID, current).
		WithDetails(map[string]any{"current": string(current), "expected": expected})
}

func runStatusAllowed(current schema.RunStatus, expected []schema.RunStatus) bool {
	return len(expected) == 0 || slices.Contains(expected, current)
}

func stepStatusAllowed(current schema.StepStatus, expected []schema.StepStatus) bool {
	return len(expected) == 0 || slices.Contains(expected, current)
}

func storeNotFound(resource, id string) *schema.AutomationError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

// IsNotFound reports whether err is a NOT_FOUND store error.
func IsNotFound(err error) bool {
	return schema.HasCode(err, schema.ErrCodeNotFound)
}

// IsConflict reports whether err is a CONFLICT store error.
func IsConflict(err error) bool {
	return schema.HasCode(err, schema.ErrCodeConflict)
}

// orderChain sorts steps by following NextStepID from the head of the
// chain. Steps that are not reachable are appended in creation order.
func orderChain(steps []*schema.Step) []*schema.Step {
	if len(steps) < 2 {
		return steps
	}
	byID := make(map[string]*schema.Step, len(steps))
	for _, st := range steps {
		byID[st.StepID] = st
	}
	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].CreatedAt.Equal(steps[j].CreatedAt) {
			return steps[i].StepID < steps[j].StepID
		}
		return steps[i].CreatedAt.Before(steps[j].CreatedAt)
	})

	out := make([]*schema.Step, 0, len(steps))
	seen := make(map[string]bool, len(steps))
	for _, st := range steps {
		if st.PrevStepID != "" && byID[st.PrevStepID] != nil {
			continue
		}
		for cur := st; cur != nil && !seen[cur.StepID]; cur = byID[cur.NextStepID] {
			seen[cur.StepID] = true
			out = append(out, cur)
		}
	}
	for _, st := range steps {
		if !seen[st.StepID] {
			out = append(out, st)
		}
	}
	return out
}

