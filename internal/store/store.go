package store

import (
	"context"
	"time"

	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

// Store defines the persistence layer contract: durable key-value records
// for runs, steps, step references, cancellation tokens, idempotency
// sentinels and delay work items, plus the run context blobs.
// All implementations must be safe for concurrent use.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *schema.Run) error
	GetRun(ctx context.Context, runID string) (*schema.Run, error)
	UpdateRun(ctx context.Context, runID string, update RunUpdate) error
	ListRuns(ctx context.Context, filter RunFilter) ([]*schema.Run, error)

	// Run context blobs
	PutRunContext(ctx context.Context, key string, rc *schema.RunContext) error
	GetRunContext(ctx context.Context, key string) (*schema.RunContext, error)

	// Steps
	CreateSteps(ctx context.Context, steps []*schema.Step) error
	GetStep(ctx context.Context, runID, stepID string) (*schema.Step, error)
	ListSteps(ctx context.Context, runID string) ([]*schema.Step, error)
	UpdateStep(ctx context.Context, runID, stepID string, update StepUpdate) error

	// Step references
	PutStepRefs(ctx context.Context, runID string, refs map[string]string) error
	GetStepRef(ctx context.Context, runID, name string) (string, error)

	// Cancellation tokens
	PutCancelationToken(ctx context.Context, tenantID, token, runID string) error
	ListCancelationTokenRuns(ctx context.Context, tenantID, token string) ([]string, error)

	// Idempotency sentinels. Claim returns false when an unexpired sentinel
	// for the same tenant and key already exists.
	ClaimIdempotencyKey(ctx context.Context, tenantID, key string, expiresAt time.Time) (bool, error)

	// Delay work items
	PutDelayItem(ctx context.Context, item *schema.DelayItem) error
	ListDueDelayItems(ctx context.Context, now time.Time, limit int) ([]*schema.DelayItem, error)
	DeleteDelayItem(ctx context.Context, id string) error

	// Templates
	PutTemplate(ctx context.Context, tpl *schema.Template) error
	GetTemplate(ctx context.Context, tenantID, idOrAlias string) (*schema.Template, error)

	// Scheduled Jobs
	CreateScheduledJob(ctx context.Context, job *schema.ScheduledJob) error
	ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*schema.ScheduledJob, error)
	UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}
