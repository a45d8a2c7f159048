package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/cgradwohl/backend-services-2-sub001/internal/queue"
	"github.com/cgradwohl/backend-services-2-sub001/internal/store"
	"github.com/cgradwohl/backend-services-2-sub001/internal/validation"
	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

// Orchestrator turns a run's raw step list into a persisted chain and
// starts it.
type Orchestrator struct {
	store  store.Store
	queue  queue.Queue
	now    func() time.Time
	logger *slog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(s store.Store, q queue.Queue, now func() time.Time, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{store: s, queue: q, now: now, logger: logger}
}

// Serialize validates refs and conditions, links the steps into a chain,
// persists them with their ref index and enqueues the first step. Nothing
// is persisted when validation fails. An empty list leaves the run inert.
func (o *Orchestrator) Serialize(ctx context.Context, run *schema.Run, rawSteps []map[string]any) ([]*schema.Step, error) {
	if err := validation.ValidateSteps(rawSteps).ToError(); err != nil {
		return nil, err
	}
	if len(rawSteps) == 0 {
		return nil, nil
	}

	now := o.now()
	steps := make([]*schema.Step, len(rawSteps))
	refs := make(map[string]string)
	for i, raw := range rawSteps {
		// Distinct timestamps keep creation order stable in the store.
		steps[i] = NewStep(raw, run, now.Add(time.Duration(i)*time.Microsecond))
		if steps[i].Ref != "" {
			refs[steps[i].Ref] = steps[i].StepID
		}
	}
	for i := range steps {
		if i > 0 {
			steps[i].PrevStepID = steps[i-1].StepID
		}
		if i < len(steps)-1 {
			steps[i].NextStepID = steps[i+1].StepID
		}
	}

	if err := o.store.CreateSteps(ctx, steps); err != nil {
		return nil, err
	}
	if len(refs) > 0 {
		if err := o.store.PutStepRefs(ctx, run.RunID, refs); err != nil {
			return nil, err
		}
	}

	if err := o.queue.Enqueue(ctx, schema.MessageFor(run, steps[0].StepID)); err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "enqueue first step").WithCause(err)
	}
	o.logger.InfoContext(ctx, "run serialized",
		slog.Int("steps", len(steps)),
		slog.Int("refs", len(refs)),
	)
	return steps, nil
}
