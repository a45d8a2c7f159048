package engine

import (
	"context"
	"log/slog"
	"slices"

	"github.com/cgradwohl/backend-services-2-sub001/internal/store"
	"github.com/cgradwohl/backend-services-2-sub001/internal/streaming"
	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

// ValidRunTransitions defines the allowed state transitions for runs.
// ERROR leaves for PROCESSING when a retryable step is resumed, or for
// CANCELED while that retry is pending.
var ValidRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusNotProcessed: {schema.RunStatusProcessing, schema.RunStatusWaiting, schema.RunStatusProcessed, schema.RunStatusCanceled, schema.RunStatusError},
	schema.RunStatusProcessing:   {schema.RunStatusProcessing, schema.RunStatusWaiting, schema.RunStatusProcessed, schema.RunStatusCanceled, schema.RunStatusError},
	schema.RunStatusWaiting:      {schema.RunStatusProcessing, schema.RunStatusWaiting, schema.RunStatusCanceled, schema.RunStatusError},
	schema.RunStatusError:        {schema.RunStatusProcessing, schema.RunStatusCanceled},
	schema.RunStatusProcessed:    {},
	schema.RunStatusCanceled:     {},
}

// ValidStepTransitions defines the allowed state transitions for steps.
// PROCESSING may be re-entered by a redelivery after a crash mid-step.
var ValidStepTransitions = map[schema.StepStatus][]schema.StepStatus{
	schema.StepStatusNotProcessed: {schema.StepStatusProcessing, schema.StepStatusSkipped, schema.StepStatusError},
	schema.StepStatusProcessing:   {schema.StepStatusProcessing, schema.StepStatusProcessed, schema.StepStatusSkipped, schema.StepStatusWaiting, schema.StepStatusError},
	schema.StepStatusWaiting:      {schema.StepStatusProcessing, schema.StepStatusError},
	schema.StepStatusError:        {schema.StepStatusProcessing},
	schema.StepStatusProcessed:    {},
	schema.StepStatusSkipped:      {},
}

// runSources returns every status a run may move to `to` from.
func runSources(to schema.RunStatus) []schema.RunStatus {
	var from []schema.RunStatus
	for _, s := range []schema.RunStatus{
		schema.RunStatusNotProcessed, schema.RunStatusProcessing, schema.RunStatusWaiting,
		schema.RunStatusError, schema.RunStatusProcessed, schema.RunStatusCanceled,
	} {
		if slices.Contains(ValidRunTransitions[s], to) {
			from = append(from, s)
		}
	}
	return from
}

// stepSources returns every status a step may move to `to` from.
func stepSources(to schema.StepStatus) []schema.StepStatus {
	var from []schema.StepStatus
	for _, s := range []schema.StepStatus{
		schema.StepStatusNotProcessed, schema.StepStatusProcessing, schema.StepStatusWaiting,
		schema.StepStatusError, schema.StepStatusProcessed, schema.StepStatusSkipped,
	} {
		if slices.Contains(ValidStepTransitions[s], to) {
			from = append(from, s)
		}
	}
	return from
}

// stateMachine persists run and step transitions as conditional writes
// whose expected statuses come from the transition tables, so duplicate
// deliveries racing on the same record converge.
type stateMachine struct {
	store  store.Store
	events streaming.Hub
	logger *slog.Logger
}

// publish emits a status event. Delivery is best-effort.
func (m *stateMachine) publish(ctx context.Context, ev streaming.Event) {
	if m.events == nil {
		return
	}
	if err := m.events.Publish(ctx, ev); err != nil {
		m.logger.DebugContext(ctx, "status event dropped", slog.String("error", err.Error()))
	}
}

// step moves a step to `to`. A CONFLICT error means another delivery
// already moved it somewhere `to` cannot be reached from.
func (m *stateMachine) step(ctx context.Context, step *schema.Step, to schema.StepStatus, update store.StepUpdate) error {
	update.Status = &to
	if update.ExpectedStatus == nil {
		update.ExpectedStatus = stepSources(to)
		if len(update.ExpectedStatus) == 0 {
			return schema.NewErrorf(schema.ErrCodeInvalidTransition, "no step transition leads to %s", to)
		}
	}
	if err := m.store.UpdateStep(ctx, step.RunID, step.StepID, update); err != nil {
		return err
	}
	m.logger.DebugContext(ctx, "step transition",
		slog.String("action", string(step.Action)),
		slog.String("from", string(step.Status)),
		slog.String("to", string(to)),
	)
	step.Status = to
	if update.Context != nil {
		step.Context = update.Context
	}
	m.publish(ctx, streaming.StepEvent(step.TenantID, step.RunID, step.StepID, string(to)))
	return nil
}

// run moves a run to `to`. A run that already reached a state `to` cannot
// be reached from is left alone: a cancellation landing mid-step wins.
func (m *stateMachine) run(ctx context.Context, run *schema.Run, to schema.RunStatus, errMsg string) error {
	update := store.RunUpdate{Status: &to, ExpectedStatus: runSources(to)}
	if len(update.ExpectedStatus) == 0 {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition, "no run transition leads to %s", to)
	}
	if errMsg != "" {
		update.Error = &errMsg
	}
	err := m.store.UpdateRun(ctx, run.RunID, update)
	if store.IsConflict(err) {
		m.logger.DebugContext(ctx, "run transition skipped",
			slog.String("to", string(to)),
			slog.String("reason", err.Error()),
		)
		return nil
	}
	if err != nil {
		return err
	}
	run.Status = to
	m.publish(ctx, streaming.RunEvent(run.TenantID, run.RunID, string(to), errMsg))
	return nil
}
