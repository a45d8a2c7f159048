package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cgradwohl/backend-services-2-sub001/internal/actions"
	"github.com/cgradwohl/backend-services-2-sub001/internal/expressions"
	"github.com/cgradwohl/backend-services-2-sub001/internal/logging"
	"github.com/cgradwohl/backend-services-2-sub001/internal/queue"
	"github.com/cgradwohl/backend-services-2-sub001/internal/store"
	"github.com/cgradwohl/backend-services-2-sub001/internal/streaming"
	"github.com/cgradwohl/backend-services-2-sub001/internal/validation"
	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

// earlyWakeTolerance is how far ahead of its recorded wake time a waiting
// delay step may be woken.
const earlyWakeTolerance = time.Second

// DispatcherDeps holds the collaborators of the dispatcher.
type DispatcherDeps struct {
	Store      store.Store
	Queue      queue.Queue
	Registry   actions.ActionRegistry
	Conditions *expressions.ConditionEvaluator
	Validator  *validation.JSONSchemaValidator
	Refs       *RefIndex
	Guard      *IdempotencyGuard
	Breakers   *CircuitBreakerRegistry
	Reporter   ErrorReporter
	Events     streaming.Hub
	Now        func() time.Time
	Logger     *slog.Logger
}

// Dispatcher executes one step message: it loads the run and step,
// evaluates the condition, runs the action and moves the chain along.
type Dispatcher struct {
	DispatcherDeps
	fsm *stateMachine
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Reporter == nil {
		deps.Reporter = LogReporter{Logger: deps.Logger}
	}
	return &Dispatcher{
		DispatcherDeps: deps,
		fsm:            &stateMachine{store: deps.Store, events: deps.Events, logger: deps.Logger},
	}
}

// Dispatch handles one delivery of msg. A nil return means the message is
// done with, whether it executed or was dropped as stale. A non-nil return
// is an unclassified error the transport should retry.
func (d *Dispatcher) Dispatch(ctx context.Context, msg schema.StepMessage) error {
	ctx = logging.WithIDs(ctx, msg.TenantID, msg.RunID, msg.StepID)

	run, err := d.Store.GetRun(ctx, msg.RunID)
	if store.IsNotFound(err) {
		d.Logger.WarnContext(ctx, "dropping message for unknown run")
		return nil
	}
	if err != nil {
		return err
	}
	step, err := d.Store.GetStep(ctx, msg.RunID, msg.StepID)
	if store.IsNotFound(err) {
		d.Logger.WarnContext(ctx, "dropping message for unknown step")
		return nil
	}
	if err != nil {
		return err
	}

	if reason := d.stale(run, step); reason != "" {
		d.Logger.DebugContext(ctx, "dropping message", slog.String("reason", reason))
		if reason == "step finished" {
			return d.repairChain(ctx, run, step)
		}
		return nil
	}

	if err := d.execute(ctx, run, step); err != nil {
		return d.fail(ctx, msg, run, step, err)
	}
	return nil
}

// stale returns why a message must not execute, or "".
func (d *Dispatcher) stale(run *schema.Run, step *schema.Step) string {
	switch run.Status {
	case schema.RunStatusCanceled:
		return "run canceled"
	case schema.RunStatusProcessed:
		return "run processed"
	case schema.RunStatusError:
		if step.Status != schema.StepStatusError || !step.Retryable {
			return "run failed"
		}
	}

	switch step.Status {
	case schema.StepStatusProcessed, schema.StepStatusSkipped:
		return "step finished"
	case schema.StepStatusError:
		if !step.Retryable {
			return "step failed"
		}
	case schema.StepStatusWaiting:
		if wakeAt, ok := actions.ExpectedWakeAt(step); ok && d.Now().Before(wakeAt.Add(-earlyWakeTolerance)) {
			return "early wake"
		}
	}
	return ""
}

// repairChain finishes the advance of a step whose redelivered message
// shows the previous delivery crashed between persisting the step and
// enqueueing its successor.
func (d *Dispatcher) repairChain(ctx context.Context, run *schema.Run, step *schema.Step) error {
	if run.Status.Terminal() {
		return nil
	}
	if step.NextStepID == "" {
		return d.fsm.run(ctx, run, schema.RunStatusProcessed, "")
	}
	next, err := d.Store.GetStep(ctx, run.RunID, step.NextStepID)
	if err != nil {
		return err
	}
	if next.Status != schema.StepStatusNotProcessed {
		return nil
	}
	d.Logger.InfoContext(ctx, "re-enqueueing successor of finished step")
	return d.Queue.Enqueue(ctx, schema.MessageFor(run, next.StepID))
}

func (d *Dispatcher) execute(ctx context.Context, run *schema.Run, step *schema.Step) error {
	// A waiting step passed its condition on the first phase; WAITING
	// cannot move to SKIPPED.
	waking := step.Status == schema.StepStatusWaiting
	if step.Status == schema.StepStatusError {
		if err := d.begin(ctx, run, step); err != nil {
			return err
		}
		d.Logger.InfoContext(ctx, "resuming retryable step")
	}

	rc, err := d.Store.GetRunContext(ctx, run.ContextRef)
	if err != nil {
		return err
	}

	refs := d.Refs.Lookup(run)
	resolver := expressions.NewResolver(rc.AsMap(), refs)
	params, err := resolver.ResolveParams(ctx, step.Params)
	if err != nil {
		return err
	}
	params = ExtendParams(step.Action, params, rc)

	if step.If != "" && !waking {
		fields := step.Fields()
		for k, v := range params {
			fields[k] = v
		}
		ok, err := d.Conditions.Evaluate(ctx, step.If, fields, refs)
		if err != nil {
			return err
		}
		if !ok {
			if err := d.fsm.step(ctx, step, schema.StepStatusSkipped, store.StepUpdate{Context: map[string]any{}}); err != nil {
				return d.lostRace(ctx, err)
			}
			return d.advance(ctx, run, step)
		}
	}

	act, err := d.Registry.Get(step.Action)
	if err != nil {
		return err
	}
	if !actions.HasMessage(params) {
		if err := d.Validator.ValidateInput(params, act.Schema().InputSchema); err != nil {
			return err
		}
	}
	if err := act.Validate(params); err != nil {
		return err
	}

	if step.Status != schema.StepStatusProcessing {
		if err := d.begin(ctx, run, step); err != nil {
			return err
		}
	}

	out, err := d.perform(ctx, act, actions.ActionInput{
		Run:        run,
		Step:       step,
		Params:     params,
		RunContext: rc,
		Now:        d.Now(),
	})
	if err != nil {
		return err
	}

	if err := d.fsm.step(ctx, step, out.Status, store.StepUpdate{Context: out.Context}); err != nil {
		return d.lostRace(ctx, err)
	}
	if out.Status == schema.StepStatusWaiting {
		return d.fsm.run(ctx, run, schema.RunStatusWaiting, "")
	}
	return d.advance(ctx, run, step)
}

// begin moves the step and run to PROCESSING, clearing a previous error.
func (d *Dispatcher) begin(ctx context.Context, run *schema.Run, step *schema.Step) error {
	noErr, notRetryable := "", false
	if err := d.fsm.step(ctx, step, schema.StepStatusProcessing, store.StepUpdate{
		Error:     &noErr,
		Retryable: &notRetryable,
	}); err != nil {
		return d.lostRace(ctx, err)
	}
	step.Error, step.Retryable = "", false
	return d.fsm.run(ctx, run, schema.RunStatusProcessing, "")
}

// perform executes act, adding the idempotency guard and circuit breaker for
// actions with external effects.
func (d *Dispatcher) perform(ctx context.Context, act actions.Action, input actions.ActionInput) (*actions.ActionOutput, error) {
	if !actions.IsGuarded(input.Step.Action) {
		return act.Execute(ctx, input)
	}

	name := act.Name()
	if d.Breakers != nil {
		if err := d.Breakers.AllowRequest(name); err != nil {
			return nil, err
		}
	}
	if d.Guard != nil {
		act = d.Guard.Wrap(act)
	}
	out, err := act.Execute(ctx, input)
	if d.Breakers != nil {
		if IsRetryableError(err) {
			d.Breakers.RecordFailure(name)
		} else {
			d.Breakers.RecordSuccess(name)
		}
	}
	return out, err
}

// advance enqueues the successor of step or completes the run.
func (d *Dispatcher) advance(ctx context.Context, run *schema.Run, step *schema.Step) error {
	if step.NextStepID == "" {
		if err := d.fsm.run(ctx, run, schema.RunStatusProcessed, ""); err != nil {
			return err
		}
		d.Logger.InfoContext(ctx, "run processed")
		return nil
	}
	if run.Status == schema.RunStatusWaiting {
		if err := d.fsm.run(ctx, run, schema.RunStatusProcessing, ""); err != nil {
			return err
		}
	}
	if err := d.Queue.Enqueue(ctx, schema.MessageFor(run, step.NextStepID)); err != nil {
		return schema.NewError(schema.ErrCodeExecution, "enqueue next step").WithCause(err)
	}
	return nil
}

// errLostRace marks a step write that found the step already moved by
// another delivery. The message is dropped.
var errLostRace = errors.New("step moved by another delivery")

func (d *Dispatcher) lostRace(ctx context.Context, err error) error {
	if store.IsConflict(err) {
		d.Logger.DebugContext(ctx, "step already moved", slog.String("reason", err.Error()))
		return errLostRace
	}
	return err
}

// fail records err on the step and run. Domain errors end the run;
// unclassified errors leave the step retryable, are reported and returned
// so the transport redelivers the message.
func (d *Dispatcher) fail(ctx context.Context, msg schema.StepMessage, run *schema.Run, step *schema.Step, err error) error {
	if errors.Is(err, errLostRace) {
		return nil
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		// Shutting down: leave the records for the redelivery.
		return err
	}

	retryable := IsRetryableError(err)
	userMsg := schema.UserMessage(err)
	if werr := d.fsm.step(ctx, step, schema.StepStatusError, store.StepUpdate{
		Error:     &userMsg,
		Retryable: &retryable,
	}); werr != nil && !store.IsConflict(werr) {
		d.Logger.ErrorContext(ctx, "failed to record step error", slog.String("error", werr.Error()))
	}
	if werr := d.fsm.run(ctx, run, schema.RunStatusError, userMsg); werr != nil {
		d.Logger.ErrorContext(ctx, "failed to record run error", slog.String("error", werr.Error()))
	}

	if !retryable {
		d.Logger.WarnContext(ctx, "step failed",
			slog.String("action", string(step.Action)),
			slog.String("error", err.Error()),
		)
		return nil
	}
	d.Reporter.Report(ctx, err, msg)
	return err
}

// ExtendParams fills delivery params from the run context. Step values win;
// data and profile objects are deep-merged over the run's. Steps that carry
// a fully-formed message are left as they are. subscribe and update-profile
// default their recipient to the run recipient.
func ExtendParams(action schema.StepAction, params map[string]any, rc *schema.RunContext) map[string]any {
	if rc == nil {
		return params
	}
	switch {
	case actions.IsDeliveryAction(action):
		if actions.HasMessage(params) {
			return params
		}
		setDefault(params, "brand", rc.Brand)
		setDefault(params, "recipient", nonEmpty(rc.Recipient))
		setDefault(params, "template", nonEmpty(rc.Template))
		for _, k := range []string{"data", "profile"} {
			var base map[string]any
			if k == "data" {
				base = rc.Data
			} else {
				base = rc.Profile
			}
			own, _ := params[k].(map[string]any)
			merged, _ := actions.Merge(actions.MergeOverwrite, base, true, own)
			if merged == nil {
				merged = map[string]any{}
			}
			params[k] = merged
		}
	case action == schema.ActionSubscribe || action == schema.ActionUpdateProfile:
		setDefault(params, "recipient_id", nonEmpty(rc.Recipient))
	}
	return params
}

func setDefault(m map[string]any, key string, v any) {
	if v == nil {
		return
	}
	if cur, ok := m[key]; ok && cur != nil && cur != "" {
		return
	}
	m[key] = v
}

func nonEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
