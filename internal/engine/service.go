package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cgradwohl/backend-services-2-sub001/internal/logging"
	"github.com/cgradwohl/backend-services-2-sub001/internal/services"
	"github.com/cgradwohl/backend-services-2-sub001/internal/store"
	"github.com/cgradwohl/backend-services-2-sub001/internal/streaming"
	"github.com/cgradwohl/backend-services-2-sub001/internal/validation"
	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

// Service is the ingestion and query surface of the engine.
type Service struct {
	store        store.Store
	validator    *validation.JSONSchemaValidator
	orchestrator *Orchestrator
	templates    services.Templates
	cancels      *CancellationService
	events       streaming.Hub
	now          func() time.Time
	logger       *slog.Logger
}

// RunView is a run together with its steps in chain order.
type RunView struct {
	Run    *schema.Run      `json:"run"`
	Status schema.RunStatus `json:"status"`
	Steps  []*schema.Step   `json:"steps"`
}

// Invoke validates a trigger, creates the run and its context blob,
// registers the cancellation token and serializes the steps. A definition
// error creates nothing. A cycle creates the run in ERROR and returns it
// together with the CYCLE_DETECTED error.
func (s *Service) Invoke(ctx context.Context, req *schema.TriggerRequest) (*schema.Run, error) {
	if req == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "trigger request is nil")
	}
	if req.Source == nil {
		req.Source = []string{}
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	if err := s.validator.ValidateTrigger(req); err != nil {
		return nil, err
	}
	if err := validation.ValidateSteps(req.Steps).ToError(); err != nil {
		return nil, err
	}
	ctx = logging.WithIDs(ctx, req.TenantID, req.RunID, "")

	rawSteps := make([]json.RawMessage, len(req.Steps))
	for i, st := range req.Steps {
		b, err := json.Marshal(st)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "step is not serializable").WithCause(err)
		}
		rawSteps[i] = b
	}

	// A fresh context key per attempt keeps a duplicate invoke from
	// overwriting the context of the run that already exists.
	now := s.now()
	contextRef := "context/" + req.RunID + "/" + uuid.NewString()
	if err := s.store.PutRunContext(ctx, contextRef, req.Context); err != nil {
		return nil, err
	}
	run := &schema.Run{
		RunID:            req.RunID,
		TenantID:         req.TenantID,
		Source:           req.Source,
		Scope:            req.Scope,
		DryRunKey:        req.DryRunKey,
		Status:           schema.RunStatusNotProcessed,
		CancelationToken: req.CancelationToken,
		ContextRef:       contextRef,
		Steps:            rawSteps,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	if run.CancelationToken != "" {
		if err := s.store.PutCancelationToken(ctx, run.TenantID, run.CancelationToken, run.RunID); err != nil {
			return nil, s.abort(ctx, run, err)
		}
	}

	fsm := &stateMachine{store: s.store, events: s.events, logger: s.logger}
	if err := DetectCycle(run.Source, req.Steps); err != nil {
		if werr := fsm.run(ctx, run, schema.RunStatusError, schema.UserMessage(err)); werr != nil {
			return nil, werr
		}
		s.logger.InfoContext(ctx, "run rejected", slog.String("reason", err.Error()))
		return run, err
	}

	if _, err := s.orchestrator.Serialize(ctx, run, req.Steps); err != nil {
		return nil, s.abort(ctx, run, err)
	}
	s.logger.InfoContext(ctx, "run created",
		slog.String("scope", run.Scope),
		slog.Any("source", run.Source),
	)
	return run, nil
}

// abort marks a half-created run as failed and returns err.
func (s *Service) abort(ctx context.Context, run *schema.Run, err error) error {
	fsm := &stateMachine{store: s.store, events: s.events, logger: s.logger}
	if werr := fsm.run(ctx, run, schema.RunStatusError, schema.UserMessage(err)); werr != nil {
		s.logger.ErrorContext(ctx, "failed to mark aborted run", slog.String("error", werr.Error()))
	}
	return err
}

// InvokeTemplate renders a stored template into steps and invokes them.
// It implements actions.Invoker.
func (s *Service) InvokeTemplate(ctx context.Context, inv schema.TemplateInvocation) (string, error) {
	rc := inv.Context
	if rc == nil {
		rc = &schema.RunContext{}
	}
	steps, err := s.templates.Steps(ctx, inv.TenantID, inv.Template, rc.Data, rc.Profile)
	if err != nil {
		return "", err
	}
	run, err := s.Invoke(ctx, &schema.TriggerRequest{
		Steps:            steps,
		Context:          rc,
		RunID:            inv.RunID,
		Scope:            inv.Scope,
		Source:           inv.Source,
		TenantID:         inv.TenantID,
		DryRunKey:        inv.DryRunKey,
		CancelationToken: inv.CancelationToken,
	})
	if run != nil {
		return run.RunID, err
	}
	return "", err
}

// Lookup returns a run with its steps.
func (s *Service) Lookup(ctx context.Context, runID string) (*RunView, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	steps, err := s.store.ListSteps(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &RunView{Run: run, Status: run.Status, Steps: steps}, nil
}

// Cancel cancels every run registered under token.
func (s *Service) Cancel(ctx context.Context, tenantID, token string) (int, error) {
	return s.cancels.Cancel(ctx, tenantID, token, "")
}
