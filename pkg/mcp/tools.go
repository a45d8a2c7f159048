package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

const defaultScope = "published/production"

// handleInvoke starts a run from an inline step list.
func (s *AutomationServer) handleInvoke(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var trigger schema.TriggerRequest
	if err := req.BindArguments(&trigger); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if trigger.TenantID == "" {
		return mcp.NewToolResultError("tenantId is required"), nil
	}
	if trigger.Steps == nil {
		return mcp.NewToolResultError("steps is required"), nil
	}
	if len(trigger.Source) == 0 {
		trigger.Source = []string{"mcp"}
	}
	if trigger.Scope == "" {
		trigger.Scope = defaultScope
	}
	if trigger.Context == nil {
		trigger.Context = &schema.RunContext{}
	}

	s.captureSession(ctx, trigger.TenantID)

	run, err := s.service.Invoke(ctx, &trigger)
	if err != nil {
		return toolError("invoke failed", err), nil
	}
	return marshalResult(map[string]any{
		"runId":  run.RunID,
		"status": run.Status,
	})
}

// handleInvokeTemplate starts a run from a stored template.
func (s *AutomationServer) handleInvokeTemplate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var inv schema.TemplateInvocation
	if err := req.BindArguments(&inv); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if inv.TenantID == "" {
		return mcp.NewToolResultError("tenantId is required"), nil
	}
	if inv.Template == "" {
		return mcp.NewToolResultError("template is required"), nil
	}
	if len(inv.Source) == 0 {
		inv.Source = []string{"mcp"}
	}
	if inv.Scope == "" {
		inv.Scope = defaultScope
	}

	s.captureSession(ctx, inv.TenantID)

	runID, err := s.service.InvokeTemplate(ctx, inv)
	if err != nil {
		return toolError("invoke failed", err), nil
	}
	return marshalResult(map[string]any{"runId": runID})
}

// handleStatus returns a run with its steps in chain order.
func (s *AutomationServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("runId")
	if err != nil {
		return mcp.NewToolResultError("runId is required"), nil
	}

	view, lookupErr := s.service.Lookup(ctx, runID)
	if lookupErr != nil {
		return toolError("status query failed", lookupErr), nil
	}
	return marshalResult(view)
}

// handleCancel cancels every run under a token.
func (s *AutomationServer) handleCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID, err := req.RequireString("tenantId")
	if err != nil {
		return mcp.NewToolResultError("tenantId is required"), nil
	}
	token, err := req.RequireString("token")
	if err != nil {
		return mcp.NewToolResultError("token is required"), nil
	}

	s.captureSession(ctx, tenantID)

	n, cancelErr := s.service.Cancel(ctx, tenantID, token)
	if cancelErr != nil {
		return toolError("cancel failed", cancelErr), nil
	}
	return marshalResult(map[string]any{
		"ok":       true,
		"token":    token,
		"canceled": n,
	})
}

// handleDefineTemplate stores a template given as either static steps or a
// jq expression.
func (s *AutomationServer) handleDefineTemplate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var tpl schema.Template
	if err := bindTemplate(req, &tpl); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if tpl.TenantID == "" {
		return mcp.NewToolResultError("tenantId is required"), nil
	}
	if (tpl.Steps == nil) == (tpl.Expression == "") {
		return mcp.NewToolResultError("exactly one of steps or expression is required"), nil
	}
	if tpl.ID == "" {
		tpl.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	tpl.CreatedAt, tpl.UpdatedAt = now, now

	if err := s.templates.PutTemplate(ctx, &tpl); err != nil {
		return toolError("failed to store template", err), nil
	}
	return marshalResult(map[string]any{"id": tpl.ID, "alias": tpl.Alias})
}

// handleSchedule registers a cron job for a template.
func (s *AutomationServer) handleSchedule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID, err := req.RequireString("tenantId")
	if err != nil {
		return mcp.NewToolResultError("tenantId is required"), nil
	}
	template, err := req.RequireString("template")
	if err != nil {
		return mcp.NewToolResultError("template is required"), nil
	}
	cronExpr, err := req.RequireString("cron")
	if err != nil {
		return mcp.NewToolResultError("cron is required"), nil
	}

	job := &schema.ScheduledJob{
		TenantID:       tenantID,
		TemplateID:     template,
		CronExpression: cronExpr,
		Scope:          req.GetString("scope", ""),
		Enabled:        true,
	}
	if raw := mcp.ParseStringMap(req, "context", nil); raw != nil {
		var rc schema.RunContext
		if err := remarshal(raw, &rc); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid context: %v", err)), nil
		}
		job.Context = &rc
	}

	if err := s.scheduler.Register(ctx, job); err != nil {
		return toolError("failed to schedule", err), nil
	}
	return marshalResult(map[string]any{
		"id":          job.ID,
		"next_run_at": job.NextRunAt,
	})
}

// --- Internal helpers ---

// bindTemplate binds tool arguments onto a template. The record's tenant
// tag is snake_case, so tenantId is copied over by hand.
func bindTemplate(req mcp.CallToolRequest, tpl *schema.Template) error {
	args := req.GetArguments()
	if err := remarshal(args, tpl); err != nil {
		return err
	}
	tpl.TenantID = req.GetString("tenantId", tpl.TenantID)
	return nil
}

func remarshal(in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// captureSession maps the tenant to its current MCP session for error
// notifications.
func (s *AutomationServer) captureSession(ctx context.Context, tenantID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(tenantID, session.SessionID())
	}
}

// toolError renders an error as a tool result, keeping the error code for
// classified errors.
func toolError(prefix string, err error) *mcp.CallToolResult {
	var ae *schema.AutomationError
	if errors.As(err, &ae) {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %s: %s", prefix, ae.Code, ae.Message))
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
