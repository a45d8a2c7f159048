package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/cgradwohl/backend-services-2-sub001/internal/engine"
	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

// AutomationService is the ingestion surface the tools call. Satisfied by
// engine.Service.
type AutomationService interface {
	Invoke(ctx context.Context, req *schema.TriggerRequest) (*schema.Run, error)
	InvokeTemplate(ctx context.Context, inv schema.TemplateInvocation) (string, error)
	Lookup(ctx context.Context, runID string) (*engine.RunView, error)
	Cancel(ctx context.Context, tenantID, token string) (int, error)
}

// TemplateStore persists reusable step templates.
type TemplateStore interface {
	PutTemplate(ctx context.Context, tpl *schema.Template) error
}

// JobScheduler registers recurring template invocations.
type JobScheduler interface {
	Register(ctx context.Context, job *schema.ScheduledJob) error
}

// AutomationServerDeps holds the dependencies for creating an AutomationServer.
// Templates and Scheduler are optional; their tools are only registered
// when set.
type AutomationServerDeps struct {
	Service   AutomationService
	Templates TemplateStore
	Scheduler JobScheduler
	Sessions  *SessionRegistry
	Logger    *slog.Logger
}

// AutomationServer wraps an MCP server with automation tool handlers.
type AutomationServer struct {
	service   AutomationService
	templates TemplateStore
	scheduler JobScheduler
	sessions  *SessionRegistry
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewAutomationServer creates an AutomationServer with its tools registered.
func NewAutomationServer(deps AutomationServerDeps) *AutomationServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	sessions := deps.Sessions
	if sessions == nil {
		sessions = NewSessionRegistry()
	}

	s := &AutomationServer{
		service:   deps.Service,
		templates: deps.Templates,
		scheduler: deps.Scheduler,
		sessions:  sessions,
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"automations",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithLogging(),
		server.WithInstructions("Durable notification automations. Use automation.invoke to start a run from a step list, automation.invoke_template to start one from a stored template, automation.status to inspect a run and automation.cancel to cancel runs by cancelation token."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *AutomationServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *AutomationServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *AutomationServer) tools() []server.ServerTool {
	tools := []server.ServerTool{
		{Tool: invokeTool(), Handler: s.handleInvoke},
		{Tool: invokeTemplateTool(), Handler: s.handleInvokeTemplate},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: cancelTool(), Handler: s.handleCancel},
	}
	if s.templates != nil {
		tools = append(tools, server.ServerTool{Tool: defineTemplateTool(), Handler: s.handleDefineTemplate})
	}
	if s.scheduler != nil {
		tools = append(tools, server.ServerTool{Tool: scheduleTool(), Handler: s.handleSchedule})
	}
	return tools
}

// --- Tool definitions ---

func invokeTool() mcp.Tool {
	return mcp.NewTool("automation.invoke",
		mcp.WithDescription("Start an automation run from an ordered list of steps"),
		mcp.WithString("tenantId", mcp.Required(), mcp.Description("Tenant that owns the run")),
		mcp.WithArray("steps", mcp.Required(),
			mcp.Description("Step definitions; each has an action plus action parameters, optional ref and if"),
			mcp.Items(map[string]any{"type": "object"}),
		),
		mcp.WithObject("context", mcp.Description("Run context: brand, data, profile, recipient, template")),
		mcp.WithString("runId", mcp.Description("Run id (default: generated)")),
		mcp.WithString("scope", mcp.Description("Scope (default: published/production)")),
		mcp.WithArray("source", mcp.Description("Invocation chain"), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithString("dryRunKey", mcp.Description("Dry-run key passed to delivery")),
		mcp.WithString("cancelationToken", mcp.Description("Token that cancels this run when a cancel step names it")),
	)
}

func invokeTemplateTool() mcp.Tool {
	return mcp.NewTool("automation.invoke_template",
		mcp.WithDescription("Start an automation run from a stored template"),
		mcp.WithString("tenantId", mcp.Required(), mcp.Description("Tenant that owns the run")),
		mcp.WithString("template", mcp.Required(), mcp.Description("Template id or alias")),
		mcp.WithObject("context", mcp.Description("Run context; data and profile also feed template rendering")),
		mcp.WithString("runId", mcp.Description("Run id (default: generated)")),
		mcp.WithString("scope", mcp.Description("Scope (default: published/production)")),
		mcp.WithArray("source", mcp.Description("Invocation chain"), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithString("dryRunKey", mcp.Description("Dry-run key passed to delivery")),
		mcp.WithString("cancelationToken", mcp.Description("Token that cancels this run when a cancel step names it")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("automation.status",
		mcp.WithDescription("Get an automation run with its steps"),
		mcp.WithString("runId", mcp.Required(), mcp.Description("ID of the run to query")),
	)
}

func cancelTool() mcp.Tool {
	return mcp.NewTool("automation.cancel",
		mcp.WithDescription("Cancel every run of a tenant registered under a cancelation token"),
		mcp.WithString("tenantId", mcp.Required(), mcp.Description("Tenant that owns the runs")),
		mcp.WithString("token", mcp.Required(), mcp.Description("Cancelation token")),
	)
}

func defineTemplateTool() mcp.Tool {
	return mcp.NewTool("automation.define_template",
		mcp.WithDescription("Store a reusable step template"),
		mcp.WithString("tenantId", mcp.Required(), mcp.Description("Tenant that owns the template")),
		mcp.WithString("id", mcp.Description("Template id (default: generated)")),
		mcp.WithString("alias", mcp.Description("Alternate name the template can be invoked by")),
		mcp.WithArray("steps", mcp.Description("Static step list"), mcp.Items(map[string]any{"type": "object"})),
		mcp.WithString("expression", mcp.Description("jq expression rendering the step list from {data, profile}")),
	)
}

func scheduleTool() mcp.Tool {
	return mcp.NewTool("automation.schedule",
		mcp.WithDescription("Invoke a stored template on a cron schedule"),
		mcp.WithString("tenantId", mcp.Required(), mcp.Description("Tenant that owns the job")),
		mcp.WithString("template", mcp.Required(), mcp.Description("Template id or alias")),
		mcp.WithString("cron", mcp.Required(), mcp.Description("Five-field cron expression or descriptor such as @daily")),
		mcp.WithObject("context", mcp.Description("Run context for every fire")),
		mcp.WithString("scope", mcp.Description("Scope (default: published/production)")),
	)
}
