package mcp

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/mark3labs/mcp-go/server"

	"github.com/cgradwohl/backend-services-2-sub001/internal/engine"
	"github.com/cgradwohl/backend-services-2-sub001/internal/streaming"
	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

// NotifyingReporter forwards unclassified step errors to the MCP session of
// the run's tenant, then to the next reporter. The server is attached after
// construction because the engine needs its reporter before the server
// exists.
type NotifyingReporter struct {
	server   atomic.Pointer[server.MCPServer]
	sessions *SessionRegistry
	next     engine.ErrorReporter
}

var _ engine.ErrorReporter = (*NotifyingReporter)(nil)

// NewNotifyingReporter creates a reporter. next may be nil.
func NewNotifyingReporter(sessions *SessionRegistry, next engine.ErrorReporter) *NotifyingReporter {
	return &NotifyingReporter{sessions: sessions, next: next}
}

// Attach sets the server notifications are sent through.
func (r *NotifyingReporter) Attach(s *server.MCPServer) {
	r.server.Store(s)
}

// Report implements engine.ErrorReporter. Notification is best-effort.
func (r *NotifyingReporter) Report(ctx context.Context, err error, msg schema.StepMessage) {
	if r.next != nil {
		r.next.Report(ctx, err, msg)
	}
	_ = r.notify(msg.TenantID, map[string]any{
		"level":  "error",
		"logger": "automations",
		"data": map[string]any{
			"runId":   msg.RunID,
			"stepId":  msg.StepID,
			"message": schema.UserMessage(err),
		},
	})
}

// terminalRunEvents are the run events forwarded to sessions.
var terminalRunEvents = []string{"run.PROCESSED", "run.ERROR", "run.CANCELED"}

// ForwardRunEvents pushes terminal run events from hub to the tenant's
// session until ctx is done.
func (r *NotifyingReporter) ForwardRunEvents(ctx context.Context, hub streaming.Hub) error {
	events, unsubscribe, err := hub.Subscribe(ctx, streaming.Filter{Types: terminalRunEvents})
	if err != nil {
		return err
	}
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			level := "info"
			if ev.Error != "" {
				level = "warning"
			}
			data := map[string]any{"runId": ev.RunID, "event": ev.Type}
			if ev.Error != "" {
				data["message"] = ev.Error
			}
			_ = r.notify(ev.TenantID, map[string]any{
				"level":  level,
				"logger": "automations",
				"data":   data,
			})
		}
	}
}

func (r *NotifyingReporter) notify(tenantID string, payload map[string]any) error {
	srv := r.server.Load()
	if srv == nil {
		return nil
	}
	sessionID, ok := r.sessions.SessionFor(tenantID)
	if !ok {
		return nil
	}
	err := srv.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session expired between lookup and send.
		r.sessions.Remove(sessionID)
		return nil
	}
	return err
}
