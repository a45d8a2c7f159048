package mcp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cgradwohl/backend-services-2-sub001/internal/streaming"
	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

func TestNewAutomationServer(t *testing.T) {
	s := NewAutomationServer(AutomationServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
	assert.NotNil(t, s.sessions)
}

func TestToolRegistration(t *testing.T) {
	s := NewAutomationServer(AutomationServerDeps{})
	require.Len(t, s.mcpServer.ListTools(), 4)
	for _, name := range []string{
		"automation.invoke",
		"automation.invoke_template",
		"automation.status",
		"automation.cancel",
	} {
		assert.NotNil(t, s.mcpServer.GetTool(name), "tool %s should be registered", name)
	}
	assert.Nil(t, s.mcpServer.GetTool("automation.schedule"))

	env := newTestEnv(t)
	assert.Len(t, env.server.mcpServer.ListTools(), 6)
	assert.NotNil(t, env.server.mcpServer.GetTool("automation.define_template"))
	assert.NotNil(t, env.server.mcpServer.GetTool("automation.schedule"))
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		toolName    string
		description string
	}{
		{"automation.invoke", "Start an automation run from an ordered list of steps"},
		{"automation.invoke_template", "Start an automation run from a stored template"},
		{"automation.status", "Get an automation run with its steps"},
		{"automation.cancel", "Cancel every run of a tenant registered under a cancelation token"},
	}

	s := NewAutomationServer(AutomationServerDeps{})
	for _, tc := range tests {
		t.Run(tc.toolName, func(t *testing.T) {
			tool := s.mcpServer.GetTool(tc.toolName)
			require.NotNil(t, tool)
			assert.Equal(t, tc.description, tool.Tool.Description)
		})
	}
}

type capturingReporter struct {
	msgs []schema.StepMessage
}

func (r *capturingReporter) Report(_ context.Context, _ error, msg schema.StepMessage) {
	r.msgs = append(r.msgs, msg)
}

func TestNotifyingReporter_ForwardsWithoutSession(t *testing.T) {
	next := &capturingReporter{}
	sessions := NewSessionRegistry()
	r := NewNotifyingReporter(sessions, next)
	msg := schema.StepMessage{TenantID: "tenant-1", RunID: "run-1", StepID: "step-1"}

	r.Report(context.Background(), errors.New("boom"), msg)
	require.Len(t, next.msgs, 1)

	r.Attach(NewAutomationServer(AutomationServerDeps{Sessions: sessions}).MCPServer())
	r.Report(context.Background(), errors.New("boom"), msg)
	assert.Len(t, next.msgs, 2)
}

func TestNotifyingReporter_DropsStaleSession(t *testing.T) {
	sessions := NewSessionRegistry()
	sessions.Register("tenant-1", "gone")
	r := NewNotifyingReporter(sessions, nil)
	r.Attach(NewAutomationServer(AutomationServerDeps{Sessions: sessions}).MCPServer())

	r.Report(context.Background(), errors.New("boom"), schema.StepMessage{TenantID: "tenant-1"})

	_, ok := sessions.SessionFor("tenant-1")
	assert.False(t, ok)
}

func TestNotifyingReporter_ForwardRunEvents(t *testing.T) {
	hub := streaming.NewMemoryHub()
	sessions := NewSessionRegistry()
	sessions.Register("tenant-1", "gone")
	r := NewNotifyingReporter(sessions, nil)
	r.Attach(NewAutomationServer(AutomationServerDeps{Sessions: sessions}).MCPServer())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.ForwardRunEvents(ctx, hub) }()

	// The forwarder subscribes asynchronously; a send to the stale session
	// removes it.
	require.Eventually(t, func() bool {
		require.NoError(t, hub.Publish(ctx, streaming.RunEvent("tenant-1", "run-1", "PROCESSED", "")))
		_, ok := sessions.SessionFor("tenant-1")
		return !ok
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("forwarder did not stop")
	}
}
