package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, "", TenantID(ctx))
	assert.Equal(t, "", RunID(ctx))
	assert.Equal(t, "", StepID(ctx))

	ctx = WithTenantID(ctx, "t-1")
	ctx = WithRunID(ctx, "run-123")
	ctx = WithStepID(ctx, "step-1")

	assert.Equal(t, "t-1", TenantID(ctx))
	assert.Equal(t, "run-123", RunID(ctx))
	assert.Equal(t, "step-1", StepID(ctx))
}

func TestWithIDs_KeepsExistingOnEmpty(t *testing.T) {
	ctx := WithIDs(context.Background(), "t-1", "run-1", "step-1")
	ctx = WithIDs(ctx, "", "", "step-2")
	assert.Equal(t, "t-1", TenantID(ctx))
	assert.Equal(t, "run-1", RunID(ctx))
	assert.Equal(t, "step-2", StepID(ctx))
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := WithIDs(context.Background(), "t-abc", "run-abc", "step-x")
	LogWith(ctx, logger).Info("test message")

	output := buf.String()
	assert.Contains(t, output, "tenant_id=t-abc")
	assert.Contains(t, output, "run_id=run-abc")
	assert.Contains(t, output, "step_id=step-x")
	assert.Contains(t, output, "test message")
}

func TestLogWithEmptyContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	LogWith(context.Background(), logger).Info("no context")

	output := buf.String()
	assert.NotContains(t, output, "run_id")
	assert.NotContains(t, output, "step_id")
	assert.NotContains(t, output, "tenant_id")
	assert.Contains(t, output, "no context")
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner))

	ctx := WithIDs(context.Background(), "t-auto", "run-auto", "step-auto")
	logger.InfoContext(ctx, "auto inject")

	output := buf.String()
	assert.Contains(t, output, `"tenant_id":"t-auto"`)
	assert.Contains(t, output, `"run_id":"run-auto"`)
	assert.Contains(t, output, `"step_id":"step-auto"`)
}

func TestCorrelationHandlerPartialContext(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner))

	logger.InfoContext(WithRunID(context.Background(), "run-only"), "partial")

	output := buf.String()
	assert.Contains(t, output, `"run_id":"run-only"`)
	assert.NotContains(t, output, "step_id")
	assert.NotContains(t, output, "tenant_id")
}

func TestCorrelationHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	handler := NewCorrelationHandler(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	logger := slog.New(handler.WithAttrs([]slog.Attr{slog.String("component", "dispatcher")}))

	logger.InfoContext(WithRunID(context.Background(), "run-attr"), "with attrs")

	output := buf.String()
	assert.Contains(t, output, `"run_id":"run-attr"`)
	assert.Contains(t, output, `"component":"dispatcher"`)
}

func TestParseLevelAndNew(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))

	var buf bytes.Buffer
	level := new(slog.LevelVar)
	level.Set(ParseLevel("warn"))
	logger := New(&buf, level)
	logger.InfoContext(context.Background(), "dropped")
	logger.WarnContext(WithRunID(context.Background(), "run-9"), "kept")

	output := buf.String()
	assert.NotContains(t, output, "dropped")
	assert.Contains(t, output, `"run_id":"run-9"`)

	level.Set(slog.LevelInfo)
	logger.InfoContext(context.Background(), "now visible")
	assert.Contains(t, buf.String(), "now visible")
}
