package engine

import (
	"context"
	"log/slog"

	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

// ErrorReporter receives unclassified dispatch errors for exception
// tracking. Domain and cycle errors are never reported.
type ErrorReporter interface {
	Report(ctx context.Context, err error, msg schema.StepMessage)
}

// LogReporter reports errors as structured log records.
type LogReporter struct {
	Logger *slog.Logger
}

func (r LogReporter) Report(ctx context.Context, err error, msg schema.StepMessage) {
	r.Logger.ErrorContext(ctx, "unclassified step error",
		slog.String("error", err.Error()),
		slog.String("scope", msg.Scope),
		slog.Any("source", msg.Source),
	)
}
