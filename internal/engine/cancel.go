package engine

import (
	"context"
	"log/slog"

	"github.com/cgradwohl/backend-services-2-sub001/internal/store"
	"github.com/cgradwohl/backend-services-2-sub001/internal/streaming"
	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

// CancellationService cancels every run registered under a token.
// Cancellation is cooperative: the dispatcher observes the CANCELED run on
// the next message and drops it, so a step already executing completes.
type CancellationService struct {
	store  store.Store
	fsm    *stateMachine
	logger *slog.Logger
}

// NewCancellationService creates a CancellationService. events may be nil.
func NewCancellationService(s store.Store, events streaming.Hub, logger *slog.Logger) *CancellationService {
	return &CancellationService{
		store:  s,
		fsm:    &stateMachine{store: s, events: events, logger: logger},
		logger: logger,
	}
}

// Cancel moves each non-terminal run under (tenantID, token) to CANCELED,
// leaving exceptRunID alone, and returns how many runs it moved.
func (c *CancellationService) Cancel(ctx context.Context, tenantID, token, exceptRunID string) (int, error) {
	if token == "" {
		return 0, schema.NewError(schema.ErrCodeValidation, "cancelation token is required")
	}
	runIDs, err := c.store.ListCancelationTokenRuns(ctx, tenantID, token)
	if err != nil {
		return 0, err
	}

	canceled := schema.RunStatusCanceled
	n := 0
	for _, runID := range runIDs {
		if runID == exceptRunID {
			continue
		}
		err := c.store.UpdateRun(ctx, runID, store.RunUpdate{
			Status:         &canceled,
			ExpectedStatus: runSources(canceled),
		})
		switch {
		case err == nil:
			n++
			c.fsm.publish(ctx, streaming.RunEvent(tenantID, runID, string(canceled), ""))
		case store.IsConflict(err), store.IsNotFound(err):
			// Already terminal, or the token row outlived its run.
		default:
			return n, err
		}
	}
	c.logger.InfoContext(ctx, "runs canceled",
		slog.String("token", token),
		slog.Int("matched", len(runIDs)),
		slog.Int("canceled", n),
	)
	return n, nil
}
