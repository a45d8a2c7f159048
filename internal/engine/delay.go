package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cgradwohl/backend-services-2-sub001/internal/queue"
	"github.com/cgradwohl/backend-services-2-sub001/internal/store"
	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

// DelayHorizon splits timed queue wakes from durable delay work items.
const DelayHorizon = 48 * time.Hour

// DelayScheduler schedules the wake of a delay step. Targets inside the
// horizon go straight to the queue as a timed message; farther targets are
// parked as work items that expire once the target is inside the horizon.
type DelayScheduler struct {
	store   store.Store
	queue   queue.Queue
	now     func() time.Time
	horizon time.Duration
	logger  *slog.Logger
}

// NewDelayScheduler creates a DelayScheduler with the default horizon.
func NewDelayScheduler(s store.Store, q queue.Queue, now func() time.Time, logger *slog.Logger) *DelayScheduler {
	return &DelayScheduler{store: s, queue: q, now: now, horizon: DelayHorizon, logger: logger}
}

// ScheduleWake implements actions.Waker.
func (d *DelayScheduler) ScheduleWake(ctx context.Context, msg schema.StepMessage, target time.Time) error {
	now := d.now()
	if target.Sub(now) < d.horizon {
		d.logger.DebugContext(ctx, "delay scheduled on queue", slog.Time("target", target))
		return d.queue.EnqueueAt(ctx, msg, target)
	}

	item := &schema.DelayItem{
		ID:         uuid.NewString(),
		Message:    msg,
		TargetTime: target,
		ExpiresAt:  target.Add(-d.horizon),
		CreatedAt:  now,
	}
	if err := d.store.PutDelayItem(ctx, item); err != nil {
		return err
	}
	d.logger.DebugContext(ctx, "delay parked",
		slog.String("item_id", item.ID),
		slog.Time("target", target),
		slog.Time("expires_at", item.ExpiresAt),
	)
	return nil
}
