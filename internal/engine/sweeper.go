package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/cgradwohl/backend-services-2-sub001/internal/queue"
	"github.com/cgradwohl/backend-services-2-sub001/internal/store"
)

const sweepBatch = 100

// Sweeper moves expired delay work items onto the queue as timed wakes.
type Sweeper struct {
	store    store.Store
	queue    queue.Queue
	now      func() time.Time
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a Sweeper polling every interval.
func NewSweeper(s store.Store, q queue.Queue, now func() time.Time, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{store: s, queue: q, now: now, interval: interval, logger: logger}
}

// Run sweeps on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.SweepOnce(ctx); err != nil {
			s.logger.ErrorContext(ctx, "delay sweep failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// SweepOnce enqueues every due item at its target time and deletes it. An
// item is deleted only after its message is enqueued, so a crash in between
// yields a duplicate wake that the dispatcher drops.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	moved := 0
	for {
		items, err := s.store.ListDueDelayItems(ctx, s.now(), sweepBatch)
		if err != nil {
			return moved, err
		}
		for _, item := range items {
			if err := s.queue.EnqueueAt(ctx, item.Message, item.TargetTime); err != nil {
				return moved, err
			}
			if err := s.store.DeleteDelayItem(ctx, item.ID); err != nil {
				return moved, err
			}
			moved++
		}
		if len(items) < sweepBatch {
			break
		}
	}
	if moved > 0 {
		s.logger.InfoContext(ctx, "delay items swept", slog.Int("count", moved))
	}
	return moved, nil
}
