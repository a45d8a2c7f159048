package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cgradwohl/backend-services-2-sub001/internal/queue"
	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

// DefaultMaxAttempts caps deliveries of one message.
const DefaultMaxAttempts = 10

// MessageHandler processes one step message.
type MessageHandler interface {
	Dispatch(ctx context.Context, msg schema.StepMessage) error
}

// Consumer pulls step messages off the queue and dispatches them on the
// worker pool. A handled message is acked; a failed one is nacked with
// backoff until it runs out of attempts.
type Consumer struct {
	queue       queue.Queue
	handler     MessageHandler
	pool        *WorkerPool
	backoff     BackoffPolicy
	maxAttempts int
	now         func() time.Time
	logger      *slog.Logger
}

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	Backoff     BackoffPolicy
	MaxAttempts int
}

// NewConsumer creates a Consumer.
func NewConsumer(q queue.Queue, h MessageHandler, pool *WorkerPool, cfg ConsumerConfig, now func() time.Time, logger *slog.Logger) *Consumer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = DefaultBackoffPolicy()
	}
	return &Consumer{
		queue:       q,
		handler:     h,
		pool:        pool,
		backoff:     cfg.Backoff,
		maxAttempts: cfg.MaxAttempts,
		now:         now,
		logger:      logger,
	}
}

// Run consumes until ctx is done or the queue is closed, then waits for
// in-flight messages.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.pool.Wait()
	for {
		env, err := c.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			c.logger.ErrorContext(ctx, "dequeue failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		if err := c.pool.Submit(ctx, func(ctx context.Context) error {
			return c.Handle(ctx, env)
		}); err != nil {
			c.settle(ctx, env, err)
			if errors.Is(err, ErrPoolShutdown) || ctx.Err() != nil {
				return nil
			}
		}
	}
}

// Handle dispatches one delivery and settles it on the queue.
func (c *Consumer) Handle(ctx context.Context, env *queue.Envelope) error {
	err := c.handler.Dispatch(ctx, env.Message)
	c.settle(ctx, env, err)
	return err
}

func (c *Consumer) settle(ctx context.Context, env *queue.Envelope, err error) {
	ctx = context.WithoutCancel(ctx)
	log := c.logger.With(
		slog.String("message_id", env.ID),
		slog.String("run_id", env.Message.RunID),
		slog.String("step_id", env.Message.StepID),
		slog.Int("attempt", env.Attempts),
	)

	if err == nil {
		if aerr := c.queue.Ack(ctx, env.ID); aerr != nil {
			log.ErrorContext(ctx, "ack failed", slog.String("error", aerr.Error()))
		}
		return
	}
	if env.Attempts >= c.maxAttempts {
		log.ErrorContext(ctx, "message exhausted its attempts", slog.String("error", err.Error()))
		if aerr := c.queue.Ack(ctx, env.ID); aerr != nil {
			log.ErrorContext(ctx, "ack failed", slog.String("error", aerr.Error()))
		}
		return
	}

	delay := ComputeBackoff(c.backoff, env.Attempts-1)
	if nerr := c.queue.Nack(ctx, env.ID, c.now().Add(delay)); nerr != nil {
		log.ErrorContext(ctx, "nack failed", slog.String("error", nerr.Error()))
		return
	}
	log.WarnContext(ctx, "message will be redelivered",
		slog.Duration("backoff", delay),
		slog.String("error", err.Error()),
	)
}
