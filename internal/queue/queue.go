// Package queue carries step messages between the orchestrator, the
// dispatcher and the delay sweeper. Delivery is at-least-once: a message
// stays owned by the consumer until it is acked, and is redelivered after a
// nack or a lapsed lease.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

// ErrClosed is returned by Dequeue once the queue has been closed.
var ErrClosed = errors.New("queue closed")

// Envelope is one delivery of a step message.
type Envelope struct {
	ID        string
	Message   schema.StepMessage
	Attempts  int
	NotBefore time.Time
}

// Queue is the step message transport.
type Queue interface {
	// Enqueue makes msg available immediately.
	Enqueue(ctx context.Context, msg schema.StepMessage) error

	// EnqueueAt makes msg available no earlier than at.
	EnqueueAt(ctx context.Context, msg schema.StepMessage, at time.Time) error

	// Dequeue blocks until a message is due or ctx is done.
	Dequeue(ctx context.Context) (*Envelope, error)

	// Ack removes a delivered message for good.
	Ack(ctx context.Context, id string) error

	// Nack returns a delivered message to the queue, due at retryAt.
	Nack(ctx context.Context, id string, retryAt time.Time) error

	// Len returns the approximate number of queued and in-flight messages.
	Len() int
}
