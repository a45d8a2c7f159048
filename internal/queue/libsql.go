package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

// DefaultLease is how long a dequeued message stays invisible before it is
// handed to another consumer.
const DefaultLease = 5 * time.Minute

// LibSQLQueue is a durable Queue over the queue_messages table created by
// the store migrations. Rows are polled in not_before order.
type LibSQLQueue struct {
	db           *sql.DB
	pollInterval time.Duration
	lease        time.Duration
}

// NewLibSQLQueue returns a queue over db. The schema must already be
// migrated by store.LibSQLStore.Migrate.
func NewLibSQLQueue(db *sql.DB) *LibSQLQueue {
	return &LibSQLQueue{
		db:           db,
		pollInterval: 20 * time.Millisecond,
		lease:        DefaultLease,
	}
}

// WithLease overrides the visibility lease.
func (q *LibSQLQueue) WithLease(d time.Duration) *LibSQLQueue {
	q.lease = d
	return q
}

var _ Queue = (*LibSQLQueue)(nil)

func (q *LibSQLQueue) Enqueue(ctx context.Context, msg schema.StepMessage) error {
	return q.EnqueueAt(ctx, msg, time.Now())
}

func (q *LibSQLQueue) EnqueueAt(ctx context.Context, msg schema.StepMessage, at time.Time) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal step message: %w", err)
	}
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO queue_messages (id, body, not_before, attempts, enqueued_at) VALUES (?, ?, ?, 0, ?)`,
		uuid.New().String(), string(body), at.UnixMilli(), time.Now().UnixMilli(),
	)
	return err
}

func (q *LibSQLQueue) Dequeue(ctx context.Context) (*Envelope, error) {
	for {
		env, err := q.claim(ctx)
		if err != nil {
			return nil, err
		}
		if env != nil {
			return env, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.pollInterval):
		}
	}
}

// claim leases the next due row, or returns nil when nothing is due.
func (q *LibSQLQueue) claim(ctx context.Context) (*Envelope, error) {
	now := time.Now()
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		id, body  string
		notBefore int64
		attempts  int
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, body, not_before, attempts FROM queue_messages
		WHERE not_before <= ? AND (leased_until IS NULL OR leased_until <= ?)
		ORDER BY not_before, enqueued_at
		LIMIT 1`, now.UnixMilli(), now.UnixMilli(),
	).Scan(&id, &body, &notBefore, &attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	attempts++
	if _, err := tx.ExecContext(ctx,
		`UPDATE queue_messages SET leased_until = ?, attempts = ? WHERE id = ?`,
		now.Add(q.lease).UnixMilli(), attempts, id,
	); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	env := &Envelope{ID: id, Attempts: attempts, NotBefore: time.UnixMilli(notBefore)}
	if err := json.Unmarshal([]byte(body), &env.Message); err != nil {
		return nil, fmt.Errorf("unmarshal step message %s: %w", id, err)
	}
	return env, nil
}

func (q *LibSQLQueue) Ack(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM queue_messages WHERE id = ?`, id)
	return err
}

func (q *LibSQLQueue) Nack(ctx context.Context, id string, retryAt time.Time) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE queue_messages SET not_before = ?, leased_until = NULL WHERE id = ?`,
		retryAt.UnixMilli(), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("nack %s: message not found", id)
	}
	return nil
}

func (q *LibSQLQueue) Len() int {
	var n int
	if err := q.db.QueryRow(`SELECT COUNT(*) FROM queue_messages`).Scan(&n); err != nil {
		return 0
	}
	return n
}
