package queue

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

// MemoryQueue is a Queue backed by a min-heap ordered by NotBefore.
// It is safe for concurrent use.
type MemoryQueue struct {
	mu       sync.Mutex
	ready    envelopeHeap
	inflight map[string]*Envelope
	seq      uint64
	wake     chan struct{}
	closed   bool

	now func() time.Time
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		inflight: make(map[string]*Envelope),
		wake:     make(chan struct{}, 1),
		now:      time.Now,
	}
}

var _ Queue = (*MemoryQueue)(nil)

func (q *MemoryQueue) Enqueue(ctx context.Context, msg schema.StepMessage) error {
	return q.EnqueueAt(ctx, msg, q.now())
}

func (q *MemoryQueue) EnqueueAt(ctx context.Context, msg schema.StepMessage, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.push(&Envelope{ID: uuid.New().String(), Message: msg, NotBefore: at})
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (*Envelope, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.signal()
			q.mu.Unlock()
			return nil, ErrClosed
		}
		wait := time.Duration(-1)
		if q.ready.Len() > 0 {
			head := q.ready[0]
			if d := head.env.NotBefore.Sub(q.now()); d > 0 {
				wait = d
			} else {
				heap.Pop(&q.ready)
				head.env.Attempts++
				q.inflight[head.env.ID] = head.env
				if q.ready.Len() > 0 {
					q.signal()
				}
				env := *head.env
				q.mu.Unlock()
				return &env, nil
			}
		}
		q.mu.Unlock()

		var (
			timer *time.Timer
			fire  <-chan time.Time
		)
		if wait >= 0 {
			timer = time.NewTimer(wait)
			fire = timer.C
		}
		select {
		case <-ctx.Done():
			stopTimer(timer)
			return nil, ctx.Err()
		case <-q.wake:
		case <-fire:
		}
		stopTimer(timer)
	}
}

func (q *MemoryQueue) Ack(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inflight[id]; !ok {
		return fmt.Errorf("ack %s: not in flight", id)
	}
	delete(q.inflight, id)
	return nil
}

func (q *MemoryQueue) Nack(_ context.Context, id string, retryAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	env, ok := q.inflight[id]
	if !ok {
		return fmt.Errorf("nack %s: not in flight", id)
	}
	delete(q.inflight, id)
	env.NotBefore = retryAt
	q.push(env)
	return nil
}

func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ready.Len() + len(q.inflight)
}

// Close wakes blocked consumers; subsequent calls to Dequeue return ErrClosed.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.signal()
	return nil
}

// push must be called with mu held.
func (q *MemoryQueue) push(env *Envelope) {
	q.seq++
	heap.Push(&q.ready, &heapItem{env: env, seq: q.seq})
	q.signal()
}

func (q *MemoryQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

type heapItem struct {
	env *Envelope
	seq uint64
}

// envelopeHeap orders by NotBefore, then by insertion order.
type envelopeHeap []*heapItem

func (h envelopeHeap) Len() int { return len(h) }

func (h envelopeHeap) Less(i, j int) bool {
	if h[i].env.NotBefore.Equal(h[j].env.NotBefore) {
		return h[i].seq < h[j].seq
	}
	return h[i].env.NotBefore.Before(h[j].env.NotBefore)
}

func (h envelopeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *envelopeHeap) Push(x any) { *h = append(*h, x.(*heapItem)) }

func (h *envelopeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
