package engine

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cgradwohl/backend-services-2-sub001/internal/queue"
	"github.com/cgradwohl/backend-services-2-sub001/internal/services"
	"github.com/cgradwohl/backend-services-2-sub001/internal/store"
	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock is a settable clock shared by every component under test.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type timedMessage struct {
	Message schema.StepMessage
	At      time.Time
}

// recordingQueue keeps immediate and timed messages apart so tests can
// drive the dispatcher deterministically.
type recordingQueue struct {
	mu    sync.Mutex
	ready []schema.StepMessage
	timed []timedMessage
}

var _ queue.Queue = (*recordingQueue)(nil)

func (q *recordingQueue) Enqueue(_ context.Context, msg schema.StepMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ready = append(q.ready, msg)
	return nil
}

func (q *recordingQueue) EnqueueAt(_ context.Context, msg schema.StepMessage, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.timed = append(q.timed, timedMessage{Message: msg, At: at})
	return nil
}

func (q *recordingQueue) Dequeue(ctx context.Context) (*queue.Envelope, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (q *recordingQueue) Ack(context.Context, string) error             { return nil }
func (q *recordingQueue) Nack(context.Context, string, time.Time) error { return nil }

func (q *recordingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready) + len(q.timed)
}

func (q *recordingQueue) pop() (schema.StepMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ready) == 0 {
		return schema.StepMessage{}, false
	}
	msg := q.ready[0]
	q.ready = q.ready[1:]
	return msg, true
}

func (q *recordingQueue) popTimed() (timedMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.timed) == 0 {
		return timedMessage{}, false
	}
	tm := q.timed[0]
	q.timed = q.timed[1:]
	return tm, true
}

type harness struct {
	t        *testing.T
	clock    *fakeClock
	store    *store.MemoryStore
	queue    *recordingQueue
	delivery *services.MemoryDelivery
	lists    *services.MemoryLists
	profiles *services.MemoryProfiles
	engine   *Engine
}

type harnessOption func(*Options)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		clock:    newFakeClock(),
		store:    store.NewMemoryStore(),
		queue:    &recordingQueue{},
		delivery: services.NewMemoryDelivery(),
		lists:    services.NewMemoryLists(),
		profiles: services.NewMemoryProfiles(),
	}
	o := Options{
		Store:    h.store,
		Queue:    h.queue,
		Delivery: h.delivery,
		Lists:    h.lists,
		Profiles: h.profiles,
		Webhook:  services.NewHTTPWebhook(services.WebhookConfig{AllowPrivate: true}),
		Now:      h.clock.Now,
		Logger:   discardLogger(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	eng, err := New(o)
	require.NoError(t, err)
	h.engine = eng
	return h
}

func (h *harness) invoke(req *schema.TriggerRequest) *schema.Run {
	h.t.Helper()
	run, err := h.engine.Service.Invoke(context.Background(), req)
	require.NoError(h.t, err)
	return run
}

// drain dispatches immediate messages until none are left.
func (h *harness) drain() {
	h.t.Helper()
	for i := 0; i < 100; i++ {
		msg, ok := h.queue.pop()
		if !ok {
			return
		}
		require.NoError(h.t, h.engine.Dispatcher.Dispatch(context.Background(), msg))
	}
	h.t.Fatal("queue did not drain")
}

// wake advances the clock to the next timed message and dispatches it.
func (h *harness) wake() {
	h.t.Helper()
	tm, ok := h.queue.popTimed()
	require.True(h.t, ok, "no timed message")
	if d := tm.At.Sub(h.clock.Now()); d > 0 {
		h.clock.Advance(d)
	}
	require.NoError(h.t, h.engine.Dispatcher.Dispatch(context.Background(), tm.Message))
}

func (h *harness) steps(runID string) []*schema.Step {
	h.t.Helper()
	steps, err := h.store.ListSteps(context.Background(), runID)
	require.NoError(h.t, err)
	return steps
}

func (h *harness) run(runID string) *schema.Run {
	h.t.Helper()
	run, err := h.store.GetRun(context.Background(), runID)
	require.NoError(h.t, err)
	return run
}

func trigger(runID string, steps ...map[string]any) *schema.TriggerRequest {
	return &schema.TriggerRequest{
		Steps: steps,
		Context: &schema.RunContext{
			Recipient: "user-1",
			Data:      map[string]any{"plan": "pro"},
		},
		RunID:    runID,
		Scope:    "published/production",
		Source:   []string{"api"},
		TenantID: "tenant-1",
	}
}

func sendStep(template string) map[string]any {
	return map[string]any{"action": "send", "template": template}
}

func newJSONServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}
