package streaming

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case got := <-ch:
		return got
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertEmpty(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case evt := <-ch:
		t.Fatalf("unexpected event: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishSubscribe(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	defer cancel()

	event := StepEvent("tenant-1", "run-1", "step-1", "PROCESSED")
	require.NoError(t, hub.Publish(ctx, event))

	got := receive(t, ch)
	assert.Equal(t, event, got)
	assert.Equal(t, "step.PROCESSED", got.Type)
}

func TestFilterByTenantAndRun(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	byTenant, cancel1, err := hub.Subscribe(ctx, Filter{TenantID: "tenant-1"})
	require.NoError(t, err)
	defer cancel1()
	byRun, cancel2, err := hub.Subscribe(ctx, Filter{RunID: "run-2"})
	require.NoError(t, err)
	defer cancel2()

	require.NoError(t, hub.Publish(ctx, RunEvent("tenant-1", "run-1", "PROCESSING", "")))
	require.NoError(t, hub.Publish(ctx, RunEvent("tenant-2", "run-2", "PROCESSING", "")))

	assert.Equal(t, "run-1", receive(t, byTenant).RunID)
	assertEmpty(t, byTenant)
	assert.Equal(t, "run-2", receive(t, byRun).RunID)
	assertEmpty(t, byRun)
}

func TestFilterByType(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, Filter{Types: []string{"run.PROCESSED", "run.ERROR"}})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, RunEvent("t", "r1", "PROCESSED", "")))
	require.NoError(t, hub.Publish(ctx, StepEvent("t", "r1", "s1", "PROCESSED")))
	require.NoError(t, hub.Publish(ctx, RunEvent("t", "r2", "ERROR", "boom")))

	assert.Equal(t, "run.PROCESSED", receive(t, ch).Type)
	got := receive(t, ch)
	assert.Equal(t, "run.ERROR", got.Type)
	assert.Equal(t, "boom", got.Error)
	assertEmpty(t, ch)
}

func TestCancelSubscription(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	cancel()

	require.NoError(t, hub.Publish(ctx, RunEvent("t", "r1", "PROCESSED", "")))
	assertEmpty(t, ch)

	hub.mu.RLock()
	assert.Empty(t, hub.subs)
	hub.mu.RUnlock()
}

func TestBackpressure(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	defer cancel()

	for i := 0; i < defaultChannelBuffer+10; i++ {
		require.NoError(t, hub.Publish(ctx, StepEvent("t", "r1", "s1", "PROCESSING")))
	}
	assert.Len(t, ch, defaultChannelBuffer)
}

func TestConcurrentAccess(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()
	const goroutines = 20

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = hub.Publish(ctx, StepEvent("t", "r1", "s1", "PROCESSING"))
			}
		}()
		go func() {
			defer wg.Done()
			ch, cancel, err := hub.Subscribe(ctx, Filter{})
			if err != nil {
				return
			}
			for range 5 {
				select {
				case <-ch:
				case <-time.After(10 * time.Millisecond):
				}
			}
			cancel()
		}()
	}
	wg.Wait()
}

func TestCancelledContext(t *testing.T) {
	hub := NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, hub.Publish(ctx, RunEvent("t", "r1", "PROCESSED", "")), context.Canceled)
	_, _, err := hub.Subscribe(ctx, Filter{})
	assert.ErrorIs(t, err, context.Canceled)
}
