package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cgradwohl/backend-services-2-sub001/internal/actions"
	"github.com/cgradwohl/backend-services-2-sub001/internal/store"
	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

func TestDelayScheduler_HorizonBoundary(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := store.NewMemoryStore()
	q := &recordingQueue{}
	d := NewDelayScheduler(s, q, clock.Now, discardLogger())
	msg := schema.StepMessage{TenantID: "t1", RunID: "r1", StepID: "s1"}

	justInside := clock.Now().Add(DelayHorizon - time.Second)
	require.NoError(t, d.ScheduleWake(ctx, msg, justInside))
	tm, ok := q.popTimed()
	require.True(t, ok)
	assert.True(t, justInside.Equal(tm.At))

	justOutside := clock.Now().Add(DelayHorizon + time.Second)
	require.NoError(t, d.ScheduleWake(ctx, msg, justOutside))
	assert.Equal(t, 0, q.Len())

	items, err := s.ListDueDelayItems(ctx, clock.Now().Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, justOutside.Equal(items[0].TargetTime))
	assert.True(t, clock.Now().Add(time.Second).Equal(items[0].ExpiresAt))
	assert.Equal(t, msg.StepID, items[0].Message.StepID)
}

func TestDelay_TwoDaysPhrasing(t *testing.T) {
	now := newFakeClock().Now()
	for _, phrase := range []string{"2 days", "2 day", "2days"} {
		target, err := actions.ParseDuration(phrase, now)
		require.NoError(t, err, phrase)
		assert.Equal(t, 48*time.Hour, target.Sub(now), phrase)
	}
}

func TestSweeper_MovesDueItems(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := store.NewMemoryStore()
	q := &recordingQueue{}
	d := NewDelayScheduler(s, q, clock.Now, discardLogger())
	sw := NewSweeper(s, q, clock.Now, time.Minute, discardLogger())

	target := clock.Now().Add(5 * 24 * time.Hour)
	require.NoError(t, d.ScheduleWake(ctx, schema.StepMessage{RunID: "r1", StepID: "s1"}, target))

	n, err := sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "item not yet inside the horizon")

	clock.Advance(3*24*time.Hour + time.Minute)
	n, err = sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tm, ok := q.popTimed()
	require.True(t, ok)
	assert.True(t, target.Equal(tm.At))
	assert.Equal(t, "s1", tm.Message.StepID)

	n, err = sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	sw := NewSweeper(store.NewMemoryStore(), &recordingQueue{}, time.Now, 10*time.Millisecond, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestRun_LongDelayGoesThroughSweep(t *testing.T) {
	h := newHarness(t)
	run := h.invoke(trigger("run-1",
		map[string]any{"action": "delay", "duration": "1 week"},
		sendStep("later"),
	))
	h.drain()
	assert.Equal(t, 0, h.queue.Len())
	assert.Equal(t, schema.RunStatusWaiting, h.run(run.RunID).Status)

	h.clock.Advance(5*24*time.Hour + time.Minute)
	n, err := h.engine.Sweeper.SweepOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	h.wake()
	h.drain()
	assert.Equal(t, schema.RunStatusProcessed, h.run(run.RunID).Status)
	assert.Len(t, h.delivery.Sent(), 1)
}
