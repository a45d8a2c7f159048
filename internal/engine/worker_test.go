package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_RunsTasks(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Shutdown()
	assert.Equal(t, 2, pool.Size())

	var ran int64
	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error {
		atomic.AddInt64(&ran, 1)
		return nil
	}))
	pool.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt64(&ran))
	assert.EqualValues(t, 1, pool.Metrics().Completed)
}

func TestWorkerPool_ConcurrencyLimit(t *testing.T) {
	pool := NewWorkerPool(3)
	defer pool.Shutdown()

	var (
		mu      sync.Mutex
		current int
		peak    int
	)
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(context.Background(), func(context.Context) error {
			mu.Lock()
			current++
			if current > peak {
				peak = current
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			current--
			mu.Unlock()
			return nil
		}))
	}
	pool.Wait()

	assert.LessOrEqual(t, peak, 3)
	assert.Positive(t, peak)
}

func TestWorkerPool_SubmitBlocksWhenFull(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Shutdown()

	started, block := make(chan struct{}), make(chan struct{})
	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error {
		close(started)
		<-block
		return nil
	}))
	<-started

	submitted := make(chan struct{})
	go func() {
		_ = pool.Submit(context.Background(), func(context.Context) error { return nil })
		close(submitted)
	}()

	select {
	case <-submitted:
		t.Fatal("second submit should block while the pool is full")
	case <-time.After(50 * time.Millisecond):
	}
	close(block)
	select {
	case <-submitted:
	case <-time.After(time.Second):
		t.Fatal("second submit did not unblock")
	}
	pool.Wait()
}

func TestWorkerPool_PanicIsRecovered(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Shutdown()

	var reported atomic.Value
	pool.OnPanic = func(err error) { reported.Store(err) }

	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error {
		panic("boom")
	}))
	pool.Wait()

	m := pool.Metrics()
	assert.EqualValues(t, 1, m.Panics)
	assert.EqualValues(t, 1, m.Failed)
	err, _ := reported.Load().(error)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error { return nil }))
	pool.Wait()
	assert.EqualValues(t, 1, pool.Metrics().Completed)
}

func TestWorkerPool_SubmitHonorsContext(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Shutdown()

	block := make(chan struct{})
	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error {
		<-block
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- pool.Submit(ctx, func(context.Context) error { return nil })
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("submit did not return after cancellation")
	}
	close(block)
	pool.Wait()
}

func TestWorkerPool_ShutdownWaitsAndRejects(t *testing.T) {
	pool := NewWorkerPool(2)

	var completed int64
	for i := 0; i < 4; i++ {
		require.NoError(t, pool.Submit(context.Background(), func(context.Context) error {
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt64(&completed, 1)
			return nil
		}))
	}
	pool.Shutdown()
	pool.Shutdown()

	assert.EqualValues(t, 4, atomic.LoadInt64(&completed))
	err := pool.Submit(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolShutdown)
}

func TestWorkerPool_Metrics(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Shutdown()

	for i := 0; i < 3; i++ {
		require.NoError(t, pool.Submit(context.Background(), func(context.Context) error { return nil }))
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, pool.Submit(context.Background(), func(context.Context) error { return errors.New("failed") }))
	}
	pool.Wait()

	m := pool.Metrics()
	assert.EqualValues(t, 3, m.Completed)
	assert.EqualValues(t, 2, m.Failed)
	assert.Zero(t, m.Active)
}
