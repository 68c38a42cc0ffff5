package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/config"
)

func newTestQueue(t *testing.T, cfg config.WorkerConfig) *Queue {
	t.Helper()
	q := NewQueue(cfg)
	q.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = q.Shutdown(ctx)
	})
	return q
}

func TestQueue_RunsTasks(t *testing.T) {
	q := newTestQueue(t, config.WorkerConfig{Concurrency: 2, QueueSize: 8, MaxAttempts: 1})

	var ran atomic.Int32
	done := make(chan struct{}, 3)
	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(Task{Key: key, Run: func(ctx context.Context) error {
			ran.Add(1)
			done <- struct{}{}
			return nil
		}}))
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for tasks")
		}
	}
	assert.Equal(t, int32(3), ran.Load())
}

func TestQueue_RetriesWithBackoff(t *testing.T) {
	q := newTestQueue(t, config.WorkerConfig{Concurrency: 1, QueueSize: 1, MaxAttempts: 3, BaseBackoff: time.Millisecond})

	var attempts atomic.Int32
	finished := make(chan struct{})
	require.NoError(t, q.Enqueue(Task{Key: "order-1", Run: func(ctx context.Context) error {
		n := attempts.Add(1)
		if n == 3 {
			close(finished)
		}
		return errors.New("email provider unavailable")
	}}))

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("task was not retried")
	}
	require.Eventually(t, func() bool { return q.InFlight() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestQueue_RecoversPanics(t *testing.T) {
	q := newTestQueue(t, config.WorkerConfig{Concurrency: 1, QueueSize: 2, MaxAttempts: 1})

	require.NoError(t, q.Enqueue(Task{Key: "boom", Run: func(ctx context.Context) error { panic("nil map") }}))

	ok := make(chan struct{})
	require.NoError(t, q.Enqueue(Task{Key: "after", Run: func(ctx context.Context) error {
		close(ok)
		return nil
	}}))

	select {
	case <-ok:
	case <-time.After(2 * time.Second):
		t.Fatal("worker died after panic")
	}
}

func TestQueue_DeduplicatesKeysAndReportsFull(t *testing.T) {
	q := newTestQueue(t, config.WorkerConfig{Concurrency: 1, QueueSize: 1, MaxAttempts: 1})

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, q.Enqueue(Task{Key: "running", Run: func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	<-started

	var dupRan atomic.Bool
	require.NoError(t, q.Enqueue(Task{Key: "running", Run: func(ctx context.Context) error {
		dupRan.Store(true)
		return nil
	}}))
	assert.Equal(t, 1, q.InFlight())

	require.NoError(t, q.Enqueue(Task{Key: "queued", Run: func(ctx context.Context) error { return nil }}))
	assert.Equal(t, 2, q.InFlight())

	err := q.Enqueue(Task{Key: "overflow", Run: func(ctx context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrQueueFull)

	close(release)
	require.Eventually(t, func() bool { return q.InFlight() == 0 }, time.Second, 5*time.Millisecond)
	assert.False(t, dupRan.Load())
}

func TestQueue_ShutdownDrainsThenRejects(t *testing.T) {
	q := NewQueue(config.WorkerConfig{Concurrency: 1, QueueSize: 4, MaxAttempts: 1})
	q.Start(context.Background())

	var ran atomic.Int32
	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(Task{Key: key, Run: func(ctx context.Context) error {
			time.Sleep(5 * time.Millisecond)
			ran.Add(1)
			return nil
		}}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, q.Shutdown(ctx))
	assert.Equal(t, int32(3), ran.Load())

	assert.ErrorIs(t, q.Enqueue(Task{Key: "late"}), ErrQueueClosed)
	assert.NoError(t, q.Shutdown(ctx))
}

func TestQueue_ShutdownDeadlineCancelsRunningTasks(t *testing.T) {
	q := NewQueue(config.WorkerConfig{Concurrency: 1, QueueSize: 1, MaxAttempts: 1})
	q.Start(context.Background())

	started := make(chan struct{})
	var cancelled atomic.Bool
	require.NoError(t, q.Enqueue(Task{Key: "slow", Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, cancelled.Load())
}
