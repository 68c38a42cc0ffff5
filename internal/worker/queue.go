// Package worker runs background tasks on a bounded in-process queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/config"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/metrics"
	"golang.org/x/sync/errgroup"
)

var (
	ErrQueueFull   = errors.New("worker: queue is full")
	ErrQueueClosed = errors.New("worker: queue is closed")
)

// Task is a unit of background work. Tasks sharing a Key are never queued or
// run concurrently; Run must be safe to call again after a failure.
type Task struct {
	Key string
	Run func(ctx context.Context) error
}

type Queue struct {
	tasks       chan Task
	concurrency int
	maxAttempts int
	baseBackoff time.Duration

	mu     sync.Mutex
	keys   map[string]struct{}
	closed bool

	cancel context.CancelFunc
	group  *errgroup.Group
}

func NewQueue(cfg config.WorkerConfig) *Queue {
	q := &Queue{
		tasks:       make(chan Task, max(cfg.QueueSize, 1)),
		concurrency: max(cfg.Concurrency, 1),
		maxAttempts: max(cfg.MaxAttempts, 1),
		baseBackoff: cfg.BaseBackoff,
		keys:        make(map[string]struct{}),
	}
	return q
}

// Start launches the workers. ctx bounds the lifetime of running tasks.
func (q *Queue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)
	q.group, ctx = errgroup.WithContext(ctx)

	for i := 0; i < q.concurrency; i++ {
		q.group.Go(func() error {
			for t := range q.tasks {
				q.process(ctx, t)
			}
			return nil
		})
	}
	log.Info().Int("workers", q.concurrency).Int("capacity", cap(q.tasks)).Msg("worker: queue started")
}

// Enqueue adds t unless a task with the same key is already queued or running,
// in which case it returns nil and drops t.
func (q *Queue) Enqueue(t Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if _, dup := q.keys[t.Key]; dup {
		log.Debug().Str("key", t.Key).Msg("worker: task already pending, skipping")
		return nil
	}

	select {
	case q.tasks <- t:
		q.keys[t.Key] = struct{}{}
		metrics.SetQueueDepth(len(q.keys))
		return nil
	default:
		return ErrQueueFull
	}
}

// InFlight returns the number of tasks queued or running.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.keys)
}

// Shutdown stops accepting tasks and waits for queued ones to finish. When ctx
// expires first, running tasks are cancelled and ctx.Err() is returned.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	if q.group == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		_ = q.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		log.Info().Msg("worker: queue drained")
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		log.Warn().Int("abandoned", q.InFlight()).Msg("worker: shutdown deadline reached, tasks cancelled")
		return ctx.Err()
	}
}

func (q *Queue) process(ctx context.Context, t Task) {
	defer q.release(t.Key)

	for attempt := 1; attempt <= q.maxAttempts; attempt++ {
		err := safeRun(ctx, t)
		if err == nil {
			if attempt > 1 {
				log.Info().Str("key", t.Key).Int("attempt", attempt).Msg("worker: task succeeded after retry")
			}
			return
		}
		if attempt == q.maxAttempts || ctx.Err() != nil {
			log.Error().Err(err).Str("key", t.Key).Int("attempts", attempt).Msg("worker: task failed, giving up")
			return
		}

		backoff := q.baseBackoff << (attempt - 1)
		log.Warn().Err(err).Str("key", t.Key).Int("attempt", attempt).Dur("backoff", backoff).Msg("worker: task failed, retrying")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			log.Error().Err(ctx.Err()).Str("key", t.Key).Msg("worker: task abandoned during backoff")
			return
		}
	}
}

func (q *Queue) release(key string) {
	q.mu.Lock()
	delete(q.keys, key)
	metrics.SetQueueDepth(len(q.keys))
	q.mu.Unlock()
}

func safeRun(ctx context.Context, t Task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("worker: task %s panicked: %v", t.Key, p)
		}
	}()
	return t.Run(ctx)
}
