package queue_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seatrade/cruisesync-go/internal/adapters/queue"
	"github.com/seatrade/cruisesync-go/internal/domain/shared"
)

func newWorkerQueue(t *testing.T) *queue.Queue {
	t.Helper()
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return queue.New(rdb, queue.Config{
		BackoffBase: 10 * time.Millisecond,
		BackoffMax:  50 * time.Millisecond,
	}, shared.NewRealClock(), zerolog.Nop())
}

func runPoolUntil(t *testing.T, pool *queue.WorkerPool, done <-chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for worker")
	}
	cancel()
	pool.Wait()
}

func TestWorkerPool_CompletesSuccessfulJob(t *testing.T) {
	q := newWorkerQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "w", testPayload{LineID: 22}, 3)
	require.NoError(t, err)

	done := make(chan struct{})
	var seen testPayload
	handler := func(_ context.Context, job *queue.Job) error {
		defer close(done)
		return job.Decode(&seen)
	}
	pool := queue.NewWorkerPool(q, queue.WorkerConfig{
		Queue:          "w",
		Concurrency:    1,
		ReserveTimeout: 100 * time.Millisecond,
	}, handler, zerolog.Nop())

	runPoolUntil(t, pool, done)

	assert.Equal(t, 22, seen.LineID)
	assert.Eventually(t, func() bool {
		depth, err := q.Depth(ctx, "w")
		return err == nil && depth == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorkerPool_RetriesThenExhausts(t *testing.T) {
	q := newWorkerQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "w", testPayload{}, 2)
	require.NoError(t, err)

	var attempts atomic.Int32
	exhausted := make(chan struct{})
	handler := func(context.Context, *queue.Job) error {
		attempts.Add(1)
		return errors.New("ftp timeout")
	}
	pool := queue.NewWorkerPool(q, queue.WorkerConfig{
		Queue:          "w",
		Concurrency:    1,
		ReserveTimeout: 50 * time.Millisecond,
	}, handler, zerolog.Nop())
	var retries atomic.Int32
	pool.OnRetry = func(*queue.Job, error) { retries.Add(1) }
	pool.OnExhausted = func(*queue.Job, error) { close(exhausted) }

	runPoolUntil(t, pool, exhausted)

	assert.Equal(t, int32(2), attempts.Load())
	assert.Equal(t, int32(1), retries.Load())

	dead, err := q.DeadLetters(ctx, "w", 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "ftp timeout", dead[0].LastError)
}

func TestWorkerPool_RetryableErrorDoesNotConsumeAttempt(t *testing.T) {
	q := newWorkerQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "w", testPayload{}, 1)
	require.NoError(t, err)

	// First run hits lock contention, second succeeds. With only one
	// attempt allowed, the job survives only if Delay spends no attempt.
	var runs atomic.Int32
	done := make(chan struct{})
	handler := func(_ context.Context, job *queue.Job) error {
		if runs.Add(1) == 1 {
			return &shared.RetryableError{
				Cause: errors.New("line lock held"),
				Delay: 5,
			}
		}
		close(done)
		return nil
	}
	pool := queue.NewWorkerPool(q, queue.WorkerConfig{
		Queue:          "w",
		Concurrency:    1,
		ReserveTimeout: 50 * time.Millisecond,
	}, handler, zerolog.Nop())

	runPoolUntil(t, pool, done)

	assert.Equal(t, int32(2), runs.Load())
	dead, err := q.DeadLetters(ctx, "w", 10)
	require.NoError(t, err)
	assert.Empty(t, dead)
}

func TestWorkerPool_CancelledErrorMarksSkipped(t *testing.T) {
	q := newWorkerQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "w", testPayload{}, 3)
	require.NoError(t, err)

	done := make(chan struct{})
	handler := func(context.Context, *queue.Job) error {
		defer close(done)
		return shared.ErrCancelled
	}
	pool := queue.NewWorkerPool(q, queue.WorkerConfig{
		Queue:          "w",
		Concurrency:    1,
		ReserveTimeout: 50 * time.Millisecond,
	}, handler, zerolog.Nop())

	runPoolUntil(t, pool, done)

	dead, err := q.DeadLetters(ctx, "w", 10)
	require.NoError(t, err)
	assert.Empty(t, dead)
	assert.Eventually(t, func() bool {
		depth, err := q.Depth(ctx, "w")
		return err == nil && depth == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorkerPool_CancellationFlagInterruptsRunningJob(t *testing.T) {
	q := newWorkerQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, "w", testPayload{}, 3)
	require.NoError(t, err)
	require.NoError(t, q.Cancel(ctx, "w", job.ID))

	done := make(chan struct{})
	var once sync.Once
	handler := func(jobCtx context.Context, _ *queue.Job) error {
		defer once.Do(func() { close(done) })
		// Block until the heartbeat loop notices the cancel flag
		<-jobCtx.Done()
		return jobCtx.Err()
	}
	pool := queue.NewWorkerPool(q, queue.WorkerConfig{
		Queue:          "w",
		Concurrency:    1,
		ReserveTimeout: 50 * time.Millisecond,
		HeartbeatEvery: 20 * time.Millisecond,
	}, handler, zerolog.Nop())

	runPoolUntil(t, pool, done)

	dead, err := q.DeadLetters(ctx, "w", 10)
	require.NoError(t, err)
	assert.Empty(t, dead, "cancelled job must end skipped, not dead-lettered")
}

func TestWorkerPool_ConcurrentWorkersDrainQueue(t *testing.T) {
	q := newWorkerQueue(t)
	ctx := context.Background()

	const jobs = 12
	for i := 0; i < jobs; i++ {
		_, err := q.Enqueue(ctx, "w", testPayload{LineID: i}, 3)
		require.NoError(t, err)
	}

	var processed atomic.Int32
	done := make(chan struct{})
	handler := func(context.Context, *queue.Job) error {
		if processed.Add(1) == jobs {
			close(done)
		}
		return nil
	}
	pool := queue.NewWorkerPool(q, queue.WorkerConfig{
		Queue:          "w",
		Concurrency:    4,
		ReserveTimeout: 50 * time.Millisecond,
	}, handler, zerolog.Nop())

	runPoolUntil(t, pool, done)

	assert.Equal(t, int32(jobs), processed.Load())
}
