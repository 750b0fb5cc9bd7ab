package queue_test

import (
	"context"
	"errors"
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

type testPayload struct {
	LineID int `json:"line_id"`
}

func newTestQueue(t *testing.T, clock shared.Clock) *queue.Queue {
	t.Helper()
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return queue.New(rdb, queue.Config{
		BackoffBase: time.Second,
		BackoffMax:  time.Minute,
	}, clock, zerolog.Nop())
}

func TestQueue_EnqueueReserveComplete(t *testing.T) {
	clock := shared.NewMockClock(time.Now())
	q := newTestQueue(t, clock)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, "webhook-intake", testPayload{LineID: 22}, 3)
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, queue.StateWaiting, job.State)

	reserved, err := q.Reserve(ctx, "webhook-intake", 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, job.ID, reserved.ID)
	assert.Equal(t, queue.StateActive, reserved.State)

	var payload testPayload
	require.NoError(t, reserved.Decode(&payload))
	assert.Equal(t, 22, payload.LineID)

	require.NoError(t, q.Complete(ctx, reserved))

	_, err = q.Reserve(ctx, "webhook-intake", 50*time.Millisecond)
	assert.ErrorIs(t, err, queue.ErrNoJob)
}

func TestQueue_ReserveTimesOutEmpty(t *testing.T) {
	q := newTestQueue(t, shared.NewMockClock(time.Now()))

	_, err := q.Reserve(context.Background(), "cruise-line-processing", 50*time.Millisecond)

	assert.ErrorIs(t, err, queue.ErrNoJob)
}

func TestQueue_DelayedJobPromotedWhenDue(t *testing.T) {
	clock := shared.NewMockClock(time.Now())
	q := newTestQueue(t, clock)
	ctx := context.Background()

	_, err := q.EnqueueDelayed(ctx, "w", testPayload{LineID: 1}, 3, 30*time.Second)
	require.NoError(t, err)

	// Not yet due
	_, err = q.Reserve(ctx, "w", 50*time.Millisecond)
	require.ErrorIs(t, err, queue.ErrNoJob)

	clock.Advance(31 * time.Second)

	reserved, err := q.Reserve(ctx, "w", 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, queue.StateActive, reserved.State)
}

func TestQueue_FailRetriesWithBackoff(t *testing.T) {
	clock := shared.NewMockClock(time.Now())
	q := newTestQueue(t, clock)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "w", testPayload{}, 3)
	require.NoError(t, err)

	job, err := q.Reserve(ctx, "w", 100*time.Millisecond)
	require.NoError(t, err)

	retried, err := q.Fail(ctx, job, errors.New("ftp timeout"))
	require.NoError(t, err)
	assert.True(t, retried)
	assert.Equal(t, 1, job.Attempt)
	assert.Equal(t, "ftp timeout", job.LastError)

	// Backoff with jitter stays within base*[0.5,1.5); advance past the cap
	clock.Advance(2 * time.Second)

	again, err := q.Reserve(ctx, "w", 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, job.ID, again.ID)
	assert.Equal(t, 1, again.Attempt)
}

func TestQueue_ExhaustedAttemptsDeadLetter(t *testing.T) {
	clock := shared.NewMockClock(time.Now())
	q := newTestQueue(t, clock)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "w", testPayload{LineID: 9}, 1)
	require.NoError(t, err)

	job, err := q.Reserve(ctx, "w", 100*time.Millisecond)
	require.NoError(t, err)

	retried, err := q.Fail(ctx, job, errors.New("schema violation"))
	require.NoError(t, err)
	assert.False(t, retried)
	assert.Equal(t, queue.StateFailed, job.State)

	dead, err := q.DeadLetters(ctx, "w", 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, job.ID, dead[0].ID)
	assert.Equal(t, "schema violation", dead[0].LastError)
}

func TestQueue_RequeueDeadResetsAttempts(t *testing.T) {
	clock := shared.NewMockClock(time.Now())
	q := newTestQueue(t, clock)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "w", testPayload{}, 1)
	require.NoError(t, err)
	job, err := q.Reserve(ctx, "w", 100*time.Millisecond)
	require.NoError(t, err)
	_, err = q.Fail(ctx, job, errors.New("boom"))
	require.NoError(t, err)

	moved, err := q.RequeueDead(ctx, "w")
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	revived, err := q.Reserve(ctx, "w", 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 0, revived.Attempt)
	assert.Empty(t, revived.LastError)
}

func TestQueue_DelayDoesNotConsumeAttempt(t *testing.T) {
	clock := shared.NewMockClock(time.Now())
	q := newTestQueue(t, clock)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "w", testPayload{}, 3)
	require.NoError(t, err)
	job, err := q.Reserve(ctx, "w", 100*time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, q.Delay(ctx, job, 10*time.Second))
	assert.Equal(t, 0, job.Attempt)

	clock.Advance(11 * time.Second)
	again, err := q.Reserve(ctx, "w", 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Attempt)
}

func TestQueue_RequeueStalledPreservesAttempt(t *testing.T) {
	clock := shared.NewMockClock(time.Now())
	q := newTestQueue(t, clock)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "w", testPayload{}, 5)
	require.NoError(t, err)
	job, err := q.Reserve(ctx, "w", 100*time.Millisecond)
	require.NoError(t, err)

	// Simulate a worker that stopped heartbeating
	clock.Advance(2 * time.Minute)

	n, err := q.RequeueStalled(ctx, "w", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	revived, err := q.Reserve(ctx, "w", 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, job.ID, revived.ID)
	assert.Equal(t, job.Attempt, revived.Attempt)
}

func TestQueue_RequeueStalledSkipsFreshHeartbeats(t *testing.T) {
	clock := shared.NewMockClock(time.Now())
	q := newTestQueue(t, clock)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "w", testPayload{}, 5)
	require.NoError(t, err)
	job, err := q.Reserve(ctx, "w", 100*time.Millisecond)
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	require.NoError(t, q.Heartbeat(ctx, job))
	clock.Advance(30 * time.Second)

	n, err := q.RequeueStalled(ctx, "w", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestQueue_CancelFlag(t *testing.T) {
	clock := shared.NewMockClock(time.Now())
	q := newTestQueue(t, clock)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "w", testPayload{}, 3)
	require.NoError(t, err)
	job, err := q.Reserve(ctx, "w", 100*time.Millisecond)
	require.NoError(t, err)

	assert.False(t, q.IsCancelled(ctx, job))
	require.NoError(t, q.Cancel(ctx, "w", job.ID))
	assert.True(t, q.IsCancelled(ctx, job))

	require.NoError(t, q.MarkSkipped(ctx, job))
	_, err = q.Reserve(ctx, "w", 50*time.Millisecond)
	assert.ErrorIs(t, err, queue.ErrNoJob)
}

func TestQueue_DepthCountsWaitingAndDelayed(t *testing.T) {
	clock := shared.NewMockClock(time.Now())
	q := newTestQueue(t, clock)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "w", testPayload{}, 3)
	require.NoError(t, err)
	_, err = q.EnqueueDelayed(ctx, "w", testPayload{}, 3, time.Hour)
	require.NoError(t, err)

	depth, err := q.Depth(ctx, "w")
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)
}
