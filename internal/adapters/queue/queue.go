package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/seatrade/cruisesync-go/internal/domain/shared"
)

// ErrNoJob is returned by Reserve when the wait timeout elapses with nothing
// to do. Workers treat it as an idle tick.
var ErrNoJob = errors.New("no job available")

// Config holds queue-wide retry tunables
type Config struct {
	// KeyPrefix namespaces all Redis keys (default "cruisesync")
	KeyPrefix string
	// BackoffBase is the first retry delay before jitter
	BackoffBase time.Duration
	// BackoffMax caps the exponential growth
	BackoffMax time.Duration
}

// Queue is a durable Redis-backed job queue. Per named queue it keeps:
//
//	waiting    list of job ids, consumed via BLMOVE for atomic reservation
//	active     list of job ids currently owned by a worker
//	heartbeat  zset id -> last heartbeat unix; the reaper requeues stale ids
//	delayed    zset id -> notBefore unix, promoted to waiting when due
//	dead       list of job ids whose attempts are exhausted (dead-letter)
//	jobs       hash id -> job JSON (the durable job record)
//	cancelled  set of administratively cancelled ids, polled by workers
//	completed / skipped counters
type Queue struct {
	rdb   redis.UniversalClient
	cfg   Config
	clock shared.Clock
	log   zerolog.Logger
}

// New creates a Queue on the given Redis client
func New(rdb redis.UniversalClient, cfg Config, clock shared.Clock, log zerolog.Logger) *Queue {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "cruisesync"
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 5 * time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 10 * time.Minute
	}
	if clock == nil {
		clock = shared.NewRealClock()
	}
	return &Queue{
		rdb:   rdb,
		cfg:   cfg,
		clock: clock,
		log:   log.With().Str("component", "queue").Logger(),
	}
}

func (q *Queue) key(queue, suffix string) string {
	return q.cfg.KeyPrefix + ":q:" + queue + ":" + suffix
}

// Enqueue adds a job to the waiting bucket of the named queue
func (q *Queue) Enqueue(ctx context.Context, queue string, payload interface{}, maxAttempts int) (*Job, error) {
	return q.enqueue(ctx, queue, payload, maxAttempts, 0)
}

// EnqueueDelayed adds a job that becomes eligible after delay
func (q *Queue) EnqueueDelayed(ctx context.Context, queue string, payload interface{}, maxAttempts int, delay time.Duration) (*Job, error) {
	return q.enqueue(ctx, queue, payload, maxAttempts, delay)
}

func (q *Queue) enqueue(ctx context.Context, queue string, payload interface{}, maxAttempts int, delay time.Duration) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}
	now := q.clock.Now()
	job := &Job{
		ID:          uuid.NewString(),
		Queue:       queue,
		Payload:     raw,
		Attempt:     0,
		MaxAttempts: maxAttempts,
		NotBefore:   now.Add(delay),
		EnqueuedAt:  now,
		State:       StateWaiting,
	}
	if delay > 0 {
		job.State = StateDelayed
	}
	if err := q.storeJob(ctx, job); err != nil {
		return nil, err
	}
	if delay > 0 {
		err = q.rdb.ZAdd(ctx, q.key(queue, "delayed"), redis.Z{
			Score:  float64(job.NotBefore.Unix()),
			Member: job.ID,
		}).Err()
	} else {
		err = q.rdb.LPush(ctx, q.key(queue, "waiting"), job.ID).Err()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}
	return job, nil
}

// Reserve blocks up to timeout for the next eligible job and atomically moves
// it to the active bucket owned by the caller. Returns ErrNoJob on timeout.
func (q *Queue) Reserve(ctx context.Context, queue string, timeout time.Duration) (*Job, error) {
	if err := q.promoteDue(ctx, queue); err != nil {
		return nil, err
	}

	id, err := q.rdb.BLMove(ctx, q.key(queue, "waiting"), q.key(queue, "active"), "RIGHT", "LEFT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reserve job: %w", err)
	}

	job, err := q.loadJob(ctx, queue, id)
	if err != nil {
		// Orphaned id with no job record: drop it rather than wedge the worker
		q.rdb.LRem(ctx, q.key(queue, "active"), 1, id)
		return nil, err
	}

	job.State = StateActive
	if err := q.storeJob(ctx, job); err != nil {
		return nil, err
	}
	if err := q.Heartbeat(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Heartbeat refreshes the job's liveness timestamp
func (q *Queue) Heartbeat(ctx context.Context, job *Job) error {
	return q.rdb.ZAdd(ctx, q.key(job.Queue, "heartbeat"), redis.Z{
		Score:  float64(q.clock.Now().Unix()),
		Member: job.ID,
	}).Err()
}

// Complete removes a finished job and bumps the completed counter
func (q *Queue) Complete(ctx context.Context, job *Job) error {
	if err := q.removeActive(ctx, job); err != nil {
		return err
	}
	q.rdb.HDel(ctx, q.key(job.Queue, "jobs"), job.ID)
	q.rdb.SRem(ctx, q.key(job.Queue, "cancelled"), job.ID)
	return q.rdb.Incr(ctx, q.key(job.Queue, "completed")).Err()
}

// MarkSkipped removes a cancelled job without counting a failure
func (q *Queue) MarkSkipped(ctx context.Context, job *Job) error {
	if err := q.removeActive(ctx, job); err != nil {
		return err
	}
	q.rdb.HDel(ctx, q.key(job.Queue, "jobs"), job.ID)
	q.rdb.SRem(ctx, q.key(job.Queue, "cancelled"), job.ID)
	return q.rdb.Incr(ctx, q.key(job.Queue, "skipped")).Err()
}

// Fail records a failed attempt. When attempts remain the job is re-queued to
// the delayed bucket with full-jitter exponential backoff and true is
// returned; otherwise the job moves to the dead-letter bucket.
func (q *Queue) Fail(ctx context.Context, job *Job, cause error) (retried bool, err error) {
	if err := q.removeActive(ctx, job); err != nil {
		return false, err
	}

	job.Attempt++
	if cause != nil {
		job.LastError = cause.Error()
	}

	if job.AttemptsExhausted() {
		job.State = StateFailed
		if err := q.storeJob(ctx, job); err != nil {
			return false, err
		}
		if err := q.rdb.LPush(ctx, q.key(job.Queue, "dead"), job.ID).Err(); err != nil {
			return false, fmt.Errorf("failed to dead-letter job: %w", err)
		}
		return false, nil
	}

	delay := shared.BackoffDelay(q.cfg.BackoffBase, q.cfg.BackoffMax, job.Attempt-1)
	return true, q.requeueDelayed(ctx, job, delay)
}

// Delay re-queues an active job without consuming an attempt (used when the
// per-line lock is contended).
func (q *Queue) Delay(ctx context.Context, job *Job, delay time.Duration) error {
	if err := q.removeActive(ctx, job); err != nil {
		return err
	}
	return q.requeueDelayed(ctx, job, delay)
}

func (q *Queue) requeueDelayed(ctx context.Context, job *Job, delay time.Duration) error {
	job.State = StateDelayed
	job.NotBefore = q.clock.Now().Add(delay)
	if err := q.storeJob(ctx, job); err != nil {
		return err
	}
	return q.rdb.ZAdd(ctx, q.key(job.Queue, "delayed"), redis.Z{
		Score:  float64(job.NotBefore.Unix()),
		Member: job.ID,
	}).Err()
}

// Cancel flags a job for cooperative cancellation. Workers poll the flag at
// every yield point; cancelled jobs end as skipped, not failed.
func (q *Queue) Cancel(ctx context.Context, queue, jobID string) error {
	return q.rdb.SAdd(ctx, q.key(queue, "cancelled"), jobID).Err()
}

// IsCancelled reports whether the job has been administratively cancelled
func (q *Queue) IsCancelled(ctx context.Context, job *Job) bool {
	ok, err := q.rdb.SIsMember(ctx, q.key(job.Queue, "cancelled"), job.ID).Result()
	return err == nil && ok
}

// Depth returns waiting plus delayed counts, used for backpressure decisions
func (q *Queue) Depth(ctx context.Context, queue string) (int64, error) {
	waiting, err := q.rdb.LLen(ctx, q.key(queue, "waiting")).Result()
	if err != nil {
		return 0, err
	}
	delayed, err := q.rdb.ZCard(ctx, q.key(queue, "delayed")).Result()
	if err != nil {
		return 0, err
	}
	return waiting + delayed, nil
}

// RequeueStalled returns active jobs whose heartbeat is older than stalledAfter
// to the waiting bucket, attempt counter preserved. Called by the reaper.
func (q *Queue) RequeueStalled(ctx context.Context, queue string, stalledAfter time.Duration) (int, error) {
	cutoff := q.clock.Now().Add(-stalledAfter).Unix()
	ids, err := q.rdb.ZRangeByScore(ctx, q.key(queue, "heartbeat"), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to scan heartbeats: %w", err)
	}

	requeued := 0
	for _, id := range ids {
		removed, err := q.rdb.LRem(ctx, q.key(queue, "active"), 1, id).Result()
		if err != nil || removed == 0 {
			// Another sweeper or the worker itself got there first
			q.rdb.ZRem(ctx, q.key(queue, "heartbeat"), id)
			continue
		}
		q.rdb.ZRem(ctx, q.key(queue, "heartbeat"), id)

		job, err := q.loadJob(ctx, queue, id)
		if err == nil {
			job.State = StateWaiting
			_ = q.storeJob(ctx, job)
		}
		if err := q.rdb.LPush(ctx, q.key(queue, "waiting"), id).Err(); err != nil {
			return requeued, fmt.Errorf("failed to requeue stalled job %s: %w", id, err)
		}
		requeued++
	}
	return requeued, nil
}

// DeadLetters returns up to limit jobs from the dead-letter bucket
func (q *Queue) DeadLetters(ctx context.Context, queue string, limit int64) ([]*Job, error) {
	ids, err := q.rdb.LRange(ctx, q.key(queue, "dead"), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		job, err := q.loadJob(ctx, queue, id)
		if err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// RequeueDead moves every dead-lettered job back to waiting with a fresh
// attempt budget. Administrative operation exposed through the CLI.
func (q *Queue) RequeueDead(ctx context.Context, queue string) (int, error) {
	moved := 0
	for {
		id, err := q.rdb.RPop(ctx, q.key(queue, "dead")).Result()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, err
		}
		job, err := q.loadJob(ctx, queue, id)
		if err != nil {
			continue
		}
		job.Attempt = 0
		job.State = StateWaiting
		job.LastError = ""
		if err := q.storeJob(ctx, job); err != nil {
			return moved, err
		}
		if err := q.rdb.LPush(ctx, q.key(queue, "waiting"), id).Err(); err != nil {
			return moved, err
		}
		moved++
	}
}

// promoteDue moves delayed jobs whose notBefore has passed into waiting
func (q *Queue) promoteDue(ctx context.Context, queue string) error {
	now := q.clock.Now().Unix()
	ids, err := q.rdb.ZRangeByScore(ctx, q.key(queue, "delayed"), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now, 10),
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to scan delayed jobs: %w", err)
	}
	for _, id := range ids {
		removed, err := q.rdb.ZRem(ctx, q.key(queue, "delayed"), id).Result()
		if err != nil || removed == 0 {
			continue // promoted concurrently by another worker
		}
		job, err := q.loadJob(ctx, queue, id)
		if err == nil {
			job.State = StateWaiting
			_ = q.storeJob(ctx, job)
		}
		if err := q.rdb.LPush(ctx, q.key(queue, "waiting"), id).Err(); err != nil {
			return fmt.Errorf("failed to promote delayed job %s: %w", id, err)
		}
	}
	return nil
}

func (q *Queue) removeActive(ctx context.Context, job *Job) error {
	if err := q.rdb.LRem(ctx, q.key(job.Queue, "active"), 1, job.ID).Err(); err != nil {
		return fmt.Errorf("failed to release active job %s: %w", job.ID, err)
	}
	return q.rdb.ZRem(ctx, q.key(job.Queue, "heartbeat"), job.ID).Err()
}

func (q *Queue) storeJob(ctx context.Context, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := q.rdb.HSet(ctx, q.key(job.Queue, "jobs"), job.ID, raw).Err(); err != nil {
		return fmt.Errorf("failed to store job: %w", err)
	}
	return nil
}

func (q *Queue) loadJob(ctx context.Context, queue, id string) (*Job, error) {
	raw, err := q.rdb.HGet(ctx, q.key(queue, "jobs"), id).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}
	return &job, nil
}
