package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/seatrade/cruisesync-go/internal/domain/shared"
)

// Handler processes one reserved job. Returning nil completes the job;
// shared.ErrCancelled (wrapped) marks it skipped; a *shared.RetryableError
// re-queues it after the carried delay without consuming an attempt; any
// other error counts a failed attempt with backoff.
type Handler func(ctx context.Context, job *Job) error

// WorkerConfig holds per-queue worker pool settings
type WorkerConfig struct {
	Queue          string
	Concurrency    int
	ReserveTimeout time.Duration
	HeartbeatEvery time.Duration
	JobTimeout     time.Duration
}

// WorkerPool runs N workers against one named queue. Each worker blocks in
// Reserve, executes the handler under a per-job timeout, publishes heartbeats
// while the handler runs, and polls the cancellation flag on every heartbeat.
type WorkerPool struct {
	queue   *Queue
	cfg     WorkerConfig
	handler Handler
	log     zerolog.Logger

	// OnExhausted is invoked when a job lands in the dead-letter bucket
	OnExhausted func(job *Job, err error)
	// OnRetry is invoked when a failed attempt is re-queued with backoff
	OnRetry func(job *Job, err error)

	wg sync.WaitGroup
}

// NewWorkerPool creates a worker pool; Start must be called to begin work
func NewWorkerPool(q *Queue, cfg WorkerConfig, handler Handler, log zerolog.Logger) *WorkerPool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.ReserveTimeout <= 0 {
		cfg.ReserveTimeout = 5 * time.Second
	}
	if cfg.HeartbeatEvery <= 0 {
		cfg.HeartbeatEvery = 10 * time.Second
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Minute
	}
	return &WorkerPool{
		queue:   q,
		cfg:     cfg,
		handler: handler,
		log:     log.With().Str("component", "worker_pool").Str("queue", cfg.Queue).Logger(),
	}
}

// Start launches the workers. They stop when ctx is cancelled; Wait blocks
// until all in-flight jobs have finished.
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go func(worker int) {
			defer p.wg.Done()
			p.runWorker(ctx, worker)
		}(i)
	}
}

// Wait blocks until all workers have exited
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

func (p *WorkerPool) runWorker(ctx context.Context, worker int) {
	log := p.log.With().Int("worker", worker).Logger()
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := p.queue.Reserve(ctx, p.cfg.Queue, p.cfg.ReserveTimeout)
		if errors.Is(err, ErrNoJob) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("reserve failed")
			// Avoid a hot loop against a broken backend
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		p.runJob(ctx, log, job)
	}
}

func (p *WorkerPool) runJob(ctx context.Context, log zerolog.Logger, job *Job) {
	jobCtx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
	defer cancel()

	// Heartbeat loop also polls the cancellation flag so long handlers are
	// interrupted at their next context check.
	cancelled := make(chan struct{})
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		ticker := time.NewTicker(p.cfg.HeartbeatEvery)
		defer ticker.Stop()
		for {
			select {
			case <-jobCtx.Done():
				return
			case <-ticker.C:
				if err := p.queue.Heartbeat(jobCtx, job); err != nil && jobCtx.Err() == nil {
					log.Warn().Err(err).Str("job_id", job.ID).Msg("heartbeat failed")
				}
				if p.queue.IsCancelled(jobCtx, job) {
					close(cancelled)
					cancel()
					return
				}
			}
		}
	}()

	err := p.handler(jobCtx, job)
	cancel()
	<-hbDone

	wasCancelled := false
	select {
	case <-cancelled:
		wasCancelled = true
	default:
	}

	switch {
	case err == nil:
		if cerr := p.queue.Complete(ctx, job); cerr != nil {
			log.Error().Err(cerr).Str("job_id", job.ID).Msg("failed to complete job")
		}

	case wasCancelled || errors.Is(err, shared.ErrCancelled):
		log.Info().Str("job_id", job.ID).Msg("job cancelled, marking skipped")
		if serr := p.queue.MarkSkipped(ctx, job); serr != nil {
			log.Error().Err(serr).Str("job_id", job.ID).Msg("failed to mark job skipped")
		}

	default:
		var retryable *shared.RetryableError
		if errors.As(err, &retryable) {
			delay := shared.JitteredDelay(time.Duration(retryable.Delay) * time.Millisecond)
			log.Debug().Str("job_id", job.ID).Dur("delay", delay).Msg("re-queueing contended job")
			if derr := p.queue.Delay(ctx, job, delay); derr != nil {
				log.Error().Err(derr).Str("job_id", job.ID).Msg("failed to delay job")
			}
			return
		}

		retried, ferr := p.queue.Fail(ctx, job, err)
		if ferr != nil {
			log.Error().Err(ferr).Str("job_id", job.ID).Msg("failed to record job failure")
			return
		}
		if retried {
			log.Warn().Err(err).Str("job_id", job.ID).Int("attempt", job.Attempt).Msg("job failed, will retry")
			if p.OnRetry != nil {
				p.OnRetry(job, err)
			}
			return
		}
		log.Error().Err(err).Str("job_id", job.ID).Msg("job attempts exhausted, dead-lettered")
		if p.OnExhausted != nil {
			p.OnExhausted(job, err)
		}
	}
}
