package reaper

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/seatrade/cruisesync-go/internal/domain/ingestion"
	"github.com/seatrade/cruisesync-go/internal/domain/shared"
)

// StalledRequeuer moves jobs with expired heartbeats back to waiting
type StalledRequeuer interface {
	RequeueStalled(ctx context.Context, queue string, stalledAfter time.Duration) (int, error)
}

// EventJanitor fails stuck webhook events and purges terminal history
type EventJanitor interface {
	FailStalled(ctx context.Context, maxAge time.Duration) ([]string, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// LockJanitor releases sync locks whose holders died
type LockJanitor interface {
	ReleaseExpired(ctx context.Context, ttl time.Duration) (int64, error)
}

// SnapshotJanitor trims old price snapshots
type SnapshotJanitor interface {
	PurgeSnapshotsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config holds reaper tunables
type Config struct {
	// Interval between sweeps
	Interval time.Duration
	// StalledAfter is the heartbeat age that counts a job as stalled
	StalledAfter time.Duration
	// StuckEventAfter is how long an event may sit in processing
	StuckEventAfter time.Duration
	// LockTTL is the maximum lifetime of a processing sync lock
	LockTTL time.Duration
	// SnapshotRetention bounds the price snapshot history
	SnapshotRetention time.Duration
	// EventRetention bounds the terminal webhook event history
	EventRetention time.Duration
}

// Reaper runs the periodic recovery sweep: stalled jobs return to waiting,
// events stuck in processing fail, and expired locks release. Retention
// purges piggyback on the same loop.
type Reaper struct {
	queue     StalledRequeuer
	events    EventJanitor
	locks     LockJanitor
	snapshots SnapshotJanitor
	cfg       Config
	clock     shared.Clock
	log       zerolog.Logger
}

// New creates a Reaper
func New(queue StalledRequeuer, events EventJanitor, locks LockJanitor, snapshots SnapshotJanitor, cfg Config, clock shared.Clock, log zerolog.Logger) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.StalledAfter <= 0 {
		cfg.StalledAfter = time.Minute
	}
	if cfg.StuckEventAfter <= 0 {
		cfg.StuckEventAfter = time.Hour
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Hour
	}
	if cfg.SnapshotRetention <= 0 {
		cfg.SnapshotRetention = 90 * 24 * time.Hour
	}
	if cfg.EventRetention <= 0 {
		cfg.EventRetention = 30 * 24 * time.Hour
	}
	if clock == nil {
		clock = shared.NewRealClock()
	}
	return &Reaper{
		queue:     queue,
		events:    events,
		locks:     locks,
		snapshots: snapshots,
		cfg:       cfg,
		clock:     clock,
		log:       log.With().Str("component", "reaper").Logger(),
	}
}

// Run sweeps on the configured interval until the context is cancelled
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one recovery pass. Each step is independent; a failing step is
// logged and the rest still run.
func (r *Reaper) Sweep(ctx context.Context) {
	for _, queueName := range []string{ingestion.QueueWebhookIntake, ingestion.QueueCruiseLineProcessing} {
		requeued, err := r.queue.RequeueStalled(ctx, queueName, r.cfg.StalledAfter)
		if err != nil {
			r.log.Error().Err(err).Str("queue", queueName).Msg("failed to requeue stalled jobs")
		} else if requeued > 0 {
			r.log.Warn().Str("queue", queueName).Int("requeued", requeued).Msg("requeued stalled jobs")
		}
	}

	failed, err := r.events.FailStalled(ctx, r.cfg.StuckEventAfter)
	if err != nil {
		r.log.Error().Err(err).Msg("failed to fail stuck events")
	} else if len(failed) > 0 {
		r.log.Warn().Strs("event_ids", failed).Msg("failed events stuck in processing")
	}

	released, err := r.locks.ReleaseExpired(ctx, r.cfg.LockTTL)
	if err != nil {
		r.log.Error().Err(err).Msg("failed to release expired locks")
	} else if released > 0 {
		r.log.Warn().Int64("released", released).Msg("released expired sync locks")
	}

	now := r.clock.Now()
	if purged, err := r.snapshots.PurgeSnapshotsOlderThan(ctx, now.Add(-r.cfg.SnapshotRetention)); err != nil {
		r.log.Error().Err(err).Msg("failed to purge old snapshots")
	} else if purged > 0 {
		r.log.Info().Int64("purged", purged).Msg("purged old price snapshots")
	}
	if purged, err := r.events.PurgeOlderThan(ctx, now.Add(-r.cfg.EventRetention)); err != nil {
		r.log.Error().Err(err).Msg("failed to purge old events")
	} else if purged > 0 {
		r.log.Info().Int64("purged", purged).Msg("purged old webhook events")
	}
}
