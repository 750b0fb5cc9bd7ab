package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/seatrade/cruisesync-go/internal/adapters/metrics"
	"github.com/seatrade/cruisesync-go/internal/adapters/persistence"
	"github.com/seatrade/cruisesync-go/internal/adapters/queue"
	"github.com/seatrade/cruisesync-go/internal/domain/cruise"
	"github.com/seatrade/cruisesync-go/internal/domain/ingestion"
	"github.com/seatrade/cruisesync-go/internal/domain/shared"
)

// EventLedger is the slice of the webhook ledger the pipeline needs
type EventLedger interface {
	Get(ctx context.Context, id string) (*ingestion.WebhookEvent, error)
	Transition(ctx context.Context, id string, to ingestion.WebhookEventStatus, errorMessage string) error
}

// LockStore provides per-line mutual exclusion
type LockStore interface {
	Acquire(ctx context.Context, lineID int, owner string) (*ingestion.SyncLock, error)
	Release(ctx context.Context, lockID int64) error
}

// FlagStore reads operator flags
type FlagStore interface {
	GetBool(ctx context.Context, key string, def bool) (bool, error)
	GetInt(ctx context.Context, key string, def int) (int, error)
}

// JobQueue is the slice of the durable queue the pipeline needs
type JobQueue interface {
	Enqueue(ctx context.Context, queueName string, payload interface{}, maxAttempts int) (*queue.Job, error)
	Depth(ctx context.Context, queueName string) (int64, error)
}

// CruiseStore persists normalized sailings and the deferred-update parking
type CruiseStore interface {
	UpsertBatch(ctx context.Context, items []persistence.UpsertItem, webhookEventID string) *persistence.BatchResult
	ParkForPriceUpdate(ctx context.Context, refs []ingestion.FileRef, webhookEventID string, requestedAt time.Time) (int64, error)
}

// Config holds pipeline tunables
type Config struct {
	// DiscoveryWindowMonths is how many months past the current one to walk
	DiscoveryWindowMonths int
	// MaxInlineBatch is the fallback when the max_cruises_per_webhook flag is unset
	MaxInlineBatch int
	// BatchSize is the number of sailings committed per transaction
	BatchSize int
	// RelockBackoff is the re-queue delay on per-line lock contention
	RelockBackoff time.Duration
	// QueueHighWaterMark defers large lines early when processing is backed up
	QueueHighWaterMark int
	// MaxAttempts is the retry budget for cruise-line-processing jobs
	MaxAttempts int
}

// Service runs the two queue handlers: fan-out from webhook-intake and the
// per-line batch on cruise-line-processing.
type Service struct {
	events     EventLedger
	locks      LockStore
	flags      FlagStore
	jobs       JobQueue
	discoverer ingestion.Discoverer
	downloader ingestion.Downloader
	normalizer *cruise.Normalizer
	cruises    CruiseStore
	notifier   ingestion.Notifier
	cfg        Config
	clock      shared.Clock
	log        zerolog.Logger
}

// NewService creates the pipeline service
func NewService(
	events EventLedger,
	locks LockStore,
	flags FlagStore,
	jobs JobQueue,
	discoverer ingestion.Discoverer,
	downloader ingestion.Downloader,
	cruises CruiseStore,
	notifier ingestion.Notifier,
	cfg Config,
	clock shared.Clock,
	log zerolog.Logger,
) *Service {
	if cfg.DiscoveryWindowMonths <= 0 {
		cfg.DiscoveryWindowMonths = 24
	}
	if cfg.MaxInlineBatch <= 0 {
		cfg.MaxInlineBatch = 500
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.RelockBackoff <= 0 {
		cfg.RelockBackoff = 30 * time.Second
	}
	if cfg.QueueHighWaterMark <= 0 {
		cfg.QueueHighWaterMark = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if notifier == nil {
		notifier = ingestion.NoopNotifier{}
	}
	if clock == nil {
		clock = shared.NewRealClock()
	}
	return &Service{
		events:     events,
		locks:      locks,
		flags:      flags,
		jobs:       jobs,
		discoverer: discoverer,
		downloader: downloader,
		normalizer: cruise.NewNormalizer(),
		cruises:    cruises,
		notifier:   notifier,
		cfg:        cfg,
		clock:      clock,
		log:        log.With().Str("component", "pipeline").Logger(),
	}
}

// HandleWebhookIntake fans a webhook-intake job out to cruise-line-processing.
// The intake queue exists so admission stays O(1); all real work happens on
// the per-line queue where the sync lock serializes concurrent webhooks.
func (s *Service) HandleWebhookIntake(ctx context.Context, job *queue.Job) error {
	var payload ingestion.WebhookJobPayload
	if err := job.Decode(&payload); err != nil {
		return fmt.Errorf("failed to decode intake payload: %w", err)
	}

	event, err := s.events.Get(ctx, payload.WebhookEventID)
	if err != nil {
		return err
	}
	if event.Status.Terminal() {
		s.log.Info().Str("event_id", event.ID).Str("status", string(event.Status)).
			Msg("event already terminal, dropping intake job")
		return nil
	}

	_, err = s.jobs.Enqueue(ctx, ingestion.QueueCruiseLineProcessing, ingestion.LineBatchPayload{
		WebhookEventID: event.ID,
		LineID:         payload.LineID,
	}, s.cfg.MaxAttempts)
	if err != nil {
		return fmt.Errorf("failed to enqueue line batch: %w", err)
	}
	return nil
}

// HandleLineBatch processes one cruise line end to end: lock, discover,
// download, normalize, extract, persist. Lock contention re-queues the job
// after RelockBackoff without consuming an attempt.
func (s *Service) HandleLineBatch(ctx context.Context, job *queue.Job) error {
	var payload ingestion.LineBatchPayload
	if err := job.Decode(&payload); err != nil {
		return fmt.Errorf("failed to decode line batch payload: %w", err)
	}

	event, err := s.events.Get(ctx, payload.WebhookEventID)
	if err != nil {
		return err
	}
	if event.Status.Terminal() {
		s.log.Info().Str("event_id", event.ID).Str("status", string(event.Status)).
			Msg("event already terminal, dropping line batch")
		return nil
	}

	lock, err := s.locks.Acquire(ctx, payload.LineID, job.ID)
	if err != nil {
		if errors.Is(err, shared.ErrLockHeld) {
			metrics.RecordLockContention(payload.LineID)
			s.log.Info().Int("line_id", payload.LineID).Str("event_id", event.ID).
				Dur("backoff", s.cfg.RelockBackoff).Msg("line locked by another worker, re-queueing")
			return &shared.RetryableError{Cause: err, Delay: s.cfg.RelockBackoff.Milliseconds()}
		}
		return err
	}
	defer func() {
		if rerr := s.locks.Release(context.WithoutCancel(ctx), lock.ID); rerr != nil {
			s.log.Error().Err(rerr).Int("line_id", payload.LineID).Msg("failed to release sync lock")
		}
	}()

	// A job re-queued by lock contention or stall recovery arrives with the
	// event already in processing; only the first delivery transitions it.
	if event.Status == ingestion.WebhookStatusPending {
		if err := s.events.Transition(ctx, event.ID, ingestion.WebhookStatusProcessing, ""); err != nil {
			return err
		}
	}

	outcome, err := s.runLineBatch(ctx, event, payload.LineID)
	if err != nil {
		// An FTP outage is the provider's problem, not this webhook's: the
		// job re-queues without consuming an attempt so exhaustion can never
		// fail the event over a down server.
		if errors.Is(err, shared.ErrFTPUnavailable) || errors.Is(err, shared.ErrFTPTransient) {
			s.log.Warn().Err(err).Int("line_id", payload.LineID).Str("event_id", event.ID).
				Dur("backoff", s.cfg.RelockBackoff).Msg("ftp unavailable, re-queueing line batch")
			return &shared.RetryableError{Cause: err, Delay: s.cfg.RelockBackoff.Milliseconds()}
		}
		return err
	}

	if err := s.events.Transition(ctx, event.ID, ingestion.WebhookStatusCompleted, ""); err != nil {
		return err
	}

	s.notify(ctx, event, outcome)
	metrics.RecordBatchCompleted(payload.LineID, outcome.Deferred, outcome.Duration.Seconds())
	return nil
}

func (s *Service) runLineBatch(ctx context.Context, event *ingestion.WebhookEvent, lineID int) (*ingestion.BatchOutcome, error) {
	started := s.clock.Now()
	windowEnd := started.AddDate(0, s.cfg.DiscoveryWindowMonths, 0)

	refs, err := s.discoverer.Discover(ctx, lineID, started, windowEnd)
	if err != nil {
		return nil, fmt.Errorf("discovery failed for line %d: %w", lineID, err)
	}

	outcome := &ingestion.BatchOutcome{LineID: lineID, Discovered: len(refs)}

	maxInline, err := s.flags.GetInt(ctx, ingestion.FlagMaxCruisesPerHook, s.cfg.MaxInlineBatch)
	if err != nil {
		return nil, fmt.Errorf("failed to read max_cruises_per_webhook flag: %w", err)
	}

	if s.shouldDefer(ctx, len(refs), maxInline) {
		parked, err := s.cruises.ParkForPriceUpdate(ctx, refs, event.ID, started)
		if err != nil {
			return nil, fmt.Errorf("failed to park deferred sailings for line %d: %w", lineID, err)
		}
		s.log.Info().Int("line_id", lineID).Int("discovered", len(refs)).
			Int64("parked", parked).Msg("batch over inline limit, deferring to batch sync")
		outcome.Deferred = true
		outcome.Duration = s.clock.Now().Sub(started)
		return outcome, nil
	}

	batch := make([]persistence.UpsertItem, 0, s.cfg.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		res := s.cruises.UpsertBatch(ctx, batch, event.ID)
		outcome.Processed += res.Upserted
		outcome.Snapshots += res.Snapshots
		for range res.Upserted {
			metrics.RecordFileProcessed(lineID, "persisted")
		}
		for range res.Snapshots {
			metrics.RecordPriceSnapshot(lineID)
		}
		for _, f := range res.Failed {
			outcome.Skipped++
			metrics.RecordFileProcessed(lineID, "persist_failed")
			s.log.Error().Err(f.Err).Str("code_to_cruise_id", f.CodeToCruiseID).
				Msg("sailing failed to persist")
		}
		batch = batch[:0]
		return nil
	}

	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: line batch interrupted", shared.ErrCancelled)
		}

		data, err := s.downloader.Download(ctx, ref.Path)
		if err != nil {
			if errors.Is(err, shared.ErrFTPUnavailable) || errors.Is(err, shared.ErrFTPTransient) {
				return nil, fmt.Errorf("download failed for %s: %w", ref.Path, err)
			}
			outcome.Skipped++
			metrics.RecordFileProcessed(lineID, "download_failed")
			s.log.Warn().Err(err).Str("path", ref.Path).Msg("skipping undownloadable file")
			continue
		}

		rec, form, err := s.normalizer.Normalize(ref.Path, data)
		if err != nil {
			outcome.Skipped++
			metrics.RecordFileProcessed(lineID, "normalization_failed")
			s.log.Warn().Err(err).Str("path", ref.Path).Msg("skipping unnormalizable file")
			continue
		}
		metrics.RecordNormalizedForm(string(form))

		batch = append(batch, persistence.UpsertItem{
			Record: rec,
			Prices: cruise.ExtractPrices(rec, lineID),
		})
		if len(batch) >= s.cfg.BatchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	outcome.Duration = s.clock.Now().Sub(started)
	s.log.Info().Int("line_id", lineID).Int("discovered", outcome.Discovered).
		Int("processed", outcome.Processed).Int("skipped", outcome.Skipped).
		Int("snapshots", outcome.Snapshots).Dur("duration", outcome.Duration).
		Msg("line batch complete")
	return outcome, nil
}

// shouldDefer applies the two deferral rules: more files than the inline
// limit, or a backed-up processing queue combined with a non-trivial batch.
func (s *Service) shouldDefer(ctx context.Context, discovered, maxInline int) bool {
	if discovered > maxInline {
		return true
	}
	depth, err := s.jobs.Depth(ctx, ingestion.QueueCruiseLineProcessing)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to read queue depth, assuming inline")
		return false
	}
	return depth > int64(s.cfg.QueueHighWaterMark) && discovered > s.cfg.MaxInlineBatch
}

// FailEvent transitions a job's webhook event to failed. Wired as the worker
// pool's OnExhausted hook so a dead-lettered job leaves a visible ledger trail.
func (s *Service) FailEvent(job *queue.Job, cause error) {
	ctx := context.Background()

	var eventID string
	var line ingestion.LineBatchPayload
	if err := job.Decode(&line); err == nil && line.WebhookEventID != "" {
		eventID = line.WebhookEventID
	} else {
		var intake ingestion.WebhookJobPayload
		if err := job.Decode(&intake); err == nil {
			eventID = intake.WebhookEventID
		}
	}
	if eventID == "" {
		return
	}

	event, err := s.events.Get(ctx, eventID)
	if err != nil || event.Status.Terminal() {
		return
	}
	if err := s.events.Transition(ctx, eventID, ingestion.WebhookStatusFailed, cause.Error()); err != nil {
		s.log.Error().Err(err).Str("event_id", eventID).Msg("failed to mark exhausted event")
	}
}

func (s *Service) notify(ctx context.Context, event *ingestion.WebhookEvent, outcome *ingestion.BatchOutcome) {
	title := "Cruise line sync completed"
	if outcome.Deferred {
		title = "Cruise line sync deferred to batch sync"
	}
	s.notifier.Notify(ctx, ingestion.Notification{
		Title: title,
		Body:  fmt.Sprintf("Line %d: %d files discovered", outcome.LineID, outcome.Discovered),
		Fields: map[string]string{
			"line_id":    fmt.Sprintf("%d", outcome.LineID),
			"event_id":   event.ID,
			"discovered": fmt.Sprintf("%d", outcome.Discovered),
			"processed":  fmt.Sprintf("%d", outcome.Processed),
			"skipped":    fmt.Sprintf("%d", outcome.Skipped),
			"snapshots":  fmt.Sprintf("%d", outcome.Snapshots),
			"deferred":   fmt.Sprintf("%t", outcome.Deferred),
			"duration":   outcome.Duration.String(),
		},
	})
}
