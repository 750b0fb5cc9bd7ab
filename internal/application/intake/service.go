package intake

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/seatrade/cruisesync-go/internal/adapters/metrics"
	"github.com/seatrade/cruisesync-go/internal/adapters/queue"
	"github.com/seatrade/cruisesync-go/internal/domain/ingestion"
	"github.com/seatrade/cruisesync-go/internal/domain/shared"
)

// EventLedger is the slice of the webhook ledger the intake needs
type EventLedger interface {
	Create(ctx context.Context, event *ingestion.WebhookEvent) error
	FindDuplicate(ctx context.Context, lineID int, eventType string, since time.Time) (*ingestion.WebhookEvent, error)
	Transition(ctx context.Context, id string, to ingestion.WebhookEventStatus, errorMessage string) error
}

// FlagStore reads operator flags
type FlagStore interface {
	GetBool(ctx context.Context, key string, def bool) (bool, error)
	GetInt(ctx context.Context, key string, def int) (int, error)
}

// JobEnqueuer submits durable jobs
type JobEnqueuer interface {
	Enqueue(ctx context.Context, queueName string, payload interface{}, maxAttempts int) (*queue.Job, error)
}

// Config holds intake tunables
type Config struct {
	// DedupWindow is the fallback when the system flag is unset
	DedupWindow time.Duration
	// MaxAttempts is the retry budget for webhook-intake jobs
	MaxAttempts int
}

// Service implements webhook admission: validate, respect flags, deduplicate,
// persist the ledger entry and enqueue the intake job. Admission never
// processes synchronously; the caller responds 202 on success.
type Service struct {
	events EventLedger
	flags  FlagStore
	jobs   JobEnqueuer
	cfg    Config
	clock  shared.Clock
	log    zerolog.Logger
}

// NewService creates the intake service
func NewService(events EventLedger, flags FlagStore, jobs JobEnqueuer, cfg Config, clock shared.Clock, log zerolog.Logger) *Service {
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 300 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if clock == nil {
		clock = shared.NewRealClock()
	}
	return &Service{
		events: events,
		flags:  flags,
		jobs:   jobs,
		cfg:    cfg,
		clock:  clock,
		log:    log.With().Str("component", "intake").Logger(),
	}
}

// Admission is one validated webhook delivery
type Admission struct {
	Event      string
	LineID     int
	Timestamp  int64
	RawPayload string
}

// Result reports the admission outcome. EventID is the id the caller returns;
// for a deduplicated delivery it is the id of the event already admitted.
type Result struct {
	EventID   string
	Status    ingestion.WebhookEventStatus
	Duplicate bool
}

// Admit runs the admission algorithm for one delivery
func (s *Service) Admit(ctx context.Context, adm Admission) (*Result, error) {
	if !ingestion.RecognizedEvent(adm.Event) {
		metrics.RecordWebhookReceived(adm.Event, "rejected")
		return nil, shared.NewValidationError("event", fmt.Sprintf("unrecognized event type %q", adm.Event))
	}
	if adm.LineID <= 0 {
		metrics.RecordWebhookReceived(adm.Event, "rejected")
		return nil, shared.NewValidationError("lineid", "must be a positive integer")
	}

	now := s.clock.Now()

	windowSec, err := s.flags.GetInt(ctx, ingestion.FlagDedupWindow, int(s.cfg.DedupWindow.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("failed to read deduplication window flag: %w", err)
	}
	dedupKey := ingestion.DedupKey(adm.LineID, adm.Event, now, time.Duration(windowSec)*time.Second)

	paused, err := s.flags.GetBool(ctx, ingestion.FlagWebhooksPaused, false)
	if err != nil {
		return nil, fmt.Errorf("failed to read webhooks_paused flag: %w", err)
	}
	if paused {
		event := s.newEvent(adm, now, dedupKey, ingestion.WebhookStatusSkipped)
		if err := s.events.Create(ctx, event); err != nil {
			return nil, err
		}
		s.log.Info().Int("line_id", adm.LineID).Str("event_id", event.ID).Msg("webhooks paused, recording delivery as skipped")
		metrics.RecordWebhookReceived(adm.Event, "skipped")
		return &Result{EventID: event.ID, Status: ingestion.WebhookStatusSkipped}, nil
	}

	existing, err := s.events.FindDuplicate(ctx, adm.LineID, adm.Event, now.Add(-time.Duration(windowSec)*time.Second))
	if err != nil {
		return nil, err
	}
	if existing != nil {
		event := s.newEvent(adm, now, dedupKey, ingestion.WebhookStatusSkipped)
		if err := s.events.Create(ctx, event); err != nil {
			return nil, err
		}
		s.log.Info().
			Int("line_id", adm.LineID).
			Str("duplicate_of", existing.ID).
			Msg("duplicate delivery within deduplication window")
		metrics.RecordWebhookReceived(adm.Event, "skipped")
		return &Result{EventID: existing.ID, Status: ingestion.WebhookStatusSkipped, Duplicate: true}, nil
	}

	event := s.newEvent(adm, now, dedupKey, ingestion.WebhookStatusPending)
	if err := s.events.Create(ctx, event); err != nil {
		return nil, err
	}

	payload := ingestion.WebhookJobPayload{
		WebhookEventID: event.ID,
		LineID:         adm.LineID,
		EventType:      adm.Event,
	}
	if _, err := s.jobs.Enqueue(ctx, ingestion.QueueWebhookIntake, payload, s.cfg.MaxAttempts); err != nil {
		// The ledger row exists; mark it failed so the reaper/admin can see it
		if terr := s.events.Transition(ctx, event.ID, ingestion.WebhookStatusFailed, "enqueue failed: "+err.Error()); terr != nil {
			s.log.Error().Err(terr).Str("event_id", event.ID).Msg("failed to mark unenqueued event")
		}
		return nil, fmt.Errorf("failed to enqueue intake job: %w", err)
	}

	s.log.Info().Int("line_id", adm.LineID).Str("event_id", event.ID).Msg("webhook admitted")
	metrics.RecordWebhookReceived(adm.Event, "pending")
	return &Result{EventID: event.ID, Status: ingestion.WebhookStatusPending}, nil
}

func (s *Service) newEvent(adm Admission, now time.Time, dedupKey string, status ingestion.WebhookEventStatus) *ingestion.WebhookEvent {
	return &ingestion.WebhookEvent{
		ID:         uuid.NewString(),
		LineID:     adm.LineID,
		EventType:  adm.Event,
		Payload:    adm.RawPayload,
		ReceivedAt: now,
		Status:     status,
		DedupKey:   dedupKey,
	}
}
