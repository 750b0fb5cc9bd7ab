package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/seatrade/cruisesync-go/internal/domain/ingestion"
	"github.com/seatrade/cruisesync-go/internal/domain/shared"
)

// GormWebhookEventRepository persists the webhook ledger using GORM
type GormWebhookEventRepository struct {
	db    *gorm.DB
	clock shared.Clock
}

// NewGormWebhookEventRepository creates a new GORM webhook event repository
func NewGormWebhookEventRepository(db *gorm.DB, clock shared.Clock) *GormWebhookEventRepository {
	if clock == nil {
		clock = shared.NewRealClock()
	}
	return &GormWebhookEventRepository{db: db, clock: clock}
}

// Create inserts a new ledger entry
func (r *GormWebhookEventRepository) Create(ctx context.Context, event *ingestion.WebhookEvent) error {
	model := eventToModel(event)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to create webhook event: %w", err)
	}
	return nil
}

// Get loads one ledger entry by id
func (r *GormWebhookEventRepository) Get(ctx context.Context, id string) (*ingestion.WebhookEvent, error) {
	var model WebhookEventModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		return nil, fmt.Errorf("failed to load webhook event %s: %w", id, err)
	}
	return modelToEvent(&model), nil
}

// FindDuplicate returns the earliest admitted event for the same line and
// event type received since the given instant, or nil when the window is
// clear. The window slides with each delivery, so two webhooks seconds apart
// collapse regardless of where a bucket boundary falls between them. Failed
// events never suppress a redelivery, and skipped records never extend the
// window.
func (r *GormWebhookEventRepository) FindDuplicate(ctx context.Context, lineID int, eventType string, since time.Time) (*ingestion.WebhookEvent, error) {
	var model WebhookEventModel
	err := r.db.WithContext(ctx).
		Where("line_id = ? AND event_type = ? AND received_at >= ? AND status NOT IN ?",
			lineID, eventType, since, []string{
				string(ingestion.WebhookStatusFailed),
				string(ingestion.WebhookStatusSkipped),
			}).
		Order("received_at ASC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check webhook duplicate: %w", err)
	}
	return modelToEvent(&model), nil
}

// Transition moves an event through its lifecycle, rejecting non-monotonic
// moves. errorMessage is stored only for the failed status.
func (r *GormWebhookEventRepository) Transition(ctx context.Context, id string, to ingestion.WebhookEventStatus, errorMessage string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model WebhookEventModel
		if err := tx.Where("id = ?", id).First(&model).Error; err != nil {
			return fmt.Errorf("failed to load webhook event %s: %w", id, err)
		}
		from := ingestion.WebhookEventStatus(model.Status)
		if err := from.ValidateTransition(to); err != nil {
			return err
		}

		updates := map[string]interface{}{"status": string(to)}
		if to.Terminal() {
			now := r.clock.Now()
			updates["processed_at"] = now
		}
		switch to {
		case ingestion.WebhookStatusProcessing:
			updates["processing_started_at"] = r.clock.Now()
		case ingestion.WebhookStatusFailed:
			updates["error_message"] = errorMessage
		case ingestion.WebhookStatusPending:
			// Administrative retry of a failed event
			updates["error_message"] = ""
			updates["processed_at"] = nil
			updates["processing_started_at"] = nil
			updates["retry_count"] = gorm.Expr("retry_count + 1")
		}

		if err := tx.Model(&WebhookEventModel{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to transition webhook event %s to %s: %w", id, to, err)
		}
		return nil
	})
}

// FailStalled marks events stuck in processing beyond maxAge as failed.
// The age is measured from when processing began, not admission, so an old
// event re-opened by an administrative retry gets a full grace period.
// Returns the ids that were failed so their jobs can be reconciled.
func (r *GormWebhookEventRepository) FailStalled(ctx context.Context, maxAge time.Duration) ([]string, error) {
	cutoff := r.clock.Now().Add(-maxAge)
	var stuck []WebhookEventModel
	if err := r.db.WithContext(ctx).
		Where("status = ? AND processing_started_at IS NOT NULL AND processing_started_at < ?",
			string(ingestion.WebhookStatusProcessing), cutoff).
		Find(&stuck).Error; err != nil {
		return nil, fmt.Errorf("failed to scan stalled webhook events: %w", err)
	}

	ids := make([]string, 0, len(stuck))
	for _, model := range stuck {
		if err := r.Transition(ctx, model.ID, ingestion.WebhookStatusFailed, "stalled"); err != nil {
			return ids, err
		}
		ids = append(ids, model.ID)
	}
	return ids, nil
}

// ListRecent returns the newest ledger entries for introspection
func (r *GormWebhookEventRepository) ListRecent(ctx context.Context, limit int) ([]*ingestion.WebhookEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []WebhookEventModel
	if err := r.db.WithContext(ctx).
		Order("received_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list webhook events: %w", err)
	}
	events := make([]*ingestion.WebhookEvent, 0, len(models))
	for i := range models {
		events = append(events, modelToEvent(&models[i]))
	}
	return events, nil
}

// PurgeOlderThan enforces ledger retention; only terminal entries are removed
func (r *GormWebhookEventRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("received_at < ? AND status IN ?", cutoff, []string{
			string(ingestion.WebhookStatusCompleted),
			string(ingestion.WebhookStatusFailed),
			string(ingestion.WebhookStatusSkipped),
		}).
		Delete(&WebhookEventModel{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge old webhook events: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func eventToModel(event *ingestion.WebhookEvent) *WebhookEventModel {
	return &WebhookEventModel{
		ID:                  event.ID,
		LineID:              event.LineID,
		EventType:           event.EventType,
		Payload:             event.Payload,
		ReceivedAt:          event.ReceivedAt,
		Status:              string(event.Status),
		ProcessingStartedAt: event.ProcessingStartedAt,
		ProcessedAt:         event.ProcessedAt,
		ErrorMessage:        event.ErrorMessage,
		RetryCount:          event.RetryCount,
		DedupKey:            event.DedupKey,
	}
}

func modelToEvent(model *WebhookEventModel) *ingestion.WebhookEvent {
	return &ingestion.WebhookEvent{
		ID:                  model.ID,
		LineID:              model.LineID,
		EventType:           model.EventType,
		Payload:             model.Payload,
		ReceivedAt:          model.ReceivedAt,
		Status:              ingestion.WebhookEventStatus(model.Status),
		ProcessingStartedAt: model.ProcessingStartedAt,
		ProcessedAt:         model.ProcessedAt,
		ErrorMessage:        model.ErrorMessage,
		RetryCount:          model.RetryCount,
		DedupKey:            model.DedupKey,
	}
}
