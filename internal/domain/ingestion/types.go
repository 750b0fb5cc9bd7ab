package ingestion

import (
	"fmt"
	"time"
)

// Queue names for the two durable queues
const (
	QueueWebhookIntake        = "webhook-intake"
	QueueCruiseLineProcessing = "cruise-line-processing"
)

// Well-known system flag keys
const (
	FlagWebhooksPaused    = "webhooks_paused"
	FlagBatchSyncPaused   = "batch_sync_paused"
	FlagSyncInProgress    = "sync_in_progress"
	FlagSyncStartedAt     = "sync_started_at"
	FlagSyncOperator      = "sync_operator"
	FlagDedupWindow       = "webhook_deduplication_window"
	FlagMaxCruisesPerHook = "max_cruises_per_webhook"
)

// Recognized webhook event types
const (
	EventCruiseLinePricingUpdated  = "cruiseline_pricing_updated"
	EventCruisesLivePricingUpdated = "cruises_live_pricing_updated"
)

// RecognizedEvent reports whether the intake accepts the given event type
func RecognizedEvent(eventType string) bool {
	return eventType == EventCruiseLinePricingUpdated || eventType == EventCruisesLivePricingUpdated
}

// FileRef identifies one provider JSON file discovered on the FTP tree.
// Path convention: /YYYY/MM/<lineId>/<shipId>/<codeToCruiseId>.json
type FileRef struct {
	Path           string
	Year           int
	Month          int
	LineID         int
	ShipID         int
	CodeToCruiseID string
	Size           int64
	LastModified   time.Time
}

// WebhookEventStatus is the ledger status of one received webhook
type WebhookEventStatus string

const (
	WebhookStatusPending    WebhookEventStatus = "pending"
	WebhookStatusProcessing WebhookEventStatus = "processing"
	WebhookStatusCompleted  WebhookEventStatus = "completed"
	WebhookStatusFailed     WebhookEventStatus = "failed"
	WebhookStatusSkipped    WebhookEventStatus = "skipped"
)

// Terminal reports whether the status is final
func (s WebhookEventStatus) Terminal() bool {
	switch s {
	case WebhookStatusCompleted, WebhookStatusFailed, WebhookStatusSkipped:
		return true
	}
	return false
}

// ValidateTransition enforces the monotonic lifecycle
// pending -> processing -> {completed, failed, skipped}. A failed event may be
// re-opened to pending administratively (retryCount increments at that point).
func (s WebhookEventStatus) ValidateTransition(to WebhookEventStatus) error {
	allowed := map[WebhookEventStatus][]WebhookEventStatus{
		WebhookStatusPending:    {WebhookStatusProcessing, WebhookStatusSkipped, WebhookStatusFailed},
		WebhookStatusProcessing: {WebhookStatusCompleted, WebhookStatusFailed, WebhookStatusSkipped},
		WebhookStatusFailed:     {WebhookStatusPending},
	}
	for _, next := range allowed[s] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("invalid webhook event transition %s -> %s", s, to)
}

// WebhookEvent is one ledger entry for a received provider webhook
type WebhookEvent struct {
	ID                  string
	LineID              int
	EventType           string
	Payload             string
	ReceivedAt          time.Time
	Status              WebhookEventStatus
	ProcessingStartedAt *time.Time
	ProcessedAt         *time.Time
	ErrorMessage        string
	RetryCount          int
	DedupKey            string
}

// DedupKey computes the bucketed grouping key stored with each ledger entry.
// Suppression itself uses a sliding received_at range so deliveries straddling
// a bucket boundary still collapse; the key groups entries for inspection.
func DedupKey(lineID int, eventType string, receivedAt time.Time, window time.Duration) string {
	bucket := receivedAt.Unix() / int64(window.Seconds())
	return fmt.Sprintf("%d:%s:%d", lineID, eventType, bucket)
}

// SyncLock is one per-line mutual exclusion record
type SyncLock struct {
	ID          int64
	LineID      int
	Owner       string
	Status      SyncLockStatus
	AcquiredAt  time.Time
	CompletedAt *time.Time
}

// SyncLockStatus is the per-line mutual exclusion lock status
type SyncLockStatus string

const (
	SyncLockProcessing SyncLockStatus = "processing"
	SyncLockReleased   SyncLockStatus = "released"
)

// WebhookJobPayload is carried by webhook-intake jobs
type WebhookJobPayload struct {
	WebhookEventID string `json:"webhook_event_id"`
	LineID         int    `json:"line_id"`
	EventType      string `json:"event_type"`
}

// LineBatchPayload is carried by cruise-line-processing jobs
type LineBatchPayload struct {
	WebhookEventID string `json:"webhook_event_id"`
	LineID         int    `json:"line_id"`
}

// BatchOutcome summarizes one line batch for notifications and metrics
type BatchOutcome struct {
	LineID     int
	Discovered int
	Processed  int
	Skipped    int
	Snapshots  int
	Deferred   bool
	Duration   time.Duration
}
