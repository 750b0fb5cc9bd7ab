package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/seatrade/cruisesync-go/internal/adapters/persistence"
	"github.com/seatrade/cruisesync-go/internal/adapters/queue"
	"github.com/seatrade/cruisesync-go/internal/domain/ingestion"
)

// FlagAdmin is the flag surface the admin API exposes
type FlagAdmin interface {
	Set(ctx context.Context, key, value string) error
	List(ctx context.Context) ([]persistence.SystemFlagModel, error)
}

// EventAdmin is the webhook ledger surface the admin API exposes
type EventAdmin interface {
	Get(ctx context.Context, id string) (*ingestion.WebhookEvent, error)
	ListRecent(ctx context.Context, limit int) ([]*ingestion.WebhookEvent, error)
	Transition(ctx context.Context, id string, to ingestion.WebhookEventStatus, errorMessage string) error
}

// QueueAdmin is the queue surface the admin API exposes
type QueueAdmin interface {
	Enqueue(ctx context.Context, queueName string, payload interface{}, maxAttempts int) (*queue.Job, error)
	Depth(ctx context.Context, queueName string) (int64, error)
	RequeueDead(ctx context.Context, queueName string) (int, error)
}

// SyncAdmin reports the deferred-update backlog
type SyncAdmin interface {
	ListNeedingPriceUpdate(ctx context.Context, lineID int, limit int) ([]persistence.CruiseModel, error)
	CountNeedingPriceUpdate(ctx context.Context, lineID int) (int64, error)
}

// AdminHandler exposes the operator surface: flags, queue introspection,
// ledger history and the failed-event retry path.
type AdminHandler struct {
	flags       FlagAdmin
	events      EventAdmin
	jobs        QueueAdmin
	cruises     SyncAdmin
	maxAttempts int
	log         zerolog.Logger
}

// NewAdminHandler creates the admin handler
func NewAdminHandler(flags FlagAdmin, events EventAdmin, jobs QueueAdmin, cruises SyncAdmin, maxAttempts int, log zerolog.Logger) *AdminHandler {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &AdminHandler{
		flags:       flags,
		events:      events,
		jobs:        jobs,
		cruises:     cruises,
		maxAttempts: maxAttempts,
		log:         log.With().Str("component", "admin_handler").Logger(),
	}
}

type flagView struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ListFlags returns every system flag
func (h *AdminHandler) ListFlags(w http.ResponseWriter, r *http.Request) {
	flags, err := h.flags.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]flagView, 0, len(flags))
	for _, f := range flags {
		views = append(views, flagView{Key: f.Key, Value: f.Value, UpdatedAt: f.UpdatedAt})
	}
	writeJSON(w, http.StatusOK, views)
}

// SetFlag upserts one system flag
func (h *AdminHandler) SetFlag(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON payload")
		return
	}
	if err := h.flags.Set(r.Context(), key, body.Value); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.log.Info().Str("key", key).Str("value", body.Value).Msg("system flag updated")
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": body.Value})
}

// PendingSyncs reports queue depths and the deferred backlog
func (h *AdminHandler) PendingSyncs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	intakeDepth, err := h.jobs.Depth(ctx, ingestion.QueueWebhookIntake)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	lineDepth, err := h.jobs.Depth(ctx, ingestion.QueueCruiseLineProcessing)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	deferred, err := h.cruises.CountNeedingPriceUpdate(ctx, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{
		"webhookIntakeDepth":        intakeDepth,
		"cruiseLineProcessingDepth": lineDepth,
		"deferredSailings":          deferred,
	})
}

type eventView struct {
	ID           string     `json:"id"`
	LineID       int        `json:"lineId"`
	EventType    string     `json:"eventType"`
	Status       string     `json:"status"`
	ReceivedAt   time.Time  `json:"receivedAt"`
	ProcessedAt  *time.Time `json:"processedAt,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	RetryCount   int        `json:"retryCount"`
}

// RecentEvents returns the newest ledger entries
func (h *AdminHandler) RecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	events, err := h.events.ListRecent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]eventView, 0, len(events))
	for _, e := range events {
		views = append(views, eventView{
			ID: e.ID, LineID: e.LineID, EventType: e.EventType, Status: string(e.Status),
			ReceivedAt: e.ReceivedAt, ProcessedAt: e.ProcessedAt,
			ErrorMessage: e.ErrorMessage, RetryCount: e.RetryCount,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// RetryEvent re-opens one failed event and re-enqueues its intake job.
// The pending transition increments the event's retry count.
func (h *AdminHandler) RetryEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	event, err := h.events.Get(ctx, id)
	if err != nil {
		writeError(w, http.StatusNotFound, "webhook event not found")
		return
	}
	if event.Status != ingestion.WebhookStatusFailed {
		writeError(w, http.StatusConflict, "only failed events can be retried")
		return
	}

	if err := h.events.Transition(ctx, id, ingestion.WebhookStatusPending, ""); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if _, err := h.jobs.Enqueue(ctx, ingestion.QueueWebhookIntake, ingestion.WebhookJobPayload{
		WebhookEventID: event.ID,
		LineID:         event.LineID,
		EventType:      event.EventType,
	}, h.maxAttempts); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.log.Info().Str("event_id", id).Msg("failed event re-queued by operator")
	writeJSON(w, http.StatusAccepted, map[string]string{"eventId": id, "status": string(ingestion.WebhookStatusPending)})
}

// RequeueDead moves every dead-lettered job of a queue back to waiting
func (h *AdminHandler) RequeueDead(w http.ResponseWriter, r *http.Request) {
	queueName := chi.URLParam(r, "queue")
	if queueName != ingestion.QueueWebhookIntake && queueName != ingestion.QueueCruiseLineProcessing {
		writeError(w, http.StatusNotFound, "unknown queue")
		return
	}

	requeued, err := h.jobs.RequeueDead(r.Context(), queueName)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"queue": queueName, "requeued": requeued})
}
