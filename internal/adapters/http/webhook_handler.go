package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/seatrade/cruisesync-go/internal/application/intake"
	"github.com/seatrade/cruisesync-go/internal/domain/shared"
)

// maxWebhookBody bounds the request body; provider payloads are tiny
const maxWebhookBody = 64 * 1024

// PricingUpdatedRequest is the provider's webhook payload
type PricingUpdatedRequest struct {
	Event       string `json:"event" validate:"required"`
	LineID      int    `json:"lineid" validate:"required,gt=0"`
	MarketID    *int   `json:"marketid,omitempty"`
	Currency    string `json:"currency,omitempty"`
	Description string `json:"description,omitempty"`
	Timestamp   int64  `json:"timestamp,omitempty"`
}

// PricingUpdatedResponse acknowledges an accepted delivery
type PricingUpdatedResponse struct {
	EventID string `json:"eventId"`
	Status  string `json:"status"`
}

// WebhookHandler terminates provider webhook deliveries. The contract with
// the provider is acknowledge-fast: any delivery that parses and validates
// gets a 202, regardless of what admission decides about it.
type WebhookHandler struct {
	intake   *intake.Service
	validate *validator.Validate
	log      zerolog.Logger
}

// NewWebhookHandler creates the webhook handler
func NewWebhookHandler(intakeService *intake.Service, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		intake:   intakeService,
		validate: validator.New(),
		log:      log.With().Str("component", "webhook_handler").Logger(),
	}
}

// HandlePricingUpdated accepts one cruiseline_pricing_updated delivery
func (h *WebhookHandler) HandlePricingUpdated(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req PricingUpdatedRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON payload")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.intake.Admit(r.Context(), intake.Admission{
		Event:      req.Event,
		LineID:     req.LineID,
		Timestamp:  req.Timestamp,
		RawPayload: string(body),
	})
	if err != nil {
		var verr *shared.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		h.log.Error().Err(err).Int("line_id", req.LineID).Msg("webhook admission failed")
		writeError(w, http.StatusInternalServerError, "admission failed")
		return
	}

	writeJSON(w, http.StatusAccepted, PricingUpdatedResponse{
		EventID: result.EventID,
		Status:  string(result.Status),
	})
}
