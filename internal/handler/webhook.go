package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/checkout"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/webhook"
)

const maxWebhookBodyBytes = 1 << 20

type WebhookProcessor interface {
	Handle(ctx context.Context, body []byte, signature string) webhook.Result
}

// WebhookHandler answers with bare status codes and plain text; the provider
// only looks at the status.
type WebhookHandler struct {
	processor WebhookProcessor
}

func NewWebhookHandler(processor WebhookProcessor) *WebhookHandler {
	return &WebhookHandler{processor: processor}
}

func (h *WebhookHandler) RegisterRoutes(router chi.Router) {
	router.Post("/webhooks/lemonsqueezy", h.HandleLemonSqueezy)
}

func (h *WebhookHandler) HandleLemonSqueezy(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			respondWithText(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		log.Warn().Err(err).Msg("handler: failed to read webhook body")
		respondWithText(w, http.StatusBadRequest, "unreadable body")
		return
	}

	res := h.processor.Handle(r.Context(), body, r.Header.Get(checkout.SignatureHeader))
	respondWithText(w, res.Status, res.Message)
}
