// Package webhook verifies and applies payment provider webhook deliveries.
package webhook

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/checkout"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/metrics"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/notify"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/order"
)

const (
	Provider         = "lemonsqueezy"
	EventOrderCreate = "order_created"
)

type Result struct {
	Status  int
	Message string
}

type OrderLoader interface {
	LoadForFulfillment(ctx context.Context, id uuid.UUID) (*order.Fulfillment, error)
}

type Scheduler interface {
	Schedule(orderID uuid.UUID, email string) error
}

type payload struct {
	Meta struct {
		EventName  string `json:"event_name"`
		CustomData struct {
			OrderID string `json:"order_id"`
		} `json:"custom_data"`
	} `json:"meta"`
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			UserEmail string `json:"user_email"`
		} `json:"attributes"`
	} `json:"data"`
}

type Processor struct {
	secret    string
	payments  PaymentStore
	orders    OrderLoader
	sender    notify.Sender
	scheduler Scheduler
}

func NewProcessor(secret string, payments PaymentStore, orders OrderLoader, sender notify.Sender, scheduler Scheduler) *Processor {
	return &Processor{
		secret:    secret,
		payments:  payments,
		orders:    orders,
		sender:    sender,
		scheduler: scheduler,
	}
}

func result(event, outcome string, status int, msg string) Result {
	metrics.RecordWebhookEvent(event, outcome)
	return Result{Status: status, Message: msg}
}

// Handle processes one delivery. Once the payload is verified and well formed
// it answers 200 whatever happens to the receipt or fulfillment. A database
// failure while recording the payment commits nothing and yields 500 so the
// provider redelivers.
func (p *Processor) Handle(ctx context.Context, body []byte, signature string) Result {
	if !checkout.VerifySignature(p.secret, body, signature) {
		log.Warn().Int("bytes", len(body)).Msg("webhook: invalid signature")
		return result("", "invalid_signature", http.StatusForbidden, "invalid signature")
	}

	var pl payload
	if err := json.Unmarshal(body, &pl); err != nil {
		log.Warn().Err(err).Msg("webhook: malformed payload")
		return result("", "malformed", http.StatusBadRequest, "malformed payload")
	}
	event := pl.Meta.EventName

	if event != EventOrderCreate {
		log.Info().Str("event_name", event).Msg("webhook: ignoring event")
		return result(event, "ignored", http.StatusOK, "ignored")
	}

	orderID, err := uuid.FromString(pl.Meta.CustomData.OrderID)
	if err != nil || orderID == uuid.Nil {
		log.Warn().Str("event_name", event).Str("order_ref", pl.Meta.CustomData.OrderID).Msg("webhook: missing or invalid order id")
		return result(event, "malformed", http.StatusBadRequest, "missing or invalid order id")
	}
	if pl.Data.ID == "" {
		log.Warn().Str("event_name", event).Stringer("order_id", orderID).Msg("webhook: missing event id")
		return result(event, "malformed", http.StatusBadRequest, "missing event id")
	}

	logger := log.With().Str("event_name", event).Str("event_id", pl.Data.ID).Stringer("order_id", orderID).Logger()
	key := EventKey{Provider: Provider, Name: event, ID: pl.Data.ID}

	claimed, applied, err := p.payments.RecordPayment(ctx, key, orderID)
	if err != nil {
		logger.Error().Err(err).Msg("webhook: failed to record payment")
		return result(event, "error", http.StatusInternalServerError, "temporarily unable to process event")
	}
	if !claimed {
		logger.Info().Msg("webhook: duplicate delivery")
		return result(event, "duplicate", http.StatusOK, "duplicate")
	}
	if !applied {
		logger.Warn().Msg("webhook: order not awaiting payment, nothing to do")
		return result(event, "stale", http.StatusOK, "order already processed")
	}

	email := pl.Data.Attributes.UserEmail
	if email == "" {
		logger.Warn().Msg("webhook: payload has no customer email, skipping receipt and fulfillment")
		return result(event, "processed", http.StatusOK, "ok")
	}

	p.sendReceipt(ctx, orderID, email)

	if err := p.scheduler.Schedule(orderID, email); err != nil {
		logger.Error().Err(err).Msg("webhook: fulfillment not scheduled, sweeper will retry")
	}
	return result(event, "processed", http.StatusOK, "ok")
}

func (p *Processor) sendReceipt(ctx context.Context, orderID uuid.UUID, email string) {
	f, err := p.orders.LoadForFulfillment(ctx, orderID)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("webhook: failed to load order for receipt")
		return
	}
	msg, err := notify.ReceiptEmail(f, email)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("webhook: failed to render receipt")
		return
	}
	if err := p.sender.Send(ctx, msg); err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("webhook: failed to send receipt")
		return
	}
	log.Info().Stringer("order_id", orderID).Msg("webhook: receipt sent")
}
