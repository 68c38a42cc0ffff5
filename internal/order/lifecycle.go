package order

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/apperr"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/db"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/events"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/metrics"
)

var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusAwaitingPayment: true,
		StatusCancelled:       true,
	},
	StatusAwaitingPayment: {
		StatusPaid:          true,
		StatusCancelled:     true,
		StatusPaymentFailed: true,
	},
	StatusPaid: {
		StatusShipped:  true,
		StatusRefunded: true,
	},
	StatusShipped: {
		StatusDelivered: true,
		StatusRefunded:  true,
	},
	StatusDelivered: {
		StatusRefunded: true,
	},
	StatusCancelled:     {},
	StatusPaymentFailed: {},
	StatusRefunded:      {},
}

var ErrInvalidStatusTransition = fmt.Errorf("invalid order status transition: %w", apperr.ErrConflict)

// CanTransition reports whether from → to is in the transition table.
func CanTransition(from, to Status) bool {
	return allowedTransitions[from][to]
}

// Transitioner applies conditional status changes.
type Transitioner interface {
	Transition(ctx context.Context, id uuid.UUID, from, to Status, opts ...TransitionOption) (bool, error)
}

type transitionOptions struct {
	paymentRef string
}

type TransitionOption func(*transitionOptions)

// WithPaymentRef records the provider's payment reference in the same update.
func WithPaymentRef(ref string) TransitionOption {
	return func(o *transitionOptions) { o.paymentRef = ref }
}

type Lifecycle struct {
	repo      Repository
	publisher events.Publisher
	now       func() time.Time
}

func NewLifecycle(repo Repository, publisher events.Publisher) *Lifecycle {
	if publisher == nil {
		publisher = events.NewNoopPublisher()
	}
	return &Lifecycle{repo: repo, publisher: publisher, now: time.Now}
}

// Transition moves order id from `from` to `to` only if it is still in `from`.
// A row that has already moved on is not an error: applied is false and a
// warning is logged, which makes repeated deliveries harmless.
func (l *Lifecycle) Transition(ctx context.Context, id uuid.UUID, from, to Status, opts ...TransitionOption) (bool, error) {
	if !CanTransition(from, to) {
		log.Error().Stringer("order_id", id).Stringer("from", from).Stringer("to", to).Msg("lifecycle: transition not allowed")
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, from, to)
	}

	var o transitionOptions
	for _, opt := range opts {
		opt(&o)
	}
	var extra db.Values
	if o.paymentRef != "" {
		extra = db.Values{"payment_ref": o.paymentRef}
	}

	applied, err := l.repo.UpdateStatus(ctx, id, from, to, extra)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", id).Stringer("from", from).Stringer("to", to).Msg("lifecycle: status update failed")
		return false, fmt.Errorf("lifecycle: %w", err)
	}
	metrics.RecordTransition(from.String(), to.String(), applied)

	if !applied {
		log.Warn().Stringer("order_id", id).Stringer("from", from).Stringer("to", to).Msg("lifecycle: order not in expected status, transition skipped")
		return false, nil
	}

	log.Info().Stringer("order_id", id).Stringer("from", from).Stringer("to", to).Msg("lifecycle: order status changed")

	ev := events.StatusChanged{
		OrderID:    id.String(),
		From:       from.String(),
		To:         to.String(),
		PaymentRef: o.paymentRef,
		At:         l.now().UTC(),
	}
	l.publish(ctx, ev)
	return true, nil
}

func (l *Lifecycle) publish(ctx context.Context, ev events.StatusChanged) {
	if err := l.publisher.PublishStatus(ctx, ev); err != nil {
		log.Warn().Err(err).Str("order_id", ev.OrderID).Str("to", ev.To).Msg("lifecycle: failed to publish status event")
	}
}

// InTx runs fn in one transaction on beginner. The Transitioner handed to fn
// updates orders inside that transaction, and its status events are published
// only once the transaction has committed.
func (l *Lifecycle) InTx(ctx context.Context, beginner db.TxBeginner, fn func(tx pgx.Tx, t Transitioner) error) error {
	pending := &pendingEvents{}
	err := db.WithTx(ctx, beginner, func(tx pgx.Tx) error {
		return fn(tx, &Lifecycle{repo: NewRepository(tx), publisher: pending, now: l.now})
	})
	if err != nil {
		return err
	}
	for _, ev := range pending.events {
		l.publish(ctx, ev)
	}
	return nil
}

// pendingEvents holds status events until their transaction commits.
type pendingEvents struct {
	events []events.StatusChanged
}

func (p *pendingEvents) PublishStatus(_ context.Context, ev events.StatusChanged) error {
	p.events = append(p.events, ev)
	return nil
}

func (p *pendingEvents) Close() error { return nil }
