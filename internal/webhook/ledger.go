package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/db"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/order"
)

const ledgerTable = "webhook_events"

var errAlreadyClaimed = errors.New("ledger: event already recorded")

// EventKey identifies one provider delivery.
type EventKey struct {
	Provider string
	Name     string
	ID       string
}

// PaymentStore records paid deliveries.
type PaymentStore interface {
	// RecordPayment claims key in the processed-event ledger and moves the
	// order from awaiting_payment to paid, both or neither. claimed is false
	// for a delivery recorded before; applied is false when the order was no
	// longer awaiting payment.
	RecordPayment(ctx context.Context, key EventKey, orderID uuid.UUID) (claimed, applied bool, err error)
}

// TxLifecycle runs order transitions inside a caller's transaction.
// *order.Lifecycle satisfies it.
type TxLifecycle interface {
	InTx(ctx context.Context, beginner db.TxBeginner, fn func(tx pgx.Tx, t order.Transitioner) error) error
}

type ledgerRow struct {
	ID         int64      `db:"id"`
	Provider   string     `db:"provider"`
	EventName  string     `db:"event_name"`
	EventID    string     `db:"event_id"`
	OrderID    *uuid.UUID `db:"order_id"`
	ReceivedAt time.Time  `db:"received_at"`
}

type postgresPaymentStore struct {
	pool      db.TxBeginner
	lifecycle TxLifecycle
}

func NewPostgresPaymentStore(pool db.TxBeginner, lifecycle TxLifecycle) PaymentStore {
	return &postgresPaymentStore{pool: pool, lifecycle: lifecycle}
}

func (s *postgresPaymentStore) RecordPayment(ctx context.Context, key EventKey, orderID uuid.UUID) (claimed, applied bool, err error) {
	err = s.lifecycle.InTx(ctx, s.pool, func(tx pgx.Tx, t order.Transitioner) error {
		if err := claim(ctx, tx, key, orderID); err != nil {
			return err
		}
		var err error
		applied, err = t.Transition(ctx, orderID, order.StatusAwaitingPayment, order.StatusPaid, order.WithPaymentRef(key.ID))
		return err
	})
	if errors.Is(err, errAlreadyClaimed) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return true, applied, nil
}

// claim inserts the ledger row. A unique violation aborts the surrounding
// transaction, so it is reported as errAlreadyClaimed for the caller to roll back.
func claim(ctx context.Context, q db.Querier, key EventKey, orderID uuid.UUID) error {
	_, err := db.Insert[ledgerRow](ctx, q, ledgerTable, db.Values{
		"provider":    key.Provider,
		"event_name":  key.Name,
		"event_id":    key.ID,
		"order_id":    orderID,
		"received_at": time.Now().UTC(),
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return errAlreadyClaimed
		}
		return fmt.Errorf("ledger: failed to claim %s/%s/%s: %w", key.Provider, key.Name, key.ID, err)
	}
	return nil
}
