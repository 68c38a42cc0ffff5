package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/apperr"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/db"
)

const (
	ordersTable   = "orders"
	itemsTable    = "order_items"
	shippingTable = "shipping_addresses"
	billingTable  = "billing_addresses"
)

var ErrOrderNotFound = fmt.Errorf("order not found: %w", apperr.ErrNotFound)

type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Order, error)
	// UpdateStatus sets status to `to` only while the row is still in `from`.
	// It reports false, without error, when no row matched.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, extra db.Values) (bool, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListStale(ctx context.Context, status Status, olderThan time.Time, limit int) ([]Order, error)
	LoadFulfillment(ctx context.Context, id uuid.UUID) (*Fulfillment, error)
	MarkFulfilled(ctx context.Context, id uuid.UUID, downloadURL string) error
}

// Pool is satisfied by *pgxpool.Pool.
type Pool interface {
	db.Querier
	db.TxBeginner
}

type postgresRepository struct {
	pool Pool
}

func NewRepository(pool Pool) Repository {
	return &postgresRepository{pool: pool}
}

func addressValues(a *Address) db.Values {
	return db.Values{
		"id":          a.ID,
		"order_id":    a.OrderID,
		"name":        a.Name,
		"street":      a.Street,
		"city":        a.City,
		"postal_code": a.PostalCode,
		"country":     a.Country,
		"phone":       a.Phone,
		"created_at":  a.CreatedAt,
	}
}

// Create writes the order, its items and both addresses in one transaction.
// IDs and timestamps must already be set by the caller.
func (r *postgresRepository) Create(ctx context.Context, o *Order) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := db.Insert[Order](ctx, tx, ordersTable, db.Values{
			"id":             o.ID,
			"user_id":        o.UserID,
			"customer_email": o.CustomerEmail,
			"status":         string(o.Status),
			"total_amount":   o.TotalAmount,
			"created_at":     o.CreatedAt,
			"updated_at":     o.UpdatedAt,
		}); err != nil {
			return err
		}

		for _, item := range o.Items {
			if _, err := db.Insert[Item](ctx, tx, itemsTable, db.Values{
				"id":                item.ID,
				"order_id":          item.OrderID,
				"product_id":        item.ProductID,
				"quantity":          item.Quantity,
				"price_at_purchase": item.PriceAtPurchase,
				"created_at":        item.CreatedAt,
			}); err != nil {
				return err
			}
		}

		if o.ShippingAddress != nil {
			if _, err := db.Insert[Address](ctx, tx, shippingTable, addressValues(o.ShippingAddress)); err != nil {
				return err
			}
		}
		if o.BillingAddress != nil {
			if _, err := db.Insert[Address](ctx, tx, billingTable, addressValues(o.BillingAddress)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Stringer("order_id", o.ID).Msg("repository: failed to create order")
		return fmt.Errorf("repository: failed to create order: %w", err)
	}

	log.Info().Stringer("order_id", o.ID).Int("items", len(o.Items)).Msg("repository: order created")
	return nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := db.Get[Order](ctx, r.pool, ordersTable, db.Filter{"id": id})
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to get order %s: %w", id, err)
	}

	items, err := db.Select[Item](ctx, r.pool, itemsTable, db.Query{Filter: db.Filter{"order_id": id}, OrderBy: "created_at"})
	if err != nil {
		return nil, fmt.Errorf("repository: failed to get items for order %s: %w", id, err)
	}
	o.Items = items

	if o.ShippingAddress, err = r.getAddress(ctx, shippingTable, id); err != nil {
		return nil, err
	}
	if o.BillingAddress, err = r.getAddress(ctx, billingTable, id); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *postgresRepository) getAddress(ctx context.Context, table string, orderID uuid.UUID) (*Address, error) {
	a, err := db.Get[Address](ctx, r.pool, table, db.Filter{"order_id": orderID})
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("repository: failed to get %s for order %s: %w", table, orderID, err)
	}
	return a, nil
}

func (r *postgresRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	orders, err := db.Select[Order](ctx, r.pool, ordersTable, db.Query{
		Filter:  db.Filter{"user_id": userID},
		OrderBy: "created_at",
		Desc:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("repository: failed to list orders for user %s: %w", userID, err)
	}
	if len(orders) == 0 {
		return []Order{}, nil
	}

	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.ID.String()
	}
	items, err := db.Select[Item](ctx, r.pool, itemsTable, db.Query{Filter: db.Filter{"order_id": db.In(ids)}, OrderBy: "created_at"})
	if err != nil {
		return nil, fmt.Errorf("repository: failed to list items for user %s: %w", userID, err)
	}

	byOrder := make(map[uuid.UUID][]Item, len(orders))
	for _, it := range items {
		byOrder[it.OrderID] = append(byOrder[it.OrderID], it)
	}
	for i := range orders {
		orders[i].Items = byOrder[orders[i].ID]
		if orders[i].Items == nil {
			orders[i].Items = []Item{}
		}
	}
	return orders, nil
}

func (r *postgresRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, extra db.Values) (bool, error) {
	patch := db.Values{"status": string(to), "updated_at": time.Now().UTC()}
	for k, v := range extra {
		patch[k] = v
	}

	_, err := db.Update[Order](ctx, r.pool, ordersTable, db.Filter{"id": id, "status": string(from)}, patch)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("repository: failed to update status of order %s: %w", id, err)
	}
	return true, nil
}

func (r *postgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	n, err := db.Delete(ctx, r.pool, ordersTable, db.Filter{"id": id})
	if err != nil {
		return fmt.Errorf("repository: failed to delete order %s: %w", id, err)
	}
	if n == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *postgresRepository) ListStale(ctx context.Context, status Status, olderThan time.Time, limit int) ([]Order, error) {
	orders, err := db.Select[Order](ctx, r.pool, ordersTable, db.Query{
		Filter:  db.Filter{"status": string(status), "updated_at": db.Lt(olderThan)},
		OrderBy: "updated_at",
		Limit:   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("repository: failed to list stale %s orders: %w", status, err)
	}
	return orders, nil
}

// MarkFulfilled stamps fulfilled_at, and download_url when one was produced.
// Status is left alone.
func (r *postgresRepository) MarkFulfilled(ctx context.Context, id uuid.UUID, downloadURL string) error {
	patch := db.Values{"fulfilled_at": time.Now().UTC()}
	if downloadURL != "" {
		patch["download_url"] = downloadURL
	}

	_, err := db.Update[Order](ctx, r.pool, ordersTable, db.Filter{"id": id}, patch)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("repository: failed to mark order %s fulfilled: %w", id, err)
	}
	return nil
}

const fulfillmentLinesSQL = `
SELECT oi.product_id, p.name, oi.quantity, oi.price_at_purchase, p.image_url
FROM order_items oi
JOIN products p ON p.id = oi.product_id
WHERE oi.order_id = $1
ORDER BY oi.created_at, p.name`

func (r *postgresRepository) LoadFulfillment(ctx context.Context, id uuid.UUID) (*Fulfillment, error) {
	o, err := db.Get[Order](ctx, r.pool, ordersTable, db.Filter{"id": id})
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to load order %s: %w", id, err)
	}

	rows, err := r.pool.Query(ctx, fulfillmentLinesSQL, id)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query fulfillment lines for %s: %w", id, err)
	}
	lines, err := pgx.CollectRows(rows, pgx.RowToStructByName[FulfillmentLine])
	if err != nil {
		return nil, fmt.Errorf("repository: failed to scan fulfillment lines for %s: %w", id, err)
	}

	return &Fulfillment{Order: *o, Lines: lines}, nil
}
