package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/apperr"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/checkout"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/product"
)

var ErrCancelForbidden = fmt.Errorf("order can no longer be cancelled: %w", apperr.ErrForbidden)

// cancellableFrom lists the statuses a customer may cancel from, tried in order.
var cancellableFrom = []Status{StatusPending, StatusAwaitingPayment}

type ProductCatalog interface {
	GetMany(ctx context.Context, ids []uuid.UUID) ([]product.Product, error)
}

type Service interface {
	CreateOrder(ctx context.Context, userID uuid.UUID, in CreateOrderInput) (*Order, string, error)
	GetOrder(ctx context.Context, userID, id uuid.UUID) (*Order, error)
	ListOrders(ctx context.Context, userID uuid.UUID) ([]Order, error)
	CancelOrder(ctx context.Context, userID, id uuid.UUID) (*Order, error)
	LoadForFulfillment(ctx context.Context, id uuid.UUID) (*Fulfillment, error)
	MarkFulfilled(ctx context.Context, id uuid.UUID, downloadURL string) error
}

type service struct {
	repo      Repository
	lifecycle Transitioner
	catalog   ProductCatalog
	checkout  checkout.Gateway
	now       func() time.Time
}

func NewService(repo Repository, lifecycle Transitioner, catalog ProductCatalog, gateway checkout.Gateway) Service {
	return &service{
		repo:      repo,
		lifecycle: lifecycle,
		catalog:   catalog,
		checkout:  gateway,
		now:       time.Now,
	}
}

func validateInput(in CreateOrderInput) error {
	if len(in.Items) == 0 {
		return apperr.Validation("order must contain at least one item")
	}
	if strings.TrimSpace(in.Email) == "" {
		return apperr.Validation("customer email is required")
	}
	for i, item := range in.Items {
		if item.ProductID == uuid.Nil {
			return apperr.Validation("item %d: product id is required", i)
		}
		if item.Quantity <= 0 {
			return apperr.Validation("item %d: quantity for product %s must be greater than zero", i, item.ProductID)
		}
	}
	return nil
}

func newAddress(orderID uuid.UUID, in AddressInput, now time.Time) (*Address, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	return &Address{
		ID:         id,
		OrderID:    orderID,
		Name:       in.Name,
		Street:     in.Street,
		City:       in.City,
		PostalCode: in.PostalCode,
		Country:    in.Country,
		Phone:      in.Phone,
		CreatedAt:  now,
	}, nil
}

func (s *service) CreateOrder(ctx context.Context, userID uuid.UUID, in CreateOrderInput) (*Order, string, error) {
	if err := validateInput(in); err != nil {
		log.Warn().Err(err).Stringer("user_id", userID).Msg("service: rejected order input")
		return nil, "", err
	}

	ids := make([]uuid.UUID, 0, len(in.Items))
	for _, item := range in.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.catalog.GetMany(ctx, ids)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to load products for order")
		return nil, "", fmt.Errorf("service: failed to load products: %w", err)
	}
	byID := make(map[uuid.UUID]product.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	orderID, err := uuid.NewV4()
	if err != nil {
		return nil, "", fmt.Errorf("service: failed to generate order id: %w", err)
	}
	now := s.now().UTC()

	o := &Order{
		ID:            orderID,
		UserID:        userID,
		CustomerEmail: strings.TrimSpace(in.Email),
		Status:        StatusAwaitingPayment,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	total := decimal.Zero
	var names []string
	for _, item := range in.Items {
		p, ok := byID[item.ProductID]
		if !ok {
			return nil, "", apperr.Validation("unknown product %s", item.ProductID)
		}
		if !p.InStock {
			return nil, "", apperr.Validation("product %q is out of stock", p.Name)
		}

		itemID, err := uuid.NewV4()
		if err != nil {
			return nil, "", fmt.Errorf("service: failed to generate item id: %w", err)
		}
		o.Items = append(o.Items, Item{
			ID:              itemID,
			OrderID:         orderID,
			ProductID:       p.ID,
			Quantity:        item.Quantity,
			PriceAtPurchase: p.Price,
			CreatedAt:       now,
		})
		total = total.Add(p.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
		names = append(names, fmt.Sprintf("%dx %s", item.Quantity, p.Name))
	}
	o.TotalAmount = total

	billingIn := in.ShippingAddress
	if in.BillingAddress != nil {
		billingIn = *in.BillingAddress
	}
	if o.ShippingAddress, err = newAddress(orderID, in.ShippingAddress, now); err != nil {
		return nil, "", fmt.Errorf("service: failed to generate address id: %w", err)
	}
	if o.BillingAddress, err = newAddress(orderID, billingIn, now); err != nil {
		return nil, "", fmt.Errorf("service: failed to generate address id: %w", err)
	}

	if err := s.repo.Create(ctx, o); err != nil {
		return nil, "", fmt.Errorf("service: failed to create order: %w", err)
	}

	url, err := s.checkout.CreateCheckout(ctx, checkout.Request{
		OrderID: orderID.String(),
		Email:   o.CustomerEmail,
		Name:    billingIn.Name,
		Billing: checkout.Address{
			Name:       billingIn.Name,
			Street:     billingIn.Street,
			City:       billingIn.City,
			PostalCode: billingIn.PostalCode,
			Country:    billingIn.Country,
			Phone:      billingIn.Phone,
		},
		TotalCents:  checkout.CentsFromDecimal(total),
		Description: strings.Join(names, ", "),
	})
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("service: checkout creation failed, removing order")
		// Detached so a cancelled request still cleans up the unpayable order.
		if delErr := s.repo.Delete(context.WithoutCancel(ctx), orderID); delErr != nil {
			log.Error().Err(delErr).Stringer("order_id", orderID).Msg("service: failed to remove order after checkout failure")
		}
		return nil, "", fmt.Errorf("service: failed to create checkout: %w", err)
	}

	log.Info().Stringer("order_id", orderID).Stringer("user_id", userID).Str("total", total.StringFixed(2)).Msg("service: order created")
	return o, url, nil
}

func (s *service) GetOrder(ctx context.Context, userID, id uuid.UUID) (*Order, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to fetch order")
		return nil, fmt.Errorf("service: failed to fetch order: %w", err)
	}
	if o.UserID != userID {
		log.Warn().Stringer("order_id", id).Stringer("user_id", userID).Msg("service: order requested by non-owner")
		return nil, ErrOrderNotFound
	}
	return o, nil
}

func (s *service) ListOrders(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	orders, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("service: failed to list orders")
		return nil, fmt.Errorf("service: failed to list orders: %w", err)
	}
	return orders, nil
}

func (s *service) CancelOrder(ctx context.Context, userID, id uuid.UUID) (*Order, error) {
	if _, err := s.GetOrder(ctx, userID, id); err != nil {
		return nil, err
	}

	for _, from := range cancellableFrom {
		applied, err := s.lifecycle.Transition(ctx, id, from, StatusCancelled)
		if err != nil {
			return nil, fmt.Errorf("service: failed to cancel order: %w", err)
		}
		if applied {
			return s.GetOrder(ctx, userID, id)
		}
	}

	log.Warn().Stringer("order_id", id).Msg("service: cancel rejected for order past payment")
	return nil, ErrCancelForbidden
}

func (s *service) LoadForFulfillment(ctx context.Context, id uuid.UUID) (*Fulfillment, error) {
	f, err := s.repo.LoadFulfillment(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to load order for fulfillment: %w", err)
	}
	return f, nil
}

func (s *service) MarkFulfilled(ctx context.Context, id uuid.UUID, downloadURL string) error {
	if err := s.repo.MarkFulfilled(ctx, id, downloadURL); err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("service: failed to record fulfillment: %w", err)
	}
	return nil
}
