package order

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending         Status = "pending"
	StatusAwaitingPayment Status = "awaiting_payment"
	StatusPaid            Status = "paid"
	StatusShipped         Status = "shipped"
	StatusDelivered       Status = "delivered"
	StatusCancelled       Status = "cancelled"
	StatusPaymentFailed   Status = "payment_failed"
	StatusRefunded        Status = "refunded"
)

func (s Status) String() string {
	return string(s)
}

type Item struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	OrderID         uuid.UUID       `json:"orderId" db:"order_id"`
	ProductID       uuid.UUID       `json:"productId" db:"product_id"`
	Quantity        int             `json:"quantity" db:"quantity"`
	PriceAtPurchase decimal.Decimal `json:"priceAtPurchase" db:"price_at_purchase"`
	CreatedAt       time.Time       `json:"createdAt" db:"created_at"`
}

type Address struct {
	ID         uuid.UUID `json:"id" db:"id"`
	OrderID    uuid.UUID `json:"orderId" db:"order_id"`
	Name       string    `json:"name" db:"name"`
	Street     string    `json:"street" db:"street"`
	City       string    `json:"city" db:"city"`
	PostalCode string    `json:"postalCode" db:"postal_code"`
	Country    string    `json:"country" db:"country"`
	Phone      string    `json:"phone" db:"phone"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}

type Order struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	UserID          uuid.UUID       `json:"userId" db:"user_id"`
	CustomerEmail   string          `json:"customerEmail" db:"customer_email"`
	Status          Status          `json:"status" db:"status"`
	TotalAmount     decimal.Decimal `json:"totalAmount" db:"total_amount"`
	PaymentRef      *string         `json:"paymentRef,omitempty" db:"payment_ref"`
	DownloadURL     *string         `json:"downloadUrl,omitempty" db:"download_url"`
	FulfilledAt     *time.Time      `json:"fulfilledAt,omitempty" db:"fulfilled_at"`
	CreatedAt       time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time       `json:"updatedAt" db:"updated_at"`
	Items           []Item          `json:"items" db:"-"`
	ShippingAddress *Address        `json:"shippingAddress,omitempty" db:"-"`
	BillingAddress  *Address        `json:"billingAddress,omitempty" db:"-"`
}

type ItemInput struct {
	ProductID uuid.UUID
	Quantity  int
}

type AddressInput struct {
	Name       string
	Street     string
	City       string
	PostalCode string
	Country    string
	Phone      string
}

type CreateOrderInput struct {
	Email           string
	Items           []ItemInput
	ShippingAddress AddressInput
	// BillingAddress defaults to ShippingAddress when nil.
	BillingAddress *AddressInput
}

// FulfillmentLine is an order item joined with the product fields needed to
// bundle and describe it.
type FulfillmentLine struct {
	ProductID uuid.UUID       `db:"product_id"`
	Name      string          `db:"name"`
	Quantity  int             `db:"quantity"`
	Price     decimal.Decimal `db:"price_at_purchase"`
	ImageURL  string          `db:"image_url"`
}

type Fulfillment struct {
	Order Order
	Lines []FulfillmentLine
}
