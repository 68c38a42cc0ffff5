package handler

import (
	"context"
	"net/http"

	"github.com/gofrs/uuid"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/order"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/product"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/webhook"
)

type mockOrderService struct {
	CreateOrderFunc func(ctx context.Context, userID uuid.UUID, in order.CreateOrderInput) (*order.Order, string, error)
	GetOrderFunc    func(ctx context.Context, userID, id uuid.UUID) (*order.Order, error)
	ListOrdersFunc  func(ctx context.Context, userID uuid.UUID) ([]order.Order, error)
	CancelOrderFunc func(ctx context.Context, userID, id uuid.UUID) (*order.Order, error)
}

func (m *mockOrderService) CreateOrder(ctx context.Context, userID uuid.UUID, in order.CreateOrderInput) (*order.Order, string, error) {
	return m.CreateOrderFunc(ctx, userID, in)
}

func (m *mockOrderService) GetOrder(ctx context.Context, userID, id uuid.UUID) (*order.Order, error) {
	return m.GetOrderFunc(ctx, userID, id)
}

func (m *mockOrderService) ListOrders(ctx context.Context, userID uuid.UUID) ([]order.Order, error) {
	return m.ListOrdersFunc(ctx, userID)
}

func (m *mockOrderService) CancelOrder(ctx context.Context, userID, id uuid.UUID) (*order.Order, error) {
	return m.CancelOrderFunc(ctx, userID, id)
}

func (m *mockOrderService) LoadForFulfillment(ctx context.Context, id uuid.UUID) (*order.Fulfillment, error) {
	return nil, nil
}

func (m *mockOrderService) MarkFulfilled(ctx context.Context, id uuid.UUID, downloadURL string) error {
	return nil
}

type mockProductService struct {
	ListFunc   func(ctx context.Context, f product.ListFilter) ([]product.Product, error)
	GetFunc    func(ctx context.Context, id uuid.UUID) (*product.Product, error)
	CreateFunc func(ctx context.Context, in product.Input, files product.Uploads) (*product.Product, error)
	UpdateFunc func(ctx context.Context, id uuid.UUID, in product.Input, files product.Uploads) (*product.Product, error)
	DeleteFunc func(ctx context.Context, id uuid.UUID) error
}

func (m *mockProductService) List(ctx context.Context, f product.ListFilter) ([]product.Product, error) {
	return m.ListFunc(ctx, f)
}

func (m *mockProductService) Get(ctx context.Context, id uuid.UUID) (*product.Product, error) {
	return m.GetFunc(ctx, id)
}

func (m *mockProductService) GetMany(ctx context.Context, ids []uuid.UUID) ([]product.Product, error) {
	return nil, nil
}

func (m *mockProductService) Create(ctx context.Context, in product.Input, files product.Uploads) (*product.Product, error) {
	return m.CreateFunc(ctx, in, files)
}

func (m *mockProductService) Update(ctx context.Context, id uuid.UUID, in product.Input, files product.Uploads) (*product.Product, error) {
	return m.UpdateFunc(ctx, id, in, files)
}

func (m *mockProductService) Delete(ctx context.Context, id uuid.UUID) error {
	return m.DeleteFunc(ctx, id)
}

type mockProcessor struct {
	HandleFunc func(ctx context.Context, body []byte, signature string) webhook.Result
}

func (m *mockProcessor) Handle(ctx context.Context, body []byte, signature string) webhook.Result {
	return m.HandleFunc(ctx, body, signature)
}

type mockAuthenticator struct {
	LoginFunc func(password string) (*http.Cookie, error)
}

func (m *mockAuthenticator) Login(password string) (*http.Cookie, error) {
	return m.LoginFunc(password)
}

func (m *mockAuthenticator) LogoutCookie() *http.Cookie {
	return &http.Cookie{Name: "admin_session", Value: "", MaxAge: -1, Path: "/"}
}
