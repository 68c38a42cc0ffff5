package order_test

import (
	"context"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/checkout"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/db"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/events"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/order"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/product"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Create(ctx context.Context, o *order.Order) error {
	return m.Called(ctx, o).Error(0)
}

func (m *MockRepository) GetByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]order.Order, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.Order), args.Error(1)
}

func (m *MockRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to order.Status, extra db.Values) (bool, error) {
	args := m.Called(ctx, id, from, to, extra)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockRepository) ListStale(ctx context.Context, status order.Status, olderThan time.Time, limit int) ([]order.Order, error) {
	args := m.Called(ctx, status, olderThan, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.Order), args.Error(1)
}

func (m *MockRepository) MarkFulfilled(ctx context.Context, id uuid.UUID, downloadURL string) error {
	return m.Called(ctx, id, downloadURL).Error(0)
}

func (m *MockRepository) LoadFulfillment(ctx context.Context, id uuid.UUID) (*order.Fulfillment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Fulfillment), args.Error(1)
}

type MockTransitioner struct {
	mock.Mock
}

func (m *MockTransitioner) Transition(ctx context.Context, id uuid.UUID, from, to order.Status, opts ...order.TransitionOption) (bool, error) {
	args := m.Called(ctx, id, from, to)
	return args.Bool(0), args.Error(1)
}

type MockCatalog struct {
	mock.Mock
}

func (m *MockCatalog) GetMany(ctx context.Context, ids []uuid.UUID) ([]product.Product, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]product.Product), args.Error(1)
}

type MockCheckout struct {
	mock.Mock
}

func (m *MockCheckout) CreateCheckout(ctx context.Context, req checkout.Request) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishStatus(ctx context.Context, ev events.StatusChanged) error {
	return m.Called(ctx, ev).Error(0)
}

func (m *MockPublisher) Close() error { return nil }
