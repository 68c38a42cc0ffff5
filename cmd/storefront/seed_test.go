package main

import (
	"context"
	"strings"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/db"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/product"
)

const seedYAML = `
products:
  - name: Sunset Poster
    price: "19.90"
    categories: [prints, "art, wall"]
    image_url: https://cdn.example.com/sunset.jpg
  - id: 6ba7b810-9dad-11d1-80b4-00c04fd430c8
    name: Mug
    price: "8.5"
    in_stock: false
`

func TestParseSeed(t *testing.T) {
	products, err := parseSeed(strings.NewReader(seedYAML))
	require.NoError(t, err)
	require.Len(t, products, 2)

	poster := products[0]
	assert.Equal(t, uuid.NewV5(seedNamespace, "Sunset Poster"), poster.ID, "ids are stable across runs")
	assert.True(t, poster.Price.Equal(decimal.RequireFromString("19.90")))
	assert.True(t, poster.InStock, "in_stock defaults to true")
	assert.Equal(t, []string{"art", "prints", "wall"}, poster.Categories)

	mug := products[1]
	assert.Equal(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8", mug.ID.String())
	assert.False(t, mug.InStock)
}

func TestParseSeed_Invalid(t *testing.T) {
	tests := map[string]string{
		"missing_name":   "products:\n  - price: \"1\"\n",
		"zero_price":     "products:\n  - name: Free\n    price: \"0\"\n",
		"bad_id":         "products:\n  - name: X\n    price: \"1\"\n    id: nope\n",
		"unknown_field":  "products:\n  - name: X\n    price: \"1\"\n    colour: red\n",
		"not_a_document": "products: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := parseSeed(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

type MockProductRepository struct {
	mock.Mock
}

func (m *MockProductRepository) List(ctx context.Context, f product.ListFilter) ([]product.Product, error) {
	args := m.Called(ctx, f)
	return args.Get(0).([]product.Product), args.Error(1)
}

func (m *MockProductRepository) GetByID(ctx context.Context, id uuid.UUID) (*product.Product, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*product.Product), args.Error(1)
}

func (m *MockProductRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]product.Product, error) {
	args := m.Called(ctx, ids)
	return args.Get(0).([]product.Product), args.Error(1)
}

func (m *MockProductRepository) Create(ctx context.Context, p *product.Product) (*product.Product, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*product.Product), args.Error(1)
}

func (m *MockProductRepository) Update(ctx context.Context, id uuid.UUID, patch db.Values) (*product.Product, error) {
	args := m.Called(ctx, id, patch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*product.Product), args.Error(1)
}

func (m *MockProductRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func TestSeedProducts_SkipsExisting(t *testing.T) {
	ctx := context.Background()
	products, err := parseSeed(strings.NewReader(seedYAML))
	require.NoError(t, err)

	repo := new(MockProductRepository)
	repo.On("GetByID", ctx, products[0].ID).Return(&products[0], nil).Once()
	repo.On("GetByID", ctx, products[1].ID).Return(nil, product.ErrProductNotFound).Once()
	repo.On("Create", ctx, &products[1]).Return(&products[1], nil).Once()

	require.NoError(t, seedProducts(ctx, repo, products))
	repo.AssertExpectations(t)
	repo.AssertNumberOfCalls(t, "Create", 1)
}
