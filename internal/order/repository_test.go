package order_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/db"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/db/dbtest"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/events"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/order"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/product"
)

var testDB *pgxpool.Pool

func TestMain(m *testing.M) {
	dbtest.Run(m, "../../migrations", &testDB)
}

func seedProduct(t *testing.T, name, price, imageURL string) product.Product {
	t.Helper()
	p, err := product.NewRepository(testDB).Create(context.Background(), &product.Product{
		ID:       uuid.Must(uuid.NewV4()),
		Name:     name,
		Price:    decimal.RequireFromString(price),
		ImageURL: imageURL,
		InStock:  true,
	})
	require.NoError(t, err)
	return *p
}

func newStoredOrder(userID uuid.UUID, p product.Product, qty int, created time.Time) *order.Order {
	id := uuid.Must(uuid.NewV4())
	addr := func() *order.Address {
		return &order.Address{ID: uuid.Must(uuid.NewV4()), OrderID: id, Name: "Ada", Street: "1 Way", City: "London", PostalCode: "N1", Country: "GB", CreatedAt: created}
	}
	return &order.Order{
		ID:            id,
		UserID:        userID,
		CustomerEmail: "ada@example.test",
		Status:        order.StatusAwaitingPayment,
		TotalAmount:   p.Price.Mul(decimal.NewFromInt(int64(qty))),
		CreatedAt:     created,
		UpdatedAt:     created,
		Items: []order.Item{{
			ID: uuid.Must(uuid.NewV4()), OrderID: id, ProductID: p.ID, Quantity: qty, PriceAtPurchase: p.Price, CreatedAt: created,
		}},
		ShippingAddress: addr(),
		BillingAddress:  addr(),
	}
}

func cleanOrders(t *testing.T) {
	dbtest.Require(t, testDB)
	dbtest.Truncate(t, testDB, "orders", "products")
}

func TestOrderRepository_CreateAndGet(t *testing.T) {
	cleanOrders(t)
	repo := order.NewRepository(testDB)
	ctx := context.Background()
	p := seedProduct(t, "Mug", "10.00", "")

	o := newStoredOrder(uuid.Must(uuid.NewV4()), p, 2, time.Now().UTC())
	require.NoError(t, repo.Create(ctx, o))

	got, err := repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusAwaitingPayment, got.Status)
	assert.True(t, decimal.RequireFromString("20").Equal(got.TotalAmount))
	require.Len(t, got.Items, 1)
	assert.Equal(t, 2, got.Items[0].Quantity)
	require.NotNil(t, got.ShippingAddress)
	require.NotNil(t, got.BillingAddress)
	assert.Nil(t, got.PaymentRef)

	_, err = repo.GetByID(ctx, uuid.Must(uuid.NewV4()))
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestOrderRepository_CreateRollsBackOnItemFailure(t *testing.T) {
	cleanOrders(t)
	repo := order.NewRepository(testDB)
	ctx := context.Background()
	p := seedProduct(t, "Mug", "10.00", "")

	o := newStoredOrder(uuid.Must(uuid.NewV4()), p, 1, time.Now().UTC())
	o.Items[0].ProductID = uuid.Must(uuid.NewV4())

	require.Error(t, repo.Create(ctx, o))
	_, err := repo.GetByID(ctx, o.ID)
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestOrderRepository_UpdateStatusIsConditional(t *testing.T) {
	cleanOrders(t)
	repo := order.NewRepository(testDB)
	ctx := context.Background()
	p := seedProduct(t, "Mug", "10.00", "")

	o := newStoredOrder(uuid.Must(uuid.NewV4()), p, 1, time.Now().UTC())
	require.NoError(t, repo.Create(ctx, o))

	applied, err := repo.UpdateStatus(ctx, o.ID, order.StatusAwaitingPayment, order.StatusPaid, db.Values{"payment_ref": "ls_1"})
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = repo.UpdateStatus(ctx, o.ID, order.StatusAwaitingPayment, order.StatusPaid, db.Values{"payment_ref": "ls_2"})
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, got.Status)
	require.NotNil(t, got.PaymentRef)
	assert.Equal(t, "ls_1", *got.PaymentRef)
}

func TestLifecycle_InTx_RollbackDiscardsTransitionAndEvent(t *testing.T) {
	cleanOrders(t)
	repo := order.NewRepository(testDB)
	pub := new(MockPublisher)
	lc := order.NewLifecycle(repo, pub)
	ctx := context.Background()
	p := seedProduct(t, "Mug", "10.00", "")

	o := newStoredOrder(uuid.Must(uuid.NewV4()), p, 1, time.Now().UTC())
	require.NoError(t, repo.Create(ctx, o))

	errLater := errors.New("later statement failed")
	err := lc.InTx(ctx, testDB, func(_ pgx.Tx, tr order.Transitioner) error {
		applied, err := tr.Transition(ctx, o.ID, order.StatusAwaitingPayment, order.StatusPaid, order.WithPaymentRef("ls_1"))
		require.NoError(t, err)
		require.True(t, applied)
		return errLater
	})
	require.ErrorIs(t, err, errLater)

	got, err := repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusAwaitingPayment, got.Status)
	assert.Nil(t, got.PaymentRef)
	pub.AssertNotCalled(t, "PublishStatus", mock.Anything, mock.Anything)

	pub.On("PublishStatus", ctx, mock.MatchedBy(func(ev events.StatusChanged) bool {
		return ev.OrderID == o.ID.String() && ev.To == "paid"
	})).Return(nil).Once()

	err = lc.InTx(ctx, testDB, func(_ pgx.Tx, tr order.Transitioner) error {
		_, err := tr.Transition(ctx, o.ID, order.StatusAwaitingPayment, order.StatusPaid, order.WithPaymentRef("ls_2"))
		return err
	})
	require.NoError(t, err)

	got, err = repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, got.Status)
	pub.AssertExpectations(t)
}

func TestOrderRepository_MarkFulfilled(t *testing.T) {
	cleanOrders(t)
	repo := order.NewRepository(testDB)
	ctx := context.Background()
	p := seedProduct(t, "Mug", "10.00", "")

	o := newStoredOrder(uuid.Must(uuid.NewV4()), p, 1, time.Now().UTC())
	require.NoError(t, repo.Create(ctx, o))

	f, err := repo.LoadFulfillment(ctx, o.ID)
	require.NoError(t, err)
	assert.Nil(t, f.Order.FulfilledAt)

	require.NoError(t, repo.MarkFulfilled(ctx, o.ID, "https://cdn.test/orders/x.zip"))

	f, err = repo.LoadFulfillment(ctx, o.ID)
	require.NoError(t, err)
	require.NotNil(t, f.Order.FulfilledAt)
	require.NotNil(t, f.Order.DownloadURL)
	assert.Equal(t, "https://cdn.test/orders/x.zip", *f.Order.DownloadURL)
	assert.Equal(t, order.StatusAwaitingPayment, f.Order.Status)

	assert.ErrorIs(t, repo.MarkFulfilled(ctx, uuid.Must(uuid.NewV4()), ""), order.ErrOrderNotFound)
}

func TestOrderRepository_ListByUserAndDelete(t *testing.T) {
	cleanOrders(t)
	repo := order.NewRepository(testDB)
	ctx := context.Background()
	p := seedProduct(t, "Mug", "10.00", "")
	userID := uuid.Must(uuid.NewV4())

	older := newStoredOrder(userID, p, 1, time.Now().UTC().Add(-time.Hour))
	newer := newStoredOrder(userID, p, 3, time.Now().UTC())
	other := newStoredOrder(uuid.Must(uuid.NewV4()), p, 1, time.Now().UTC())
	for _, o := range []*order.Order{older, newer, other} {
		require.NoError(t, repo.Create(ctx, o))
	}

	orders, err := repo.ListByUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, newer.ID, orders[0].ID)
	assert.Equal(t, 3, orders[0].Items[0].Quantity)

	require.NoError(t, repo.Delete(ctx, newer.ID))
	assert.ErrorIs(t, repo.Delete(ctx, newer.ID), order.ErrOrderNotFound)

	var items int
	require.NoError(t, testDB.QueryRow(ctx, "SELECT count(*) FROM order_items WHERE order_id = $1", newer.ID).Scan(&items))
	assert.Zero(t, items)
}

func TestOrderRepository_ListStaleAndLoadFulfillment(t *testing.T) {
	cleanOrders(t)
	repo := order.NewRepository(testDB)
	ctx := context.Background()
	mug := seedProduct(t, "Mug", "10.00", "https://cdn.test/mug.png")

	stale := newStoredOrder(uuid.Must(uuid.NewV4()), mug, 2, time.Now().UTC().Add(-2*time.Hour))
	fresh := newStoredOrder(uuid.Must(uuid.NewV4()), mug, 1, time.Now().UTC())
	require.NoError(t, repo.Create(ctx, stale))
	require.NoError(t, repo.Create(ctx, fresh))

	got, err := repo.ListStale(ctx, order.StatusAwaitingPayment, time.Now().UTC().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, stale.ID, got[0].ID)

	f, err := repo.LoadFulfillment(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, stale.ID, f.Order.ID)
	require.Len(t, f.Lines, 1)
	assert.Equal(t, "Mug", f.Lines[0].Name)
	assert.Equal(t, 2, f.Lines[0].Quantity)
	assert.Equal(t, "https://cdn.test/mug.png", f.Lines[0].ImageURL)
}
