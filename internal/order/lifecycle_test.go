package order_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/apperr"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/db"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/events"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/order"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to order.Status
		want     bool
	}{
		{order.StatusPending, order.StatusAwaitingPayment, true},
		{order.StatusPending, order.StatusCancelled, true},
		{order.StatusAwaitingPayment, order.StatusPaid, true},
		{order.StatusAwaitingPayment, order.StatusPaymentFailed, true},
		{order.StatusAwaitingPayment, order.StatusCancelled, true},
		{order.StatusPaid, order.StatusShipped, true},
		{order.StatusPaid, order.StatusCancelled, false},
		{order.StatusShipped, order.StatusDelivered, true},
		{order.StatusDelivered, order.StatusRefunded, true},
		{order.StatusCancelled, order.StatusPaid, false},
		{order.StatusPaymentFailed, order.StatusPaid, false},
		{order.StatusShipped, order.StatusPaid, false},
		{order.Status("bogus"), order.StatusPaid, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"_to_"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, order.CanTransition(tt.from, tt.to))
		})
	}
}

func TestLifecycle_Transition_AppliesOnceThenNoOp(t *testing.T) {
	repo := new(MockRepository)
	pub := new(MockPublisher)
	lc := order.NewLifecycle(repo, pub)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())

	ref := db.Values{"payment_ref": "ls_123"}
	repo.On("UpdateStatus", ctx, id, order.StatusAwaitingPayment, order.StatusPaid, ref).Return(true, nil).Once()
	repo.On("UpdateStatus", ctx, id, order.StatusAwaitingPayment, order.StatusPaid, ref).Return(false, nil).Once()
	pub.On("PublishStatus", ctx, mock.MatchedBy(func(ev events.StatusChanged) bool {
		return ev.OrderID == id.String() && ev.From == "awaiting_payment" && ev.To == "paid" && ev.PaymentRef == "ls_123"
	})).Return(nil).Once()

	applied, err := lc.Transition(ctx, id, order.StatusAwaitingPayment, order.StatusPaid, order.WithPaymentRef("ls_123"))
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = lc.Transition(ctx, id, order.StatusAwaitingPayment, order.StatusPaid, order.WithPaymentRef("ls_123"))
	require.NoError(t, err)
	assert.False(t, applied)

	repo.AssertExpectations(t)
	pub.AssertNumberOfCalls(t, "PublishStatus", 1)
}

func TestLifecycle_Transition_RejectsUnknownEdge(t *testing.T) {
	repo := new(MockRepository)
	lc := order.NewLifecycle(repo, nil)

	applied, err := lc.Transition(context.Background(), uuid.Must(uuid.NewV4()), order.StatusShipped, order.StatusPaid)
	require.ErrorIs(t, err, order.ErrInvalidStatusTransition)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.False(t, applied)
	repo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestLifecycle_Transition_RepositoryError(t *testing.T) {
	repo := new(MockRepository)
	pub := new(MockPublisher)
	lc := order.NewLifecycle(repo, pub)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())

	repo.On("UpdateStatus", ctx, id, order.StatusPaid, order.StatusShipped, db.Values(nil)).Return(false, errors.New("connection refused")).Once()

	applied, err := lc.Transition(ctx, id, order.StatusPaid, order.StatusShipped)
	require.Error(t, err)
	assert.False(t, applied)
	pub.AssertNotCalled(t, "PublishStatus", mock.Anything, mock.Anything)
}

func TestLifecycle_Transition_PublishFailureDoesNotFail(t *testing.T) {
	repo := new(MockRepository)
	pub := new(MockPublisher)
	lc := order.NewLifecycle(repo, pub)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())

	repo.On("UpdateStatus", ctx, id, order.StatusPaid, order.StatusShipped, db.Values(nil)).Return(true, nil).Once()
	pub.On("PublishStatus", ctx, mock.Anything).Return(errors.New("broker down")).Once()

	applied, err := lc.Transition(ctx, id, order.StatusPaid, order.StatusShipped)
	require.NoError(t, err)
	assert.True(t, applied)
}
