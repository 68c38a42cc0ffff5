package apperr_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/apperr"
)

func TestUpstream_WrapsBothClassAndCause(t *testing.T) {
	cause := errors.New("422 unprocessable")

	err := apperr.Upstream("lemonsqueezy", cause)

	require.ErrorIs(t, err, apperr.ErrUpstream)
	require.ErrorIs(t, err, cause)
	require.Equal(t, "lemonsqueezy: 422 unprocessable", err.Error())
}

func TestUpstream_NilStaysNil(t *testing.T) {
	require.NoError(t, apperr.Upstream("resend", nil))
}

func TestValidation(t *testing.T) {
	err := apperr.Validation("quantity for product %s must be greater than zero", "p1")

	require.ErrorIs(t, err, apperr.ErrValidation)
	require.Contains(t, err.Error(), "quantity for product p1")
}
