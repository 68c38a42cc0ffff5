// Package handler exposes the storefront services over HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/apperr"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/order"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/product"
)

type ValidationErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details"`
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Failed to marshal JSON response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		log.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func respondWithText(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	if _, err := w.Write([]byte(message)); err != nil {
		log.Error().Err(err).Msg("Failed to write text response")
	}
}

func mapErrorToStatusCode(err error) int {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// clientMessage picks the text shown to the caller; internal failures get
// fallback so driver errors never leak.
func clientMessage(err error, fallback string) string {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytesErr):
		return fmt.Sprintf("Request body exceeds %d bytes", maxBytesErr.Limit)
	case errors.Is(err, apperr.ErrValidation):
		return strings.TrimSuffix(err.Error(), ": "+apperr.ErrValidation.Error())
	case errors.Is(err, order.ErrOrderNotFound):
		return "Order not found"
	case errors.Is(err, product.ErrProductNotFound):
		return "Product not found"
	case errors.Is(err, order.ErrCancelForbidden):
		return "Order can no longer be cancelled"
	case errors.Is(err, product.ErrProductInUse):
		return "Product is referenced by existing orders"
	case errors.Is(err, apperr.ErrUnauthorized):
		return "Invalid credentials"
	case errors.Is(err, apperr.ErrUpstream):
		return "Upstream provider unavailable, please retry"
	default:
		return fallback
	}
}

func formatValidationErrors(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, fe := range errs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		switch fe.Tag() {
		case "required":
			details[field] = "is required"
		case "email":
			details[field] = "must be a valid email address"
		case "uuid", "uuid4":
			details[field] = "must be a valid UUID"
		case "min":
			details[field] = fmt.Sprintf("must be at least %s", fe.Param())
		case "max":
			details[field] = fmt.Sprintf("must be at most %s", fe.Param())
		case "iso3166_1_alpha2":
			details[field] = "must be a two-letter country code"
		case "numeric":
			details[field] = "must be a number"
		default:
			details[field] = fmt.Sprintf("failed on '%s' validation", fe.Tag())
		}
	}
	return details
}

// newValidator reports JSON or form field names instead of Go field names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "form"} {
			name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return f.Name
	})
	return v
}

// validationFailure returns the details for a validator error, or nil when
// err is not a validation failure.
func validationFailure(err error) map[string]string {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		return formatValidationErrors(validationErrors)
	}
	return nil
}
