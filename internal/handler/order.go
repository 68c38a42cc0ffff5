package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/auth"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/order"
)

const maxJSONBodyBytes = 1 << 20

type OrderItemRequest struct {
	ProductID string `json:"productId" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"required,min=1,max=100"`
}

type AddressRequest struct {
	Name       string `json:"name" validate:"required,max=200"`
	Street     string `json:"street" validate:"required,max=300"`
	City       string `json:"city" validate:"required,max=100"`
	PostalCode string `json:"postalCode" validate:"required,max=20"`
	Country    string `json:"country" validate:"required,iso3166_1_alpha2"`
	Phone      string `json:"phone" validate:"omitempty,max=40"`
}

type CreateOrderRequest struct {
	Email           string             `json:"email" validate:"omitempty,email"`
	Items           []OrderItemRequest `json:"items" validate:"required,min=1,dive"`
	ShippingAddress AddressRequest     `json:"shippingAddress" validate:"required"`
	BillingAddress  *AddressRequest    `json:"billingAddress,omitempty" validate:"omitempty"`
}

type CreateOrderResponse struct {
	Order       *order.Order `json:"order"`
	CheckoutURL string       `json:"checkoutUrl"`
}

func (a AddressRequest) input() order.AddressInput {
	return order.AddressInput{
		Name:       a.Name,
		Street:     a.Street,
		City:       a.City,
		PostalCode: a.PostalCode,
		Country:    a.Country,
		Phone:      a.Phone,
	}
}

type OrderHandler struct {
	svc      order.Service
	validate *validator.Validate
}

func NewOrderHandler(svc order.Service) *OrderHandler {
	return &OrderHandler{svc: svc, validate: newValidator()}
}

// RegisterRoutes expects the router to already require an authenticated user.
func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Post("/orders", h.CreateOrder)
	router.Get("/orders", h.ListOrders)
	router.Get("/orders/{id}", h.GetOrder)
	router.Patch("/orders/{id}/cancel", h.CancelOrder)
}

func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFrom(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req CreateOrderRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		log.Warn().Err(err).Msg("handler: failed to decode order request")
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		if details := validationFailure(err); details != nil {
			respondWithJSON(w, http.StatusBadRequest, ValidationErrorResponse{Error: "Validation failed", Details: details})
			return
		}
		log.Error().Err(err).Msg("handler: unexpected validation error")
		respondWithError(w, http.StatusInternalServerError, "Internal validation error")
		return
	}

	in := order.CreateOrderInput{
		Email:           req.Email,
		ShippingAddress: req.ShippingAddress.input(),
	}
	if in.Email == "" {
		in.Email = user.Email
	}
	if req.BillingAddress != nil {
		billing := req.BillingAddress.input()
		in.BillingAddress = &billing
	}
	for _, item := range req.Items {
		in.Items = append(in.Items, order.ItemInput{
			ProductID: uuid.FromStringOrNil(item.ProductID),
			Quantity:  item.Quantity,
		})
	}

	created, checkoutURL, err := h.svc.CreateOrder(r.Context(), user.ID, in)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", user.ID).Msg("handler: failed to create order")
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to create order"))
		return
	}

	respondWithJSON(w, http.StatusCreated, CreateOrderResponse{Order: created, CheckoutURL: checkoutURL})
}

func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFrom(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	orders, err := h.svc.ListOrders(r.Context(), user.ID)
	if err != nil {
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to list orders"))
		return
	}
	if orders == nil {
		orders = []order.Order{}
	}
	respondWithJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	user, id, ok := h.orderRequest(w, r)
	if !ok {
		return
	}

	o, err := h.svc.GetOrder(r.Context(), user.ID, id)
	if err != nil {
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to get order"))
		return
	}
	respondWithJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	user, id, ok := h.orderRequest(w, r)
	if !ok {
		return
	}

	o, err := h.svc.CancelOrder(r.Context(), user.ID, id)
	if err != nil {
		log.Warn().Err(err).Stringer("order_id", id).Msg("handler: cancel failed")
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to cancel order"))
		return
	}
	respondWithJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) orderRequest(w http.ResponseWriter, r *http.Request) (auth.User, uuid.UUID, bool) {
	user, ok := auth.UserFrom(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Authentication required")
		return auth.User{}, uuid.Nil, false
	}

	idParam := chi.URLParam(r, "id")
	id, err := uuid.FromString(idParam)
	if err != nil {
		log.Warn().Err(err).Str("order_id", idParam).Msg("handler: invalid order id parameter")
		respondWithError(w, http.StatusBadRequest, "Invalid id parameter")
		return auth.User{}, uuid.Nil, false
	}
	return user, id, true
}
