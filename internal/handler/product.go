package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/product"
)

// ProductHandler serves the public catalog.
type ProductHandler struct {
	svc product.Service
}

func NewProductHandler(svc product.Service) *ProductHandler {
	return &ProductHandler{svc: svc}
}

func (h *ProductHandler) RegisterRoutes(router chi.Router) {
	router.Get("/products", h.ListProducts)
	router.Get("/products/{id}", h.GetProduct)
}

func (h *ProductHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := product.ListFilter{Category: q.Get("category")}
	if v := q.Get("inStock"); v != "" {
		inStock, err := strconv.ParseBool(v)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid inStock parameter")
			return
		}
		filter.InStockOnly = inStock
	}

	products, err := h.svc.List(r.Context(), filter)
	if err != nil {
		log.Error().Err(err).Msg("handler: failed to list products")
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to list products"))
		return
	}
	if products == nil {
		products = []product.Product{}
	}
	respondWithJSON(w, http.StatusOK, products)
}

func (h *ProductHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	idParam := chi.URLParam(r, "id")
	id, err := uuid.FromString(idParam)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid id parameter")
		return
	}

	p, err := h.svc.Get(r.Context(), id)
	if err != nil {
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to get product"))
		return
	}
	respondWithJSON(w, http.StatusOK, p)
}
