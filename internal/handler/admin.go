package handler

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/apperr"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/product"
)

const (
	maxMultipartBytes = 32 << 20
	adminProductsPath = "/admin/products"
)

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

type ProductForm struct {
	Name        string `form:"name" validate:"required,max=200"`
	Price       string `form:"price" validate:"required,numeric"`
	Description string `form:"description" validate:"max=5000"`
}

// AdminProductHandler is the single admin product controller; the response
// format decides between JSON bodies and form redirects.
type AdminProductHandler struct {
	svc      product.Service
	resp     responder
	validate *validator.Validate
	// inStockDefault applies when the request omits in_stock. Browsers drop
	// unchecked checkboxes, so only API clients default to in stock.
	inStockDefault bool
}

func NewAdminProductHandler(svc product.Service, format Format) *AdminProductHandler {
	return &AdminProductHandler{
		svc:            svc,
		resp:           newResponder(format, adminProductsPath, adminProductsPath),
		validate:       newValidator(),
		inStockDefault: format == FormatJSON,
	}
}

// RegisterAPIRoutes mounts the JSON variant, typically under /api/admin.
func (h *AdminProductHandler) RegisterAPIRoutes(router chi.Router) {
	router.Post("/products", h.CreateProduct)
	router.Post("/products/{id}", h.UpdateProduct)
	router.Put("/products/{id}", h.UpdateProduct)
	router.Delete("/products/{id}", h.DeleteProduct)
}

// RegisterFormRoutes mounts the redirect variant, typically under /admin.
func (h *AdminProductHandler) RegisterFormRoutes(router chi.Router) {
	router.Post("/products", h.CreateProduct)
	router.Post("/products/{id}", h.UpdateProduct)
	router.Post("/products/{id}/delete", h.DeleteProduct)
}

func (h *AdminProductHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	in, files, details, err := h.parseProduct(w, r)
	if err != nil {
		h.fail(w, r, err, details, "Failed to read product form")
		return
	}

	p, err := h.svc.Create(r.Context(), in, files)
	if err != nil {
		log.Error().Err(err).Msg("handler: failed to create product")
		h.fail(w, r, err, nil, "Failed to create product")
		return
	}
	h.resp.success(w, r, http.StatusCreated, "Product created", p)
}

func (h *AdminProductHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := h.productID(w, r)
	if !ok {
		return
	}

	in, files, details, err := h.parseProduct(w, r)
	if err != nil {
		h.fail(w, r, err, details, "Failed to read product form")
		return
	}

	p, err := h.svc.Update(r.Context(), id, in, files)
	if err != nil {
		log.Error().Err(err).Stringer("product_id", id).Msg("handler: failed to update product")
		h.fail(w, r, err, nil, "Failed to update product")
		return
	}
	h.resp.success(w, r, http.StatusOK, "Product updated", p)
}

func (h *AdminProductHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := h.productID(w, r)
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		log.Error().Err(err).Stringer("product_id", id).Msg("handler: failed to delete product")
		h.fail(w, r, err, nil, "Failed to delete product")
		return
	}
	h.resp.success(w, r, http.StatusNoContent, "Product deleted", nil)
}

func (h *AdminProductHandler) fail(w http.ResponseWriter, r *http.Request, err error, details map[string]string, fallback string) {
	if len(details) > 0 {
		h.resp.failure(w, r, http.StatusBadRequest, "Validation failed", details)
		return
	}
	h.resp.failure(w, r, mapErrorToStatusCode(err), clientMessage(err, fallback), nil)
}

func (h *AdminProductHandler) productID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idParam := chi.URLParam(r, "id")
	id, err := uuid.FromString(idParam)
	if err != nil {
		log.Warn().Err(err).Str("product_id", idParam).Msg("handler: invalid product id parameter")
		h.resp.failure(w, r, http.StatusBadRequest, "Invalid id parameter", nil)
		return uuid.Nil, false
	}
	return id, true
}

func (h *AdminProductHandler) parseProduct(w http.ResponseWriter, r *http.Request) (product.Input, product.Uploads, map[string]string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxMultipartBytes)
	if err := r.ParseMultipartForm(maxMultipartBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return product.Input{}, product.Uploads{}, nil, err
	}
	if r.MultipartForm == nil {
		if err := r.ParseForm(); err != nil {
			return product.Input{}, product.Uploads{}, nil, err
		}
	}

	form := ProductForm{
		Name:        strings.TrimSpace(r.FormValue("name")),
		Price:       strings.TrimSpace(r.FormValue("price")),
		Description: strings.TrimSpace(r.FormValue("description")),
	}
	if err := h.validate.Struct(form); err != nil {
		if details := validationFailure(err); details != nil {
			return product.Input{}, product.Uploads{}, details, apperr.Validation("invalid product form")
		}
		return product.Input{}, product.Uploads{}, nil, err
	}

	price, err := decimal.NewFromString(form.Price)
	if err != nil {
		return product.Input{}, product.Uploads{}, map[string]string{"price": "must be a number"}, apperr.Validation("invalid price")
	}

	inStock := h.inStockDefault
	if _, ok := r.Form["in_stock"]; ok {
		inStock = formBool(r.FormValue("in_stock"))
	}

	in := product.Input{
		Name:        form.Name,
		Price:       price,
		Description: form.Description,
		Restricted:  formBool(r.FormValue("restricted")),
		InStock:     inStock,
		Categories:  product.NormalizeCategories(r.Form["categories"]),
	}

	var files product.Uploads
	if r.MultipartForm != nil {
		if headers := r.MultipartForm.File["image"]; len(headers) > 0 {
			up, err := readUpload(headers[0])
			if err != nil {
				return product.Input{}, product.Uploads{}, nil, err
			}
			if up != nil {
				files.Primary = up
			}
		}
		for _, fh := range r.MultipartForm.File["images"] {
			up, err := readUpload(fh)
			if err != nil {
				return product.Input{}, product.Uploads{}, nil, err
			}
			if up != nil {
				files.Secondary = append(files.Secondary, *up)
			}
		}
	}
	return in, files, nil, nil
}

// readUpload returns nil for the empty part browsers send when no file is chosen.
func readUpload(fh *multipart.FileHeader) (*product.Upload, error) {
	if fh.Size == 0 {
		return nil, nil
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("handler: open upload %q: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("handler: read upload %q: %w", fh.Filename, err)
	}

	contentType := http.DetectContentType(data)
	if !allowedImageTypes[contentType] {
		return nil, apperr.Validation("file %q is not a supported image (got %s)", fh.Filename, contentType)
	}
	return &product.Upload{Filename: fh.Filename, ContentType: contentType, Data: data}, nil
}

func formBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "yes":
		return true
	}
	b, _ := strconv.ParseBool(v)
	return b
}
