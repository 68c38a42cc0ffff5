package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/auth"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/handler"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/metrics"
	ratelimit "github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/middleware"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/order"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/product"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Products    product.Service
	Orders      order.Service
	Webhooks    handler.WebhookProcessor
	Users       *auth.UserVerifier
	Admin       *auth.Admin
	RateLimiter *ratelimit.RateLimiter
	DB          Pinger
}

func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.InstrumentHandler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := d.DB.Ping(ctx); err != nil {
			log.Error().Err(err).Msg("transport: readiness check failed")
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", metrics.Handler())

	handler.NewProductHandler(d.Products).RegisterRoutes(r)

	r.Group(func(r chi.Router) {
		r.Use(d.Users.RequireUser)
		r.Use(d.RateLimiter.Handler)
		handler.NewOrderHandler(d.Orders).RegisterRoutes(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(d.RateLimiter.Handler)
		handler.NewWebhookHandler(d.Webhooks).RegisterRoutes(r)
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(d.RateLimiter.Handler)
			handler.NewSessionHandler(d.Admin, handler.FormatJSON).RegisterRoutes(r)
		})
		r.Group(func(r chi.Router) {
			r.Use(d.Admin.RequireAdmin)
			handler.NewAdminProductHandler(d.Products, handler.FormatJSON).RegisterAPIRoutes(r)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(d.RateLimiter.Handler)
			handler.NewSessionHandler(d.Admin, handler.FormatRedirect).RegisterRoutes(r)
		})
		r.Group(func(r chi.Router) {
			r.Use(d.Admin.RequireAdmin)
			handler.NewAdminProductHandler(d.Products, handler.FormatRedirect).RegisterFormRoutes(r)
		})
	})

	return r
}
