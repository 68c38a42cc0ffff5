package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/auth"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/checkout"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/config"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/db"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/events"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/fulfillment"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/middleware"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/notify"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/order"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/product"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/storage"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/sweeper"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/transport"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/webhook"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/worker"
)

func serveCmd() *cobra.Command {
	var migrateOnStart bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, fulfillment workers and recovery sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), migrateOnStart)
		},
	}

	cmd.Flags().BoolVar(&migrateOnStart, "migrate", true, "apply pending migrations before serving")
	return cmd
}

func serve(ctx context.Context, migrateOnStart bool) error {
	log.Info().Str("version", version).Msg("Storefront service starting...")

	cfg, err := config.NewConfig()
	if err != nil {
		return err
	}

	if migrateOnStart {
		if err := db.Migrate(cfg.Postgres); err != nil {
			return err
		}
	}

	connectCtx, cancelConnect := context.WithTimeout(ctx, 30*time.Second)
	pg, err := db.New(connectCtx, cfg.Postgres)
	cancelConnect()
	if err != nil {
		return err
	}
	defer pg.Close()

	publisher := events.NewNoopPublisher()
	if cfg.RabbitMQ.URL != "" {
		if publisher, err = events.NewRabbitPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange); err != nil {
			return err
		}
	} else {
		log.Warn().Msg("RABBITMQ_URL not set, order status events will not be published")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close event publisher")
		}
	}()

	store := storage.NewSupabaseGateway(cfg.Supabase)
	sender := notify.NewResendSender(cfg.Email)
	payments := checkout.NewLemonSqueezy(cfg.LemonSqueezy)

	productRepo := product.NewRepository(pg.Pool)
	productSvc := product.NewService(productRepo, store)

	orderRepo := order.NewRepository(pg.Pool)
	lifecycle := order.NewLifecycle(orderRepo, publisher)
	orderSvc := order.NewService(orderRepo, lifecycle, productSvc, payments)

	// Background work outlives the signal context so it can drain on shutdown.
	bgCtx, cancelBackground := context.WithCancel(context.Background())
	defer cancelBackground()

	queue := worker.NewQueue(cfg.Worker)
	queue.Start(bgCtx)

	pipeline := fulfillment.NewPipeline(orderSvc, store, sender)
	fulfiller := fulfillment.NewFulfiller(pipeline, lifecycle, queue)

	processor := webhook.NewProcessor(
		cfg.LemonSqueezy.WebhookSecret,
		webhook.NewPostgresPaymentStore(pg.Pool, lifecycle),
		orderSvc,
		sender,
		fulfiller,
	)

	sw := sweeper.New(orderRepo, lifecycle, fulfiller, cfg.Sweeper, cfg.LemonSqueezy.CheckoutTTL)
	if err := sw.Start(bgCtx); err != nil {
		return err
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit)
	limiter.StartCleanup(bgCtx, 10*time.Minute)

	router := transport.NewRouter(transport.Deps{
		Products:    productSvc,
		Orders:      orderSvc,
		Webhooks:    processor,
		Users:       auth.NewUserVerifier(cfg.Supabase.JWTSecret),
		Admin:       auth.NewAdmin(cfg.Admin, strings.HasPrefix(cfg.App.PublicURL, "https://")),
		RateLimiter: limiter,
		DB:          pg.Pool,
	})

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-sigCtx.Done():
		log.Info().Msg("Shutting down...")
	case err := <-serverErr:
		log.Error().Err(err).Msg("HTTP server failed")
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	log.Info().Msg("HTTP server stopped")

	if err := queue.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Worker queue did not drain before deadline")
	}
	if err := sw.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Sweeper did not stop before deadline")
	}

	log.Info().Msg("Storefront service stopped gracefully")
	return nil
}
