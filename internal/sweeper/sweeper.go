// Package sweeper periodically recovers orders that background processing
// left behind.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/config"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/order"
)

type StaleLister interface {
	ListStale(ctx context.Context, status order.Status, olderThan time.Time, limit int) ([]order.Order, error)
}

type Scheduler interface {
	Schedule(orderID uuid.UUID, email string) error
}

type Sweeper struct {
	orders      StaleLister
	lifecycle   order.Transitioner
	scheduler   Scheduler
	cfg         config.SweeperConfig
	checkoutTTL time.Duration
	now         func() time.Time
	cron        *cron.Cron
}

func New(orders StaleLister, lifecycle order.Transitioner, scheduler Scheduler, cfg config.SweeperConfig, checkoutTTL time.Duration) *Sweeper {
	cronLog := log.With().Str("component", "sweeper").Logger()
	logger := cron.PrintfLogger(&cronLog)
	return &Sweeper{
		orders:      orders,
		lifecycle:   lifecycle,
		scheduler:   scheduler,
		cfg:         cfg,
		checkoutTTL: checkoutTTL,
		now:         time.Now,
		cron:        cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger))),
	}
}

// Start registers the sweep on the configured schedule and starts the cron runner.
func (s *Sweeper) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.cfg.Spec, func() {
		if err := s.RunOnce(ctx); err != nil {
			log.Error().Err(err).Msg("sweeper: sweep finished with errors")
		}
	})
	if err != nil {
		return fmt.Errorf("sweeper: invalid schedule %q: %w", s.cfg.Spec, err)
	}
	s.cron.Start()
	log.Info().Str("spec", s.cfg.Spec).Msg("sweeper: started")
	return nil
}

// Stop prevents new runs and waits for a running sweep until ctx expires.
func (s *Sweeper) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		log.Info().Msg("sweeper: stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sweeper: stop: %w", ctx.Err())
	}
}

// RunOnce re-enqueues fulfillment for paid orders that never shipped and
// fails checkouts that expired without payment.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	return errors.Join(s.requeueStuckPaid(ctx), s.expireCheckouts(ctx))
}

func (s *Sweeper) requeueStuckPaid(ctx context.Context) error {
	cutoff := s.now().Add(-s.cfg.StuckPaidAfter)
	orders, err := s.orders.ListStale(ctx, order.StatusPaid, cutoff, s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("sweeper: list stuck paid orders: %w", err)
	}

	requeued := 0
	for _, o := range orders {
		if o.CustomerEmail == "" {
			log.Warn().Stringer("order_id", o.ID).Msg("sweeper: paid order has no customer email, cannot fulfil")
			continue
		}
		if err := s.scheduler.Schedule(o.ID, o.CustomerEmail); err != nil {
			log.Error().Err(err).Stringer("order_id", o.ID).Msg("sweeper: failed to re-enqueue fulfillment")
			continue
		}
		requeued++
	}
	if len(orders) > 0 {
		log.Info().Int("found", len(orders)).Int("requeued", requeued).Msg("sweeper: stuck paid orders processed")
	}
	return nil
}

func (s *Sweeper) expireCheckouts(ctx context.Context) error {
	cutoff := s.now().Add(-s.checkoutTTL)
	orders, err := s.orders.ListStale(ctx, order.StatusAwaitingPayment, cutoff, s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("sweeper: list expired checkouts: %w", err)
	}

	var errs []error
	for _, o := range orders {
		applied, err := s.lifecycle.Transition(ctx, o.ID, order.StatusAwaitingPayment, order.StatusPaymentFailed)
		if err != nil {
			errs = append(errs, fmt.Errorf("sweeper: expire order %s: %w", o.ID, err))
			continue
		}
		if applied {
			log.Info().Stringer("order_id", o.ID).Msg("sweeper: checkout expired, order marked payment_failed")
		}
	}
	return errors.Join(errs...)
}
