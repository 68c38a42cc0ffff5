package fulfillment

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/order"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/worker"
)

type Runner interface {
	Run(ctx context.Context, orderID uuid.UUID, email string) error
}

type Enqueuer interface {
	Enqueue(t worker.Task) error
}

// Fulfiller turns a paid order into a queued task that runs the pipeline and
// then marks the order shipped.
type Fulfiller struct {
	pipeline  Runner
	lifecycle order.Transitioner
	queue     Enqueuer
}

func NewFulfiller(pipeline Runner, lifecycle order.Transitioner, queue Enqueuer) *Fulfiller {
	return &Fulfiller{pipeline: pipeline, lifecycle: lifecycle, queue: queue}
}

// Schedule enqueues fulfillment for orderID.
func (f *Fulfiller) Schedule(orderID uuid.UUID, email string) error {
	if err := f.queue.Enqueue(f.Task(orderID, email)); err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("fulfillment: failed to enqueue task")
		return fmt.Errorf("fulfillment: enqueue order %s: %w", orderID, err)
	}
	log.Info().Stringer("order_id", orderID).Msg("fulfillment: task enqueued")
	return nil
}

// Task builds the queue task for orderID. A retry after the email went out
// only repeats the status transition.
func (f *Fulfiller) Task(orderID uuid.UUID, email string) worker.Task {
	emailed := false
	return worker.Task{
		Key: "fulfill:" + orderID.String(),
		Run: func(ctx context.Context) error {
			if !emailed {
				if err := f.pipeline.Run(ctx, orderID, email); err != nil {
					return err
				}
				emailed = true
			}

			applied, err := f.lifecycle.Transition(ctx, orderID, order.StatusPaid, order.StatusShipped)
			if err != nil {
				return fmt.Errorf("fulfillment: mark order %s shipped: %w", orderID, err)
			}
			if !applied {
				log.Warn().Stringer("order_id", orderID).Msg("fulfillment: order was not paid when marking shipped")
			}
			return nil
		},
	}
}
