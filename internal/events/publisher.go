// Package events publishes order status changes to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

const (
	DefaultExchange       = "order_exchange"
	OrderStatusRoutingKey = "order.status"
)

// StatusChanged is the payload published whenever an order transition is applied.
type StatusChanged struct {
	OrderID    string    `json:"order_id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	PaymentRef string    `json:"payment_ref,omitempty"`
	At         time.Time `json:"at"`
}

type Publisher interface {
	PublishStatus(ctx context.Context, ev StatusChanged) error
	Close() error
}

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type rabbitPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       channel
	exchange string
}

// NewRabbitPublisher dials url, retrying with backoff, and declares a durable
// topic exchange.
func NewRabbitPublisher(url, exchange string) (Publisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	var conn *amqp.Connection
	var err error
	for i := 0; i < 5; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		retry := time.Duration(i*i)*time.Second + time.Second
		log.Warn().Err(err).Dur("retry_in", retry).Msg("events: failed to connect to RabbitMQ, retrying")
		time.Sleep(retry)
	}
	if err != nil {
		return nil, fmt.Errorf("events: failed to connect to RabbitMQ after retries: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("events: failed to declare exchange %s: %w", exchange, err)
	}

	log.Info().Str("exchange", exchange).Msg("events: connected to RabbitMQ")
	return &rabbitPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

func (p *rabbitPublisher) PublishStatus(ctx context.Context, ev StatusChanged) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: failed to marshal status event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.PublishWithContext(ctx, p.exchange, OrderStatusRoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.At,
		MessageId:    ev.OrderID + ":" + ev.To,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("events: failed to publish to %s/%s: %w", p.exchange, OrderStatusRoutingKey, err)
	}
	return nil
}

func (p *rabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil {
		if err := p.ch.Close(); err != nil {
			return err
		}
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

type noopPublisher struct{}

// NewNoopPublisher returns a Publisher that drops every event. Used when no
// broker URL is configured.
func NewNoopPublisher() Publisher { return noopPublisher{} }

func (noopPublisher) PublishStatus(ctx context.Context, ev StatusChanged) error {
	log.Debug().Str("order_id", ev.OrderID).Str("to", ev.To).Msg("events: broker not configured, dropping status event")
	return nil
}

func (noopPublisher) Close() error { return nil }
