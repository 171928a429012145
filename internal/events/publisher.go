package events

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rookgm/orderflow/internal/models"
)

const exchangeName = "orders.events"

// event routing keys
const (
	EventOrderConfirmed = "order.confirmed"
	EventOrderFailed    = "order.failed"
)

// Publisher publishes order outcome events to a durable topic exchange.
// Publishing is best effort: the workflow logs failures and moves on.
type Publisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewPublisher dials the broker and declares the exchange.
func NewPublisher(url string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := ch.ExchangeDeclare(
		exchangeName,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &Publisher{
		conn:    conn,
		channel: ch,
	}, nil
}

type orderEvent struct {
	Event       string    `json:"event"`
	OrderID     string    `json:"order_id"`
	Status      string    `json:"status"`
	TotalAmount float64   `json:"total_amount"`
	Currency    string    `json:"currency"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// PublishOrderEvent publishes order outcome under given routing key.
func (p *Publisher) PublishOrderEvent(ctx context.Context, event string, order *models.Order) error {
	body, err := json.Marshal(orderEvent{
		Event:       event,
		OrderID:     order.ID,
		Status:      order.Status,
		TotalAmount: order.TotalAmount,
		Currency:    order.Currency,
		OccurredAt:  time.Now(),
	})
	if err != nil {
		return err
	}

	return p.channel.PublishWithContext(ctx,
		exchangeName,
		event,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		})
}

// Close closes channel and connection.
func (p *Publisher) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// NoopPublisher is used when no broker is configured.
type NoopPublisher struct{}

// PublishOrderEvent does nothing.
func (NoopPublisher) PublishOrderEvent(context.Context, string, *models.Order) error {
	return nil
}
