// Package notify tells shops about newly placed orders.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
)

type OrderPlaced struct {
	OrderID     string          `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	ShopID      string          `json:"shop_id"`
	CustomerID  string          `json:"customer_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Discount    decimal.Decimal `json:"discount_amount"`
	ItemCount   int             `json:"item_count"`
	PlacedAt    time.Time       `json:"placed_at"`
}

type Notifier interface {
	OrderPlaced(ctx context.Context, event OrderPlaced) error
}

type Nop struct{}

func (Nop) OrderPlaced(context.Context, OrderPlaced) error { return nil }

// Publisher is the subset of *amqp.Channel used to publish.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type RabbitPublisher struct {
	ch    Publisher
	queue string
}

func NewRabbitPublisher(ch Publisher, queue string) *RabbitPublisher {
	return &RabbitPublisher{ch: ch, queue: queue}
}

// DeclareQueue creates the durable queue order events are published to.
func DeclareQueue(ch *amqp.Channel, queue string) error {
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return nil
}

func (p *RabbitPublisher) OrderPlaced(ctx context.Context, event OrderPlaced) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	err = p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.OrderID,
		Type:         "order.placed",
		Timestamp:    event.PlacedAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish order %s: %w", event.OrderNumber, err)
	}
	return nil
}
