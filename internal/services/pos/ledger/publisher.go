package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"syntra-checkout/internal/services/notifications/stream"
	"syntra-checkout/internal/services/pos"
)

const allEventsChannel = "pos:events:all"

// EventSink carries row change events to watchers.
type EventSink interface {
	Publish(ctx context.Context, e stream.Event) error
}

// OrderEvent is the summary broadcast on pos:events:<type> for consumers
// that do not follow the row stream.
type OrderEvent struct {
	EventType      string    `json:"event_type"`
	OrderID        string    `json:"order_id"`
	DocumentNumber string    `json:"document_number"`
	CashierID      string    `json:"cashier_id,omitempty"`
	CustomerID     string    `json:"customer_id,omitempty"`
	Status         string    `json:"status"`
	TotalAmount    string    `json:"total_amount"`
	Timestamp      time.Time `json:"timestamp"`
}

// StockEvent is the summary broadcast on pos:events:stock.updated.
type StockEvent struct {
	EventType string    `json:"event_type"`
	ProductID string    `json:"product_id"`
	VariantID string    `json:"variant_id,omitempty"`
	Name      string    `json:"name"`
	Previous  int       `json:"previous"`
	Current   int       `json:"current"`
	Timestamp time.Time `json:"timestamp"`
}

type Publisher struct {
	sink   EventSink
	client *redis.Client
}

// NewPublisher builds a publisher. A nil client skips the summary channels.
func NewPublisher(sink EventSink, client *redis.Client) *Publisher {
	return &Publisher{sink: sink, client: client}
}

var _ pos.EventPublisher = (*Publisher)(nil)

func (p *Publisher) PublishOrder(ctx context.Context, order pos.Order, eventType string) error {
	e, err := orderStreamEvent(order, eventType)
	if err != nil {
		return err
	}
	if err := p.sink.Publish(ctx, e); err != nil {
		return err
	}
	if p.client == nil {
		return nil
	}
	return p.publishEvent(ctx, eventType, OrderEvent{
		EventType:      eventType,
		OrderID:        order.ID,
		DocumentNumber: order.DocumentNumber,
		CashierID:      order.CashierID,
		CustomerID:     order.CustomerID,
		Status:         string(order.Status),
		TotalAmount:    order.Total.StringFixed(2),
		Timestamp:      time.Now(),
	})
}

func (p *Publisher) PublishStock(ctx context.Context, change pos.StockChange) error {
	e, err := stockStreamEvent(change)
	if err != nil {
		return err
	}
	if err := p.sink.Publish(ctx, e); err != nil {
		return err
	}
	if p.client == nil {
		return nil
	}
	return p.publishEvent(ctx, pos.EventStockUpdated, StockEvent{
		EventType: pos.EventStockUpdated,
		ProductID: change.ProductID,
		VariantID: change.VariantID,
		Name:      change.Name,
		Previous:  change.Previous,
		Current:   change.Current,
		Timestamp: time.Now(),
	})
}

// publishEvent sends event on pos:events:<eventType> and pos:events:all.
func (p *Publisher) publishEvent(ctx context.Context, eventType string, event interface{}) error {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	channel := fmt.Sprintf("pos:events:%s", eventType)
	if err := p.client.Publish(ctx, channel, eventJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	if err := p.client.Publish(ctx, allEventsChannel, eventJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish to all channel: %w", err)
	}
	return nil
}

func orderStreamEvent(order pos.Order, eventType string) (stream.Event, error) {
	typ := stream.Update
	if eventType == pos.EventOrderCreated {
		typ = stream.Insert
	}
	row, err := stream.NewRow(map[string]interface{}{
		"id":              order.ID,
		"document_number": order.DocumentNumber,
		"status":          string(order.Status),
		"total":           order.Total.StringFixed(2),
		"customer_id":     order.CustomerID,
		"cashier_id":      order.CashierID,
		"created_at":      order.CreatedAt.Format(time.RFC3339),
	})
	if err != nil {
		return stream.Event{}, fmt.Errorf("failed to build order row: %w", err)
	}
	return stream.Event{Topic: stream.TopicOrders, Type: typ, Row: row}, nil
}

func stockStreamEvent(change pos.StockChange) (stream.Event, error) {
	row, err := stream.NewRow(map[string]interface{}{
		"id":         change.ProductID,
		"variant_id": change.VariantID,
		"name":       change.Name,
		"stock":      change.Current,
	})
	if err != nil {
		return stream.Event{}, fmt.Errorf("failed to build product row: %w", err)
	}
	old, err := stream.NewRow(map[string]interface{}{"stock": change.Previous})
	if err != nil {
		return stream.Event{}, fmt.Errorf("failed to build product row: %w", err)
	}
	return stream.Event{Topic: stream.TopicProducts, Type: stream.Update, Row: row, Old: old}, nil
}
