package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/NurluhanKakpanAitu/order-manager/internal/storage"
	"github.com/NurluhanKakpanAitu/order-manager/pkg/types"
)

// Event types, also used as Kafka topics
const (
	EventOrderCreated    = "order.created"
	EventOrderPaid       = "order.paid"
	EventOrderCancelled  = "order.cancelled"
	EventPaymentRefunded = "payment.refunded"
)

// OrderEvent is the payload of every order lifecycle event
type OrderEvent struct {
	EventID   string      `json:"event_id"`
	Type      string      `json:"type"`
	OrderID   string      `json:"order_id"`
	Status    string      `json:"status"`
	Total     string      `json:"total"`
	Items     []EventItem `json:"items"`
	CreatedAt time.Time   `json:"created_at"`
}

// EventItem is an order line inside an OrderEvent
type EventItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price"`
}

// NewOrderEvent snapshots the order into an outbox row keyed by order id
func NewOrderEvent(eventType string, order *types.Order) (*storage.OutboxEvent, error) {
	items := order.Items()
	payload := OrderEvent{
		EventID:   uuid.NewString(),
		Type:      eventType,
		OrderID:   order.ID,
		Status:    string(order.Status()),
		Total:     order.Total().String(),
		Items:     make([]EventItem, 0, len(items)),
		CreatedAt: time.Now().UTC(),
	}
	for _, item := range items {
		payload.Items = append(payload.Items, EventItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price.String(),
		})
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	return &storage.OutboxEvent{
		EventID: payload.EventID,
		Topic:   eventType,
		Key:     order.ID,
		Payload: data,
	}, nil
}

// DecodeOrderEvent parses an outbox payload
func DecodeOrderEvent(payload []byte) (*OrderEvent, error) {
	var e OrderEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("decode order event: %w", err)
	}
	return &e, nil
}
