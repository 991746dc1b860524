package kafka

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/vladislavdragonenkov/ordercrud/internal/domain"
)

// EventType определяет тип интеграционного события.
type EventType string

const (
	EventTypeOrderCreated EventType = "order.created"
	EventTypeOrderUpdated EventType = "order.updated"
	EventTypeOrderDeleted EventType = "order.deleted"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "ordercrud.order.events"
	TopicDeadLetterQueue = "ordercrud.order.events.dlq"
)

// Kafka headers, которые выставляются при публикации из outbox.
const (
	HeaderEventType     = "x-event-type"
	HeaderOutboxID      = "x-outbox-id"
	HeaderAggregateType = "x-aggregate-type"
)

// AggregateTypeOrder используется как aggregate_type в outbox.
const AggregateTypeOrder = "order"

// OrderEvent представляет событие заказа.
type OrderEvent struct {
	EventType   EventType `json:"event_type"`
	OrderID     int64     `json:"order_id"`
	CustomerID  string    `json:"customer_id,omitempty"`
	Status      string    `json:"status,omitempty"`
	TotalAmount string    `json:"total_amount,omitempty"`
	ItemCount   int       `json:"item_count,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewOrderEvent создает событие по текущему состоянию заказа.
func NewOrderEvent(eventType EventType, order domain.Order, at time.Time) OrderEvent {
	return OrderEvent{
		EventType:   eventType,
		OrderID:     order.ID,
		CustomerID:  order.CustomerID,
		Status:      string(order.Status),
		TotalAmount: order.TotalAmount.StringFixed(2),
		ItemCount:   len(order.Items),
		Timestamp:   at.UTC(),
	}
}

// NewOrderDeletedEvent создает событие удаления: от заказа остается только id.
func NewOrderDeletedEvent(orderID int64, at time.Time) OrderEvent {
	return OrderEvent{
		EventType: EventTypeOrderDeleted,
		OrderID:   orderID,
		Timestamp: at.UTC(),
	}
}

// OutboxMessage упаковывает событие в сообщение transactional outbox.
func (e OrderEvent) OutboxMessage() (domain.OutboxMessage, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("marshal order event: %w", err)
	}
	return domain.OutboxMessage{
		AggregateType: AggregateTypeOrder,
		AggregateID:   strconv.FormatInt(e.OrderID, 10),
		EventType:     string(e.EventType),
		Payload:       payload,
	}, nil
}
