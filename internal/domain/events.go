package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

const (
	// AggregateOrder - тип агрегата для outbox-событий заказа.
	AggregateOrder = "order"
	// EventOrderCreated публикуется после коммита нового заказа.
	EventOrderCreated = "order.created"
)

// OrderCreatedItem - позиция в событии order.created.
type OrderCreatedItem struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
	UnitPrice int64 `json:"unitPrice"`
	Amount    int64 `json:"amount"`
}

// OrderCreatedEvent - полезная нагрузка события order.created.
type OrderCreatedEvent struct {
	OrderID     int64              `json:"orderId"`
	UserID      int64              `json:"userId"`
	TotalAmount int64              `json:"totalAmount"`
	Items       []OrderCreatedItem `json:"items"`
	CreatedDate time.Time          `json:"createdDate"`
}

// NewOrderCreatedMessage собирает outbox-сообщение для уже сохранённого заказа.
func NewOrderCreatedMessage(order Order) (OutboxMessage, error) {
	event := OrderCreatedEvent{
		OrderID:     order.OrderID,
		UserID:      order.UserID,
		TotalAmount: order.TotalAmount,
		Items:       make([]OrderCreatedItem, 0, len(order.Items)),
		CreatedDate: order.CreatedDate,
	}
	for _, item := range order.Items {
		event.Items = append(event.Items, OrderCreatedItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Amount:    item.Amount,
		})
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal order.created payload: %w", err)
	}

	return OutboxMessage{
		AggregateType: AggregateOrder,
		AggregateID:   strconv.FormatInt(order.OrderID, 10),
		EventType:     EventOrderCreated,
		Payload:       payload,
		CreatedAt:     order.CreatedDate,
	}, nil
}
