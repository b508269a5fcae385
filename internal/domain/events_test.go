package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/vladislavdragonenkov/mall/internal/domain"
)

func TestNewOrderCreatedMessage(t *testing.T) {
	order := makeOrder()
	order.OrderID = 42

	msg, err := domain.NewOrderCreatedMessage(order)
	if err != nil {
		t.Fatalf("build message: %v", err)
	}
	if msg.AggregateType != domain.AggregateOrder || msg.AggregateID != "42" || msg.EventType != domain.EventOrderCreated {
		t.Fatalf("unexpected envelope: %+v", msg)
	}

	var event domain.OrderCreatedEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if event.OrderID != 42 || event.TotalAmount != 750 || len(event.Items) != 2 {
		t.Fatalf("unexpected payload: %+v", event)
	}
	if event.Items[1].ProductID != 2 || event.Items[1].Amount != 250 {
		t.Fatalf("items must keep cart order: %+v", event.Items)
	}
}
