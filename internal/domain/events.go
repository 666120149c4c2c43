package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	AggregateTypeOrder = "order"

	EventOrderCreated       = "order.created"
	EventItemsStatusChanged = "order.items_status_changed"
)

// OrderCreatedEvent описывает payload события о новом заказе.
type OrderCreatedEvent struct {
	OrderID     string             `json:"order_id"`
	OrderNumber string             `json:"order_number"`
	BuyerID     string             `json:"buyer_id"`
	Currency    string             `json:"currency"`
	TotalMinor  int64              `json:"total_minor"`
	Items       []OrderedItemEvent `json:"items"`
	CreatedAt   time.Time          `json:"created_at"`
}

// OrderedItemEvent описывает позицию внутри OrderCreatedEvent.
type OrderedItemEvent struct {
	ItemID    string `json:"item_id"`
	ProductID string `json:"product_id"`
	SellerID  string `json:"seller_id"`
	Quantity  int64  `json:"quantity"`
}

// ItemsStatusChangedEvent описывает payload пакетной смены статуса позиций одного заказа.
type ItemsStatusChangedEvent struct {
	OrderID   string     `json:"order_id"`
	ItemIDs   []string   `json:"item_ids"`
	Status    ItemStatus `json:"status"`
	Restocked bool       `json:"restocked"`
	ChangedAt time.Time  `json:"changed_at"`
}

// NewOrderCreatedMessage строит outbox-сообщение для созданного заказа.
func NewOrderCreatedMessage(order Order) (OutboxMessage, error) {
	event := OrderCreatedEvent{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		BuyerID:     order.BuyerID,
		Currency:    order.Currency,
		TotalMinor:  order.TotalMinor,
		Items:       make([]OrderedItemEvent, 0, len(order.Items)),
		CreatedAt:   order.CreatedAt,
	}
	for _, item := range order.Items {
		event.Items = append(event.Items, OrderedItemEvent{
			ItemID:    item.ID,
			ProductID: item.ProductID,
			SellerID:  item.SellerID,
			Quantity:  item.Quantity,
		})
	}
	return newOrderMessage(order.ID, EventOrderCreated, event)
}

// NewItemsStatusChangedMessage строит outbox-сообщение о смене статуса позиций.
func NewItemsStatusChangedMessage(event ItemsStatusChangedEvent) (OutboxMessage, error) {
	return newOrderMessage(event.OrderID, EventItemsStatusChanged, event)
}

func newOrderMessage(orderID, eventType string, payload any) (OutboxMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return OutboxMessage{
		AggregateType: AggregateTypeOrder,
		AggregateID:   orderID,
		EventType:     eventType,
		Payload:       body,
	}, nil
}
